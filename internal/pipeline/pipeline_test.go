package pipeline

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCodeObjectKey(t *testing.T) {
	conv := uuid.MustParse("0b7e5f7e-4a59-4c69-9d1b-6f6d1f6c2a10")
	assert.Equal(t, "code/42_0b7e5f7e-4a59-4c69-9d1b-6f6d1f6c2a10", CodeObjectKey(42, conv))
}

func TestStripCodeFence(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"python fence", "```python\nprint(1)\n```", "print(1)\n"},
		{"bare fence", "```\nprint(1)\n```\n", "print(1)\n"},
		{"no fence", "print(1)\n", "print(1)\n"},
		{"opening only", "```python\nprint(1)\n", "print(1)\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, StripCodeFence(tt.in))
		})
	}
}

func TestRetryImmediately(t *testing.T) {
	ctx := context.Background()

	t.Run("stops after three attempts", func(t *testing.T) {
		calls := 0
		err := retryImmediately(ctx, func(context.Context) error {
			calls++
			return retry.RetryableError(errBoom)
		})
		require.ErrorIs(t, err, errBoom)
		assert.Equal(t, 3, calls)
	})

	t.Run("non retryable returns at once", func(t *testing.T) {
		calls := 0
		sentinel := errors.New("permanent")
		err := retryImmediately(ctx, func(context.Context) error {
			calls++
			return sentinel
		})
		require.ErrorIs(t, err, sentinel)
		assert.Equal(t, 1, calls)
	})

	t.Run("succeeds on second attempt", func(t *testing.T) {
		calls := 0
		err := retryImmediately(ctx, func(context.Context) error {
			calls++
			if calls < 2 {
				return retry.RetryableError(errBoom)
			}
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, 2, calls)
	})
}
