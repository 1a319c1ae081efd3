package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// claimScript re-queues expired leases, then leases the oldest ready message.
// It returns {member, deliveries}, {member, 0} when the message was dead-lettered,
// or nil when nothing is ready.
var claimScript = redis.NewScript(`
local now = tonumber(ARGV[1])
local expired = redis.call('ZRANGEBYSCORE', KEYS[2], '-inf', now)
for _, m in ipairs(expired) do
	redis.call('ZREM', KEYS[2], m)
	redis.call('ZADD', KEYS[1], now, m)
end
local ready = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', now, 'LIMIT', 0, 1)
if #ready == 0 then
	return false
end
local m = ready[1]
redis.call('ZREM', KEYS[1], m)
local n = redis.call('HINCRBY', KEYS[3], m, 1)
if n > tonumber(ARGV[3]) then
	redis.call('HDEL', KEYS[3], m)
	redis.call('RPUSH', KEYS[4], m)
	return {m, 0}
end
redis.call('ZADD', KEYS[2], now + tonumber(ARGV[2]), m)
return {m, n}
`)

// RedisConfig tunes delivery for a RedisQueue.
type RedisConfig struct {
	Lease         time.Duration
	MaxDeliveries int
}

// RedisQueue is a lease-based queue stored in two sorted sets, a hash of delivery
// counts and a dead-letter list. All keys share a hash tag so the Lua script stays on
// one cluster slot.
type RedisQueue struct {
	client *redis.Client
	name   string
	cfg    RedisConfig
	now    func() time.Time
}

// NewRedisQueue returns the queue called name on client.
func NewRedisQueue(client *redis.Client, name string, cfg RedisConfig) *RedisQueue {
	if cfg.Lease <= 0 {
		cfg.Lease = 5 * time.Minute
	}
	if cfg.MaxDeliveries <= 0 {
		cfg.MaxDeliveries = 5
	}
	return &RedisQueue{client: client, name: name, cfg: cfg, now: time.Now}
}

func (q *RedisQueue) Name() string { return q.name }

func (q *RedisQueue) pendingKey() string    { return fmt.Sprintf("queue:{%s}:pending", q.name) }
func (q *RedisQueue) inflightKey() string   { return fmt.Sprintf("queue:{%s}:inflight", q.name) }
func (q *RedisQueue) deliveriesKey() string { return fmt.Sprintf("queue:{%s}:deliveries", q.name) }
func (q *RedisQueue) deadKey() string       { return fmt.Sprintf("queue:{%s}:dead", q.name) }

func (q *RedisQueue) Enqueue(ctx context.Context, payload any, delay time.Duration) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", q.name, err)
	}
	member, err := json.Marshal(envelope{ID: uuid.NewString(), Payload: body})
	if err != nil {
		return fmt.Errorf("marshal %s envelope: %w", q.name, err)
	}

	score := float64(q.now().Add(delay).UnixMilli())
	if err := q.client.ZAdd(ctx, q.pendingKey(), redis.Z{Score: score, Member: string(member)}).Err(); err != nil {
		return fmt.Errorf("enqueue %s: %w", q.name, err)
	}
	return nil
}

// Claim leases the next ready message. It returns ErrEmpty when nothing is ready and
// ErrDeadLettered when the message it popped had run out of deliveries.
func (q *RedisQueue) Claim(ctx context.Context) (*Message, error) {
	keys := []string{q.pendingKey(), q.inflightKey(), q.deliveriesKey(), q.deadKey()}
	res, err := claimScript.Run(ctx, q.client, keys,
		q.now().UnixMilli(), q.cfg.Lease.Milliseconds(), q.cfg.MaxDeliveries).Slice()
	if errors.Is(err, redis.Nil) {
		return nil, ErrEmpty
	}
	if err != nil {
		return nil, fmt.Errorf("claim %s: %w", q.name, err)
	}
	if len(res) != 2 {
		return nil, fmt.Errorf("claim %s: unexpected reply of length %d", q.name, len(res))
	}

	member, _ := res[0].(string)
	deliveries, _ := res[1].(int64)

	var env envelope
	if err := json.Unmarshal([]byte(member), &env); err != nil {
		return nil, fmt.Errorf("decode %s message: %w", q.name, err)
	}
	if deliveries == 0 {
		return nil, fmt.Errorf("%w: %s message %s", ErrDeadLettered, q.name, env.ID)
	}

	return &Message{ID: env.ID, Payload: env.Payload, Delivery: int(deliveries), member: member}, nil
}

// Ack removes a claimed message for good.
func (q *RedisQueue) Ack(ctx context.Context, msg *Message) error {
	pipe := q.client.TxPipeline()
	pipe.ZRem(ctx, q.inflightKey(), msg.member)
	pipe.HDel(ctx, q.deliveriesKey(), msg.member)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("ack %s message %s: %w", q.name, msg.ID, err)
	}
	return nil
}

// Stats reports queue depth.
type Stats struct {
	Pending  int64
	Inflight int64
	Dead     int64
}

func (q *RedisQueue) Stats(ctx context.Context) (Stats, error) {
	pipe := q.client.Pipeline()
	pending := pipe.ZCard(ctx, q.pendingKey())
	inflight := pipe.ZCard(ctx, q.inflightKey())
	dead := pipe.LLen(ctx, q.deadKey())
	if _, err := pipe.Exec(ctx); err != nil {
		return Stats{}, fmt.Errorf("stats %s: %w", q.name, err)
	}
	return Stats{Pending: pending.Val(), Inflight: inflight.Val(), Dead: dead.Val()}, nil
}
