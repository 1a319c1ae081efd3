package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	mw "github.com/kiranshivaraju/vdogen/internal/api/middleware"
	"github.com/kiranshivaraju/vdogen/internal/api/response"
	"github.com/kiranshivaraju/vdogen/internal/pipeline"
	"github.com/kiranshivaraju/vdogen/pkg/models"
)

// newConversation is the conversationId clients send to start a conversation.
const newConversation = "new"

// Submitter defines the interface the generate handler depends on.
type Submitter interface {
	Submit(ctx context.Context, sub pipeline.Submission) (*models.Video, error)
}

type generateRequest struct {
	Prompt         string             `json:"prompt"         validate:"required"`
	ConversationID string             `json:"conversationId"`
	Specs          *models.VideoSpecs `json:"specs"          validate:"required"`
}

// newValidator reports fields by their JSON names.
func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// validationDetails maps each offending field path to the rule it broke.
func validationDetails(err error) map[string]string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return nil
	}
	details := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		_, path, _ := strings.Cut(fe.Namespace(), ".")
		rule := fe.Tag()
		if fe.Param() != "" {
			rule += "=" + fe.Param()
		}
		details[path] = rule
	}
	return details
}

// NewGenerateHandler returns an http.HandlerFunc for POST /gen.
func NewGenerateHandler(svc Submitter) http.HandlerFunc {
	validate := newValidator()

	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := mw.GetUserID(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing user", nil)
			return
		}

		var req generateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
			return
		}
		req.Prompt = strings.TrimSpace(req.Prompt)

		if err := validate.Struct(req); err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST",
				"Invalid prompt or specs", validationDetails(err))
			return
		}

		sub := pipeline.Submission{Prompt: req.Prompt, Specs: *req.Specs, UserID: userID}
		if c := strings.TrimSpace(req.ConversationID); c != "" && c != newConversation {
			id, err := uuid.Parse(c)
			if err != nil {
				response.Error(w, http.StatusBadRequest, "INVALID_REQUEST",
					"conversationId must be a UUID or \"new\"", nil)
				return
			}
			sub.ConversationID = &id
		}

		video, err := svc.Submit(r.Context(), sub)
		if err != nil {
			switch {
			case errors.Is(err, pipeline.ErrConversationNotFound):
				response.Error(w, http.StatusBadRequest, "CONVERSATION_NOT_FOUND",
					"Conversation does not exist", nil)
			case errors.Is(err, pipeline.ErrEnqueue):
				response.Error(w, http.StatusInternalServerError, "ENQUEUE_FAILED",
					"The video was created but could not be queued", nil)
			default:
				slog.Error("submit failed", "user_id", userID, "error", err)
				response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
					"An unexpected error occurred", nil)
			}
			return
		}

		response.JSON(w, video)
	}
}
