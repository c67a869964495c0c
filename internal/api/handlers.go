package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/david-nelson-elske/choice-sherpa-sub005/internal/conversation"
	"github.com/david-nelson-elske/choice-sherpa-sub005/internal/step"
)

type conversationView struct {
	ID                string          `json:"id"`
	StepID            string          `json:"step_id"`
	StepType          string          `json:"step_type"`
	State             string          `json:"state"`
	Phase             string          `json:"phase"`
	PendingExtraction json.RawMessage `json:"pending_extraction,omitempty"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

type messageView struct {
	ID            string    `json:"id"`
	Role          string    `json:"role"`
	Content       string    `json:"content"`
	TokenEstimate int       `json:"token_estimate,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

type turnView struct {
	MessageID string    `json:"message_id"`
	Content   string    `json:"content"`
	Phase     string    `json:"phase"`
	Usage     usageView `json:"usage"`
}

type usageView struct {
	InputTokens   int     `json:"input_tokens"`
	OutputTokens  int     `json:"output_tokens"`
	EstimatedCost float64 `json:"estimated_cost"`
}

func viewConversation(conv *conversation.Conversation) conversationView {
	return conversationView{
		ID:                conv.ID.String(),
		StepID:            conv.StepID.String(),
		StepType:          string(conv.StepType),
		State:             string(conv.State),
		Phase:             string(conv.Phase),
		PendingExtraction: conv.PendingExtraction,
		CreatedAt:         conv.CreatedAt,
		UpdatedAt:         conv.UpdatedAt,
	}
}

func viewMessage(msg conversation.Message) messageView {
	return messageView{
		ID:            msg.ID.String(),
		Role:          string(msg.Role),
		Content:       msg.Content,
		TokenEstimate: msg.TokenEstimate,
		CreatedAt:     msg.CreatedAt,
	}
}

func (s *Server) createConversation(w http.ResponseWriter, r *http.Request) {
	stepID, err := pathUUID(r, "stepID")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("validation", err.Error()))
		return
	}

	var req struct {
		StepType string `json:"step_type"`
		OwnerID  string `json:"owner_id"`
		Opening  string `json:"opening_message"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("validation", "malformed request body"))
		return
	}
	stepType, err := step.Parse(req.StepType)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("validation", err.Error()))
		return
	}
	ownerID, err := uuid.Parse(req.OwnerID)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("validation", "invalid owner_id"))
		return
	}
	if err := s.auth.Authorize(r, ownerID); err != nil {
		writeJSON(w, http.StatusForbidden, errorBody("forbidden", err.Error()))
		return
	}

	conv, err := s.engine.StartConversation(r.Context(), stepID, stepType, ownerID, req.Opening)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, viewConversation(conv))
}

func (s *Server) getConversationByStep(w http.ResponseWriter, r *http.Request) {
	stepID, err := pathUUID(r, "stepID")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("validation", err.Error()))
		return
	}
	conv, err := s.engine.ConversationByStep(r.Context(), stepID)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := s.auth.Authorize(r, conv.OwnerID); err != nil {
		writeJSON(w, http.StatusForbidden, errorBody("forbidden", err.Error()))
		return
	}
	writeJSON(w, http.StatusOK, viewConversation(conv))
}

func (s *Server) listMessages(w http.ResponseWriter, r *http.Request) {
	conv, ok := s.loadAuthorized(w, r)
	if !ok {
		return
	}

	page := queryInt(r, "page", 1)
	if page < 1 {
		page = 1
	}
	size := queryInt(r, "page_size", defaultPageSize)
	if size < 1 {
		size = defaultPageSize
	}
	if size > maxPageSize {
		size = maxPageSize
	}

	msgs, total, err := s.engine.Messages(r.Context(), conv.ID, size, (page-1)*size)
	if err != nil {
		writeError(w, err)
		return
	}

	views := make([]messageView, 0, len(msgs))
	for _, m := range msgs {
		views = append(views, viewMessage(m))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"messages":  views,
		"page":      page,
		"page_size": size,
		"total":     total,
	})
}

func (s *Server) sendMessage(w http.ResponseWriter, r *http.Request) {
	conv, ok := s.loadAuthorized(w, r)
	if !ok {
		return
	}

	var req struct {
		Content string `json:"content"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("validation", "malformed request body"))
		return
	}

	result, err := s.engine.StartTurn(r.Context(), conv.ID, req.Content)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, turnView{
		MessageID: result.MessageID.String(),
		Content:   result.Content,
		Phase:     string(result.Phase),
		Usage: usageView{
			InputTokens:   result.Usage.InputTokens,
			OutputTokens:  result.Usage.OutputTokens,
			EstimatedCost: result.Usage.EstimatedCost(),
		},
	})
}

func (s *Server) regenerate(w http.ResponseWriter, r *http.Request) {
	conv, ok := s.loadAuthorized(w, r)
	if !ok {
		return
	}
	result, err := s.engine.Regenerate(r.Context(), conv.ID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, turnView{
		MessageID: result.MessageID.String(),
		Content:   result.Content,
		Phase:     string(result.Phase),
		Usage: usageView{
			InputTokens:   result.Usage.InputTokens,
			OutputTokens:  result.Usage.OutputTokens,
			EstimatedCost: result.Usage.EstimatedCost(),
		},
	})
}

func (s *Server) cancelTurn(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.loadAuthorized(w, r); !ok {
		return
	}

	var req struct {
		MessageID string `json:"message_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("validation", "malformed request body"))
		return
	}
	messageID, err := uuid.Parse(req.MessageID)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("validation", "invalid message_id"))
		return
	}

	// Idempotent: cancelling a finished or unknown message is still a 200.
	s.engine.Cancel(messageID)
	writeJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
}

func (s *Server) reviseExtraction(w http.ResponseWriter, r *http.Request) {
	conv, ok := s.loadAuthorized(w, r)
	if !ok {
		return
	}

	var req struct {
		Payload json.RawMessage `json:"payload"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("validation", "malformed request body"))
		return
	}

	updated, err := s.engine.ReviseExtraction(r.Context(), conv.ID, req.Payload)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, viewConversation(updated))
}

func (s *Server) confirmExtraction(w http.ResponseWriter, r *http.Request) {
	conv, ok := s.loadAuthorized(w, r)
	if !ok {
		return
	}
	updated, err := s.engine.ConfirmExtraction(r.Context(), conv.ID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, viewConversation(updated))
}

func (s *Server) reopen(w http.ResponseWriter, r *http.Request) {
	conv, ok := s.loadAuthorized(w, r)
	if !ok {
		return
	}
	updated, err := s.engine.Reopen(r.Context(), conv.ID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, viewConversation(updated))
}

// loadAuthorized resolves the {id} conversation and runs the ownership
// check, writing the error response itself on failure.
func (s *Server) loadAuthorized(w http.ResponseWriter, r *http.Request) (*conversation.Conversation, bool) {
	convID, err := pathUUID(r, "id")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("validation", err.Error()))
		return nil, false
	}
	conv, err := s.engine.Conversation(r.Context(), convID)
	if err != nil {
		writeError(w, err)
		return nil, false
	}
	if err := s.auth.Authorize(r, conv.OwnerID); err != nil {
		writeJSON(w, http.StatusForbidden, errorBody("forbidden", err.Error()))
		return nil, false
	}
	return conv, true
}

func queryInt(r *http.Request, name string, fallback int) int {
	if v := r.URL.Query().Get(name); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}
