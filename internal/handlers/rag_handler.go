package handlers

import (
	"bytes"
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/chantier/internal/common"
	"github.com/ternarybob/chantier/internal/interfaces"
	"github.com/ternarybob/chantier/internal/models"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
)

const (
	defaultQueryTimeout  = 2 * time.Minute
	defaultHealthTimeout = 5 * time.Second
)

// Index actions accepted by POST /rag/index
const (
	ActionIndexAll  = "index-all"
	ActionIndexType = "index-type"
	ActionClear     = "clear"
	ActionStats     = "stats"
)

type conversationMessageRequest struct {
	Type    string `json:"type" validate:"required,oneof=user assistant"`
	Content string `json:"content" validate:"required"`
}

type appendMessageRequest struct {
	Message *conversationMessageRequest `json:"message" validate:"required"`
}

type queryContextRequest struct {
	ScopeID    string `json:"scope_id"`
	EntityType string `json:"entity_type"`
	Limit      int    `json:"limit" validate:"min=0,max=50"`
}

type queryRequest struct {
	Question string               `json:"question" validate:"required"`
	Context  *queryContextRequest `json:"context"`
}

type indexRequest struct {
	Action     string `json:"action" validate:"required,oneof=index-all index-type clear stats"`
	EntityType string `json:"entity_type" validate:"required_if=Action index-type"`
	Async      bool   `json:"async"`
}

// QueryResponse is a RAGResponse with an optional HTML rendering of the answer
type QueryResponse struct {
	*models.RAGResponse
	AnswerHTML string `json:"answer_html,omitempty"`
}

// StoreStatus describes the vector store content
type StoreStatus struct {
	Stats     map[models.EntityType]int `json:"stats"`
	Total     int                       `json:"total"`
	Dimension int                       `json:"dimension"`
	IsIndexed bool                      `json:"is_indexed"`
}

// RAGHandler serves the /rag endpoints
type RAGHandler struct {
	indexer      interfaces.Indexer
	engine       interfaces.QueryEngine
	store        interfaces.VectorStore
	conversation interfaces.ConversationService
	backend      interfaces.EmbeddingBackend
	validate     *validator.Validate
	markdown     goldmark.Markdown
	queryTimeout time.Duration
	logger       arbor.ILogger
}

// NewRAGHandler creates a new RAGHandler
func NewRAGHandler(
	indexer interfaces.Indexer,
	engine interfaces.QueryEngine,
	store interfaces.VectorStore,
	conversation interfaces.ConversationService,
	backend interfaces.EmbeddingBackend,
	logger arbor.ILogger,
) *RAGHandler {
	return &RAGHandler{
		indexer:      indexer,
		engine:       engine,
		store:        store,
		conversation: conversation,
		backend:      backend,
		validate:     NewValidator(),
		markdown:     goldmark.New(goldmark.WithExtensions(extension.Table, extension.Strikethrough, extension.Linkify)),
		queryTimeout: defaultQueryTimeout,
		logger:       logger,
	}
}

// ConversationHandler handles GET, POST and DELETE /rag/conversation
func (h *RAGHandler) ConversationHandler(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.loadConversation(w, r)
	case http.MethodPost:
		h.appendMessage(w, r)
	case http.MethodDelete:
		h.clearConversation(w, r)
	default:
		WriteError(w, http.StatusMethodNotAllowed, interfaces.KindInvalidInput, "Method not allowed")
	}
}

func (h *RAGHandler) loadConversation(w http.ResponseWriter, r *http.Request) {
	userID := UserID(r)
	messages, err := h.conversation.Load(r.Context(), userID)
	if err != nil {
		h.logger.Error().Err(err).Str("user_id", userID).Msg("Failed to load conversation")
		WriteServiceError(w, err)
		return
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"user_id":  userID,
		"messages": messages,
	})
}

func (h *RAGHandler) appendMessage(w http.ResponseWriter, r *http.Request) {
	var req appendMessageRequest
	if !DecodeAndValidate(w, r, h.validate, &req) {
		return
	}

	userID := UserID(r)
	stored, err := h.conversation.Append(r.Context(), userID, models.Message{
		Type:    models.MessageType(req.Message.Type),
		Content: req.Message.Content,
	})
	if err != nil {
		if interfaces.KindOf(err) != interfaces.KindInvalidInput {
			h.logger.Error().Err(err).Str("user_id", userID).Msg("Failed to append message")
		}
		WriteServiceError(w, err)
		return
	}

	WriteJSON(w, http.StatusCreated, map[string]interface{}{
		"status":  "success",
		"message": stored,
	})
}

func (h *RAGHandler) clearConversation(w http.ResponseWriter, r *http.Request) {
	userID := UserID(r)
	if err := h.conversation.Clear(r.Context(), userID); err != nil {
		h.logger.Error().Err(err).Str("user_id", userID).Msg("Failed to clear conversation")
		WriteServiceError(w, err)
		return
	}
	WriteSuccess(w, "Conversation cleared")
}

// IndexHandler handles POST /rag/index
func (h *RAGHandler) IndexHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}

	var req indexRequest
	if !DecodeAndValidate(w, r, h.validate, &req) {
		return
	}

	ctx := r.Context()
	response := map[string]interface{}{
		"status": "success",
		"action": req.Action,
	}

	switch req.Action {
	case ActionIndexAll, ActionIndexType:
		run := h.indexer.IndexAll
		if req.Action == ActionIndexType {
			entityType, err := models.ParseEntityType(req.EntityType)
			if err != nil {
				WriteError(w, http.StatusBadRequest, interfaces.KindInvalidInput, err.Error())
				return
			}
			run = func(ctx context.Context) (*models.IndexReport, error) {
				return h.indexer.IndexScoped(ctx, entityType)
			}
		}

		if req.Async {
			common.SafeGo(h.logger, "rag-index", func() {
				if _, err := run(context.Background()); err != nil {
					h.logger.Error().Err(err).Str("action", req.Action).Msg("Background indexing failed")
				}
			})
			WriteStarted(w, "Indexing started")
			return
		}

		report, err := run(ctx)
		if err != nil {
			h.logger.Error().Err(err).Str("action", req.Action).Msg("Indexing failed")
			WriteServiceError(w, err)
			return
		}
		response["report"] = report

	case ActionClear:
		if err := h.store.Clear(ctx); err != nil {
			h.logger.Error().Err(err).Msg("Failed to clear vector store")
			WriteServiceError(w, err)
			return
		}
		h.logger.Info().Msg("Vector store cleared")
	}

	response["store"] = h.storeStatus(ctx)
	WriteJSON(w, http.StatusOK, response)
}

// StatusHandler handles GET /rag/status
func (h *RAGHandler) StatusHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	ctx := r.Context()
	status := h.storeStatus(ctx)
	response := map[string]interface{}{
		"stats":       status.Stats,
		"total":       status.Total,
		"dimension":   status.Dimension,
		"is_indexed":  status.IsIndexed,
		"is_indexing": h.indexer.IsRunning(),
		"last_report": h.indexer.LastReport(),
	}

	if convStats, err := h.conversation.Stats(ctx); err != nil {
		h.logger.Warn().Err(err).Msg("Failed to compute conversation stats")
	} else {
		response["conversations"] = convStats
	}

	WriteJSON(w, http.StatusOK, response)
}

// HealthHandler handles GET /rag/health
func (h *RAGHandler) HealthHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), defaultHealthTimeout)
	defer cancel()

	healthy := h.backend.Health(ctx)
	backendHealth := map[string]interface{}{
		"healthy":     healthy,
		"embed_model": h.backend.EmbedModel(),
		"models":      []string{},
	}
	if healthy {
		names, err := h.backend.ListModels(ctx)
		if err != nil {
			backendHealth["error"] = err.Error()
		} else {
			backendHealth["models"] = names
		}
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"backend": backendHealth,
		"vector_store": map[string]interface{}{
			"healthy":   true,
			"chunks":    h.store.Count(),
			"dimension": h.store.Dimension(),
		},
	})
}

// QueryHandler handles POST /rag/query
func (h *RAGHandler) QueryHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}

	var req queryRequest
	if !DecodeAndValidate(w, r, h.validate, &req) {
		return
	}

	query := &models.RAGQuery{Question: req.Question, UserID: UserID(r)}
	if req.Context != nil {
		qc := &models.QueryContext{ScopeID: strings.TrimSpace(req.Context.ScopeID), Limit: req.Context.Limit}
		if req.Context.EntityType != "" {
			entityType, err := models.ParseEntityType(req.Context.EntityType)
			if err != nil {
				WriteError(w, http.StatusBadRequest, interfaces.KindInvalidInput, err.Error())
				return
			}
			qc.EntityType = entityType
		}
		query.Context = qc
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.queryTimeout)
	defer cancel()

	resp, err := h.engine.Answer(ctx, query)
	if err != nil {
		h.logger.Error().Err(err).Str("user_id", query.UserID).Msg("RAG query failed")
		WriteServiceError(w, err)
		return
	}

	out := QueryResponse{RAGResponse: resp}
	if r.URL.Query().Get("format") == "html" {
		var buf bytes.Buffer
		if err := h.markdown.Convert([]byte(resp.Answer), &buf); err != nil {
			h.logger.Warn().Err(err).Msg("Failed to render answer as HTML")
		} else {
			out.AnswerHTML = buf.String()
		}
	}

	WriteJSON(w, http.StatusOK, out)
}

func (h *RAGHandler) storeStatus(ctx context.Context) StoreStatus {
	total := h.store.Count()
	return StoreStatus{
		Stats:     h.store.Stats(ctx),
		Total:     total,
		Dimension: h.store.Dimension(),
		IsIndexed: total > 0,
	}
}
