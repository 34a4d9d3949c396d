package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"social-chat/internal/chat"
	"social-chat/internal/middleware"
	"social-chat/internal/models"
	"social-chat/internal/telemetry"
)

// ConversationService is the read side of the chat service.
type ConversationService interface {
	OpenDirect(ctx context.Context, userID, receiverID string) (models.ConversationView, error)
	Conversation(ctx context.Context, userID, conversationID string) (models.ConversationView, error)
	Conversations(ctx context.Context, userID string, page chat.Page) ([]models.ConversationView, error)
	Messages(ctx context.Context, userID, conversationID string, page chat.Page) ([]models.FormattedMessage, error)
}

// ConversationHandler serves the conversation endpoints.
type ConversationHandler struct {
	service ConversationService
	audit   *telemetry.AuditEmitter
	logger  *zap.Logger
}

// NewConversationHandler builds a ConversationHandler.
func NewConversationHandler(service ConversationService, audit *telemetry.AuditEmitter, logger *zap.Logger) *ConversationHandler {
	return &ConversationHandler{service: service, audit: audit, logger: logger}
}

// Register mounts the routes on group.
func (h *ConversationHandler) Register(group gin.IRoutes) {
	group.POST("/conversations", h.OpenDirect)
	group.GET("/conversations", h.ListConversations)
	group.GET("/conversations/:conversation_id", h.GetConversation)
	group.GET("/conversations/:conversation_id/messages", h.ListMessages)
}

// OpenDirect finds or creates the direct conversation with receiver_id.
func (h *ConversationHandler) OpenDirect(c *gin.Context) {
	var req struct {
		ReceiverID string `json:"receiver_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	view, err := h.service.OpenDirect(c.Request.Context(), c.GetString(middleware.UserIDKey), req.ReceiverID)
	if err != nil {
		h.fail(c, err, "could not open conversation")
		return
	}
	c.JSON(http.StatusOK, gin.H{"conversation": view})
}

// ListConversations returns the caller's active conversations, newest first.
func (h *ConversationHandler) ListConversations(c *gin.Context) {
	page, ok := pageFromQuery(c)
	if !ok {
		return
	}

	views, err := h.service.Conversations(c.Request.Context(), c.GetString(middleware.UserIDKey), page)
	if err != nil {
		h.fail(c, err, "failed to load conversations")
		return
	}
	c.JSON(http.StatusOK, gin.H{"conversations": views, "page": page.Page})
}

// GetConversation returns the caller's view of one conversation.
func (h *ConversationHandler) GetConversation(c *gin.Context) {
	view, err := h.service.Conversation(c.Request.Context(), c.GetString(middleware.UserIDKey), c.Param("conversation_id"))
	if err != nil {
		h.fail(c, err, "failed to load conversation")
		return
	}
	c.JSON(http.StatusOK, gin.H{"conversation": view})
}

// ListMessages returns a page of messages in chronological order.
func (h *ConversationHandler) ListMessages(c *gin.Context) {
	page, ok := pageFromQuery(c)
	if !ok {
		return
	}

	msgs, err := h.service.Messages(c.Request.Context(), c.GetString(middleware.UserIDKey), c.Param("conversation_id"), page)
	if err != nil {
		h.fail(c, err, "failed to load messages")
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": msgs, "page": page.Page})
}

func (h *ConversationHandler) fail(c *gin.Context, err error, fallback string) {
	switch {
	case errors.Is(err, chat.ErrValidation):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, chat.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, chat.ErrForbidden):
		h.audit.Emit(c.Request.Context(), telemetry.LevelWarn, "conversation access denied", requestIDFromContext(c), userIDFromContext(c))
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
	default:
		h.logger.Error(fallback, zap.String("path", c.FullPath()), zap.Error(err))
		h.audit.Emit(c.Request.Context(), telemetry.LevelError, fallback, requestIDFromContext(c), userIDFromContext(c))
		c.JSON(http.StatusInternalServerError, gin.H{"error": fallback})
	}
}

func pageFromQuery(c *gin.Context) (chat.Page, bool) {
	var page chat.Page
	for name, dst := range map[string]*int{"page": &page.Page, "limit": &page.Limit} {
		raw := c.Query(name)
		if raw == "" {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + name})
			return chat.Page{}, false
		}
		*dst = n
	}
	if page.Page == 0 {
		page.Page = 1
	}
	return page, true
}
