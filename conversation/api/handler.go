package api

import (
	"net/http"
	"strconv"

	"actionit/backend/conversation/models"
	"actionit/backend/conversation/service"
	apperrors "actionit/backend/pkg/errors"

	"github.com/gin-gonic/gin"
)

type MessageHandler struct {
	service *service.MessageService
}

func NewMessageHandler(service *service.MessageService) *MessageHandler {
	return &MessageHandler{service: service}
}

type createMessageRequest struct {
	ID      string `json:"id"`
	Content string `json:"content"`
	Sender  string `json:"sender"`
}

type listMessagesResponse struct {
	Messages []models.Message `json:"messages"`
	Count    int              `json:"count"`
}

func (h *MessageHandler) CreateMessage(c *gin.Context) {
	var req createMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(apperrors.NewBadRequestError(apperrors.CodeValidation, "Invalid request body").WithDetails(err.Error()))
		return
	}

	message, err := h.service.CreateMessage(c.Request.Context(), service.CreateMessageInput{
		ConversationID: c.Param("id"),
		Content:        req.Content,
		Sender:         models.Sender(req.Sender),
		MessageID:      req.ID,
	})
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusCreated, message)
}

func (h *MessageHandler) ListMessages(c *gin.Context) {
	conversationID := c.Param("id")

	var (
		messages []models.Message
		err      error
	)
	if c.Query("limit") != "" || c.Query("offset") != "" {
		limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
		offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
		messages, err = h.service.ListMessagesPage(c.Request.Context(), conversationID, limit, offset)
	} else {
		messages, err = h.service.ListMessages(c.Request.Context(), conversationID)
	}
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, listMessagesResponse{Messages: messages, Count: len(messages)})
}

func (h *MessageHandler) DeleteConversationMessages(c *gin.Context) {
	deleted, err := h.service.DeleteConversationMessages(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.Error(err)
		return
	}
	c.Header("X-Deleted-Count", strconv.FormatInt(deleted, 10))
	c.Status(http.StatusNoContent)
}

func (h *MessageHandler) GetMessage(c *gin.Context) {
	message, err := h.service.GetMessage(c.Request.Context(), c.Param("messageId"))
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, message)
}
