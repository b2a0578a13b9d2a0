package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"pdfrag/internal/app"
	"pdfrag/internal/transport/http/middleware"
	"pdfrag/internal/transport/http/response"
)

type Asker interface {
	Ask(ctx context.Context, input app.AskInput) (*app.AskResult, error)
}

type ChatHandler struct {
	chat Asker
}

type SendRequest struct {
	Query        string `json:"query" binding:"required"`
	AllDocuments bool   `json:"all_documents"`
	TopK         int    `json:"top_k" binding:"min=0,max=20"`
}

func NewChatHandler(chat Asker) *ChatHandler {
	return &ChatHandler{chat: chat}
}

func (h *ChatHandler) Send(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		response.Error(c, http.StatusUnauthorized, response.CodeUnauthorized, "invalid token payload")
		return
	}

	var req SendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid request payload")
		return
	}

	result, err := h.chat.Ask(c.Request.Context(), app.AskInput{
		UserID:       userID,
		Query:        req.Query,
		AllDocuments: req.AllDocuments,
		TopK:         req.TopK,
	})
	if err != nil {
		switch {
		case errors.Is(err, app.ErrInvalidInput):
			response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "query is empty")
		case errors.Is(err, app.ErrQueryTooLong):
			response.Error(c, http.StatusBadRequest, response.CodeQueryTooLong, "query must be at most 1000 characters")
		default:
			response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "send message failed")
		}
		return
	}

	response.OK(c, gin.H{
		"answer":   result.Answer,
		"sources":  result.Sources,
		"degraded": result.Degraded,
	})
}
