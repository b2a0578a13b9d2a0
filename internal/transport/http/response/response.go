package response

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

const (
	CodeOK                 = 0
	CodeBadRequest         = 40000
	CodeUsernameExists     = 40001
	CodeEmailExists        = 40002
	CodeQueryTooLong       = 40003
	CodeUnauthorized       = 40100
	CodeInvalidCredentials = 40101
	CodeDocumentNotFound   = 40401
	CodeFileTooLarge       = 41300
	CodeUnprocessable      = 42200
	CodeInternalServer     = 50000
)

type APIResponse struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

func OK(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, APIResponse{
		Code:    CodeOK,
		Message: "ok",
		Data:    data,
	})
}

func Created(c *gin.Context, message string, data interface{}) {
	c.JSON(http.StatusCreated, APIResponse{
		Code:    CodeOK,
		Message: message,
		Data:    data,
	})
}

func Error(c *gin.Context, httpStatus, code int, message string) {
	c.JSON(httpStatus, APIResponse{
		Code:    code,
		Message: message,
	})
}

// Failure carries a detail string next to the user-facing message.
func Failure(c *gin.Context, httpStatus, code int, message, detail string) {
	c.JSON(httpStatus, APIResponse{
		Code:    code,
		Message: message,
		Error:   detail,
	})
}
