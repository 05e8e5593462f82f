package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/therealutkarshpriyadarshi/stickerforge/pkg/apperr"
)

// ErrorBody is the JSON shape of every error response
type ErrorBody struct {
	Error   string         `json:"error"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// NewErrorBody converts err into its response body. Unclassified errors are
// reported without their text.
func NewErrorBody(err error) ErrorBody {
	appErr, ok := apperr.As(err)
	if !ok {
		return ErrorBody{Error: apperr.CodeInternal, Message: "internal server error"}
	}
	return ErrorBody{Error: appErr.Code, Message: appErr.Message, Details: appErr.Details}
}

// AbortWithError writes the error response and stops the handler chain
func AbortWithError(c *gin.Context, err error) {
	_ = c.Error(err)
	c.AbortWithStatusJSON(apperr.HTTPStatus(err), NewErrorBody(err))
}
