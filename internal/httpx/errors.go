package httpx

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/MikeMC777/tienda-ordenes/internal/order"
)

// ErrorBody is the JSON shape of every error response.
// swagger:model ErrorBody
type ErrorBody struct {
	Error     string `json:"error" example:"validation_error"`
	Message   string `json:"message"`
	RequestID string `json:"request_id,omitempty"`
}

// StatusOf maps an order error kind to its HTTP status.
func StatusOf(err error) int {
	switch order.KindOf(err) {
	case "validation_error":
		return http.StatusBadRequest
	case "authorization_error":
		return http.StatusForbidden
	case "not_found":
		return http.StatusNotFound
	case "invalid_transition":
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

// AbortWithError writes the error response and records err on the context for
// the access log. Internal details of 500s are not echoed back.
func AbortWithError(c *gin.Context, err error) {
	_ = c.Error(err)
	status := StatusOf(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		msg = "internal error"
	}
	c.AbortWithStatusJSON(status, ErrorBody{
		Error:     order.KindOf(err),
		Message:   msg,
		RequestID: RID(c),
	})
}

// BadRequest reports a body that could not be decoded.
func BadRequest(c *gin.Context, msg string) {
	c.AbortWithStatusJSON(http.StatusBadRequest, ErrorBody{
		Error:     "validation_error",
		Message:   msg,
		RequestID: RID(c),
	})
}
