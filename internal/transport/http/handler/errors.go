package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"gopherchat/internal/app"
	"gopherchat/internal/transport/http/response"
)

// writeServiceError maps a service error onto the envelope. Anything it does
// not recognise becomes a 500 carrying fallback instead of the raw error.
func writeServiceError(c *gin.Context, err error, fallback string) {
	switch {
	case errors.Is(err, app.ErrUnauthorized):
		response.Error(c, http.StatusUnauthorized, response.CodeUnauthorized, err.Error())
	case errors.Is(err, app.ErrInvalidInput), errors.Is(err, app.ErrMessageEmpty):
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, err.Error())
	case errors.Is(err, app.ErrUsernameExists):
		response.Error(c, http.StatusBadRequest, response.CodeUsernameExists, err.Error())
	case errors.Is(err, app.ErrEmailExists):
		response.Error(c, http.StatusBadRequest, response.CodeEmailExists, err.Error())
	case errors.Is(err, app.ErrInvalidCredential):
		response.Error(c, http.StatusUnauthorized, response.CodeInvalidCredentials, err.Error())
	case errors.Is(err, app.ErrChatNotFound):
		response.Error(c, http.StatusNotFound, response.CodeChatNotFound, err.Error())
	case errors.Is(err, app.ErrExchangeInProgress):
		response.Error(c, http.StatusConflict, response.CodeConflict, err.Error())
	case errors.Is(err, app.ErrRateLimited):
		response.Error(c, http.StatusTooManyRequests, response.CodeTooManyRequests, err.Error())
	default:
		_ = c.Error(err)
		response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, fallback)
	}
}
