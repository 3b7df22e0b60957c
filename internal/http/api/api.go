package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/Nixie-Tech-LLC/jinglecast/internal/http/middleware"
	"github.com/Nixie-Tech-LLC/jinglecast/internal/model"
)

type APIError struct {
	Code    int
	Message string
}

func (e *APIError) Error() string { return e.Message }

func BadRequest(msg string) *APIError {
	return &APIError{Code: http.StatusBadRequest, Message: msg}
}

// FromError maps the domain error taxonomy onto HTTP status codes.
func FromError(err error) *APIError {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, model.ErrNotFound):
		return &APIError{Code: http.StatusNotFound, Message: err.Error()}
	case errors.Is(err, model.ErrInvalidInput), errors.Is(err, model.ErrMissingDeviceID):
		return &APIError{Code: http.StatusBadRequest, Message: err.Error()}
	case errors.Is(err, model.ErrInvalidPairingCode):
		return &APIError{Code: http.StatusUnauthorized, Message: err.Error()}
	case errors.Is(err, model.ErrPairingConflict), errors.Is(err, model.ErrDeviceNotConnected):
		return &APIError{Code: http.StatusConflict, Message: err.Error()}
	case errors.Is(err, model.ErrRelayTimeout):
		return &APIError{Code: http.StatusGatewayTimeout, Message: err.Error()}
	default:
		log.Error().Err(err).Msg("unhandled error")
		return &APIError{Code: http.StatusInternalServerError, Message: "internal server error"}
	}
}

type HandlerFuncWithAuth func(ctx *gin.Context, op *model.Operator) (any, *APIError)
type HandlerFunc func(ctx *gin.Context) (any, *APIError)

func ResolveEndpointWithAuth(h HandlerFuncWithAuth) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		op, ok := middleware.GetCurrentOperator(ctx)
		if !ok {
			ctx.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		respond(ctx, func() (any, *APIError) { return h(ctx, op) })
	}
}

func ResolveEndpoint(h HandlerFunc) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		respond(ctx, func() (any, *APIError) { return h(ctx) })
	}
}

func respond(ctx *gin.Context, h func() (any, *APIError)) {
	result, apiErr := h()
	if apiErr != nil {
		ctx.JSON(apiErr.Code, gin.H{"error": apiErr.Message})
		return
	}
	// handlers that wrote their own response (streams, upgrades) return nil
	if ctx.Writer.Written() {
		return
	}
	ctx.JSON(http.StatusOK, result)
}
