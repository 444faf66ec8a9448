package http

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/GriffinCanCode/remoteui/internal/renderer"
	"github.com/GriffinCanCode/remoteui/internal/rpc"
	"github.com/GriffinCanCode/remoteui/internal/supervisor"
)

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	var loadErr *supervisor.LoadError
	switch {
	case errors.Is(err, supervisor.ErrSessionNotFound), errors.Is(err, renderer.ErrNoInstance):
		return http.StatusNotFound
	case errors.Is(err, supervisor.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, supervisor.ErrNotRendering):
		return http.StatusConflict
	case errors.Is(err, supervisor.ErrTerminated), errors.Is(err, rpc.ErrChannelClosed):
		return http.StatusGone
	case errors.Is(err, renderer.ErrNotCallable), errors.Is(err, rpc.ErrUnsupportedValue):
		return http.StatusBadRequest
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.As(err, &loadErr):
		return http.StatusUnprocessableEntity
	case rpc.IsCallError(err):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func abortWith(c *gin.Context, err error) {
	_ = c.Error(err)
	c.AbortWithStatusJSON(statusFor(err), gin.H{"error": err.Error()})
}

func badRequest(c *gin.Context, err error) {
	_ = c.Error(err)
	c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
}
