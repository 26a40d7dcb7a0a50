package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/timmy/dataexec/internal/domain"
)

// ErrorResponse is the body of every non-2xx reply.
type ErrorResponse struct {
	Error  string `json:"error"`
	Status string `json:"status,omitempty"`
}

// statusFor maps a coordinator or connector error to an HTTP status.
func statusFor(err error) int {
	var (
		unknownType  *domain.ErrUnknownJobType
		unknownSrc   *domain.ErrUnknownSourceType
		badCreds     *domain.ErrInvalidCredentials
		running      *domain.ErrJobAlreadyRunning
		executed     *domain.ErrJobAlreadyExecuted
		duplicate    *domain.ErrDuplicateJob
		connectError *domain.ConnectionError
	)
	switch {
	case domain.IsJobNotFound(err):
		return http.StatusNotFound
	case domain.IsConcurrencyLimitExceeded(err):
		return http.StatusTooManyRequests
	case errors.As(err, &running), errors.As(err, &executed), errors.As(err, &duplicate):
		return http.StatusConflict
	case domain.IsValidation(err), errors.As(err, &unknownType), errors.As(err, &unknownSrc), errors.As(err, &badCreds):
		return http.StatusBadRequest
	case errors.As(err, &connectError):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func respondError(c *gin.Context, err error) {
	code := statusFor(err)
	resp := ErrorResponse{Error: err.Error()}
	switch code {
	case http.StatusNotFound:
		resp.Status = "not_found"
	case http.StatusTooManyRequests:
		resp.Status = "rejected"
	case http.StatusConflict:
		resp.Status = "conflict"
	case http.StatusBadRequest:
		resp.Status = "invalid"
	}
	_ = c.Error(err)
	c.JSON(code, resp)
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, ErrorResponse{Error: msg, Status: "invalid"})
}
