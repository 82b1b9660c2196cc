package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/harrisonrobin/taskboard/pkg/authority"
	"github.com/harrisonrobin/taskboard/pkg/board"
	"github.com/harrisonrobin/taskboard/pkg/lifecycle"
	"github.com/harrisonrobin/taskboard/pkg/store"
)

const (
	CodeInvalidTransition = "invalid_transition"
	CodePendingApproval   = "pending_approval_exists"
	CodeStaleTask         = "stale_task_reference"
	CodeRemoteCommit      = "remote_commit_failed"
	CodeValidation        = "validation_error"
	CodeUnavailable       = "unavailable"
	CodeInternal          = "internal_error"
)

type ErrorResponse struct {
	Code    string            `json:"code"`
	Message string            `json:"message"`
	Fields  map[string]string `json:"fields,omitempty"`
}

// resolveError maps engine errors onto an HTTP status and error code.
func resolveError(err error) (int, ErrorResponse) {
	resp := ErrorResponse{Message: err.Error()}
	switch {
	case errors.Is(err, lifecycle.ErrPendingApprovalExists):
		resp.Code = CodePendingApproval
		return http.StatusConflict, resp
	case errors.Is(err, lifecycle.ErrInvalidTransition):
		resp.Code = CodeInvalidTransition
		return http.StatusConflict, resp
	case errors.Is(err, board.ErrStaleTaskReference), errors.Is(err, store.ErrNotFound):
		resp.Code = CodeStaleTask
		return http.StatusNotFound, resp
	case errors.Is(err, authority.ErrRemoteCommit):
		resp.Code = CodeRemoteCommit
		return http.StatusBadGateway, resp
	case errors.Is(err, store.ErrClosed):
		resp.Code = CodeUnavailable
		return http.StatusServiceUnavailable, resp
	default:
		resp.Code = CodeInternal
		resp.Message = "internal error"
		return http.StatusInternalServerError, resp
	}
}

func handleError(c *gin.Context, err error) {
	status, resp := resolveError(err)
	c.AbortWithStatusJSON(status, resp)
}

func validationError(c *gin.Context, fields map[string]string) {
	c.AbortWithStatusJSON(http.StatusBadRequest, ErrorResponse{
		Code:    CodeValidation,
		Message: "invalid request",
		Fields:  fields,
	})
}
