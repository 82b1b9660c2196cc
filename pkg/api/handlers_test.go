package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harrisonrobin/taskboard/pkg/authority"
	"github.com/harrisonrobin/taskboard/pkg/board"
	"github.com/harrisonrobin/taskboard/pkg/metrics"
	"github.com/harrisonrobin/taskboard/pkg/model"
	"github.com/harrisonrobin/taskboard/pkg/sla"
	"github.com/harrisonrobin/taskboard/pkg/timer"
)

var t0 = time.Date(2024, 3, 4, 10, 0, 0, 0, time.UTC)

func init() {
	gin.SetMode(gin.TestMode)
}

type fixture struct {
	router *gin.Engine
	remote *authority.Memory
	board  *board.Board
}

func setup(t *testing.T) fixture {
	t.Helper()
	remote := authority.NewMemory(
		model.Task{ID: "O-1", Title: "open", Priority: model.Urgent, Status: model.Opened, CreatedAt: t0},
		model.Task{ID: "F-1", Title: "frozen", Priority: model.Regular, Status: model.Frozen, CreatedAt: t0, FrozenAt: model.TimePtr(t0.Add(time.Hour))},
	)
	reg := prometheus.NewRegistry()
	b := board.New(remote, board.Options{Policy: sla.Default(), Metrics: metrics.New(reg)})
	require.NoError(t, b.Load(context.Background()))
	t.Cleanup(b.Close)

	h := NewHandler(b, nil)
	h.clock = func() time.Time { return t0.Add(2 * time.Hour) }
	return fixture{router: NewRouter(h, reg), remote: remote, board: b}
}

func (f fixture) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	return v
}

func TestListTasks(t *testing.T) {
	f := setup(t)

	rec := f.do(t, http.MethodGet, "/tasks", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]model.Task](t, rec), 2)

	rec = f.do(t, http.MethodGet, "/tasks?status=frozen", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	tasks := decode[[]model.Task](t, rec)
	require.Len(t, tasks, 1)
	assert.Equal(t, "F-1", tasks[0].ID)

	rec = f.do(t, http.MethodGet, "/tasks?status=archived", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, CodeValidation, decode[ErrorResponse](t, rec).Code)
}

func TestGetTask(t *testing.T) {
	f := setup(t)

	rec := f.do(t, http.MethodGet, "/tasks/O-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, model.Opened, decode[model.Task](t, rec).Status)

	rec = f.do(t, http.MethodGet, "/tasks/missing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, CodeStaleTask, decode[ErrorResponse](t, rec).Code)
}

func TestTimer(t *testing.T) {
	f := setup(t)

	rec := f.do(t, http.MethodGet, "/tasks/O-1/timer", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	view := decode[timer.View](t, rec)
	assert.Equal(t, "0d 22h 00m 00s", view.Formatted)
	assert.False(t, view.IsDelayed)

	rec = f.do(t, http.MethodGet, "/tasks/O-1/timer?at=2024-03-05T11:00:00Z", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	view = decode[timer.View](t, rec)
	assert.Equal(t, "-0d 01h 00m 00s", view.Formatted)
	assert.True(t, view.IsDelayed)

	rec = f.do(t, http.MethodGet, "/tasks/O-1/timer?at=tomorrow", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMoveFlow(t *testing.T) {
	f := setup(t)

	rec := f.do(t, http.MethodPost, "/tasks/O-1/move", moveRequest{From: model.Opened, To: model.Frozen, Note: "pending info"})
	require.Equal(t, http.StatusAccepted, rec.Code)
	resp := decode[moveResponse](t, rec)
	assert.Equal(t, board.PendingApproval, resp.Outcome)
	assert.False(t, resp.Revert)
	require.NotNil(t, resp.Task)
	assert.True(t, resp.Task.HasPendingFreezeRequest())

	rec = f.do(t, http.MethodPost, "/tasks/O-1/move", moveRequest{From: model.Opened, To: model.Completed})
	assert.Equal(t, http.StatusConflict, rec.Code)
	resp = decode[moveResponse](t, rec)
	assert.Equal(t, board.Rejected, resp.Outcome)
	assert.True(t, resp.Revert)
	assert.Contains(t, resp.Reason, "pending request")

	rec = f.do(t, http.MethodPost, "/tasks/O-1/freeze/approve", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, model.Frozen, decode[model.Task](t, rec).Status)

	rec = f.do(t, http.MethodPost, "/tasks/O-1/freeze/approve", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, CodeInvalidTransition, decode[ErrorResponse](t, rec).Code)
}

func TestMoveRejections(t *testing.T) {
	f := setup(t)

	rec := f.do(t, http.MethodPost, "/tasks/F-1/move", moveRequest{From: model.Frozen, To: model.Completed})
	assert.Equal(t, http.StatusConflict, rec.Code)
	resp := decode[moveResponse](t, rec)
	assert.Equal(t, board.Rejected, resp.Outcome)
	assert.Equal(t, "movement not allowed: frozen -> completed", resp.Reason)

	rec = f.do(t, http.MethodPost, "/tasks/gone/move", moveRequest{From: model.Opened, To: model.Frozen})
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, board.Ignored, decode[moveResponse](t, rec).Outcome)

	rec = f.do(t, http.MethodPost, "/tasks/O-1/move", moveRequest{From: model.Opened, To: model.Opened})
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, board.NoOp, decode[moveResponse](t, rec).Outcome)

	rec = f.do(t, http.MethodPost, "/tasks/O-1/move", map[string]string{"from": "opened", "to": "archived"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decode[ErrorResponse](t, rec).Fields, "to")

	req := httptest.NewRequest(http.MethodPost, "/tasks/O-1/move", strings.NewReader("{"))
	raw := httptest.NewRecorder()
	f.router.ServeHTTP(raw, req)
	assert.Equal(t, http.StatusBadRequest, raw.Code)
}

func TestMoveRemoteFailure(t *testing.T) {
	f := setup(t)
	f.remote.Fail("unfreeze", errors.New("bad gateway"))

	rec := f.do(t, http.MethodPost, "/tasks/F-1/move", moveRequest{From: model.Frozen, To: model.Opened})
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	resp := decode[moveResponse](t, rec)
	assert.True(t, resp.Revert)

	task, err := f.board.Task("F-1")
	require.NoError(t, err)
	assert.Equal(t, model.Frozen, task.Status)
}

func TestCompletionDeny(t *testing.T) {
	f := setup(t)

	rec := f.do(t, http.MethodPost, "/tasks/O-1/move", moveRequest{From: model.Opened, To: model.Completed, Note: "done"})
	require.Equal(t, http.StatusAccepted, rec.Code)

	rec = f.do(t, http.MethodPost, "/tasks/O-1/completion/deny", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	task := decode[model.Task](t, rec)
	assert.Equal(t, model.Opened, task.Status)
	assert.Equal(t, model.Denied, task.Approval.State)
}

func TestReassign(t *testing.T) {
	f := setup(t)

	rec := f.do(t, http.MethodPut, "/tasks/O-1/owner", reassignRequest{OwnerID: "bob"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "bob", decode[model.Task](t, rec).OwnerID)

	rec = f.do(t, http.MethodPut, "/tasks/O-1/owner", reassignRequest{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMetricsAndHealth(t *testing.T) {
	f := setup(t)
	f.do(t, http.MethodPost, "/tasks/F-1/move", moveRequest{From: model.Frozen, To: model.Completed})

	rec := f.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "taskboard_")

	rec = f.do(t, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestResolveErrorHidesInternalDetails(t *testing.T) {
	status, resp := resolveError(errors.New("database password leaked"))
	assert.Equal(t, http.StatusInternalServerError, status)
	assert.Equal(t, CodeInternal, resp.Code)
	assert.Equal(t, "internal error", resp.Message)
}
