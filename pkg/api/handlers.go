// Package api exposes the board to the UI shell over HTTP.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/harrisonrobin/taskboard/pkg/board"
	"github.com/harrisonrobin/taskboard/pkg/model"
	"github.com/harrisonrobin/taskboard/pkg/timer"
)

// Engine is the part of the board the handlers use.
type Engine interface {
	Tasks() []model.Task
	Task(id string) (model.Task, error)
	TimerView(id string, now time.Time) (timer.View, error)
	RequestMove(ctx context.Context, mv board.Move) board.Result
	ApproveFreeze(ctx context.Context, id string) (model.Task, error)
	DenyFreeze(ctx context.Context, id string) (model.Task, error)
	ApproveCompletion(ctx context.Context, id string) (model.Task, error)
	DenyCompletion(ctx context.Context, id string) (model.Task, error)
	Reassign(ctx context.Context, id, ownerID string) (model.Task, error)
}

type Handler struct {
	engine Engine
	log    *logrus.Entry
	clock  func() time.Time
}

func NewHandler(engine Engine, log *logrus.Entry) *Handler {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Handler{engine: engine, log: log.WithField("component", "api"), clock: time.Now}
}

// NewRouter builds the gin engine with every route registered. gatherer may be
// nil to leave out /metrics.
func NewRouter(h *Handler, gatherer prometheus.Gatherer) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), h.requestLogger())

	router.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusNoContent) })
	if gatherer != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	}
	h.EnrichRoutes(router)
	return router
}

func (h *Handler) EnrichRoutes(router *gin.Engine) {
	tasks := router.Group("/tasks")
	tasks.GET("", h.listTasksAction)
	tasks.GET("/:taskID", h.getTaskAction)
	tasks.GET("/:taskID/timer", h.timerAction)
	tasks.POST("/:taskID/move", h.moveAction)
	tasks.POST("/:taskID/freeze/approve", h.resolveAction(h.engine.ApproveFreeze))
	tasks.POST("/:taskID/freeze/deny", h.resolveAction(h.engine.DenyFreeze))
	tasks.POST("/:taskID/completion/approve", h.resolveAction(h.engine.ApproveCompletion))
	tasks.POST("/:taskID/completion/deny", h.resolveAction(h.engine.DenyCompletion))
	tasks.PUT("/:taskID/owner", h.reassignAction)
}

func (h *Handler) listTasksAction(c *gin.Context) {
	tasks := h.engine.Tasks()

	if raw := c.Query("status"); raw != "" {
		status := model.Status(raw)
		if !status.Valid() {
			validationError(c, map[string]string{"status": "unknown status"})
			return
		}
		filtered := make([]model.Task, 0, len(tasks))
		for _, t := range tasks {
			if t.Status == status {
				filtered = append(filtered, t)
			}
		}
		tasks = filtered
	}

	c.JSON(http.StatusOK, tasks)
}

func (h *Handler) getTaskAction(c *gin.Context) {
	task, err := h.engine.Task(c.Param("taskID"))
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, task)
}

func (h *Handler) timerAction(c *gin.Context) {
	now := h.clock()
	if raw := c.Query("at"); raw != "" {
		at, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			validationError(c, map[string]string{"at": "must be an RFC3339 timestamp"})
			return
		}
		now = at
	}

	view, err := h.engine.TimerView(c.Param("taskID"), now)
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

type moveRequest struct {
	From model.Status `json:"from"`
	To   model.Status `json:"to"`
	Note string       `json:"note"`
}

type moveResponse struct {
	Outcome board.Outcome `json:"outcome"`
	Reason  string        `json:"reason,omitempty"`
	Revert  bool          `json:"revert"`
	Task    *model.Task   `json:"task,omitempty"`
}

func (h *Handler) moveAction(c *gin.Context) {
	const op = "api.Handler.moveAction"
	log := h.log.WithFields(logrus.Fields{"operation": op, "task_id": c.Param("taskID")})

	var req moveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		validationError(c, map[string]string{"body": "invalid request structure"})
		return
	}
	fields := map[string]string{}
	if !req.From.Valid() {
		fields["from"] = "unknown status"
	}
	if !req.To.Valid() {
		fields["to"] = "unknown status"
	}
	if len(fields) > 0 {
		validationError(c, fields)
		return
	}

	res := h.engine.RequestMove(c.Request.Context(), board.Move{
		TaskID: c.Param("taskID"),
		From:   req.From,
		To:     req.To,
		Note:   req.Note,
	})

	resp := moveResponse{Outcome: res.Outcome, Reason: res.Reason(), Revert: res.Revert()}
	if res.Task.ID != "" {
		task := res.Task
		resp.Task = &task
	}

	status := http.StatusOK
	switch res.Outcome {
	case board.PendingApproval:
		status = http.StatusAccepted
	case board.Ignored, board.Rejected:
		status, _ = resolveError(res.Err)
	}
	log.WithField("outcome", res.Outcome).Debug("move handled")
	c.JSON(status, resp)
}

func (h *Handler) resolveAction(fn func(ctx context.Context, id string) (model.Task, error)) gin.HandlerFunc {
	return func(c *gin.Context) {
		task, err := fn(c.Request.Context(), c.Param("taskID"))
		if err != nil {
			handleError(c, err)
			return
		}
		c.JSON(http.StatusOK, task)
	}
}

type reassignRequest struct {
	OwnerID string `json:"owner_id"`
}

func (h *Handler) reassignAction(c *gin.Context) {
	var req reassignRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		validationError(c, map[string]string{"body": "invalid request structure"})
		return
	}
	if req.OwnerID == "" {
		validationError(c, map[string]string{"owner_id": "missed value"})
		return
	}

	task, err := h.engine.Reassign(c.Request.Context(), c.Param("taskID"), req.OwnerID)
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, task)
}

func (h *Handler) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		entry := h.log.WithFields(logrus.Fields{
			"method":   c.Request.Method,
			"path":     c.FullPath(),
			"status":   c.Writer.Status(),
			"duration": time.Since(start),
		})
		if c.Writer.Status() >= http.StatusInternalServerError {
			entry.Warn("request failed")
			return
		}
		entry.Debug("request served")
	}
}
