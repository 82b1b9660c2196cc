package google

import (
	"context"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
	"google.golang.org/api/calendar/v3"

	"github.com/harrisonrobin/taskboard/pkg/model"
)

// Syncer writes one task to the calendar.
type Syncer interface {
	SyncEvent(ctx context.Context, task model.Task) (*calendar.Event, error)
}

const DefaultQueueSize = 256

// Mirror copies status changes onto calendar events in the background so the
// board never waits on the calendar API.
type Mirror struct {
	syncer  Syncer
	log     *logrus.Entry
	queue   chan model.Task
	limiter *rate.Limiter
}

type MirrorOptions struct {
	QueueSize int
	// RequestsPerSecond caps calendar writes; zero means unlimited.
	RequestsPerSecond float64
}

func NewMirror(s Syncer, log *logrus.Entry, opts MirrorOptions) *Mirror {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	size := opts.QueueSize
	if size <= 0 {
		size = DefaultQueueSize
	}
	limit := rate.Inf
	if opts.RequestsPerSecond > 0 {
		limit = rate.Limit(opts.RequestsPerSecond)
	}
	return &Mirror{
		syncer:  s,
		log:     log.WithField("component", "calendar-mirror"),
		queue:   make(chan model.Task, size),
		limiter: rate.NewLimiter(limit, 1),
	}
}

// Observe queues after for mirroring. It never blocks; changes arriving while
// the queue is full are dropped.
func (m *Mirror) Observe(_, after model.Task) {
	select {
	case m.queue <- after:
	default:
		m.log.WithField("task_id", after.ID).Warn("mirror queue full, dropping change")
	}
}

// Run drains the queue until ctx is cancelled.
func (m *Mirror) Run(ctx context.Context) {
	const op = "google.Mirror.Run"
	for {
		select {
		case <-ctx.Done():
			return
		case task := <-m.queue:
			if err := m.limiter.Wait(ctx); err != nil {
				return
			}
			log := m.log.WithFields(logrus.Fields{"operation": op, "task_id": task.ID, "status": task.Status})
			event, err := m.syncer.SyncEvent(ctx, task)
			if err != nil {
				log.WithError(err).Warn("failed to mirror task")
				continue
			}
			log.WithField("event_id", event.Id).Debug("task mirrored")
		}
	}
}
