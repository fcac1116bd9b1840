package jobs

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/smartvillage/gatekeeper/internal/jobs"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskOverrideSweep deactivates expired emergency override grants.
	TaskOverrideSweep = "override:sweep"
)

// OverrideSweepPayload carries scheduling metadata.
type OverrideSweepPayload struct {
	ScheduledFor time.Time `json:"scheduled_for"`
}

// NewOverrideSweepTask constructs an Asynq task for the grant sweep.
func NewOverrideSweepTask(at time.Time) (*asynq.Task, error) {
	body, err := json.Marshal(OverrideSweepPayload{ScheduledFor: at})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskOverrideSweep, body, asynq.Queue(QueueDefault)), nil
}

// Sweeper flips the active flag on expired grants and reports how many
// rows changed.
type Sweeper interface {
	Sweep(ctx context.Context) (int64, error)
}

// NewOverrideSweepHandler builds the Asynq handler for TaskOverrideSweep.
// The sweep is housekeeping only; grant validity is always checked live,
// so a failed run is retried rather than escalated. Metrics may be nil.
func NewOverrideSweepHandler(logger *slog.Logger, sweeper Sweeper, metrics *jobmetrics.Metrics) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		var payload OverrideSweepPayload
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
		tracker := metrics.Track(TaskOverrideSweep)
		swept, err := sweeper.Sweep(ctx)
		if err != nil {
			logger.Error("override sweep", slog.Any("error", err))
			return tracker.End(err)
		}
		metrics.AddSwept(swept)
		if swept > 0 {
			logger.Info("override sweep deactivated grants", slog.Int64("count", swept))
		}
		return tracker.End(nil)
	}
}
