// Package pipeline runs an ordered list of provisioning steps and unwinds
// them on failure.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/askdeck/askdeck/internal/rag"
	"github.com/askdeck/askdeck/pkg/models"
)

// rollbackBudget bounds the whole compensation pass so a wedged delete can't
// hold a worker forever. It is independent of the job context, which may
// already be cancelled by the time rollback runs.
const rollbackBudget = 2 * time.Minute

// Step pairs an action with the compensating action that undoes it. Run
// returns the external identifier the action produced. Compensate must be
// idempotent and tolerate "resource already gone": a retried rollback or a
// race with external cleanup must not count as a failure.
type Step struct {
	Name       string
	Kind       models.ResourceKind
	Run        func(ctx context.Context) (string, error)
	Compensate func(ctx context.Context, handle models.ResourceHandle) error
}

// Failure describes a pipeline run that stopped partway: the step that
// failed, the triggering error, and the outcome of every compensation
// attempted on the way back down.
type Failure struct {
	Step          string
	Err           error
	Retriable     bool
	Compensations []models.CompensationOutcome
}

func (f *Failure) Error() string {
	return fmt.Sprintf("step %q failed: %v", f.Step, f.Err)
}

func (f *Failure) Unwrap() error { return f.Err }

// FullyCompensated reports whether every attempted compensation succeeded.
// False means an external resource may have been orphaned.
func (f *Failure) FullyCompensated() bool {
	for _, c := range f.Compensations {
		if c.Error != "" {
			return false
		}
	}
	return true
}

// Executor runs steps strictly in order and rolls back on failure.
type Executor struct{}

func NewExecutor() *Executor {
	return &Executor{}
}

// Run executes steps in order, starting each only after its predecessor
// succeeded. On a step failure it stops forward progress, compensates every
// previously succeeded step in reverse order, and returns a Failure carrying
// both the triggering error and the compensation outcomes.
func (e *Executor) Run(ctx context.Context, steps []Step) ([]models.ResourceHandle, *Failure) {
	handles := make([]models.ResourceHandle, 0, len(steps))

	for i, step := range steps {
		id, err := step.Run(ctx)
		if err != nil {
			return nil, &Failure{
				Step:          step.Name,
				Err:           err,
				Retriable:     rag.IsTransient(err),
				Compensations: e.Rollback(ctx, steps, handles),
			}
		}
		handles = append(handles, models.ResourceHandle{
			Kind:     step.Kind,
			ID:       id,
			Position: i,
		})
	}

	return handles, nil
}

// Rollback compensates handles in reverse order of creation: later resources
// may reference earlier ones, so the most recently created is torn down
// first. A failed compensation is recorded but does not stop the remaining
// ones from being attempted. The job context may already be cancelled here,
// so rollback runs on its own deadline.
func (e *Executor) Rollback(ctx context.Context, steps []Step, handles []models.ResourceHandle) []models.CompensationOutcome {
	if len(handles) == 0 {
		return nil
	}

	rollbackCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), rollbackBudget)
	defer cancel()

	outcomes := make([]models.CompensationOutcome, 0, len(handles))
	for i := len(handles) - 1; i >= 0; i-- {
		step := steps[handles[i].Position]
		outcome := models.CompensationOutcome{Step: step.Name, Handle: handles[i]}

		if step.Compensate != nil {
			if err := step.Compensate(rollbackCtx, handles[i]); err != nil {
				outcome.Error = err.Error()
				slog.Error("compensation failed",
					"step", step.Name,
					"kind", handles[i].Kind,
					"resource_id", handles[i].ID,
					"error", err,
				)
			}
		}
		outcomes = append(outcomes, outcome)
	}
	return outcomes
}
