package inference

import (
	"context"
	"fmt"
	"time"

	"github.com/propertyreel/server/internal/domain"
)

// poll checks the task's status URL on a fixed interval until a terminal
// status or the attempt ceiling. A transient failure of the status check
// itself waits a doubled interval and retries without consuming an attempt;
// consecutive transient failures after the first do consume budget, so a dead
// endpoint cannot stall the loop forever.
func (c *Client) poll(ctx context.Context, taskName, pollURL string, policy PollPolicy) (*task, error) {
	forgaveTransient := false
	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		if err := sleepCtx(ctx, policy.Interval); err != nil {
			return nil, err
		}
		t, err := c.getTask(ctx, pollURL)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			c.logger.Warn().
				Err(err).
				Str("task", taskName).
				Int("attempt", attempt).
				Msg("inference: status check failed, backing off")
			if !forgaveTransient {
				attempt--
				forgaveTransient = true
			}
			if err := sleepCtx(ctx, policy.Interval); err != nil {
				return nil, err
			}
			continue
		}
		forgaveTransient = false
		if isTerminal(t.Status) {
			return c.check(taskName, t)
		}
	}
	return nil, fmt.Errorf("inference: %s did not finish within %d attempts: %w",
		taskName, policy.MaxAttempts, domain.ErrPollTimeout)
}

// check maps a terminal task into a result or a provider error.
func (c *Client) check(taskName string, t *task) (*task, error) {
	switch t.Status {
	case "succeeded":
		return t, nil
	case "failed", "cancelled":
		detail := t.Error
		if detail == "" {
			detail = t.Status
		}
		return nil, &domain.StageError{
			Stage:  taskName,
			Detail: detail,
			Err:    domain.ErrProviderFailure,
		}
	default:
		return nil, fmt.Errorf("inference: unexpected terminal status %q", t.Status)
	}
}

func isTerminal(status string) bool {
	switch status {
	case "succeeded", "failed", "cancelled":
		return true
	case "starting", "processing", "queued", "":
		return false
	default:
		return false
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
