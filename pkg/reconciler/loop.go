package reconciler

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/olcf/harmony/pkg/harness"
	"github.com/sirupsen/logrus"
)

// Start launches the reconciliation loop. Passes run back to back with a
// sleep of max(interval - pass duration, 0) between them; they never
// overlap.
func (r *reconciler) Start(ctx context.Context) error {
	if r.cfg.Interval <= 0 {
		return fmt.Errorf("reconciler interval must be positive, got %s", r.cfg.Interval)
	}

	r.log.WithFields(logrus.Fields{
		"interval": r.cfg.Interval.String(),
		"inputs":   len(r.cfg.Inputs),
	}).Info("Starting reconciler")

	r.wg.Add(1)

	go func() {
		defer r.wg.Done()

		for {
			started := time.Now()

			r.safePass(ctx)

			wait := r.cfg.Interval - time.Since(started)
			if wait < 0 {
				wait = 0
			}

			timer := time.NewTimer(wait)

			select {
			case <-timer.C:
			case <-r.done:
				timer.Stop()

				return
			case <-ctx.Done():
				timer.Stop()

				return
			}
		}
	}()

	return nil
}

// Stop signals the loop to exit and waits for the current pass to finish.
func (r *reconciler) Stop() error {
	r.stopOnce.Do(func() { close(r.done) })
	r.wg.Wait()

	r.log.Info("Reconciler stopped")

	return nil
}

// safePass runs one pass and recovers from a panic inside it so the loop
// survives a bad pass.
func (r *reconciler) safePass(ctx context.Context) {
	defer func() {
		if rec := recover(); rec != nil {
			r.log.WithFields(logrus.Fields{
				"panic": fmt.Sprint(rec),
				"stack": string(debug.Stack()),
			}).Error("Reconciliation pass panicked")
		}
	}()

	r.RunPass(ctx)
}

// RunPass implements Reconciler.
func (r *reconciler) RunPass(ctx context.Context) *PassStats {
	started := time.Now()
	total := &PassStats{}

	r.log.WithField("inputs", len(r.cfg.Inputs)).Info("Reconciliation pass started")

	for _, path := range r.cfg.Inputs {
		select {
		case <-ctx.Done():
			return total
		case <-r.done:
			return total
		default:
		}

		stats, err := r.ReconcileFile(ctx, path)
		total.Add(stats)

		if err != nil {
			entry := r.log.WithError(err).WithField("path", path)

			var se *harness.SyntaxError
			if errors.As(err, &se) {
				entry.Error("Declaration file rejected")
			} else {
				entry.Warn("Reconciliation failed for declaration file")
			}

			total.Errors++
		}
	}

	r.log.WithFields(total.Fields()).
		WithField("duration", time.Since(started).Round(time.Millisecond)).
		Info("Reconciliation pass completed")

	return total
}
