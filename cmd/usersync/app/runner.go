package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"usersync/internal/usersync/handler"
	"usersync/internal/usersync/model"
	"usersync/internal/usersync/service"
)

// Runner drives passes: once, or repeatedly on Interval until ctx ends.
type Runner struct {
	Service   service.SyncService
	Store     *handler.StatusStore
	Tolerance int
	Interval  time.Duration
	Logger    *slog.Logger
	Out       io.Writer
}

func (r *Runner) Run(ctx context.Context) error {
	if r.Interval <= 0 {
		return r.once(ctx)
	}

	ticker := time.NewTicker(r.Interval)
	defer ticker.Stop()
	for {
		if err := r.once(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			r.logger().Warn("Sync pass failed, waiting for next interval", "error", err, "interval", r.Interval.String())
		}
		select {
		case <-ctx.Done():
			r.logger().Info("Stopping sync loop")
			return nil
		case <-ticker.C:
		}
	}
}

func (r *Runner) once(ctx context.Context) error {
	result, err := r.Service.RunPass(ctx)
	if r.Store != nil {
		r.Store.Record(result)
	}
	if r.Out != nil && result != nil {
		printSummary(r.Out, result)
	}
	return passOutcome(result, err, r.Tolerance)
}

func (r *Runner) logger() *slog.Logger {
	if r.Logger == nil {
		return slog.Default()
	}
	return r.Logger
}

func passOutcome(result *model.SyncResult, err error, tolerance int) error {
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return &ExitError{Code: ExitInterrupted, Err: err}
		}
		return &ExitError{Code: ExitFetchFailed, Err: err}
	}
	if result == nil {
		return &ExitError{Code: ExitStartup, Err: errors.New("sync pass returned no result")}
	}
	if !result.Succeeded(tolerance) {
		return &ExitError{
			Code: ExitRecordFailures,
			Err:  fmt.Errorf("%d record failure(s) exceed tolerance of %d", result.Failed, tolerance),
		}
	}
	return nil
}

func printSummary(w io.Writer, result *model.SyncResult) {
	rule := strings.Repeat("=", 50)
	fmt.Fprintf(w, "\n%s\nSynchronization Summary\n%s\n", rule, rule)
	fmt.Fprintf(w, "Pass ID:   %s\n", result.PassID)
	fmt.Fprintf(w, "State:     %s\n", result.State)
	fmt.Fprintf(w, "Fetched:   %d\n", result.Fetched)
	fmt.Fprintf(w, "Upserted:  %d\n", result.Upserted)
	fmt.Fprintf(w, "  Inserted:  %d\n", result.Inserted)
	fmt.Fprintf(w, "  Modified:  %d\n", result.Modified)
	fmt.Fprintf(w, "  Unchanged: %d\n", result.Unchanged)
	fmt.Fprintf(w, "Failed:    %d\n", result.Failed)
	if result.FetchError != "" {
		fmt.Fprintf(w, "Error:     %s\n", result.FetchError)
	}
	fmt.Fprintf(w, "Duration:  %.2f seconds\n", result.Duration().Seconds())
	fmt.Fprintf(w, "%s\n\n", rule)
}
