// Package cli implements the bdl commands. Each command constructor
// returns a *cobra.Command wired against the repository orchestrator.
package cli

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/example/bdl/internal/progress"
	"github.com/example/bdl/internal/repo"
)

// pollInterval is how often a running operation's progress line refreshes.
const pollInterval = 50 * time.Millisecond

// repoPaths returns the repository paths a command operates on, the
// current directory when none were given.
func repoPaths(args []string) []string {
	if len(args) == 0 {
		return []string{"."}
	}
	return args
}

// forEachPath runs op against every path, loading and unloading a handle
// around it. A failing path is reported and the remaining paths still run;
// the failures come back joined.
func forEachPath(ctx context.Context, paths []string, template string, op func(context.Context, *repo.Repository) error) error {
	var errs []error
	for _, path := range paths {
		fmt.Printf("%s:\n", path)
		opts := []repo.Option{repo.WithPath(path)}
		if template != "" {
			opts = append(opts, repo.WithTemplate(template))
		}
		r, err := repo.New(opts...)
		if err == nil {
			if err = r.Load(ctx); err == nil {
				err = op(ctx, r)
				if unloadErr := r.Unload(); err == nil {
					err = unloadErr
				}
			}
		}
		if err != nil {
			fmt.Printf("failed: %v\n", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// runWithProgress executes op on a worker goroutine while refreshing a
// progress line until it finishes. A canceled context requests a
// cooperative stop and waits for the worker to drain.
func runWithProgress(ctx context.Context, r *repo.Repository, op func(context.Context) error) error {
	done := make(chan error, 1)
	go func() { done <- op(ctx) }()

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	tracker := r.Progress()
	for {
		select {
		case err := <-done:
			printProgress(tracker)
			fmt.Println()
			return err
		case <-ctx.Done():
			r.Stop()
			err := <-done
			printProgress(tracker)
			fmt.Println()
			return err
		case <-ticker.C:
			printProgress(tracker)
		}
	}
}

// printProgress rewrites the in-place progress line from a snapshot.
func printProgress(t *progress.Tracker) {
	state := t.Total()
	fmt.Printf("\r%3.0f%% (count: %d, finished: %d, failed: %d)",
		state.Percentage, state.Count, state.Finished, state.Failed)
}
