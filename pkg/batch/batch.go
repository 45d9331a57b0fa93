// Package batch applies the single-pair patch pipeline across many file
// pairs with a bounded worker pool. Pairs are independent artifacts, so
// unlike chunks inside one patch, a failed pair never aborts its siblings.
package batch

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

// OutcomeStatus is the per-pair terminal state.
type OutcomeStatus string

const (
	Success OutcomeStatus = "success"
	Error   OutcomeStatus = "error"
	Skipped OutcomeStatus = "skipped"
)

// Pair is one batch work item.
type Pair struct {
	Name      string // relative name within the batch
	OldPath   string
	NewPath   string
	PatchPath string
}

// Outcome is the result recorded for one pair. Every input pair yields
// exactly one outcome regardless of sibling failures.
type Outcome struct {
	Name     string
	Status   OutcomeStatus
	Message  string
	Duration time.Duration
}

// Operation runs the pipeline for one pair.
type Operation func(ctx context.Context, pair Pair) error

// DefaultWorkers bounds concurrent pairs when the caller passes no cap.
const DefaultWorkers = 4

// Run executes fn for every pair under a fixed-size worker pool. A pair
// whose old counterpart is missing is recorded as Skipped without invoking
// fn. Outcomes come back in input order.
func Run(ctx context.Context, pairs []Pair, fn Operation, maxParallel int) []Outcome {
	if maxParallel < 1 {
		maxParallel = DefaultWorkers
	}

	outcomes := make([]Outcome, len(pairs))
	jobs := make(chan int)

	var wg sync.WaitGroup
	for w := 0; w < maxParallel; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				outcomes[i] = runOne(ctx, pairs[i], fn)
			}
		}()
	}

	for i := range pairs {
		jobs <- i
	}
	close(jobs)
	wg.Wait()

	return outcomes
}

func runOne(ctx context.Context, pair Pair, fn Operation) Outcome {
	start := time.Now()

	if _, err := os.Stat(pair.OldPath); err != nil {
		return Outcome{
			Name:     pair.Name,
			Status:   Skipped,
			Message:  fmt.Sprintf("no old counterpart: %s", pair.OldPath),
			Duration: time.Since(start),
		}
	}

	if err := fn(ctx, pair); err != nil {
		return Outcome{
			Name:     pair.Name,
			Status:   Error,
			Message:  err.Error(),
			Duration: time.Since(start),
		}
	}

	return Outcome{Name: pair.Name, Status: Success, Duration: time.Since(start)}
}

// DiscoverPairs builds one pair per regular file in newDir, pointing the
// patch artifact into outDir. Files are matched by relative path; nested
// directories are walked.
func DiscoverPairs(oldDir, newDir, outDir string) ([]Pair, error) {
	var pairs []Pair

	err := filepath.WalkDir(newDir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}

		rel, err := filepath.Rel(newDir, path)
		if err != nil {
			return err
		}

		pairs = append(pairs, Pair{
			Name:      rel,
			OldPath:   filepath.Join(oldDir, rel),
			NewPath:   path,
			PatchPath: filepath.Join(outDir, rel+".pfc"),
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk new dir: %w", err)
	}

	sort.Slice(pairs, func(i, j int) bool { return pairs[i].Name < pairs[j].Name })
	return pairs, nil
}

// Summary aggregates outcome counts for reporting.
type Summary struct {
	Success int
	Error   int
	Skipped int
}

// Summarize tallies outcomes by status.
func Summarize(outcomes []Outcome) Summary {
	var s Summary
	for _, o := range outcomes {
		switch o.Status {
		case Success:
			s.Success++
		case Error:
			s.Error++
		case Skipped:
			s.Skipped++
		}
	}
	return s
}
