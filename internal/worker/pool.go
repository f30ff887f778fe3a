// Package worker provides a bounded parallel fetch pool for GeoJSON-by-URL
// sources.
package worker

import (
	"context"
	"sync"
	"time"

	"github.com/paulmach/orb/geojson"
)

// Fetcher downloads and parses one document.
// This matches the signature of geojson.Loader.Fetch.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (*geojson.FeatureCollection, error)
}

// Task is one source to load.
type Task struct {
	SourceID string
	URL      string
}

// Result represents the outcome of a fetch task.
type Result struct {
	Task    Task
	Data    *geojson.FeatureCollection
	Err     error
	Elapsed time.Duration
}

// ProgressFunc is called after each task completes.
type ProgressFunc func(completed, total, failed int)

// Config configures the worker pool.
type Config struct {
	Workers    int
	Fetcher    Fetcher
	OnProgress ProgressFunc
}

// Pool manages parallel fetches.
type Pool struct {
	workers    int
	fetcher    Fetcher
	onProgress ProgressFunc
}

// New creates a new worker pool.
func New(cfg Config) *Pool {
	workers := cfg.Workers
	if workers <= 0 {
		workers = 1
	}

	return &Pool{
		workers:    workers,
		fetcher:    cfg.Fetcher,
		onProgress: cfg.OnProgress,
	}
}

// Run executes all tasks and returns their results in completion order.
// It blocks until all tasks complete or the context is cancelled; tasks not
// started before cancellation report ctx.Err().
func (p *Pool) Run(ctx context.Context, tasks []Task) []Result {
	if len(tasks) == 0 {
		return nil
	}

	results := make([]Result, 0, len(tasks))
	for r := range p.Stream(ctx, tasks) {
		results = append(results, r)
	}
	return results
}

// Stream starts the tasks and delivers each result as it completes. The
// channel is closed once every task has reported.
func (p *Pool) Stream(ctx context.Context, tasks []Task) <-chan Result {
	out := make(chan Result, len(tasks))
	if len(tasks) == 0 {
		close(out)
		return out
	}

	taskCh := make(chan Task, len(tasks))
	resultCh := make(chan Result, len(tasks))

	var wg sync.WaitGroup
	for i := 0; i < p.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.worker(ctx, taskCh, resultCh)
		}()
	}

	// taskCh is buffered for every task, so feeding never blocks
	for _, task := range tasks {
		taskCh <- task
	}
	close(taskCh)

	go func() {
		wg.Wait()
		close(resultCh)
	}()

	go func() {
		defer close(out)
		completed, failed := 0, 0
		for result := range resultCh {
			completed++
			if result.Err != nil {
				failed++
			}
			if p.onProgress != nil {
				p.onProgress(completed, len(tasks), failed)
			}
			out <- result
		}
	}()
	return out
}

// worker processes tasks from the task channel and sends results to the result channel.
func (p *Pool) worker(ctx context.Context, tasks <-chan Task, results chan<- Result) {
	for task := range tasks {
		select {
		case <-ctx.Done():
			results <- Result{Task: task, Err: ctx.Err()}
			continue
		default:
		}

		start := time.Now()
		data, err := p.fetcher.Fetch(ctx, task.URL)
		results <- Result{
			Task:    task,
			Data:    data,
			Err:     err,
			Elapsed: time.Since(start),
		}
	}
}
