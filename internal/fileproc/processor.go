// Package fileproc processes batches of session files with bounded
// concurrency, per-operation timeouts, and aggregate statistics.
package fileproc

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/joss/prompter/internal/concurrency"
	"github.com/joss/prompter/internal/logging"
)

// Config controls batching and admission limits.
type Config struct {
	// BatchSize bounds how many files are submitted per wave. Batches
	// run sequentially relative to each other to keep memory and stats
	// bounded; it is not a correctness knob.
	BatchSize int

	// MaxConcurrentReads bounds concurrently open reads.
	MaxConcurrentReads int

	// MaxConcurrentWrites bounds concurrently open writes.
	MaxConcurrentWrites int

	// OperationTimeout fails a single file's operation, not the batch.
	OperationTimeout time.Duration
}

// DefaultConfig returns the standard limits.
func DefaultConfig() Config {
	return Config{
		BatchSize:           20,
		MaxConcurrentReads:  10,
		MaxConcurrentWrites: 5,
		OperationTimeout:    30 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.BatchSize < 1 {
		c.BatchSize = d.BatchSize
	}
	if c.MaxConcurrentReads < 1 {
		c.MaxConcurrentReads = d.MaxConcurrentReads
	}
	if c.MaxConcurrentWrites < 1 {
		c.MaxConcurrentWrites = d.MaxConcurrentWrites
	}
	if c.OperationTimeout <= 0 {
		c.OperationTimeout = d.OperationTimeout
	}
	return c
}

// Processor runs file operations in size-bounded batches, each file
// gated by a read or write semaphore.
type Processor struct {
	mu       sync.RWMutex
	cfg      Config
	readSem  *concurrency.Semaphore
	writeSem *concurrency.Semaphore
	log      *logging.Logger
}

// New creates a processor with the given limits.
func New(cfg Config) *Processor {
	cfg = cfg.withDefaults()
	return &Processor{
		cfg:      cfg,
		readSem:  concurrency.NewSemaphore(cfg.MaxConcurrentReads),
		writeSem: concurrency.NewSemaphore(cfg.MaxConcurrentWrites),
		log:      logging.New("fileproc"),
	}
}

// FileError records a single file's failure. Failures are isolated: one
// bad file never aborts its batch.
type FileError struct {
	Path string
	Err  error
}

func (e FileError) Error() string {
	return fmt.Sprintf("%s: %v", e.Path, e.Err)
}

func (e FileError) Unwrap() error { return e.Err }

// Stats aggregates a whole processing run.
type Stats struct {
	Total     int `json:"total"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`

	MinDuration time.Duration `json:"min_duration"`
	MaxDuration time.Duration `json:"max_duration"`
	AvgDuration time.Duration `json:"avg_duration"`

	// AvgQueueWait is the mean time files spent waiting for a permit.
	AvgQueueWait time.Duration `json:"avg_queue_wait"`

	// ConcurrencyUtilization is the observed peak of in-flight
	// operations as a percentage of the configured limit.
	ConcurrencyUtilization float64 `json:"concurrency_utilization"`
}

// Result aggregates outcomes of a batched run. ProcessingOrder is the
// order files completed in, which within a batch is unspecified.
type Result[T any] struct {
	Successful      []T
	Failed          []FileError
	ProcessingOrder []string
	Stats           Stats
}

// FileContent is the unit returned by ReadFilesInBatches.
type FileContent struct {
	Path    string
	Content []byte
}

// FileWrite is the unit consumed by WriteFilesInBatches.
type FileWrite struct {
	Path string
	Data []byte
}

// ProcessFilesInBatches reads every path and applies fn to its content.
// Files are split into fixed-size batches; all files in a batch run
// concurrently, each gated by the read semaphore and wrapped in the
// per-operation timeout. Batch N+1 does not start before batch N has
// fully resolved.
func ProcessFilesInBatches[T any](ctx context.Context, p *Processor, paths []string, fn func(ctx context.Context, path string, content []byte) (T, error)) *Result[T] {
	p.mu.RLock()
	cfg := p.cfg
	sem := p.readSem
	p.mu.RUnlock()

	return runBatches(ctx, p, sem, cfg, paths, func(ctx context.Context, path string) (T, error) {
		content, err := os.ReadFile(path)
		if err != nil {
			var zero T
			return zero, fmt.Errorf("read file: %w", err)
		}
		return fn(ctx, path, content)
	})
}

// ReadFilesInBatches is a convenience wrapper returning raw contents.
func ReadFilesInBatches(ctx context.Context, p *Processor, paths []string) *Result[FileContent] {
	return ProcessFilesInBatches(ctx, p, paths, func(_ context.Context, path string, content []byte) (FileContent, error) {
		return FileContent{Path: path, Content: content}, nil
	})
}

// WriteFilesInBatches writes every file, gated by the write semaphore.
// Successful entries are the written paths.
func WriteFilesInBatches(ctx context.Context, p *Processor, files []FileWrite) *Result[string] {
	p.mu.RLock()
	cfg := p.cfg
	sem := p.writeSem
	p.mu.RUnlock()

	byPath := make(map[string][]byte, len(files))
	paths := make([]string, 0, len(files))
	for _, f := range files {
		byPath[f.Path] = f.Data
		paths = append(paths, f.Path)
	}

	return runBatches(ctx, p, sem, cfg, paths, func(_ context.Context, path string) (string, error) {
		if err := os.WriteFile(path, byPath[path], 0o644); err != nil {
			return "", fmt.Errorf("write file: %w", err)
		}
		return path, nil
	})
}

// runBatches is the shared batch engine: sequential waves, per-file
// semaphore admission and timeout, per-file failure isolation.
func runBatches[T any](ctx context.Context, p *Processor, sem *concurrency.Semaphore, cfg Config, paths []string, op func(ctx context.Context, path string) (T, error)) *Result[T] {
	start := time.Now()
	res := &Result[T]{}
	res.Stats.Total = len(paths)
	if len(paths) == 0 {
		return res
	}

	var mu sync.Mutex
	var durations []time.Duration
	var waits []time.Duration
	peakInFlight := 0

	for batchStart := 0; batchStart < len(paths); batchStart += cfg.BatchSize {
		end := batchStart + cfg.BatchSize
		if end > len(paths) {
			end = len(paths)
		}
		batch := paths[batchStart:end]

		var wg sync.WaitGroup
		for _, path := range batch {
			wg.Add(1)
			go func(path string) {
				defer wg.Done()

				submitted := time.Now()
				var opStart time.Time // guarded by mu
				value, err := concurrency.Execute(ctx, sem, cfg.OperationTimeout, func() (T, error) {
					now := time.Now()
					mu.Lock()
					opStart = now
					if inUse := sem.GetStats().InUse; inUse > peakInFlight {
						peakInFlight = inUse
					}
					mu.Unlock()

					return op(ctx, path)
				})
				settled := time.Now()

				mu.Lock()
				defer mu.Unlock()
				res.ProcessingOrder = append(res.ProcessingOrder, path)
				if !opStart.IsZero() {
					waits = append(waits, opStart.Sub(submitted))
					durations = append(durations, settled.Sub(opStart))
				} else {
					// Never admitted (queue timeout or cancellation).
					waits = append(waits, settled.Sub(submitted))
				}
				if err != nil {
					res.Failed = append(res.Failed, FileError{Path: path, Err: err})
					return
				}
				res.Successful = append(res.Successful, value)
			}(path)
		}
		wg.Wait()
	}

	res.Stats.Succeeded = len(res.Successful)
	res.Stats.Failed = len(res.Failed)
	fillTimingStats(&res.Stats, durations, waits)
	if max := sem.GetStats().MaxPermits; max > 0 {
		res.Stats.ConcurrencyUtilization = float64(peakInFlight) / float64(max) * 100
	}

	p.log.TimedEvent("batch_run", start, map[string]interface{}{
		"total":     res.Stats.Total,
		"succeeded": res.Stats.Succeeded,
		"failed":    res.Stats.Failed,
	})
	return res
}

func fillTimingStats(stats *Stats, durations, waits []time.Duration) {
	if len(durations) > 0 {
		min, max := durations[0], durations[0]
		var sum time.Duration
		for _, d := range durations {
			if d < min {
				min = d
			}
			if d > max {
				max = d
			}
			sum += d
		}
		stats.MinDuration = min
		stats.MaxDuration = max
		stats.AvgDuration = sum / time.Duration(len(durations))
	}
	if len(waits) > 0 {
		var sum time.Duration
		for _, w := range waits {
			sum += w
		}
		stats.AvgQueueWait = sum / time.Duration(len(waits))
	}
}

// Reconfigure replaces the semaphores and limits. New limits apply to
// subsequently queued operations only; in-flight work keeps its permits.
func (p *Processor) Reconfigure(cfg Config) {
	cfg = cfg.withDefaults()
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cfg = cfg
	p.readSem = concurrency.NewSemaphore(cfg.MaxConcurrentReads)
	p.writeSem = concurrency.NewSemaphore(cfg.MaxConcurrentWrites)
	p.log.Info("reconfigured", map[string]interface{}{
		"batch_size": cfg.BatchSize,
		"max_reads":  cfg.MaxConcurrentReads,
		"max_writes": cfg.MaxConcurrentWrites,
	})
}

// Config returns the current configuration.
func (p *Processor) Config() Config {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.cfg
}

// ReadStats and WriteStats expose semaphore snapshots for observability.
func (p *Processor) ReadStats() concurrency.Stats {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.readSem.GetStats()
}

func (p *Processor) WriteStats() concurrency.Stats {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.writeSem.GetStats()
}

// Cleanup drops semaphore bookkeeping. In-flight operations finish
// undisturbed.
func (p *Processor) Cleanup() {
	p.mu.RLock()
	defer p.mu.RUnlock()
	p.readSem.Clear()
	p.writeSem.Clear()
}
