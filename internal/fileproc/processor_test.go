package fileproc

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joss/prompter/internal/concurrency"
)

func writeTestFiles(t *testing.T, dir string, n int) []string {
	t.Helper()
	paths := make([]string, 0, n)
	for i := 0; i < n; i++ {
		path := filepath.Join(dir, fmt.Sprintf("file-%02d.json", i))
		require.NoError(t, os.WriteFile(path, []byte(fmt.Sprintf(`{"n":%d}`, i)), 0o644))
		paths = append(paths, path)
	}
	return paths
}

func TestProcessFilesInBatches(t *testing.T) {
	dir := t.TempDir()
	paths := writeTestFiles(t, dir, 12)

	p := New(Config{BatchSize: 5, MaxConcurrentReads: 4, OperationTimeout: time.Second})
	res := ProcessFilesInBatches(context.Background(), p, paths, func(_ context.Context, path string, content []byte) (string, error) {
		return path + ":" + string(content), nil
	})

	assert.Len(t, res.Successful, 12)
	assert.Empty(t, res.Failed)
	assert.Len(t, res.ProcessingOrder, 12)
	assert.Equal(t, 12, res.Stats.Total)
	assert.Equal(t, 12, res.Stats.Succeeded)
	assert.GreaterOrEqual(t, res.Stats.MaxDuration, res.Stats.MinDuration)
}

func TestBatchesRunSequentially(t *testing.T) {
	dir := t.TempDir()
	paths := writeTestFiles(t, dir, 10)

	p := New(Config{BatchSize: 5, MaxConcurrentReads: 10, OperationTimeout: time.Second})

	var mu sync.Mutex
	seenBatch2BeforeBatch1Done := false
	batch1Remaining := 5

	firstBatch := map[string]bool{}
	for _, path := range paths[:5] {
		firstBatch[path] = true
	}

	ProcessFilesInBatches(context.Background(), p, paths, func(_ context.Context, path string, _ []byte) (struct{}, error) {
		mu.Lock()
		defer mu.Unlock()
		if firstBatch[path] {
			batch1Remaining--
		} else if batch1Remaining > 0 {
			seenBatch2BeforeBatch1Done = true
		}
		return struct{}{}, nil
	})

	assert.False(t, seenBatch2BeforeBatch1Done, "second batch started before first resolved")
}

func TestFailuresAreIsolatedPerFile(t *testing.T) {
	dir := t.TempDir()
	paths := writeTestFiles(t, dir, 4)
	paths = append(paths, filepath.Join(dir, "does-not-exist.json"))

	p := New(DefaultConfig())
	res := ReadFilesInBatches(context.Background(), p, paths)

	assert.Len(t, res.Successful, 4)
	require.Len(t, res.Failed, 1)
	assert.True(t, strings.HasSuffix(res.Failed[0].Path, "does-not-exist.json"))
	assert.Error(t, res.Failed[0].Err)
}

// Fifty files through five permits, five of them slow enough to time
// out: exactly 45 successes, 5 failures, and the observed in-flight
// peak never exceeds the permit count.
func TestTimeoutsAndConcurrencyCap(t *testing.T) {
	dir := t.TempDir()
	paths := writeTestFiles(t, dir, 50)

	slow := map[string]bool{}
	for _, path := range paths[:5] {
		slow[path] = true
	}

	p := New(Config{BatchSize: 10, MaxConcurrentReads: 5, OperationTimeout: 50 * time.Millisecond})

	res := ProcessFilesInBatches(context.Background(), p, paths, func(_ context.Context, path string, _ []byte) (string, error) {
		if slow[path] {
			time.Sleep(300 * time.Millisecond)
		}
		return path, nil
	})

	assert.Len(t, res.Successful, 45)
	require.Len(t, res.Failed, 5)
	for _, f := range res.Failed {
		assert.ErrorIs(t, f.Err, concurrency.ErrTimeout)
		assert.True(t, slow[f.Path])
	}
	// The semaphore counter is the instrumented source of truth for
	// in-flight admission; a timed-out read surrenders its permit.
	assert.LessOrEqual(t, p.ReadStats().PeakInUse, 5)
	assert.Greater(t, p.ReadStats().PeakInUse, 0)
	assert.LessOrEqual(t, res.Stats.ConcurrencyUtilization, 100.0)
	assert.Greater(t, res.Stats.ConcurrencyUtilization, 0.0)
}

func TestWriteFilesInBatches(t *testing.T) {
	dir := t.TempDir()

	files := make([]FileWrite, 0, 8)
	for i := 0; i < 8; i++ {
		files = append(files, FileWrite{
			Path: filepath.Join(dir, fmt.Sprintf("out-%d.json", i)),
			Data: []byte(fmt.Sprintf(`{"i":%d}`, i)),
		})
	}

	p := New(DefaultConfig())
	res := WriteFilesInBatches(context.Background(), p, files)

	assert.Len(t, res.Successful, 8)
	assert.Empty(t, res.Failed)
	for _, f := range files {
		data, err := os.ReadFile(f.Path)
		require.NoError(t, err)
		assert.Equal(t, f.Data, data)
	}
}

func TestReconfigure(t *testing.T) {
	p := New(DefaultConfig())
	p.Reconfigure(Config{BatchSize: 3, MaxConcurrentReads: 2, MaxConcurrentWrites: 1, OperationTimeout: time.Second})

	cfg := p.Config()
	assert.Equal(t, 3, cfg.BatchSize)
	assert.Equal(t, 2, cfg.MaxConcurrentReads)
	assert.Equal(t, 2, p.ReadStats().MaxPermits)
	assert.Equal(t, 1, p.WriteStats().MaxPermits)
}

func TestCleanupResetsBookkeeping(t *testing.T) {
	dir := t.TempDir()
	paths := writeTestFiles(t, dir, 3)

	p := New(DefaultConfig())
	ReadFilesInBatches(context.Background(), p, paths)
	require.Greater(t, p.ReadStats().Completed, int64(0))

	p.Cleanup()
	assert.Equal(t, int64(0), p.ReadStats().Completed)
}

func TestEmptyInput(t *testing.T) {
	p := New(DefaultConfig())
	res := ReadFilesInBatches(context.Background(), p, nil)
	assert.Empty(t, res.Successful)
	assert.Empty(t, res.Failed)
	assert.Equal(t, 0, res.Stats.Total)
}
