package watcher

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"notaria/internal/intake/processor"
	dErrors "notaria/pkg/domainerrors"
)

// stubProcessor records calls and simulates outcomes per file name.
type stubProcessor struct {
	mu          sync.Mutex
	processed   map[string]int
	quarantined map[string]int
	// fail maps a base name to the error ProcessFile should return.
	fail map[string]error
	// removeOnSuccess mimics the real processor relocating the file.
	removeOnSuccess bool
	// delay slows ProcessFile down to widen shutdown windows.
	delay time.Duration
}

func newStubProcessor() *stubProcessor {
	return &stubProcessor{
		processed:       make(map[string]int),
		quarantined:     make(map[string]int),
		fail:            make(map[string]error),
		removeOnSuccess: true,
	}
}

func (p *stubProcessor) ProcessFile(_ context.Context, path string) (*processor.Result, error) {
	if p.delay > 0 {
		time.Sleep(p.delay)
	}
	name := filepath.Base(path)
	p.mu.Lock()
	p.processed[name]++
	err := p.fail[name]
	p.mu.Unlock()
	if err != nil {
		return nil, err
	}
	if p.removeOnSuccess {
		_ = os.Remove(path)
	}
	return &processor.Result{}, nil
}

func (p *stubProcessor) Quarantine(_ context.Context, path string, _ error) error {
	name := filepath.Base(path)
	p.mu.Lock()
	p.quarantined[name]++
	p.mu.Unlock()
	_ = os.Remove(path)
	return nil
}

func (p *stubProcessor) processedCount(name string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.processed[name]
}

func (p *stubProcessor) quarantinedCount(name string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.quarantined[name]
}

func (p *stubProcessor) totalProcessed() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	total := 0
	for _, count := range p.processed {
		total += count
	}
	return total
}

func testConfig(dir string) Config {
	return Config{
		Dir:           dir,
		Extension:     ".xml",
		ProcessDelay:  20 * time.Millisecond,
		StabilityPoll: 10 * time.Millisecond,
		RetryAttempts: 1,
		RetryBackoff:  10 * time.Millisecond,
		Concurrency:   2,
	}
}

func startWatcher(t *testing.T, dir string, proc Processor) *Watcher {
	t.Helper()
	w, err := New(testConfig(dir), proc)
	require.NoError(t, err)
	require.NoError(t, w.Watch())
	t.Cleanup(w.Stop)
	return w
}

func TestNewRequiresDirectory(t *testing.T) {
	_, err := New(Config{}, newStubProcessor())
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeBadRequest))
}

func TestWatcherProcessesNewFile(t *testing.T) {
	dir := t.TempDir()
	proc := newStubProcessor()
	startWatcher(t, dir, proc)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "invoice.xml"), []byte("<factura/>"), 0o644))

	require.Eventually(t, func() bool {
		return proc.processedCount("invoice.xml") == 1
	}, 3*time.Second, 10*time.Millisecond)
	assert.Equal(t, 0, proc.quarantinedCount("invoice.xml"))
}

func TestWatcherIgnoresOtherExtensionsAndTempFiles(t *testing.T) {
	dir := t.TempDir()
	proc := newStubProcessor()
	startWatcher(t, dir, proc)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "invoice.xml.tmp"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "partial.xml.part"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "real.xml"), []byte("<factura/>"), 0o644))

	require.Eventually(t, func() bool {
		return proc.processedCount("real.xml") == 1
	}, 3*time.Second, 10*time.Millisecond)

	assert.Equal(t, 0, proc.processedCount("notes.txt"))
	assert.Equal(t, 0, proc.processedCount("invoice.xml.tmp"))
	assert.Equal(t, 0, proc.processedCount("partial.xml.part"))
}

func TestWatcherDebouncesWriteBursts(t *testing.T) {
	dir := t.TempDir()
	proc := newStubProcessor()
	proc.removeOnSuccess = false
	startWatcher(t, dir, proc)

	// Several rapid writes to one path must collapse into a single run.
	path := filepath.Join(dir, "burst.xml")
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE, 0o644)
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		_, err = f.Write([]byte("<factura/>"))
		require.NoError(t, err)
		require.NoError(t, f.Sync())
		time.Sleep(2 * time.Millisecond)
	}
	require.NoError(t, f.Close())

	require.Eventually(t, func() bool {
		return proc.processedCount("burst.xml") >= 1
	}, 3*time.Second, 10*time.Millisecond)

	// Give any stray debounce timers a chance to fire, then confirm there
	// was exactly one run.
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 1, proc.processedCount("burst.xml"))
}

func TestWatcherQuarantinesValidationFailureWithoutRetry(t *testing.T) {
	dir := t.TempDir()
	proc := newStubProcessor()
	proc.fail["bad.xml"] = dErrors.New(dErrors.CodeValidation, "not an invoice")
	startWatcher(t, dir, proc)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "bad.xml"), []byte("garbage"), 0o644))

	require.Eventually(t, func() bool {
		return proc.quarantinedCount("bad.xml") == 1
	}, 3*time.Second, 10*time.Millisecond)

	// Deterministic failures skip the retry budget.
	assert.Equal(t, 1, proc.processedCount("bad.xml"))
}

func TestWatcherRetriesTransientFailureThenQuarantines(t *testing.T) {
	dir := t.TempDir()
	proc := newStubProcessor()
	proc.fail["flaky.xml"] = dErrors.New(dErrors.CodeUnavailable, "store down")
	startWatcher(t, dir, proc)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "flaky.xml"), []byte("<factura/>"), 0o644))

	require.Eventually(t, func() bool {
		return proc.quarantinedCount("flaky.xml") == 1
	}, 3*time.Second, 10*time.Millisecond)

	// Initial attempt plus the configured retry.
	assert.Equal(t, 2, proc.processedCount("flaky.xml"))
}

func TestStableDetectsGrowingFile(t *testing.T) {
	dir := t.TempDir()
	w, err := New(testConfig(dir), newStubProcessor())
	require.NoError(t, err)

	path := filepath.Join(dir, "growing.xml")
	require.NoError(t, os.WriteFile(path, []byte("<factura>"), 0o644))

	// Append between the two size samples.
	done := make(chan struct{})
	go func() {
		defer close(done)
		time.Sleep(w.cfg.StabilityPoll / 2)
		f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
		if err == nil {
			_, _ = f.WriteString("<detalle/>")
			f.Close()
		}
	}()

	stable, err := w.stable(path)
	require.NoError(t, err)
	assert.False(t, stable)
	<-done

	stable, err = w.stable(path)
	require.NoError(t, err)
	assert.True(t, stable)
}

func TestWatcherDefersGrowingFileUntilStable(t *testing.T) {
	dir := t.TempDir()
	proc := newStubProcessor()
	startWatcher(t, dir, proc)

	path := filepath.Join(dir, "slow.xml")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	for i := 0; i < 40; i++ {
		_, err := f.WriteString("<detalle/>")
		require.NoError(t, err)
		time.Sleep(5 * time.Millisecond)
	}
	require.NoError(t, f.Close())

	// Once writes cease the next cycle sees a stable file; exactly one
	// processing run, no quarantine.
	require.Eventually(t, func() bool {
		return proc.processedCount("slow.xml") == 1
	}, 3*time.Second, 10*time.Millisecond)
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 1, proc.processedCount("slow.xml"))
	assert.Equal(t, 0, proc.quarantinedCount("slow.xml"))
}

func TestWatcherPicksUpPreexistingFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "old.xml"), []byte("<factura/>"), 0o644))

	proc := newStubProcessor()
	startWatcher(t, dir, proc)

	require.Eventually(t, func() bool {
		return proc.processedCount("old.xml") == 1
	}, 3*time.Second, 10*time.Millisecond)
}

func TestStopBlocksUntilQueuedWorkSettles(t *testing.T) {
	dir := t.TempDir()
	proc := newStubProcessor()
	proc.delay = 50 * time.Millisecond
	cfg := testConfig(dir)
	cfg.Concurrency = 1
	w, err := New(cfg, proc)
	require.NoError(t, err)
	require.NoError(t, w.Watch())

	for i := 0; i < 5; i++ {
		name := fmt.Sprintf("doc%d.xml", i)
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("<factura/>"), 0o644))
	}
	require.Eventually(t, func() bool {
		return proc.totalProcessed() >= 1
	}, 3*time.Second, 5*time.Millisecond)

	w.Stop()
	settled := proc.totalProcessed()

	// No worker may keep running once Stop has returned; files never picked
	// up stay in the intake directory for the next start.
	time.Sleep(300 * time.Millisecond)
	assert.Equal(t, settled, proc.totalProcessed())
}

func TestWatcherStopIsIdempotentAndDrains(t *testing.T) {
	dir := t.TempDir()
	proc := newStubProcessor()
	w, err := New(testConfig(dir), proc)
	require.NoError(t, err)
	require.NoError(t, w.Watch())

	require.NoError(t, os.WriteFile(filepath.Join(dir, "last.xml"), []byte("<factura/>"), 0o644))
	require.Eventually(t, func() bool {
		return proc.processedCount("last.xml") == 1
	}, 3*time.Second, 10*time.Millisecond)

	w.Stop()
	w.Stop()

	// Files arriving after Stop are ignored.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "late.xml"), []byte("<factura/>"), 0o644))
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 0, proc.processedCount("late.xml"))
}
