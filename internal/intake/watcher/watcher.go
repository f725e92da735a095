// Package watcher observes the intake directory and feeds stable files to
// the processor through a bounded worker pool.
//
// Event flow: fsnotify create/write → per-path debounce timer → FIFO queue →
// worker. Rapid successive writes to one path collapse into a single
// enqueue (last event wins). Files that fail the stability check are
// re-armed for a later cycle without spending the error-retry budget.
package watcher

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"golang.org/x/sync/errgroup"

	intakemetrics "notaria/internal/intake/metrics"
	"notaria/internal/intake/processor"
	dErrors "notaria/pkg/domainerrors"
)

// Processor is the per-file seam; satisfied by processor.Service.
type Processor interface {
	ProcessFile(ctx context.Context, path string) (*processor.Result, error)
	Quarantine(ctx context.Context, path string, cause error) error
}

// Config carries the watcher knobs. Zero durations fall back to defaults.
type Config struct {
	Dir           string
	Extension     string
	ProcessDelay  time.Duration
	StabilityPoll time.Duration
	RetryAttempts int
	RetryBackoff  time.Duration
	Concurrency   int
}

func (c *Config) applyDefaults() {
	if c.Extension == "" {
		c.Extension = ".xml"
	}
	if c.ProcessDelay <= 0 {
		c.ProcessDelay = 2 * time.Second
	}
	if c.StabilityPoll <= 0 {
		c.StabilityPoll = 500 * time.Millisecond
	}
	if c.RetryAttempts <= 0 {
		c.RetryAttempts = 3
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = 2 * time.Second
	}
	if c.Concurrency <= 0 {
		c.Concurrency = 2
	}
}

// tempSuffixes are partial-write artifacts the watcher must never process.
var tempSuffixes = []string{".tmp", ".part", ".crdownload", ".swp", "~"}

// Watcher monitors one intake directory. Watch starts it; Stop halts new
// events, cancels pending timers, and blocks until in-flight workers finish.
type Watcher struct {
	cfg     Config
	proc    Processor
	logger  *slog.Logger
	metrics *intakemetrics.Metrics

	fsw   *fsnotify.Watcher
	queue chan string

	mu     sync.Mutex
	timers map[string]*time.Timer
	closed bool

	loopDone     chan struct{}
	dispatchDone chan struct{}
	workers      *errgroup.Group
	stopOnce     sync.Once
}

type Option func(*Watcher)

func WithLogger(logger *slog.Logger) Option {
	return func(w *Watcher) { w.logger = logger }
}

func WithMetrics(m *intakemetrics.Metrics) Option {
	return func(w *Watcher) { w.metrics = m }
}

func New(cfg Config, proc Processor, opts ...Option) (*Watcher, error) {
	cfg.applyDefaults()
	if cfg.Dir == "" {
		return nil, dErrors.New(dErrors.CodeBadRequest, "watch directory is required")
	}
	w := &Watcher{
		cfg:          cfg,
		proc:         proc,
		queue:        make(chan string, 256),
		timers:       make(map[string]*time.Timer),
		loopDone:     make(chan struct{}),
		dispatchDone: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// Watch begins monitoring the intake directory and processing files. It
// returns once the watcher is running; processing continues in the
// background until Stop.
func (w *Watcher) Watch() error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "cannot create filesystem watcher")
	}
	if err := fsw.Add(w.cfg.Dir); err != nil {
		fsw.Close()
		return dErrors.Wrap(err, dErrors.CodeInternal, "cannot watch intake directory")
	}
	w.fsw = fsw

	group := &errgroup.Group{}
	group.SetLimit(w.cfg.Concurrency)
	w.workers = group

	go w.eventLoop()
	go w.dispatch()

	w.logInfo("watcher started",
		"dir", w.cfg.Dir,
		"extension", w.cfg.Extension,
		"concurrency", w.cfg.Concurrency)

	// Pick up files already sitting in the directory at startup; events
	// only cover files that arrive while we are watching.
	w.scanExisting()
	return nil
}

// Stop halts event intake, cancels pending debounce timers, and waits for
// active workers to drain. No file is aborted mid-processing: queued paths
// not yet picked up by a worker stay in the intake directory, where the
// startup scan finds them on the next run.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		if w.fsw != nil {
			w.fsw.Close()
			<-w.loopDone
		}

		w.mu.Lock()
		w.closed = true
		for path, timer := range w.timers {
			timer.Stop()
			delete(w.timers, path)
		}
		w.mu.Unlock()

		// dispatch must finish draining the queue before workers.Wait:
		// submitting to the group concurrently with Wait is a misuse.
		close(w.queue)
		if w.fsw != nil {
			<-w.dispatchDone
		}
		if w.workers != nil {
			_ = w.workers.Wait()
		}
		w.logInfo("watcher stopped")
	})
}

func (w *Watcher) eventLoop() {
	defer close(w.loopDone)
	for {
		select {
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			if !w.eligible(event.Name) {
				continue
			}
			w.scheduleDebounce(event.Name)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			// Watch errors are logged and never crash the watcher.
			w.logWarn("filesystem watch error", "error", err)
		}
	}
}

// eligible filters by extension and temp-file suffixes. The intake directory
// is scanned non-recursively; fsnotify.Add is already non-recursive.
func (w *Watcher) eligible(path string) bool {
	name := filepath.Base(path)
	lower := strings.ToLower(name)
	for _, suffix := range tempSuffixes {
		if strings.HasSuffix(lower, suffix) {
			return false
		}
	}
	return strings.HasSuffix(lower, strings.ToLower(w.cfg.Extension))
}

// scheduleDebounce starts or resets the per-path debounce timer: a new event
// for the same path cancels and restarts it, so a burst of writes yields one
// enqueue.
func (w *Watcher) scheduleDebounce(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	if timer, ok := w.timers[path]; ok {
		timer.Stop()
	}
	w.timers[path] = time.AfterFunc(w.cfg.ProcessDelay, func() {
		w.enqueue(path)
	})
}

func (w *Watcher) enqueue(path string) {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	delete(w.timers, path)

	select {
	case w.queue <- path:
		if w.metrics != nil {
			w.metrics.QueueDepth.Inc()
		}
	default:
		// Queue full: re-arm instead of blocking the timer goroutine.
		w.timers[path] = time.AfterFunc(w.cfg.ProcessDelay, func() {
			w.enqueue(path)
		})
	}
	w.mu.Unlock()
}

func (w *Watcher) dispatch() {
	defer close(w.dispatchDone)
	for path := range w.queue {
		if w.isClosed() {
			// Shutting down: leave the file where it is instead of
			// starting new work behind Stop's back.
			if w.metrics != nil {
				w.metrics.QueueDepth.Dec()
			}
			continue
		}
		p := path
		w.workers.Go(func() error {
			defer func() {
				if w.metrics != nil {
					w.metrics.QueueDepth.Dec()
				}
			}()
			w.handle(p)
			return nil
		})
	}
}

func (w *Watcher) isClosed() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closed
}

// handle runs the stability check, the retry loop, and the final quarantine
// for one admitted path.
func (w *Watcher) handle(path string) {
	ctx := context.Background()

	stable, err := w.stable(path)
	if err != nil {
		if os.IsNotExist(err) {
			// Gone before we got to it; nothing to do.
			return
		}
		w.logWarn("stability check failed", "file", filepath.Base(path), "error", err)
		w.rearm(path)
		return
	}
	if !stable {
		// Still being written. Not an error, so no retry budget is spent:
		// the debounce timer simply re-arms for a later cycle.
		w.logInfo("file not yet stable, rescheduling", "file", filepath.Base(path))
		w.rearm(path)
		return
	}

	var lastErr error
	for attempt := 0; attempt <= w.cfg.RetryAttempts; attempt++ {
		if attempt > 0 {
			if w.metrics != nil {
				w.metrics.ProcessRetries.Inc()
			}
			time.Sleep(w.cfg.RetryBackoff)
		}
		_, err := w.proc.ProcessFile(ctx, path)
		if err == nil {
			return
		}
		lastErr = err
		if dErrors.HasCode(err, dErrors.CodeValidation) {
			// Deterministic failure: retrying cannot help.
			break
		}
		w.logWarn("processing failed",
			"file", filepath.Base(path),
			"attempt", attempt+1,
			"error", err)
	}

	if err := w.proc.Quarantine(ctx, path, lastErr); err != nil {
		// The quarantine guarantee itself failed; this is the only case
		// worth shouting about.
		w.logError("quarantine failed, file left in intake",
			"file", filepath.Base(path),
			"error", err)
	}
}

// stable samples the file size twice with a short delay; unequal sizes mean
// the file is still being written.
func (w *Watcher) stable(path string) (bool, error) {
	first, err := os.Stat(path)
	if err != nil {
		return false, err
	}
	time.Sleep(w.cfg.StabilityPoll)
	second, err := os.Stat(path)
	if err != nil {
		return false, err
	}
	return first.Size() == second.Size(), nil
}

func (w *Watcher) rearm(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	if timer, ok := w.timers[path]; ok {
		timer.Stop()
	}
	w.timers[path] = time.AfterFunc(w.cfg.ProcessDelay, func() {
		w.enqueue(path)
	})
}

// scanExisting enqueues files already present at startup through the same
// debounce path as live events.
func (w *Watcher) scanExisting() {
	entries, err := os.ReadDir(w.cfg.Dir)
	if err != nil {
		w.logWarn("cannot scan intake directory", "error", err)
		return
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		path := filepath.Join(w.cfg.Dir, entry.Name())
		if w.eligible(path) {
			w.scheduleDebounce(path)
		}
	}
}

func (w *Watcher) logInfo(msg string, args ...any) {
	if w.logger != nil {
		w.logger.Info(msg, args...)
	}
}

func (w *Watcher) logWarn(msg string, args ...any) {
	if w.logger != nil {
		w.logger.Warn(msg, args...)
	}
}

func (w *Watcher) logError(msg string, args ...any) {
	if w.logger != nil {
		w.logger.Error(msg, args...)
	}
}
