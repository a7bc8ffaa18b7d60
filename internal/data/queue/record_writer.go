package queue

import (
	"context"
	stderrors "errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"omniworker/internal/core/ports"
	"omniworker/internal/shared/observability"
)

type WriterOptions struct {
	Capacity      int
	BatchSize     int
	FlushInterval time.Duration
}

func DefaultWriterOptions() WriterOptions {
	return WriterOptions{Capacity: 256, BatchSize: 32, FlushInterval: 100 * time.Millisecond}
}

// RecordWriter queues build records and writes them to sink in batches from
// one goroutine. A full or closed queue falls back to a direct write, so no
// record is dropped.
type RecordWriter struct {
	queue *MemoryQueue[ports.BuildRecord]
	sink  ports.BuildRecorder
	opts  WriterOptions

	mu      sync.Mutex
	pending int
	idle    *sync.Cond

	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once
}

var _ ports.BuildRecorder = (*RecordWriter)(nil)

func NewRecordWriter(sink ports.BuildRecorder, opts WriterOptions) *RecordWriter {
	defaults := DefaultWriterOptions()
	if opts.Capacity <= 0 {
		opts.Capacity = defaults.Capacity
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = defaults.BatchSize
	}
	if opts.FlushInterval <= 0 {
		opts.FlushInterval = defaults.FlushInterval
	}

	ctx, cancel := context.WithCancel(context.Background())
	w := &RecordWriter{
		queue:  NewMemoryQueue[ports.BuildRecord](opts.Capacity),
		sink:   sink,
		opts:   opts,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	w.idle = sync.NewCond(&w.mu)
	go w.run(ctx)
	return w
}

func (w *RecordWriter) RecordBuild(ctx context.Context, rec ports.BuildRecord) error {
	w.mu.Lock()
	w.pending++
	w.mu.Unlock()

	if w.queue.Enqueue(rec) == EnqueueAccepted {
		observability.LedgerQueueDepth.Set(float64(w.queue.Len()))
		return nil
	}

	err := w.sink.RecordBuild(ctx, rec)
	w.finish(1)
	observability.LedgerWritesTotal.WithLabelValues("inline", outcome(err)).Inc()
	return err
}

// Flush blocks until every record accepted so far has been written.
func (w *RecordWriter) Flush() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for w.pending > 0 {
		w.idle.Wait()
	}
}

// Close writes out the queue and stops the writer. If ctx ends first the
// remaining records are abandoned.
func (w *RecordWriter) Close(ctx context.Context) error {
	w.closeOnce.Do(func() { _ = w.queue.Close() })
	select {
	case <-w.done:
		return nil
	case <-ctx.Done():
		w.cancel()
		<-w.done
		return ctx.Err()
	}
}

func (w *RecordWriter) run(ctx context.Context) {
	defer close(w.done)
	defer w.release()

	for {
		batch, err := w.queue.DequeueBatch(ctx, w.opts.BatchSize, w.opts.FlushInterval)
		if len(batch) > 0 {
			w.write(batch)
		}
		switch {
		case err == nil:
		case stderrors.Is(err, io.EOF), stderrors.Is(err, context.Canceled):
			return
		default:
			slog.Warn("build record queue failed", "error", err)
			return
		}
	}
}

func (w *RecordWriter) write(batch []ports.BuildRecord) {
	ctx := context.Background()
	var err error
	if br, ok := w.sink.(ports.BatchRecorder); ok {
		err = br.RecordBuilds(ctx, batch)
	} else {
		for _, rec := range batch {
			if recErr := w.sink.RecordBuild(ctx, rec); recErr != nil {
				err = recErr
			}
		}
	}
	if err != nil {
		slog.Warn("failed to write build records", "count", len(batch), "error", err)
	}
	observability.LedgerWritesTotal.WithLabelValues("batched", outcome(err)).Add(float64(len(batch)))
	observability.LedgerQueueDepth.Set(float64(w.queue.Len()))
	w.finish(len(batch))
}

func (w *RecordWriter) finish(n int) {
	w.mu.Lock()
	w.pending -= n
	if w.pending <= 0 {
		w.pending = 0
		w.idle.Broadcast()
	}
	w.mu.Unlock()
}

// release wakes Flush callers once the loop has stopped, whatever is left.
func (w *RecordWriter) release() {
	w.mu.Lock()
	w.pending = 0
	w.idle.Broadcast()
	w.mu.Unlock()
}

func outcome(err error) string {
	if err != nil {
		return "failure"
	}
	return "success"
}
