package redis

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"signal-systemv1/internal/model"
)

// pendingWrite is a record batch held back while the circuit is open.
type pendingWrite struct {
	symbol  string
	records []model.Record
}

// BufferedWriter wraps a record sink (normally *Writer) with a circuit
// breaker. While the circuit is open, batches are held in memory and
// replayed, in order, once a later write gets through.
// It implements model.RecordSink.
type BufferedWriter struct {
	sink model.RecordSink
	cb   *CircuitBreaker

	mu      sync.Mutex
	buffer  []pendingWrite
	maxBuf  int // max buffered batches before dropping oldest
	dropped int

	// Callbacks (optional, for metrics)
	OnBuffer func()          // a batch was buffered
	OnFlush  func(count int) // buffered batches were replayed
}

// NewBufferedWriter creates a BufferedWriter around sink.
func NewBufferedWriter(sink model.RecordSink, cb *CircuitBreaker, maxBufferSize int) *BufferedWriter {
	if maxBufferSize <= 0 {
		maxBufferSize = 10000
	}
	return &BufferedWriter{
		sink:   sink,
		cb:     cb,
		buffer: make([]pendingWrite, 0, 64),
		maxBuf: maxBufferSize,
	}
}

// WriteRecords writes through the circuit breaker. An open circuit buffers
// the batch and returns nil. Any other failure is returned to the caller.
func (bw *BufferedWriter) WriteRecords(ctx context.Context, symbol string, records []model.Record) error {
	if len(records) == 0 {
		return nil
	}
	if bw.PendingCount() > 0 {
		bw.flush(ctx)
	}

	err := bw.cb.Execute(func() error {
		return bw.sink.WriteRecords(ctx, symbol, records)
	})
	if errors.Is(err, ErrCircuitOpen) {
		bw.bufferWrite(symbol, records)
		return nil
	}
	return err
}

func (bw *BufferedWriter) bufferWrite(symbol string, records []model.Record) {
	cp := make([]model.Record, len(records))
	copy(cp, records)

	bw.mu.Lock()
	if len(bw.buffer) >= bw.maxBuf {
		bw.buffer = bw.buffer[1:]
		bw.dropped++
	}
	bw.buffer = append(bw.buffer, pendingWrite{symbol: symbol, records: cp})
	bw.mu.Unlock()

	if bw.OnBuffer != nil {
		bw.OnBuffer()
	}
}

// flush replays buffered batches through the breaker. It stops at the first
// failure and keeps the rest for later.
func (bw *BufferedWriter) flush(ctx context.Context) {
	bw.mu.Lock()
	toFlush := bw.buffer
	bw.buffer = make([]pendingWrite, 0, 64)
	bw.mu.Unlock()

	flushed := 0
	for i, pw := range toFlush {
		err := bw.cb.Execute(func() error {
			return bw.sink.WriteRecords(ctx, pw.symbol, pw.records)
		})
		if err != nil {
			bw.mu.Lock()
			bw.buffer = append(append([]pendingWrite{}, toFlush[i:]...), bw.buffer...)
			bw.mu.Unlock()
			break
		}
		flushed++
	}

	if flushed > 0 {
		slog.Info("redis flushed buffered writes", slog.Int("count", flushed))
		if bw.OnFlush != nil {
			bw.OnFlush(flushed)
		}
	}
}

// PendingCount returns the number of buffered batches waiting to be flushed.
func (bw *BufferedWriter) PendingCount() int {
	bw.mu.Lock()
	defer bw.mu.Unlock()
	return len(bw.buffer)
}

// Dropped returns how many batches were discarded because the buffer was full.
func (bw *BufferedWriter) Dropped() int {
	bw.mu.Lock()
	defer bw.mu.Unlock()
	return bw.dropped
}

// Close attempts a final flush and closes the underlying sink.
func (bw *BufferedWriter) Close() error {
	bw.flush(context.Background())
	if n := bw.PendingCount(); n > 0 {
		slog.Warn("redis closing with unflushed writes", slog.Int("pending", n))
	}
	return bw.sink.Close()
}
