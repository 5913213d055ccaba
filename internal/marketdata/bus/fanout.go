// Package bus broadcasts pipeline records to several consumers (sinks,
// notifiers, the API cache) from a single producer.
package bus

import (
	"context"
	"log/slog"
	"sync"

	"signal-systemv1/internal/model"
)

// FanOut broadcasts records from a single input channel to N output channels.
// If an output channel is full, the record is dropped for that consumer so a
// slow consumer cannot block the pipeline.
type FanOut struct {
	mu      sync.RWMutex
	outputs []subscriber
	bufSize int

	// OnDrop is called when a record is dropped for the named subscriber.
	OnDrop func(name string)
}

type subscriber struct {
	name string
	ch   chan model.Record
}

// New creates a FanOut with the given buffer size for output channels.
func New(outputBufferSize int) *FanOut {
	return &FanOut{bufSize: outputBufferSize}
}

// Subscribe creates and returns a new output channel. name labels drops.
// Subscribe must be called before Run.
func (f *FanOut) Subscribe(name string) <-chan model.Record {
	ch := make(chan model.Record, f.bufSize)
	f.mu.Lock()
	f.outputs = append(f.outputs, subscriber{name: name, ch: ch})
	f.mu.Unlock()
	return ch
}

// Run reads from input and fans out to all subscribers. It blocks until ctx
// is cancelled or input is closed, then closes every output.
func (f *FanOut) Run(ctx context.Context, input <-chan model.Record) {
	defer func() {
		f.mu.RLock()
		for _, s := range f.outputs {
			close(s.ch)
		}
		f.mu.RUnlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case rec, ok := <-input:
			if !ok {
				return
			}
			f.mu.RLock()
			for _, s := range f.outputs {
				select {
				case s.ch <- rec:
				default:
					if f.OnDrop != nil {
						f.OnDrop(s.name)
					} else {
						slog.Warn("fanout subscriber full, dropping record",
							slog.String("subscriber", s.name),
							slog.String("symbol", rec.Symbol),
							slog.Time("ts", rec.TS),
						)
					}
				}
			}
			f.mu.RUnlock()
		}
	}
}

// ChannelStat is the fill level of one subscriber channel.
type ChannelStat struct {
	Name string
	Len  int
	Cap  int
}

// ChannelStats returns the fill level of each subscriber channel.
func (f *FanOut) ChannelStats() []ChannelStat {
	f.mu.RLock()
	defer f.mu.RUnlock()
	stats := make([]ChannelStat, len(f.outputs))
	for i, s := range f.outputs {
		stats[i] = ChannelStat{Name: s.name, Len: len(s.ch), Cap: cap(s.ch)}
	}
	return stats
}
