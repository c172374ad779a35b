package hooks

import (
	"sync"
	"sync/atomic"

	"github.com/Skryldev/image-uploader/core"
)

// ChannelSink delivers progress events on a buffered channel.  Emit never
// blocks: when the buffer is full the event is dropped and counted.
type ChannelSink struct {
	ch      chan core.ProgressEvent
	once    sync.Once
	mu      sync.RWMutex
	closed  bool
	dropped atomic.Int64
}

// NewChannelSink returns a sink with the given buffer size.
func NewChannelSink(buffer int) *ChannelSink {
	if buffer < 0 {
		buffer = 0
	}
	return &ChannelSink{ch: make(chan core.ProgressEvent, buffer)}
}

// Events is the consumer side.
func (s *ChannelSink) Events() <-chan core.ProgressEvent { return s.ch }

func (s *ChannelSink) Emit(ev core.ProgressEvent) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return
	}
	select {
	case s.ch <- ev:
	default:
		s.dropped.Add(1)
	}
}

// Dropped returns how many events did not fit in the buffer.
func (s *ChannelSink) Dropped() int64 { return s.dropped.Load() }

// Close closes the channel.  Later Emits are ignored.
func (s *ChannelSink) Close() {
	s.once.Do(func() {
		s.mu.Lock()
		s.closed = true
		close(s.ch)
		s.mu.Unlock()
	})
}

// Fanout emits every event to each sink in turn.
type Fanout []core.ProgressSink

func (f Fanout) Emit(ev core.ProgressEvent) {
	for _, s := range f {
		if s != nil {
			s.Emit(ev)
		}
	}
}

var (
	_ core.ProgressSink = (*ChannelSink)(nil)
	_ core.ProgressSink = Fanout(nil)
)
