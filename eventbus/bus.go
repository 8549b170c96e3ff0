// Package eventbus is the structured event bus called for in design note
// §9 ("'Event logging' as ad-hoc printf calls -> a structured event bus
// (emit {subsystem, level, code, fields})"). It is intentionally small:
// fan-out to subscriber channels under a read-write mutex, the same
// concurrency shape as the teacher's channel-based notification plumbing
// in services/blockassembly (blockchainSubscriptionCh) and subtreeprocessor
// (LockFreeQueue) without requiring a message broker — out of scope per
// spec.md §1.
package eventbus

import "sync"

// Level mirrors typical structured-logging severities.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

// Event is the payload emitted by every component onto the bus.
type Event struct {
	Subsystem string
	Level     Level
	Code      string
	Fields    map[string]interface{}
}

// Bus is a process-wide, in-memory publish/subscribe channel.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[int]chan Event
	nextID      int
	bufferSize  int
}

// New creates a Bus whose subscriber channels are buffered to bufferSize;
// a slow subscriber drops events rather than blocking a publisher, since
// this bus sits on the block-validation hot path.
func New(bufferSize int) *Bus {
	if bufferSize <= 0 {
		bufferSize = 64
	}
	return &Bus{
		subscribers: make(map[int]chan Event),
		bufferSize:  bufferSize,
	}
}

// Subscribe registers a new listener and returns its channel plus an
// unsubscribe function.
func (b *Bus) Subscribe() (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++

	ch := make(chan Event, b.bufferSize)
	b.subscribers[id] = ch

	return ch, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if existing, ok := b.subscribers[id]; ok {
			delete(b.subscribers, id)
			close(existing)
		}
	}
}

// Emit publishes an event to every current subscriber, dropping it for any
// subscriber whose buffer is full.
func (b *Bus) Emit(e Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, ch := range b.subscribers {
		select {
		case ch <- e:
		default:
		}
	}
}

func (b *Bus) emitf(subsystem string, level Level, code string, fields map[string]interface{}) {
	b.Emit(Event{Subsystem: subsystem, Level: level, Code: code, Fields: fields})
}

func (b *Bus) Debug(subsystem, code string, fields map[string]interface{}) {
	b.emitf(subsystem, LevelDebug, code, fields)
}

func (b *Bus) Info(subsystem, code string, fields map[string]interface{}) {
	b.emitf(subsystem, LevelInfo, code, fields)
}

func (b *Bus) Warn(subsystem, code string, fields map[string]interface{}) {
	b.emitf(subsystem, LevelWarn, code, fields)
}

func (b *Bus) ErrorEvent(subsystem, code string, fields map[string]interface{}) {
	b.emitf(subsystem, LevelError, code, fields)
}
