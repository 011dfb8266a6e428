package logging

import (
	"container/ring"
	"fmt"
	"io"
	"os"
	"sync"
)

// DefaultBufferSize is the number of recent log lines retained for
// subscribers that attach after lines were written.
const DefaultBufferSize = 200

// broadcastWarnWriter receives the warning emitted when a subscriber channel
// would block; swappable in tests.
var broadcastWarnWriter io.Writer = os.Stderr

// LogBroadcaster fans written log lines out to in-process subscribers (the
// CLI's `watch --tail` uses this to stream logs without a network protocol).
// A full subscriber channel drops the message rather than blocking Write.
type LogBroadcaster struct {
	mu          sync.Mutex
	buffer      *ring.Ring
	subscribers map[string]chan string
}

// NewLogBroadcaster returns a broadcaster with an empty ring buffer.
func NewLogBroadcaster() *LogBroadcaster {
	return &LogBroadcaster{
		buffer:      ring.New(DefaultBufferSize),
		subscribers: make(map[string]chan string),
	}
}

// Write implements io.Writer. It never returns an error for a blocked
// subscriber; the line is simply dropped for that subscriber and a warning
// is logged.
func (b *LogBroadcaster) Write(p []byte) (int, error) {
	line := string(p)

	b.mu.Lock()
	b.buffer.Value = line
	b.buffer = b.buffer.Next()
	subscribers := make(map[string]chan string, len(b.subscribers))
	for id, ch := range b.subscribers {
		subscribers[id] = ch
	}
	b.mu.Unlock()

	for id, ch := range subscribers {
		select {
		case ch <- line:
		default:
			fmt.Fprintf(broadcastWarnWriter, "reason=subscriber_blocked subscriber_id=%s action=drop_message\n", id)
		}
	}

	return len(p), nil
}

// Subscribe registers a new subscriber and returns a channel that receives
// every line written after this call, plus the function to unregister it.
func (b *LogBroadcaster) Subscribe(id string) (<-chan string, func()) {
	ch := make(chan string, 64)

	b.mu.Lock()
	b.subscribers[id] = ch
	b.mu.Unlock()

	return ch, func() { b.Unsubscribe(id) }
}

// Unsubscribe removes and closes a subscriber's channel.
func (b *LogBroadcaster) Unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if ch, ok := b.subscribers[id]; ok {
		delete(b.subscribers, id)
		close(ch)
	}
}

// Recent returns up to DefaultBufferSize most recently written lines, oldest
// first.
func (b *LogBroadcaster) Recent() []string {
	b.mu.Lock()
	defer b.mu.Unlock()

	lines := make([]string, 0, DefaultBufferSize)
	b.buffer.Do(func(v interface{}) {
		if v == nil {
			return
		}
		if line, ok := v.(string); ok {
			lines = append(lines, line)
		}
	})
	return lines
}
