package audit

// The drain goroutine is the only reader of l.ch and the only writer to l.w.
// l.mu guards the ring pointer alone; drain releases it before Push.

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// queueSize is the capacity of the async write channel.
const queueSize = 4096

type entry struct {
	data []byte
	ev   Event
}

// Logger writes events as JSONL on a background goroutine. A nil *Logger
// discards everything, so services can run without one.
type Logger struct {
	mu         sync.Mutex
	ring       *RingBuffer
	instanceID string
	ch         chan entry
	w          io.Writer
	dropped    atomic.Uint64
	closed     atomic.Bool
	done       chan struct{}
	closeOnce  sync.Once
}

// NewLogger starts a Logger writing to w. Call Close to flush.
func NewLogger(w io.Writer) *Logger {
	l := &Logger{
		instanceID: uuid.NewString()[:8],
		ch:         make(chan entry, queueSize),
		w:          w,
		done:       make(chan struct{}),
	}
	go l.drain()
	return l
}

// NewNullLogger returns a Logger that discards output.
func NewNullLogger() *Logger {
	return NewLogger(io.Discard)
}

// OpenFile opens (or creates) an append-only JSONL event file.
func OpenFile(path string) (*Logger, *os.File, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, nil, fmt.Errorf("open event log: %w", err)
	}
	return NewLogger(f), f, nil
}

func (l *Logger) drain() {
	defer close(l.done)
	for e := range l.ch {
		if _, err := l.w.Write(e.data); err != nil {
			l.dropped.Add(1)
		}

		l.mu.Lock()
		rb := l.ring
		l.mu.Unlock()

		if rb != nil {
			rb.Push(e.ev)
		}
	}
}

// Emit queues an event. Time defaults to now. Never blocks: when the queue
// is full or the logger is closed the event is counted as dropped.
func (l *Logger) Emit(e Event) {
	if l == nil {
		return
	}
	// A send racing Close panics on the closed channel.
	defer func() {
		if recover() != nil {
			l.dropped.Add(1)
		}
	}()

	if l.closed.Load() {
		l.dropped.Add(1)
		return
	}

	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	if e.Level == "" {
		e.Level = LevelInfo
	}
	e.InstanceID = l.instanceID

	data, err := json.Marshal(e)
	if err != nil {
		l.dropped.Add(1)
		return
	}
	data = append(data, '\n')

	select {
	case l.ch <- entry{data: data, ev: e}:
	default:
		l.dropped.Add(1)
	}
}

// Record emits an info event for a user action.
func (l *Logger) Record(kind Kind, comp string, userID, ref int64) {
	l.Emit(Event{Level: LevelInfo, Kind: kind, Comp: comp, UserID: userID, Ref: ref})
}

// Warn emits a warn-level event.
func (l *Logger) Warn(kind Kind, comp string, msg string) {
	l.Emit(Event{Level: LevelWarn, Kind: kind, Comp: comp, Msg: msg})
}

// Error emits an error-level event. A nil err is recorded as an empty string.
func (l *Logger) Error(kind Kind, comp string, err error) {
	var s string
	if err != nil {
		s = err.Error()
	}
	l.Emit(Event{Level: LevelError, Kind: kind, Comp: comp, Err: s})
}

// SetRingBuffer attaches a ring buffer for live inspection.
func (l *Logger) SetRingBuffer(rb *RingBuffer) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.ring = rb
}

// InstanceID identifies this process in every emitted event.
func (l *Logger) InstanceID() string {
	if l == nil {
		return ""
	}
	return l.instanceID
}

// Dropped returns the number of events dropped since creation.
func (l *Logger) Dropped() uint64 {
	if l == nil {
		return 0
	}
	return l.dropped.Load()
}

// Close flushes pending events and stops the drain goroutine. Idempotent.
func (l *Logger) Close() {
	if l == nil {
		return
	}
	l.closeOnce.Do(func() {
		l.closed.Store(true)
		close(l.ch)
		<-l.done

		if d := l.dropped.Load(); d > 0 {
			fmt.Fprintf(os.Stderr, "contestare: %d audit events dropped (instance %s)\n", d, l.instanceID)
		}
	})
}

// ReadTail decodes a JSONL event stream and returns the last n events.
// Malformed lines are skipped. n <= 0 returns every event.
func ReadTail(r io.Reader, n int) ([]Event, error) {
	var events []Event
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		var ev Event
		if err := json.Unmarshal(sc.Bytes(), &ev); err != nil {
			continue
		}
		events = append(events, ev)
		if n > 0 && len(events) > n {
			events = events[1:]
		}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return events, nil
}
