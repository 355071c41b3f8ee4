// Package events carries the narration a crawl produces, decoupling the
// pipeline from whatever renders it (terminal lines, a browser log).
package events

import "sync/atomic"

type Kind string

const (
	KindInfo     Kind = "info"
	KindScan     Kind = "scan"
	KindDownload Kind = "download"
	KindWarn     Kind = "warn"
	KindError    Kind = "error"
	KindDryRun   Kind = "dryrun"
	KindProgress Kind = "progress"
	KindDone     Kind = "done"
	// KindPing is a keepalive interleaved by streaming transports so a
	// consumer can tell a quiet job from a dead connection. The crawl
	// itself never emits it.
	KindPing Kind = "ping"
)

// Counts aggregates one outcome per file descriptor.
type Counts struct {
	Downloaded int `json:"dl"`
	Skipped    int `json:"skip"`
	Failed     int `json:"fail"`
	DryRun     int `json:"dry"`
}

func (c Counts) Total() int {
	return c.Downloaded + c.Skipped + c.Failed + c.DryRun
}

// Event is one line of crawl narration. Message is set for the free-text
// kinds, Scanned or Done/Total for progress, Counts for done.
type Event struct {
	Kind    Kind    `json:"kind"`
	Message string  `json:"msg,omitempty"`
	Scanned int     `json:"scanned,omitempty"`
	Done    int     `json:"done,omitempty"`
	Total   int     `json:"total,omitempty"`
	Counts  *Counts `json:"counts,omitempty"`
}

func Info(msg string) Event     { return Event{Kind: KindInfo, Message: msg} }
func Scan(msg string) Event     { return Event{Kind: KindScan, Message: msg} }
func Download(msg string) Event { return Event{Kind: KindDownload, Message: msg} }
func Warn(msg string) Event     { return Event{Kind: KindWarn, Message: msg} }
func Error(msg string) Event    { return Event{Kind: KindError, Message: msg} }
func DryRun(msg string) Event   { return Event{Kind: KindDryRun, Message: msg} }

// Scanned reports extraction progress before a download total is known.
func Scanned(n int) Event { return Event{Kind: KindProgress, Scanned: n} }

// Progress reports download progress against the known total.
func Progress(done, total int) Event {
	return Event{Kind: KindProgress, Done: done, Total: total}
}

// Done is the terminal event of every job.
func Done(c Counts) Event { return Event{Kind: KindDone, Counts: &c} }

// Sink receives events as the crawl produces them. Implementations must be
// safe for concurrent use; download workers emit from their own goroutines.
type Sink interface {
	Emit(Event)
}

// Discard drops everything.
var Discard Sink = discard{}

type discard struct{}

func (discard) Emit(Event) {}

// DefaultBuffer is sized so a stalled consumer survives a long scan phase
// before anything is lost.
const DefaultBuffer = 512

// Stream is a bounded Sink drained through Events. When the buffer is full
// the event is dropped and counted instead of blocking the crawl. Closing
// the stream, not the done event, is the consumer's end-of-stream signal.
type Stream struct {
	ch      chan Event
	dropped atomic.Int64
}

func NewStream(buffer int) *Stream {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &Stream{ch: make(chan Event, buffer)}
}

func (s *Stream) Emit(ev Event) {
	select {
	case s.ch <- ev:
	default:
		s.dropped.Add(1)
	}
}

func (s *Stream) Events() <-chan Event { return s.ch }

// Dropped reports how many events were lost to a full buffer.
func (s *Stream) Dropped() int64 { return s.dropped.Load() }

// Close ends the stream. The producer must not Emit afterwards.
func (s *Stream) Close() { close(s.ch) }
