package audit

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"time"
)

// Type names an audit event.
type Type string

const (
	LoginSuccess         Type = "login_success"
	LoginFailure         Type = "login_failure"
	LoginRateLimited     Type = "login_rate_limited"
	Registered           Type = "registered"
	RefreshSuccess       Type = "refresh_success"
	RefreshFailure       Type = "refresh_failure"
	RefreshReuseDetected Type = "refresh_reuse_detected"
	Logout               Type = "logout"
	UnknownKeyVersion    Type = "unknown_key_version"
	KeyRotated           Type = "key_rotated"
	KeysPruned           Type = "keys_pruned"
	APIKeyFailure        Type = "api_key_failure"
)

// Severity orders events for sinks that only forward the serious ones.
type Severity uint8

const (
	SeverityInfo Severity = iota
	SeverityWarning
	SeverityCritical
)

func (s Severity) String() string {
	switch s {
	case SeverityWarning:
		return "warning"
	case SeverityCritical:
		return "critical"
	default:
		return "info"
	}
}

func (s Severity) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// Event is one audit record.
type Event struct {
	Timestamp      time.Time         `json:"timestamp"`
	Type           Type              `json:"event_type"`
	Severity       Severity          `json:"severity"`
	Subject        string            `json:"subject,omitempty"`
	SessionVersion uint64            `json:"session_version,omitempty"`
	KeyVersion     uint32            `json:"key_version,omitempty"`
	IP             string            `json:"ip,omitempty"`
	Success        bool              `json:"success"`
	Error          string            `json:"error,omitempty"`
	Metadata       map[string]string `json:"metadata,omitempty"`
}

// Sink receives emitted audit events.
type Sink interface {
	Emit(ctx context.Context, event Event)
}

// NoOpSink drops audit events.
type NoOpSink struct{}

func (NoOpSink) Emit(context.Context, Event) {}

// MultiSink fans an event out to every sink in order.
type MultiSink []Sink

func (m MultiSink) Emit(ctx context.Context, event Event) {
	for _, s := range m {
		if s != nil {
			s.Emit(ctx, event)
		}
	}
}

// ChannelSink writes audit events into a buffered channel.
type ChannelSink struct {
	events chan Event
}

func NewChannelSink(buffer int) *ChannelSink {
	if buffer <= 0 {
		buffer = 1
	}
	return &ChannelSink{
		events: make(chan Event, buffer),
	}
}

func (s *ChannelSink) Emit(ctx context.Context, event Event) {
	select {
	case s.events <- event:
	case <-ctx.Done():
	}
}

func (s *ChannelSink) Events() <-chan Event {
	return s.events
}

// JSONWriterSink writes one JSON object per line.
type JSONWriterSink struct {
	writer io.Writer
	mu     sync.Mutex
}

func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	return &JSONWriterSink{
		writer: w,
	}
}

func (s *JSONWriterSink) Emit(_ context.Context, event Event) {
	if s == nil || s.writer == nil {
		return
	}
	data, err := json.Marshal(event)
	if err != nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, _ = s.writer.Write(append(data, '\n'))
}
