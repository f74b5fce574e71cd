package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/getsentry/sentry-go"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestDispatcherDeliversAndDrainsOnClose(t *testing.T) {
	sink := NewChannelSink(16)
	d := NewDispatcher(Config{Enabled: true, BufferSize: 16}, sink, nil)

	for i := 0; i < 5; i++ {
		d.Emit(context.Background(), Event{Type: LoginSuccess, Subject: "u1"})
	}
	d.Close()

	if got := len(sink.Events()); got != 5 {
		t.Fatalf("delivered %d events, want 5", got)
	}
	ev := <-sink.Events()
	if ev.Timestamp.IsZero() {
		t.Fatal("dispatcher should stamp missing timestamps")
	}

	d.Emit(context.Background(), Event{Type: Logout})
	if got := len(sink.Events()); got != 4 {
		t.Fatalf("emit after close was delivered")
	}
}

func TestDisabledDispatcherIsNilSafe(t *testing.T) {
	d := NewDispatcher(Config{Enabled: false}, NoOpSink{}, nil)
	if d != nil {
		t.Fatal("disabled dispatcher should be nil")
	}
	d.Emit(context.Background(), Event{Type: Logout})
	d.Close()
	if d.Dropped() != 0 {
		t.Fatal("nil dispatcher reports no drops")
	}
}

type blockingSink struct {
	release chan struct{}
}

func (b blockingSink) Emit(context.Context, Event) { <-b.release }

func TestDispatcherDropIfFull(t *testing.T) {
	sink := blockingSink{release: make(chan struct{})}
	d := NewDispatcher(Config{Enabled: true, BufferSize: 1, DropIfFull: true}, sink, nil)

	// One event is held by the blocked sink and one fills the buffer; the
	// rest overflow.
	for i := 0; i < 10; i++ {
		d.Emit(context.Background(), Event{Type: LoginFailure})
	}
	close(sink.release)
	d.Close()

	if d.Dropped() < 8 {
		t.Fatalf("Dropped = %d, want at least 8", d.Dropped())
	}
}

type panickingSink struct{}

func (panickingSink) Emit(context.Context, Event) { panic("boom") }

func TestDispatcherSurvivesSinkPanic(t *testing.T) {
	ch := NewChannelSink(4)
	d := NewDispatcher(Config{Enabled: true, BufferSize: 4}, MultiSink{ch, panickingSink{}}, nil)
	d.Emit(context.Background(), Event{Type: Logout})
	d.Emit(context.Background(), Event{Type: Logout})
	d.Close()
	if len(ch.Events()) != 2 {
		t.Fatalf("delivered %d events, want 2", len(ch.Events()))
	}
}

func TestJSONWriterSink(t *testing.T) {
	var buf bytes.Buffer
	s := NewJSONWriterSink(&buf)
	s.Emit(context.Background(), Event{
		Timestamp: time.Unix(0, 0).UTC(),
		Type:      RefreshReuseDetected,
		Severity:  SeverityCritical,
		Subject:   "u1",
	})

	var decoded map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &decoded); err != nil {
		t.Fatalf("invalid JSON line %q: %v", buf.String(), err)
	}
	if decoded["event_type"] != "refresh_reuse_detected" || decoded["severity"] != "critical" {
		t.Fatalf("unexpected payload: %v", decoded)
	}
	if !strings.HasSuffix(buf.String(), "\n") {
		t.Fatal("expected newline-terminated record")
	}
}

func TestZapSinkLevels(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	s := NewZapSink(zap.New(core))

	s.Emit(context.Background(), Event{Type: LoginSuccess, Subject: "u1", Success: true})
	s.Emit(context.Background(), Event{Type: RefreshReuseDetected, Severity: SeverityCritical, Subject: "u1", SessionVersion: 4})

	entries := logs.All()
	if len(entries) != 2 {
		t.Fatalf("logged %d entries, want 2", len(entries))
	}
	if entries[0].Level != zap.InfoLevel || entries[1].Level != zap.WarnLevel {
		t.Fatalf("levels = %v, %v", entries[0].Level, entries[1].Level)
	}
	if entries[1].ContextMap()["session_version"] != uint64(4) {
		t.Fatalf("missing session_version: %v", entries[1].ContextMap())
	}
}

func TestSentrySinkForwardsOnlySeriousEvents(t *testing.T) {
	var (
		mu     sync.Mutex
		events []*sentry.Event
	)
	client, err := sentry.NewClient(sentry.ClientOptions{
		BeforeSend: func(e *sentry.Event, _ *sentry.EventHint) *sentry.Event {
			mu.Lock()
			events = append(events, e)
			mu.Unlock()
			return nil
		},
	})
	if err != nil {
		t.Fatalf("sentry.NewClient: %v", err)
	}
	s := NewSentrySink(sentry.NewHub(client, sentry.NewScope()))

	s.Emit(context.Background(), Event{Type: LoginSuccess, Success: true})
	s.Emit(context.Background(), Event{Type: RefreshReuseDetected, Severity: SeverityCritical, Subject: "u1"})

	mu.Lock()
	defer mu.Unlock()
	if len(events) != 1 {
		t.Fatalf("captured %d events, want 1", len(events))
	}
	got := events[0]
	if got.Message != "refresh_reuse_detected" || got.Level != sentry.LevelError {
		t.Fatalf("unexpected event: message=%q level=%q", got.Message, got.Level)
	}
	if got.Tags["event_type"] != "refresh_reuse_detected" || got.Tags["subject"] != "u1" {
		t.Fatalf("unexpected tags: %v", got.Tags)
	}
}
