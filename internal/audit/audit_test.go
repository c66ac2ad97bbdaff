package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestDispatcherDeliversAndDrains(t *testing.T) {
	sink := NewChannelSink(16)
	d := NewDispatcher(Config{Enabled: true, BufferSize: 8}, sink)

	for i := 0; i < 5; i++ {
		d.Emit(context.Background(), Event{EventType: "login_success", Success: true})
	}
	d.Close()

	got := 0
	for {
		select {
		case <-sink.Events():
			got++
			continue
		default:
		}
		break
	}
	if got != 5 {
		t.Fatalf("expected 5 delivered events, got %d", got)
	}

	d.Emit(context.Background(), Event{EventType: "after_close"})
	d.Close()
}

func TestDispatcherDisabledIsNil(t *testing.T) {
	if d := NewDispatcher(Config{Enabled: false}, NoOpSink{}); d != nil {
		t.Fatal("disabled dispatcher should be nil")
	}
	var d *Dispatcher
	d.Emit(context.Background(), Event{})
	if d.Dropped() != 0 {
		t.Fatal("nil dispatcher has no drops")
	}
}

type blockingSink struct {
	release chan struct{}
}

func (b blockingSink) Emit(context.Context, Event) { <-b.release }

func TestDispatcherDropsWhenFull(t *testing.T) {
	sink := blockingSink{release: make(chan struct{})}
	d := NewDispatcher(Config{Enabled: true, BufferSize: 1, DropIfFull: true}, sink)

	for i := 0; i < 20; i++ {
		d.Emit(context.Background(), Event{EventType: "x"})
	}
	close(sink.release)
	d.Close()

	if d.Dropped() == 0 {
		t.Fatal("expected drops under backpressure")
	}
}

// gatedSink records events and holds the first one until gate closes.
type gatedSink struct {
	mu      sync.Mutex
	events  []Event
	held    atomic.Bool
	entered chan struct{}
	gate    chan struct{}
}

func newGatedSink() *gatedSink {
	return &gatedSink{entered: make(chan struct{}), gate: make(chan struct{})}
}

func (s *gatedSink) Emit(_ context.Context, event Event) {
	if s.held.CompareAndSwap(false, true) {
		close(s.entered)
		<-s.gate
	}
	s.mu.Lock()
	s.events = append(s.events, event)
	s.mu.Unlock()
}

func (s *gatedSink) recorded() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Event(nil), s.events...)
}

func TestDispatcherNeverDropsSecurityEvents(t *testing.T) {
	sink := newGatedSink()
	d := NewDispatcher(Config{Enabled: true, BufferSize: 1, SecurityBufferSize: 1, DropIfFull: true}, sink)
	ctx := context.Background()

	d.Emit(ctx, Event{EventType: "login_success"})
	<-sink.entered

	for i := 0; i < 5; i++ {
		d.Emit(ctx, Event{EventType: "login_failure"})
	}
	for i := 0; i < 10; i++ {
		d.Emit(ctx, Event{EventType: "refresh_reuse_detected", Security: true})
	}
	close(sink.gate)
	d.Close()

	if d.Dropped() != 4 {
		t.Fatalf("expected 4 routine drops, got %d", d.Dropped())
	}
	events := sink.recorded()
	security := 0
	for _, ev := range events {
		if ev.Security {
			security++
		}
	}
	if security != 10 {
		t.Fatalf("expected all 10 security events delivered, got %d", security)
	}
	// The queued security event is served before the queued routine one.
	n := len(events)
	if n < 2 || events[n-1].EventType != "login_failure" || !events[n-2].Security {
		t.Fatalf("unexpected delivery order: %+v", events)
	}

	d.Emit(ctx, Event{EventType: "family_revoked", Security: true})
	d.Emit(ctx, Event{EventType: "logout"})
	events = sink.recorded()
	if last := events[len(events)-1]; last.EventType != "family_revoked" {
		t.Fatalf("security event after close must still reach the sink, got %+v", last)
	}
}

func TestJSONWriterSink(t *testing.T) {
	var buf bytes.Buffer
	sink := NewJSONWriterSink(&buf)
	sink.Emit(context.Background(), Event{
		Timestamp: time.Unix(0, 0).UTC(),
		EventType: "refresh_reuse_detected",
		Role:      "patient",
		Family:    "fam-1",
		Security:  true,
	})

	var decoded Event
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &decoded); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.Family != "fam-1" || !decoded.Security {
		t.Fatalf("unexpected event: %+v", decoded)
	}
}

func TestSlogSinkLevels(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	sink := NewSlogSink(logger)

	sink.Emit(context.Background(), Event{EventType: "login_success", Success: true})
	sink.Emit(context.Background(), Event{EventType: "refresh_reuse_detected", Security: true, Family: "f"})

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 log lines, got %d", len(lines))
	}
	if !strings.Contains(lines[0], `"level":"INFO"`) {
		t.Fatalf("success should log at INFO: %s", lines[0])
	}
	if !strings.Contains(lines[1], `"level":"WARN"`) || !strings.Contains(lines[1], `"security":true`) {
		t.Fatalf("security event should log at WARN with flag: %s", lines[1])
	}
}
