package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/eclipse/paho.golang/paho"

	"github.com/nugget/stagehand/internal/config"
	"github.com/nugget/stagehand/internal/events"
)

type fakePublisher struct {
	mu   sync.Mutex
	msgs []*paho.Publish
	err  error
}

func (p *fakePublisher) Publish(_ context.Context, msg *paho.Publish) (*paho.PublishResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.msgs = append(p.msgs, msg)
	if p.err != nil {
		return nil, p.err
	}
	return &paho.PublishResponse{}, nil
}

func (p *fakePublisher) topics() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.msgs))
	for i, m := range p.msgs {
		out[i] = m.Topic
	}
	return out
}

func (p *fakePublisher) last(topic string) *paho.Publish {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i := len(p.msgs) - 1; i >= 0; i-- {
		if p.msgs[i].Topic == topic {
			return p.msgs[i]
		}
	}
	return nil
}

func newTestForwarder(bus *events.Bus) (*Forwarder, *fakePublisher) {
	cfg := config.MQTTConfig{Broker: "mqtt://localhost:1883", TopicPrefix: "stagehand", PublishIntervalSec: 3600}
	f := New(cfg, "test-instance", bus, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
	pub := &fakePublisher{}
	f.pub = pub
	return f, pub
}

func TestHandle_PublishesEventJSON(t *testing.T) {
	f, pub := newTestForwarder(events.New())

	f.handle(context.Background(), events.Event{
		Timestamp: time.Date(2026, 10, 15, 9, 0, 0, 0, time.UTC),
		Source:    events.SourceConversation,
		Kind:      events.KindTransition,
		Data:      map[string]any{"from": "identify", "to": "schedule"},
	})

	msg := pub.last("stagehand/conversation/transition")
	if msg == nil {
		t.Fatalf("no transition publish; topics = %v", pub.topics())
	}
	if msg.Retain {
		t.Error("event publishes must not be retained")
	}

	var got events.Event
	if err := json.Unmarshal(msg.Payload, &got); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if got.Kind != events.KindTransition {
		t.Errorf("Kind = %q, want %q", got.Kind, events.KindTransition)
	}
	if got.Data["to"] != "schedule" {
		t.Errorf("Data[to] = %v, want schedule", got.Data["to"])
	}
}

func TestHandle_TurnCompleteFeedsTokens(t *testing.T) {
	f, pub := newTestForwarder(events.New())
	ctx := context.Background()

	f.handle(ctx, events.Event{
		Source: events.SourceConversation,
		Kind:   events.KindTurnComplete,
		Data:   map[string]any{"tokens_in": 120, "tokens_out": 30},
	})
	f.handle(ctx, events.Event{
		Source: events.SourceConversation,
		Kind:   events.KindTurnComplete,
		Data:   map[string]any{"tokens_in": 80.0, "tokens_out": 20.0},
	})

	in, out, turns := f.Tokens().Snapshot()
	if in != 200 || out != 50 || turns != 2 {
		t.Errorf("Snapshot = (%d, %d, %d), want (200, 50, 2)", in, out, turns)
	}

	msg := pub.last("stagehand/tokens_today")
	if msg == nil {
		t.Fatal("no tokens_today publish")
	}
	if !msg.Retain {
		t.Error("tokens_today should be retained")
	}

	var counter map[string]int64
	if err := json.Unmarshal(msg.Payload, &counter); err != nil {
		t.Fatalf("unmarshal counter: %v", err)
	}
	if counter["total"] != 250 || counter["turns"] != 2 {
		t.Errorf("counter = %v, want total 250 over 2 turns", counter)
	}
}

func TestHandle_OtherEventsDoNotCountTokens(t *testing.T) {
	f, pub := newTestForwarder(events.New())

	f.handle(context.Background(), events.Event{
		Source: events.SourceBrain,
		Kind:   events.KindKnowledgeAdded,
		Data:   map[string]any{"tokens_in": 999},
	})

	if _, _, turns := f.Tokens().Snapshot(); turns != 0 {
		t.Errorf("turns = %d, want 0", turns)
	}
	topics := pub.topics()
	if len(topics) != 1 || topics[0] != "stagehand/brain/knowledge_added" {
		t.Errorf("topics = %v, want only the knowledge_added event", topics)
	}
}

func TestPublish_ErrorIsSwallowed(t *testing.T) {
	f, pub := newTestForwarder(events.New())
	pub.err = errors.New("not connected")

	f.handle(context.Background(), events.Event{Source: "x", Kind: "y"})
	if n := len(pub.topics()); n != 1 {
		t.Errorf("publish attempts = %d, want 1", n)
	}
}

func TestPublish_NotStarted(t *testing.T) {
	f, _ := newTestForwarder(events.New())
	f.pub = nil

	f.publishTokens(context.Background())
	if err := f.Stop(context.Background()); err != nil {
		t.Errorf("Stop before Start: %v", err)
	}
}

func TestForward_DrainsBus(t *testing.T) {
	bus := events.New()
	f, pub := newTestForwarder(bus)

	ch := bus.Subscribe(16)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		f.forward(ctx, ch)
		close(done)
	}()

	bus.Emit(events.SourceConversation, events.KindTurnStart, map[string]any{"session_id": "s1"})

	deadline := time.Now().Add(time.Second)
	for pub.last("stagehand/conversation/turn_start") == nil {
		if time.Now().After(deadline) {
			t.Fatalf("turn_start never forwarded; topics = %v", pub.topics())
		}
		time.Sleep(5 * time.Millisecond)
	}

	cancel()
	<-done
	bus.Unsubscribe(ch)
}

func TestPublishAvailability(t *testing.T) {
	f, pub := newTestForwarder(events.New())

	f.publishAvailability(context.Background(), pub, "online")

	msg := pub.last("stagehand/availability")
	if msg == nil {
		t.Fatal("no availability publish")
	}
	if string(msg.Payload) != "online" {
		t.Errorf("payload = %q, want online", msg.Payload)
	}
	if !msg.Retain || msg.QoS != 1 {
		t.Errorf("Retain = %v, QoS = %d, want retained QoS 1", msg.Retain, msg.QoS)
	}
}

func TestLoadOrCreateInstanceID(t *testing.T) {
	dir := t.TempDir()

	id, err := LoadOrCreateInstanceID(dir)
	if err != nil {
		t.Fatalf("LoadOrCreateInstanceID: %v", err)
	}
	if id == "" {
		t.Fatal("empty instance ID")
	}

	again, err := LoadOrCreateInstanceID(dir)
	if err != nil {
		t.Fatalf("LoadOrCreateInstanceID (reload): %v", err)
	}
	if again != id {
		t.Errorf("reloaded ID = %q, want %q", again, id)
	}

	data, err := os.ReadFile(filepath.Join(dir, "instance_id"))
	if err != nil {
		t.Fatalf("read instance_id: %v", err)
	}
	if string(data) != id+"\n" {
		t.Errorf("instance_id file = %q, want %q", data, id+"\n")
	}
}
