package mqtt

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/eclipse/paho.golang/autopaho"
	"github.com/eclipse/paho.golang/paho"

	"github.com/nugget/stagehand/internal/config"
	"github.com/nugget/stagehand/internal/events"
)

// publisher is the subset of [autopaho.ConnectionManager] the forwarder
// uses.
type publisher interface {
	Publish(ctx context.Context, p *paho.Publish) (*paho.PublishResponse, error)
}

// Forwarder relays event bus traffic to an MQTT broker.
type Forwarder struct {
	cfg        config.MQTTConfig
	instanceID string
	bus        *events.Bus
	tokens     *DailyTokens
	logger     *slog.Logger

	mu  sync.Mutex
	pub publisher
	cm  *autopaho.ConnectionManager
}

// New creates a Forwarder but does not connect. Call [Forwarder.Start]
// to connect and begin forwarding.
func New(cfg config.MQTTConfig, instanceID string, bus *events.Bus, tokens *DailyTokens, logger *slog.Logger) *Forwarder {
	if tokens == nil {
		tokens = NewDailyTokens(nil)
	}
	return &Forwarder{
		cfg:        cfg,
		instanceID: instanceID,
		bus:        bus,
		tokens:     tokens,
		logger:     logger.With("component", "mqtt"),
	}
}

// Start connects to the broker and forwards events until ctx is
// cancelled. On every (re-)connect it publishes a retained "online"
// availability message.
func (f *Forwarder) Start(ctx context.Context) error {
	brokerURL, err := url.Parse(f.cfg.Broker)
	if err != nil {
		return fmt.Errorf("parse mqtt broker URL: %w", err)
	}

	pahoCfg := autopaho.ClientConfig{
		ServerUrls:      []*url.URL{brokerURL},
		KeepAlive:       30,
		ConnectUsername: f.cfg.Username,
		ConnectPassword: []byte(f.cfg.Password),
		WillMessage: &paho.WillMessage{
			Topic:   f.availabilityTopic(),
			Payload: []byte("offline"),
			QoS:     1,
			Retain:  true,
		},
		OnConnectionUp: func(cm *autopaho.ConnectionManager, _ *paho.Connack) {
			f.logger.Info("mqtt connected to broker", "broker", f.cfg.Broker)
			f.publishAvailability(ctx, cm, "online")
		},
		OnConnectError: func(err error) {
			f.logger.Warn("mqtt connection error", "error", err)
		},
		ClientConfig: paho.ClientConfig{
			ClientID: "stagehand-" + f.instanceID,
		},
	}

	if brokerURL.Scheme == "mqtts" || brokerURL.Scheme == "ssl" {
		pahoCfg.TlsCfg = &tls.Config{
			MinVersion: tls.VersionTLS12,
		}
	}

	// Subscribe before connecting so events from the first turns are
	// buffered rather than lost.
	ch := f.bus.Subscribe(256)
	defer f.bus.Unsubscribe(ch)

	cm, err := autopaho.NewConnection(ctx, pahoCfg)
	if err != nil {
		return fmt.Errorf("mqtt connect: %w", err)
	}
	f.mu.Lock()
	f.cm = cm
	f.pub = cm
	f.mu.Unlock()

	connCtx, connCancel := context.WithTimeout(ctx, 30*time.Second)
	defer connCancel()
	if err := cm.AwaitConnection(connCtx); err != nil {
		f.logger.Warn("mqtt initial connection timed out, will retry in background", "error", err)
	}

	f.forward(ctx, ch)
	return nil
}

// Stop publishes an "offline" availability message and disconnects.
func (f *Forwarder) Stop(ctx context.Context) error {
	f.mu.Lock()
	cm := f.cm
	f.mu.Unlock()
	if cm == nil {
		return nil
	}
	f.publishAvailability(ctx, cm, "offline")
	return cm.Disconnect(ctx)
}

// Tokens returns the daily token accumulator.
func (f *Forwarder) Tokens() *DailyTokens {
	return f.tokens
}

func (f *Forwarder) availabilityTopic() string {
	return f.cfg.TopicPrefix + "/availability"
}

func (f *Forwarder) eventTopic(e events.Event) string {
	return f.cfg.TopicPrefix + "/" + e.Source + "/" + e.Kind
}

func (f *Forwarder) tokensTopic() string {
	return f.cfg.TopicPrefix + "/tokens_today"
}

// forward drains ch until it closes or ctx ends, republishing the token
// counter on every tick.
func (f *Forwarder) forward(ctx context.Context, ch <-chan events.Event) {
	interval := time.Duration(f.cfg.PublishIntervalSec) * time.Second
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-ch:
			if !ok {
				return
			}
			f.handle(ctx, e)
		case <-ticker.C:
			f.publishTokens(ctx)
		}
	}
}

func (f *Forwarder) handle(ctx context.Context, e events.Event) {
	if e.Source == events.SourceConversation && e.Kind == events.KindTurnComplete {
		f.tokens.OnTurn(intValue(e.Data["tokens_in"]), intValue(e.Data["tokens_out"]))
		defer f.publishTokens(ctx)
	}

	payload, err := json.Marshal(e)
	if err != nil {
		f.logger.Error("mqtt marshal event", "kind", e.Kind, "error", err)
		return
	}
	f.publish(ctx, &paho.Publish{
		Topic:   f.eventTopic(e),
		Payload: payload,
		QoS:     0,
	})
}

func (f *Forwarder) publishTokens(ctx context.Context) {
	input, output, turns := f.tokens.Snapshot()
	payload, err := json.Marshal(map[string]int64{
		"input":  input,
		"output": output,
		"total":  input + output,
		"turns":  turns,
	})
	if err != nil {
		f.logger.Error("mqtt marshal token counter", "error", err)
		return
	}
	f.publish(ctx, &paho.Publish{
		Topic:   f.tokensTopic(),
		Payload: payload,
		QoS:     0,
		Retain:  true,
	})
}

func (f *Forwarder) publish(ctx context.Context, p *paho.Publish) {
	f.mu.Lock()
	pub := f.pub
	f.mu.Unlock()
	if pub == nil {
		return
	}
	if _, err := pub.Publish(ctx, p); err != nil {
		f.logger.Debug("mqtt publish failed", "topic", p.Topic, "error", err)
	}
}

func (f *Forwarder) publishAvailability(ctx context.Context, pub publisher, status string) {
	if _, err := pub.Publish(ctx, &paho.Publish{
		Topic:   f.availabilityTopic(),
		Payload: []byte(status),
		QoS:     1,
		Retain:  true,
	}); err != nil {
		f.logger.Warn("mqtt availability publish failed", "status", status, "error", err)
	} else {
		f.logger.Info("mqtt availability published", "status", status)
	}
}

// intValue reads a token count from event data, which holds ints when
// published in-process and float64 after a JSON round trip.
func intValue(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	case string:
		i, _ := strconv.Atoi(n)
		return i
	default:
		return 0
	}
}
