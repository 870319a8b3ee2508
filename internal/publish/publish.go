// Package publish sends monitor events and status snapshots to an MQTT
// broker.
package publish

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/fxamacker/cbor/v2"

	"gnssmon/internal/monitor"
)

const (
	EncodingJSON = "json"
	EncodingCBOR = "cbor"
)

type Config struct {
	Broker   string
	ClientID string
	Username string
	Password string
	// Topic is the topic prefix. Events go to <Topic>/<session>/events and
	// the retained status to <Topic>/<session>/status.
	Topic          string
	QoS            byte
	Encoding       string
	StatusInterval time.Duration
	QueueSize      int
	ConnectTimeout time.Duration
	Logf           func(format string, args ...any)
}

func (c *Config) defaults() {
	if c.Topic == "" {
		c.Topic = "gnssmon"
	}
	if c.Encoding == "" {
		c.Encoding = EncodingJSON
	}
	if c.StatusInterval <= 0 {
		c.StatusInterval = 10 * time.Second
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 256
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = 10 * time.Second
	}
	if c.Logf == nil {
		c.Logf = log.Printf
	}
}

// client is the part of mqtt.Client the publisher uses.
type client interface {
	Connect() mqtt.Token
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	IsConnected() bool
	Disconnect(quiesce uint)
}

// EventPayload is the wire form of a monitor event.
type EventPayload struct {
	Session string `json:"session"`
	At      string `json:"at"`
	LastUTC string `json:"last_utc"`
	Kind    string `json:"kind"`
	Band    string `json:"band,omitempty"`
	From    string `json:"from"`
	To      string `json:"to"`
	Alert   bool   `json:"alert"`
	Text    string `json:"text"`
}

// Stats are the publisher counters.
type Stats struct {
	Published uint64 `json:"published"`
	Dropped   uint64 `json:"dropped"`
	Failed    uint64 `json:"failed"`
	Connected bool   `json:"connected"`
}

// Publisher owns an MQTT connection and a bounded event queue. Event never
// blocks; events that do not fit are dropped and counted.
type Publisher struct {
	cfg     Config
	session string
	c       client
	encode  func(v any) ([]byte, error)

	events chan monitor.Event

	published atomic.Uint64
	dropped   atomic.Uint64
	failed    atomic.Uint64

	wg       sync.WaitGroup
	stopOnce sync.Once
	stop     chan struct{}
}

// New builds a publisher on a paho client. Nothing connects until Start.
func New(cfg Config, session string) (*Publisher, error) {
	cfg.defaults()
	if cfg.Broker == "" {
		return nil, errors.New("mqtt broker is empty")
	}
	if cfg.ClientID == "" {
		cfg.ClientID = "gnssmon-" + session
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetConnectTimeout(cfg.ConnectTimeout)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	opts.SetOnConnectHandler(func(mqtt.Client) {
		cfg.Logf("mqtt: connected broker=%s", cfg.Broker)
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		cfg.Logf("mqtt: connection lost: %v", err)
	})
	return newPublisher(cfg, session, mqtt.NewClient(opts))
}

func newPublisher(cfg Config, session string, c client) (*Publisher, error) {
	cfg.defaults()
	enc, err := encoder(cfg.Encoding)
	if err != nil {
		return nil, err
	}
	return &Publisher{
		cfg:     cfg,
		session: session,
		c:       c,
		encode:  enc,
		events:  make(chan monitor.Event, cfg.QueueSize),
		stop:    make(chan struct{}),
	}, nil
}

func encoder(name string) (func(v any) ([]byte, error), error) {
	switch name {
	case EncodingJSON:
		return json.Marshal, nil
	case EncodingCBOR:
		return cbor.Marshal, nil
	default:
		return nil, fmt.Errorf("unsupported mqtt encoding %q", name)
	}
}

func (p *Publisher) EventTopic() string  { return p.cfg.Topic + "/" + p.session + "/events" }
func (p *Publisher) StatusTopic() string { return p.cfg.Topic + "/" + p.session + "/status" }

// Start connects and runs the publish loop until ctx is done or Stop is
// called. status is polled every StatusInterval and may be nil. A broker
// that is not reachable yet is retried in the background.
func (p *Publisher) Start(ctx context.Context, status func() any) {
	tok := p.c.Connect()
	if !tok.WaitTimeout(p.cfg.ConnectTimeout) {
		p.cfg.Logf("mqtt: broker %s not reachable yet; retrying in background", p.cfg.Broker)
	} else if err := tok.Error(); err != nil {
		p.cfg.Logf("mqtt: connect %s: %v", p.cfg.Broker, err)
	}

	p.wg.Add(1)
	go p.loop(ctx, status)
}

// Event queues ev for publishing. It reports false when ev was dropped.
func (p *Publisher) Event(ev monitor.Event) bool {
	select {
	case p.events <- ev:
		return true
	default:
		p.dropped.Add(1)
		return false
	}
}

// Stop ends the loop, publishing events that are still queued, and
// disconnects.
func (p *Publisher) Stop() {
	p.stopOnce.Do(func() { close(p.stop) })
	p.wg.Wait()
	p.c.Disconnect(250)
}

func (p *Publisher) Stats() Stats {
	return Stats{
		Published: p.published.Load(),
		Dropped:   p.dropped.Load(),
		Failed:    p.failed.Load(),
		Connected: p.c.IsConnected(),
	}
}

func (p *Publisher) loop(ctx context.Context, status func() any) {
	defer p.wg.Done()

	ticker := time.NewTicker(p.cfg.StatusInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.drain()
			return
		case <-p.stop:
			p.drain()
			return
		case ev := <-p.events:
			p.publishEvent(ev)
		case <-ticker.C:
			if status != nil {
				p.publish(p.StatusTopic(), true, status())
			}
		}
	}
}

func (p *Publisher) drain() {
	for {
		select {
		case ev := <-p.events:
			p.publishEvent(ev)
		default:
			return
		}
	}
}

func (p *Publisher) publishEvent(ev monitor.Event) {
	p.publish(p.EventTopic(), false, EventPayload{
		Session: p.session,
		At:      ev.At.UTC().Format(time.RFC3339Nano),
		LastUTC: ev.LastUTC,
		Kind:    ev.Kind,
		Band:    ev.Band,
		From:    ev.From,
		To:      ev.To,
		Alert:   ev.Alert,
		Text:    ev.Text,
	})
}

func (p *Publisher) publish(topic string, retained bool, v any) {
	if !p.c.IsConnected() {
		p.failed.Add(1)
		return
	}
	payload, err := p.encode(v)
	if err != nil {
		p.failed.Add(1)
		p.cfg.Logf("mqtt: encode %s: %v", topic, err)
		return
	}
	tok := p.c.Publish(topic, p.cfg.QoS, retained, payload)
	if !tok.WaitTimeout(5 * time.Second) {
		p.failed.Add(1)
		p.cfg.Logf("mqtt: publish %s timed out", topic)
		return
	}
	if err := tok.Error(); err != nil {
		p.failed.Add(1)
		p.cfg.Logf("mqtt: publish %s: %v", topic, err)
		return
	}
	p.published.Add(1)
}
