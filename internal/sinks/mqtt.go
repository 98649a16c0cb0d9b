package sinks

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/vmihailenco/msgpack/v5"
	"golang.org/x/time/rate"

	"github.com/tphakala/biosig-go/internal/acquisition"
	"github.com/tphakala/biosig-go/internal/conf"
	"github.com/tphakala/biosig-go/internal/errors"
	"github.com/tphakala/biosig-go/internal/logger"
)

const componentMQTT = "mqtt-sink"

// MQTT timeouts and queue size
const (
	DefaultConnectTimeout = 30 * time.Second
	DefaultPublishTimeout = 10 * time.Second
	disconnectQuiesceMs   = 250
	mqttQueueSize         = 64
)

// BlockMessage is the msgpack payload of one published block
type BlockMessage struct {
	Node       string    `msgpack:"node"`
	Sequence   uint64    `msgpack:"seq"`
	Timestamp  int64     `msgpack:"ts"` // unix nanoseconds
	SampleRate int       `msgpack:"rate"`
	Channels   int       `msgpack:"ch"`
	Samples    int       `msgpack:"n"`
	Data       []float64 `msgpack:"data"` // row-major, one row per channel
}

// MQTTObserver receives publish measurements
type MQTTObserver interface {
	UpdateConnectionStatus(connected bool)
	RecordDelivered(sizeBytes int, latency time.Duration)
	RecordDropped()
	RecordError()
}

type nopObserver struct{}

func (nopObserver) UpdateConnectionStatus(bool)        {}
func (nopObserver) RecordDelivered(int, time.Duration) {}
func (nopObserver) RecordDropped()                     {}
func (nopObserver) RecordError()                       {}

// publisher is the part of the paho client the sink uses
type publisher interface {
	Publish(topic string, qos byte, retained bool, payload any) mqtt.Token
}

// MQTT publishes blocks to a broker from its own goroutine. Publish only
// enqueues; blocks are dropped when the queue is full.
type MQTT struct {
	cfg     conf.MQTTSettings
	node    string
	log     logger.Logger
	timeout time.Duration
	obs     MQTTObserver

	client mqtt.Client
	pub    publisher
	queue  chan *acquisition.SampleBlock
	done   chan struct{}
	wg     sync.WaitGroup
	once   sync.Once

	rate atomic.Int64

	published atomic.Uint64
	dropped   atomic.Uint64
	failed    atomic.Uint64

	warnLimiter *rate.Limiter
}

// NewMQTT creates an unconnected sink. An empty client id is replaced with a
// random one.
func NewMQTT(cfg conf.MQTTSettings, node string, log logger.Logger) *MQTT {
	if cfg.ClientID == "" {
		cfg.ClientID = "biosig-" + uuid.NewString()
	}
	if log == nil {
		log = GetLogger()
	}
	return &MQTT{
		cfg:         cfg,
		node:        node,
		log:         log.With(logger.String("broker", cfg.Broker), logger.String("topic", cfg.Topic)),
		timeout:     DefaultPublishTimeout,
		obs:         nopObserver{},
		queue:       make(chan *acquisition.SampleBlock, mqttQueueSize),
		done:        make(chan struct{}),
		warnLimiter: rate.NewLimiter(rate.Every(10*time.Second), 1),
	}
}

// SetObserver installs publish metrics. Call it before Connect.
func (m *MQTT) SetObserver(obs MQTTObserver) {
	if obs != nil {
		m.obs = obs
	}
}

// ClientID returns the id used towards the broker
func (m *MQTT) ClientID() string { return m.cfg.ClientID }

// Connect dials the broker and starts the publishing goroutine
func (m *MQTT) Connect(ctx context.Context) error {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(m.cfg.Broker)
	opts.SetClientID(m.cfg.ClientID)
	opts.SetUsername(m.cfg.Username)
	opts.SetPassword(m.cfg.Password)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetOnConnectHandler(m.onConnect)
	opts.SetConnectionLostHandler(m.onConnectionLost)

	client := mqtt.NewClient(opts)

	timeout := DefaultConnectTimeout
	if deadline, ok := ctx.Deadline(); ok {
		timeout = time.Until(deadline)
	}
	token := client.Connect()
	if !token.WaitTimeout(timeout) {
		client.Disconnect(0)
		return errors.Newf("connection timeout after %s", timeout).
			Component(componentMQTT).
			Category(errors.CategoryNetwork).
			Context("broker", m.cfg.Broker).
			Build()
	}
	if err := token.Error(); err != nil {
		return errors.New(err).
			Component(componentMQTT).
			Category(errors.CategoryNetwork).
			Context("broker", m.cfg.Broker).
			Build()
	}

	m.client = client
	m.start(client)
	return nil
}

func (m *MQTT) start(pub publisher) {
	m.pub = pub
	m.wg.Add(1)
	go m.loop()
}

func (m *MQTT) onConnect(mqtt.Client) {
	m.obs.UpdateConnectionStatus(true)
	m.log.Info("connected to MQTT broker")
}

func (m *MQTT) onConnectionLost(_ mqtt.Client, err error) {
	m.obs.UpdateConnectionStatus(false)
	m.log.Warn("connection to MQTT broker lost", logger.Error(err))
}

// Publish enqueues block without blocking
func (m *MQTT) Publish(block *acquisition.SampleBlock) {
	select {
	case m.queue <- block:
	default:
		m.dropped.Add(1)
		m.obs.RecordDropped()
	}
}

// SetChannelCount is a no-op, every message carries its block shape
func (m *MQTT) SetChannelCount(int) {}

// SetSampleRate records the rate sent with every block
func (m *MQTT) SetSampleRate(hz int) { m.rate.Store(int64(hz)) }

// Clear discards queued blocks
func (m *MQTT) Clear() {
	for {
		select {
		case <-m.queue:
		default:
			return
		}
	}
}

func (m *MQTT) loop() {
	defer m.wg.Done()
	for {
		select {
		case <-m.done:
			return
		case block := <-m.queue:
			if err := m.send(block); err != nil {
				m.failed.Add(1)
				m.obs.RecordError()
				if m.warnLimiter.Allow() {
					m.log.Warn("block publish failed",
						logger.Error(err),
						logger.Uint64("failed", m.failed.Load()),
						logger.Uint64("dropped", m.dropped.Load()))
				}
				continue
			}
			m.published.Add(1)
		}
	}
}

func (m *MQTT) send(block *acquisition.SampleBlock) error {
	payload, err := msgpack.Marshal(m.message(block))
	if err != nil {
		return errors.New(err).
			Component(componentMQTT).
			Category(errors.CategoryMQTTPublish).
			Context("operation", "encode").
			Build()
	}

	start := time.Now()
	token := m.pub.Publish(m.cfg.Topic, byte(m.cfg.QoS), m.cfg.Retain, payload)
	if !token.WaitTimeout(m.timeout) {
		return errors.Newf("publish timeout").
			Component(componentMQTT).
			Category(errors.CategoryMQTTPublish).
			Context("topic", m.cfg.Topic).
			Build()
	}
	if err := token.Error(); err != nil {
		return errors.New(err).
			Component(componentMQTT).
			Category(errors.CategoryMQTTPublish).
			Context("topic", m.cfg.Topic).
			Build()
	}
	m.obs.RecordDelivered(len(payload), time.Since(start))
	return nil
}

func (m *MQTT) message(block *acquisition.SampleBlock) BlockMessage {
	return BlockMessage{
		Node:       m.node,
		Sequence:   block.Sequence,
		Timestamp:  block.Timestamp.UnixNano(),
		SampleRate: int(m.rate.Load()),
		Channels:   block.Channels,
		Samples:    block.Samples,
		Data:       block.Data,
	}
}

// Stats returns published, dropped and failed block counts
func (m *MQTT) Stats() (published, dropped, failed uint64) {
	return m.published.Load(), m.dropped.Load(), m.failed.Load()
}

// Close stops publishing and disconnects. Queued blocks are discarded.
func (m *MQTT) Close() {
	m.once.Do(func() {
		close(m.done)
		m.wg.Wait()
		if m.client != nil && m.client.IsConnected() {
			m.client.Disconnect(disconnectQuiesceMs)
			m.obs.UpdateConnectionStatus(false)
		}
		published, dropped, failed := m.Stats()
		m.log.Info("MQTT sink closed",
			logger.Uint64("published", published),
			logger.Uint64("dropped", dropped),
			logger.Uint64("failed", failed))
	})
}
