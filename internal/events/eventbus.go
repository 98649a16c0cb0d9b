package events

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tphakala/biosig-go/internal/logger"
)

// EventBus provides asynchronous event processing with non-blocking publication
type EventBus struct {
	eventChan chan Event

	bufferSize int
	workers    int

	ctx         context.Context
	cancel      context.CancelFunc
	wg          sync.WaitGroup
	initialized atomic.Bool
	running     atomic.Bool
	mu          sync.Mutex

	consumers []EventConsumer
	dedup     *FailureDeduplicator

	stats EventBusStats

	log logger.Logger
}

// Global event bus instance
var (
	globalEventBus *EventBus
	globalMutex    sync.Mutex
)

// Config holds event bus configuration
type Config struct {
	BufferSize int
	// Workers is the number of delivery goroutines. One worker keeps session
	// and segment events in publication order.
	Workers int
	Enabled bool
	// Deduplication suppresses repeated failure events, nil disables it
	Deduplication *DeduplicationConfig
}

// DefaultConfig returns the default event bus configuration
func DefaultConfig() *Config {
	return &Config{
		BufferSize:    1000,
		Workers:       1,
		Enabled:       true,
		Deduplication: DefaultDeduplicationConfig(),
	}
}

// GetLogger returns the events package logger
func GetLogger() logger.Logger {
	return logger.Global().Module("events")
}

// NewEventBus creates a standalone event bus. Workers start when the first
// consumer registers.
func NewEventBus(config *Config, log logger.Logger) *EventBus {
	if config == nil {
		config = DefaultConfig()
	}
	if log == nil {
		log = GetLogger()
	}
	workers := max(1, config.Workers)
	bufferSize := max(1, config.BufferSize)

	ctx, cancel := context.WithCancel(context.Background())
	eb := &EventBus{
		eventChan:  make(chan Event, bufferSize),
		bufferSize: bufferSize,
		workers:    workers,
		ctx:        ctx,
		cancel:     cancel,
		log:        log,
	}
	if config.Deduplication != nil && config.Deduplication.Enabled {
		eb.dedup = NewFailureDeduplicator(config.Deduplication)
	}
	eb.initialized.Store(true)
	return eb
}

// Initialize creates or returns the global event bus instance
func Initialize(config *Config) (*EventBus, error) {
	globalMutex.Lock()
	defer globalMutex.Unlock()

	if globalEventBus != nil {
		return globalEventBus, nil
	}
	if config == nil {
		config = DefaultConfig()
	}
	if !config.Enabled {
		return nil, nil
	}

	globalEventBus = NewEventBus(config, GetLogger())
	globalEventBus.log.Info("event bus initialized",
		logger.Int("buffer_size", globalEventBus.bufferSize),
		logger.Int("workers", globalEventBus.workers))
	return globalEventBus, nil
}

// GetEventBus returns the global event bus instance
func GetEventBus() *EventBus {
	globalMutex.Lock()
	defer globalMutex.Unlock()
	return globalEventBus
}

// IsInitialized returns true if the global event bus has been initialized
func IsInitialized() bool {
	globalMutex.Lock()
	defer globalMutex.Unlock()
	return globalEventBus != nil && globalEventBus.initialized.Load()
}

// TryPublish publishes on the global bus. It never blocks and returns false
// when the bus is not initialized, has no consumers or is full.
func TryPublish(event Event) bool {
	return GetEventBus().TryPublish(event)
}

// Shutdown stops the global bus and clears it
func Shutdown(timeout time.Duration) error {
	globalMutex.Lock()
	eb := globalEventBus
	globalEventBus = nil
	globalMutex.Unlock()
	return eb.Shutdown(timeout)
}

// RegisterConsumer adds a new event consumer
func (eb *EventBus) RegisterConsumer(consumer EventConsumer) error {
	if eb == nil {
		return fmt.Errorf("event bus not initialized")
	}

	eb.mu.Lock()
	defer eb.mu.Unlock()

	for _, existing := range eb.consumers {
		if existing.Name() == consumer.Name() {
			return fmt.Errorf("consumer %s already registered", consumer.Name())
		}
	}
	eb.consumers = append(eb.consumers, consumer)

	eb.log.Info("registered event consumer", logger.String("consumer", consumer.Name()))

	if len(eb.consumers) == 1 && !eb.running.Load() {
		eb.start()
	}
	return nil
}

// TryPublish attempts to publish an event without blocking.
// Returns true if the event was accepted, false if dropped.
func (eb *EventBus) TryPublish(event Event) bool {
	if eb == nil || !eb.initialized.Load() || !eb.running.Load() {
		return false
	}

	eb.mu.Lock()
	hasConsumers := len(eb.consumers) > 0
	eb.mu.Unlock()
	if !hasConsumers {
		return false
	}

	if failure, ok := event.(FailureEvent); ok && !eb.dedup.ShouldProcess(failure) {
		atomic.AddUint64(&eb.stats.EventsSuppressed, 1)
		return false
	}

	select {
	case eb.eventChan <- event:
		atomic.AddUint64(&eb.stats.EventsReceived, 1)
		return true
	default:
		atomic.AddUint64(&eb.stats.EventsDropped, 1)
		eb.log.Debug("event dropped due to full buffer", logger.String("kind", string(event.Kind())))
		return false
	}
}

// start begins the worker goroutines
func (eb *EventBus) start() {
	if eb.running.Swap(true) {
		return
	}
	for i := range eb.workers {
		eb.wg.Add(1)
		go eb.worker(i)
	}
}

// worker delivers events until the bus is shut down, then drains what is queued
func (eb *EventBus) worker(id int) {
	defer eb.wg.Done()

	log := eb.log.With(logger.Int("worker_id", id))
	log.Debug("worker started")

	for {
		select {
		case <-eb.ctx.Done():
			for {
				select {
				case event := <-eb.eventChan:
					eb.processEvent(event, log)
				default:
					log.Debug("worker stopped")
					return
				}
			}
		case event := <-eb.eventChan:
			eb.processEvent(event, log)
		}
	}
}

// processEvent sends the event to all registered consumers
func (eb *EventBus) processEvent(event Event, log logger.Logger) {
	eb.mu.Lock()
	consumers := make([]EventConsumer, len(eb.consumers))
	copy(consumers, eb.consumers)
	eb.mu.Unlock()

	for _, consumer := range consumers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					atomic.AddUint64(&eb.stats.ConsumerErrors, 1)
					log.Error("consumer panicked",
						logger.String("consumer", consumer.Name()),
						logger.Any("panic", r),
						logger.String("kind", string(event.Kind())))
				}
			}()

			if err := consumer.ProcessEvent(event); err != nil {
				atomic.AddUint64(&eb.stats.ConsumerErrors, 1)
				log.Error("consumer error",
					logger.String("consumer", consumer.Name()),
					logger.Error(err),
					logger.String("kind", string(event.Kind())))
				return
			}
			atomic.AddUint64(&eb.stats.EventsProcessed, 1)
		}()
	}
}

// Shutdown stops accepting events and waits for queued ones to be delivered
func (eb *EventBus) Shutdown(timeout time.Duration) error {
	if eb == nil || !eb.initialized.Load() {
		return nil
	}

	eb.running.Store(false)
	eb.cancel()

	done := make(chan struct{})
	go func() {
		eb.wg.Wait()
		close(done)
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-done:
		eb.log.Debug("event bus shutdown complete")
		return nil
	case <-timer.C:
		eb.log.Warn("event bus shutdown timeout exceeded", logger.Duration("timeout", timeout))
		return fmt.Errorf("shutdown timeout exceeded")
	}
}

// GetStats returns current event bus statistics
func (eb *EventBus) GetStats() EventBusStats {
	if eb == nil {
		return EventBusStats{}
	}
	return EventBusStats{
		EventsReceived:   atomic.LoadUint64(&eb.stats.EventsReceived),
		EventsSuppressed: atomic.LoadUint64(&eb.stats.EventsSuppressed),
		EventsProcessed:  atomic.LoadUint64(&eb.stats.EventsProcessed),
		EventsDropped:    atomic.LoadUint64(&eb.stats.EventsDropped),
		ConsumerErrors:   atomic.LoadUint64(&eb.stats.ConsumerErrors),
	}
}
