// Package eventforward batches channel triggers and state writes and
// publishes them to the data center.
package eventforward

import (
	"sync"
	"time"

	"app-fritzbutton-go/internal/pkg/button"
	"app-fritzbutton-go/internal/pkg/config"
	"app-fritzbutton-go/internal/pkg/logger"
	"app-fritzbutton-go/internal/pkg/mqtt"
)

// Publisher sends one message to the broker
type Publisher interface {
	Publish(msg *mqtt.MQTTMessage) error
}

// Manager queues channel events and flushes them in batches with retry
type Manager struct {
	publisher Publisher
	lc        logger.LoggingClient

	queue      []mqtt.ChannelEvent
	batchSize  int
	flushDelay time.Duration
	maxRetries int
	retryDelay time.Duration
	now        func() time.Time

	mu       sync.Mutex
	stopCh   chan struct{}
	flushCh  chan struct{}
	doneCh   chan struct{}
	stopOnce sync.Once
}

// NewManager creates a manager. A nil publisher discards every flushed batch.
func NewManager(publisher Publisher, cfg config.ForwardConfig, lc logger.LoggingClient) *Manager {
	m := &Manager{
		publisher:  publisher,
		lc:         lc,
		queue:      make([]mqtt.ChannelEvent, 0),
		batchSize:  cfg.BatchSize,
		flushDelay: cfg.GetFlushInterval(),
		maxRetries: cfg.MaxRetries,
		retryDelay: time.Second,
		now:        time.Now,
		stopCh:     make(chan struct{}),
		flushCh:    make(chan struct{}, 1),
		doneCh:     make(chan struct{}),
	}
	if m.batchSize <= 0 {
		m.batchSize = 10
	}
	if m.maxRetries <= 0 {
		m.maxRetries = 3
	}
	if m.flushDelay <= 0 {
		m.flushDelay = 500 * time.Millisecond
	}
	return m
}

// Start starts the flush loop
func (m *Manager) Start() {
	go m.run()
	m.lc.Info("Event forward manager started")
}

// Stop flushes what is queued and stops the loop
func (m *Manager) Stop() {
	m.stopOnce.Do(func() {
		close(m.stopCh)
		<-m.doneCh
		m.lc.Info("Event forward manager stopped")
	})
}

// PublishTrigger queues a trigger event and requests an immediate flush
func (m *Manager) PublishTrigger(channelUID string, event string) {
	m.addEntry(mqtt.ChannelEvent{
		ChannelUID: channelUID,
		Kind:       mqtt.EventKindTrigger,
		Event:      event,
		Timestamp:  m.now().UnixMilli(),
	}, true)
}

// PublishState queues a state write
func (m *Manager) PublishState(channelUID string, state button.State) {
	m.addEntry(mqtt.ChannelEvent{
		ChannelUID: channelUID,
		Kind:       mqtt.EventKindState,
		State:      state.String(),
		Timestamp:  m.now().UnixMilli(),
	}, false)
}

func (m *Manager) addEntry(entry mqtt.ChannelEvent, urgent bool) {
	m.mu.Lock()
	m.queue = append(m.queue, entry)
	shouldFlush := urgent || len(m.queue) >= m.batchSize
	m.mu.Unlock()

	if shouldFlush {
		select {
		case m.flushCh <- struct{}{}:
		default:
		}
	}
}

// Pending returns the number of queued events
func (m *Manager) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.queue)
}

func (m *Manager) run() {
	defer close(m.doneCh)

	ticker := time.NewTicker(m.flushDelay)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopCh:
			m.flush()
			return
		case <-ticker.C:
			m.flush()
		case <-m.flushCh:
			m.flush()
		}
	}
}

func (m *Manager) flush() {
	m.mu.Lock()
	if len(m.queue) == 0 {
		m.mu.Unlock()
		return
	}
	entries := m.queue
	m.queue = make([]mqtt.ChannelEvent, 0)
	m.mu.Unlock()

	for start := 0; start < len(entries); start += m.batchSize {
		end := start + m.batchSize
		if end > len(entries) {
			end = len(entries)
		}
		m.sendBatch(entries[start:end])
	}
}

func (m *Manager) sendBatch(events []mqtt.ChannelEvent) {
	// nil publisher: tests and MQTT-less runs
	if m.publisher == nil {
		return
	}

	msg := mqtt.NewMessage(mqtt.TypeChannelEvents, &mqtt.ChannelEventsPayload{Events: events})

	for attempt := 0; attempt < m.maxRetries; attempt++ {
		err := m.publisher.Publish(msg)
		if err == nil {
			return
		}
		m.lc.Warnf("Failed to send %d channel events (attempt %d): %s", len(events), attempt+1, err.Error())
		if attempt < m.maxRetries-1 {
			time.Sleep(m.retryDelay * time.Duration(attempt+1))
		}
	}
	m.lc.Errorf("Dropped %d channel events after %d attempts", len(events), m.maxRetries)
}
