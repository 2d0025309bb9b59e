// Package thingmanager keeps the registered button things, one event mapper
// per thing, and the last known state of every channel.
package thingmanager

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"app-fritzbutton-go/internal/pkg/button"
	"app-fritzbutton-go/internal/pkg/config"
	"app-fritzbutton-go/internal/pkg/logger"
	"app-fritzbutton-go/internal/pkg/mqtt"
	"app-fritzbutton-go/internal/pkg/thing"
)

var (
	ErrUnknownThing    = errors.New("unknown thing")
	ErrUnsupportedMode = errors.New("unsupported device mode")
)

const defaultQueryTimeout = 30 * time.Second

// Requester sends a request to the data center and waits for its response
type Requester interface {
	PublishAndWait(msg *mqtt.MQTTMessage, timeout time.Duration) (*mqtt.MQTTResponse, error)
}

// ChannelPublisher forwards channel writes out of the process
type ChannelPublisher interface {
	PublishState(channelUID string, state button.State)
	PublishTrigger(channelUID string, event string)
}

// entry serializes the snapshots of one thing through its mapper
type entry struct {
	thing  *thing.Thing
	mapper *button.EventMapper
	mu     sync.Mutex
}

// ThingManager owns the thing registry and the channel state cache
type ThingManager struct {
	things map[string]*entry

	cache *Cache

	requester    Requester
	lc           logger.LoggingClient
	config       *config.CacheConfig
	queryTimeout time.Duration
	now          func() time.Time
	mu           sync.RWMutex

	// publisher has its own lock; sinks read it while an entry lock is held
	publisher ChannelPublisher
	pubMu     sync.RWMutex
}

var _ ThingManagerInterface = (*ThingManager)(nil)

// NewThingManager creates a ThingManager. requester may be nil when the
// thing list only comes from configuration.
func NewThingManager(requester Requester, lc logger.LoggingClient, cacheConfig *config.CacheConfig) *ThingManager {
	return &ThingManager{
		things:       make(map[string]*entry),
		cache:        NewCache(cacheConfig.GetDefaultTTL()),
		requester:    requester,
		lc:           lc,
		config:       cacheConfig,
		queryTimeout: defaultQueryTimeout,
		now:          time.Now,
	}
}

// SetChannelPublisher sets where channel writes are forwarded
func (m *ThingManager) SetChannelPublisher(p ChannelPublisher) {
	m.pubMu.Lock()
	defer m.pubMu.Unlock()
	m.publisher = p
}

// QueryThings sends a type=2 query and applies the returned thing list
func (m *ThingManager) QueryThings() error {
	if m.requester == nil {
		return errors.New("no requester configured")
	}
	m.lc.Info("Querying things from data center...")

	msg := mqtt.NewMessage(mqtt.TypeQueryThings, &mqtt.QueryThingsPayload{Cmd: mqtt.QueryThingsCmd})
	resp, err := m.requester.PublishAndWait(msg, m.queryTimeout)
	if err != nil {
		return fmt.Errorf("query things failed: %w", err)
	}
	if resp.Code != mqtt.CodeSuccess {
		return fmt.Errorf("query things returned code %d: %s", resp.Code, resp.Msg)
	}
	return m.HandleQueryResponse(resp)
}

// HandleQueryResponse processes the query things response (type=2)
func (m *ThingManager) HandleQueryResponse(resp *mqtt.MQTTResponse) error {
	qtr, err := resp.GetQueryThingsResponse()
	if err != nil {
		return fmt.Errorf("failed to parse query things response: %w", err)
	}
	m.lc.Infof("Received thing list: %d things", len(qtr.Result))
	return m.ApplyThingDefinitions(qtr.Result)
}

// HandleThingsPush processes a thing list push (type=3)
func (m *ThingManager) HandleThingsPush(msg *mqtt.MQTTMessage) error {
	payload, err := msg.GetThingsPushPayload()
	if err != nil {
		return fmt.Errorf("failed to parse things push: %w", err)
	}
	m.lc.Infof("Received thing list push: %d things", len(payload.Things))
	return m.ApplyThingDefinitions(payload.Things)
}

// ApplyThingDefinitions builds things from wire definitions and registers
// them. Invalid definitions are skipped with a warning.
func (m *ThingManager) ApplyThingDefinitions(defs []*mqtt.ThingDefinition) error {
	things := make([]*thing.Thing, 0, len(defs))
	for _, d := range defs {
		if d == nil {
			continue
		}
		th, err := thing.New(d.UID, thing.ThingTypeUID(d.Type), d.Label, d.Channels)
		if err != nil {
			m.lc.Warnf("Skipping thing '%s': %s", d.UID, err.Error())
			continue
		}
		things = append(things, th)
	}
	return m.UpdateThings(things)
}

// UpdateThings replaces the registry. Things whose UID is already
// registered keep their press history, so a reload never re-triggers
// presses that were already dispatched.
func (m *ThingManager) UpdateThings(things []*thing.Thing) error {
	seen := make(map[string]bool, len(things))
	for _, th := range things {
		if th == nil {
			return errors.New("nil thing")
		}
		if seen[th.UID()] {
			return fmt.Errorf("duplicate thing UID: %s", th.UID())
		}
		seen[th.UID()] = true
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	next := make(map[string]*entry, len(things))
	kept := 0
	for _, th := range things {
		old, ok := m.things[th.UID()]
		switch {
		case ok:
			// the entry stays registered so updates that already looked it up
			// serialize with the swap
			old.mu.Lock()
			if !old.thing.SameLayout(th) {
				old.mapper = m.newMapper(th, old.mapper.LastDispatched())
			}
			old.thing = th
			old.mu.Unlock()
			next[th.UID()] = old
			kept++
		default:
			next[th.UID()] = m.newEntry(th, m.now())
		}
		m.lc.Debugf("Registered thing %s (%s)", th.UID(), th.Type())
	}

	for uid := range m.things {
		if _, ok := next[uid]; !ok {
			n := m.cache.DeletePrefix(uid + thing.UIDSeparator)
			m.lc.Debugf("Removed thing %s and %d cached channels", uid, n)
		}
	}

	m.things = next
	m.lc.Infof("Updated things: %d registered, %d kept", len(next), kept)
	return nil
}

// newEntry is called with m.mu held
func (m *ThingManager) newEntry(th *thing.Thing, since time.Time) *entry {
	return &entry{thing: th, mapper: m.newMapper(th, since)}
}

func (m *ThingManager) newMapper(th *thing.Thing, since time.Time) *button.EventMapper {
	return button.NewEventMapperAt(th, &channelSink{m: m}, m.lc, since)
}

// GetThing returns a registered thing by UID
func (m *ThingManager) GetThing(uid string) (*thing.Thing, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.things[uid]
	if !ok {
		return nil, false
	}
	return e.thing, true
}

// Things returns the registered things sorted by UID
func (m *ThingManager) Things() []*thing.Thing {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*thing.Thing, 0, len(m.things))
	for _, e := range m.things {
		out = append(out, e.thing)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UID() < out[j].UID() })
	return out
}

// GetChannelState returns the cached state of a channel
func (m *ThingManager) GetChannelState(channelUID string) (CachedState, bool) {
	return m.cache.Get(channelUID)
}

// HandleDeviceUpdate decodes and applies a device snapshot (type=4)
func (m *ThingManager) HandleDeviceUpdate(msg *mqtt.MQTTMessage) error {
	payload, err := msg.GetDeviceUpdatePayload()
	if err != nil {
		return fmt.Errorf("failed to parse device update: %w", err)
	}
	return m.ApplyDeviceUpdate(payload)
}

// ValidateDeviceUpdate accepts a *mqtt.MQTTMessage or *mqtt.DeviceUpdatePayload
// and yields the payload of a registered thing.
func (m *ThingManager) ValidateDeviceUpdate(ctx context.Context, data interface{}) (interface{}, error) {
	var payload *mqtt.DeviceUpdatePayload
	switch v := data.(type) {
	case *mqtt.DeviceUpdatePayload:
		payload = v
	case *mqtt.MQTTMessage:
		p, err := v.GetDeviceUpdatePayload()
		if err != nil {
			return nil, fmt.Errorf("failed to parse device update: %w", err)
		}
		payload = p
	default:
		return nil, fmt.Errorf("unexpected device update input %T", data)
	}

	if _, ok := m.lookup(payload.ThingUID); !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownThing, payload.ThingUID)
	}
	return payload, nil
}

// ProcessDeviceUpdate applies a payload produced by ValidateDeviceUpdate
func (m *ThingManager) ProcessDeviceUpdate(ctx context.Context, data interface{}) (interface{}, error) {
	payload, ok := data.(*mqtt.DeviceUpdatePayload)
	if !ok {
		return nil, fmt.Errorf("unexpected device update input %T", data)
	}
	if err := m.ApplyDeviceUpdate(payload); err != nil {
		return nil, err
	}
	return payload, nil
}

// ApplyDeviceUpdate feeds one snapshot to the mapper of its thing
func (m *ThingManager) ApplyDeviceUpdate(payload *mqtt.DeviceUpdatePayload) error {
	e, ok := m.lookup(payload.ThingUID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownThing, payload.ThingUID)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	mode, ok := thing.ModeFor(e.thing.Type(), payload.HANFUN)
	if !ok {
		return fmt.Errorf("%w: thing %s of type %s", ErrUnsupportedMode, payload.ThingUID, e.thing.Type())
	}
	e.mapper.OnSnapshot(snapshotFromPayload(payload), mode)
	return nil
}

func (m *ThingManager) lookup(uid string) (*entry, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.things[uid]
	return e, ok
}

func snapshotFromPayload(p *mqtt.DeviceUpdatePayload) button.Snapshot {
	buttons := make([]button.Observation, 0, len(p.Buttons))
	for _, b := range p.Buttons {
		buttons = append(buttons, button.Observation{
			Identifier:           b.Identifier,
			LastPressedTimestamp: b.LastPressedTimestamp,
		})
	}
	return button.Snapshot{
		Buttons:    buttons,
		Battery:    p.Battery,
		BatteryLow: p.BatteryLow,
	}
}

// StartCleanup starts periodic cache cleanup
func (m *ThingManager) StartCleanup() {
	m.cache.StartPeriodicCleanup(m.config.GetCleanupInterval(), func(count int) {
		m.lc.Debugf("Cache cleanup: removed %d expired entries", count)
	})
	m.lc.Info("Cache cleanup started")
}

// Stop stops the thing manager
func (m *ThingManager) Stop() {
	m.cache.Stop()
}

func (m *ThingManager) channelPublisher() ChannelPublisher {
	m.pubMu.RLock()
	defer m.pubMu.RUnlock()
	return m.publisher
}

// channelSink records mapper writes in the cache, then forwards them
type channelSink struct {
	m *ThingManager
}

func (s *channelSink) SetState(channelUID string, state button.State) {
	s.m.cache.SetState(channelUID, state)
	if p := s.m.channelPublisher(); p != nil {
		p.PublishState(channelUID, state)
	}
}

func (s *channelSink) TriggerEvent(channelUID string, event string) {
	n := s.m.cache.RecordTrigger(channelUID, event)
	s.m.lc.Debugf("Trigger %s on %s (#%d)", event, channelUID, n)
	if p := s.m.channelPublisher(); p != nil {
		p.PublishTrigger(channelUID, event)
	}
}
