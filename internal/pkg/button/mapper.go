package button

import (
	"strings"
	"time"

	"app-fritzbutton-go/internal/pkg/logger"
)

// Identifier suffixes of the four-quadrant buttons
const (
	topRightSuffix    = "-1"
	bottomRightSuffix = "-3"
	bottomLeftSuffix  = "-5"
	topLeftSuffix     = "-7"
)

// quadrants is processed in this order
var quadrants = []struct {
	suffix string
	group  string
}{
	{topLeftSuffix, GroupTopLeft},
	{bottomLeftSuffix, GroupBottomLeft},
	{topRightSuffix, GroupTopRight},
	{bottomRightSuffix, GroupBottomRight},
}

// EventMapper turns device snapshots of one thing into press triggers and
// last-changed states.
//
// An EventMapper is not safe for concurrent use. Callers must deliver the
// snapshots of a thing one at a time.
type EventMapper struct {
	thing Thing
	sink  ChannelSink
	lc    logger.LoggingClient

	// lastDispatched only moves forward; presses at or before it are not triggered
	lastDispatched time.Time
}

var _ SnapshotObserver = (*EventMapper)(nil)

// NewEventMapper creates a mapper that ignores presses reported before now
func NewEventMapper(thing Thing, sink ChannelSink, lc logger.LoggingClient) *EventMapper {
	return NewEventMapperAt(thing, sink, lc, time.Now())
}

// NewEventMapperAt creates a mapper that ignores presses at or before since
func NewEventMapperAt(thing Thing, sink ChannelSink, lc logger.LoggingClient, since time.Time) *EventMapper {
	return &EventMapper{
		thing:          thing,
		sink:           sink,
		lc:             lc,
		lastDispatched: since,
	}
}

// LastDispatched returns the instant of the newest press that was triggered,
// or the construction time if none was.
func (m *EventMapper) LastDispatched() time.Time {
	return m.lastDispatched
}

// OnSnapshot maps one polled snapshot according to mode
func (m *EventMapper) OnSnapshot(snapshot Snapshot, mode DeviceMode) {
	switch mode {
	case ModeHANFUN:
		m.updateHANFUNButton(snapshot.Buttons)
	case ModeShortLongPress:
		m.updateShortLongPressButton(snapshot.Buttons)
		m.updateBattery(snapshot)
	case ModeFourQuadrant:
		m.updateButtons(snapshot.Buttons)
		m.updateBattery(snapshot)
	default:
		m.lc.Warnf("Unsupported device mode %s for thing '%s'", mode, m.thing.UID())
	}
}

func (m *EventMapper) updateHANFUNButton(buttons []Observation) {
	if len(buttons) > 0 {
		m.updateButton(buttons[0], EventPressed, "")
	}
}

// updateShortLongPressButton selects the slot pressed last; ties go to the short-press slot.
func (m *EventMapper) updateShortLongPressButton(buttons []Observation) {
	switch {
	case len(buttons) == 0:
		return
	case len(buttons) == 1:
		m.updateButton(buttons[0], EventShortPressed, "")
	case buttons[0].LastPressedTimestamp >= buttons[1].LastPressedTimestamp:
		m.updateButton(buttons[0], EventShortPressed, "")
	default:
		m.updateButton(buttons[1], EventLongPressed, "")
	}
}

func (m *EventMapper) updateButtons(buttons []Observation) {
	for _, q := range quadrants {
		if b, ok := findBySuffix(buttons, q.suffix); ok {
			m.updateButton(b, EventPressed, q.group)
		}
	}
}

func findBySuffix(buttons []Observation, suffix string) (Observation, bool) {
	for _, b := range buttons {
		if strings.HasSuffix(b.Identifier, suffix) {
			return b, true
		}
	}
	return Observation{}, false
}

func (m *EventMapper) updateButton(b Observation, event string, group string) {
	lastChanged := ChannelID(group, ChannelLastChanged)
	if b.LastPressedTimestamp == 0 {
		m.setState(lastChanged, Undefined())
		return
	}

	then := time.Unix(b.LastPressedTimestamp, 0)
	// a press at or before lastDispatched was seen already, or predates this handler (restart)
	if then.After(m.lastDispatched) {
		m.lastDispatched = then
		m.triggerEvent(ChannelID(group, ChannelPress), event)
	}
	m.setState(lastChanged, DateTime(then))
}

func (m *EventMapper) updateBattery(snapshot Snapshot) {
	if snapshot.Battery == nil {
		m.setState(ChannelBatteryLevel, Undefined())
	} else {
		m.setState(ChannelBatteryLevel, Percent(*snapshot.Battery))
	}
	if snapshot.BatteryLow == nil {
		m.setState(ChannelBatteryLow, Undefined())
	} else {
		m.setState(ChannelBatteryLow, OnOff(*snapshot.BatteryLow))
	}
}

func (m *EventMapper) triggerEvent(channelID string, event string) {
	uid, ok := m.thing.ChannelUID(channelID)
	if !ok {
		m.lc.Debugf("Channel '%s' in thing '%s' does not exist.", channelID, m.thing.UID())
		return
	}
	m.sink.TriggerEvent(uid, event)
}

func (m *EventMapper) setState(channelID string, state State) {
	uid, ok := m.thing.ChannelUID(channelID)
	if !ok {
		m.lc.Debugf("Channel '%s' in thing '%s' does not exist.", channelID, m.thing.UID())
		return
	}
	m.sink.SetState(uid, state)
}
