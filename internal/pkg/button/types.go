package button

import (
	"strconv"
	"time"
)

// Base channel names
const (
	ChannelPress        = "press"
	ChannelLastChanged  = "last-changed"
	ChannelBatteryLevel = "battery-level"
	ChannelBatteryLow   = "battery-low"
)

// Channel groups of four-quadrant devices
const (
	GroupTopLeft     = "top-left"
	GroupBottomLeft  = "bottom-left"
	GroupTopRight    = "top-right"
	GroupBottomRight = "bottom-right"
)

// ChannelGroupSeparator joins a channel group and a base channel name
const ChannelGroupSeparator = "."

// Trigger event labels
const (
	EventPressed      = "pressed"
	EventShortPressed = "short pressed"
	EventLongPressed  = "long pressed"
)

// ChannelID returns the channel id of base within group, or base when group is empty.
func ChannelID(group, base string) string {
	if group == "" {
		return base
	}
	return group + ChannelGroupSeparator + base
}

// DeviceMode selects how the buttons of a snapshot are interpreted
type DeviceMode int

const (
	// ModeHANFUN is a single logical button
	ModeHANFUN DeviceMode = iota + 1
	// ModeShortLongPress has a short-press slot and a long-press slot (FRITZ!DECT 400)
	ModeShortLongPress
	// ModeFourQuadrant has four buttons identified by suffix (FRITZ!DECT 440)
	ModeFourQuadrant
)

func (m DeviceMode) String() string {
	switch m {
	case ModeHANFUN:
		return "hanfun"
	case ModeShortLongPress:
		return "short-long-press"
	case ModeFourQuadrant:
		return "four-quadrant"
	default:
		return "unknown(" + strconv.Itoa(int(m)) + ")"
	}
}

// Observation is the last reported press of one button
type Observation struct {
	Identifier string
	// LastPressedTimestamp is in epoch seconds, 0 if the button was never pressed
	LastPressedTimestamp int64
}

// Snapshot is one polled state of a device
type Snapshot struct {
	Buttons    []Observation
	Battery    *int  // percent, nil if not reported
	BatteryLow *bool // nil if not reported
}

// StateKind discriminates State values
type StateKind int

const (
	StateUndefined StateKind = iota
	StateDateTime
	StatePercent
	StateOnOff
)

// State is the value of a state channel
type State struct {
	Kind   StateKind
	Time   time.Time
	Number int
	On     bool
}

func Undefined() State           { return State{Kind: StateUndefined} }
func DateTime(t time.Time) State { return State{Kind: StateDateTime, Time: t} }
func Percent(n int) State        { return State{Kind: StatePercent, Number: n} }
func OnOff(on bool) State        { return State{Kind: StateOnOff, On: on} }

// IsUndefined reports whether the state carries no value
func (s State) IsUndefined() bool { return s.Kind == StateUndefined }

// String renders the state in its wire form
func (s State) String() string {
	switch s.Kind {
	case StateDateTime:
		return s.Time.Format(time.RFC3339)
	case StatePercent:
		return strconv.Itoa(s.Number)
	case StateOnOff:
		if s.On {
			return "ON"
		}
		return "OFF"
	default:
		return "UNDEF"
	}
}

// Thing is the hosting entity whose channels the mapper writes to
type Thing interface {
	UID() string
	// ChannelUID resolves a channel id to its full UID; false if the thing has no such channel
	ChannelUID(channelID string) (string, bool)
}

// ChannelSink receives the writes produced by a mapper
type ChannelSink interface {
	SetState(channelUID string, state State)
	TriggerEvent(channelUID string, event string)
}

// SnapshotObserver is implemented by handlers that consume device snapshots
type SnapshotObserver interface {
	OnSnapshot(snapshot Snapshot, mode DeviceMode)
}
