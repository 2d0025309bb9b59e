// Package thing models the button things of the service and their channels.
package thing

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"app-fritzbutton-go/internal/pkg/button"
	"app-fritzbutton-go/internal/pkg/config"
)

// ThingTypeUID identifies a supported device type
type ThingTypeUID string

const (
	DECT400ThingType      ThingTypeUID = "FRITZ_DECT_400"
	DECT440ThingType      ThingTypeUID = "FRITZ_DECT_440"
	HANFUNButtonThingType ThingTypeUID = "HAN_FUN_BUTTON"
)

// UIDSeparator separates the segments of thing and channel UIDs
const UIDSeparator = ":"

var ErrUnsupportedType = errors.New("unsupported thing type")

// ChannelKind tells trigger channels from state channels
type ChannelKind int

const (
	StateChannel ChannelKind = iota
	TriggerChannel
)

// Channel is one channel of a thing
type Channel struct {
	UID  string
	ID   string
	Kind ChannelKind
}

// Thing is a configured button device
type Thing struct {
	uid      string
	typeUID  ThingTypeUID
	label    string
	channels map[string]Channel
}

var _ button.Thing = (*Thing)(nil)

// New creates a thing. An empty channelIDs list selects DefaultChannels(typeUID).
func New(uid string, typeUID ThingTypeUID, label string, channelIDs []string) (*Thing, error) {
	if uid == "" {
		return nil, errors.New("thing UID cannot be empty")
	}
	if !IsSupported(typeUID) {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedType, typeUID)
	}
	if len(channelIDs) == 0 {
		channelIDs = DefaultChannels(typeUID)
	}

	t := &Thing{
		uid:      uid,
		typeUID:  typeUID,
		label:    label,
		channels: make(map[string]Channel, len(channelIDs)),
	}
	for _, id := range channelIDs {
		if id == "" {
			return nil, fmt.Errorf("thing %s: empty channel id", uid)
		}
		kind := StateChannel
		if id == button.ChannelPress || strings.HasSuffix(id, button.ChannelGroupSeparator+button.ChannelPress) {
			kind = TriggerChannel
		}
		t.channels[id] = Channel{UID: ChannelUIDOf(uid, id), ID: id, Kind: kind}
	}
	return t, nil
}

// FromConfig creates a thing from its configuration entry
func FromConfig(cfg config.ThingConfig) (*Thing, error) {
	return New(cfg.UID, ThingTypeUID(cfg.Type), cfg.Label, cfg.Channels)
}

func (t *Thing) UID() string        { return t.uid }
func (t *Thing) Type() ThingTypeUID { return t.typeUID }
func (t *Thing) Label() string      { return t.label }
func (t *Thing) ChannelCount() int  { return len(t.channels) }

// Channel looks up a channel by id
func (t *Thing) Channel(id string) (Channel, bool) {
	c, ok := t.channels[id]
	return c, ok
}

// ChannelUID resolves a channel id to its UID
func (t *Thing) ChannelUID(id string) (string, bool) {
	c, ok := t.channels[id]
	if !ok {
		return "", false
	}
	return c.UID, true
}

// Channels returns the channels sorted by id
func (t *Thing) Channels() []Channel {
	out := make([]Channel, 0, len(t.channels))
	for _, c := range t.channels {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// SameLayout reports whether o has the same type and channels as t
func (t *Thing) SameLayout(o *Thing) bool {
	if o == nil || t.typeUID != o.typeUID || len(t.channels) != len(o.channels) {
		return false
	}
	for id := range t.channels {
		if _, ok := o.channels[id]; !ok {
			return false
		}
	}
	return true
}

// ChannelUIDOf joins a thing UID and a channel id
func ChannelUIDOf(thingUID, channelID string) string {
	return thingUID + UIDSeparator + channelID
}

// SplitChannelUID splits a channel UID into thing UID and channel id
func SplitChannelUID(uid string) (thingUID string, channelID string, ok bool) {
	i := strings.LastIndex(uid, UIDSeparator)
	if i <= 0 || i == len(uid)-1 {
		return "", "", false
	}
	return uid[:i], uid[i+1:], true
}

// IsSupported reports whether typeUID is a known button type
func IsSupported(typeUID ThingTypeUID) bool {
	switch typeUID {
	case DECT400ThingType, DECT440ThingType, HANFUNButtonThingType:
		return true
	}
	return false
}

// DefaultChannels returns the channel layout of a device type
func DefaultChannels(typeUID ThingTypeUID) []string {
	switch typeUID {
	case DECT400ThingType:
		return []string{button.ChannelPress, button.ChannelLastChanged, button.ChannelBatteryLevel, button.ChannelBatteryLow}
	case DECT440ThingType:
		ids := []string{button.ChannelBatteryLevel, button.ChannelBatteryLow}
		for _, g := range []string{button.GroupTopLeft, button.GroupBottomLeft, button.GroupTopRight, button.GroupBottomRight} {
			ids = append(ids, button.ChannelID(g, button.ChannelPress), button.ChannelID(g, button.ChannelLastChanged))
		}
		return ids
	case HANFUNButtonThingType:
		return []string{button.ChannelPress, button.ChannelLastChanged}
	}
	return nil
}

// ModeFor resolves how snapshots of a device are read. A device reporting
// itself as HAN-FUN button is read as one, whatever its thing type.
func ModeFor(typeUID ThingTypeUID, hanfun bool) (button.DeviceMode, bool) {
	if hanfun || typeUID == HANFUNButtonThingType {
		return button.ModeHANFUN, true
	}
	switch typeUID {
	case DECT400ThingType:
		return button.ModeShortLongPress, true
	case DECT440ThingType:
		return button.ModeFourQuadrant, true
	}
	return 0, false
}
