package thing

import (
	"errors"
	"testing"

	"app-fritzbutton-go/internal/pkg/button"
	"app-fritzbutton-go/internal/pkg/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_DefaultChannels(t *testing.T) {
	tests := []struct {
		typeUID ThingTypeUID
		count   int
		has     []string
	}{
		{DECT400ThingType, 4, []string{"press", "last-changed", "battery-level", "battery-low"}},
		{DECT440ThingType, 10, []string{"top-left.press", "bottom-right.last-changed", "battery-low"}},
		{HANFUNButtonThingType, 2, []string{"press", "last-changed"}},
	}

	for _, tt := range tests {
		t.Run(string(tt.typeUID), func(t *testing.T) {
			th, err := New("avmfritz:"+string(tt.typeUID)+":x", tt.typeUID, "", nil)
			require.NoError(t, err)
			assert.Equal(t, tt.count, th.ChannelCount())
			for _, id := range tt.has {
				uid, ok := th.ChannelUID(id)
				assert.True(t, ok, id)
				assert.Equal(t, th.UID()+":"+id, uid)
			}
		})
	}
}

func TestNew_Errors(t *testing.T) {
	_, err := New("", DECT400ThingType, "", nil)
	assert.Error(t, err)

	_, err = New("x", ThingTypeUID("FRITZ_DECT_200"), "", nil)
	assert.True(t, errors.Is(err, ErrUnsupportedType))

	_, err = New("x", DECT400ThingType, "", []string{"press", ""})
	assert.Error(t, err)
}

func TestChannelKinds(t *testing.T) {
	th, err := New("hall", DECT440ThingType, "Hall", nil)
	require.NoError(t, err)

	c, ok := th.Channel("top-right.press")
	require.True(t, ok)
	assert.Equal(t, TriggerChannel, c.Kind)

	c, ok = th.Channel("top-right.last-changed")
	require.True(t, ok)
	assert.Equal(t, StateChannel, c.Kind)

	_, ok = th.Channel("top-right.pressure")
	assert.False(t, ok)

	chs := th.Channels()
	require.Len(t, chs, 10)
	assert.Equal(t, "battery-level", chs[0].ID)
}

func TestFromConfig(t *testing.T) {
	th, err := FromConfig(config.ThingConfig{
		UID:      "avmfritz:FRITZ_DECT_400:desk",
		Type:     "FRITZ_DECT_400",
		Label:    "Desk",
		Channels: []string{"press"},
	})
	require.NoError(t, err)
	assert.Equal(t, "Desk", th.Label())
	assert.Equal(t, DECT400ThingType, th.Type())
	_, ok := th.ChannelUID("last-changed")
	assert.False(t, ok)
}

func TestSameLayout(t *testing.T) {
	a, _ := New("a", DECT400ThingType, "", nil)
	b, _ := New("a", DECT400ThingType, "renamed", nil)
	c, _ := New("a", DECT400ThingType, "", []string{"press"})
	d, _ := New("a", HANFUNButtonThingType, "", []string{"press", "last-changed", "battery-level", "battery-low"})

	assert.True(t, a.SameLayout(b))
	assert.False(t, a.SameLayout(c))
	assert.False(t, a.SameLayout(d))
	assert.False(t, a.SameLayout(nil))
}

func TestSplitChannelUID(t *testing.T) {
	th, ch, ok := SplitChannelUID("avmfritz:FRITZ_DECT_440:hall:top-left.press")
	require.True(t, ok)
	assert.Equal(t, "avmfritz:FRITZ_DECT_440:hall", th)
	assert.Equal(t, "top-left.press", ch)

	for _, bad := range []string{"", "nochannel", ":x", "thing:"} {
		_, _, ok := SplitChannelUID(bad)
		assert.False(t, ok, bad)
	}
}

func TestModeFor(t *testing.T) {
	tests := []struct {
		typeUID ThingTypeUID
		hanfun  bool
		want    button.DeviceMode
		ok      bool
	}{
		{DECT400ThingType, false, button.ModeShortLongPress, true},
		{DECT440ThingType, false, button.ModeFourQuadrant, true},
		{HANFUNButtonThingType, false, button.ModeHANFUN, true},
		{DECT440ThingType, true, button.ModeHANFUN, true},
		{ThingTypeUID("FRITZ_DECT_301"), false, 0, false},
	}

	for _, tt := range tests {
		mode, ok := ModeFor(tt.typeUID, tt.hanfun)
		assert.Equal(t, tt.ok, ok, tt.typeUID)
		assert.Equal(t, tt.want, mode, tt.typeUID)
	}
}
