package thingmanager

import (
	"context"

	"app-fritzbutton-go/internal/pkg/mqtt"
	"app-fritzbutton-go/internal/pkg/thing"
)

// ThingManagerInterface defines the thing manager operations
type ThingManagerInterface interface {
	// QueryThings asks the data center for the thing list (type=2)
	QueryThings() error

	// UpdateThings replaces the registered things
	UpdateThings(things []*thing.Thing) error

	// GetThing returns a registered thing by UID
	GetThing(uid string) (*thing.Thing, bool)

	// Things returns the registered things
	Things() []*thing.Thing

	// GetChannelState returns the cached state of a channel
	GetChannelState(channelUID string) (CachedState, bool)

	// HandleDeviceUpdate decodes and applies a device snapshot (type=4)
	HandleDeviceUpdate(msg *mqtt.MQTTMessage) error

	// ValidateDeviceUpdate and ProcessDeviceUpdate are the pipeline form of HandleDeviceUpdate
	ValidateDeviceUpdate(ctx context.Context, data interface{}) (interface{}, error)
	ProcessDeviceUpdate(ctx context.Context, data interface{}) (interface{}, error)

	// HandleQueryResponse processes the query things response (type=2)
	HandleQueryResponse(resp *mqtt.MQTTResponse) error

	// HandleThingsPush processes a thing list push (type=3)
	HandleThingsPush(msg *mqtt.MQTTMessage) error

	// StartCleanup starts periodic cache cleanup
	StartCleanup()

	// Stop stops the thing manager
	Stop()
}
