package mqtt

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Message type constants
const (
	TypeHeartbeat     = 1 // heartbeat
	TypeQueryThings   = 2 // ask the data center for the thing list
	TypeThingsPush    = 3 // thing list pushed by the data center
	TypeDeviceUpdate  = 4 // polled device snapshot
	TypeChannelEvents = 5 // outbound trigger and state batch
	TypeCommand       = 6 // command
)

// Response codes
const (
	CodeSuccess    = 200
	CodeBadRequest = 400
	CodeNotFound   = 404
	CodeError      = 500
)

const QueryThingsCmd = "0201"

const CmdTypeGet = "GET"

// MQTTMessage represents the base message structure
type MQTTMessage struct {
	RequestID string      `json:"requestId"`
	Version   string      `json:"version"`
	Type      int         `json:"type"`
	Timestamp int64       `json:"timestamp"`
	Payload   interface{} `json:"payload"`
}

// MQTTResponse represents a response message with code and msg
type MQTTResponse struct {
	RequestID string      `json:"requestId"`
	Version   string      `json:"version"`
	Type      int         `json:"type"`
	Timestamp int64       `json:"timestamp"`
	Code      int         `json:"code"`
	Msg       string      `json:"msg"`
	Payload   interface{} `json:"payload"`
}

// NewMessage creates a new MQTTMessage with default values
func NewMessage(msgType int, payload interface{}) *MQTTMessage {
	return &MQTTMessage{
		RequestID: uuid.New().String(),
		Version:   "1.0",
		Type:      msgType,
		Timestamp: time.Now().UnixMilli(),
		Payload:   payload,
	}
}

// NewResponse creates a new MQTTResponse from a request
func NewResponse(requestID string, msgType int, code int, msg string, payload interface{}) *MQTTResponse {
	return &MQTTResponse{
		RequestID: requestID,
		Version:   "1.0",
		Type:      msgType,
		Timestamp: time.Now().UnixMilli(),
		Code:      code,
		Msg:       msg,
		Payload:   payload,
	}
}

// ToJSON serializes the message to JSON bytes
func (m *MQTTMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// ToJSON serializes the response to JSON bytes
func (r *MQTTResponse) ToJSON() ([]byte, error) {
	return json.Marshal(r)
}

// ParseMessage parses JSON bytes into an MQTTMessage
func ParseMessage(data []byte) (*MQTTMessage, error) {
	var msg MQTTMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("failed to parse message: %w", err)
	}
	return &msg, nil
}

// ParseResponse parses JSON bytes into an MQTTResponse
func ParseResponse(data []byte) (*MQTTResponse, error) {
	var resp MQTTResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	return &resp, nil
}

// ---- Payload Types ----

// HeartbeatPayload for type=1 heartbeat messages
type HeartbeatPayload struct{}

// QueryThingsPayload for type=2 query things request
type QueryThingsPayload struct {
	Cmd string `json:"cmd"`
}

// ThingDefinition describes one button thing
type ThingDefinition struct {
	UID   string `json:"uid"`
	Type  string `json:"type"`
	Label string `json:"label,omitempty"`
	// Channels empty means the default layout of Type
	Channels []string `json:"channels,omitempty"`
}

// QueryThingsResponse for type=2 query things response payload
type QueryThingsResponse struct {
	Cmd    string             `json:"cmd"`
	Result []*ThingDefinition `json:"result"`
}

// ThingsPushPayload for type=3 thing list push
type ThingsPushPayload struct {
	Things []*ThingDefinition `json:"things"`
}

// ButtonPayload is the last reported press of one button
type ButtonPayload struct {
	Identifier string `json:"identifier"`
	// LastPressedTimestamp in epoch seconds, 0 if never pressed
	LastPressedTimestamp int64 `json:"lastPressedTimestamp"`
}

// DeviceUpdatePayload for type=4 device snapshots
type DeviceUpdatePayload struct {
	ThingUID   string          `json:"thingUID"`
	HANFUN     bool            `json:"hanfun,omitempty"`
	Buttons    []ButtonPayload `json:"buttons"`
	Battery    *int            `json:"battery,omitempty"`
	BatteryLow *bool           `json:"batteryLow,omitempty"`
}

// Channel event kinds
const (
	EventKindTrigger = "trigger"
	EventKindState   = "state"
)

// ChannelEvent is one trigger or state write
type ChannelEvent struct {
	ChannelUID string `json:"channelUID"`
	Kind       string `json:"kind"`
	Event      string `json:"event,omitempty"`
	State      string `json:"state,omitempty"`
	Timestamp  int64  `json:"timestamp"` // ms
}

// ChannelEventsPayload for type=5 channel event batches
type ChannelEventsPayload struct {
	Events []ChannelEvent `json:"events"`
}

// CommandPayload for type=6 command messages
type CommandPayload struct {
	CmdType    string         `json:"cmdType"` // only "GET"
	CmdContent CommandContent `json:"cmdContent"`
}

// CommandContent represents the content of a command
type CommandContent struct {
	ThingUID  string `json:"thingUID"`
	ChannelID string `json:"channelId"`
	Value     string `json:"value,omitempty"`
}

// CommandResponsePayload for type=6 command response
type CommandResponsePayload struct {
	CmdType    string         `json:"cmdType"`
	StatusCode int            `json:"statusCode"`
	CmdContent CommandContent `json:"cmdContent"`
}

// ---- Helper functions for payload extraction ----

// decodePayload re-encodes a generic payload into a typed one
func decodePayload(payload interface{}, out interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}

// GetDeviceUpdatePayload extracts DeviceUpdatePayload from message
func (m *MQTTMessage) GetDeviceUpdatePayload() (*DeviceUpdatePayload, error) {
	if m.Type != TypeDeviceUpdate {
		return nil, fmt.Errorf("message type is not device update: %d", m.Type)
	}
	var payload DeviceUpdatePayload
	if err := decodePayload(m.Payload, &payload); err != nil {
		return nil, err
	}
	return &payload, nil
}

// GetCommandPayload extracts CommandPayload from message
func (m *MQTTMessage) GetCommandPayload() (*CommandPayload, error) {
	if m.Type != TypeCommand {
		return nil, fmt.Errorf("message type is not command: %d", m.Type)
	}
	var payload CommandPayload
	if err := decodePayload(m.Payload, &payload); err != nil {
		return nil, err
	}
	return &payload, nil
}

// GetThingsPushPayload extracts ThingsPushPayload from message
func (m *MQTTMessage) GetThingsPushPayload() (*ThingsPushPayload, error) {
	if m.Type != TypeThingsPush {
		return nil, fmt.Errorf("message type is not things push: %d", m.Type)
	}
	var payload ThingsPushPayload
	if err := decodePayload(m.Payload, &payload); err != nil {
		return nil, err
	}
	return &payload, nil
}

// GetChannelEventsPayload extracts ChannelEventsPayload from message
func (m *MQTTMessage) GetChannelEventsPayload() (*ChannelEventsPayload, error) {
	if m.Type != TypeChannelEvents {
		return nil, fmt.Errorf("message type is not channel events: %d", m.Type)
	}
	var payload ChannelEventsPayload
	if err := decodePayload(m.Payload, &payload); err != nil {
		return nil, err
	}
	return &payload, nil
}

// GetQueryThingsResponse extracts QueryThingsResponse from response
func (r *MQTTResponse) GetQueryThingsResponse() (*QueryThingsResponse, error) {
	if r.Type != TypeQueryThings {
		return nil, fmt.Errorf("response type is not query things: %d", r.Type)
	}
	var payload QueryThingsResponse
	if err := decodePayload(r.Payload, &payload); err != nil {
		return nil, err
	}
	return &payload, nil
}
