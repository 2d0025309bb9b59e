package mqtt

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"app-fritzbutton-go/internal/pkg/logger"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
)

// MessageHandler handles incoming MQTT messages of a specific type
type MessageHandler func(msg *MQTTMessage) error

// ResponseHandler handles incoming MQTT responses of a specific type
type ResponseHandler func(resp *MQTTResponse) error

// DeviceUpdateHandler receives decoded type=4 snapshots
type DeviceUpdateHandler func(update *DeviceUpdatePayload) error

var errConnectionLost = errors.New("MQTT connection lost")

// ClientManager manages MQTT connections and message routing
type ClientManager struct {
	client pahomqtt.Client
	nodeID string
	qos    byte

	topicUp   string // subscribe: /v1/data/{nodeId}/up
	topicDown string // publish: /v1/data/{nodeId}/down

	messageHandlers  map[int]MessageHandler
	responseHandlers map[int]ResponseHandler
	deviceUpdates    DeviceUpdateHandler
	onReconnect      func()
	connects         atomic.Int32

	// request/response matching, a closed channel means the request failed
	pendingRequests map[string]chan *MQTTResponse
	pendingMu       sync.RWMutex

	heartbeatStop chan struct{}
	heartbeatOnce sync.Once

	lc logger.LoggingClient
	mu sync.RWMutex
}

// ClientConfig holds MQTT client configuration
type ClientConfig struct {
	Broker    string
	ClientID  string
	Username  string
	Password  string
	QoS       byte
	KeepAlive int // seconds
}

// NewClientManager creates a new MQTT client manager
func NewClientManager(nodeID string, cfg ClientConfig, lc logger.LoggingClient) *ClientManager {
	return &ClientManager{
		nodeID:           nodeID,
		qos:              cfg.QoS,
		topicUp:          fmt.Sprintf("/v1/data/%s/up", nodeID),
		topicDown:        fmt.Sprintf("/v1/data/%s/down", nodeID),
		messageHandlers:  make(map[int]MessageHandler),
		responseHandlers: make(map[int]ResponseHandler),
		pendingRequests:  make(map[string]chan *MQTTResponse),
		lc:               lc,
	}
}

// Connect establishes the MQTT connection
func (cm *ClientManager) Connect(cfg ClientConfig) error {
	opts := pahomqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
	}
	if cfg.Password != "" {
		opts.SetPassword(cfg.Password)
	}
	if cfg.KeepAlive > 0 {
		opts.SetKeepAlive(time.Duration(cfg.KeepAlive) * time.Second)
	}
	opts.SetAutoReconnect(true)
	opts.SetCleanSession(true)
	opts.SetOnConnectHandler(cm.handleConnect)
	opts.SetConnectionLostHandler(func(c pahomqtt.Client, err error) {
		cm.lc.Warnf("MQTT connection lost: %s", err.Error())
		cm.failPending()
	})

	cm.client = pahomqtt.NewClient(opts)
	token := cm.client.Connect()
	token.Wait()
	if token.Error() != nil {
		return fmt.Errorf("MQTT connect failed: %w", token.Error())
	}
	cm.lc.Infof("MQTT connected to broker %s", cfg.Broker)
	return nil
}

// Subscribe subscribes to the up topic for receiving messages
func (cm *ClientManager) Subscribe() error {
	return cm.subscribe()
}

func (cm *ClientManager) subscribe() error {
	token := cm.client.Subscribe(cm.topicUp, cm.qos, cm.onMessage)
	token.Wait()
	if token.Error() != nil {
		return fmt.Errorf("MQTT subscribe failed: %w", token.Error())
	}
	cm.lc.Infof("Subscribed to topic %s", cm.topicUp)
	return nil
}

// handleConnect runs on every (re)connection. The first connection is
// completed by Connect and Subscribe; later ones come from auto reconnect
// with a clean session, so the subscription is restored and the reconnect
// hook runs off the paho callback goroutine.
func (cm *ClientManager) handleConnect(c pahomqtt.Client) {
	if cm.connects.Add(1) == 1 {
		return
	}
	cm.lc.Info("MQTT reconnected, re-subscribing topics")
	if err := cm.subscribe(); err != nil {
		cm.lc.Errorf("Re-subscribe failed: %s", err.Error())
		return
	}
	cm.mu.RLock()
	hook := cm.onReconnect
	cm.mu.RUnlock()
	if hook != nil {
		go hook()
	}
}

// inbound is the union of the message and response envelopes. The payload
// stays raw until the route is known.
type inbound struct {
	RequestID string          `json:"requestId"`
	Type      int             `json:"type"`
	Code      int             `json:"code"`
	Payload   json.RawMessage `json:"payload"`
}

// onMessage decodes the envelope once and routes it. Responses carry a
// non-zero code; device updates skip the generic payload path.
func (cm *ClientManager) onMessage(client pahomqtt.Client, msg pahomqtt.Message) {
	cm.lc.Debugf("Received MQTT message on topic %s", msg.Topic())

	raw := msg.Payload()
	var in inbound
	if err := json.Unmarshal(raw, &in); err != nil {
		cm.lc.Errorf("Failed to parse MQTT message: %s", err.Error())
		return
	}

	switch {
	case in.Code != 0:
		cm.routeResponse(raw, &in)
	case in.Type == TypeDeviceUpdate && cm.deviceUpdateHandler() != nil:
		cm.routeDeviceUpdate(&in)
	default:
		cm.routeMessage(raw, &in)
	}
}

func (cm *ClientManager) routeResponse(raw []byte, in *inbound) {
	resp, err := ParseResponse(raw)
	if err != nil {
		cm.lc.Errorf("Failed to parse MQTT response: %s", err.Error())
		return
	}
	cm.lc.Debugf("Received response type=%d requestId=%s code=%d", resp.Type, resp.RequestID, resp.Code)

	if ch, ok := cm.takePending(in.RequestID); ok {
		ch <- resp
		return
	}

	cm.mu.RLock()
	handler, ok := cm.responseHandlers[resp.Type]
	cm.mu.RUnlock()
	if !ok {
		cm.lc.Debugf("Unsolicited response type=%d dropped", resp.Type)
		return
	}
	if err := handler(resp); err != nil {
		cm.lc.Errorf("Response handler error for type=%d: %s", resp.Type, err.Error())
	}
}

func (cm *ClientManager) routeDeviceUpdate(in *inbound) {
	var update DeviceUpdatePayload
	if err := json.Unmarshal(in.Payload, &update); err != nil {
		cm.lc.Errorf("Failed to decode device update requestId=%s: %s", in.RequestID, err.Error())
		return
	}
	if update.ThingUID == "" {
		cm.lc.Warnf("Device update requestId=%s has no thingUID", in.RequestID)
		return
	}
	if err := cm.deviceUpdateHandler()(&update); err != nil {
		cm.lc.Errorf("Device update for %s not accepted: %s", update.ThingUID, err.Error())
	}
}

func (cm *ClientManager) routeMessage(raw []byte, in *inbound) {
	message, err := ParseMessage(raw)
	if err != nil {
		cm.lc.Errorf("Failed to parse MQTT message: %s", err.Error())
		return
	}
	cm.lc.Debugf("Received message type=%d requestId=%s", message.Type, message.RequestID)

	cm.mu.RLock()
	handler, ok := cm.messageHandlers[in.Type]
	cm.mu.RUnlock()
	if !ok {
		cm.lc.Warnf("No handler registered for message type=%d", in.Type)
		return
	}
	if err := handler(message); err != nil {
		cm.lc.Errorf("Message handler error for type=%d: %s", message.Type, err.Error())
	}
}

func (cm *ClientManager) deviceUpdateHandler() DeviceUpdateHandler {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return cm.deviceUpdates
}

// takePending removes and returns the waiter for requestID. Only the caller
// that takes a waiter may send to or close its channel.
func (cm *ClientManager) takePending(requestID string) (chan *MQTTResponse, bool) {
	cm.pendingMu.Lock()
	defer cm.pendingMu.Unlock()
	ch, ok := cm.pendingRequests[requestID]
	if ok {
		delete(cm.pendingRequests, requestID)
	}
	return ch, ok
}

// failPending releases every waiter, the broker will not answer them after
// the session is gone
func (cm *ClientManager) failPending() {
	cm.pendingMu.Lock()
	pending := cm.pendingRequests
	cm.pendingRequests = make(map[string]chan *MQTTResponse)
	cm.pendingMu.Unlock()

	for id, ch := range pending {
		cm.lc.Debugf("Failing request %s after connection loss", id)
		close(ch)
	}
}

type envelope interface {
	ToJSON() ([]byte, error)
}

func (cm *ClientManager) publish(v envelope, what string, msgType int) error {
	if cm.client == nil {
		return fmt.Errorf("MQTT client not connected")
	}
	data, err := v.ToJSON()
	if err != nil {
		return fmt.Errorf("failed to serialize %s: %w", what, err)
	}
	token := cm.client.Publish(cm.topicDown, cm.qos, false, data)
	token.Wait()
	if token.Error() != nil {
		return fmt.Errorf("MQTT publish %s failed: %w", what, token.Error())
	}
	cm.lc.Debugf("Published %s type=%d to %s", what, msgType, cm.topicDown)
	return nil
}

// Publish publishes a message to the down topic
func (cm *ClientManager) Publish(msg *MQTTMessage) error {
	return cm.publish(msg, "message", msg.Type)
}

// PublishResponse publishes a response message to the down topic
func (cm *ClientManager) PublishResponse(resp *MQTTResponse) error {
	return cm.publish(resp, "response", resp.Type)
}

// PublishAndWait publishes a message and waits for the response carrying
// its request ID. It fails early when the connection drops.
func (cm *ClientManager) PublishAndWait(msg *MQTTMessage, timeout time.Duration) (*MQTTResponse, error) {
	ch := make(chan *MQTTResponse, 1)

	cm.pendingMu.Lock()
	cm.pendingRequests[msg.RequestID] = ch
	cm.pendingMu.Unlock()

	if err := cm.Publish(msg); err != nil {
		cm.takePending(msg.RequestID)
		return nil, err
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case resp, ok := <-ch:
		if !ok {
			return nil, fmt.Errorf("request %s: %w", msg.RequestID, errConnectionLost)
		}
		return resp, nil
	case <-timer.C:
		cm.takePending(msg.RequestID)
		return nil, fmt.Errorf("request %s timed out after %v", msg.RequestID, timeout)
	}
}

// StartHeartbeat starts periodic heartbeat sending
func (cm *ClientManager) StartHeartbeat(interval time.Duration) {
	cm.heartbeatStop = make(chan struct{})
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		// Send initial heartbeat immediately
		cm.sendHeartbeat()

		for {
			select {
			case <-ticker.C:
				cm.sendHeartbeat()
			case <-cm.heartbeatStop:
				cm.lc.Info("Heartbeat stopped")
				return
			}
		}
	}()
	cm.lc.Infof("Heartbeat started with interval %v", interval)
}

func (cm *ClientManager) sendHeartbeat() {
	msg := NewMessage(TypeHeartbeat, nil)
	if err := cm.Publish(msg); err != nil {
		cm.lc.Errorf("Failed to send heartbeat: %s", err.Error())
	} else {
		cm.lc.Debug("Heartbeat sent")
	}
}

// StopHeartbeat stops the heartbeat goroutine
func (cm *ClientManager) StopHeartbeat() {
	if cm.heartbeatStop != nil {
		cm.heartbeatOnce.Do(func() { close(cm.heartbeatStop) })
	}
}

// RegisterMessageHandler registers a handler for a specific message type
func (cm *ClientManager) RegisterMessageHandler(msgType int, handler MessageHandler) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.messageHandlers[msgType] = handler
}

// RegisterResponseHandler registers a handler for a specific response type
func (cm *ClientManager) RegisterResponseHandler(msgType int, handler ResponseHandler) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.responseHandlers[msgType] = handler
}

// HandleDeviceUpdates installs the handler for type=4 snapshots. Updates
// without a thing UID never reach it.
func (cm *ClientManager) HandleDeviceUpdates(handler DeviceUpdateHandler) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.deviceUpdates = handler
}

// OnReconnect installs a hook run after an automatic reconnect has restored
// the subscription
func (cm *ClientManager) OnReconnect(hook func()) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.onReconnect = hook
}

// Disconnect cleanly disconnects the MQTT client
func (cm *ClientManager) Disconnect() {
	cm.StopHeartbeat()
	if cm.client != nil && cm.client.IsConnected() {
		cm.client.Disconnect(1000)
		cm.lc.Info("MQTT disconnected")
	}
}

// GetNodeID returns the node ID
func (cm *ClientManager) GetNodeID() string {
	return cm.nodeID
}

// IsConnected returns whether the MQTT client is connected
func (cm *ClientManager) IsConnected() bool {
	return cm.client != nil && cm.client.IsConnected()
}
