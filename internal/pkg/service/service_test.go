package service

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"app-fritzbutton-go/internal/pkg/config"
	"app-fritzbutton-go/internal/pkg/modbusserver"
	"app-fritzbutton-go/internal/pkg/mqtt"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	deskUID = "avmfritz:FRITZ_DECT_400:desk"
	hallUID = "avmfritz:FRITZ_DECT_440:hall"
)

const testConfig = `
Writable:
  LogLevel: DEBUG
NodeID: test-node
Mqtt:
  Broker: tcp://localhost:1883
  ClientID: test-client
  QoS: 1
Cache:
  DefaultTTL: 1h
  CleanupInterval: 1m
Dispatch:
  Workers: 2
  QueueSize: 16
  Timeout: 5s
Forward:
  BatchSize: 10
  FlushInterval: 50ms
  MaxRetries: 1
Things:
  - UID: avmfritz:FRITZ_DECT_400:desk
    Type: FRITZ_DECT_400
    Label: Desk
  - UID: avmfritz:FRITZ_DECT_440:hall
    Type: FRITZ_DECT_440
    Label: Hall
`

func writeConfig(t *testing.T, content string) string {
	path := filepath.Join(t.TempDir(), "configuration.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

// newInitializedService returns an initialized service with its broker
// independent components running
func newInitializedService(t *testing.T) *AppService {
	svc, err := NewAppService("test-service", "1.0.0")
	require.NoError(t, err)
	appSvc := svc.(*AppService)

	require.NoError(t, appSvc.Initialize(writeConfig(t, testConfig)))
	require.NoError(t, appSvc.start())
	t.Cleanup(func() { _ = appSvc.Stop() })
	return appSvc
}

func deviceUpdate(uid string, buttons ...mqtt.ButtonPayload) *mqtt.DeviceUpdatePayload {
	return &mqtt.DeviceUpdatePayload{
		ThingUID: uid,
		Buttons:  buttons,
	}
}

// TestNewAppService tests the NewAppService constructor
func TestNewAppService(t *testing.T) {
	tests := []struct {
		name        string
		serviceName string
		version     string
		wantErr     bool
		errMsg      string
	}{
		{
			name:        "valid service creation",
			serviceName: "test-service",
			version:     "1.0.0",
		},
		{
			name:        "empty service name",
			serviceName: "",
			version:     "1.0.0",
			wantErr:     true,
			errMsg:      "please specify service name",
		},
		{
			name:        "empty version",
			serviceName: "test-service",
			version:     "",
			wantErr:     true,
			errMsg:      "please specify service version",
		},
		{
			name:        "both empty",
			serviceName: "",
			version:     "",
			wantErr:     true,
			errMsg:      "please specify service name",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, err := NewAppService(tt.serviceName, tt.version)

			if tt.wantErr {
				assert.Error(t, err)
				assert.Nil(t, svc)
				assert.Contains(t, err.Error(), tt.errMsg)
				return
			}
			require.NoError(t, err)
			appSvc, ok := svc.(*AppService)
			require.True(t, ok)
			assert.Equal(t, tt.serviceName, appSvc.appName)
			assert.Equal(t, tt.version, appSvc.version)
		})
	}
}

// TestAppService_GettersBeforeInit tests getter methods before initialization
func TestAppService_GettersBeforeInit(t *testing.T) {
	svc, err := NewAppService("test-service", "1.0.0")
	require.NoError(t, err)

	assert.Nil(t, svc.GetLoggingClient())
	assert.Nil(t, svc.GetThingManager())
	assert.Nil(t, svc.GetDispatcher())
	assert.Nil(t, svc.GetModbusServer())
	assert.Nil(t, svc.GetMQTTClient())
	assert.Nil(t, svc.GetEventForwarder())
	assert.Nil(t, svc.GetAppConfig())
	assert.Nil(t, svc.GetContext())

	// nothing to stop yet
	assert.NoError(t, svc.Stop())
}

func TestAppService_Initialize(t *testing.T) {
	svc, err := NewAppService("test-service", "1.0.0")
	require.NoError(t, err)
	require.NoError(t, svc.Initialize(writeConfig(t, testConfig)))
	defer svc.Stop()

	assert.Equal(t, "DEBUG", svc.GetLoggingClient().LogLevel())
	assert.Equal(t, "test-node", svc.GetMQTTClient().GetNodeID())
	assert.NotNil(t, svc.GetDispatcher())
	assert.NotNil(t, svc.GetEventForwarder())
	assert.NotNil(t, svc.GetContext())
	// Modbus is off unless enabled
	assert.Nil(t, svc.GetModbusServer())

	things := svc.GetThingManager().Things()
	require.Len(t, things, 2)
	assert.Equal(t, deskUID, things[0].UID())
	assert.Equal(t, hallUID, things[1].UID())
}

func TestAppService_InitializeMissingFileUsesDefaults(t *testing.T) {
	svc, err := NewAppService("test-service", "1.0.0")
	require.NoError(t, err)
	require.NoError(t, svc.Initialize(filepath.Join(t.TempDir(), "missing.yaml")))
	defer svc.Stop()

	assert.Equal(t, config.DefaultConfig().NodeID, svc.GetAppConfig().NodeID)
	assert.Empty(t, svc.GetThingManager().Things())
}

func TestAppService_InitializeInvalidThing(t *testing.T) {
	cfg := testConfig + `  - UID: avmfritz:FRITZ_DECT_200:plug
    Type: FRITZ_DECT_200
`
	svc, err := NewAppService("test-service", "1.0.0")
	require.NoError(t, err)

	err = svc.Initialize(writeConfig(t, cfg))
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "invalid thing configuration")
}

func TestAppService_InitializeWithModbus(t *testing.T) {
	cfg := testConfig + `Modbus:
  Enabled: true
  Type: TCP
  TCP:
    Host: 127.0.0.1
    Port: 0
  Registers:
    - Address: 0
      Channel: avmfritz:FRITZ_DECT_400:desk:last-changed
      Kind: timestamp
`
	svc, err := NewAppService("test-service", "1.0.0")
	require.NoError(t, err)
	require.NoError(t, svc.Initialize(writeConfig(t, cfg)))
	defer svc.Stop()

	require.NotNil(t, svc.GetModbusServer())
	assert.False(t, svc.GetModbusServer().IsRunning())
}

func TestAppService_DeviceUpdateFlow(t *testing.T) {
	s := newInitializedService(t)
	tm := s.GetThingManager()

	pressed := time.Now().Add(time.Minute).Unix()
	require.NoError(t, s.handleDeviceUpdate(deviceUpdate(deskUID,
		mqtt.ButtonPayload{Identifier: "5C:49:79:F0:A6:7A-1", LastPressedTimestamp: pressed},
		mqtt.ButtonPayload{Identifier: "5C:49:79:F0:A6:7A-2", LastPressedTimestamp: pressed - 10},
	)))

	assert.Eventually(t, func() bool {
		st, ok := tm.GetChannelState(deskUID + ":press")
		return ok && st.Event == "short pressed" && st.Triggers == 1
	}, 2*time.Second, 10*time.Millisecond)

	st, ok := tm.GetChannelState(deskUID + ":last-changed")
	require.True(t, ok)
	assert.Equal(t, time.Unix(pressed, 0).Format(time.RFC3339), st.State.String())

	// no battery reported
	st, ok = tm.GetChannelState(deskUID + ":battery-level")
	require.True(t, ok)
	assert.True(t, st.State.IsUndefined())
}

func TestAppService_DeviceUpdateOrderPerThing(t *testing.T) {
	s := newInitializedService(t)
	tm := s.GetThingManager()

	base := time.Now().Add(time.Minute).Unix()
	for i := int64(0); i < 5; i++ {
		require.NoError(t, s.handleDeviceUpdate(deviceUpdate(hallUID,
			mqtt.ButtonPayload{Identifier: "09995 0000000-7", LastPressedTimestamp: base + i},
		)))
	}
	// a stale snapshot after the newer ones must not trigger again
	require.NoError(t, s.handleDeviceUpdate(deviceUpdate(hallUID,
		mqtt.ButtonPayload{Identifier: "09995 0000000-7", LastPressedTimestamp: base + 2},
	)))

	// the stale snapshot is the only one moving last-changed back after five presses
	assert.Eventually(t, func() bool {
		press, ok := tm.GetChannelState(hallUID + ":top-left.press")
		if !ok || press.Triggers != 5 {
			return false
		}
		st, ok := tm.GetChannelState(hallUID + ":top-left.last-changed")
		return ok && st.State.String() == time.Unix(base+2, 0).Format(time.RFC3339)
	}, 2*time.Second, 10*time.Millisecond)

	st, ok := tm.GetChannelState(hallUID + ":top-left.press")
	require.True(t, ok)
	assert.Equal(t, uint32(5), st.Triggers)
}

func TestAppService_DeviceUpdateRejected(t *testing.T) {
	s := newInitializedService(t)

	// unknown things are accepted by the queue and rejected by the pipeline
	assert.NoError(t, s.handleDeviceUpdate(deviceUpdate("avmfritz:FRITZ_DECT_400:nowhere")))
}

func TestAppService_ExecuteCommand(t *testing.T) {
	s := newInitializedService(t)

	pressed := time.Now().Add(time.Minute).Unix()
	require.NoError(t, s.handleDeviceUpdate(deviceUpdate(hallUID,
		mqtt.ButtonPayload{Identifier: "09995 0000000-1", LastPressedTimestamp: pressed},
	)))
	require.Eventually(t, func() bool {
		_, ok := s.GetThingManager().GetChannelState(hallUID + ":top-right.press")
		return ok
	}, 2*time.Second, 10*time.Millisecond)

	tests := []struct {
		name      string
		cmdType   string
		thingUID  string
		channelID string
		wantCode  int
		wantValue string
	}{
		{"state channel", "GET", hallUID, "top-right.last-changed", mqtt.CodeSuccess, time.Unix(pressed, 0).Format(time.RFC3339)},
		{"trigger channel", "GET", hallUID, "top-right.press", mqtt.CodeSuccess, "pressed"},
		{"never written", "GET", hallUID, "bottom-left.press", mqtt.CodeNotFound, ""},
		{"unknown channel", "GET", hallUID, "middle.press", mqtt.CodeNotFound, ""},
		{"unknown thing", "GET", "avmfritz:FRITZ_DECT_440:attic", "top-right.press", mqtt.CodeNotFound, ""},
		{"write rejected", "PUT", hallUID, "top-right.last-changed", mqtt.CodeBadRequest, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := s.executeCommand(&mqtt.CommandPayload{
				CmdType: tt.cmdType,
				CmdContent: mqtt.CommandContent{
					ThingUID:  tt.thingUID,
					ChannelID: tt.channelID,
				},
			})

			require.NotNil(t, resp)
			assert.Equal(t, tt.cmdType, resp.CmdType)
			assert.Equal(t, tt.wantCode, resp.StatusCode)
			assert.Equal(t, tt.thingUID, resp.CmdContent.ThingUID)
			assert.Equal(t, tt.channelID, resp.CmdContent.ChannelID)
			assert.Equal(t, tt.wantValue, resp.CmdContent.Value)
		})
	}
}

func TestAppService_HandleCommandNotConnected(t *testing.T) {
	s := newInitializedService(t)

	msg := mqtt.NewMessage(mqtt.TypeCommand, &mqtt.CommandPayload{
		CmdType:    "GET",
		CmdContent: mqtt.CommandContent{ThingUID: deskUID, ChannelID: "press"},
	})
	err := s.handleCommand(msg)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "not connected")
}

func TestAppService_RegistersReadThroughThingManager(t *testing.T) {
	s := newInitializedService(t)

	pressed := time.Now().Add(time.Minute).Unix()
	require.NoError(t, s.handleDeviceUpdate(deviceUpdate(deskUID,
		mqtt.ButtonPayload{Identifier: "desk-1", LastPressedTimestamp: pressed},
	)))
	require.Eventually(t, func() bool {
		_, ok := s.GetThingManager().GetChannelState(deskUID + ":last-changed")
		return ok
	}, 2*time.Second, 10*time.Millisecond)

	reader := modbusserver.NewRegisterReader(s.thingManager, modbusserver.NewConverter(modbusserver.BigEndian), []config.RegisterConfig{
		{Address: 0, Channel: deskUID + ":last-changed", Kind: config.RegisterTimestamp},
		{Address: 2, Channel: deskUID + ":press", Kind: config.RegisterCounter},
	}, s.lc)

	data, err := reader.ReadRegisters(0, 3)
	require.NoError(t, err)
	require.Len(t, data, 7)
	assert.Equal(t, byte(6), data[0])
	got := uint32(data[1])<<24 | uint32(data[2])<<16 | uint32(data[3])<<8 | uint32(data[4])
	assert.Equal(t, uint32(pressed), got)
	assert.Equal(t, []byte{0, 1}, data[5:7])
}

func TestAppService_ApplyConfig(t *testing.T) {
	s := newInitializedService(t)

	cfg, err := config.LoadConfig(writeConfig(t, `
Writable:
  LogLevel: WARN
NodeID: test-node
Mqtt:
  Broker: tcp://localhost:1883
  ClientID: test-client
Things:
  - UID: avmfritz:HAN_FUN_BUTTON:door
    Type: HAN_FUN_BUTTON
  - UID: avmfritz:FRITZ_DECT_400:desk
    Type: FRITZ_DECT_400
`))
	require.NoError(t, err)

	s.applyConfig(cfg)

	assert.Equal(t, "WARN", s.lc.LogLevel())
	_, ok := s.GetThingManager().GetThing("avmfritz:HAN_FUN_BUTTON:door")
	assert.True(t, ok)
	_, ok = s.GetThingManager().GetThing(hallUID)
	assert.False(t, ok)
	assert.Len(t, s.GetAppConfig().Things, 2)
	// broker settings are not hot reloaded
	assert.Equal(t, 2, s.GetAppConfig().Dispatch.Workers)
}

func TestAppService_ApplyConfigKeepsPushedThings(t *testing.T) {
	svc, err := NewAppService("test-service", "1.0.0")
	require.NoError(t, err)
	s := svc.(*AppService)
	// same settings, thing list left to the data center
	require.NoError(t, s.Initialize(writeConfig(t, strings.Split(testConfig, "Things:")[0])))
	require.NoError(t, s.start())
	t.Cleanup(func() { _ = s.Stop() })
	require.Empty(t, s.GetThingManager().Things())

	require.NoError(t, s.thingManager.ApplyThingDefinitions([]*mqtt.ThingDefinition{
		{UID: deskUID, Type: "FRITZ_DECT_400"},
	}))

	s.applyConfig(&config.AppConfig{Writable: config.WritableConfig{LogLevel: "WARN"}})

	assert.Equal(t, "WARN", s.lc.LogLevel())
	things := s.GetThingManager().Things()
	require.Len(t, things, 1)
	assert.Equal(t, deskUID, things[0].UID())

	pressed := time.Now().Add(time.Minute).Unix()
	require.NoError(t, s.handleDeviceUpdate(deviceUpdate(deskUID,
		mqtt.ButtonPayload{Identifier: "desk-1", LastPressedTimestamp: pressed},
	)))
	assert.Eventually(t, func() bool {
		st, ok := s.GetThingManager().GetChannelState(deskUID + ":press")
		return ok && st.Triggers == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestAppService_ApplyConfigDropsRemovedThingList(t *testing.T) {
	s := newInitializedService(t)

	s.applyConfig(&config.AppConfig{Writable: config.WritableConfig{LogLevel: "DEBUG"}})

	assert.Empty(t, s.GetThingManager().Things())
	assert.Empty(t, s.GetAppConfig().Things)
}

func TestAppService_ApplyConfigKeepsThingsOnError(t *testing.T) {
	s := newInitializedService(t)

	s.applyConfig(&config.AppConfig{
		Writable: config.WritableConfig{LogLevel: "DEBUG"},
		Things:   []config.ThingConfig{{UID: "x", Type: "FRITZ_DECT_200"}},
	})

	assert.Len(t, s.GetThingManager().Things(), 2)
	assert.Len(t, s.GetAppConfig().Things, 2)
	assert.Equal(t, "DEBUG", s.lc.LogLevel())
}

func TestAppService_StopTwice(t *testing.T) {
	s := newInitializedService(t)

	assert.NoError(t, s.Stop())
	assert.NoError(t, s.Stop())

	select {
	case <-s.GetContext().Done():
	default:
		t.Fatal("context not cancelled after Stop")
	}
	err := s.handleDeviceUpdate(deviceUpdate(deskUID))
	assert.Error(t, err)
}

func TestAppService_HandleReconnect(t *testing.T) {
	svc, err := NewAppService("test-service", "1.0.0")
	require.NoError(t, err)
	s := svc.(*AppService)
	require.NoError(t, s.Initialize(writeConfig(t, strings.Split(testConfig, "Things:")[0])))
	t.Cleanup(func() { _ = s.Stop() })

	// the query fails while offline and the service keeps waiting for a push
	assert.NotPanics(t, s.handleReconnect)
	assert.Empty(t, s.GetThingManager().Things())

	require.NoError(t, s.thingManager.ApplyThingDefinitions([]*mqtt.ThingDefinition{
		{UID: deskUID, Type: "FRITZ_DECT_400"},
	}))
	s.handleReconnect()
	assert.Len(t, s.GetThingManager().Things(), 1)
}
