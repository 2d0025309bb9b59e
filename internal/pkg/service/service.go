package service

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"app-fritzbutton-go/internal/pkg/config"
	"app-fritzbutton-go/internal/pkg/dispatch"
	"app-fritzbutton-go/internal/pkg/eventforward"
	"app-fritzbutton-go/internal/pkg/logger"
	"app-fritzbutton-go/internal/pkg/modbusserver"
	"app-fritzbutton-go/internal/pkg/mqtt"
	"app-fritzbutton-go/internal/pkg/thing"
	"app-fritzbutton-go/internal/pkg/thingmanager"
)

// deviceUpdatePipeline is the dispatcher route of type=4 snapshots
const deviceUpdatePipeline = "device-update"

// AppService is the main application service
type AppService struct {
	appName    string
	version    string
	configPath string

	lc           logger.LoggingClient
	mqttClient   *mqtt.ClientManager
	thingManager *thingmanager.ThingManager
	dispatcher   *dispatch.Dispatcher
	eventForward *eventforward.Manager
	mdbsServer   *modbusserver.ModbusServer
	watcher      *config.Watcher

	config *config.AppConfig
	cfgMu  sync.RWMutex

	ctx      context.Context
	cancel   context.CancelFunc
	started  bool
	stopOnce sync.Once
}

// NewAppService creates a new application service
func NewAppService(name string, version string) (AppServiceInterface, error) {
	if name == "" {
		return nil, errors.New("please specify service name")
	}
	if version == "" {
		return nil, errors.New("please specify service version")
	}

	return &AppService{
		appName: name,
		version: version,
	}, nil
}

// Initialize loads the configuration and builds every component
func (s *AppService) Initialize(configPath string) error {
	s.configPath = configPath

	s.lc = logger.NewClient("INFO")
	s.lc.Info("Initializing service:", s.appName, "version:", s.version)

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		s.lc.Warn("Failed to load config file, using defaults:", err.Error())
		cfg = config.DefaultConfig()
	}
	s.config = cfg

	if cfg.Log.FilePath != "" {
		s.lc = logger.NewClientWithConfig(logger.LoggerConfig{
			LogLevel:      cfg.Writable.LogLevel,
			FilePath:      cfg.Log.FilePath,
			FileMaxSizeMB: cfg.Log.FileMaxSizeMB,
			MaxBackups:    cfg.Log.MaxBackups,
			MaxAgeDays:    cfg.Log.MaxAgeDays,
			EnableConsole: true,
		})
	} else if err := s.lc.SetLogLevel(cfg.Writable.LogLevel); err != nil {
		s.lc.Warn("Failed to set log level:", err.Error())
	}

	s.ctx, s.cancel = context.WithCancel(context.Background())

	s.mqttClient = mqtt.NewClientManager(cfg.NodeID, mqttClientConfig(cfg), s.lc)

	s.thingManager = thingmanager.NewThingManager(s.mqttClient, s.lc, &cfg.Cache)
	things, err := thingsFromConfig(cfg.Things)
	if err != nil {
		return fmt.Errorf("invalid thing configuration: %w", err)
	}
	if err := s.thingManager.UpdateThings(things); err != nil {
		return fmt.Errorf("failed to register things: %w", err)
	}

	s.eventForward = eventforward.NewManager(s.mqttClient, cfg.Forward, s.lc)
	s.thingManager.SetChannelPublisher(s.eventForward)

	s.dispatcher = dispatch.NewDispatcher(cfg.Dispatch.Workers, cfg.Dispatch.QueueSize, cfg.Dispatch.GetTimeout(), s.lc)
	if err := s.dispatcher.AddFunctionsPipeline(deviceUpdatePipeline,
		s.thingManager.ValidateDeviceUpdate,
		s.thingManager.ProcessDeviceUpdate,
	); err != nil {
		return fmt.Errorf("failed to add device update pipeline: %w", err)
	}

	if cfg.Modbus.Enabled {
		s.mdbsServer = modbusserver.NewModbusServer(&cfg.Modbus, s.thingManager, s.lc)
	}

	s.lc.Infof("Service initialized with %d things", len(things))
	return nil
}

func mqttClientConfig(cfg *config.AppConfig) mqtt.ClientConfig {
	return mqtt.ClientConfig{
		Broker:    cfg.Mqtt.Broker,
		ClientID:  cfg.Mqtt.ClientID,
		Username:  cfg.Mqtt.Username,
		Password:  cfg.Mqtt.Password,
		QoS:       byte(cfg.Mqtt.QoS),
		KeepAlive: cfg.Mqtt.KeepAlive,
	}
}

func thingsFromConfig(cfgs []config.ThingConfig) ([]*thing.Thing, error) {
	things := make([]*thing.Thing, 0, len(cfgs))
	for _, c := range cfgs {
		th, err := thing.FromConfig(c)
		if err != nil {
			return nil, err
		}
		things = append(things, th)
	}
	return things, nil
}

// Run connects to the broker, starts every component and blocks until a
// shutdown signal arrives or Stop is called
func (s *AppService) Run() error {
	s.lc.Info("Starting service:", s.appName)

	cfg := s.GetAppConfig()
	if err := s.mqttClient.Connect(mqttClientConfig(cfg)); err != nil {
		return fmt.Errorf("MQTT connect failed: %w", err)
	}

	s.registerMQTTHandlers()

	if err := s.mqttClient.Subscribe(); err != nil {
		return fmt.Errorf("MQTT subscribe failed: %w", err)
	}

	// configured things take precedence; otherwise ask the data center
	if len(cfg.Things) == 0 {
		s.queryThings()
	}

	s.mqttClient.StartHeartbeat(cfg.Heartbeat.GetInterval())

	if err := s.start(); err != nil {
		return err
	}
	s.watchConfig()

	s.lc.Info("Service started successfully")

	s.waitForShutdown()
	return nil
}

// start launches the broker independent components
func (s *AppService) start() error {
	s.thingManager.StartCleanup()
	s.eventForward.Start()
	s.dispatcher.Start(s.ctx)
	s.started = true

	if s.mdbsServer != nil {
		if err := s.mdbsServer.Start(s.ctx); err != nil {
			return fmt.Errorf("Modbus server start failed: %w", err)
		}
	}
	return nil
}

func (s *AppService) watchConfig() {
	if s.configPath == "" {
		return
	}
	w, err := config.NewWatcher(s.configPath, s.lc, s.applyConfig)
	if err != nil {
		s.lc.Warn("Config hot reload disabled:", err.Error())
		return
	}
	s.watcher = w
	s.watcher.Start()
}

// applyConfig takes over the runtime writable parts of a reloaded config.
// Broker, listener and pool settings need a restart.
func (s *AppService) applyConfig(cfg *config.AppConfig) {
	if cfg.Writable.LogLevel != s.lc.LogLevel() {
		if err := s.lc.SetLogLevel(cfg.Writable.LogLevel); err != nil {
			s.lc.Warn("Failed to set log level:", err.Error())
		} else {
			s.lc.Info("Log level changed to", cfg.Writable.LogLevel)
		}
	}

	thingsApplied := false
	if s.configuresThings(cfg) {
		things, err := thingsFromConfig(cfg.Things)
		if err == nil {
			err = s.thingManager.UpdateThings(things)
		}
		if err != nil {
			s.lc.Warnf("Ignoring reloaded things: %v", err)
		} else {
			thingsApplied = true
		}
		if thingsApplied && len(things) == 0 && s.mqttClient.IsConnected() {
			// handed back to the data center
			go s.queryThings()
		}
	}

	if s.mdbsServer != nil {
		s.mdbsServer.SetRegisters(cfg.Modbus.Registers)
	}

	s.cfgMu.Lock()
	s.config.Writable = cfg.Writable
	if thingsApplied {
		s.config.Things = cfg.Things
	}
	s.config.Modbus.Registers = cfg.Modbus.Registers
	s.cfgMu.Unlock()
}

// configuresThings reports whether the reloaded file owns the thing list.
// With no things in the old and the new file the list belongs to the data
// center and a reload leaves it alone.
func (s *AppService) configuresThings(cfg *config.AppConfig) bool {
	s.cfgMu.RLock()
	defer s.cfgMu.RUnlock()
	return len(cfg.Things) > 0 || len(s.config.Things) > 0
}

func (s *AppService) queryThings() {
	if err := s.thingManager.QueryThings(); err != nil {
		s.lc.Warn("Failed to query things:", err.Error())
		s.lc.Info("Service will continue without things, waiting for data push")
	}
}

// registerMQTTHandlers registers all MQTT message handlers
func (s *AppService) registerMQTTHandlers() {
	// Type 1: heartbeat response
	s.mqttClient.RegisterResponseHandler(mqtt.TypeHeartbeat, func(resp *mqtt.MQTTResponse) error {
		s.lc.Debug("Heartbeat response received")
		return nil
	})

	// Type 2: query response is handled by PublishAndWait

	// Type 3: thing list push
	s.mqttClient.RegisterMessageHandler(mqtt.TypeThingsPush, func(msg *mqtt.MQTTMessage) error {
		return s.thingManager.HandleThingsPush(msg)
	})

	// Type 4: device snapshot
	s.mqttClient.HandleDeviceUpdates(s.handleDeviceUpdate)

	// Type 6: command
	s.mqttClient.RegisterMessageHandler(mqtt.TypeCommand, s.handleCommand)

	s.mqttClient.OnReconnect(s.handleReconnect)
}

// handleDeviceUpdate queues a snapshot on the worker owning its thing
func (s *AppService) handleDeviceUpdate(update *mqtt.DeviceUpdatePayload) error {
	return s.dispatcher.Submit(deviceUpdatePipeline, update.ThingUID, update)
}

// handleReconnect asks for the thing list again when the data center never
// delivered one
func (s *AppService) handleReconnect() {
	if len(s.thingManager.Things()) > 0 {
		return
	}
	s.lc.Info("Reconnected without things, querying data center")
	s.queryThings()
}

// handleCommand answers a type=6 command
func (s *AppService) handleCommand(msg *mqtt.MQTTMessage) error {
	payload, err := msg.GetCommandPayload()
	if err != nil {
		return err
	}

	s.lc.Debugf("Received command: type=%s, thing=%s, channel=%s",
		payload.CmdType, payload.CmdContent.ThingUID, payload.CmdContent.ChannelID)

	resp := mqtt.NewResponse(msg.RequestID, mqtt.TypeCommand, mqtt.CodeSuccess, "success", s.executeCommand(payload))
	return s.mqttClient.PublishResponse(resp)
}

// executeCommand reads the cached state of the addressed channel
func (s *AppService) executeCommand(payload *mqtt.CommandPayload) *mqtt.CommandResponsePayload {
	result := &mqtt.CommandResponsePayload{
		CmdType:    payload.CmdType,
		StatusCode: mqtt.CodeNotFound,
		CmdContent: mqtt.CommandContent{
			ThingUID:  payload.CmdContent.ThingUID,
			ChannelID: payload.CmdContent.ChannelID,
		},
	}

	if payload.CmdType != mqtt.CmdTypeGet {
		result.StatusCode = mqtt.CodeBadRequest
		return result
	}

	th, ok := s.thingManager.GetThing(payload.CmdContent.ThingUID)
	if !ok {
		return result
	}
	ch, ok := th.Channel(payload.CmdContent.ChannelID)
	if !ok {
		return result
	}
	cached, ok := s.thingManager.GetChannelState(ch.UID)
	if !ok {
		return result
	}

	result.StatusCode = mqtt.CodeSuccess
	if ch.Kind == thing.TriggerChannel {
		result.CmdContent.Value = cached.Event
	} else {
		result.CmdContent.Value = cached.State.String()
	}
	return result
}

// waitForShutdown blocks until a signal arrives or the context is cancelled
func (s *AppService) waitForShutdown() {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case sig := <-sigCh:
		s.lc.Info("Received signal:", sig.String())
		s.Stop()
	case <-s.ctx.Done():
	}
}

// Stop stops the service. Later calls are no-ops.
func (s *AppService) Stop() error {
	s.stopOnce.Do(s.stop)
	return nil
}

func (s *AppService) stop() {
	if s.lc == nil {
		return
	}
	s.lc.Info("Stopping service:", s.appName)

	if s.watcher != nil {
		s.watcher.Stop()
	}

	if s.mdbsServer != nil {
		if err := s.mdbsServer.Stop(); err != nil {
			s.lc.Warn("Failed to stop Modbus server:", err.Error())
		}
	}

	// drain queued snapshots before the forwarder flushes for the last time
	if s.dispatcher != nil {
		s.dispatcher.Stop()
	}
	if s.started {
		s.eventForward.Stop()
	}
	if s.thingManager != nil {
		s.thingManager.Stop()
	}

	if s.mqttClient != nil {
		s.mqttClient.Disconnect()
	}

	if s.cancel != nil {
		s.cancel()
	}

	s.lc.Info("Service stopped successfully")
	if err := s.lc.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to close log file: %v\n", err)
	}
}

// GetLoggingClient returns the logging client
func (s *AppService) GetLoggingClient() logger.LoggingClient {
	return s.lc
}

// GetThingManager returns the thing manager
func (s *AppService) GetThingManager() thingmanager.ThingManagerInterface {
	if s.thingManager == nil {
		return nil
	}
	return s.thingManager
}

// GetDispatcher returns the device update dispatcher
func (s *AppService) GetDispatcher() dispatch.DispatcherInterface {
	if s.dispatcher == nil {
		return nil
	}
	return s.dispatcher
}

// GetModbusServer returns the Modbus server
func (s *AppService) GetModbusServer() modbusserver.ModbusServerInterface {
	if s.mdbsServer == nil {
		return nil
	}
	return s.mdbsServer
}

// GetMQTTClient returns the MQTT client manager
func (s *AppService) GetMQTTClient() *mqtt.ClientManager {
	return s.mqttClient
}

// GetEventForwarder returns the channel event forwarder
func (s *AppService) GetEventForwarder() *eventforward.Manager {
	return s.eventForward
}

// GetAppConfig returns the application configuration
func (s *AppService) GetAppConfig() *config.AppConfig {
	s.cfgMu.RLock()
	defer s.cfgMu.RUnlock()
	return s.config
}

// GetContext returns the service context
func (s *AppService) GetContext() context.Context {
	return s.ctx
}
