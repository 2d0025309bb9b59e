package service

import (
	"context"

	"app-fritzbutton-go/internal/pkg/config"
	"app-fritzbutton-go/internal/pkg/dispatch"
	"app-fritzbutton-go/internal/pkg/eventforward"
	"app-fritzbutton-go/internal/pkg/logger"
	"app-fritzbutton-go/internal/pkg/modbusserver"
	"app-fritzbutton-go/internal/pkg/mqtt"
	"app-fritzbutton-go/internal/pkg/thingmanager"
)

// AppServiceInterface defines the application service operations
type AppServiceInterface interface {
	// Initialize initializes the service with configuration
	Initialize(configPath string) error

	// Run runs the service until stop is called
	Run() error

	// Stop stops the service
	Stop() error

	// GetLoggingClient returns the logging client
	GetLoggingClient() logger.LoggingClient

	// GetThingManager returns the thing manager
	GetThingManager() thingmanager.ThingManagerInterface

	// GetDispatcher returns the device update dispatcher
	GetDispatcher() dispatch.DispatcherInterface

	// GetModbusServer returns the Modbus server, nil when disabled
	GetModbusServer() modbusserver.ModbusServerInterface

	// GetMQTTClient returns the MQTT client manager
	GetMQTTClient() *mqtt.ClientManager

	// GetEventForwarder returns the channel event forwarder
	GetEventForwarder() *eventforward.Manager

	// GetAppConfig returns the application configuration
	GetAppConfig() *config.AppConfig

	// GetContext returns the service context
	GetContext() context.Context
}
