// Package modbusserver exports channel states as read-only Modbus coils and
// registers over TCP or RTU.
package modbusserver

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"app-fritzbutton-go/internal/pkg/config"
	"app-fritzbutton-go/internal/pkg/logger"

	"github.com/goburrow/serial"
	"github.com/tbrandon/mbserver"
)

var errRange = errors.New("quantity out of range")

// ModbusServer implements the Modbus TCP/RTU server
type ModbusServer struct {
	config  *config.ModbusConfig
	server  *mbserver.Server
	reader  *RegisterReader
	lc      logger.LoggingClient
	running atomic.Bool
	ctx     context.Context
	cancel  context.CancelFunc
}

var _ ModbusServerInterface = (*ModbusServer)(nil)

// NewModbusServer creates a server answering reads from source
func NewModbusServer(cfg *config.ModbusConfig, source StateSource, lc logger.LoggingClient) *ModbusServer {
	return &ModbusServer{
		config: cfg,
		reader: NewRegisterReader(source, NewConverter(BigEndian), cfg.Registers, lc),
		lc:     lc,
	}
}

// Start starts the listener selected by config
func (s *ModbusServer) Start(ctx context.Context) error {
	if s.running.Load() {
		return fmt.Errorf("modbus server already running")
	}

	s.ctx, s.cancel = context.WithCancel(ctx)
	s.server = mbserver.NewServer()
	s.registerHandlers()

	var err error
	switch s.config.Type {
	case "TCP":
		err = s.startTCP()
	case "RTU":
		err = s.startRTU()
	default:
		err = fmt.Errorf("unsupported Modbus type: %s (must be TCP or RTU)", s.config.Type)
	}
	if err != nil {
		s.cancel()
		return err
	}

	s.running.Store(true)
	return nil
}

func (s *ModbusServer) registerHandlers() {
	s.server.RegisterFunctionHandler(1, s.handleReadCoils)            // 0x01
	s.server.RegisterFunctionHandler(2, s.handleReadDiscreteInputs)   // 0x02
	s.server.RegisterFunctionHandler(3, s.handleReadHoldingRegisters) // 0x03
	s.server.RegisterFunctionHandler(4, s.handleReadInputRegisters)   // 0x04

	// the export is read-only
	for _, fc := range []uint8{5, 6, 15, 16} {
		s.server.RegisterFunctionHandler(fc, s.handleWrite)
	}
}

func (s *ModbusServer) startTCP() error {
	addr := fmt.Sprintf("%s:%d", s.config.TCP.Host, s.config.TCP.Port)
	if err := s.server.ListenTCP(addr); err != nil {
		return fmt.Errorf("failed to start Modbus TCP listener: %w", err)
	}
	s.lc.Infof("Modbus TCP server started on %s", addr)
	return nil
}

func (s *ModbusServer) startRTU() error {
	serialConfig := &serial.Config{
		Address:  s.config.RTU.Port,
		BaudRate: s.config.RTU.BaudRate,
		DataBits: s.config.RTU.DataBits,
		StopBits: s.config.RTU.StopBits,
		Parity:   s.config.RTU.Parity,
		Timeout:  time.Duration(s.config.Timeout) * time.Millisecond,
	}

	if err := s.server.ListenRTU(serialConfig); err != nil {
		return fmt.Errorf("failed to start Modbus RTU listener: %w", err)
	}
	s.lc.Infof("Modbus RTU server started on %s", s.config.RTU.Port)
	return nil
}

// SetRegisters replaces the exported register map
func (s *ModbusServer) SetRegisters(regs []config.RegisterConfig) {
	s.reader.SetRegisters(regs)
}

func (s *ModbusServer) handleReadCoils(srv *mbserver.Server, frame mbserver.Framer) ([]byte, *mbserver.Exception) {
	return s.readBits(frame, "coils")
}

func (s *ModbusServer) handleReadDiscreteInputs(srv *mbserver.Server, frame mbserver.Framer) ([]byte, *mbserver.Exception) {
	return s.readBits(frame, "discrete inputs")
}

func (s *ModbusServer) handleReadHoldingRegisters(srv *mbserver.Server, frame mbserver.Framer) ([]byte, *mbserver.Exception) {
	return s.readRegisters(frame, "holding registers")
}

func (s *ModbusServer) handleReadInputRegisters(srv *mbserver.Server, frame mbserver.Framer) ([]byte, *mbserver.Exception) {
	return s.readRegisters(frame, "input registers")
}

func (s *ModbusServer) readBits(frame mbserver.Framer, what string) ([]byte, *mbserver.Exception) {
	startAddr, quantity, err := s.parseReadRequest(frame, 1, 2000)
	if err != nil {
		return []byte{}, &mbserver.IllegalDataValue
	}
	s.lc.Debugf("Read %s: addr=%d, quantity=%d", what, startAddr, quantity)

	data, err := s.reader.ReadBits(startAddr, quantity)
	if err != nil {
		s.lc.Warnf("Read %s rejected: %s", what, err.Error())
		return []byte{}, &mbserver.IllegalDataAddress
	}
	return data, &mbserver.Success
}

func (s *ModbusServer) readRegisters(frame mbserver.Framer, what string) ([]byte, *mbserver.Exception) {
	startAddr, quantity, err := s.parseReadRequest(frame, 1, 125)
	if err != nil {
		return []byte{}, &mbserver.IllegalDataValue
	}
	s.lc.Debugf("Read %s: addr=%d, quantity=%d", what, startAddr, quantity)

	data, err := s.reader.ReadRegisters(startAddr, quantity)
	if err != nil {
		s.lc.Warnf("Read %s rejected: %s", what, err.Error())
		return []byte{}, &mbserver.IllegalDataAddress
	}
	return data, &mbserver.Success
}

func (s *ModbusServer) handleWrite(srv *mbserver.Server, frame mbserver.Framer) ([]byte, *mbserver.Exception) {
	s.lc.Debugf("Rejected write function 0x%02X", frame.GetFunction())
	return []byte{}, &mbserver.IllegalFunction
}

// parseReadRequest extracts start address and quantity from a read request
func (s *ModbusServer) parseReadRequest(frame mbserver.Framer, minQty, maxQty uint16) (uint16, uint16, error) {
	data := frame.GetData()
	if len(data) < 4 {
		return 0, 0, fmt.Errorf("invalid data length %d", len(data))
	}

	startAddr := uint16(data[0])<<8 | uint16(data[1])
	quantity := uint16(data[2])<<8 | uint16(data[3])

	if quantity < minQty || quantity > maxQty {
		return 0, 0, fmt.Errorf("%w: %d", errRange, quantity)
	}
	return startAddr, quantity, nil
}

// Stop stops the server
func (s *ModbusServer) Stop() error {
	if !s.running.Load() {
		return nil
	}

	s.running.Store(false)
	if s.cancel != nil {
		s.cancel()
	}
	if s.server != nil {
		s.server.Close()
	}

	s.lc.Info("Modbus server stopped")
	return nil
}

// IsRunning returns whether the server is running
func (s *ModbusServer) IsRunning() bool {
	return s.running.Load()
}
