package logger

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestNewClient tests the NewClient constructor
func TestNewClient(t *testing.T) {
	tests := []struct {
		name     string
		logLevel string
		want     string
	}{
		{name: "valid INFO level", logLevel: "INFO", want: "INFO"},
		{name: "valid DEBUG level", logLevel: "DEBUG", want: "DEBUG"},
		{name: "lowercase level", logLevel: "debug", want: "DEBUG"},
		{name: "invalid level defaults to INFO", logLevel: "INVALID", want: "INFO"},
		{name: "empty level defaults to INFO", logLevel: "", want: "INFO"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lc := NewClient(tt.logLevel)
			assert.NotNil(t, lc)
			assert.Equal(t, tt.want, lc.LogLevel())
		})
	}
}

// TestSetLogLevel tests the SetLogLevel method
func TestSetLogLevel(t *testing.T) {
	tests := []struct {
		name      string
		initial   string
		newLevel  string
		wantErr   bool
		wantLevel string
	}{
		{name: "set to DEBUG", initial: "INFO", newLevel: "DEBUG", wantLevel: "DEBUG"},
		{name: "set to ERROR", initial: "INFO", newLevel: "ERROR", wantLevel: "ERROR"},
		{name: "lowercase level", initial: "INFO", newLevel: "warn", wantLevel: "WARN"},
		{name: "invalid level", initial: "INFO", newLevel: "INVALID", wantErr: true, wantLevel: "INFO"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lc := NewClient(tt.initial)
			err := lc.SetLogLevel(tt.newLevel)

			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
			assert.Equal(t, tt.wantLevel, lc.LogLevel())
		})
	}
}

// TestLogLevelFiltering tests that only logs at or above the set level are enabled
func TestLogLevelFiltering(t *testing.T) {
	tests := []struct {
		name      string
		setLevel  string
		shouldLog map[string]bool
	}{
		{
			name:     "INFO level",
			setLevel: "INFO",
			shouldLog: map[string]bool{
				"TRACE": false, "DEBUG": false, "INFO": true, "WARN": true, "ERROR": true,
			},
		},
		{
			name:     "DEBUG level",
			setLevel: "DEBUG",
			shouldLog: map[string]bool{
				"TRACE": false, "DEBUG": true, "INFO": true, "WARN": true, "ERROR": true,
			},
		},
		{
			name:     "ERROR level",
			setLevel: "ERROR",
			shouldLog: map[string]bool{
				"TRACE": false, "DEBUG": false, "INFO": false, "WARN": false, "ERROR": true,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lc := NewClient(tt.setLevel).(*levelLogger)
			for level, shouldEnable := range tt.shouldLog {
				assert.Equal(t, shouldEnable, lc.enabled(level),
					"Level %s should be enabled=%v when log level is %s", level, shouldEnable, tt.setLevel)
			}
		})
	}
}

func TestOutputFormat(t *testing.T) {
	var buf bytes.Buffer
	lc := NewClientWithConfig(LoggerConfig{LogLevel: "DEBUG", EnableConsole: true, Writer: &buf})

	lc.Debugf("Channel '%s' in thing '%s' does not exist.", "top-left.press", "avmfritz:dect440:1")
	lc.Info("update dispatched", "thing", "t1", "msg", `say "hi"`)
	lc.Trace("filtered out")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)

	assert.Contains(t, lines[0], "[DEBUG]")
	assert.Contains(t, lines[0], `msg="Channel 'top-left.press' in thing 'avmfritz:dect440:1' does not exist."`)
	assert.Contains(t, lines[0], "logger/logger_test.go")

	assert.Contains(t, lines[1], "[INFO ]")
	assert.Contains(t, lines[1], "thing=t1")
	assert.Contains(t, lines[1], "extra_msg=say 'hi'")
}

// TestLoggingMethods tests that all logging methods can be called without panic
func TestLoggingMethods(t *testing.T) {
	lc := NewClient("DEBUG")

	assert.NotPanics(t, func() {
		lc.Trace("trace message")
		lc.Debug("debug message")
		lc.Info("info message")
		lc.Warn("warn message")
		lc.Error("error message")
		lc.Tracef("trace %s", "formatted")
		lc.Debugf("debug %s", "formatted")
		lc.Infof("info %s", "formatted")
		lc.Warnf("warn %s", "formatted")
		lc.Errorf("error %s", "formatted")
		lc.Info("odd kvs", "key1")
	})
	assert.NoError(t, lc.Close())
}

func TestNewClientWithConfig_File(t *testing.T) {
	t.Run("plain file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "logs", "app.log")
		lc := NewClientWithConfig(LoggerConfig{LogLevel: "INFO", FilePath: path})
		lc.Info("to file")
		require.NoError(t, lc.Close())

		data, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Contains(t, string(data), `msg="to file"`)
	})

	t.Run("rotating file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "rotating.log")
		lc := NewClientWithConfig(LoggerConfig{LogLevel: "INFO", FilePath: path, FileMaxSizeMB: 1, MaxBackups: 2})
		_, ok := lc.(*levelLogger).file.(interface{ Rotate() error })
		assert.True(t, ok, "size limited file output should rotate")

		lc.Warn("rotated output")
		require.NoError(t, lc.Close())

		data, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Contains(t, string(data), "rotated output")
	})

	t.Run("with file helper", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "nested", "dir", "svc.log")
		lc, err := NewClientWithFile("DEBUG", path)
		require.NoError(t, err)
		assert.Equal(t, "DEBUG", lc.LogLevel())
		assert.NoError(t, lc.Close())
	})

	t.Run("no console no file defaults to stdout", func(t *testing.T) {
		lc := NewClientWithConfig(LoggerConfig{LogLevel: "INFO"})
		assert.NotNil(t, lc.(*levelLogger).writer)
	})
}
