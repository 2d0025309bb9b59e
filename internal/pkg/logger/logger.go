/*******************************************************************************
 * Copyright 2019 Dell Inc.
 * Copyright (C) 2025 IOTech Ltd
 *
 * Licensed under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License. You may obtain a copy of the License at
 *
 * http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software distributed under the License
 * is distributed on an "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express
 * or implied. See the License for the specific language governing permissions and limitations under
 * the License.
 *******************************************************************************/

/*
Package logger provides the leveled logging client of the service. Lines are written to stdout
and, optionally, to a log file that is rotated by size.
*/
package logger

import (
	"fmt"
	"io"
	stdLog "log"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"
)

const (
	TraceLog = "TRACE"
	DebugLog = "DEBUG"
	InfoLog  = "INFO"
	WarnLog  = "WARN"
	ErrorLog = "ERROR"
)

type levelLogger struct {
	logLevel string
	mu       sync.RWMutex // guards logLevel

	writer   io.Writer
	wmu      sync.Mutex // serializes line writes
	file     io.WriteCloser
	filePath string
}

// LoggerConfig holds configuration for logger creation
type LoggerConfig struct {
	LogLevel      string // TRACE, DEBUG, INFO, WARN, ERROR
	FilePath      string // empty for no file output
	FileMaxSizeMB int    // rotate after this many MB, 0 disables rotation
	MaxBackups    int    // rotated files kept, 0 keeps all
	MaxAgeDays    int    // rotated files older than this are removed, 0 keeps all
	EnableConsole bool
	// Writer replaces stdout as console output when set
	Writer io.Writer
}

// NewClient creates a LoggingClient that writes to stdout only
func NewClient(logLevel string) LoggingClient {
	return NewClientWithConfig(LoggerConfig{
		LogLevel:      logLevel,
		EnableConsole: true,
	})
}

// NewClientWithFile creates a LoggingClient that writes to both console and file
func NewClientWithFile(logLevel string, filePath string) (LoggingClient, error) {
	dir := filepath.Dir(filePath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory %s: %w", dir, err)
	}
	return NewClientWithConfig(LoggerConfig{
		LogLevel:      logLevel,
		FilePath:      filePath,
		EnableConsole: true,
	}), nil
}

// NewClientWithConfig creates a LoggingClient from a LoggerConfig.
// File errors are reported on the standard logger and the client falls back to the console.
func NewClientWithConfig(config LoggerConfig) LoggingClient {
	upper := strings.ToUpper(config.LogLevel)
	if !isValidLogLevel(upper) {
		upper = InfoLog
	}

	l := &levelLogger{
		logLevel: upper,
		filePath: config.FilePath,
	}

	var writers []io.Writer
	if config.EnableConsole {
		if config.Writer != nil {
			writers = append(writers, config.Writer)
		} else {
			writers = append(writers, os.Stdout)
		}
	}

	if config.FilePath != "" {
		if f := openLogFile(config); f != nil {
			l.file = f
			writers = append(writers, f)
		}
	}

	switch len(writers) {
	case 0:
		l.writer = os.Stdout
	case 1:
		l.writer = writers[0]
	default:
		l.writer = io.MultiWriter(writers...)
	}

	return l
}

func openLogFile(config LoggerConfig) io.WriteCloser {
	dir := filepath.Dir(config.FilePath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		stdLog.Printf("Failed to create log directory %s: %v", dir, err)
		return nil
	}

	if config.FileMaxSizeMB > 0 {
		return &lumberjack.Logger{
			Filename:   config.FilePath,
			MaxSize:    config.FileMaxSizeMB,
			MaxBackups: config.MaxBackups,
			MaxAge:     config.MaxAgeDays,
			LocalTime:  true,
		}
	}

	file, err := os.OpenFile(config.FilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		stdLog.Printf("Failed to open log file %s: %v", config.FilePath, err)
		return nil
	}
	return file
}

// Close closes the log file if one is open
func (l *levelLogger) Close() error {
	l.wmu.Lock()
	defer l.wmu.Unlock()
	if l.file != nil {
		err := l.file.Close()
		l.file = nil
		return err
	}
	return nil
}

// logLevels returns the possible log levels from most to least verbose
func logLevels() []string {
	return []string{TraceLog, DebugLog, InfoLog, WarnLog, ErrorLog}
}

func isValidLogLevel(l string) bool {
	l = strings.ToUpper(l)
	for _, name := range logLevels() {
		if name == l {
			return true
		}
	}
	return false
}

var levelOrder = map[string]int{
	TraceLog: 0,
	DebugLog: 1,
	InfoLog:  2,
	WarnLog:  3,
	ErrorLog: 4,
}

func (l *levelLogger) currentLevel() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.logLevel
}

func (l *levelLogger) enabled(target string) bool {
	return levelOrder[target] >= levelOrder[l.currentLevel()]
}

func caller(skip int) string {
	if _, file, line, ok := runtime.Caller(skip); ok {
		// keep the last two path elements
		parts := strings.Split(file, "/")
		if len(parts) > 2 {
			file = strings.Join(parts[len(parts)-2:], "/")
		}
		return fmt.Sprintf("%s:%d", file, line)
	}
	return "?? ?"
}

func (l *levelLogger) output(level string, formatted bool, msg string, args ...interface{}) {
	if !isValidLogLevel(level) || !l.enabled(level) {
		return
	}

	const (
		levelWidth  = 5
		sourceWidth = 30
		timeLayout  = "2006-01-02 15:04:05.000000000"
	)

	src := caller(4)
	if len(src) > sourceWidth {
		src = src[len(src)-sourceWidth:]
	}

	rendered := msg
	var extraKVs []string
	if formatted {
		rendered = fmt.Sprintf(msg, args...)
	} else if len(args) > 0 {
		if len(args)%2 == 1 {
			args = append(args, "")
		}
		for i := 0; i < len(args); i += 2 {
			k := fmt.Sprintf("%v", args[i])
			v := fmt.Sprintf("%v", args[i+1])
			if k == "level" || k == "ts" || k == "source" || k == "msg" {
				k = "extra_" + k
			}
			v = strings.ReplaceAll(v, "\"", "'")
			extraKVs = append(extraKVs, fmt.Sprintf("%s=%s", k, v))
		}
	}

	// [DEBUG] [ts=2025-10-15 04:29:02.123456789] (source=button/mapper.go:120          ) msg="..."
	line := fmt.Sprintf("[%-*s] [ts=%s] (source=%-*s) msg=\"%s\"",
		levelWidth, level,
		time.Now().Format(timeLayout),
		sourceWidth, src,
		strings.ReplaceAll(rendered, "\"", "'"))
	if len(extraKVs) > 0 {
		line += " " + strings.Join(extraKVs, " ")
	}
	line += "\n"

	l.wmu.Lock()
	_, err := io.WriteString(l.writer, line)
	l.wmu.Unlock()
	if err != nil {
		stdLog.Printf("logger write error: %v", err)
	}
}

func (l *levelLogger) log(level string, formatted bool, msg string, args ...interface{}) {
	l.output(level, formatted, msg, args...)
}

func (l *levelLogger) SetLogLevel(logLevel string) error {
	upper := strings.ToUpper(logLevel)
	if !isValidLogLevel(upper) {
		return fmt.Errorf("invalid log level `%s`", logLevel)
	}
	l.mu.Lock()
	l.logLevel = upper
	l.mu.Unlock()
	return nil
}

func (l *levelLogger) LogLevel() string { return l.currentLevel() }

func (l *levelLogger) Info(msg string, args ...interface{})  { l.log(InfoLog, false, msg, args...) }
func (l *levelLogger) Trace(msg string, args ...interface{}) { l.log(TraceLog, false, msg, args...) }
func (l *levelLogger) Debug(msg string, args ...interface{}) { l.log(DebugLog, false, msg, args...) }
func (l *levelLogger) Warn(msg string, args ...interface{})  { l.log(WarnLog, false, msg, args...) }
func (l *levelLogger) Error(msg string, args ...interface{}) { l.log(ErrorLog, false, msg, args...) }

func (l *levelLogger) Infof(msg string, args ...interface{})  { l.log(InfoLog, true, msg, args...) }
func (l *levelLogger) Tracef(msg string, args ...interface{}) { l.log(TraceLog, true, msg, args...) }
func (l *levelLogger) Debugf(msg string, args ...interface{}) { l.log(DebugLog, true, msg, args...) }
func (l *levelLogger) Warnf(msg string, args ...interface{})  { l.log(WarnLog, true, msg, args...) }
func (l *levelLogger) Errorf(msg string, args ...interface{}) { l.log(ErrorLog, true, msg, args...) }
