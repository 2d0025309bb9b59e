package logger

// LoggingClient defines the leveled logging operations used throughout the service.
//
// Methods without the f suffix take an optional list of key/value pairs which
// are rendered as key=value after the message. The f variants format the
// message with fmt.Sprintf semantics.
type LoggingClient interface {
	// SetLogLevel changes the minimum level written; the level is case-insensitive
	SetLogLevel(logLevel string) error
	// LogLevel returns the current minimum level
	LogLevel() string

	Trace(msg string, args ...interface{})
	Debug(msg string, args ...interface{})
	Info(msg string, args ...interface{})
	Warn(msg string, args ...interface{})
	Error(msg string, args ...interface{})

	Tracef(msg string, args ...interface{})
	Debugf(msg string, args ...interface{})
	Infof(msg string, args ...interface{})
	Warnf(msg string, args ...interface{})
	Errorf(msg string, args ...interface{})

	// Close releases the log file, if any
	Close() error
}
