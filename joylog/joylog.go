/*
Package joylog is the logging sink for the interposer. Diagnostic output is
quiet by default, since this code runs inside someone else's process: only
warnings and errors are emitted unless the JS_LOG environment variable is set,
which enables the debug/info stream as well. Errors are additionally shipped to
Sentry when a SENTRY_DSN is configured.
*/
package joylog // import "github.com/selkies-project/joystick-interposer/joylog"

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var logger *zap.Logger

func init() {
	// First, define our level-handling logic. High-priority output always
	// flows; low-priority output is gated behind JS_LOG.
	verbose := os.Getenv("JS_LOG") != ""

	highPriority := zap.LevelEnablerFunc(func(lvl zapcore.Level) bool {
		return lvl >= zapcore.WarnLevel
	})
	lowPriority := zap.LevelEnablerFunc(func(lvl zapcore.Level) bool {
		return verbose && lvl < zapcore.WarnLevel
	})

	// High-priority output should go to standard error, and low-priority
	// output should go to standard out.
	consoleDebugging := zapcore.Lock(os.Stdout)
	consoleErrors := zapcore.Lock(os.Stderr)

	consoleEncoderConfig := zap.NewDevelopmentEncoderConfig()
	consoleEncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	consoleEncoder := zapcore.NewConsoleEncoder(consoleEncoderConfig)

	// Join the outputs, encoders, and level-handling functions into
	// zapcore.Cores, then tee the cores together. The Sentry core is only
	// present when a DSN is configured in the environment.
	cores := []zapcore.Core{
		zapcore.NewCore(consoleEncoder, consoleErrors, highPriority),
		zapcore.NewCore(consoleEncoder, consoleDebugging, lowPriority),
	}
	if sentry := newSentryCore(zapcore.NewJSONEncoder(newSentryEncoderConfig()), highPriority); sentry != nil {
		cores = append(cores, sentry)
	}

	logger = zap.New(zapcore.NewTee(cores...))
}

// Close flushes any buffered log output (including pending Sentry events).
// Call it before the host process exits if at all possible; the interposer
// itself never forces a flush on the process's behalf.
func Close() {
	logger.Sync()
}

// Debugf logs fine-grained diagnostic detail. Suppressed unless JS_LOG is set.
func Debugf(format string, v ...interface{}) {
	logger.Sugar().Debugf(format, v...)
}

// Infof logs some info + timestamp. Suppressed unless JS_LOG is set.
func Infof(format string, v ...interface{}) {
	logger.Sugar().Infof(format, v...)
}

// Warning logs an error in warning form, but doesn't send it to Sentry.
func Warning(err error) {
	logger.Sugar().Warn(err)
}

// Warningf is like Warning, but it respects printf syntax, i.e. takes in a
// format string and arguments, for convenience.
func Warningf(format string, v ...interface{}) {
	logger.Sugar().Warnf(format, v...)
}

// Error logs an error and sends it to Sentry (when configured).
func Error(err error) {
	logger.Sugar().Error(err)
}

// Errorf is like Error, but it respects printf syntax, i.e. takes in a format
// string and arguments, for convenience.
func Errorf(format string, v ...interface{}) {
	logger.Sugar().Errorf(format, v...)
}
