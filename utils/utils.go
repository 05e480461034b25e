// Package utils is the "lowest" package in the interposer, even below the
// logger. Therefore, it should only contain simple functions and constants
// that don't require any logging at all and must be broadly available
// throughout the interposer code.
package utils // import "github.com/selkies-project/joystick-interposer/utils"

import (
	"fmt"
)

// The following two functions exist so that we don't have to import `fmt` into
// any other packages (so we don't accidentally log something using `fmt`
// functions instead of using the `joylog` equivalents that respect the JS_LOG
// gate and the Sentry pipeline).

// Sprintf creates a string from format string and args.
func Sprintf(format string, v ...interface{}) string {
	return fmt.Sprintf(format, v...)
}

// MakeError creates an error from format string and args.
func MakeError(format string, v ...interface{}) error {
	return fmt.Errorf(format, v...)
}
