/*
Package ioctlemu answers joystick and evdev ioctl requests from a slot's
stored device configuration, without ever touching the network. Both request
families are table-driven off the decoded request number so that handled and
unhandled requests are exhaustively enumerable.

Every write into the caller's buffer is length-checked against both the size
encoded in the request and the buffer actually supplied; nothing here performs
an unbounded copy.
*/
package ioctlemu // import "github.com/selkies-project/joystick-interposer/ioctlemu"

// ioctl request codes pack direction, size, type and number into 32 bits the
// same way on every Linux architecture this runs on.
const (
	iocNRShift   = 0
	iocTypeShift = 8
	iocSizeShift = 16
	iocDirShift  = 30

	iocNRMask   = 0xff
	iocTypeMask = 0xff
	iocSizeMask = 0x3fff
)

// reqType extracts the type tag ('j' for joystick, 'E' for evdev).
func reqType(req uint) byte {
	return byte((req >> iocTypeShift) & iocTypeMask)
}

// reqNR extracts the request number within its type family.
func reqNR(req uint) uint {
	return (req >> iocNRShift) & iocNRMask
}

// reqSize extracts the argument size encoded in the request. For
// length-parameterized requests (name, bitmaps) this is the caller's buffer
// length.
func reqSize(req uint) int {
	return int((req >> iocSizeShift) & iocSizeMask)
}

// argLimit bounds a length-parameterized request to what the caller actually
// handed us. The request's encoded size is authoritative for how much the
// caller asked for, the slice length for how much we may touch.
func argLimit(req uint, arg []byte) int {
	limit := reqSize(req)
	if len(arg) < limit {
		limit = len(arg)
	}
	return limit
}

// Linux input subsystem constants, as far as this emulator needs them.
const (
	evSyn = 0x00
	evKey = 0x01
	evAbs = 0x03
	evFF  = 0x15
	evMax = 0x1f

	keyMax = 0x2ff
	absMax = 0x3f
	absCnt = absMax + 1

	absX     = 0x00
	absY     = 0x01
	absZ     = 0x02
	absRX    = 0x03
	absRY    = 0x04
	absRZ    = 0x05
	absHat0X = 0x10
	absHat0Y = 0x11

	inputPropPointingStick = 0x05
)

// zeroFill clears the first n bytes of the buffer.
func zeroFill(b []byte, n int) {
	for i := 0; i < n; i++ {
		b[i] = 0
	}
}

// setBit sets bit number `bit` in a kernel-style byte-granular bitmap,
// skipping bits that fall outside the caller's buffer.
func setBit(b []byte, bit int, limit int) {
	if byteIdx := bit / 8; byteIdx < limit && byteIdx < len(b) {
		b[byteIdx] |= 1 << (uint(bit) % 8)
	}
}

// copyString copies s into the caller's buffer with a guaranteed null
// terminator and returns the number of visible characters written.
func copyString(b []byte, limit int, s string) int {
	if limit > len(b) {
		limit = len(b)
	}
	if limit <= 0 {
		return 0
	}
	n := copy(b[:limit-1], s)
	b[n] = 0
	return n
}
