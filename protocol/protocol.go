/*
Package protocol defines the wire records exchanged with the input peer over
each device's unix socket, with explicit byte-offset codecs.

The record layouts mirror the C structs of the original socket protocol
exactly, including alignment padding, so a Go build talks to an unmodified
peer. Every codec reads/writes named fields at known offsets instead of
reinterpreting struct memory; layouts are pinned by tests.

The connection-time sequence on each socket is: peer sends one device
configuration record, the interposer answers with a single byte carrying its
pointer width, then the peer streams fixed-size event records whose long-sized
fields match the announced width.
*/
package protocol // import "github.com/selkies-project/joystick-interposer/protocol"

import "strconv"

// WordSize is the local pointer width in bytes (4 or 8). It selects the
// C-long field width of input events and is the value of the architecture
// acknowledgment byte sent to the peer after the configuration record.
const WordSize = strconv.IntSize / 8

// ArchByte returns the one-byte architecture acknowledgment for the handshake.
func ArchByte() byte {
	return byte(WordSize)
}

// Device identity defaults, used whenever the peer's configuration leaves the
// corresponding field zero. They are shared with the fake udev setup on the
// session side, so applications that cross-check udev attributes against
// ioctl answers see a consistent device.
const (
	DefaultDeviceName = "Microsoft X-Box 360 pad"
	DefaultVendorID   = 0x045e
	DefaultProductID  = 0x028e
	DefaultVersionID  = 0x0114
)

// BusUSB is the input_id bus type reported by the evdev id query.
const BusUSB = 0x03

// Driver version constants reported by the version-query ioctls.
const (
	JSVersion = 0x020100 // joystick driver protocol version
	EVVersion = 0x010001 // evdev driver version
)
