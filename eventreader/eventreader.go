/*
Package eventreader delivers device events from a slot's socket to the
application one whole record at a time. The application sees exactly the
read() contract of a kernel device node: full js_event or input_event records,
EAGAIN in non-blocking mode when nothing is pending, and 0 at end of stream.

The stream is a byte pipe, so record boundaries are this package's problem:
once the first byte of a record has arrived the rest is collected with a short
poll, and a peer that disappears mid-record surfaces as EPIPE rather than a
torn record.
*/
package eventreader // import "github.com/selkies-project/joystick-interposer/eventreader"

import (
	"time"

	"golang.org/x/sys/unix"

	"github.com/selkies-project/joystick-interposer/connection"
	"github.com/selkies-project/joystick-interposer/joylog"
	"github.com/selkies-project/joystick-interposer/registry"
	"github.com/selkies-project/joystick-interposer/trampoline"
)

// pollInterval is the cadence of the bounded wait for event bytes.
const pollInterval = time.Millisecond

// Read reads exactly one event record from the slot's socket into p. The
// slot lock must be held and the slot must be open.
//
// The return contract mirrors read() on a device node: (n, nil) with n the
// record size, (0, nil) on a clean end of stream, or (0, errno) where errno
// is unix.EINVAL for a non-empty buffer smaller than one record (an empty
// buffer reads as 0), unix.EAGAIN when the descriptor is non-blocking and no
// event is pending, unix.ETIMEDOUT when a blocking read exhausts the timeout,
// and unix.EPIPE when the peer vanishes mid-record. Other descriptor errors
// propagate unchanged.
func Read(slot *registry.Slot, p []byte, timeout time.Duration) (int, error) {
	size := slot.EventSize()
	if len(p) == 0 {
		return 0, nil
	}
	if len(p) < size {
		return 0, unix.EINVAL
	}

	fd := slot.FD()
	nonblocking, err := connection.IsNonblocking(fd)
	if err != nil {
		joylog.Warningf("could not query mode of fd %d, assuming blocking: %v", fd, err)
		nonblocking = false
	}

	deadline := time.Now().Add(timeout)
	total := 0
	for total < size {
		ready, err := waitReadable(fd, 0)
		if err != nil {
			joylog.Errorf("poll on %s (conn %s, fd %d) failed: %v", slot.DevicePath, slot.Tag, fd, err)
			return 0, err
		}
		if !ready {
			// No byte pending right now. Before a record has started,
			// non-blocking callers get the would-block answer; once a
			// record has started it is always finished, in either
			// mode, so the application never sees a torn event.
			if total == 0 && nonblocking {
				return 0, unix.EAGAIN
			}
			if time.Now().After(deadline) {
				if total > 0 {
					joylog.Warningf("read on %s (conn %s) stalled %d bytes into a %d-byte event",
						slot.DevicePath, slot.Tag, total, size)
				}
				return 0, unix.ETIMEDOUT
			}
			if _, err := waitReadable(fd, pollInterval); err != nil {
				joylog.Errorf("poll on %s (conn %s, fd %d) failed: %v", slot.DevicePath, slot.Tag, fd, err)
				return 0, err
			}
			continue
		}

		n, err := trampoline.Read(fd, p[total:size])
		switch {
		case err == unix.EAGAIN || err == unix.EINTR:
			continue
		case err != nil:
			joylog.Errorf("read on %s (conn %s, fd %d) failed: %v", slot.DevicePath, slot.Tag, fd, err)
			return 0, err
		case n == 0:
			if total == 0 {
				// Clean end of stream between records.
				return 0, nil
			}
			joylog.Warningf("peer for %s (conn %s) closed %d bytes into a %d-byte event",
				slot.DevicePath, slot.Tag, total, size)
			return 0, unix.EPIPE
		default:
			total += n
		}
	}
	return size, nil
}

// waitReadable polls the descriptor for pending input for at most the given
// duration. A zero duration is an instantaneous check.
func waitReadable(fd int, d time.Duration) (bool, error) {
	pfds := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLIN}}
	for {
		n, err := unix.Poll(pfds, int(d.Milliseconds()))
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return false, err
		}
		return n > 0, nil
	}
}
