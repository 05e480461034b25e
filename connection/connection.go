/*
Package connection turns a device-path open() into a live unix-socket
connection: it dials the slot's socket with a bounded retry while the peer may
still be starting up, performs the configuration handshake, and answers the
peer with the local architecture word size.

All waiting here is bounded. A peer that never listens or never completes the
handshake costs the caller roughly the connect timeout, after which the open
fails; nothing in this package can wedge the calling thread indefinitely.
*/
package connection // import "github.com/selkies-project/joystick-interposer/connection"

import (
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"
	"golang.org/x/sys/unix"

	"github.com/selkies-project/joystick-interposer/joylog"
	"github.com/selkies-project/joystick-interposer/protocol"
	"github.com/selkies-project/joystick-interposer/registry"
	"github.com/selkies-project/joystick-interposer/trampoline"
	"github.com/selkies-project/joystick-interposer/utils"
)

// connectPollInterval is the fallback poll cadence while waiting for the
// peer's socket to start listening.
const connectPollInterval = 10 * time.Millisecond

// handshakeRetryInterval is the poll cadence while waiting for the remainder
// of the configuration record.
const handshakeRetryInterval = 10 * time.Millisecond

// Establish connects the slot to its peer socket and runs the handshake. The
// slot lock must be held. On success the slot owns the returned descriptor
// and holds the decoded configuration; on any failure the slot is reset so a
// later open starts clean, and the caller should surface EIO.
//
// Callers must check for an existing connection first (idempotent reuse is
// the open()-path's job); Establish always dials.
func Establish(slot *registry.Slot, flags int, timeout time.Duration) (int, error) {
	slot.OpenFlags = flags

	fd, err := unix.Socket(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err != nil {
		slot.Reset()
		return -1, utils.MakeError("failed to create socket for %s: %s", slot.SocketPath, err)
	}

	if err := connectWithRetry(fd, slot.SocketPath, timeout); err != nil {
		trampoline.Close(fd)
		slot.Reset()
		return -1, err
	}

	cfg, err := readConfig(fd, slot.SocketPath, timeout)
	if err != nil {
		trampoline.Close(fd)
		slot.Reset()
		return -1, err
	}

	if _, err := trampoline.Write(fd, []byte{protocol.ArchByte()}); err != nil {
		trampoline.Close(fd)
		slot.Reset()
		return -1, utils.MakeError("failed to send architecture byte to %s: %s", slot.SocketPath, err)
	}

	if flags&unix.O_NONBLOCK != 0 {
		if err := SetNonblocking(fd); err != nil {
			joylog.Warningf("could not honor O_NONBLOCK on %s (fd %d): %v", slot.DevicePath, fd, err)
		}
	}

	slot.SetFD(fd)
	slot.Tag = uuid.NewString()
	slot.Config = cfg
	joylog.Infof("connected %s to %s (fd %d, conn %s): name=%q btns=%d axes=%d",
		slot.DevicePath, slot.SocketPath, fd, slot.Tag, cfg.Name, cfg.NumButtons, cfg.NumAxes)
	return fd, nil
}

// connectWithRetry dials the socket, retrying while the peer is not yet
// listening (ENOENT before the socket file exists, ECONNREFUSED after it
// exists but before accept). It wakes on filesystem events for the socket's
// directory when it can, with a short poll as fallback, and gives up at the
// deadline.
func connectWithRetry(fd int, socketPath string, timeout time.Duration) error {
	addr := &unix.SockaddrUnix{Name: socketPath}
	deadline := time.Now().Add(timeout)

	var fsEvents chan fsnotify.Event
	watcher, err := fsnotify.NewWatcher()
	if err == nil {
		defer watcher.Close()
		if err := watcher.Add(filepath.Dir(socketPath)); err == nil {
			fsEvents = watcher.Events
		}
	}

	ticker := time.NewTicker(connectPollInterval)
	defer ticker.Stop()

	attempt := 0
	for {
		err := unix.Connect(fd, addr)
		if err == nil {
			return nil
		}
		if err != unix.ENOENT && err != unix.ECONNREFUSED {
			return utils.MakeError("failed to connect to %s: %s", socketPath, err)
		}

		if time.Now().After(deadline) {
			return utils.MakeError("timed out connecting to %s after %v (%d attempts)", socketPath, timeout, attempt+1)
		}
		attempt++

		remaining := time.Until(deadline)
		expiry := time.NewTimer(remaining)
		select {
		case <-fsEvents:
			// Socket file may have just appeared; retry right away.
		case <-ticker.C:
		case <-expiry.C:
		}
		expiry.Stop()
	}
}

// readConfig reads exactly one configuration record from the freshly
// connected socket. The socket is forced into blocking mode for the duration
// of the read regardless of its eventual runtime mode, then restored.
func readConfig(fd int, socketPath string, timeout time.Duration) (protocol.DeviceConfig, error) {
	var cfg protocol.DeviceConfig

	origFlags, err := unix.FcntlInt(uintptr(fd), unix.F_GETFL, 0)
	wasNonblocking := false
	if err != nil {
		joylog.Warningf("F_GETFL failed for fd %d: %v; cannot ensure blocking config read", fd, err)
	} else if origFlags&unix.O_NONBLOCK != 0 {
		wasNonblocking = true
		if _, err := unix.FcntlInt(uintptr(fd), unix.F_SETFL, origFlags&^unix.O_NONBLOCK); err != nil {
			joylog.Warningf("could not make fd %d blocking for config read: %v", fd, err)
		}
	}
	defer func() {
		if wasNonblocking {
			if _, err := unix.FcntlInt(uintptr(fd), unix.F_SETFL, origFlags); err != nil {
				joylog.Warningf("could not restore O_NONBLOCK on fd %d: %v", fd, err)
			}
		}
	}()

	buf := make([]byte, protocol.ConfigRecordSize)
	deadline := time.Now().Add(timeout)
	total := 0
	for total < len(buf) {
		n, err := trampoline.Read(fd, buf[total:])
		if err == unix.EAGAIN || err == unix.EINTR {
			if time.Now().After(deadline) {
				return cfg, utils.MakeError("timed out reading device configuration from %s after %v", socketPath, timeout)
			}
			time.Sleep(handshakeRetryInterval)
			continue
		}
		if err != nil {
			return cfg, utils.MakeError("failed to read device configuration from %s: %s", socketPath, err)
		}
		if n == 0 {
			return cfg, utils.MakeError("peer closed %s after %d of %d configuration bytes", socketPath, total, len(buf))
		}
		total += n
	}

	return protocol.DecodeDeviceConfig(buf)
}

// SetNonblocking puts the descriptor into non-blocking mode if it isn't
// already. Idempotent.
func SetNonblocking(fd int) error {
	flags, err := unix.FcntlInt(uintptr(fd), unix.F_GETFL, 0)
	if err != nil {
		return utils.MakeError("F_GETFL failed for fd %d: %s", fd, err)
	}
	if flags&unix.O_NONBLOCK != 0 {
		return nil
	}
	if _, err := unix.FcntlInt(uintptr(fd), unix.F_SETFL, flags|unix.O_NONBLOCK); err != nil {
		return utils.MakeError("F_SETFL O_NONBLOCK failed for fd %d: %s", fd, err)
	}
	return nil
}

// IsNonblocking reports whether the descriptor is currently in non-blocking
// mode. This is the runtime answer from the descriptor itself, which can
// differ from the application's original open flags once the descriptor has
// been through an epoll registration.
func IsNonblocking(fd int) (bool, error) {
	flags, err := unix.FcntlInt(uintptr(fd), unix.F_GETFL, 0)
	if err != nil {
		return false, utils.MakeError("F_GETFL failed for fd %d: %s", fd, err)
	}
	return flags&unix.O_NONBLOCK != 0, nil
}
