/*
Package interposer is the syscall-level facade of the device shim. It presents
the exact contract of open/open64, read, ioctl, close, epoll_ctl and access on
the managed device paths, redirecting them onto per-device unix-socket
connections, and delegates everything else untouched to the real system calls
through the trampoline layer.

The facade has no threads of its own: every call runs synchronously on the
caller's goroutine and converts all internal failures into the POSIX error the
application expects from the real device, never into a panic. Errors are
returned as unix.Errno values.
*/
package interposer // import "github.com/selkies-project/joystick-interposer/interposer"

import (
	"sync"

	"golang.org/x/sys/unix"

	"github.com/selkies-project/joystick-interposer/config"
	"github.com/selkies-project/joystick-interposer/connection"
	"github.com/selkies-project/joystick-interposer/eventreader"
	"github.com/selkies-project/joystick-interposer/ioctlemu"
	"github.com/selkies-project/joystick-interposer/joylog"
	"github.com/selkies-project/joystick-interposer/registry"
	"github.com/selkies-project/joystick-interposer/trampoline"
)

// Interposer routes the syscall surface for one device table. Most processes
// use the process-wide instance from Default, which builds its table from the
// environment-selected configuration.
type Interposer struct {
	cfg *config.Config
	reg *registry.Registry
}

var (
	defaultOnce sync.Once
	defaultInst *Interposer
	defaultErr  error
)

// New builds an interposer over the given configuration.
func New(cfg *config.Config) (*Interposer, error) {
	reg, err := registry.New(cfg)
	if err != nil {
		return nil, err
	}
	return &Interposer{cfg: cfg, reg: reg}, nil
}

// Default returns the process-wide interposer, building it on first use from
// config.Load. A configuration failure is sticky: every later call keeps
// failing with the same error rather than retrying setup.
func Default() (*Interposer, error) {
	defaultOnce.Do(func() {
		cfg, err := config.Load()
		if err != nil {
			defaultErr = err
			return
		}
		defaultInst, defaultErr = New(cfg)
	})
	return defaultInst, defaultErr
}

// Open opens a device path. Managed paths are redirected to their socket
// connection: the first open establishes it, subsequent opens return the same
// descriptor without touching the recorded open flags. Unmanaged paths go to
// the real open. mode is only meaningful for O_CREAT passthrough opens.
func (ip *Interposer) Open(path string, flags int, mode uint32) (int, error) {
	slot := ip.reg.ByPath(path)
	if slot == nil {
		if trampoline.Open == nil {
			return -1, unix.EFAULT
		}
		return passthrough(trampoline.Open(path, flags, mode))
	}

	slot.Lock()
	defer slot.Unlock()
	if slot.Open() {
		joylog.Infof("reusing connection for %s (fd %d, conn %s)", slot.DevicePath, slot.FD(), slot.Tag)
		return slot.FD(), nil
	}

	fd, err := connection.Establish(slot, flags, ip.cfg.ConnectTimeout())
	if err != nil {
		joylog.Errorf("open of %s failed: %v", path, err)
		return -1, unix.EIO
	}
	return fd, nil
}

// Open64 is the large-file variant of Open. On this platform the two are
// identical; it exists so callers mirroring the libc surface have both entry
// points.
func (ip *Interposer) Open64(path string, flags int, mode uint32) (int, error) {
	return ip.Open(path, flags, mode)
}

// Read reads from a descriptor. Interposed descriptors deliver exactly one
// device event per call; everything else goes to the real read.
func (ip *Interposer) Read(fd int, p []byte) (int, error) {
	slot := ip.reg.ByFD(fd)
	if slot == nil {
		if trampoline.Read == nil {
			return -1, unix.EFAULT
		}
		return passthrough(trampoline.Read(fd, p))
	}

	slot.Lock()
	defer slot.Unlock()
	if slot.FD() != fd {
		// Lost a race with close; treat as a plain descriptor.
		return passthrough(trampoline.Read(fd, p))
	}
	return eventreader.Read(slot, p, ip.cfg.ReadTimeout())
}

// Ioctl answers device ioctls on interposed descriptors from the stored
// configuration and forwards everything else to the real ioctl.
func (ip *Interposer) Ioctl(fd int, req uint, arg []byte) (int, error) {
	slot := ip.reg.ByFD(fd)
	if slot == nil {
		if trampoline.Ioctl == nil {
			return -1, unix.EFAULT
		}
		return passthrough(trampoline.Ioctl(fd, req, arg))
	}

	slot.Lock()
	defer slot.Unlock()
	if slot.FD() != fd {
		return passthrough(trampoline.Ioctl(fd, req, arg))
	}
	if slot.Kind == config.KindJoystick {
		return ioctlemu.HandleJoystick(slot, req, arg)
	}
	return ioctlemu.HandleEvdev(slot, req, arg)
}

// Close closes a descriptor. An interposed descriptor tears down the slot's
// connection and returns the slot to "not open"; the stored configuration is
// zeroed so stale answers cannot leak from a dead connection. The slot is
// released even when the underlying close fails.
func (ip *Interposer) Close(fd int) error {
	slot := ip.reg.ByFD(fd)
	if slot == nil {
		if trampoline.Close == nil {
			return unix.EFAULT
		}
		return trampoline.Close(fd)
	}

	slot.Lock()
	defer slot.Unlock()
	if slot.FD() != fd {
		return trampoline.Close(fd)
	}

	err := trampoline.Close(fd)
	if err != nil {
		joylog.Errorf("close of socket fd %d for %s failed: %v", fd, slot.DevicePath, err)
	} else {
		joylog.Infof("closed %s (fd %d, conn %s)", slot.DevicePath, fd, slot.Tag)
	}
	// The slot releases the descriptor either way; a close error never leaves
	// the slot claiming a descriptor the caller has already given up on.
	slot.Reset()
	return err
}

// EpollCtl registers a descriptor with an epoll instance. Adding or modifying
// an interposed descriptor forces it non-blocking first, because a polled
// character device behaves that way; a failure to switch modes is logged but
// never fails the registration. The real epoll_ctl always runs.
func (ip *Interposer) EpollCtl(epfd int, op int, fd int, event *unix.EpollEvent) error {
	if op == unix.EPOLL_CTL_ADD || op == unix.EPOLL_CTL_MOD {
		if slot := ip.reg.ByFD(fd); slot != nil {
			if err := connection.SetNonblocking(fd); err != nil {
				joylog.Warningf("could not make fd %d (%s) non-blocking for epoll: %v", fd, slot.DevicePath, err)
			}
		}
	}
	if trampoline.EpollCtl == nil {
		return unix.EFAULT
	}
	return trampoline.EpollCtl(epfd, op, fd, event)
}

// Access reports whether a path is accessible. Managed device paths always
// succeed, whether or not anything exists at the path, so applications that
// probe before opening find the device. Everything else goes to the real
// access.
func (ip *Interposer) Access(path string, mode uint32) error {
	if ip.reg.ByPath(path) != nil {
		joylog.Infof("reporting %s accessible (mode %#x)", path, mode)
		return nil
	}
	if trampoline.Access == nil {
		return unix.EFAULT
	}
	return trampoline.Access(path, mode)
}

// Registry exposes the slot table, for diagnostics.
func (ip *Interposer) Registry() *registry.Registry {
	return ip.reg
}

// passthrough normalizes a trampoline result to the facade's (-1, errno)
// error convention.
func passthrough(n int, err error) (int, error) {
	if err != nil {
		return -1, err
	}
	return n, nil
}
