/*
Package trampoline holds the delegation points to the real operating-system
calls for every operation the interposer intercepts. The variables are bound
once at load time and treated as write-once, read-many: interposed entry
points call through them for unmatched paths and descriptors, and tests may
swap individual entries to observe fall-through behavior.

A nil entry is the setup-failure class: callers surface it as EFAULT on the
affected call rather than crashing the host process.
*/
package trampoline // import "github.com/selkies-project/joystick-interposer/trampoline"

import (
	"unsafe"

	"golang.org/x/sys/unix"
)

// Open delegates to the real open(2).
var Open func(path string, flags int, mode uint32) (int, error) = unix.Open

// Read delegates to the real read(2).
var Read func(fd int, p []byte) (int, error) = unix.Read

// Write delegates to the real write(2).
var Write func(fd int, p []byte) (int, error) = unix.Write

// Close delegates to the real close(2).
var Close func(fd int) error = unix.Close

// Access delegates to the real access(2).
var Access func(path string, mode uint32) error = unix.Access

// EpollCtl delegates to the real epoll_ctl(2).
var EpollCtl func(epfd int, op int, fd int, event *unix.EpollEvent) error = unix.EpollCtl

// Ioctl delegates to the real ioctl(2), passing the caller's buffer as the
// argument pointer (or NULL for an empty buffer).
var Ioctl func(fd int, req uint, arg []byte) (int, error) = realIoctl

func realIoctl(fd int, req uint, arg []byte) (int, error) {
	var p unsafe.Pointer
	if len(arg) > 0 {
		p = unsafe.Pointer(&arg[0])
	}
	r, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), uintptr(req), uintptr(p))
	if errno != 0 {
		return -1, errno
	}
	return int(r), nil
}
