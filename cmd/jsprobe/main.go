/*
jsprobe is a diagnostic client for the interposed device table. It opens one
or more managed device paths through the interposer, prints the identity the
emulated ioctls report, and optionally streams decoded events until
interrupted. It exercises exactly the code paths an application inside the
session would, so a broken peer or socket shows up here first.
*/
package main

import (
	"context"
	"encoding/binary"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sys/unix"

	"github.com/selkies-project/joystick-interposer/config"
	"github.com/selkies-project/joystick-interposer/interposer"
	"github.com/selkies-project/joystick-interposer/joylog"
	"github.com/selkies-project/joystick-interposer/protocol"
	"github.com/selkies-project/joystick-interposer/utils"
)

func main() {
	listOnly := flag.Bool("list", false, "print the device table and exit")
	follow := flag.Bool("follow", false, "stream decoded events until interrupted")
	flag.Parse()

	if err := run(*listOnly, *follow, flag.Args()); err != nil {
		joylog.Errorf("%v", err)
		os.Exit(1)
	}
}

func run(listOnly, follow bool, paths []string) error {
	defer joylog.Close()

	ip, err := interposer.Default()
	if err != nil {
		return utils.MakeError("could not initialize device table: %s", err)
	}

	if listOnly {
		for _, slot := range ip.Registry().Slots() {
			fmt.Printf("%-22s kind=%-5s socket=%s\n", slot.DevicePath, slot.Kind, slot.SocketPath)
		}
		return nil
	}

	if len(paths) == 0 {
		for _, slot := range ip.Registry().Slots() {
			paths = append(paths, slot.DevicePath)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	group, gctx := errgroup.WithContext(ctx)
	for _, path := range paths {
		path := path
		group.Go(func() error {
			return probe(gctx, ip, path, follow)
		})
	}
	return group.Wait()
}

// probe opens one device, reports its emulated identity, and optionally
// streams events until the context is canceled.
func probe(ctx context.Context, ip *interposer.Interposer, path string, follow bool) error {
	slot := ip.Registry().ByPath(path)
	if slot == nil {
		return utils.MakeError("%s is not in the device table", path)
	}

	fd, err := ip.Open(path, unix.O_RDONLY, 0)
	if err != nil {
		return utils.MakeError("open %s: %s", path, err)
	}
	defer ip.Close(fd)

	name, err := deviceName(ip, fd, slot.Kind)
	if err != nil {
		return utils.MakeError("name query on %s: %s", path, err)
	}
	axes, buttons, err := deviceCounts(ip, fd)
	if err != nil {
		return utils.MakeError("count query on %s: %s", path, err)
	}

	version := make([]byte, 4)
	if _, err := ip.Ioctl(fd, uint(2)<<30|uint(4)<<16|uint('j')<<8|0x01, version); err != nil {
		return utils.MakeError("version query on %s: %s", path, err)
	}

	axisMap := make([]byte, axes)
	if axes > 0 {
		if _, err := ip.Ioctl(fd, uint(2)<<30|uint(len(axisMap))<<16|uint('j')<<8|0x32, axisMap); err != nil {
			return utils.MakeError("axis map query on %s: %s", path, err)
		}
	}
	btnMap := make([]byte, 2*buttons)
	if buttons > 0 {
		if _, err := ip.Ioctl(fd, uint(2)<<30|uint(len(btnMap))<<16|uint('j')<<8|0x34, btnMap); err != nil {
			return utils.MakeError("button map query on %s: %s", path, err)
		}
	}

	fmt.Printf("%s: %q driver=%#x, %d axes (map % x), %d buttons (map % x)\n",
		path, name, binary.LittleEndian.Uint32(version), axes, axisMap, buttons, btnMap)

	if !follow {
		return nil
	}
	return stream(ctx, ip, fd, path, slot.Kind)
}

// deviceName issues the kind-appropriate name ioctl.
func deviceName(ip *interposer.Interposer, fd int, kind config.DeviceKind) (string, error) {
	buf := make([]byte, 128)
	nr := uint(0x13) // JSIOCGNAME
	typ := uint('j')
	if kind == config.KindEvent {
		nr = 0x06 // EVIOCGNAME
		typ = uint('E')
	}
	req := uint(2)<<30 | uint(len(buf))<<16 | typ<<8 | nr
	n, err := ip.Ioctl(fd, req, buf)
	if err != nil {
		return "", err
	}
	return string(buf[:n]), nil
}

// deviceCounts issues the joystick count ioctls, which both device kinds
// answer.
func deviceCounts(ip *interposer.Interposer, fd int) (axes, buttons int, err error) {
	arg := make([]byte, 1)
	if _, err = ip.Ioctl(fd, uint(2)<<30|uint(1)<<16|uint('j')<<8|0x11, arg); err != nil {
		return 0, 0, err
	}
	axes = int(arg[0])
	if _, err = ip.Ioctl(fd, uint(2)<<30|uint(1)<<16|uint('j')<<8|0x12, arg); err != nil {
		return 0, 0, err
	}
	return axes, int(arg[0]), nil
}

// stream prints decoded events until the context is canceled. Read timeouts
// are the idle heartbeat, not an error.
func stream(ctx context.Context, ip *interposer.Interposer, fd int, path string, kind config.DeviceKind) error {
	size := protocol.JSEventSize
	if kind == config.KindEvent {
		size = protocol.InputEventSize
	}
	buf := make([]byte, size)

	for {
		if ctx.Err() != nil {
			return nil
		}
		n, err := ip.Read(fd, buf)
		switch {
		case err == unix.ETIMEDOUT || err == unix.EAGAIN:
			continue
		case err != nil:
			return utils.MakeError("read %s: %s", path, err)
		case n == 0:
			joylog.Infof("%s: peer closed the event stream", path)
			return nil
		}

		if kind == config.KindJoystick {
			ev, err := protocol.DecodeJSEvent(buf)
			if err != nil {
				return err
			}
			fmt.Printf("%s: t=%d type=%#02x number=%d value=%d\n", path, ev.Time, ev.Type, ev.Number, ev.Value)
		} else {
			ev, err := protocol.DecodeInputEvent(buf)
			if err != nil {
				return err
			}
			fmt.Printf("%s: t=%d.%06d type=%#04x code=%#04x value=%d\n", path, ev.Sec, ev.Usec, ev.Type, ev.Code, ev.Value)
		}
	}
}
