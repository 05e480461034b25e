package ioctlemu

import (
	"encoding/binary"

	"golang.org/x/sys/unix"

	"github.com/selkies-project/joystick-interposer/joylog"
	"github.com/selkies-project/joystick-interposer/protocol"
	"github.com/selkies-project/joystick-interposer/registry"
	"github.com/selkies-project/joystick-interposer/utils"
)

// Evdev ioctl request numbers within the 'E' type family. The name, bitmap
// and abs-info requests are ranges keyed off a base number because the length
// or the queried code is folded into the request itself.
const (
	evNRVersion  = 0x01
	evNRID       = 0x02
	evNRName     = 0x06
	evNRPhys     = 0x07
	evNRUniq     = 0x08
	evNRProp     = 0x09
	evNRKeyState = 0x18
	evNRLEDState = 0x19
	evNRSwState  = 0x1b
	evNRBitBase  = 0x20
	evNRAbsBase  = 0x40
	evNRSendFF   = 0x80
	evNRRemoveFF = 0x81
	evNREffects  = 0x84
	evNRGrab     = 0x90
)

// absInfoSize is the size of struct input_absinfo: six 32-bit fields.
const absInfoSize = 24

// inputIDSize is the size of struct input_id: four 16-bit fields.
const inputIDSize = 8

// ffEffects is the concurrent force-feedback effect capacity reported to the
// application. Effects are acknowledged locally and never reach the peer, so
// one pretend slot is enough for rumble-probing games.
const ffEffects = 1

// HandleEvdev answers one evdev-family ioctl from the slot's stored
// configuration. The slot lock must be held. Joystick-family requests on an
// evdev descriptor are delegated to HandleJoystick for applications that
// probe event nodes with the classic joystick ioctls.
func HandleEvdev(slot *registry.Slot, req uint, arg []byte) (int, error) {
	switch reqType(req) {
	case 'j':
		return HandleJoystick(slot, req, arg)
	case 'E':
	default:
		joylog.Warningf("ioctl %#x with unexpected type %q on %s", req, reqType(req), slot.DevicePath)
		return -1, unix.ENOTTY
	}

	nr := reqNR(req)

	if nr >= evNRAbsBase && nr < evNRAbsBase+absCnt {
		return absInfo(slot, uint8(nr-evNRAbsBase), req, arg)
	}
	if nr >= evNRBitBase && nr < evNRBitBase+evMax {
		return capabilityBits(slot, int(nr-evNRBitBase), req, arg)
	}

	switch nr {
	case evNRVersion:
		if len(arg) < 4 || reqSize(req) < 4 {
			return -1, unix.EFAULT
		}
		binary.LittleEndian.PutUint32(arg, protocol.EVVersion)
		return 0, nil

	case evNRID:
		if len(arg) < inputIDSize || reqSize(req) < inputIDSize {
			return -1, unix.EFAULT
		}
		binary.LittleEndian.PutUint16(arg[0:], protocol.BusUSB)
		binary.LittleEndian.PutUint16(arg[2:], slot.Config.IDVendor())
		binary.LittleEndian.PutUint16(arg[4:], slot.Config.IDProduct())
		binary.LittleEndian.PutUint16(arg[6:], slot.Config.IDVersion())
		return 0, nil

	case evNRName:
		limit := argLimit(req, arg)
		if limit <= 0 {
			return -1, unix.EFAULT
		}
		return copyString(arg, limit, slot.Config.DisplayName()), nil

	case evNRPhys:
		limit := argLimit(req, arg)
		if limit <= 0 {
			return -1, unix.EFAULT
		}
		return copyString(arg, limit, utils.Sprintf("virtual/input/selkies_ev%d/phys", slot.Index)), nil

	case evNRUniq:
		limit := argLimit(req, arg)
		if limit <= 0 {
			return -1, unix.EFAULT
		}
		return copyString(arg, limit, utils.Sprintf("SJI-EV%d", slot.Index)), nil

	case evNRProp:
		limit := argLimit(req, arg)
		if limit <= 0 {
			return -1, unix.EFAULT
		}
		zeroFill(arg, limit)
		setBit(arg, inputPropPointingStick, limit)
		return 0, nil

	case evNRKeyState, evNRLEDState, evNRSwState:
		// All keys up, all LEDs off, all switches open.
		limit := argLimit(req, arg)
		if limit <= 0 {
			return -1, unix.EFAULT
		}
		zeroFill(arg, limit)
		return limit, nil

	case evNRGrab:
		// Single-writer by construction; grab and ungrab both succeed.
		return 0, nil

	case evNRSendFF:
		return uploadEffect(slot, arg)

	case evNRRemoveFF:
		return 0, nil

	case evNREffects:
		if len(arg) < 4 || reqSize(req) < 4 {
			return -1, unix.EFAULT
		}
		binary.LittleEndian.PutUint32(arg, ffEffects)
		return 0, nil
	}

	joylog.Warningf("unhandled evdev ioctl %#x (nr %#02x, size %d) on %s", req, nr, reqSize(req), slot.DevicePath)
	return -1, unix.ENOTTY
}

// absInfo fills an input_absinfo record with synthesized calibration for the
// queried axis. The peer protocol carries no per-axis calibration, so the
// ranges are fixed by axis class: full signed range for sticks, a byte range
// for triggers, three-state for hats.
func absInfo(slot *registry.Slot, code uint8, req uint, arg []byte) (int, error) {
	if len(arg) < absInfoSize || reqSize(req) < absInfoSize {
		return -1, unix.EFAULT
	}

	var min, max, fuzz, flat, res int32
	switch code {
	case absZ, absRZ:
		min, max, res = 0, 255, 1
	case absHat0X, absHat0Y:
		min, max = -1, 1
	default:
		// Sticks and anything unclassified get the full stick range.
		min, max, fuzz, flat, res = -32767, 32767, 16, 128, 1
	}

	binary.LittleEndian.PutUint32(arg[0:], 0) // current value: centered
	binary.LittleEndian.PutUint32(arg[4:], uint32(min))
	binary.LittleEndian.PutUint32(arg[8:], uint32(max))
	binary.LittleEndian.PutUint32(arg[12:], uint32(fuzz))
	binary.LittleEndian.PutUint32(arg[16:], uint32(flat))
	binary.LittleEndian.PutUint32(arg[20:], uint32(res))

	joylog.Debugf("abs info for axis %#02x on %s: min=%d max=%d fuzz=%d flat=%d", code, slot.DevicePath, min, max, fuzz, flat)
	return 0, nil
}

// capabilityBits answers an EVIOCGBIT-style query for one event type. Type 0
// advertises the supported event types; EV_KEY and EV_ABS bitmaps are derived
// from the configured maps; everything else reports no capability.
func capabilityBits(slot *registry.Slot, evType int, req uint, arg []byte) (int, error) {
	limit := argLimit(req, arg)
	if limit <= 0 {
		return -1, unix.EFAULT
	}
	zeroFill(arg, limit)

	switch evType {
	case 0:
		setBit(arg, evSyn, limit)
		setBit(arg, evKey, limit)
		setBit(arg, evAbs, limit)
		setBit(arg, evFF, limit)

	case evKey:
		for i := 0; i < int(slot.Config.NumButtons); i++ {
			code := int(slot.Config.ButtonMap[i])
			if code >= keyMax {
				joylog.Warningf("skipping out-of-range key code %#x at index %d on %s", code, i, slot.DevicePath)
				continue
			}
			setBit(arg, code, limit)
		}

	case evAbs:
		for i := 0; i < int(slot.Config.NumAxes); i++ {
			code := int(slot.Config.AxisMap[i])
			if code >= absMax {
				joylog.Warningf("skipping out-of-range abs code %#x at index %d on %s", code, i, slot.DevicePath)
				continue
			}
			setBit(arg, code, limit)
		}
	}
	return limit, nil
}

// uploadEffect acknowledges a force-feedback upload without forwarding it
// anywhere. The effect id lives at byte offset 2 of struct ff_effect; a
// caller-supplied -1 means "assign one", and the single pretend effect slot
// is id 1.
func uploadEffect(slot *registry.Slot, arg []byte) (int, error) {
	if len(arg) < 4 {
		return -1, unix.EFAULT
	}
	id := int16(binary.LittleEndian.Uint16(arg[2:]))
	if id == -1 {
		id = 1
		binary.LittleEndian.PutUint16(arg[2:], uint16(id))
	}
	joylog.Debugf("acknowledged force-feedback effect %d on %s", id, slot.DevicePath)
	return int(id), nil
}
