package ioctlemu

import (
	"encoding/binary"

	"golang.org/x/sys/unix"

	"github.com/selkies-project/joystick-interposer/joylog"
	"github.com/selkies-project/joystick-interposer/protocol"
	"github.com/selkies-project/joystick-interposer/registry"
)

// Joystick ioctl request numbers within the 'j' type family.
const (
	jsNRVersion    = 0x01
	jsNRAxes       = 0x11
	jsNRButtons    = 0x12
	jsNRName       = 0x13
	jsNRSetCorr    = 0x21
	jsNRGetCorr    = 0x22
	jsNRSetAxisMap = 0x31
	jsNRGetAxisMap = 0x32
	jsNRSetBtnMap  = 0x33
	jsNRGetBtnMap  = 0x34
)

// HandleJoystick answers one joystick-family ioctl from the slot's stored
// configuration and correction record. The slot lock must be held. The return
// value and error follow the ioctl contract: a non-negative result on
// success, or a unix.Errno describing why the request was refused.
func HandleJoystick(slot *registry.Slot, req uint, arg []byte) (int, error) {
	if reqType(req) != 'j' {
		joylog.Warningf("non-joystick ioctl %#x (type %q) on %s", req, reqType(req), slot.DevicePath)
		return -1, unix.ENOTTY
	}

	switch reqNR(req) {
	case jsNRVersion:
		if len(arg) < 4 {
			return -1, unix.EFAULT
		}
		binary.LittleEndian.PutUint32(arg, protocol.JSVersion)
		return 0, nil

	case jsNRAxes:
		if len(arg) < 1 {
			return -1, unix.EFAULT
		}
		arg[0] = byte(slot.Config.NumAxes)
		return 0, nil

	case jsNRButtons:
		if len(arg) < 1 {
			return -1, unix.EFAULT
		}
		arg[0] = byte(slot.Config.NumButtons)
		return 0, nil

	case jsNRName:
		limit := argLimit(req, arg)
		if limit <= 0 {
			return -1, unix.EFAULT
		}
		n := copyString(arg, limit, slot.Config.DisplayName())
		return n, nil

	case jsNRSetCorr:
		if reqSize(req) != protocol.CorrectionSize || len(arg) < protocol.CorrectionSize {
			return -1, unix.EINVAL
		}
		corr, err := protocol.DecodeCorrection(arg)
		if err != nil {
			return -1, unix.EINVAL
		}
		// Stored for later retrieval only; events from the peer arrive
		// already corrected, so nothing is applied here.
		slot.Corr = corr
		return 0, nil

	case jsNRGetCorr:
		if reqSize(req) != protocol.CorrectionSize || len(arg) < protocol.CorrectionSize {
			return -1, unix.EINVAL
		}
		if err := protocol.EncodeCorrection(arg, slot.Corr); err != nil {
			return -1, unix.EINVAL
		}
		return 0, nil

	case jsNRSetAxisMap, jsNRSetBtnMap:
		joylog.Warningf("set-map ioctl %#x on %s refused; the device layout comes from the peer", req, slot.DevicePath)
		return -1, unix.EPERM

	case jsNRGetAxisMap:
		need := int(slot.Config.NumAxes)
		if reqSize(req) < need || len(arg) < need {
			joylog.Errorf("axis map request on %s too small: request size %d, buffer %d, need %d",
				slot.DevicePath, reqSize(req), len(arg), need)
			return -1, unix.EINVAL
		}
		copy(arg[:need], slot.Config.AxisMap[:need])
		return 0, nil

	case jsNRGetBtnMap:
		need := int(slot.Config.NumButtons) * 2
		if reqSize(req) < need || len(arg) < need {
			joylog.Errorf("button map request on %s too small: request size %d, buffer %d, need %d",
				slot.DevicePath, reqSize(req), len(arg), need)
			return -1, unix.EINVAL
		}
		for i := 0; i < int(slot.Config.NumButtons); i++ {
			binary.LittleEndian.PutUint16(arg[i*2:], slot.Config.ButtonMap[i])
		}
		return 0, nil
	}

	joylog.Warningf("unhandled joystick ioctl %#x (nr %#02x) on %s", req, reqNR(req), slot.DevicePath)
	return -1, unix.ENOTTY
}
