package ioctlemu

import (
	"bytes"
	"encoding/binary"
	"testing"

	"golang.org/x/sys/unix"

	"github.com/selkies-project/joystick-interposer/config"
	"github.com/selkies-project/joystick-interposer/protocol"
	"github.com/selkies-project/joystick-interposer/registry"
)

// ioR builds a read-direction ioctl request code.
func ioR(nr uint, size int) uint {
	return 2<<iocDirShift | uint(size)<<iocSizeShift | uint('j')<<iocTypeShift | nr
}

// ioW builds a write-direction ioctl request code.
func ioW(nr uint, size int) uint {
	return 1<<iocDirShift | uint(size)<<iocSizeShift | uint('j')<<iocTypeShift | nr
}

// evR builds a read-direction evdev request code.
func evR(nr uint, size int) uint {
	return 2<<iocDirShift | uint(size)<<iocSizeShift | uint('E')<<iocTypeShift | nr
}

// evW builds a write-direction evdev request code.
func evW(nr uint, size int) uint {
	return 1<<iocDirShift | uint(size)<<iocSizeShift | uint('E')<<iocTypeShift | nr
}

// testSlot builds an open joystick slot with an 11-button, 6-axis pad
// configuration.
func testSlot(kind config.DeviceKind) *registry.Slot {
	cfg := protocol.DeviceConfig{
		Name:       "Test Gamepad",
		Vendor:     0x045e,
		Product:    0x028e,
		Version:    0x0114,
		NumButtons: 11,
		NumAxes:    6,
	}
	btns := []uint16{0x130, 0x131, 0x133, 0x134, 0x136, 0x137, 0x13a, 0x13b, 0x13c, 0x13d, 0x13e}
	copy(cfg.ButtonMap[:], btns)
	axes := []uint8{absX, absY, absZ, absRZ, absHat0X, absHat0Y}
	copy(cfg.AxisMap[:], axes)

	slot := registry.NewSlot(kind, "/dev/input/js0", "/tmp/js0.sock", 0)
	slot.SetFD(42)
	slot.Config = cfg
	return slot
}

// TestJoystickVersion checks that the version query returns the fixed
// joystick driver protocol version.
func TestJoystickVersion(t *testing.T) {
	slot := testSlot(config.KindJoystick)
	arg := make([]byte, 4)
	ret, err := HandleJoystick(slot, ioR(jsNRVersion, 4), arg)
	if err != nil || ret != 0 {
		t.Fatalf("error in version query: Expected (0, nil), got (%d, %v)", ret, err)
	}
	if got := binary.LittleEndian.Uint32(arg); got != protocol.JSVersion {
		t.Fatalf("error in version value: Expected %#x, got %#x", uint32(protocol.JSVersion), got)
	}
}

// TestJoystickCounts checks the single-byte axis and button count queries.
func TestJoystickCounts(t *testing.T) {
	slot := testSlot(config.KindJoystick)

	arg := make([]byte, 1)
	if ret, err := HandleJoystick(slot, ioR(jsNRAxes, 1), arg); err != nil || ret != 0 {
		t.Fatalf("error in axis count query: Expected (0, nil), got (%d, %v)", ret, err)
	}
	if arg[0] != 6 {
		t.Fatalf("error in axis count: Expected 6, got %d", arg[0])
	}

	if ret, err := HandleJoystick(slot, ioR(jsNRButtons, 1), arg); err != nil || ret != 0 {
		t.Fatalf("error in button count query: Expected (0, nil), got (%d, %v)", ret, err)
	}
	if arg[0] != 11 {
		t.Fatalf("error in button count: Expected 11, got %d", arg[0])
	}
}

// TestJoystickName checks that the name query null-terminates and returns the
// visible length, including when the caller's buffer truncates the name.
func TestJoystickName(t *testing.T) {
	slot := testSlot(config.KindJoystick)

	arg := make([]byte, 64)
	ret, err := HandleJoystick(slot, ioR(jsNRName, len(arg)), arg)
	if err != nil {
		t.Fatalf("error in name query: %v", err)
	}
	want := "Test Gamepad"
	if ret != len(want) {
		t.Fatalf("error in name length: Expected %d, got %d", len(want), ret)
	}
	if got := string(arg[:ret]); got != want {
		t.Fatalf("error in name: Expected %q, got %q", want, got)
	}
	if arg[ret] != 0 {
		t.Fatalf("error in name terminator: Expected NUL at %d, got %#x", ret, arg[ret])
	}

	small := make([]byte, 5)
	ret, err = HandleJoystick(slot, ioR(jsNRName, len(small)), small)
	if err != nil {
		t.Fatalf("error in truncated name query: %v", err)
	}
	if ret != 4 {
		t.Fatalf("error in truncated name length: Expected 4, got %d", ret)
	}
	if small[4] != 0 {
		t.Fatalf("error in truncated name terminator: Expected NUL at 4, got %#x", small[4])
	}
}

// TestJoystickNameFallback checks that a connection whose peer sent no name
// still answers the name query with the shared default identity.
func TestJoystickNameFallback(t *testing.T) {
	slot := testSlot(config.KindJoystick)
	slot.Config.Name = ""

	arg := make([]byte, 64)
	ret, err := HandleJoystick(slot, ioR(jsNRName, len(arg)), arg)
	if err != nil {
		t.Fatalf("error in name query: %v", err)
	}
	if got := string(arg[:ret]); got != protocol.DefaultDeviceName {
		t.Fatalf("error in fallback name: Expected %q, got %q", protocol.DefaultDeviceName, got)
	}
}

// TestJoystickCorrectionRoundTrip checks that a set-correction followed by a
// get-correction returns byte-identical data.
func TestJoystickCorrectionRoundTrip(t *testing.T) {
	slot := testSlot(config.KindJoystick)

	in := make([]byte, protocol.CorrectionSize)
	for i := range in {
		in[i] = byte(i * 7)
	}
	if ret, err := HandleJoystick(slot, ioW(jsNRSetCorr, protocol.CorrectionSize), in); err != nil || ret != 0 {
		t.Fatalf("error in set-correction: Expected (0, nil), got (%d, %v)", ret, err)
	}

	out := make([]byte, protocol.CorrectionSize)
	if ret, err := HandleJoystick(slot, ioR(jsNRGetCorr, protocol.CorrectionSize), out); err != nil || ret != 0 {
		t.Fatalf("error in get-correction: Expected (0, nil), got (%d, %v)", ret, err)
	}
	if !bytes.Equal(in, out) {
		t.Fatalf("error in correction round trip: Expected % x, got % x", in, out)
	}
}

// TestJoystickSetMapsRefused checks that axis-map and button-map writes are
// refused with EPERM since the layout is owned by the peer.
func TestJoystickSetMapsRefused(t *testing.T) {
	slot := testSlot(config.KindJoystick)

	arg := make([]byte, 64)
	if _, err := HandleJoystick(slot, ioW(jsNRSetAxisMap, len(arg)), arg); err != unix.EPERM {
		t.Fatalf("error in set-axis-map refusal: Expected EPERM, got %v", err)
	}
	if _, err := HandleJoystick(slot, ioW(jsNRSetBtnMap, len(arg)), arg); err != unix.EPERM {
		t.Fatalf("error in set-button-map refusal: Expected EPERM, got %v", err)
	}
}

// TestJoystickGetMaps checks the axis/button map reads, including the
// invalid-argument failure with nothing written for undersized buffers.
func TestJoystickGetMaps(t *testing.T) {
	slot := testSlot(config.KindJoystick)

	axes := make([]byte, 64)
	if ret, err := HandleJoystick(slot, ioR(jsNRGetAxisMap, len(axes)), axes); err != nil || ret != 0 {
		t.Fatalf("error in get-axis-map: Expected (0, nil), got (%d, %v)", ret, err)
	}
	if !bytes.Equal(axes[:6], slot.Config.AxisMap[:6]) {
		t.Fatalf("error in axis map: Expected % x, got % x", slot.Config.AxisMap[:6], axes[:6])
	}

	btns := make([]byte, 2*11)
	if ret, err := HandleJoystick(slot, ioR(jsNRGetBtnMap, len(btns)), btns); err != nil || ret != 0 {
		t.Fatalf("error in get-button-map: Expected (0, nil), got (%d, %v)", ret, err)
	}
	if got := binary.LittleEndian.Uint16(btns[0:]); got != 0x130 {
		t.Fatalf("error in button map entry 0: Expected %#x, got %#x", 0x130, got)
	}
	if got := binary.LittleEndian.Uint16(btns[20:]); got != 0x13e {
		t.Fatalf("error in button map entry 10: Expected %#x, got %#x", 0x13e, got)
	}

	short := make([]byte, 5)
	if _, err := HandleJoystick(slot, ioR(jsNRGetAxisMap, len(short)), short); err != unix.EINVAL {
		t.Fatalf("error in short axis-map buffer: Expected EINVAL, got %v", err)
	}
	for i, b := range short {
		if b != 0 {
			t.Fatalf("error in short axis-map buffer contents: Expected byte %d untouched, got %#x", i, b)
		}
	}
	if _, err := HandleJoystick(slot, ioR(jsNRGetBtnMap, 21), make([]byte, 21)); err != unix.EINVAL {
		t.Fatalf("error in short button-map buffer: Expected EINVAL, got %v", err)
	}
}

// TestJoystickUnknownRequest checks that anything outside the joystick table
// fails with ENOTTY.
func TestJoystickUnknownRequest(t *testing.T) {
	slot := testSlot(config.KindJoystick)
	if _, err := HandleJoystick(slot, ioR(0x55, 4), make([]byte, 4)); err != unix.ENOTTY {
		t.Fatalf("error in unknown request: Expected ENOTTY, got %v", err)
	}
}

// TestEvdevID checks the device-id query fields.
func TestEvdevID(t *testing.T) {
	slot := testSlot(config.KindEvent)
	arg := make([]byte, inputIDSize)
	if ret, err := HandleEvdev(slot, evR(evNRID, inputIDSize), arg); err != nil || ret != 0 {
		t.Fatalf("error in id query: Expected (0, nil), got (%d, %v)", ret, err)
	}
	if got := binary.LittleEndian.Uint16(arg[0:]); got != protocol.BusUSB {
		t.Fatalf("error in bus type: Expected %#x, got %#x", uint16(protocol.BusUSB), got)
	}
	if got := binary.LittleEndian.Uint16(arg[2:]); got != 0x045e {
		t.Fatalf("error in vendor id: Expected %#x, got %#x", 0x045e, got)
	}
	if got := binary.LittleEndian.Uint16(arg[4:]); got != 0x028e {
		t.Fatalf("error in product id: Expected %#x, got %#x", 0x028e, got)
	}
	if got := binary.LittleEndian.Uint16(arg[6:]); got != 0x0114 {
		t.Fatalf("error in version id: Expected %#x, got %#x", 0x0114, got)
	}
}

// TestEvdevVersion checks the driver version query.
func TestEvdevVersion(t *testing.T) {
	slot := testSlot(config.KindEvent)
	arg := make([]byte, 4)
	if ret, err := HandleEvdev(slot, evR(evNRVersion, 4), arg); err != nil || ret != 0 {
		t.Fatalf("error in version query: Expected (0, nil), got (%d, %v)", ret, err)
	}
	if got := binary.LittleEndian.Uint32(arg); got != protocol.EVVersion {
		t.Fatalf("error in version value: Expected %#x, got %#x", uint32(protocol.EVVersion), got)
	}
}

// TestEvdevAbsInfo checks the synthesized per-axis calibration classes:
// sticks, triggers and hats each get their own fixed range.
func TestEvdevAbsInfo(t *testing.T) {
	slot := testSlot(config.KindEvent)

	check := func(code uint, wantMin, wantMax, wantFuzz, wantFlat int32) {
		t.Helper()
		arg := make([]byte, absInfoSize)
		if ret, err := HandleEvdev(slot, evR(evNRAbsBase+code, absInfoSize), arg); err != nil || ret != 0 {
			t.Fatalf("error in abs info query for %#x: Expected (0, nil), got (%d, %v)", code, ret, err)
		}
		if got := int32(binary.LittleEndian.Uint32(arg[4:])); got != wantMin {
			t.Fatalf("error in abs %#x minimum: Expected %d, got %d", code, wantMin, got)
		}
		if got := int32(binary.LittleEndian.Uint32(arg[8:])); got != wantMax {
			t.Fatalf("error in abs %#x maximum: Expected %d, got %d", code, wantMax, got)
		}
		if got := int32(binary.LittleEndian.Uint32(arg[12:])); got != wantFuzz {
			t.Fatalf("error in abs %#x fuzz: Expected %d, got %d", code, wantFuzz, got)
		}
		if got := int32(binary.LittleEndian.Uint32(arg[16:])); got != wantFlat {
			t.Fatalf("error in abs %#x flat: Expected %d, got %d", code, wantFlat, got)
		}
	}

	check(absX, -32767, 32767, 16, 128)
	check(absRY, -32767, 32767, 16, 128)
	check(absZ, 0, 255, 0, 0)
	check(absRZ, 0, 255, 0, 0)
	check(absHat0X, -1, 1, 0, 0)
	check(absHat0Y, -1, 1, 0, 0)
	// An axis outside the trigger/hat classes falls back to the stick range.
	check(0x28, -32767, 32767, 16, 128)
}

// TestEvdevKeyBits checks the concrete capability scenario: 11 configured
// buttons queried with a 32-byte buffer yield exactly those 11 bits.
func TestEvdevKeyBits(t *testing.T) {
	slot := testSlot(config.KindEvent)

	arg := make([]byte, 32)
	ret, err := HandleEvdev(slot, evR(evNRBitBase+evKey, len(arg)), arg)
	if err != nil {
		t.Fatalf("error in key bitmap query: %v", err)
	}
	if ret != len(arg) {
		t.Fatalf("error in key bitmap length: Expected %d, got %d", len(arg), ret)
	}

	want := make([]byte, 32)
	for i := 0; i < int(slot.Config.NumButtons); i++ {
		code := int(slot.Config.ButtonMap[i])
		want[code/8] |= 1 << (uint(code) % 8)
	}
	if !bytes.Equal(arg, want) {
		t.Fatalf("error in key bitmap: Expected % x, got % x", want, arg)
	}

	bits := 0
	for _, b := range arg {
		for ; b != 0; b &= b - 1 {
			bits++
		}
	}
	if bits != 11 {
		t.Fatalf("error in key bitmap population: Expected 11 bits, got %d", bits)
	}
}

// TestEvdevAbsBits checks that the abs bitmap is derived from the configured
// axis map.
func TestEvdevAbsBits(t *testing.T) {
	slot := testSlot(config.KindEvent)

	arg := make([]byte, 8)
	if ret, err := HandleEvdev(slot, evR(evNRBitBase+evAbs, len(arg)), arg); err != nil || ret != len(arg) {
		t.Fatalf("error in abs bitmap query: Expected (%d, nil), got (%d, %v)", len(arg), ret, err)
	}

	for _, code := range []int{absX, absY, absZ, absRZ, absHat0X, absHat0Y} {
		if arg[code/8]&(1<<(uint(code)%8)) == 0 {
			t.Fatalf("error in abs bitmap: Expected bit %#x set, got % x", code, arg)
		}
	}
	if arg[absRX/8]&(1<<absRX) != 0 {
		t.Fatalf("error in abs bitmap: Expected bit %#x clear, got % x", absRX, arg)
	}
}

// TestEvdevTypeBits checks that the event-type bitmap advertises sync, key,
// absolute and force-feedback capability and nothing else.
func TestEvdevTypeBits(t *testing.T) {
	slot := testSlot(config.KindEvent)

	arg := make([]byte, 4)
	if ret, err := HandleEvdev(slot, evR(evNRBitBase, len(arg)), arg); err != nil || ret != len(arg) {
		t.Fatalf("error in type bitmap query: Expected (%d, nil), got (%d, %v)", len(arg), ret, err)
	}
	want := make([]byte, 4)
	for _, bit := range []int{evSyn, evKey, evAbs, evFF} {
		want[bit/8] |= 1 << (uint(bit) % 8)
	}
	if !bytes.Equal(arg, want) {
		t.Fatalf("error in type bitmap: Expected % x, got % x", want, arg)
	}
}

// TestEvdevStrings checks the name, phys and uniq queries against the slot
// identity.
func TestEvdevStrings(t *testing.T) {
	slot := testSlot(config.KindEvent)
	slot.Index = 2

	arg := make([]byte, 64)
	ret, err := HandleEvdev(slot, evR(evNRName, len(arg)), arg)
	if err != nil {
		t.Fatalf("error in name query: %v", err)
	}
	if got := string(arg[:ret]); got != "Test Gamepad" {
		t.Fatalf("error in name: Expected %q, got %q", "Test Gamepad", got)
	}

	ret, err = HandleEvdev(slot, evR(evNRPhys, len(arg)), arg)
	if err != nil {
		t.Fatalf("error in phys query: %v", err)
	}
	if got := string(arg[:ret]); got != "virtual/input/selkies_ev2/phys" {
		t.Fatalf("error in phys: Expected %q, got %q", "virtual/input/selkies_ev2/phys", got)
	}

	ret, err = HandleEvdev(slot, evR(evNRUniq, len(arg)), arg)
	if err != nil {
		t.Fatalf("error in uniq query: %v", err)
	}
	if got := string(arg[:ret]); got != "SJI-EV2" {
		t.Fatalf("error in uniq: Expected %q, got %q", "SJI-EV2", got)
	}
}

// TestEvdevForceFeedback checks the effect lifecycle: upload assigns an id
// when the caller passes -1, remove succeeds, and the effect-count query
// reports the fixed capacity.
func TestEvdevForceFeedback(t *testing.T) {
	slot := testSlot(config.KindEvent)

	effect := make([]byte, 48)
	binary.LittleEndian.PutUint16(effect[2:], 0xffff) // id -1: assign one
	ret, err := HandleEvdev(slot, evW(evNRSendFF, len(effect)), effect)
	if err != nil {
		t.Fatalf("error in effect upload: %v", err)
	}
	if ret != 1 {
		t.Fatalf("error in assigned effect id: Expected 1, got %d", ret)
	}
	if got := int16(binary.LittleEndian.Uint16(effect[2:])); got != 1 {
		t.Fatalf("error in written-back effect id: Expected 1, got %d", got)
	}

	if ret, err := HandleEvdev(slot, evW(evNRRemoveFF, 4), nil); err != nil || ret != 0 {
		t.Fatalf("error in effect removal: Expected (0, nil), got (%d, %v)", ret, err)
	}

	count := make([]byte, 4)
	if ret, err := HandleEvdev(slot, evR(evNREffects, 4), count); err != nil || ret != 0 {
		t.Fatalf("error in effect count query: Expected (0, nil), got (%d, %v)", ret, err)
	}
	if got := binary.LittleEndian.Uint32(count); got != ffEffects {
		t.Fatalf("error in effect count: Expected %d, got %d", ffEffects, got)
	}
}

// TestEvdevGrab checks that grab and ungrab both succeed as no-ops.
func TestEvdevGrab(t *testing.T) {
	slot := testSlot(config.KindEvent)
	if ret, err := HandleEvdev(slot, evW(evNRGrab, 4), make([]byte, 4)); err != nil || ret != 0 {
		t.Fatalf("error in grab: Expected (0, nil), got (%d, %v)", ret, err)
	}
}

// TestEvdevJoystickDelegation checks that joystick-family requests on an
// evdev descriptor are answered by the joystick table.
func TestEvdevJoystickDelegation(t *testing.T) {
	slot := testSlot(config.KindEvent)

	arg := make([]byte, 1)
	if ret, err := HandleEvdev(slot, ioR(jsNRButtons, 1), arg); err != nil || ret != 0 {
		t.Fatalf("error in delegated button count query: Expected (0, nil), got (%d, %v)", ret, err)
	}
	if arg[0] != 11 {
		t.Fatalf("error in delegated button count: Expected 11, got %d", arg[0])
	}
}

// TestEvdevUnknownRequest checks that requests outside both tables fail with
// ENOTTY.
func TestEvdevUnknownRequest(t *testing.T) {
	slot := testSlot(config.KindEvent)
	if _, err := HandleEvdev(slot, evR(0x77, 4), make([]byte, 4)); err != unix.ENOTTY {
		t.Fatalf("error in unknown evdev request: Expected ENOTTY, got %v", err)
	}
	other := uint(2)<<iocDirShift | 4<<iocSizeShift | uint('x')<<iocTypeShift | 0x01
	if _, err := HandleEvdev(slot, other, make([]byte, 4)); err != unix.ENOTTY {
		t.Fatalf("error in foreign-family request: Expected ENOTTY, got %v", err)
	}
}
