package protocol // import "github.com/selkies-project/joystick-interposer/protocol"

import (
	"encoding/binary"

	"github.com/selkies-project/joystick-interposer/utils"
)

// JSEventSize is the on-wire size of one classic joystick event. The js_event
// struct has no long-sized fields, so this is the same on every architecture.
const JSEventSize = 8

// InputEventSize is the on-wire size of one evdev input event for the local
// architecture: two C-long time fields followed by type, code and value. It
// must be computed from WordSize, not assumed, because the peer switches field
// widths based on the handshake's architecture byte.
const InputEventSize = 2*WordSize + 8

// JSEvent is one classic joystick event record.
type JSEvent struct {
	Time   uint32 // event timestamp in milliseconds
	Value  int16
	Type   uint8
	Number uint8
}

// EncodeJSEvent writes the event into b, which must hold at least JSEventSize
// bytes.
func EncodeJSEvent(b []byte, e JSEvent) error {
	if len(b) < JSEventSize {
		return utils.MakeError("buffer too small for js event: got %d bytes, need %d", len(b), JSEventSize)
	}
	binary.LittleEndian.PutUint32(b[0:], e.Time)
	binary.LittleEndian.PutUint16(b[4:], uint16(e.Value))
	b[6] = e.Type
	b[7] = e.Number
	return nil
}

// DecodeJSEvent parses one joystick event record from b.
func DecodeJSEvent(b []byte) (JSEvent, error) {
	var e JSEvent
	if len(b) < JSEventSize {
		return e, utils.MakeError("js event record too short: got %d bytes, need %d", len(b), JSEventSize)
	}
	e.Time = binary.LittleEndian.Uint32(b[0:])
	e.Value = int16(binary.LittleEndian.Uint16(b[4:]))
	e.Type = b[6]
	e.Number = b[7]
	return e, nil
}

// InputEvent is one evdev input event record. Sec and Usec are stored as
// int64 regardless of architecture; the codec narrows them to the local long
// width on the wire.
type InputEvent struct {
	Sec   int64
	Usec  int64
	Type  uint16
	Code  uint16
	Value int32
}

func putLong(b []byte, v int64) {
	if WordSize == 8 {
		binary.LittleEndian.PutUint64(b, uint64(v))
	} else {
		binary.LittleEndian.PutUint32(b, uint32(v))
	}
}

func getLong(b []byte) int64 {
	if WordSize == 8 {
		return int64(binary.LittleEndian.Uint64(b))
	}
	return int64(int32(binary.LittleEndian.Uint32(b)))
}

// EncodeInputEvent writes the event into b, which must hold at least
// InputEventSize bytes.
func EncodeInputEvent(b []byte, e InputEvent) error {
	if len(b) < InputEventSize {
		return utils.MakeError("buffer too small for input event: got %d bytes, need %d", len(b), InputEventSize)
	}
	putLong(b[0:], e.Sec)
	putLong(b[WordSize:], e.Usec)
	binary.LittleEndian.PutUint16(b[2*WordSize:], e.Type)
	binary.LittleEndian.PutUint16(b[2*WordSize+2:], e.Code)
	binary.LittleEndian.PutUint32(b[2*WordSize+4:], uint32(e.Value))
	return nil
}

// DecodeInputEvent parses one evdev event record from b.
func DecodeInputEvent(b []byte) (InputEvent, error) {
	var e InputEvent
	if len(b) < InputEventSize {
		return e, utils.MakeError("input event record too short: got %d bytes, need %d", len(b), InputEventSize)
	}
	e.Sec = getLong(b[0:])
	e.Usec = getLong(b[WordSize:])
	e.Type = binary.LittleEndian.Uint16(b[2*WordSize:])
	e.Code = binary.LittleEndian.Uint16(b[2*WordSize+2:])
	e.Value = int32(binary.LittleEndian.Uint32(b[2*WordSize+4:]))
	return e, nil
}
