package protocol // import "github.com/selkies-project/joystick-interposer/protocol"

import (
	"encoding/binary"

	"github.com/selkies-project/joystick-interposer/utils"
)

// CorrectionSize is the byte size of a js_corr record: eight 32-bit
// coefficients followed by precision and type.
const CorrectionSize = 8*4 + 2 + 2

// Correction is the joystick axis-correction record set and read back through
// the correction ioctls. The interposer stores it verbatim and never applies
// it to event data; the peer streams pre-corrected values.
type Correction struct {
	Coeff [8]int32
	Prec  int16
	Type  uint16
}

// EncodeCorrection writes the record into b, which must hold at least
// CorrectionSize bytes.
func EncodeCorrection(b []byte, c Correction) error {
	if len(b) < CorrectionSize {
		return utils.MakeError("buffer too small for correction record: got %d bytes, need %d", len(b), CorrectionSize)
	}
	for i, v := range c.Coeff {
		binary.LittleEndian.PutUint32(b[4*i:], uint32(v))
	}
	binary.LittleEndian.PutUint16(b[32:], uint16(c.Prec))
	binary.LittleEndian.PutUint16(b[34:], c.Type)
	return nil
}

// DecodeCorrection parses one correction record from b.
func DecodeCorrection(b []byte) (Correction, error) {
	var c Correction
	if len(b) < CorrectionSize {
		return c, utils.MakeError("correction record too short: got %d bytes, need %d", len(b), CorrectionSize)
	}
	for i := range c.Coeff {
		c.Coeff[i] = int32(binary.LittleEndian.Uint32(b[4*i:]))
	}
	c.Prec = int16(binary.LittleEndian.Uint16(b[32:]))
	c.Type = binary.LittleEndian.Uint16(b[34:])
	return c, nil
}
