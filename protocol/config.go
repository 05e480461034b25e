package protocol // import "github.com/selkies-project/joystick-interposer/protocol"

import (
	"bytes"
	"encoding/binary"

	"github.com/selkies-project/joystick-interposer/utils"
)

// Capacities of the configuration record. These are compile-time bounds: the
// decoder clamps the peer's counts to them, so no later copy can be sized by
// untrusted data.
const (
	NameMaxLen = 255 // includes the terminating NUL
	MaxButtons = 512
	MaxAxes    = 64
)

// Byte offsets of the configuration record. The one-byte gap after the name
// and the six trailing bytes are alignment padding in the C layout, kept so
// the record is the same size on 32- and 64-bit builds.
const (
	configNameOff    = 0
	configVendorOff  = 256 // name[255] + 1 pad byte
	configProductOff = 258
	configVersionOff = 260
	configNumBtnsOff = 262
	configNumAxesOff = 264
	configBtnMapOff  = 266
	configAxisMapOff = configBtnMapOff + 2*MaxButtons
	configPadOff     = configAxisMapOff + MaxAxes

	// ConfigRecordSize is the exact on-wire size of a device configuration
	// record: 1360 bytes.
	ConfigRecordSize = configPadOff + 6
)

// DeviceConfig is the device description received from the peer during the
// handshake. It is immutable for the lifetime of a connection.
type DeviceConfig struct {
	// Name is the display name, already NUL-stripped. Bounded to
	// NameMaxLen-1 visible characters even if the peer failed to terminate
	// its encoding.
	Name string

	Vendor  uint16
	Product uint16
	Version uint16

	// NumButtons and NumAxes bound the valid prefixes of ButtonMap and
	// AxisMap. The decoder guarantees they never exceed the array
	// capacities.
	NumButtons uint16
	NumAxes    uint16

	// ButtonMap maps a logical button index to a kernel key code.
	ButtonMap [MaxButtons]uint16
	// AxisMap maps a logical axis index to a kernel absolute-axis code.
	AxisMap [MaxAxes]uint8
}

// DecodeDeviceConfig parses one configuration record. The input must hold at
// least ConfigRecordSize bytes. A name the peer failed to NUL-terminate is
// repaired by truncation; oversized counts are clamped to the map capacities.
func DecodeDeviceConfig(b []byte) (DeviceConfig, error) {
	var cfg DeviceConfig
	if len(b) < ConfigRecordSize {
		return cfg, utils.MakeError("device configuration record too short: got %d bytes, need %d", len(b), ConfigRecordSize)
	}

	name := b[configNameOff : configNameOff+NameMaxLen]
	if i := bytes.IndexByte(name, 0); i >= 0 {
		cfg.Name = string(name[:i])
	} else {
		// Peer did not terminate the name within the field; force
		// termination at max length - 1.
		cfg.Name = string(name[:NameMaxLen-1])
	}

	cfg.Vendor = binary.LittleEndian.Uint16(b[configVendorOff:])
	cfg.Product = binary.LittleEndian.Uint16(b[configProductOff:])
	cfg.Version = binary.LittleEndian.Uint16(b[configVersionOff:])
	cfg.NumButtons = binary.LittleEndian.Uint16(b[configNumBtnsOff:])
	cfg.NumAxes = binary.LittleEndian.Uint16(b[configNumAxesOff:])

	if cfg.NumButtons > MaxButtons {
		cfg.NumButtons = MaxButtons
	}
	if cfg.NumAxes > MaxAxes {
		cfg.NumAxes = MaxAxes
	}

	for i := 0; i < MaxButtons; i++ {
		cfg.ButtonMap[i] = binary.LittleEndian.Uint16(b[configBtnMapOff+2*i:])
	}
	copy(cfg.AxisMap[:], b[configAxisMapOff:configAxisMapOff+MaxAxes])

	return cfg, nil
}

// EncodeDeviceConfig serializes a configuration record into exactly
// ConfigRecordSize bytes. Names longer than NameMaxLen-1 are truncated so the
// field is always NUL-terminated on the wire.
func EncodeDeviceConfig(cfg DeviceConfig) []byte {
	b := make([]byte, ConfigRecordSize)

	name := cfg.Name
	if len(name) > NameMaxLen-1 {
		name = name[:NameMaxLen-1]
	}
	copy(b[configNameOff:configNameOff+NameMaxLen-1], name)

	binary.LittleEndian.PutUint16(b[configVendorOff:], cfg.Vendor)
	binary.LittleEndian.PutUint16(b[configProductOff:], cfg.Product)
	binary.LittleEndian.PutUint16(b[configVersionOff:], cfg.Version)
	binary.LittleEndian.PutUint16(b[configNumBtnsOff:], cfg.NumButtons)
	binary.LittleEndian.PutUint16(b[configNumAxesOff:], cfg.NumAxes)

	for i := 0; i < MaxButtons; i++ {
		binary.LittleEndian.PutUint16(b[configBtnMapOff+2*i:], cfg.ButtonMap[i])
	}
	copy(b[configAxisMapOff:configAxisMapOff+MaxAxes], cfg.AxisMap[:])

	return b
}

// DisplayName returns the name to surface through ioctl queries: the peer's
// configured name, or the shared fake-udev identity when the peer sent none.
func (cfg *DeviceConfig) DisplayName() string {
	if cfg.Name == "" {
		return DefaultDeviceName
	}
	return cfg.Name
}

// IDVendor returns the vendor id for the evdev id query, defaulting when the
// peer sent zero.
func (cfg *DeviceConfig) IDVendor() uint16 {
	if cfg.Vendor == 0 {
		return DefaultVendorID
	}
	return cfg.Vendor
}

// IDProduct returns the product id for the evdev id query, defaulting when
// the peer sent zero.
func (cfg *DeviceConfig) IDProduct() uint16 {
	if cfg.Product == 0 {
		return DefaultProductID
	}
	return cfg.Product
}

// IDVersion returns the version id for the evdev id query, defaulting when
// the peer sent zero.
func (cfg *DeviceConfig) IDVersion() uint16 {
	if cfg.Version == 0 {
		return DefaultVersionID
	}
	return cfg.Version
}
