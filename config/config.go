/*
Package config holds the interposed-device table and the timeout knobs.

The default table is part of the socket protocol, not site configuration: the
peer creates its sockets at these exact paths, and applications open these
exact device nodes. A TOML file named by the JS_INTERPOSER_CONFIG environment
variable can override the table (and the timeouts) for nonstandard setups, but
the slot capacity stays fixed.
*/
package config // import "github.com/selkies-project/joystick-interposer/config"

import (
	"os"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/selkies-project/joystick-interposer/utils"
)

// DeviceKind distinguishes the two ioctl/event-layout families a slot
// emulates.
type DeviceKind int

const (
	// KindJoystick is a classic /dev/input/jsX style device.
	KindJoystick DeviceKind = iota
	// KindEvent is a generic-input /dev/input/eventX style device.
	KindEvent
)

// String returns the TOML spelling of the kind.
func (k DeviceKind) String() string {
	if k == KindJoystick {
		return "js"
	}
	return "event"
}

// MaxDevices is the fixed slot capacity: four joystick-style plus four
// event-style devices. Slots are statically allocated and never grow.
const MaxDevices = 8

// DeviceMapping pairs the device path an application opens with the unix
// socket the peer serves it on.
type DeviceMapping struct {
	Path   string `toml:"path"`
	Socket string `toml:"socket"`
	Kind   string `toml:"kind"` // "js" or "event"
}

// Config is the full interposer configuration.
type Config struct {
	// ConnectTimeoutMS bounds the total wait for a peer socket to start
	// listening before open() fails.
	ConnectTimeoutMS int `toml:"connect_timeout_ms"`
	// ReadTimeoutMS bounds the wait for the remainder of an event once a
	// read has committed to delivering one.
	ReadTimeoutMS int `toml:"read_timeout_ms"`

	Devices []DeviceMapping `toml:"device"`
}

// EnvConfigFile names the environment variable holding the optional TOML
// override file path.
const EnvConfigFile = "JS_INTERPOSER_CONFIG"

// DefaultConfig returns the compiled-in device table and timeouts. The event
// device numbers are deliberately high so they never collide with real
// devices on the session host.
func DefaultConfig() *Config {
	return &Config{
		ConnectTimeoutMS: 250,
		ReadTimeoutMS:    2000,
		Devices: []DeviceMapping{
			{Path: "/dev/input/js0", Socket: "/tmp/selkies_js0.sock", Kind: "js"},
			{Path: "/dev/input/js1", Socket: "/tmp/selkies_js1.sock", Kind: "js"},
			{Path: "/dev/input/js2", Socket: "/tmp/selkies_js2.sock", Kind: "js"},
			{Path: "/dev/input/js3", Socket: "/tmp/selkies_js3.sock", Kind: "js"},
			{Path: "/dev/input/event1000", Socket: "/tmp/selkies_event1000.sock", Kind: "event"},
			{Path: "/dev/input/event1001", Socket: "/tmp/selkies_event1001.sock", Kind: "event"},
			{Path: "/dev/input/event1002", Socket: "/tmp/selkies_event1002.sock", Kind: "event"},
			{Path: "/dev/input/event1003", Socket: "/tmp/selkies_event1003.sock", Kind: "event"},
		},
	}
}

// Load returns the effective configuration: the defaults, overlaid with the
// TOML file named by JS_INTERPOSER_CONFIG if one is set. A file that names a
// device list replaces the default table entirely.
func Load() (*Config, error) {
	cfg := DefaultConfig()

	path := os.Getenv(EnvConfigFile)
	if path == "" {
		return cfg, nil
	}

	overlay := &Config{}
	if _, err := toml.DecodeFile(path, overlay); err != nil {
		return nil, utils.MakeError("failed to read interposer config %s: %s", path, err)
	}

	if overlay.ConnectTimeoutMS > 0 {
		cfg.ConnectTimeoutMS = overlay.ConnectTimeoutMS
	}
	if overlay.ReadTimeoutMS > 0 {
		cfg.ReadTimeoutMS = overlay.ReadTimeoutMS
	}
	if len(overlay.Devices) > 0 {
		cfg.Devices = overlay.Devices
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the device table against the fixed slot capacity and the
// kind vocabulary.
func (c *Config) Validate() error {
	if len(c.Devices) > MaxDevices {
		return utils.MakeError("too many interposed devices: got %d, the slot table holds %d", len(c.Devices), MaxDevices)
	}
	seen := make(map[string]bool)
	for _, d := range c.Devices {
		if d.Path == "" || d.Socket == "" {
			return utils.MakeError("device mapping must set both path and socket: %+v", d)
		}
		if d.Kind != "js" && d.Kind != "event" {
			return utils.MakeError("unknown device kind %q for %s: want \"js\" or \"event\"", d.Kind, d.Path)
		}
		if seen[d.Path] {
			return utils.MakeError("duplicate device path %s", d.Path)
		}
		seen[d.Path] = true
	}
	return nil
}

// DeviceKind returns the typed kind of a mapping. Call Validate first; an
// unknown string maps to KindEvent.
func (d *DeviceMapping) DeviceKind() DeviceKind {
	if d.Kind == "js" {
		return KindJoystick
	}
	return KindEvent
}

// ConnectTimeout returns the connect deadline as a duration.
func (c *Config) ConnectTimeout() time.Duration {
	return time.Duration(c.ConnectTimeoutMS) * time.Millisecond
}

// ReadTimeout returns the event-read deadline as a duration.
func (c *Config) ReadTimeout() time.Duration {
	return time.Duration(c.ReadTimeoutMS) * time.Millisecond
}
