/*
Package registry holds the fixed table of interposed device slots. Slots are
statically allocated when the table is built and only ever reset in place:
a slot cycles between "not open" (FD == -1, zeroed configuration) and "open"
(live socket descriptor plus the configuration received during the handshake).

Each slot carries its own lock so that concurrent calls on different devices
never serialize against each other; the table itself is immutable after New.
*/
package registry // import "github.com/selkies-project/joystick-interposer/registry"

import (
	"sync"
	"sync/atomic"

	"github.com/selkies-project/joystick-interposer/config"
	"github.com/selkies-project/joystick-interposer/protocol"
	"github.com/selkies-project/joystick-interposer/utils"
)

// NoFD marks a slot without a live connection.
const NoFD = -1

// Slot is the per-device state for one interposed path. The Kind, path and
// Index fields are fixed at table construction; everything below the lock is
// connection state and must only be touched with the slot lock held.
type Slot struct {
	Kind       config.DeviceKind
	DevicePath string
	SocketPath string
	// Index is the position of this slot within its kind (e.g. the 2 of
	// the third event device). Surfaced through the evdev phys/uniq
	// queries.
	Index int

	// fd is the connected socket descriptor, or NoFD. It is read
	// atomically rather than under the slot lock so descriptor scans
	// across the table never wait behind a slot that is mid-read; writers
	// must hold the slot lock. The descriptor is exclusively owned by the
	// slot: the connection layer creates it and close-handling destroys
	// it.
	fd int32

	mu sync.Mutex

	// OpenFlags records the flags of the open() call that established the
	// connection. Frozen until the connection closes; reuse opens never
	// overwrite it.
	OpenFlags int
	// Tag is a short identifier for the current connection, used to
	// correlate log lines. Empty while not open.
	Tag string
	// Corr is the stored axis-correction record. Settable through the
	// correction ioctl at any time while open; never applied to events.
	Corr protocol.Correction
	// Config is the device description from the handshake. Only valid
	// while FD != NoFD; reads after a close observe the zeroed record.
	Config protocol.DeviceConfig
}

// NewSlot builds a slot in the "not open" state.
func NewSlot(kind config.DeviceKind, devicePath, socketPath string, index int) *Slot {
	return &Slot{
		Kind:       kind,
		DevicePath: devicePath,
		SocketPath: socketPath,
		Index:      index,
		fd:         NoFD,
	}
}

// Lock acquires the slot lock.
func (s *Slot) Lock() { s.mu.Lock() }

// Unlock releases the slot lock.
func (s *Slot) Unlock() { s.mu.Unlock() }

// FD returns the connected socket descriptor, or NoFD. It may be read
// without the slot lock; the answer is point-in-time and callers acting on it
// must re-check under the lock.
func (s *Slot) FD() int {
	return int(atomic.LoadInt32(&s.fd))
}

// SetFD publishes the connected descriptor. The slot lock must be held.
func (s *Slot) SetFD(fd int) {
	atomic.StoreInt32(&s.fd, int32(fd))
}

// Open reports whether the slot has a live connection. The slot lock must be
// held.
func (s *Slot) Open() bool {
	return s.FD() != NoFD
}

// Reset returns the slot to the "not open" state, zeroing everything the
// handshake or the application set. The slot lock must be held. The caller is
// responsible for closing the descriptor itself.
func (s *Slot) Reset() {
	s.SetFD(NoFD)
	s.OpenFlags = 0
	s.Tag = ""
	s.Corr = protocol.Correction{}
	s.Config = protocol.DeviceConfig{}
}

// EventSize returns the fixed on-wire size of one event record of this
// slot's kind.
func (s *Slot) EventSize() int {
	if s.Kind == config.KindJoystick {
		return protocol.JSEventSize
	}
	return protocol.InputEventSize
}

// Registry is the process-wide slot table.
type Registry struct {
	slots []*Slot
}

// New builds the slot table from the device configuration. The table size is
// bounded by config.MaxDevices and fixed for the life of the process.
func New(cfg *config.Config) (*Registry, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	r := &Registry{}
	kindCount := make(map[config.DeviceKind]int)
	for _, d := range cfg.Devices {
		kind := d.DeviceKind()
		r.slots = append(r.slots, NewSlot(kind, d.Path, d.Socket, kindCount[kind]))
		kindCount[kind]++
	}
	if len(r.slots) == 0 {
		return nil, utils.MakeError("device table is empty; nothing to interpose")
	}
	return r, nil
}

// ByPath returns the slot for a device path, or nil if the path is not
// interposed.
func (r *Registry) ByPath(path string) *Slot {
	for _, s := range r.slots {
		if s.DevicePath == path {
			return s
		}
	}
	return nil
}

// ByFD returns the slot currently bound to the descriptor, or nil. The scan
// takes no slot locks, so it stays responsive while another slot is held
// across a bounded read; the result is a point-in-time answer and callers
// must re-check FD under the slot lock before acting on it.
func (r *Registry) ByFD(fd int) *Slot {
	if fd < 0 {
		return nil
	}
	for _, s := range r.slots {
		if s.FD() == fd {
			return s
		}
	}
	return nil
}

// Slots returns the slot table.
func (r *Registry) Slots() []*Slot {
	return r.slots
}
