/*
Package peermock implements a minimal in-process stand-in for the remote side
of a device socket: it listens on a unix socket, serves the configuration
handshake to each client, and lets tests feed event bytes or tear the
connection down at controlled points. It exists purely for testing.
*/
package peermock // import "github.com/selkies-project/joystick-interposer/internal/peermock"

import (
	"net"
	"sync"
	"time"

	"github.com/selkies-project/joystick-interposer/protocol"
	"github.com/selkies-project/joystick-interposer/utils"
)

// Peer is a mock device backend bound to one unix socket path.
type Peer struct {
	// Config is the device configuration served to every client.
	Config protocol.DeviceConfig

	// HandshakeDelay, when nonzero, is slept before the configuration
	// record is written, to exercise client-side handshake waiting.
	HandshakeDelay time.Duration

	// TruncateConfig, when nonzero, sends only that many bytes of the
	// configuration record and then closes the connection.
	TruncateConfig int

	listener net.Listener

	mu    sync.Mutex
	conns []*Conn
	done  chan struct{}
}

// Conn is one accepted client connection, after its handshake completed.
type Conn struct {
	nc   net.Conn
	Arch byte
}

// DefaultConfig returns a plausible gamepad configuration for tests: the
// canonical 11-button, 8-axis pad layout.
func DefaultConfig() protocol.DeviceConfig {
	cfg := protocol.DeviceConfig{
		Name:       "Test Gamepad",
		Vendor:     0x045e,
		Product:    0x028e,
		Version:    0x0114,
		NumButtons: 11,
		NumAxes:    8,
	}
	btns := []uint16{0x130, 0x131, 0x133, 0x134, 0x136, 0x137, 0x13a, 0x13b, 0x13c, 0x13d, 0x13e}
	copy(cfg.ButtonMap[:], btns)
	axes := []uint8{0x00, 0x01, 0x02, 0x03, 0x04, 0x05, 0x10, 0x11}
	copy(cfg.AxisMap[:], axes)
	return cfg
}

// Start listens on socketPath and begins serving handshakes in the
// background. Each accepted connection is handed its configuration record and
// has its architecture ack consumed before being parked for the test to use.
func Start(socketPath string, cfg protocol.DeviceConfig) (*Peer, error) {
	l, err := net.Listen("unix", socketPath)
	if err != nil {
		return nil, utils.MakeError("peermock listen on %s failed: %s", socketPath, err)
	}
	p := &Peer{Config: cfg, listener: l, done: make(chan struct{})}
	go p.acceptLoop()
	return p, nil
}

func (p *Peer) acceptLoop() {
	for {
		nc, err := p.listener.Accept()
		if err != nil {
			close(p.done)
			return
		}
		go p.serve(nc)
	}
}

func (p *Peer) serve(nc net.Conn) {
	if p.HandshakeDelay > 0 {
		time.Sleep(p.HandshakeDelay)
	}
	record := protocol.EncodeDeviceConfig(p.Config)
	if p.TruncateConfig > 0 && p.TruncateConfig < len(record) {
		nc.Write(record[:p.TruncateConfig])
		nc.Close()
		return
	}
	if _, err := nc.Write(record); err != nil {
		nc.Close()
		return
	}
	ack := make([]byte, 1)
	if _, err := nc.Read(ack); err != nil {
		nc.Close()
		return
	}
	c := &Conn{nc: nc, Arch: ack[0]}
	p.mu.Lock()
	p.conns = append(p.conns, c)
	p.mu.Unlock()
}

// WaitConn blocks until at least one client has completed its handshake and
// returns the most recent such connection, or nil if the timeout expires.
func (p *Peer) WaitConn(timeout time.Duration) *Conn {
	deadline := time.Now().Add(timeout)
	for {
		p.mu.Lock()
		n := len(p.conns)
		var c *Conn
		if n > 0 {
			c = p.conns[n-1]
		}
		p.mu.Unlock()
		if c != nil {
			return c
		}
		if time.Now().After(deadline) {
			return nil
		}
		time.Sleep(time.Millisecond)
	}
}

// Close stops the listener and closes every accepted connection.
func (p *Peer) Close() {
	p.listener.Close()
	p.mu.Lock()
	for _, c := range p.conns {
		c.nc.Close()
	}
	p.conns = nil
	p.mu.Unlock()
}

// SendJS writes one joystick event to the client.
func (c *Conn) SendJS(ev protocol.JSEvent) error {
	buf := make([]byte, protocol.JSEventSize)
	if err := protocol.EncodeJSEvent(buf, ev); err != nil {
		return err
	}
	_, err := c.nc.Write(buf)
	return err
}

// SendInput writes one raw input event to the client.
func (c *Conn) SendInput(ev protocol.InputEvent) error {
	buf := make([]byte, protocol.InputEventSize)
	if err := protocol.EncodeInputEvent(buf, ev); err != nil {
		return err
	}
	_, err := c.nc.Write(buf)
	return err
}

// SendRaw writes arbitrary bytes to the client, for truncation tests.
func (c *Conn) SendRaw(b []byte) error {
	_, err := c.nc.Write(b)
	return err
}

// Close tears down just this client connection.
func (c *Conn) Close() {
	c.nc.Close()
}
