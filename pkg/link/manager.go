// Package link brings the wireless link up and tracks its state.
//
// The Manager walks the stack through configure, start, associate and
// address assignment in that order and reports Connected only after the
// address is assigned. It never retries on its own; see Connect for the
// bounded retry wrapper.
package link

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"
)

// State is the connection state owned by the Manager.
type State int

const (
	Disconnected State = iota
	Connecting
	Connected
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Stage names a step of link bring-up.
type Stage string

const (
	StageConfigure Stage = "configure"
	StageStart     Stage = "start"
	StageAssociate Stage = "associate"
	StageAddress   Stage = "address-assignment"
)

// Credentials identify the network and authenticate to it.
type Credentials struct {
	SSID     string
	Password string
}

// AddressInfo is the IP configuration obtained from the network.
type AddressInfo struct {
	Interface string
	IP        net.IP
	Mask      net.IPMask
}

func (a AddressInfo) String() string {
	if a.IP == nil {
		return a.Interface + ": no address"
	}
	ones, _ := a.Mask.Size()
	return fmt.Sprintf("%s: %s/%d", a.Interface, a.IP, ones)
}

// Stack is the wireless link stack. Each call blocks until its stage
// resolves or fails.
type Stack interface {
	Configure(ctx context.Context, creds Credentials) error
	Start(ctx context.Context) error
	Connect(ctx context.Context) error
	WaitForAddress(ctx context.Context) (AddressInfo, error)
}

// ConnectError reports the stage at which bring-up failed.
type ConnectError struct {
	Stage Stage
	Err   error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("link %s failed: %v", e.Stage, e.Err)
}

func (e *ConnectError) Unwrap() error {
	return e.Err
}

// Manager supervises the link.
type Manager struct {
	stack            Stack
	creds            Credentials
	associateTimeout time.Duration
	log              *slog.Logger

	mu    sync.Mutex
	state State
	addr  AddressInfo
}

// NewManager creates a Manager. associateTimeout bounds the associate stage;
// zero leaves it to the stack, which may block indefinitely.
func NewManager(stack Stack, creds Credentials, associateTimeout time.Duration, log *slog.Logger) *Manager {
	if log == nil {
		log = slog.Default()
	}

	return &Manager{
		stack:            stack,
		creds:            creds,
		associateTimeout: associateTimeout,
		log:              log.With(slog.String("component", "link")),
		state:            Disconnected,
	}
}

// State returns the current connection state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// EnsureConnected brings the link up unless it is already Connected, in
// which case it returns the current address without touching the stack.
func (m *Manager) EnsureConnected(ctx context.Context) (AddressInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state == Connected {
		return m.addr, nil
	}

	m.state = Connecting
	m.log.Info("connecting", slog.String("ssid", m.creds.SSID))

	addr, err := m.bringUp(ctx)
	if err != nil {
		m.state = Disconnected
		m.log.Error("link bring-up failed", slog.Any("error", err))
		return AddressInfo{}, err
	}

	m.state = Connected
	m.addr = addr
	m.log.Info("link up", slog.String("address", addr.String()))

	return addr, nil
}

func (m *Manager) bringUp(ctx context.Context) (AddressInfo, error) {
	if err := m.stack.Configure(ctx, m.creds); err != nil {
		return AddressInfo{}, &ConnectError{Stage: StageConfigure, Err: err}
	}

	if err := m.stack.Start(ctx); err != nil {
		return AddressInfo{}, &ConnectError{Stage: StageStart, Err: err}
	}
	m.log.Debug("link started")

	if err := m.associate(ctx); err != nil {
		return AddressInfo{}, &ConnectError{Stage: StageAssociate, Err: err}
	}
	m.log.Debug("link associated")

	addr, err := m.stack.WaitForAddress(ctx)
	if err != nil {
		return AddressInfo{}, &ConnectError{Stage: StageAddress, Err: err}
	}

	return addr, nil
}

func (m *Manager) associate(ctx context.Context) error {
	if m.associateTimeout <= 0 {
		return m.stack.Connect(ctx)
	}

	ctx, cancel := context.WithTimeout(ctx, m.associateTimeout)
	defer cancel()
	return m.stack.Connect(ctx)
}
