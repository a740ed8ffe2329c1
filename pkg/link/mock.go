package link

import (
	"context"
	"fmt"
	"net"
	"sync"
)

// Mock simulates a link stack. It records the stages it was asked to run
// and fails at FailAt when set.
type Mock struct {
	FailAt Stage
	Addr   AddressInfo

	mu    sync.Mutex
	calls []Stage
}

// Ensure Mock and WPA implement Stack.
var (
	_ Stack = (*Mock)(nil)
	_ Stack = (*WPA)(nil)
)

// NewMock creates a simulated stack that fails at failAt (empty = never).
func NewMock(failAt Stage) *Mock {
	return &Mock{
		FailAt: failAt,
		Addr: AddressInfo{
			Interface: "mock0",
			IP:        net.IPv4(127, 0, 0, 1).To4(),
			Mask:      net.CIDRMask(8, 32),
		},
	}
}

// Calls returns the stages run so far.
func (m *Mock) Calls() []Stage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Stage(nil), m.calls...)
}

func (m *Mock) run(s Stage) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls = append(m.calls, s)
	if m.FailAt == s {
		return fmt.Errorf("simulated %s failure", s)
	}
	return nil
}

func (m *Mock) Configure(ctx context.Context, creds Credentials) error {
	return m.run(StageConfigure)
}

func (m *Mock) Start(ctx context.Context) error {
	return m.run(StageStart)
}

func (m *Mock) Connect(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return m.run(StageAssociate)
}

func (m *Mock) WaitForAddress(ctx context.Context) (AddressInfo, error) {
	if err := m.run(StageAddress); err != nil {
		return AddressInfo{}, err
	}
	return m.Addr, nil
}
