package profile

import (
	"context"
	"fmt"
	"sync"
)

// MemoryStore is an in-process Store used for tests and dry runs.
type MemoryStore struct {
	mu       sync.Mutex
	profiles map[string]Mode

	// FailCreate makes Create register the profile and then fail, like a
	// backend that dies half way.
	FailCreate error
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{profiles: make(map[string]Mode)}
}

func (m *MemoryStore) Exists(ctx context.Context, name string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.profiles[name]
	return ok, nil
}

func (m *MemoryStore) Create(ctx context.Context, name string, mode Mode, _ Owner) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.profiles[name]; ok {
		return fmt.Errorf("profile %q already exists", name)
	}
	m.profiles[name] = mode
	return m.FailCreate
}

func (m *MemoryStore) Delete(ctx context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.profiles, name)
	return nil
}

func (m *MemoryStore) ModeOf(ctx context.Context, name string) (Mode, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	mode, ok := m.profiles[name]
	if !ok {
		return Mode{}, fmt.Errorf("profile %q not found", name)
	}
	return mode, nil
}

// Names returns the registered profile names.
func (m *MemoryStore) Names() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make([]string, 0, len(m.profiles))
	for name := range m.profiles {
		names = append(names, name)
	}
	return names
}

// MemoryBroker is an in-process Broker used for tests and dry runs.
type MemoryBroker struct {
	mu         sync.Mutex
	running    bool
	configured []string

	// StartErr is returned by EnsureRunning when the broker is not running.
	StartErr error
}

func (b *MemoryBroker) Running(context.Context) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.running
}

func (b *MemoryBroker) EnsureRunning(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.running {
		return nil
	}
	if b.StartErr != nil {
		return b.StartErr
	}
	b.running = true
	return nil
}

func (b *MemoryBroker) Configure(ctx context.Context, name string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.running {
		return fmt.Errorf("broker not running")
	}
	b.configured = append(b.configured, name)
	return nil
}

// Configured returns the profiles attached to the broker, in order.
func (b *MemoryBroker) Configured() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.configured...)
}
