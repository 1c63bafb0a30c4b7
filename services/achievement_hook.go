package services

import (
	"context"
	"sync"
)

// AchievementHook is notified after a donor's order is paid. Implementations must
// not assume they run inside the checkout request; errors are only logged.
type AchievementHook interface {
	OnPurchaseCompleted(ctx context.Context, donorID uint, orderNumber string) error
}

type noopAchievementHook struct{}

func (noopAchievementHook) OnPurchaseCompleted(context.Context, uint, string) error { return nil }

// NoopAchievementHook returns a hook that does nothing
func NoopAchievementHook() AchievementHook { return noopAchievementHook{} }

// AchievementCall is one recorded hook invocation
type AchievementCall struct {
	DonorID     uint
	OrderNumber string
}

// MockAchievementHook records calls and can be told to fail or panic
type MockAchievementHook struct {
	mu    sync.Mutex
	calls []AchievementCall
	Err   error
	Panic bool
}

// OnPurchaseCompleted records the call
func (m *MockAchievementHook) OnPurchaseCompleted(_ context.Context, donorID uint, orderNumber string) error {
	m.mu.Lock()
	m.calls = append(m.calls, AchievementCall{DonorID: donorID, OrderNumber: orderNumber})
	m.mu.Unlock()

	if m.Panic {
		panic("achievement evaluation exploded")
	}
	return m.Err
}

// Calls returns a copy of the recorded calls
func (m *MockAchievementHook) Calls() []AchievementCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]AchievementCall, len(m.calls))
	copy(out, m.calls)
	return out
}
