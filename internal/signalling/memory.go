package signalling

import (
	"context"
	"sync"
)

// MemoryMailbox is an in-process AnswerMailbox for tests and single-process use
type MemoryMailbox struct {
	mu      sync.Mutex
	answers map[string]string
	waiters map[string]chan struct{}
}

func NewMemoryMailbox() *MemoryMailbox {
	return &MemoryMailbox{
		answers: make(map[string]string),
		waiters: make(map[string]chan struct{}),
	}
}

func (m *MemoryMailbox) waiter(code string) chan struct{} {
	ch, ok := m.waiters[code]
	if !ok {
		ch = make(chan struct{})
		m.waiters[code] = ch
	}
	return ch
}

func (m *MemoryMailbox) PostAnswer(_ context.Context, shareCode, answer string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.answers[shareCode]; exists {
		m.answers[shareCode] = answer
		return nil
	}
	m.answers[shareCode] = answer
	close(m.waiter(shareCode))
	return nil
}

func (m *MemoryMailbox) WaitForAnswer(ctx context.Context, shareCode string) (string, error) {
	m.mu.Lock()
	ch := m.waiter(shareCode)
	m.mu.Unlock()

	select {
	case <-ch:
	case <-ctx.Done():
		return "", ctx.Err()
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	return m.answers[shareCode], nil
}

func (m *MemoryMailbox) DeleteSession(_ context.Context, shareCode string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.answers, shareCode)
	delete(m.waiters, shareCode)
	return nil
}
