package model

import (
	"context"
	"errors"
	"sync"
)

// MockChat is a scripted Chat for tests: it returns queued responses in
// order and records every call it receives.
type MockChat struct {
	mu        sync.Mutex
	responses []*Response
	err       error
	calls     []MockCall
}

// MockCall records the arguments of one Complete invocation.
type MockCall struct {
	Model       string
	Messages    []Message
	Temperature float64
}

// NewMockChat queues the given responses.
func NewMockChat(responses ...*Response) *MockChat {
	return &MockChat{responses: responses}
}

// FailWith makes every subsequent call return err.
func (m *MockChat) FailWith(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// Calls returns the recorded invocations.
func (m *MockChat) Calls() []MockCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]MockCall(nil), m.calls...)
}

// Complete pops the next scripted response.
func (m *MockChat) Complete(_ context.Context, model string, msgs []Message, temperature float64) (*Response, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, MockCall{Model: model, Messages: msgs, Temperature: temperature})
	if m.err != nil {
		return nil, m.err
	}
	if len(m.responses) == 0 {
		return nil, errors.New("mock: no scripted responses left")
	}
	resp := m.responses[0]
	m.responses = m.responses[1:]
	return resp, nil
}
