package provider

import (
	"context"
	"sync"
)

// MockAdapter 按脚本输出事件，用于测试和离线演示。
// Err 非空时在 Chunks 之后以 Error 结束；StreamErr 非空时 Stream 直接返回错误。
// Hold 非空时在结束事件之前等待它关闭。
type MockAdapter struct {
	Chunks    []string
	Err       error
	StreamErr error
	Hold      chan struct{}

	mu       sync.Mutex
	requests []Request
}

func (m *MockAdapter) Stream(ctx context.Context, req Request) (<-chan Event, error) {
	m.mu.Lock()
	m.requests = append(m.requests, req)
	m.mu.Unlock()

	if m.StreamErr != nil {
		return nil, m.StreamErr
	}

	em := newEmitter(ctx)
	go func() {
		for _, c := range m.Chunks {
			if !em.chunk(c) {
				em.fail(ctx.Err())
				return
			}
		}
		if m.Hold != nil {
			select {
			case <-m.Hold:
			case <-ctx.Done():
				em.fail(ctx.Err())
				return
			}
		}
		if m.Err != nil {
			em.fail(m.Err)
			return
		}
		em.complete()
	}()
	return em.out, nil
}

// Requests 返回收到的全部请求
func (m *MockAdapter) Requests() []Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Request, len(m.requests))
	copy(out, m.requests)
	return out
}

// Calls 返回 Stream 被调用的次数
func (m *MockAdapter) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}
