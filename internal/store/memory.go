package store

import (
	"context"
	"sync"
)

// Memory keeps queues in process memory. Everything is lost on restart.
type Memory struct {
	lock   sync.Mutex
	queues map[string][][]byte
}

func NewMemory() *Memory {
	return &Memory{queues: make(map[string][][]byte)}
}

func (m *Memory) Append(_ context.Context, key string, value []byte) error {
	m.lock.Lock()
	defer m.lock.Unlock()

	m.queues[key] = append(m.queues[key], value)
	return nil
}

func (m *Memory) Range(_ context.Context, key string) ([][]byte, error) {
	m.lock.Lock()
	defer m.lock.Unlock()

	queue := m.queues[key]
	out := make([][]byte, len(queue))
	copy(out, queue)

	return out, nil
}

func (m *Memory) Last(_ context.Context, key string) ([]byte, bool, error) {
	m.lock.Lock()
	defer m.lock.Unlock()

	queue := m.queues[key]
	if len(queue) == 0 {
		return nil, false, nil
	}

	return queue[len(queue)-1], true, nil
}

func (m *Memory) Reset(_ context.Context, key string) error {
	m.lock.Lock()
	defer m.lock.Unlock()

	delete(m.queues, key)
	return nil
}

func (m *Memory) RemoveLast(_ context.Context, key string) error {
	m.lock.Lock()
	defer m.lock.Unlock()

	queue := m.queues[key]
	if len(queue) == 0 {
		return nil
	}

	m.queues[key] = queue[:len(queue)-1]
	return nil
}

func (m *Memory) Close() error {
	return nil
}
