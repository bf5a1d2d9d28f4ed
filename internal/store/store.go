// Package store buffers notifications for recipients that could not be reached.
//
// Every recipient owns one queue in append order. A recipient that was never saved to reads
// as an empty queue. The queue itself is kept by a Backend, so the in-memory default can be
// swapped for a durable one without touching callers.
package store

import (
	"context"
	"encoding/json"
	"fmt"

	"manualpilot/notify/protocol"
)

// Backend is a keyed list of opaque values.
type Backend interface {
	Append(ctx context.Context, key string, value []byte) error
	Range(ctx context.Context, key string) ([][]byte, error)
	Last(ctx context.Context, key string) ([]byte, bool, error)
	Reset(ctx context.Context, key string) error
	RemoveLast(ctx context.Context, key string) error
	Close() error
}

type Store struct {
	backend Backend
}

func New(backend Backend) *Store {
	return &Store{backend: backend}
}

func (s *Store) Save(ctx context.Context, recipient string, msg protocol.Message) error {
	b, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}

	if err := s.backend.Append(ctx, recipient, b); err != nil {
		return fmt.Errorf("save message for %v: %w", recipient, err)
	}

	return nil
}

// FindMessagesFor returns the buffered messages for recipient, oldest first. It never
// consumes them.
func (s *Store) FindMessagesFor(ctx context.Context, recipient string) ([]protocol.Message, error) {
	values, err := s.backend.Range(ctx, recipient)
	if err != nil {
		return nil, fmt.Errorf("find messages for %v: %w", recipient, err)
	}

	messages := make([]protocol.Message, 0, len(values))
	for _, value := range values {
		msg := protocol.Message{}
		if err := json.Unmarshal(value, &msg); err != nil {
			return nil, fmt.Errorf("decode message for %v: %w", recipient, err)
		}

		messages = append(messages, msg)
	}

	return messages, nil
}

// Latest returns the most recently saved message for recipient.
func (s *Store) Latest(ctx context.Context, recipient string) (protocol.Message, bool, error) {
	msg := protocol.Message{}

	value, ok, err := s.backend.Last(ctx, recipient)
	if err != nil {
		return msg, false, fmt.Errorf("latest message for %v: %w", recipient, err)
	} else if !ok {
		return msg, false, nil
	}

	if err := json.Unmarshal(value, &msg); err != nil {
		return msg, false, fmt.Errorf("decode message for %v: %w", recipient, err)
	}

	return msg, true, nil
}

func (s *Store) Clear(ctx context.Context, recipient string) error {
	if err := s.backend.Reset(ctx, recipient); err != nil {
		return fmt.Errorf("clear messages for %v: %w", recipient, err)
	}

	return nil
}

// Pop drops the most recently saved message. Empty queues are left alone.
func (s *Store) Pop(ctx context.Context, recipient string) error {
	if err := s.backend.RemoveLast(ctx, recipient); err != nil {
		return fmt.Errorf("pop message for %v: %w", recipient, err)
	}

	return nil
}

func (s *Store) Close() error {
	return s.backend.Close()
}
