package internal

import (
	"context"
	"encoding/json"
	"sync"

	"manualpilot/notify/protocol"
)

const outboundQueue = 32

type Connection struct {
	ID        string
	Recipient string

	out  chan protocol.Frame
	ctx  context.Context
	drop context.CancelFunc
}

func NewConnection(ctx context.Context, id, recipient string) *Connection {
	ctx, cancel := context.WithCancel(ctx)

	return &Connection{
		ID:        id,
		Recipient: recipient,
		out:       make(chan protocol.Frame, outboundQueue),
		ctx:       ctx,
		drop:      cancel,
	}
}

// Send queues a frame without blocking. It reports false when the connection is gone or its
// queue is full.
func (c *Connection) Send(frame protocol.Frame) bool {
	select {
	case <-c.ctx.Done():
		return false
	default:
	}

	select {
	case c.out <- frame:
		return true
	default:
		return false
	}
}

func (c *Connection) Drop() {
	c.drop()
}

// State holds the rooms of this instance: recipient -> connection id -> connection.
type State struct {
	Lock  sync.RWMutex
	Rooms map[string]map[string]*Connection
}

func NewState() *State {
	return &State{
		Lock:  sync.RWMutex{},
		Rooms: make(map[string]map[string]*Connection),
	}
}

func (s *State) Join(c *Connection) {
	s.Lock.Lock()
	defer s.Lock.Unlock()

	room, ok := s.Rooms[c.Recipient]
	if !ok {
		room = make(map[string]*Connection)
		s.Rooms[c.Recipient] = room
	}

	room[c.ID] = c
}

func (s *State) Leave(c *Connection) {
	s.Lock.Lock()
	defer s.Lock.Unlock()

	room, ok := s.Rooms[c.Recipient]
	if !ok {
		return
	}

	delete(room, c.ID)
	if len(room) == 0 {
		delete(s.Rooms, c.Recipient)
	}
}

// Room returns a snapshot of the connections joined to recipient.
func (s *State) Room(recipient string) []*Connection {
	s.Lock.RLock()
	defer s.Lock.RUnlock()

	room := s.Rooms[recipient]
	out := make([]*Connection, 0, len(room))
	for _, c := range room {
		out = append(out, c)
	}

	return out
}

// Acks tracks pushes waiting for an acknowledgment frame.
type Acks struct {
	lock    sync.Mutex
	pending map[string]chan struct{}
}

func NewAcks() *Acks {
	return &Acks{pending: make(map[string]chan struct{})}
}

// Expect registers id and returns a channel closed on the first Resolve(id), plus a func
// that forgets id.
func (a *Acks) Expect(id string) (<-chan struct{}, func()) {
	ch := make(chan struct{})

	a.lock.Lock()
	a.pending[id] = ch
	a.lock.Unlock()

	return ch, func() {
		a.lock.Lock()
		delete(a.pending, id)
		a.lock.Unlock()
	}
}

func (a *Acks) Resolve(id string) bool {
	a.lock.Lock()
	defer a.lock.Unlock()

	ch, ok := a.pending[id]
	if !ok {
		return false
	}

	delete(a.pending, id)
	close(ch)

	return true
}

type EventType string

const (
	EventTypeDownload EventType = "download"
	EventTypeDrop     EventType = "drop"
)

// Event is relayed between gateway instances over redis pub/sub.
type Event struct {
	Type      EventType       `json:"type"`
	Origin    string          `json:"origin"`
	Recipient string          `json:"recipient"`
	Except    string          `json:"except,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}
