// Package memory is an in-process broker with per-group committed offsets.
// Publisher and subscriber must share the same Broker value. Live members of
// a group share one read position, so each message goes to one of them.
package memory

import (
	"context"
	"errors"
	"sync"

	"github.com/ghalamif/MetricFlow/internal/ports"
)

var ErrClosed = errors.New("memory broker closed")

type topicLog struct {
	msgs   [][]byte
	notify chan struct{}
	groups map[string]*groupState
}

type groupState struct {
	// next is the read position shared by the live members.
	next      int64
	committed int64
	members   int
}

func (t *topicLog) group(name string) *groupState {
	g, ok := t.groups[name]
	if !ok {
		g = &groupState{}
		t.groups[name] = g
	}
	return g
}

type Broker struct {
	mu     sync.Mutex
	topics map[string]*topicLog
	closed chan struct{}
	once   sync.Once
}

func NewBroker() *Broker {
	return &Broker{
		topics: make(map[string]*topicLog),
		closed: make(chan struct{}),
	}
}

// topic returns the log for name; callers hold b.mu.
func (b *Broker) topic(name string) *topicLog {
	t, ok := b.topics[name]
	if !ok {
		t = &topicLog{notify: make(chan struct{}), groups: make(map[string]*groupState)}
		b.topics[name] = t
	}
	return t
}

func (b *Broker) Publish(ctx context.Context, topic string, value []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case <-b.closed:
		return ErrClosed
	default:
	}

	b.mu.Lock()
	t := b.topic(topic)
	t.msgs = append(t.msgs, append([]byte(nil), value...))
	close(t.notify)
	t.notify = make(chan struct{})
	b.mu.Unlock()
	return nil
}

func (b *Broker) Subscribe(_ context.Context, topic, group string) (ports.Subscription, error) {
	select {
	case <-b.closed:
		return nil, ErrClosed
	default:
	}

	b.mu.Lock()
	g := b.topic(topic).group(group)
	if g.members == 0 {
		// a group with no live member resumes from its committed position
		g.next = g.committed
	}
	g.members++
	b.mu.Unlock()
	return &subscription{broker: b, topic: topic, group: group}, nil
}

// Committed returns the next offset group will read on topic.
func (b *Broker) Committed(topic, group string) int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.topic(topic).group(group).committed
}

// Len returns the number of messages ever published on topic.
func (b *Broker) Len(topic string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.topic(topic).msgs)
}

func (b *Broker) Close() error {
	b.once.Do(func() { close(b.closed) })
	return nil
}

type subscription struct {
	broker *Broker
	topic  string
	group  string
	once   sync.Once
}

func (s *subscription) Next(ctx context.Context) (ports.Message, error) {
	for {
		s.broker.mu.Lock()
		t := s.broker.topic(s.topic)
		g := t.group(s.group)
		if g.next < int64(len(t.msgs)) {
			msg := ports.Message{Topic: s.topic, Offset: g.next, Value: t.msgs[g.next]}
			g.next++
			s.broker.mu.Unlock()
			return msg, nil
		}
		wait := t.notify
		s.broker.mu.Unlock()

		select {
		case <-ctx.Done():
			return ports.Message{}, ctx.Err()
		case <-s.broker.closed:
			return ports.Message{}, ErrClosed
		case <-wait:
		}
	}
}

func (s *subscription) Commit(_ context.Context, msg ports.Message) error {
	s.broker.mu.Lock()
	defer s.broker.mu.Unlock()
	g := s.broker.topic(s.topic).group(s.group)
	if msg.Offset+1 > g.committed {
		g.committed = msg.Offset + 1
	}
	return nil
}

func (s *subscription) Close() error {
	s.once.Do(func() {
		s.broker.mu.Lock()
		s.broker.topic(s.topic).group(s.group).members--
		s.broker.mu.Unlock()
	})
	return nil
}

var (
	_ ports.Producer = (*Broker)(nil)
	_ ports.Consumer = (*Broker)(nil)
)
