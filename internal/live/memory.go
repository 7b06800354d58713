package live

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

const memoryBuffer = 16

// MemoryHub delivers in process. A subscriber that falls more than
// memoryBuffer messages behind loses the oldest undelivered ones.
type MemoryHub struct {
	mu     sync.Mutex
	topics map[string]map[*memorySubscription]struct{}
	closed bool
	logger *zap.Logger
}

func NewMemoryHub(logger *zap.Logger) *MemoryHub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MemoryHub{topics: make(map[string]map[*memorySubscription]struct{}), logger: logger}
}

func (h *MemoryHub) Publish(ctx context.Context, topic string, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return ErrClosed
	}
	for sub := range h.topics[topic] {
		msg := append([]byte(nil), payload...)
		select {
		case sub.ch <- msg:
		default:
			// Drop the oldest message so the newest snapshot still arrives.
			select {
			case <-sub.ch:
			default:
			}
			select {
			case sub.ch <- msg:
			default:
			}
			h.logger.Debug("live subscriber lagging", zap.String("topic", topic))
		}
	}
	return nil
}

func (h *MemoryHub) Subscribe(ctx context.Context, topic string) (Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, ErrClosed
	}
	sub := &memorySubscription{hub: h, topic: topic, ch: make(chan []byte, memoryBuffer)}
	if h.topics[topic] == nil {
		h.topics[topic] = make(map[*memorySubscription]struct{})
	}
	h.topics[topic][sub] = struct{}{}
	sub.stop = context.AfterFunc(ctx, func() { _ = sub.Close() })
	return sub, nil
}

func (h *MemoryHub) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}
	h.closed = true
	for topic, subs := range h.topics {
		for sub := range subs {
			sub.closeLocked()
		}
		delete(h.topics, topic)
	}
	return nil
}

type memorySubscription struct {
	hub    *MemoryHub
	topic  string
	ch     chan []byte
	stop   func() bool
	closed bool
}

func (s *memorySubscription) Messages() <-chan []byte {
	return s.ch
}

func (s *memorySubscription) Close() error {
	s.hub.mu.Lock()
	defer s.hub.mu.Unlock()
	s.closeLocked()
	return nil
}

func (s *memorySubscription) closeLocked() {
	if s.closed {
		return
	}
	s.closed = true
	if s.stop != nil {
		s.stop()
	}
	if subs := s.hub.topics[s.topic]; subs != nil {
		delete(subs, s)
		if len(subs) == 0 {
			delete(s.hub.topics, s.topic)
		}
	}
	close(s.ch)
}
