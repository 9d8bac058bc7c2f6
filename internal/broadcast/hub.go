package broadcast

import (
	"context"
	"sync"

	"codecast/collabd/pkg/logger"
)

// subscriber buffer depth; a subscriber that falls this far behind starts
// dropping messages and must reconcile via the operation log.
const hubBuffer = 64

// Hub is the in-process Broadcaster. Channels are keyed by session id and
// cleaned up when their last subscriber leaves.
type Hub struct {
	mu   sync.RWMutex
	subs map[string]map[chan []byte]struct{}
}

// NewHub creates an empty in-process hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[string]map[chan []byte]struct{})}
}

// Publish delivers msg to every subscriber of the session channel. Slow
// subscribers are skipped rather than blocking the publisher.
func (h *Hub) Publish(_ context.Context, sessionID string, msg []byte) error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for ch := range h.subs[sessionID] {
		select {
		case ch <- msg:
		default:
			logger.Warn("hub_subscriber_lagging", "session", sessionID)
		}
	}
	return nil
}

// Subscribe registers a new subscriber on the session channel.
func (h *Hub) Subscribe(_ context.Context, sessionID string) (Subscription, error) {
	ch := make(chan []byte, hubBuffer)
	h.mu.Lock()
	if h.subs[sessionID] == nil {
		h.subs[sessionID] = make(map[chan []byte]struct{})
	}
	h.subs[sessionID][ch] = struct{}{}
	h.mu.Unlock()
	return &hubSub{hub: h, sessionID: sessionID, ch: ch}, nil
}

// Close drops all subscribers.
func (h *Hub) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	for sessionID, subs := range h.subs {
		for ch := range subs {
			close(ch)
		}
		delete(h.subs, sessionID)
	}
	return nil
}

type hubSub struct {
	hub       *Hub
	sessionID string
	ch        chan []byte
	once      sync.Once
}

func (s *hubSub) C() <-chan []byte { return s.ch }

func (s *hubSub) Close() error {
	s.once.Do(func() {
		s.hub.mu.Lock()
		if subs, ok := s.hub.subs[s.sessionID]; ok {
			if _, ok := subs[s.ch]; ok {
				delete(subs, s.ch)
				close(s.ch)
			}
			if len(subs) == 0 {
				delete(s.hub.subs, s.sessionID)
			}
		}
		s.hub.mu.Unlock()
	})
	return nil
}
