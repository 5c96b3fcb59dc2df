package session

import (
	"sync"

	"ZKAttest-Chain/internal/attest"
)

// EventType 标识事件流中的事件类别。
type EventType string

const (
	EventStatus      EventType = "status"
	EventLog         EventType = "log"
	EventAttestation EventType = "attestation"
	EventComplete    EventType = "complete"
	EventError       EventType = "error"
)

// Event 是会话事件流中的一条有序记录。
type Event struct {
	Type        EventType      `json:"type"`
	SessionID   string         `json:"session_id"`
	At          int64          `json:"at"`
	Phase       Phase          `json:"phase,omitempty"`
	Progress    int            `json:"progress,omitempty"`
	Message     string         `json:"message,omitempty"`
	Attestation *attest.Record `json:"attestation,omitempty"`
	Summary     *Summary       `json:"summary,omitempty"`
	Error       string         `json:"error,omitempty"`
}

const defaultStreamCapacity = 256

// Stream 是单个订阅者的有界有序事件通道。发布端永不阻塞：缓冲满时
// 丢弃最新事件并计数，已投递事件的顺序不变。
type Stream struct {
	ch      chan Event
	mu      sync.Mutex
	closed  bool
	dropped int
}

func newStream(capacity int) *Stream {
	if capacity <= 0 {
		capacity = defaultStreamCapacity
	}
	return &Stream{ch: make(chan Event, capacity)}
}

// Events 返回只读事件通道，通道在会话终结或取消订阅后关闭。
func (s *Stream) Events() <-chan Event {
	return s.ch
}

// Dropped 返回因缓冲满而丢弃的事件数。
func (s *Stream) Dropped() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

func (s *Stream) publish(event Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.ch <- event:
	default:
		s.dropped++
	}
}

func (s *Stream) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
}

// Broker 管理每个会话的订阅者集合并按发布顺序分发事件。
type Broker struct {
	mu       sync.RWMutex
	capacity int
	streams  map[string][]*Stream
}

// NewBroker 创建事件分发器。capacity 为每个订阅者的缓冲大小。
func NewBroker(capacity int) *Broker {
	return &Broker{
		capacity: capacity,
		streams:  make(map[string][]*Stream),
	}
}

// Subscribe 为指定会话注册一个订阅者。
func (b *Broker) Subscribe(sessionID string) *Stream {
	stream := newStream(b.capacity)
	b.mu.Lock()
	b.streams[sessionID] = append(b.streams[sessionID], stream)
	b.mu.Unlock()
	return stream
}

// Unsubscribe 注销订阅者并关闭其通道。
func (b *Broker) Unsubscribe(sessionID string, stream *Stream) {
	if stream == nil {
		return
	}
	b.mu.Lock()
	subscribers := b.streams[sessionID]
	for i, s := range subscribers {
		if s == stream {
			b.streams[sessionID] = append(subscribers[:i], subscribers[i+1:]...)
			break
		}
	}
	if len(b.streams[sessionID]) == 0 {
		delete(b.streams, sessionID)
	}
	b.mu.Unlock()
	stream.close()
}

// Publish 将事件按序投递给会话的全部订阅者。
func (b *Broker) Publish(event Event) {
	b.mu.RLock()
	subscribers := b.streams[event.SessionID]
	b.mu.RUnlock()
	for _, stream := range subscribers {
		stream.publish(event)
	}
}

// CloseSession 在会话终结后关闭全部订阅者通道。
func (b *Broker) CloseSession(sessionID string) {
	b.mu.Lock()
	subscribers := b.streams[sessionID]
	delete(b.streams, sessionID)
	b.mu.Unlock()
	for _, stream := range subscribers {
		stream.close()
	}
}
