package streaming

import (
	"sync"
	"time"

	"undersounds/logger"
	"undersounds/model"
)

// EventType 生命周期事件类型
type EventType string

const (
	EventVariantsGenerated EventType = "variants.generated"
	EventVariantsSwept     EventType = "variants.swept"
	EventVariantRemoved    EventType = "variant.removed"
	EventTrackArchived     EventType = "track.archived"
	EventTrackRestored     EventType = "track.restored"
)

// Event 推送给订阅者的事件
type Event struct {
	TrackID int64             `json:"trackId"`
	Type    EventType         `json:"type"`
	Tier    model.QualityTier `json:"tier,omitempty"`
	Files   []string          `json:"files,omitempty"`
	At      time.Time         `json:"at"`
}

// Publisher is the write side of EventHub.
type Publisher interface {
	Publish(ev Event)
}

type subscriber struct {
	trackID int64 // 0 订阅全部
	ch      chan Event
}

// EventHub 进程内发布订阅。订阅者处理不过来时丢弃事件，不阻塞发布方
type EventHub struct {
	mu     sync.RWMutex
	nextID int
	subs   map[int]*subscriber
	buffer int
}

var _ Publisher = (*EventHub)(nil)

// NewEventHub creates a hub whose subscriber channels hold buffer events.
func NewEventHub(buffer int) *EventHub {
	if buffer <= 0 {
		buffer = 16
	}
	return &EventHub{subs: make(map[int]*subscriber), buffer: buffer}
}

// Subscribe 订阅某个曲目的事件，trackID 为 0 时订阅全部；返回的函数用于取消订阅并关闭通道
func (h *EventHub) Subscribe(trackID int64) (<-chan Event, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.nextID++
	id := h.nextID
	sub := &subscriber{trackID: trackID, ch: make(chan Event, h.buffer)}
	h.subs[id] = sub

	var once sync.Once
	return sub.ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, id)
			h.mu.Unlock()
			close(sub.ch)
		})
	}
}

func (h *EventHub) Publish(ev Event) {
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, sub := range h.subs {
		if sub.trackID != 0 && sub.trackID != ev.TrackID {
			continue
		}
		select {
		case sub.ch <- ev:
		default:
			logger.Warn("订阅者处理过慢，丢弃事件",
				logger.Int64("trackId", ev.TrackID),
				logger.String("type", string(ev.Type)))
		}
	}
}

// Subscribers returns the number of live subscriptions.
func (h *EventHub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// NopPublisher discards events.
type NopPublisher struct{}

func (NopPublisher) Publish(Event) {}
