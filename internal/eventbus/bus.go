package eventbus

import (
	"context"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// TopicInApp carries every in-app notification record written to the log.
const TopicInApp = "notifications.in_app"

const DefaultBuffer = 64

var droppedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "eventbus_dropped_total",
	Help: "Messages dropped because a subscriber buffer was full.",
}, []string{"topic"})

// Bus is a process-local publish/subscribe hub. Delivery is best effort and
// at most once per subscriber; nothing published before Subscribe is replayed.
type Bus[T any] struct {
	mu     sync.RWMutex
	subs   map[string]map[*Subscription[T]]struct{}
	buffer int
	closed bool
}

func New[T any](buffer int) *Bus[T] {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &Bus[T]{subs: make(map[string]map[*Subscription[T]]struct{}), buffer: buffer}
}

type Subscription[T any] struct {
	bus   *Bus[T]
	topic string
	ch    chan T
	once  sync.Once
	stop  chan struct{}
}

// C yields messages until the subscription is closed.
func (s *Subscription[T]) C() <-chan T { return s.ch }

func (s *Subscription[T]) Close() {
	s.once.Do(func() {
		close(s.stop)
		s.bus.remove(s)
	})
}

// Subscribe registers a subscriber with its own buffered cursor. The
// subscription closes when ctx is done.
func (b *Bus[T]) Subscribe(ctx context.Context, topic string) *Subscription[T] {
	s := &Subscription[T]{bus: b, topic: topic, ch: make(chan T, b.buffer), stop: make(chan struct{})}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		s.once.Do(func() {
			close(s.stop)
			close(s.ch)
		})
		return s
	}
	if b.subs[topic] == nil {
		b.subs[topic] = make(map[*Subscription[T]]struct{})
	}
	b.subs[topic][s] = struct{}{}
	b.mu.Unlock()

	go func() {
		select {
		case <-ctx.Done():
			s.Close()
		case <-s.stop:
		}
	}()
	return s
}

// Publish hands msg to every current subscriber of topic without blocking.
// It returns the number of subscribers that received it.
func (b *Bus[T]) Publish(topic string, msg T) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return 0
	}
	delivered := 0
	for s := range b.subs[topic] {
		select {
		case s.ch <- msg:
			delivered++
		default:
			droppedTotal.WithLabelValues(topic).Inc()
		}
	}
	return delivered
}

func (b *Bus[T]) Subscribers(topic string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[topic])
}

// Close ends every subscription.
func (b *Bus[T]) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	var all []*Subscription[T]
	for _, set := range b.subs {
		for s := range set {
			all = append(all, s)
		}
	}
	b.mu.Unlock()

	for _, s := range all {
		s.Close()
	}
}

func (b *Bus[T]) remove(s *Subscription[T]) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if set, ok := b.subs[s.topic]; ok {
		if _, ok := set[s]; ok {
			delete(set, s)
			close(s.ch)
		}
		if len(set) == 0 {
			delete(b.subs, s.topic)
		}
	}
}
