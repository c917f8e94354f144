package trigger

import (
	"sync"
	"time"
)

// Event names a topic on the Bus.
type Event string

const EventTradeClosed Event = "trade.closed"

// TradeClosed is published when an external system reports a closed trade.
type TradeClosed struct {
	TradeID    int64
	ReceivedAt time.Time
}

// Bus is a lightweight in-process pub/sub broker using channels.
type Bus struct {
	mu   sync.RWMutex
	subs map[Event][]chan any
}

func NewBus() *Bus {
	return &Bus{subs: make(map[Event][]chan any)}
}

// Subscribe registers a buffered listener for e and returns the channel and an
// unsubscribe function that closes it.
func (b *Bus) Subscribe(e Event, buffer int) (<-chan any, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if buffer < 0 {
		buffer = 0
	}
	ch := make(chan any, buffer)
	b.subs[e] = append(b.subs[e], ch)

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			subs := b.subs[e]
			for i, c := range subs {
				if c == ch {
					close(c)
					b.subs[e] = append(subs[:i], subs[i+1:]...)
					break
				}
			}
		})
	}
	return ch, unsub
}

// Publish fans payload out without blocking and returns how many subscribers
// received it. A full subscriber buffer drops the payload for that subscriber.
func (b *Bus) Publish(e Event, payload any) (delivered, dropped int) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs[e] {
		select {
		case ch <- payload:
			delivered++
		default:
			dropped++
		}
	}
	return delivered, dropped
}
