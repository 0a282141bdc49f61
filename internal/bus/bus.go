// Package bus provides the in-process publish/subscribe bus that decouples
// agents from the dashboard and realtime layers.
package bus

import (
	"log"
	"sync"
	"time"
)

// Event is a single published event. Events are immutable once created.
type Event struct {
	Channel   string    `json:"channel"`
	Payload   any       `json:"payload"`
	Timestamp time.Time `json:"timestamp"`
}

// Handler receives events for a subscribed channel.
type Handler func(Event)

// DefaultHistoryCap is the number of recent events retained for replay.
const DefaultHistoryCap = 500

type subscription struct {
	id      int
	handler Handler
}

// delivery pairs an event with the subscriber set captured at publish time,
// so a late unsubscribe cannot reorder or drop an already-published event.
type delivery struct {
	event    Event
	handlers []Handler
}

// Bus routes events from publishers to subscribers. Each channel has a
// dedicated dispatch goroutine, so handlers observe events in publish order
// and a publisher never blocks on handler completion.
type Bus struct {
	mu         sync.Mutex
	nextID     int
	handlers   map[string][]subscription
	dispatch   map[string]*dispatcher
	history    []Event
	historyCap int
	closed     bool
}

// New creates a bus with the default history capacity.
func New() *Bus {
	return NewWithCapacity(DefaultHistoryCap)
}

// NewWithCapacity creates a bus retaining up to cap events for replay.
func NewWithCapacity(cap int) *Bus {
	if cap < 1 {
		cap = DefaultHistoryCap
	}
	return &Bus{
		handlers:   make(map[string][]subscription),
		dispatch:   make(map[string]*dispatcher),
		historyCap: cap,
	}
}

// Subscribe registers handler for every future publish on channel and
// returns an unsubscribe function. Calling the returned function more than
// once is a no-op after the first call.
func (b *Bus) Subscribe(channel string, handler Handler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	id := b.nextID
	b.handlers[channel] = append(b.handlers[channel], subscription{id: id, handler: handler})

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		subs := b.handlers[channel]
		for i, s := range subs {
			if s.id == id {
				b.handlers[channel] = append(subs[:i:i], subs[i+1:]...)
				return
			}
		}
	}
}

// Publish appends the event to the bounded history and hands it to the
// channel's dispatch loop. Handlers run asynchronously relative to the
// publisher; a panicking handler is isolated from its siblings.
func (b *Bus) Publish(channel string, payload any) {
	ev := Event{Channel: channel, Payload: payload, Timestamp: time.Now()}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}

	b.history = append(b.history, ev)
	if len(b.history) > b.historyCap {
		b.history = b.history[1:]
	}

	subs := b.handlers[channel]
	if len(subs) == 0 {
		b.mu.Unlock()
		return
	}
	handlers := make([]Handler, len(subs))
	for i, s := range subs {
		handlers[i] = s.handler
	}

	d, ok := b.dispatch[channel]
	if !ok {
		d = newDispatcher(channel)
		b.dispatch[channel] = d
	}
	b.mu.Unlock()

	d.enqueue(delivery{event: ev, handlers: handlers})
}

// History returns the most recent n events across all channels, oldest first.
func (b *Bus) History(n int) []Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	if n <= 0 || n > len(b.history) {
		n = len(b.history)
	}
	out := make([]Event, n)
	copy(out, b.history[len(b.history)-n:])
	return out
}

// Close stops all dispatch loops after draining pending deliveries.
// Publishes after Close are dropped.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	dispatchers := make([]*dispatcher, 0, len(b.dispatch))
	for _, d := range b.dispatch {
		dispatchers = append(dispatchers, d)
	}
	b.mu.Unlock()

	for _, d := range dispatchers {
		d.stop()
	}
}

// dispatcher is a per-channel dispatch loop with an unbounded queue, so
// publishers stay decoupled from slow handlers without dropping live events.
type dispatcher struct {
	channel string
	mu      sync.Mutex
	cond    *sync.Cond
	queue   []delivery
	stopped bool
	done    chan struct{}
}

func newDispatcher(channel string) *dispatcher {
	d := &dispatcher{channel: channel, done: make(chan struct{})}
	d.cond = sync.NewCond(&d.mu)
	go d.loop()
	return d
}

func (d *dispatcher) enqueue(dl delivery) {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return
	}
	d.queue = append(d.queue, dl)
	d.mu.Unlock()
	d.cond.Signal()
}

func (d *dispatcher) loop() {
	defer close(d.done)
	for {
		d.mu.Lock()
		for len(d.queue) == 0 && !d.stopped {
			d.cond.Wait()
		}
		if len(d.queue) == 0 && d.stopped {
			d.mu.Unlock()
			return
		}
		dl := d.queue[0]
		d.queue = d.queue[1:]
		d.mu.Unlock()

		for _, h := range dl.handlers {
			invoke(d.channel, h, dl.event)
		}
	}
}

func (d *dispatcher) stop() {
	d.mu.Lock()
	d.stopped = true
	d.mu.Unlock()
	d.cond.Signal()
	<-d.done
}

func invoke(channel string, h Handler, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[Bus] handler panic on %s: %v", channel, r)
		}
	}()
	h(ev)
}
