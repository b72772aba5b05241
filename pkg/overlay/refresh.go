package overlay

import (
	"sync"
	"time"
)

// RefreshSource delivers display refresh signals, one per frame that the display is about to present.
type RefreshSource interface {
	// Subscribe returns a channel that receives refresh signals, and a function that unsubscribes.
	// A signal that arrives while the subscriber is still busy may be dropped.
	Subscribe() (<-chan time.Time, func())
}

// TickerRefresh fires at a fixed rate, like a display refreshing at 'hz'
type TickerRefresh struct {
	Interval time.Duration
}

func NewTickerRefresh(hz float64) *TickerRefresh {
	if !(hz > 0) {
		hz = 60
	}
	return &TickerRefresh{
		Interval: time.Duration(float64(time.Second) / hz),
	}
}

func (r *TickerRefresh) Subscribe() (<-chan time.Time, func()) {
	// time.Ticker drops ticks for slow receivers, so a slow frame never causes a backlog
	t := time.NewTicker(r.Interval)
	return t.C, t.Stop
}

type manualSubscriber struct {
	ch   chan time.Time
	done chan struct{}
}

// ManualRefresh only fires when Tick is called.
// Used for offline rendering and for tests.
type ManualRefresh struct {
	lock   sync.Mutex
	nextID int
	subs   map[int]*manualSubscriber
}

func NewManualRefresh() *ManualRefresh {
	return &ManualRefresh{
		subs: map[int]*manualSubscriber{},
	}
}

func (r *ManualRefresh) Subscribe() (<-chan time.Time, func()) {
	r.lock.Lock()
	defer r.lock.Unlock()
	r.nextID++
	id := r.nextID
	sub := &manualSubscriber{
		ch:   make(chan time.Time),
		done: make(chan struct{}),
	}
	r.subs[id] = sub
	once := sync.Once{}
	return sub.ch, func() {
		once.Do(func() {
			r.lock.Lock()
			delete(r.subs, id)
			r.lock.Unlock()
			close(sub.done)
		})
	}
}

// Tick delivers one refresh signal to every subscriber.
// It blocks until each subscriber has received the signal (or unsubscribed),
// and returns the number of subscribers that received it.
func (r *ManualRefresh) Tick() int {
	r.lock.Lock()
	subs := make([]*manualSubscriber, 0, len(r.subs))
	for _, s := range r.subs {
		subs = append(subs, s)
	}
	r.lock.Unlock()

	now := time.Now()
	n := 0
	for _, s := range subs {
		select {
		case s.ch <- now:
			n++
		case <-s.done:
		}
	}
	return n
}

// Subscribers returns the number of active subscribers
func (r *ManualRefresh) Subscribers() int {
	r.lock.Lock()
	defer r.lock.Unlock()
	return len(r.subs)
}
