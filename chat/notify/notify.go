// Package notify carries user-visible notifications from the pipeline to
// whatever surfaces are listening.
package notify

import (
	"sync"

	"actionit/backend/pkg/logger"
	"actionit/backend/shared/observability"
)

type Variant string

const (
	VariantDefault     Variant = "default"
	VariantDestructive Variant = "destructive"
)

type Notification struct {
	Title       string  `json:"title"`
	Description string  `json:"description,omitempty"`
	Variant     Variant `json:"variant"`
}

// Destructive reports whether n describes a failure
func (n Notification) Destructive() bool {
	return n.Variant == VariantDestructive
}

// Notifier is what the pipeline needs to emit notifications
type Notifier interface {
	Publish(n Notification)
}

// Bus fans notifications out to subscribers, synchronously and in
// subscription order.
type Bus struct {
	mu   sync.RWMutex
	subs map[int]func(Notification)
	next int
	// order keeps delivery deterministic
	order []int
}

func NewBus() *Bus {
	return &Bus{subs: make(map[int]func(Notification))}
}

func (b *Bus) Publish(n Notification) {
	if n.Variant == "" {
		n.Variant = VariantDefault
	}
	observability.Notifications.WithLabelValues(string(n.Variant)).Inc()

	b.mu.RLock()
	handlers := make([]func(Notification), 0, len(b.order))
	for _, id := range b.order {
		handlers = append(handlers, b.subs[id])
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		h(n)
	}
}

// Subscribe registers fn and returns a func that removes it
func (b *Bus) Subscribe(fn func(Notification)) func() {
	b.mu.Lock()
	id := b.next
	b.next++
	b.subs[id] = fn
	b.order = append(b.order, id)
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			delete(b.subs, id)
			for i, v := range b.order {
				if v == id {
					b.order = append(b.order[:i], b.order[i+1:]...)
					break
				}
			}
		})
	}
}

// LogNotifier writes every notification to the structured log
func LogNotifier(log *logger.Logger) func(Notification) {
	log = log.WithComponent("notify")
	return func(n Notification) {
		if n.Destructive() {
			log.Warn(n.Title, "description", n.Description, "variant", string(n.Variant))
			return
		}
		log.Info(n.Title, "description", n.Description, "variant", string(n.Variant))
	}
}

// Recorder keeps every notification it receives
type Recorder struct {
	mu  sync.Mutex
	got []Notification
}

func (r *Recorder) Handle(n Notification) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, n)
}

func (r *Recorder) All() []Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Notification(nil), r.got...)
}

// Destructive counts recorded failure notifications
func (r *Recorder) Destructive() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, x := range r.got {
		if x.Destructive() {
			n++
		}
	}
	return n
}
