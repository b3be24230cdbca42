// Package progress carries stage progress from workers to a single
// receiver that owns every counter.
package progress

import (
	"sync"
)

// Kind is the type of a progress event.
type Kind int

const (
	KindStart Kind = iota + 1
	KindAdd
	KindFinish
)

// Event is one progress update sent by a worker.
type Event struct {
	Kind  Kind
	Stage string
	N     int64
	Item  string
}

// Sink renders progress. Only the bus receiver calls it.
type Sink interface {
	Start(stage string, total int64)
	Add(stage string, n int64, item string)
	Finish(stage string)
	Close()
}

// Bus fans progress events into one receiver goroutine. A nil *Bus drops
// every event.
type Bus struct {
	ch        chan Event
	done      chan struct{}
	closeOnce sync.Once
}

func NewBus(sink Sink) *Bus {
	b := &Bus{
		ch:   make(chan Event, 256),
		done: make(chan struct{}),
	}
	go b.run(sink)
	return b
}

func (b *Bus) run(sink Sink) {
	defer close(b.done)
	for e := range b.ch {
		switch e.Kind {
		case KindStart:
			sink.Start(e.Stage, e.N)
		case KindAdd:
			sink.Add(e.Stage, e.N, e.Item)
		case KindFinish:
			sink.Finish(e.Stage)
		}
	}
	sink.Close()
}

func (b *Bus) Send(e Event) {
	if b == nil {
		return
	}
	b.ch <- e
}

func (b *Bus) Start(stage string, total int) {
	b.Send(Event{Kind: KindStart, Stage: stage, N: int64(total)})
}

func (b *Bus) Add(stage string, item string) {
	b.Send(Event{Kind: KindAdd, Stage: stage, N: 1, Item: item})
}

func (b *Bus) Finish(stage string) {
	b.Send(Event{Kind: KindFinish, Stage: stage})
}

// Close stops accepting events and waits for the receiver to drain.
func (b *Bus) Close() {
	if b == nil {
		return
	}
	b.closeOnce.Do(func() { close(b.ch) })
	<-b.done
}
