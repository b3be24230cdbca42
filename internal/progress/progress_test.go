package progress

import (
	"bytes"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

type recordSink struct {
	mu     sync.Mutex
	events []string
	closed bool
}

func (r *recordSink) record(s string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, s)
}

func (r *recordSink) Start(stage string, total int64) { r.record("start " + stage) }
func (r *recordSink) Add(stage string, n int64, item string) {
	r.record("add " + stage)
}
func (r *recordSink) Finish(stage string) { r.record("finish " + stage) }
func (r *recordSink) Close()              { r.closed = true }

func TestBusDeliversInOrderToSingleReceiver(t *testing.T) {
	sink := &recordSink{}
	bus := NewBus(sink)
	bus.Start("scan", 3)
	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			bus.Add("scan", "file")
		}()
	}
	wg.Wait()
	bus.Finish("scan")
	bus.Close()
	bus.Close()

	assert.True(t, sink.closed)
	assert.Equal(t, []string{"start scan", "add scan", "add scan", "add scan", "finish scan"}, sink.events)
}

func TestNilBusIsNoop(t *testing.T) {
	var bus *Bus
	bus.Start("x", 1)
	bus.Add("x", "y")
	bus.Finish("x")
	bus.Close()
}

func TestBarSinkDrains(t *testing.T) {
	var out bytes.Buffer
	sink := NewBarSink(&out)
	bus := NewBus(sink)
	bus.Start("write", 2)
	bus.Add("write", "a")
	bus.Add("write", "b")
	bus.Finish("write")
	bus.Close()
}
