package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/flowforge/graphrun/graph"
)

// stepBroker fans one execution's ExecutionSteps out to any number of SSE
// subscribers, replaying history to late joiners.
type stepBroker struct {
	mu          sync.Mutex
	history     []graph.ExecutionStep
	subscribers map[chan graph.ExecutionStep]struct{}
	closed      bool
}

func newStepBroker() *stepBroker {
	return &stepBroker{subscribers: make(map[chan graph.ExecutionStep]struct{})}
}

// publish is passed to Executor.Stream as the emit callback.
func (b *stepBroker) publish(step graph.ExecutionStep) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.history = append(b.history, step)
	for sub := range b.subscribers {
		select {
		case sub <- step:
		default:
			// Slow subscriber; drop rather than block the execution.
		}
	}
}

func (b *stepBroker) subscribe() (chan graph.ExecutionStep, []graph.ExecutionStep, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan graph.ExecutionStep, 64)
	b.subscribers[ch] = struct{}{}
	historyCopy := make([]graph.ExecutionStep, len(b.history))
	copy(historyCopy, b.history)

	unsubscribe := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.subscribers, ch)
	}
	return ch, historyCopy, unsubscribe
}

func (b *stepBroker) close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for sub := range b.subscribers {
		close(sub)
	}
}

func writeSSE(w http.ResponseWriter, step graph.ExecutionStep) {
	payload, err := json.Marshal(step)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", step.Kind, payload)
}
