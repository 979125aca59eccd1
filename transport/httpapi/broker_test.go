package httpapi

import (
	"testing"
	"time"

	"github.com/flowforge/graphrun/graph"
)

func TestStepBroker_SubscribeReplaysHistory(t *testing.T) {
	b := newStepBroker()
	b.publish(graph.ExecutionStep{ID: "1", Kind: graph.StepNodeStart})
	b.publish(graph.ExecutionStep{ID: "2", Kind: graph.StepNodeComplete})

	_, history, unsubscribe := b.subscribe()
	defer unsubscribe()

	if len(history) != 2 || history[0].ID != "1" || history[1].ID != "2" {
		t.Fatalf("history = %+v", history)
	}
}

func TestStepBroker_SubscribeReceivesLiveSteps(t *testing.T) {
	b := newStepBroker()
	ch, _, unsubscribe := b.subscribe()
	defer unsubscribe()

	b.publish(graph.ExecutionStep{ID: "3", Kind: graph.StepNodeStart})

	select {
	case step := <-ch:
		if step.ID != "3" {
			t.Errorf("step.ID = %q, want %q", step.ID, "3")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for a published step")
	}
}

func TestStepBroker_CloseClosesSubscriberChannels(t *testing.T) {
	b := newStepBroker()
	ch, _, unsubscribe := b.subscribe()
	defer unsubscribe()

	b.close()

	select {
	case _, ok := <-ch:
		if ok {
			t.Fatal("expected the subscriber channel to be closed")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for channel close")
	}
}

func TestStepBroker_CloseIsIdempotent(t *testing.T) {
	b := newStepBroker()
	b.close()
	b.close()
}
