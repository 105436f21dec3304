package inbox

import (
	"testing"

	"github.com/substratai/substrat/pkg/types"
)

func envelope(sender types.ID, payload string) *types.MessageEnvelope {
	return &types.MessageEnvelope{
		ID:      types.NewID(),
		Sender:  sender,
		Kind:    types.KindRequest,
		Payload: payload,
	}
}

func TestRegistry_CollectReturnsDeliveryOrder(t *testing.T) {
	r := New()
	agent := types.NewID()
	sender := types.NewID()

	first := envelope(sender, "one")
	second := envelope(sender, "two")
	r.Deliver(agent, first)
	r.Deliver(agent, second)

	got := r.Collect(agent)
	if len(got) != 2 || got[0] != first || got[1] != second {
		t.Fatalf("unexpected collect order: %+v", got)
	}
}

func TestRegistry_CollectDrains(t *testing.T) {
	r := New()
	agent := types.NewID()
	r.Deliver(agent, envelope(types.NewID(), "one"))

	r.Collect(agent)
	got := r.Collect(agent)
	if len(got) != 0 {
		t.Fatalf("expected empty inbox after drain, got %d", len(got))
	}
}

func TestRegistry_CollectEmptyAgent(t *testing.T) {
	r := New()
	got := r.Collect(types.NewID())
	if len(got) != 0 {
		t.Fatalf("expected empty slice for unknown agent, got %+v", got)
	}
}

func TestRegistry_PeekDoesNotDrain(t *testing.T) {
	r := New()
	agent := types.NewID()
	r.Deliver(agent, envelope(types.NewID(), "one"))

	if n := r.Peek(agent); n != 1 {
		t.Fatalf("expected peek count 1, got %d", n)
	}
	if n := r.Peek(agent); n != 1 {
		t.Fatalf("peek should not drain, got %d on second call", n)
	}
}

func TestRegistry_Drop(t *testing.T) {
	r := New()
	agent := types.NewID()
	r.Deliver(agent, envelope(types.NewID(), "one"))
	r.Drop(agent)

	if n := r.Peek(agent); n != 0 {
		t.Fatalf("expected empty inbox after drop, got %d", n)
	}
}
