package bundoc

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kartikbazzad/bundoc/filter"
	"github.com/kartikbazzad/bundoc/index"
	"github.com/kartikbazzad/bundoc/value"
)

func byID(id string) filter.Filter {
	return filter.Eq("_id", value.String(id))
}

func waitFor(t *testing.T, ch <-chan Event, want EventKind) Event {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case e := <-ch:
			if e.Kind == want {
				return e
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s event", want)
		}
	}
}

func TestDocumentEventsCarryPostProcessorState(t *testing.T) {
	c := testCollection(t, "evt")
	ch := make(chan Event, 16)
	_, err := c.Subscribe(func(e Event) { ch <- e })
	require.NoError(t, err)

	id, err := c.Insert(doc("n", 1))
	require.NoError(t, err)
	e := waitFor(t, ch, EventInsert)
	gotID, _ := e.Doc.ID()
	assert.Equal(t, id, gotID)

	_, err = c.Update(byID(id), doc("n", 2))
	require.NoError(t, err)
	waitFor(t, ch, EventUpdate)

	_, err = c.Remove(byID(id))
	require.NoError(t, err)
	waitFor(t, ch, EventRemove)
}

func TestIndexEventsBracketCreation(t *testing.T) {
	c := testCollection(t, "idxevt")
	ch := make(chan Event, 16)
	_, err := c.Subscribe(func(e Event) { ch <- e })
	require.NoError(t, err)

	require.NoError(t, c.CreateIndex(index.NonUnique, "f"))
	start := waitFor(t, ch, EventIndexStart)
	assert.Equal(t, []string{"f"}, start.Fields)
	waitFor(t, ch, EventIndexEnd)
}

func TestPanickingHandlerDoesNotAffectWrites(t *testing.T) {
	c := testCollection(t, "panics")
	ch := make(chan Event, 16)
	_, err := c.Subscribe(func(Event) { panic("handler bug") })
	require.NoError(t, err)
	_, err = c.Subscribe(func(e Event) { ch <- e })
	require.NoError(t, err)

	_, err = c.Insert(doc("n", 1))
	require.NoError(t, err, "a handler fault must not fail the write")
	waitFor(t, ch, EventInsert)
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	c := testCollection(t, "unsub")
	ch := make(chan Event, 16)
	sub, err := c.Subscribe(func(e Event) { ch <- e })
	require.NoError(t, err)
	require.NoError(t, c.Unsubscribe(sub))

	_, err = c.Insert(doc("n", 1))
	require.NoError(t, err)
	select {
	case e := <-ch:
		t.Fatalf("unexpected event %s after unsubscribe", e.Kind)
	case <-time.After(200 * time.Millisecond):
	}
}
