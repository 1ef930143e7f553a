package events

import (
	"testing"
)

func TestPublishInvokesInRegistrationOrder(t *testing.T) {
	d := NewDispatcher()

	var got []string
	first := NewListener(func(any) { got = append(got, "first") })
	second := NewListener(func(any) { got = append(got, "second") })
	third := NewListener(func(any) { got = append(got, "third") })

	d.Subscribe("state", first)
	d.Subscribe("state", second)
	d.Subscribe("state", third)

	d.Publish("state", nil)

	want := []string{"first", "second", "third"}
	if len(got) != len(want) {
		t.Fatalf("got %d invocations, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("invocation %d: got %s, want %s", i, got[i], want[i])
		}
	}
}

func TestSubscribeIsIdempotentPerListener(t *testing.T) {
	d := NewDispatcher()

	calls := 0
	l := NewListener(func(any) { calls++ })

	d.Subscribe("state", l)
	d.Subscribe("state", l)
	d.Subscribe("state", l)

	d.Publish("state", nil)

	if calls != 1 {
		t.Fatalf("got %d calls, want 1", calls)
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	d := NewDispatcher()

	calls := 0
	l := NewListener(func(any) { calls++ })

	d.Subscribe("state", l)
	d.Unsubscribe("state", l)
	d.Publish("state", nil)

	if calls != 0 {
		t.Fatalf("got %d calls after unsubscribe, want 0", calls)
	}

	// Re-subscribe then unsubscribe again in the same turn.
	d.Subscribe("state", l)
	d.Unsubscribe("state", l)
	d.Publish("state", nil)

	if calls != 0 {
		t.Fatalf("got %d calls after re-subscribe/unsubscribe, want 0", calls)
	}
}

func TestUnsubscribeUnknownListenerIsNoop(t *testing.T) {
	d := NewDispatcher()
	d.Unsubscribe("state", NewListener(func(any) {}))
}

func TestListenerUnsubscribedMidPublishIsSkipped(t *testing.T) {
	d := NewDispatcher()

	lateCalls := 0
	late := NewListener(func(any) { lateCalls++ })
	early := NewListener(func(any) { d.Unsubscribe("state", late) })

	d.Subscribe("state", early)
	d.Subscribe("state", late)

	d.Publish("state", nil)

	if lateCalls != 0 {
		t.Fatalf("got %d calls for listener removed mid-publish, want 0", lateCalls)
	}
}

func TestPanickingListenerDoesNotStopOthers(t *testing.T) {
	d := NewDispatcher()

	calls := 0
	d.Subscribe("state", NewListener(func(any) { panic("boom") }))
	d.Subscribe("state", NewListener(func(any) { calls++ }))

	d.Publish("state", nil)

	if calls != 1 {
		t.Fatalf("listener after panicking one: got %d calls, want 1", calls)
	}
}

func TestPublishPassesPayload(t *testing.T) {
	d := NewDispatcher()

	var got any
	d.Subscribe("msg", NewListener(func(p any) { got = p }))

	payload := map[string]string{"action": "play"}
	d.Publish("msg", payload)

	m, ok := got.(map[string]string)
	if !ok {
		t.Fatalf("payload type: got %T, want map[string]string", got)
	}
	if m["action"] != "play" {
		t.Fatalf("payload action: got %s, want play", m["action"])
	}
}

func TestClearNamedAndAll(t *testing.T) {
	d := NewDispatcher()

	stateCalls, msgCalls := 0, 0
	d.Subscribe("state", NewListener(func(any) { stateCalls++ }))
	d.Subscribe("msg", NewListener(func(any) { msgCalls++ }))

	d.Clear("state")
	d.Publish("state", nil)
	d.Publish("msg", nil)

	if stateCalls != 0 {
		t.Fatalf("cleared event: got %d calls, want 0", stateCalls)
	}
	if msgCalls != 1 {
		t.Fatalf("untouched event: got %d calls, want 1", msgCalls)
	}

	d.Clear()
	d.Publish("msg", nil)

	if msgCalls != 1 {
		t.Fatalf("after full clear: got %d calls, want 1", msgCalls)
	}
}

func TestPublishWithoutListeners(t *testing.T) {
	d := NewDispatcher()
	d.Publish("state", nil)
}
