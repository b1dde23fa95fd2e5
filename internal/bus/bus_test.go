package bus

import (
	"strings"
	"testing"

	"github.com/radbotlabs/radbot/pkg/models"
)

func textEvent(sessionID, text string) *models.Event {
	return &models.Event{
		SessionID: sessionID,
		Type:      models.EventModelResponse,
		ModelResponse: &models.ModelResponsePayload{
			AuthorAgent: "beto",
			Text:        text,
			IsFinal:     true,
		},
	}
}

func TestBusDelivery(t *testing.T) {
	b := New()
	sub := b.Subscribe("s1")
	other := b.Subscribe("s2")

	b.Publish(textEvent("s1", "hello"))

	select {
	case ev := <-sub.Events():
		if ev.ModelResponse.Text != "hello" {
			t.Errorf("text = %q", ev.ModelResponse.Text)
		}
	default:
		t.Fatal("subscriber received nothing")
	}

	select {
	case ev := <-other.Events():
		t.Fatalf("cross-session delivery: %+v", ev)
	default:
	}
}

func TestBusTruncation(t *testing.T) {
	b := New()
	sub := b.Subscribe("s1")

	original := textEvent("s1", strings.Repeat("a", TruncateThreshold+500))
	b.Publish(original)

	ev := <-sub.Events()
	got := ev.ModelResponse.Text
	if len(got) >= TruncateThreshold+500 {
		t.Fatalf("event not truncated, len = %d", len(got))
	}
	wantMarker := TruncationMarker(TruncateThreshold + 500)
	if !strings.HasSuffix(got, wantMarker) {
		t.Errorf("missing truncation marker, tail = %q", got[len(got)-80:])
	}
	if !strings.HasPrefix(got, strings.Repeat("a", 100)) {
		t.Error("truncated text should keep the head of the original")
	}

	// The stored event is untouched.
	if len(original.ModelResponse.Text) != TruncateThreshold+500 {
		t.Error("original event was mutated")
	}
}

func TestBusSmallEventNotCopied(t *testing.T) {
	b := New()
	sub := b.Subscribe("s1")

	original := textEvent("s1", "short")
	b.Publish(original)
	if ev := <-sub.Events(); ev != original {
		t.Error("small events should pass through without copying")
	}
}

func TestBusDropsThoughts(t *testing.T) {
	b := New()
	sub := b.Subscribe("s1")

	ev := textEvent("s1", "internal reasoning")
	ev.ModelResponse.Thought = true
	b.Publish(ev)

	select {
	case got := <-sub.Events():
		t.Fatalf("thought event leaked: %+v", got)
	default:
	}
}

func TestBusDropsStalledSubscriber(t *testing.T) {
	var drops int
	b := New(WithDropObserver(func(string) { drops++ }))
	sub := b.Subscribe("s1")

	// Never read; fill the buffer and one more.
	for i := 0; i <= subscriberBuffer; i++ {
		b.Publish(textEvent("s1", "x"))
	}

	if drops != 1 {
		t.Errorf("drop observer fired %d times, want 1", drops)
	}
	if b.SubscriberCount("s1") != 0 {
		t.Errorf("subscriber count = %d, want 0", b.SubscriberCount("s1"))
	}

	// Channel is closed after the buffered events drain.
	for i := 0; i < subscriberBuffer; i++ {
		<-sub.Events()
	}
	if _, ok := <-sub.Events(); ok {
		t.Error("channel should be closed after drop")
	}
}

func TestBusUnsubscribeIdempotent(t *testing.T) {
	b := New()
	sub := b.Subscribe("s1")
	b.Unsubscribe(sub)
	b.Unsubscribe(sub)
	b.Unsubscribe(nil)
	if b.SubscriberCount("s1") != 0 {
		t.Errorf("subscriber count = %d, want 0", b.SubscriberCount("s1"))
	}
}
