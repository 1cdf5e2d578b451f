package signalbus

import "testing"

func TestPublishDeliversInRegistrationOrder(t *testing.T) {
	b := New()
	var order []int
	b.Subscribe(Buy, func(ts int64) { order = append(order, 1) })
	b.Subscribe(Buy, func(ts int64) { order = append(order, 2) })
	b.Subscribe(Sell, func(ts int64) { order = append(order, 99) })

	b.Publish(Buy, 1000)

	if len(order) != 2 || order[0] != 1 || order[1] != 2 {
		t.Fatalf("expected handlers called in registration order [1 2], got %v", order)
	}
}

func TestPublishOnlyReachesItsOwnTopic(t *testing.T) {
	b := New()
	called := false
	b.Subscribe(Sell, func(ts int64) { called = true })

	b.Publish(Buy, 1)

	if called {
		t.Fatal("expected SELL subscriber not to be invoked by a BUY publish")
	}
}

func TestPublishWithNoSubscribersIsANoop(t *testing.T) {
	b := New()
	b.Publish(Buy, 1) // must not panic
}
