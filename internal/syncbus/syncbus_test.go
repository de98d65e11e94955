package syncbus

import (
	"context"
	"testing"
	"time"
)

func TestNotifyReachesAllSubscribers(t *testing.T) {
	bus := New(nil, nil)

	ch1, cancel1 := bus.Subscribe()
	defer cancel1()
	ch2, cancel2 := bus.Subscribe()
	defer cancel2()

	bus.Notify(context.Background())

	for i, ch := range []<-chan struct{}{ch1, ch2} {
		select {
		case <-ch:
		case <-time.After(time.Second):
			t.Fatalf("subscriber %d received no signal", i+1)
		}
	}
}

func TestNotifyCoalescesPendingSignals(t *testing.T) {
	bus := New(nil, nil)
	ch, cancel := bus.Subscribe()
	defer cancel()

	ctx := context.Background()
	// 订阅者未消费时连续通知不会阻塞，信号被合并成一个。
	bus.Notify(ctx)
	bus.Notify(ctx)
	bus.Notify(ctx)

	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatal("expected a pending signal")
	}
	select {
	case <-ch:
		t.Fatal("signals were not coalesced")
	default:
	}
}

func TestCancelledSubscriberReceivesNothing(t *testing.T) {
	bus := New(nil, nil)
	ch, cancel := bus.Subscribe()
	cancel()

	bus.Notify(context.Background())

	select {
	case <-ch:
		t.Fatal("cancelled subscriber received a signal")
	default:
	}
}
