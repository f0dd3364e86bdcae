package broadcast

import (
	"errors"
	"sync"
	"testing"
)

func TestBroadcaster_FanOutInOrder(t *testing.T) {
	b := New[int]("test")
	defer b.Close()

	var first, second []int
	b.Subscribe(func(v int) { first = append(first, v) })
	b.Subscribe(func(v int) { second = append(second, v) })

	for _, v := range []int{1, 2, 3} {
		if err := b.Publish(v); err != nil {
			t.Fatalf("Publish(%d) failed: %v", v, err)
		}
	}

	want := []int{1, 2, 3}
	for name, got := range map[string][]int{"first": first, "second": second} {
		if len(got) != len(want) {
			t.Fatalf("%s subscriber got %d values, want %d", name, len(got), len(want))
		}
		for i := range want {
			if got[i] != want[i] {
				t.Errorf("%s subscriber[%d] = %d, want %d", name, i, got[i], want[i])
			}
		}
	}
}

func TestBroadcaster_LateSubscriberMissesEarlierPublish(t *testing.T) {
	b := New[string]("test")
	defer b.Close()

	b.Publish("early")

	var got []string
	b.Subscribe(func(v string) { got = append(got, v) })
	b.Publish("late")

	if len(got) != 1 || got[0] != "late" {
		t.Errorf("late subscriber got %v, want [late]", got)
	}
}

func TestBroadcaster_Unsubscribe(t *testing.T) {
	b := New[int]("test")
	defer b.Close()

	var count int
	unsub := b.Subscribe(func(int) { count++ })

	b.Publish(1)
	unsub()
	b.Publish(2)
	unsub() // second call is a no-op

	if count != 1 {
		t.Errorf("handler ran %d times, want 1", count)
	}
	if n := b.SubscriberCount(); n != 0 {
		t.Errorf("SubscriberCount() = %d, want 0", n)
	}
}

func TestBroadcaster_SubscribeOnce(t *testing.T) {
	b := New[int]("test")
	defer b.Close()

	var got []int
	b.SubscribeOnce(func(v int) { got = append(got, v) })

	b.Publish(1)
	b.Publish(2)

	if len(got) != 1 || got[0] != 1 {
		t.Errorf("once handler got %v, want [1]", got)
	}
}

func TestBroadcaster_CloseIsTerminal(t *testing.T) {
	b := New[int]("test")

	var count int
	b.Subscribe(func(int) { count++ })

	b.Close()
	b.Close() // idempotent

	if err := b.Publish(1); !errors.Is(err, ErrClosed) {
		t.Errorf("Publish after Close = %v, want ErrClosed", err)
	}
	if count != 0 {
		t.Errorf("handler ran %d times after close, want 0", count)
	}
	if n := b.SubscriberCount(); n != 0 {
		t.Errorf("SubscriberCount() after Close = %d, want 0", n)
	}
}

func TestBroadcaster_SubscriberCanUnsubscribeDuringPublish(t *testing.T) {
	b := New[int]("test")
	defer b.Close()

	var unsub func()
	var count int
	unsub = b.Subscribe(func(int) {
		count++
		unsub()
	})

	b.Publish(1)
	b.Publish(2)

	if count != 1 {
		t.Errorf("handler ran %d times, want 1", count)
	}
}

func TestBroadcaster_ConcurrentPublish(t *testing.T) {
	b := New[int]("test")
	defer b.Close()

	var mu sync.Mutex
	var total int
	b.Subscribe(func(v int) {
		mu.Lock()
		total += v
		mu.Unlock()
	})

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			b.Publish(1)
		}()
	}
	wg.Wait()

	if total != 50 {
		t.Errorf("total = %d, want 50", total)
	}
}
