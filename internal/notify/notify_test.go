package notify

import (
	"sync"
	"testing"
	"time"
)

type fakeTimer struct {
	d       time.Duration
	fire    func()
	stopped bool
}

func (t *fakeTimer) Stop() bool {
	was := !t.stopped
	t.stopped = true
	return was
}

type fakeClock struct {
	mu     sync.Mutex
	timers []*fakeTimer
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{d: d, fire: f}
	c.timers = append(c.timers, t)
	return t
}

func (c *fakeClock) last() *fakeTimer {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.timers[len(c.timers)-1]
}

func TestDefaultDurationsPerKind(t *testing.T) {
	clock := &fakeClock{}
	c := NewCenter(Options{AfterFunc: clock.AfterFunc})

	cases := []struct {
		add  func(string) string
		want time.Duration
	}{
		{c.Success, DefaultDuration},
		{c.Info, DefaultDuration},
		{c.Error, DefaultErrorDuration},
		{c.Warning, DefaultWarningDuration},
	}
	for _, tc := range cases {
		tc.add("message")
		if got := clock.last().d; got != tc.want {
			t.Fatalf("expected duration %s, got %s", tc.want, got)
		}
	}
	if got := len(c.List()); got != 4 {
		t.Fatalf("expected 4 notifications, got %d", got)
	}
}

func TestExpiryRemovesNotification(t *testing.T) {
	clock := &fakeClock{}
	c := NewCenter(Options{AfterFunc: clock.AfterFunc})
	first := c.Success("saved")
	second := c.Error("failed")

	clock.timers[0].fire()
	list := c.List()
	if len(list) != 1 || list[0].ID != second {
		t.Fatalf("expected only %s to remain, got %+v", second, list)
	}
	c.Remove(first)
	if len(c.List()) != 1 {
		t.Fatalf("removing an expired notification must be a no-op")
	}
}

func TestZeroDurationIsSticky(t *testing.T) {
	clock := &fakeClock{}
	c := NewCenter(Options{AfterFunc: clock.AfterFunc, Durations: map[Kind]time.Duration{KindError: 0}})
	id := c.Error("needs attention")
	if len(clock.timers) != 0 {
		t.Fatalf("sticky notification must not schedule expiry")
	}
	c.Remove(id)
	if len(c.List()) != 0 {
		t.Fatalf("expected notification removed")
	}
}

func TestRemoveStopsTimer(t *testing.T) {
	clock := &fakeClock{}
	c := NewCenter(Options{AfterFunc: clock.AfterFunc})
	id := c.Info("hello")
	c.Remove(id)
	if !clock.last().stopped {
		t.Fatalf("expected expiry timer to be stopped")
	}
}

func TestSubscribersSeeEveryChange(t *testing.T) {
	c := NewCenter(Options{AfterFunc: (&fakeClock{}).AfterFunc})
	var sizes []int
	cancel := c.Subscribe(func(items []Notification) { sizes = append(sizes, len(items)) })
	a := c.Success("a")
	c.Warning("b")
	c.Remove(a)
	cancel()
	c.Info("c")

	want := []int{1, 2, 1}
	if len(sizes) != len(want) {
		t.Fatalf("expected %v, got %v", want, sizes)
	}
	for i := range want {
		if sizes[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, sizes)
		}
	}
}

func TestRealTimerExpires(t *testing.T) {
	c := NewCenter(Options{Durations: map[Kind]time.Duration{KindSuccess: 10 * time.Millisecond}})
	defer c.Close()
	done := make(chan struct{})
	c.Subscribe(func(items []Notification) {
		if len(items) == 0 {
			close(done)
		}
	})
	c.Success("flash")
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("notification did not expire")
	}
}

func TestListenerMayReadCenterDuringConcurrentAdds(t *testing.T) {
	c := NewCenter(Options{})
	defer c.Close()
	var lengths []int
	stop := c.Subscribe(func(list []Notification) {
		if cur := len(c.List()); cur < len(list) {
			t.Errorf("center shrank to %d while publishing %d", cur, len(list))
		}
		lengths = append(lengths, len(list))
	})
	defer stop()

	const perWriter = 200
	var wg sync.WaitGroup
	for w := 0; w < 2; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				c.Add(KindInfo, "saved", 0)
			}
		}()
	}
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatalf("concurrent adds with a reading listener did not finish")
	}
	for i, n := range lengths {
		if n != i+1 {
			t.Fatalf("change %d delivered %d notifications, want %d", i, n, i+1)
		}
	}
}
