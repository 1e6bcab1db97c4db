package router_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"go.uber.org/goleak"

	"github.com/bdobrica/glum/internal/glum/chat"
	"github.com/bdobrica/glum/internal/glum/router"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestDispatcherKeepsThreadOrder(t *testing.T) {
	var mu sync.Mutex
	seen := map[string][]int{}
	d := router.NewDispatcher(4, func(_ context.Context, evt chat.Event) error {
		var n int
		fmt.Sscanf(evt.MessageID, "%d", &n)
		mu.Lock()
		seen[evt.ThreadID] = append(seen[evt.ThreadID], n)
		mu.Unlock()
		return nil
	}, nil)

	done := make(chan error, 1)
	go func() { done <- d.Run(context.Background()) }()

	ctx := context.Background()
	threads := []string{"a", "b", "c", "d", "e", "f"}
	const perThread = 50
	for i := 0; i < perThread; i++ {
		for _, th := range threads {
			if err := d.Submit(ctx, chat.Event{ThreadID: th, MessageID: fmt.Sprint(i)}); err != nil {
				t.Fatalf("Submit: %v", err)
			}
		}
	}
	d.Close()
	if err := <-done; err != nil {
		t.Fatalf("Run: %v", err)
	}

	for _, th := range threads {
		got := seen[th]
		if len(got) != perThread {
			t.Fatalf("thread %s handled %d events, want %d", th, len(got), perThread)
		}
		for i, n := range got {
			if n != i {
				t.Fatalf("thread %s out of order at %d: %v", th, i, got)
			}
		}
	}
}

func TestDispatcherDrainsAfterCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var mu sync.Mutex
	handled := 0
	d := router.NewDispatcher(2, func(ctx context.Context, evt chat.Event) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		mu.Lock()
		handled++
		mu.Unlock()
		return nil
	}, nil)

	for i := 0; i < 10; i++ {
		if err := d.Submit(ctx, chat.Event{ThreadID: fmt.Sprint(i)}); err != nil {
			t.Fatal(err)
		}
	}
	cancel()
	d.Close()
	if err := d.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if handled != 10 {
		t.Errorf("handled %d events, want 10", handled)
	}
}

func TestDispatcherClosed(t *testing.T) {
	d := router.NewDispatcher(0, func(context.Context, chat.Event) error { return nil }, nil)
	if d.Workers() != 1 {
		t.Errorf("workers = %d, want 1", d.Workers())
	}
	d.Close()
	d.Close()
	if err := d.Submit(context.Background(), chat.Event{}); !errors.Is(err, router.ErrDispatcherClosed) {
		t.Errorf("Submit after Close = %v", err)
	}
	if err := d.Run(context.Background()); err != nil {
		t.Errorf("Run = %v", err)
	}
}

func TestDispatcherSubmitHonoursContext(t *testing.T) {
	started := make(chan struct{}, 1)
	block := make(chan struct{})
	d := router.NewDispatcher(1, func(context.Context, chat.Event) error {
		select {
		case started <- struct{}{}:
		default:
		}
		<-block
		return nil
	}, nil)
	done := make(chan error, 1)
	go func() { done <- d.Run(context.Background()) }()

	bg := context.Background()
	if err := d.Submit(bg, chat.Event{ThreadID: "t"}); err != nil {
		t.Fatal(err)
	}
	<-started
	for i := 0; i < 64; i++ {
		if err := d.Submit(bg, chat.Event{ThreadID: "t"}); err != nil {
			t.Fatal(err)
		}
	}

	ctx, cancel := context.WithCancel(bg)
	cancel()
	if err := d.Submit(ctx, chat.Event{ThreadID: "t"}); !errors.Is(err, context.Canceled) {
		t.Errorf("Submit on full queue = %v, want context.Canceled", err)
	}

	close(block)
	d.Close()
	<-done
}
