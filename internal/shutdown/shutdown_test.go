package shutdown

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
)

func TestCoordinator_ReverseOrder(t *testing.T) {
	var order []string
	record := func(name string, err error) Func {
		return func(context.Context) error {
			order = append(order, name)
			return err
		}
	}

	boom := errors.New("boom")
	c := NewCoordinator(slog.New(slog.NewTextHandler(io.Discard, nil)))
	c.Register("history", record("history", nil))
	c.Register("publisher", record("publisher", boom))
	c.Register("scheduler", record("scheduler", nil))

	if c.ComponentCount() != 3 {
		t.Fatalf("ComponentCount() = %d, want 3", c.ComponentCount())
	}

	err := c.Shutdown(context.Background())
	if !errors.Is(err, boom) {
		t.Errorf("Shutdown() error = %v, want wrapped boom", err)
	}

	want := []string{"scheduler", "publisher", "history"}
	if len(order) != len(want) {
		t.Fatalf("order = %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Errorf("order[%d] = %s, want %s", i, order[i], want[i])
		}
	}
}

func TestCoordinator_DeadlineExceeded(t *testing.T) {
	called := false
	c := NewCoordinator(slog.New(slog.NewTextHandler(io.Discard, nil)))
	c.Register("history", Func(func(context.Context) error {
		called = true
		return nil
	}))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := c.Shutdown(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("Shutdown() error = %v, want context.Canceled", err)
	}
	if called {
		t.Error("component ran after the deadline")
	}
}
