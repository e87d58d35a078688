package pipeline

import (
	"context"
	"errors"
	"testing"

	"testpipe/internal/logger"
)

func TestTeardownStack_ReverseOrder(t *testing.T) {
	var order []string
	td := newTeardownStack()
	td.push("first", func(context.Context) error {
		order = append(order, "first")
		return nil
	})
	td.push("second", func(context.Context) error {
		order = append(order, "second")
		return nil
	})
	td.push("third", func(context.Context) error {
		order = append(order, "third")
		return nil
	})

	td.unwind(logger.New())

	want := []string{"third", "second", "first"}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("unwind order = %v, want %v", order, want)
		}
	}
}

func TestTeardownStack_FailureDoesNotStopUnwind(t *testing.T) {
	var ran []string
	td := newTeardownStack()
	td.push("first", func(context.Context) error {
		ran = append(ran, "first")
		return nil
	})
	td.push("second", func(context.Context) error {
		ran = append(ran, "second")
		return errors.New("stop failed")
	})

	td.unwind(logger.New())

	if len(ran) != 2 {
		t.Fatalf("ran = %v, want both releases attempted", ran)
	}
}

func TestTeardownStack_UnwindRunsOnPanic(t *testing.T) {
	released := false
	td := newTeardownStack()

	func() {
		defer func() { _ = recover() }()
		defer td.unwind(logger.New())
		td.push("resource", func(context.Context) error {
			released = true
			return nil
		})
		panic("stage blew up")
	}()

	if !released {
		t.Error("resource not released after panic")
	}
}

func TestTeardownStack_UnwindIsIdempotent(t *testing.T) {
	count := 0
	td := newTeardownStack()
	td.push("resource", func(context.Context) error {
		count++
		return nil
	})

	td.unwind(logger.New())
	td.unwind(logger.New())

	if count != 1 {
		t.Errorf("release ran %d times, want 1", count)
	}
}
