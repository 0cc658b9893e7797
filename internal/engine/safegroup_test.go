package engine

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/cobble/cobble/pkg/logger"
)

func TestSafeGroup_RunsAll(t *testing.T) {
	sg, _ := NewSafeGroup(context.Background(), logger.Nop())

	var n atomic.Int32
	for i := 0; i < 10; i++ {
		sg.Go(func() error {
			n.Add(1)
			return nil
		})
	}

	if err := sg.Wait(); err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	if n.Load() != 10 {
		t.Errorf("ran %d functions, want 10", n.Load())
	}
}

func TestSafeGroup_RecoversPanic(t *testing.T) {
	sg, _ := NewSafeGroup(context.Background(), nil)

	sg.Go(func() error {
		panic("waiter exploded")
	})

	err := sg.Wait()
	if err == nil || !strings.Contains(err.Error(), "waiter exploded") {
		t.Errorf("Wait() error = %v, want recovered panic", err)
	}
}

func TestSafeGroup_ReturnsFirstError(t *testing.T) {
	sg, ctx := NewSafeGroup(context.Background(), nil)
	boom := errors.New("boom")

	sg.Go(func() error { return boom })
	sg.Go(func() error {
		<-ctx.Done()
		return nil
	})

	if err := sg.Wait(); !errors.Is(err, boom) {
		t.Errorf("Wait() error = %v, want boom", err)
	}
}
