package pool

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Sternrassler/directory-groups/pkg/directory"
)

// stubClient satisfies directory.Client; the pool never calls it.
type stubClient struct {
	directory.Client
	id int
}

func countingFactory(created *atomic.Int32) Factory {
	return func() (directory.Client, error) {
		n := created.Add(1)
		return &stubClient{id: int(n)}, nil
	}
}

func TestNew_Validation(t *testing.T) {
	var created atomic.Int32

	if _, err := New(0, countingFactory(&created)); err == nil {
		t.Error("New(0) should fail")
	}
	if _, err := New(1, nil); err == nil {
		t.Error("New(nil factory) should fail")
	}
	if p, err := New(3, countingFactory(&created)); err != nil || p.Size() != 3 {
		t.Errorf("New(3) = %v, %v", p, err)
	}
}

func TestPool_ReusesReleasedClients(t *testing.T) {
	var created atomic.Int32
	p, _ := New(2, countingFactory(&created))
	ctx := context.Background()

	h1, err := p.Checkout(ctx)
	if err != nil {
		t.Fatalf("Checkout() error = %v", err)
	}
	first := h1.Client()
	h1.Release()
	h1.Release() // second release is a no-op

	h2, err := p.Checkout(ctx)
	if err != nil {
		t.Fatalf("Checkout() error = %v", err)
	}
	defer h2.Release()

	if h2.Client() != first {
		t.Error("expected the released client to be reused")
	}
	if created.Load() != 1 {
		t.Errorf("created = %d, want 1", created.Load())
	}
}

func TestPool_CheckoutBlocksWhenExhausted(t *testing.T) {
	var created atomic.Int32
	p, _ := New(1, countingFactory(&created))

	h, err := p.Checkout(context.Background())
	if err != nil {
		t.Fatalf("Checkout() error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := p.Checkout(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Checkout() on exhausted pool = %v, want DeadlineExceeded", err)
	}

	h.Release()
	if _, err := p.Checkout(context.Background()); err != nil {
		t.Errorf("Checkout() after release error = %v", err)
	}
}

func TestPool_UseReleasesOnError(t *testing.T) {
	var created atomic.Int32
	p, _ := New(1, countingFactory(&created))
	boom := errors.New("boom")

	err := p.Use(context.Background(), func(directory.Client) error { return boom })
	if !errors.Is(err, boom) {
		t.Errorf("Use() error = %v, want boom", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := p.Use(ctx, func(directory.Client) error { return nil }); err != nil {
		t.Errorf("client was not returned after error: %v", err)
	}
}

func TestPool_FactoryError(t *testing.T) {
	p, _ := New(1, func() (directory.Client, error) { return nil, errors.New("no credentials") })

	if _, err := p.Checkout(context.Background()); err == nil {
		t.Fatal("Checkout() should surface the factory error")
	}

	// The slot must have been returned.
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := p.sem.Acquire(ctx, 1); err != nil {
		t.Errorf("slot leaked after factory error: %v", err)
	}
}

func TestPool_Close(t *testing.T) {
	var created atomic.Int32
	p, _ := New(1, countingFactory(&created))

	h, _ := p.Checkout(context.Background())
	p.Close()
	h.Release()

	if _, err := p.Checkout(context.Background()); !errors.Is(err, ErrPoolClosed) {
		t.Errorf("Checkout() after Close = %v, want ErrPoolClosed", err)
	}
}
