package buffer

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func newTestPool(n, size int) *Pool {
	return NewPool(n, size, zerolog.Nop())
}

func TestAcquireRelease_RoundTrip(t *testing.T) {
	p := newTestPool(2, 128)
	buf, err := p.Acquire(context.Background(), 128)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if p.Available() != 1 {
		t.Fatalf("expected 1 available, got %d", p.Available())
	}
	buf.OriginID = 7
	buf.NumTuples = 3
	buf.Release()
	if p.Available() != 2 {
		t.Fatalf("expected 2 available after release, got %d", p.Available())
	}
	if buf.OriginID != 0 || buf.NumTuples != 0 {
		t.Fatalf("expected metadata reset on release, got %+v", buf)
	}
}

func TestAcquireNonBlocking_PoolExhausted(t *testing.T) {
	p := newTestPool(1, 64)
	if _, err := p.AcquireNonBlocking(64); err != nil {
		t.Fatalf("first acquire should succeed: %v", err)
	}
	_, err := p.AcquireNonBlocking(64)
	if !errors.Is(err, ErrPoolExhausted) {
		t.Fatalf("expected ErrPoolExhausted, got %v", err)
	}
}

func TestAcquire_BlocksWhenEmpty(t *testing.T) {
	p := newTestPool(1, 64)
	buf, _ := p.Acquire(context.Background(), 64)

	done := make(chan struct{})
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()
		if _, err := p.Acquire(ctx, 64); !errors.Is(err, context.DeadlineExceeded) {
			t.Errorf("expected deadline exceeded, got %v", err)
		}
		close(done)
	}()
	<-done
	buf.Release()
}

func TestAcquire_Oversized_ReturnsUnpooledBuffer(t *testing.T) {
	p := newTestPool(1, 64)
	buf, err := p.Acquire(context.Background(), 512)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if !buf.Unpooled() {
		t.Fatalf("expected unpooled buffer for oversized request")
	}
	if len(buf.Bytes()) != 512 {
		t.Fatalf("expected 512-byte buffer, got %d", len(buf.Bytes()))
	}
	if p.Available() != 1 {
		t.Fatalf("oversized acquire should not consume a pooled slot")
	}
	buf.Release() // should not panic, frees silently
}

func TestCloneRelease_RefCounting(t *testing.T) {
	p := newTestPool(1, 64)
	buf, _ := p.Acquire(context.Background(), 64)
	clone := buf.Clone()
	if clone != buf {
		t.Fatalf("Clone should return the same buffer pointer")
	}
	buf.Release()
	if p.Available() != 0 {
		t.Fatalf("buffer should still be held after one of two releases")
	}
	buf.Release()
	if p.Available() != 1 {
		t.Fatalf("buffer should return to pool after matching release count")
	}
}
