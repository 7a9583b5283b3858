package watermark_test

import (
	"testing"

	"github.com/nebula-stream/nebula/internal/watermark"
	"github.com/nebula-stream/nebula/pkg/ids"
)

func TestUpdate_SingleOrigin_MonotonicAdvance(t *testing.T) {
	p := watermark.New()

	g := p.Update(1, 0, 0, true, 100)
	if g != 100 {
		t.Fatalf("expected global watermark 100, got %d", g)
	}
	g = p.Update(1, 1, 0, true, 200)
	if g != 200 {
		t.Fatalf("expected global watermark 200, got %d", g)
	}
}

func TestUpdate_OutOfOrderArrival_HoldsUntilGapFilled(t *testing.T) {
	p := watermark.New()

	// sn=1 arrives before sn=0: watermark must not advance past sn=0's value.
	g := p.Update(1, 1, 0, true, 200)
	if g != 0 {
		t.Fatalf("expected watermark to stay at 0 pending sn=0, got %d", g)
	}
	g = p.Update(1, 0, 0, true, 100)
	if g != 200 {
		t.Fatalf("expected watermark to jump to 200 once sn=0 fills the gap, got %d", g)
	}
}

func TestUpdate_MultiChunkSequence_AdvancesOnlyOnLastChunk(t *testing.T) {
	p := watermark.New()

	g := p.Update(1, 0, 0, false, 50)
	if g != 0 {
		t.Fatalf("expected 0 before last chunk, got %d", g)
	}
	g = p.Update(1, 0, 1, true, 100)
	if g != 100 {
		t.Fatalf("expected 100 after last chunk, got %d", g)
	}
}

func TestGlobal_MinimumAcrossOrigins(t *testing.T) {
	p := watermark.New()
	p.Update(1, 0, 0, true, 100)
	p.Update(2, 0, 0, true, 50)

	if g := p.Global(); g != 50 {
		t.Fatalf("expected global min 50, got %d", g)
	}
}

func TestRetireOrigin_ExcludedFromMinimum(t *testing.T) {
	p := watermark.New()
	p.Update(1, 0, 0, true, 100)
	p.Update(2, 0, 0, true, 50)

	p.RetireOrigin(2)
	if g := p.Global(); g != 100 {
		t.Fatalf("expected retired origin excluded, global should be 100, got %d", g)
	}
}

func TestOriginWatermark_UnknownOrigin(t *testing.T) {
	p := watermark.New()
	if _, ok := p.OriginWatermark(ids.OriginID(99)); ok {
		t.Fatalf("expected unknown origin to report ok=false")
	}
}

// TestUpdate_NonFinalChunkOfLaterSN_DoesNotPrematurelyDrain reproduces a
// non-final chunk for sn=1 arriving before sn=0 completes: draining sn=0
// must not treat the pending, not-yet-final sn=1 entry as sn=1's own
// completion and skip straight to a watermark sn=1 never actually reached.
func TestUpdate_NonFinalChunkOfLaterSN_DoesNotPrematurelyDrain(t *testing.T) {
	p := watermark.New()

	g := p.Update(1, 1, 0, false, 50)
	if g != 0 {
		t.Fatalf("expected 0 before sn=0 arrives, got %d", g)
	}

	g = p.Update(1, 0, 0, true, 10)
	if g != 10 {
		t.Fatalf("expected watermark to stop at sn=0's value (10), not drain the unfinished sn=1, got %d", g)
	}

	if wm, ok := p.OriginWatermark(1); !ok || wm != 10 {
		t.Fatalf("expected origin watermark 10, got %d (ok=%v)", wm, ok)
	}

	// Completing sn=1 now must advance to its own watermark.
	g = p.Update(1, 1, 0, true, 50)
	if g != 50 {
		t.Fatalf("expected watermark 50 once sn=1 actually completes, got %d", g)
	}
}

func TestNumOrigins(t *testing.T) {
	p := watermark.New()
	p.Update(1, 0, 0, true, 1)
	p.Update(2, 0, 0, true, 1)
	p.Update(1, 1, 0, true, 2)
	if n := p.NumOrigins(); n != 2 {
		t.Fatalf("expected 2 origins, got %d", n)
	}
}
