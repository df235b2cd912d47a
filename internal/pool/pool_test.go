package pool

import (
	"testing"

	"github.com/kstaniek/cannelloni-tunnel/internal/can"
)

func TestRequestInsertSwap(t *testing.T) {
	p := New(4, 4)
	f, err := p.RequestNB()
	if err != nil {
		t.Fatalf("RequestNB: %v", err)
	}
	f.CANID = 0x42
	p.Insert(f)
	if got := p.PendingLen(); got != 1 {
		t.Fatalf("PendingLen = %d, want 1", got)
	}
	p.Swap()
	if got := p.PendingLen(); got != 0 {
		t.Fatalf("PendingLen after swap = %d, want 0", got)
	}
	inFlight := p.InFlight()
	if len(inFlight) != 1 || inFlight[0].CANID != 0x42 {
		t.Fatalf("InFlight mismatch: %+v", inFlight)
	}
	p.UnlockIntermediate()
	p.MergeIntermediate()
	if len(p.InFlight()) != 0 {
		t.Fatalf("InFlight not cleared after merge")
	}
}

func TestGrowsWhenFreeExhausted(t *testing.T) {
	p := New(1, 2)
	f1, _ := p.RequestNB()
	if f1 == nil {
		t.Fatal("nil frame")
	}
	f2, err := p.RequestNB()
	if err != nil || f2 == nil {
		t.Fatalf("pool should grow rather than fail: %v", err)
	}
}

func TestPoolConservation(t *testing.T) {
	p := New(8, 8)
	total := func() int {
		p.freeMu.Lock()
		free := len(p.free)
		p.freeMu.Unlock()
		p.pendingMu.Lock()
		pending := len(p.pending)
		p.pendingMu.Unlock()
		return free + pending + len(p.inFlight)
	}
	start := total()

	var frames []*can.Frame
	for i := 0; i < 3; i++ {
		f, _ := p.RequestNB()
		f.CANID = uint32(i)
		p.Insert(f)
		frames = append(frames, f)
	}
	if got := total(); got != start {
		t.Fatalf("conservation broken after insert: got %d want %d", got, start)
	}

	p.Swap()
	if got := total(); got != start {
		t.Fatalf("conservation broken after swap: got %d want %d", got, start)
	}
	p.UnlockIntermediate()
	p.MergeIntermediate()
	if got := total(); got != start {
		t.Fatalf("conservation broken after merge: got %d want %d", got, start)
	}
}

func TestReturnIntermediatePreservesFIFO(t *testing.T) {
	p := New(8, 8)
	var ids []uint32
	for i := uint32(1); i <= 5; i++ {
		f, _ := p.RequestNB()
		f.CANID = i
		p.Insert(f)
		ids = append(ids, i)
	}
	p.Swap()
	// Pretend only the first two frames fit in the current datagram; return
	// the rest (indices 2..4) to Pending.
	p.ReturnIntermediate(2)
	if got := len(p.InFlight()); got != 2 {
		t.Fatalf("InFlight len after return = %d, want 2", got)
	}
	p.UnlockIntermediate()
	p.MergeIntermediate()

	if got := p.PendingLen(); got != 3 {
		t.Fatalf("PendingLen after return = %d, want 3", got)
	}

	// A new producer insert must land after the returned tail, not before it.
	f, _ := p.RequestNB()
	f.CANID = 6
	p.Insert(f)

	p.Swap()
	got := p.InFlight()
	if len(got) != 4 {
		t.Fatalf("InFlight len = %d, want 4", len(got))
	}
	want := []uint32{3, 4, 5, 6}
	for i, id := range want {
		if got[i].CANID != id {
			t.Fatalf("InFlight[%d].CANID = %d, want %d (FIFO violated)", i, got[i].CANID, id)
		}
	}
	p.UnlockIntermediate()
	p.MergeIntermediate()
}

func TestSortIntermediateAscending(t *testing.T) {
	p := New(8, 8)
	for _, id := range []uint32{30, 10, 20} {
		f, _ := p.RequestNB()
		f.CANID = id
		p.Insert(f)
	}
	p.Swap()
	p.SortIntermediate()
	got := p.InFlight()
	want := []uint32{10, 20, 30}
	for i, id := range want {
		if got[i].CANID != id {
			t.Fatalf("InFlight[%d] = %d, want %d", i, got[i].CANID, id)
		}
	}
	p.UnlockIntermediate()
	p.MergeIntermediate()
}

func TestPendingSizeUpperBound(t *testing.T) {
	p := New(4, 4)
	f, _ := p.RequestNB()
	f.CANID = 1
	f.Len = 8
	p.Insert(f)
	// can_id(4) + len(1) + data(8) = 13, no FD flags byte.
	if got := p.PendingSize(); got != 13 {
		t.Fatalf("PendingSize = %d, want 13", got)
	}
}

func TestReturnPendingReleasesToFree(t *testing.T) {
	p := New(1, 1)
	f, _ := p.RequestNB()
	p.freeMu.Lock()
	freeBefore := len(p.free)
	p.freeMu.Unlock()
	p.ReturnPending(f)
	p.freeMu.Lock()
	freeAfter := len(p.free)
	p.freeMu.Unlock()
	if freeAfter != freeBefore+1 {
		t.Fatalf("free count = %d, want %d", freeAfter, freeBefore+1)
	}
}
