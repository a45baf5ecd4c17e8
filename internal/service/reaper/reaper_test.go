package reaper

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestReaper_SweepExpired_DrainsBatches(t *testing.T) {
	t.Parallel()

	ledger := &stubLedger{cancelBatches: []int{5, 5, 2}}
	reaper := NewReaper(ledger, WithBatchSize(5), WithExpiryWindow(10*time.Minute))

	now := time.Date(2026, 2, 10, 12, 0, 0, 0, time.UTC)
	total := reaper.SweepExpired(context.Background(), now)

	if total != 12 {
		t.Fatalf("expected 12 cancelled orders, got %d", total)
	}
	if got := len(ledger.cancelCutoffs); got != 3 {
		t.Fatalf("expected 3 batch calls, got %d", got)
	}
	wantCutoff := now.Add(-10 * time.Minute)
	for i, cutoff := range ledger.cancelCutoffs {
		if !cutoff.Equal(wantCutoff) {
			t.Fatalf("batch %d: expected cutoff %s, got %s", i, wantCutoff, cutoff)
		}
	}
}

func TestReaper_SweepExpired_StopsOnError(t *testing.T) {
	t.Parallel()

	ledger := &stubLedger{cancelErr: errors.New("storage down")}
	reaper := NewReaper(ledger, WithBatchSize(5))

	total := reaper.SweepExpired(context.Background(), time.Now().UTC())

	if total != 0 {
		t.Fatalf("expected 0 cancelled orders on error, got %d", total)
	}
	if got := len(ledger.cancelCutoffs); got != 1 {
		t.Fatalf("expected single attempt before bailing out, got %d", got)
	}
}

func TestReaper_SweepAutoReceipt_UsesGracePeriod(t *testing.T) {
	t.Parallel()

	ledger := &stubLedger{confirmBatches: []int{3}}
	reaper := NewReaper(ledger, WithReceiptGrace(168*time.Hour), WithBatchSize(50))

	now := time.Date(2026, 2, 10, 12, 0, 0, 0, time.UTC)
	total := reaper.SweepAutoReceipt(context.Background(), now)

	if total != 3 {
		t.Fatalf("expected 3 confirmed orders, got %d", total)
	}
	wantCutoff := now.Add(-168 * time.Hour)
	if got := len(ledger.confirmCutoffs); got != 1 {
		t.Fatalf("expected 1 batch call, got %d", got)
	}
	if !ledger.confirmCutoffs[0].Equal(wantCutoff) {
		t.Fatalf("expected cutoff %s, got %s", wantCutoff, ledger.confirmCutoffs[0])
	}
}

func TestReaper_RunOnce_RunsBothSweeps(t *testing.T) {
	t.Parallel()

	ledger := &stubLedger{cancelBatches: []int{1}, confirmBatches: []int{1}}
	reaper := NewReaper(ledger, WithBatchSize(10))

	reaper.RunOnce(context.Background())

	if len(ledger.cancelCutoffs) != 1 {
		t.Fatalf("expected expiry sweep to run once, got %d calls", len(ledger.cancelCutoffs))
	}
	if len(ledger.confirmCutoffs) != 1 {
		t.Fatalf("expected auto-receipt sweep to run once, got %d calls", len(ledger.confirmCutoffs))
	}
	if ledger.countCalls != 1 {
		t.Fatalf("expected expirable gauge refresh, got %d count calls", ledger.countCalls)
	}
}

func TestReaper_Run_StopsOnContextCancel(t *testing.T) {
	t.Parallel()

	ledger := &stubLedger{}
	reaper := NewReaper(ledger, WithInterval(5*time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		reaper.Run(ctx)
	}()

	time.Sleep(15 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(1 * time.Second):
		t.Fatal("reaper did not stop on context cancel")
	}
}

func TestReaper_DefaultsApplied(t *testing.T) {
	t.Parallel()

	reaper := NewReaper(&stubLedger{}, WithInterval(-1), WithBatchSize(0))

	if reaper.interval != defaultInterval {
		t.Fatalf("expected default interval %s, got %s", defaultInterval, reaper.interval)
	}
	if reaper.batchSize != defaultBatchSize {
		t.Fatalf("expected default batch size %d, got %d", defaultBatchSize, reaper.batchSize)
	}
	if reaper.expiryWindow != defaultExpiryWindow {
		t.Fatalf("expected default expiry window %s, got %s", defaultExpiryWindow, reaper.expiryWindow)
	}
	if reaper.receiptGrace != defaultReceiptGrace {
		t.Fatalf("expected default receipt grace %s, got %s", defaultReceiptGrace, reaper.receiptGrace)
	}
}

type stubLedger struct {
	mu             sync.Mutex
	cancelBatches  []int
	cancelErr      error
	cancelCutoffs  []time.Time
	confirmBatches []int
	confirmErr     error
	confirmCutoffs []time.Time
	countCalls     int
}

func (s *stubLedger) CancelExpired(before time.Time, _ int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cancelCutoffs = append(s.cancelCutoffs, before)
	if s.cancelErr != nil {
		return 0, s.cancelErr
	}
	if len(s.cancelBatches) == 0 {
		return 0, nil
	}
	n := s.cancelBatches[0]
	s.cancelBatches = s.cancelBatches[1:]
	return n, nil
}

func (s *stubLedger) ConfirmDeliveredBefore(before time.Time, _ int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.confirmCutoffs = append(s.confirmCutoffs, before)
	if s.confirmErr != nil {
		return 0, s.confirmErr
	}
	if len(s.confirmBatches) == 0 {
		return 0, nil
	}
	n := s.confirmBatches[0]
	s.confirmBatches = s.confirmBatches[1:]
	return n, nil
}

func (s *stubLedger) CountExpiredPending(time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.countCalls++
	return 0, nil
}

var _ Ledger = (*stubLedger)(nil)
