package errlog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/docextract/internal/db/memory"
	"github.com/kailas-cloud/docextract/internal/domain/failure"
)

func newFailure(code failure.Code, msg string) *failure.Failure {
	class := failure.Lookup(code)
	return &failure.Failure{Class: class, Message: class.Message(msg), RecoveryMessage: class.RecoveryMessage}
}

func TestLog_AssignsCorrelationID(t *testing.T) {
	l := New(Config{Capacity: 4}, nil, zap.NewNop())
	f := newFailure(failure.CodeAPI, "rate limit")

	e := l.Append(f, map[string]string{"filename": "a.png"})

	if e.CorrelationID == "" || f.CorrelationID != e.CorrelationID {
		t.Fatalf("expected correlation id on entry and failure, got %q / %q", e.CorrelationID, f.CorrelationID)
	}
	if e.Code != failure.CodeAPI || e.Action != failure.ActionRetryWithBackoff {
		t.Errorf("unexpected entry: %+v", e)
	}
	if e.Context["filename"] != "a.png" {
		t.Errorf("expected context copied, got %v", e.Context)
	}
}

func TestLog_KeepsExistingCorrelationID(t *testing.T) {
	l := New(Config{}, nil, zap.NewNop())
	f := newFailure(failure.CodeTimeout, "")
	f.CorrelationID = "fixed-id"

	if e := l.Append(f, nil); e.CorrelationID != "fixed-id" {
		t.Errorf("expected fixed-id, got %q", e.CorrelationID)
	}
}

func TestLog_RingEvictsOldest(t *testing.T) {
	l := New(Config{Capacity: 3}, nil, zap.NewNop())
	for i := range 5 {
		l.Append(newFailure(failure.CodeNetwork, fmt.Sprintf("n%d", i)), nil)
	}

	if l.Len() != 3 || l.Total() != 5 {
		t.Fatalf("expected len 3 / total 5, got %d / %d", l.Len(), l.Total())
	}
	got := l.Recent(0)
	want := []string{"n4", "n3", "n2"}
	for i, e := range got {
		if e.Message != failure.Lookup(failure.CodeNetwork).Message(want[i]) {
			t.Errorf("entry %d: got %q, want suffix %q", i, e.Message, want[i])
		}
	}
	if len(l.Recent(2)) != 2 {
		t.Error("limit must cap the result")
	}
}

func TestLog_ShipsToStore(t *testing.T) {
	store := memory.New()
	l := New(Config{Ship: true, ShipMaxLen: 2}, store, zap.NewNop())

	for range 3 {
		l.Append(newFailure(failure.CodeAPI, "boom"), nil)
	}
	if err := l.Close(context.Background()); err != nil {
		t.Fatalf("Close: %v", err)
	}

	items, err := store.Range(context.Background(), defaultShipKey, 0, -1)
	if err != nil {
		t.Fatalf("Range: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("expected list capped at 2, got %d", len(items))
	}
	var e Entry
	if err := json.Unmarshal(items[0], &e); err != nil {
		t.Fatalf("decode shipped entry: %v", err)
	}
	if e.Code != failure.CodeAPI || e.CorrelationID == "" {
		t.Errorf("unexpected shipped entry: %+v", e)
	}
}

type failingShipper struct {
	mu    sync.Mutex
	calls int
}

func (f *failingShipper) PushCapped(context.Context, string, []byte, int64) error {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	return errors.New("connection refused")
}

func TestLog_ShippingFailureIsSwallowed(t *testing.T) {
	s := &failingShipper{}
	l := New(Config{Ship: true}, s, zap.NewNop())

	e := l.Append(newFailure(failure.CodeMemory, ""), nil)
	if err := l.Close(context.Background()); err != nil {
		t.Fatalf("Close: %v", err)
	}

	if s.calls != 1 {
		t.Errorf("expected one shipping attempt, got %d", s.calls)
	}
	if got := l.Recent(1); len(got) != 1 || got[0].CorrelationID != e.CorrelationID {
		t.Error("entry must stay in the ring when shipping fails")
	}
}

type blockingShipper struct{ release chan struct{} }

func (b *blockingShipper) PushCapped(ctx context.Context, _ string, _ []byte, _ int64) error {
	select {
	case <-b.release:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func TestLog_AppendDoesNotWaitForShipping(t *testing.T) {
	s := &blockingShipper{release: make(chan struct{})}
	l := New(Config{Ship: true, ShipTimeout: time.Minute}, s, zap.NewNop())

	done := make(chan struct{})
	go func() {
		l.Append(newFailure(failure.CodeAPI, ""), nil)
		_ = l.Recent(1)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Append or Recent blocked on shipping")
	}
	close(s.release)
	_ = l.Close(context.Background())
}

func TestLog_ConcurrentAppend(t *testing.T) {
	l := New(Config{Capacity: 10}, nil, zap.NewNop())
	var wg sync.WaitGroup
	for range 100 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			l.Append(newFailure(failure.CodeUnknown, ""), nil)
		}()
	}
	wg.Wait()

	if l.Len() != 10 || l.Total() != 100 {
		t.Errorf("expected 10 / 100, got %d / %d", l.Len(), l.Total())
	}
}
