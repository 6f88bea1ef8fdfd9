package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/crossmedia/fourallportal/internal/model"
)

func TestIngestEvent_Idempotent(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	m := createTestModule(t, s, "pim.example.com", "products")

	ev := createTestEvent(m, 10)
	inserted, err := s.IngestEvent(ctx, ev)
	if err != nil {
		t.Fatalf("IngestEvent() failed: %v", err)
	}
	if !inserted {
		t.Error("first IngestEvent() inserted = false, want true")
	}

	inserted, err = s.IngestEvent(ctx, ev)
	if err != nil {
		t.Fatalf("second IngestEvent() failed: %v", err)
	}
	if inserted {
		t.Error("second IngestEvent() inserted = true, want false")
	}

	var count int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM events`).Scan(&count); err != nil {
		t.Fatalf("count failed: %v", err)
	}
	if count != 1 {
		t.Errorf("events = %d, want 1", count)
	}
}

func TestIngestEvent_CursorMonotonic(t *testing.T) {
	clock := newTestClock()
	s := createTestStore(t, WithClock(clock.Now))
	ctx := context.Background()
	m := createTestModule(t, s, "pim.example.com", "products")

	for _, id := range []int64{5, 9, 3} {
		if _, err := s.IngestEvent(ctx, createTestEvent(m, id)); err != nil {
			t.Fatalf("IngestEvent(%d) failed: %v", id, err)
		}
		clock.Advance(time.Second)
	}

	got, err := s.GetModule(ctx, m.ID)
	if err != nil {
		t.Fatalf("GetModule() failed: %v", err)
	}
	if got.LastEventID != 9 {
		t.Errorf("LastEventID = %d, want 9", got.LastEventID)
	}
	want := clock.Now().Add(-time.Second)
	if !got.LastReceivedAt.Equal(want) {
		t.Errorf("LastReceivedAt = %v, want %v", got.LastReceivedAt, want)
	}
}

func TestIngestEvent_StoresFields(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	m := createTestModule(t, s, "pim.example.com", "products")

	ev := createTestEvent(m, 1)
	ev.Action = model.ActionDelete
	if _, err := s.IngestEvent(ctx, ev); err != nil {
		t.Fatalf("IngestEvent() failed: %v", err)
	}

	queued, err := s.ListQueued(ctx, nil, 0)
	if err != nil {
		t.Fatalf("ListQueued() failed: %v", err)
	}
	if len(queued) != 1 {
		t.Fatalf("len(queued) = %d, want 1", len(queued))
	}
	got := queued[0]
	if got.Action != model.ActionDelete {
		t.Errorf("Action = %q, want %q", got.Action, model.ActionDelete)
	}
	if got.Status != model.StatusQueued || got.Processing {
		t.Errorf("status = %q processing = %v, want queued/false", got.Status, got.Processing)
	}
	if got.Target != "obj-1" {
		t.Errorf("Target = %q, want obj-1", got.Target)
	}
	if string(got.Payload) != `{"name":"x"}` {
		t.Errorf("Payload = %s", got.Payload)
	}
}

func TestListQueued_OrderAndFilter(t *testing.T) {
	clock := newTestClock()
	s := createTestStore(t, WithClock(clock.Now))
	ctx := context.Background()
	products := createTestModule(t, s, "a.example.com", "products")
	assets := createTestModule(t, s, "b.example.com", "assets")

	for _, ev := range []model.Event{
		createTestEvent(assets, 1),
		createTestEvent(products, 1),
		createTestEvent(products, 2),
	} {
		if _, err := s.IngestEvent(ctx, ev); err != nil {
			t.Fatalf("IngestEvent() failed: %v", err)
		}
		clock.Advance(time.Millisecond)
	}

	all, err := s.ListQueued(ctx, nil, 0)
	if err != nil {
		t.Fatalf("ListQueued(nil) failed: %v", err)
	}
	if len(all) != 3 || all[0].ModuleID != assets.ID {
		t.Fatalf("ListQueued(nil) = %+v, want assets event first", all)
	}

	onlyProducts, err := s.ListQueued(ctx, []int64{products.ID}, 1)
	if err != nil {
		t.Fatalf("ListQueued(products) failed: %v", err)
	}
	if len(onlyProducts) != 1 || onlyProducts[0].RemoteID != 1 {
		t.Errorf("ListQueued(products, 1) = %+v", onlyProducts)
	}

	none, err := s.ListQueued(ctx, []int64{}, 0)
	if err != nil {
		t.Fatalf("ListQueued(empty) failed: %v", err)
	}
	if len(none) != 0 {
		t.Errorf("ListQueued(empty) = %d events, want 0", len(none))
	}
}

func TestClaimLifecycle(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	m := createTestModule(t, s, "pim.example.com", "products")
	if _, err := s.IngestEvent(ctx, createTestEvent(m, 1)); err != nil {
		t.Fatalf("IngestEvent() failed: %v", err)
	}
	queued, _ := s.ListQueued(ctx, nil, 0)
	id := queued[0].ID

	ok, err := s.ClaimEvent(ctx, id, "token-a")
	if err != nil || !ok {
		t.Fatalf("ClaimEvent() = %v, %v; want true, nil", ok, err)
	}

	ok, err = s.ClaimEvent(ctx, id, "token-b")
	if err != nil {
		t.Fatalf("second ClaimEvent() failed: %v", err)
	}
	if ok {
		t.Error("second ClaimEvent() = true, want false")
	}

	n, err := s.CountProcessing(ctx)
	if err != nil || n != 1 {
		t.Errorf("CountProcessing() = %d, %v; want 1", n, err)
	}

	if err := s.CompleteEvent(ctx, id, "token-b"); !errors.Is(err, ErrClaimLost) {
		t.Errorf("CompleteEvent(wrong token) = %v, want ErrClaimLost", err)
	}
	if err := s.CompleteEvent(ctx, id, "token-a"); err != nil {
		t.Fatalf("CompleteEvent() failed: %v", err)
	}

	got, err := s.GetEvent(ctx, id)
	if err != nil {
		t.Fatalf("GetEvent() failed: %v", err)
	}
	if got.Status != model.StatusDone || got.Processing {
		t.Errorf("status = %q processing = %v, want done/false", got.Status, got.Processing)
	}
	if got.ProcessedAt.IsZero() {
		t.Error("ProcessedAt not set")
	}

	n, _ = s.CountProcessing(ctx)
	if n != 0 {
		t.Errorf("CountProcessing() after complete = %d, want 0", n)
	}
}

func TestFailEvent_RecordsMessage(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	m := createTestModule(t, s, "pim.example.com", "products")
	s.IngestEvent(ctx, createTestEvent(m, 1))
	queued, _ := s.ListQueued(ctx, nil, 0)
	id := queued[0].ID

	if _, err := s.ClaimEvent(ctx, id, "t"); err != nil {
		t.Fatalf("ClaimEvent() failed: %v", err)
	}
	if err := s.FailEvent(ctx, id, "t", "mapping exploded"); err != nil {
		t.Fatalf("FailEvent() failed: %v", err)
	}

	got, _ := s.GetEvent(ctx, id)
	if got.Status != model.StatusError {
		t.Errorf("Status = %q, want error", got.Status)
	}
	if got.Message != "mapping exploded" {
		t.Errorf("Message = %q", got.Message)
	}

	n, err := s.RequeueErrors(ctx, nil)
	if err != nil || n != 1 {
		t.Fatalf("RequeueErrors() = %d, %v; want 1", n, err)
	}
	got, _ = s.GetEvent(ctx, id)
	if got.Status != model.StatusQueued || got.Message != "" {
		t.Errorf("after requeue: status = %q message = %q", got.Status, got.Message)
	}
}

func TestRequeueStale_RejectsLateFinish(t *testing.T) {
	clock := newTestClock()
	s := createTestStore(t, WithClock(clock.Now))
	ctx := context.Background()
	m := createTestModule(t, s, "pim.example.com", "products")
	s.IngestEvent(ctx, createTestEvent(m, 1))
	s.IngestEvent(ctx, createTestEvent(m, 2))
	queued, _ := s.ListQueued(ctx, nil, 0)

	if _, err := s.ClaimEvent(ctx, queued[0].ID, "old"); err != nil {
		t.Fatalf("ClaimEvent() failed: %v", err)
	}
	clock.Advance(2 * time.Hour)
	if _, err := s.ClaimEvent(ctx, queued[1].ID, "fresh"); err != nil {
		t.Fatalf("ClaimEvent() failed: %v", err)
	}

	n, err := s.RequeueStale(ctx, clock.Now().Add(-time.Hour))
	if err != nil {
		t.Fatalf("RequeueStale() failed: %v", err)
	}
	if n != 1 {
		t.Errorf("RequeueStale() = %d, want 1", n)
	}

	if err := s.CompleteEvent(ctx, queued[0].ID, "old"); !errors.Is(err, ErrClaimLost) {
		t.Errorf("late CompleteEvent() = %v, want ErrClaimLost", err)
	}
	if err := s.CompleteEvent(ctx, queued[1].ID, "fresh"); err != nil {
		t.Errorf("fresh CompleteEvent() failed: %v", err)
	}

	counts, err := s.CountByStatus(ctx)
	if err != nil {
		t.Fatalf("CountByStatus() failed: %v", err)
	}
	if counts[model.StatusQueued] != 1 || counts[model.StatusDone] != 1 || counts[model.StatusProcessing] != 0 {
		t.Errorf("CountByStatus() = %v", counts)
	}
}

func TestReleaseClaim(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	m := createTestModule(t, s, "pim.example.com", "products")
	s.IngestEvent(ctx, createTestEvent(m, 1))
	queued, _ := s.ListQueued(ctx, nil, 0)
	id := queued[0].ID

	s.ClaimEvent(ctx, id, "t")
	if err := s.ReleaseClaim(ctx, id, "t"); err != nil {
		t.Fatalf("ReleaseClaim() failed: %v", err)
	}
	if err := s.ReleaseClaim(ctx, id, "t"); !errors.Is(err, ErrClaimLost) {
		t.Errorf("second ReleaseClaim() = %v, want ErrClaimLost", err)
	}

	got, _ := s.GetEvent(ctx, id)
	if got.Status != model.StatusQueued || got.ClaimToken != "" {
		t.Errorf("after release: status = %q token = %q", got.Status, got.ClaimToken)
	}
}

// The only ways back to queued are stale recovery, ReleaseClaim and
// RequeueErrors. Each must leave events in the other statuses alone.
func TestRequeuePaths_TouchOnlyTheirStatus(t *testing.T) {
	clock := newTestClock()
	s := createTestStore(t, WithClock(clock.Now))
	ctx := context.Background()
	m := createTestModule(t, s, "pim.example.com", "products")
	for id := int64(1); id <= 4; id++ {
		s.IngestEvent(ctx, createTestEvent(m, id))
	}
	queued, _ := s.ListQueued(ctx, nil, 0)
	done, processing, failed, untouched := queued[0].ID, queued[1].ID, queued[2].ID, queued[3].ID

	s.ClaimEvent(ctx, done, "a")
	s.CompleteEvent(ctx, done, "a")
	s.ClaimEvent(ctx, processing, "b")
	s.ClaimEvent(ctx, failed, "c")
	s.FailEvent(ctx, failed, "c", "rejected")

	if n, err := s.RequeueErrors(ctx, nil); err != nil || n != 1 {
		t.Fatalf("RequeueErrors() = %d, %v; want 1", n, err)
	}
	if err := s.ReleaseClaim(ctx, done, "a"); !errors.Is(err, ErrClaimLost) {
		t.Errorf("ReleaseClaim(done) = %v, want ErrClaimLost", err)
	}
	if n, _ := s.RequeueStale(ctx, clock.Now().Add(-time.Hour)); n != 0 {
		t.Errorf("RequeueStale() of a fresh claim = %d, want 0", n)
	}

	want := map[int64]model.EventStatus{
		done:       model.StatusDone,
		processing: model.StatusProcessing,
		failed:     model.StatusQueued,
		untouched:  model.StatusQueued,
	}
	for id, status := range want {
		got, _ := s.GetEvent(ctx, id)
		if got.Status != status {
			t.Errorf("event %d status = %q, want %q", id, got.Status, status)
		}
	}
}

func TestGetEvent_NotFound(t *testing.T) {
	s := createTestStore(t)
	_, err := s.GetEvent(context.Background(), 42)
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("GetEvent() = %v, want ErrNotFound", err)
	}
}

func TestCountByStatus_Empty(t *testing.T) {
	s := createTestStore(t)
	counts, err := s.CountByStatus(context.Background())
	if err != nil {
		t.Fatalf("CountByStatus() failed: %v", err)
	}
	for _, st := range model.Statuses {
		if v, ok := counts[st]; !ok || v != 0 {
			t.Errorf("counts[%q] = %d, %v; want 0, true", st, v, ok)
		}
	}
}
