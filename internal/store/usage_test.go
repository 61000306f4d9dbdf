package store

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestRequestCounterStopsAtLimit(t *testing.T) {
	t.Parallel()
	st := testStore(t)
	ctx := context.Background()
	day := UsageDayKey(time.Now())

	for i := 0; i < 3; i++ {
		if err := st.IncrementRequests(ctx, "t1", day, 3); err != nil {
			t.Fatalf("IncrementRequests(%d) error = %v", i, err)
		}
	}
	if err := st.IncrementRequests(ctx, "t1", day, 3); !errors.Is(err, ErrConflict) {
		t.Fatalf("over-limit increment error = %v, want ErrConflict", err)
	}

	u, err := st.GetUsage(ctx, "t1", day)
	if err != nil {
		t.Fatalf("GetUsage() error = %v", err)
	}
	if u.Requests != 3 {
		t.Fatalf("requests = %d, want 3", u.Requests)
	}
}

func TestByteReserveAndSettle(t *testing.T) {
	t.Parallel()
	st := testStore(t)
	ctx := context.Background()
	day := UsageDayKey(time.Now())

	if err := st.ReserveBytes(ctx, "t1", day, 600, 1000); err != nil {
		t.Fatalf("ReserveBytes() error = %v", err)
	}
	// Remaining budget is 400; a 600-byte reservation no longer fits.
	if err := st.ReserveBytes(ctx, "t1", day, 600, 1000); !errors.Is(err, ErrConflict) {
		t.Fatalf("second ReserveBytes() error = %v, want ErrConflict", err)
	}

	// Actual transfer was smaller than the estimate; settling refunds
	// the difference.
	if err := st.SettleBytes(ctx, "t1", day, 600, 200); err != nil {
		t.Fatalf("SettleBytes() error = %v", err)
	}
	u, err := st.GetUsage(ctx, "t1", day)
	if err != nil {
		t.Fatalf("GetUsage() error = %v", err)
	}
	if u.BytesFetched != 200 {
		t.Fatalf("bytes = %d, want 200", u.BytesFetched)
	}
	if err := st.ReserveBytes(ctx, "t1", day, 600, 1000); err != nil {
		t.Fatalf("ReserveBytes() after settle error = %v", err)
	}
}

func TestToolUsageBreakdown(t *testing.T) {
	t.Parallel()
	st := testStore(t)
	ctx := context.Background()
	day := UsageDayKey(time.Now())

	if err := st.RecordToolUsage(ctx, "t1", day, "http_fetch", 0); err != nil {
		t.Fatalf("RecordToolUsage() error = %v", err)
	}
	if err := st.AddToolBytes(ctx, "t1", day, "http_fetch", 1234); err != nil {
		t.Fatalf("AddToolBytes() error = %v", err)
	}
	if err := st.RecordToolUsage(ctx, "t1", day, "web_search", 0); err != nil {
		t.Fatalf("RecordToolUsage() error = %v", err)
	}

	tools, err := st.GetToolUsage(ctx, "t1", day)
	if err != nil {
		t.Fatalf("GetToolUsage() error = %v", err)
	}
	if len(tools) != 2 {
		t.Fatalf("got %d tools, want 2", len(tools))
	}
	if tools[0].Tool != "http_fetch" || tools[0].Calls != 1 || tools[0].Bytes != 1234 {
		t.Fatalf("http_fetch usage = %+v", tools[0])
	}
	// AddToolBytes never inflates the call count.
	if tools[1].Tool != "web_search" || tools[1].Calls != 1 || tools[1].Bytes != 0 {
		t.Fatalf("web_search usage = %+v", tools[1])
	}
}

func TestUsageHistory(t *testing.T) {
	t.Parallel()
	st := testStore(t)
	ctx := context.Background()

	today := UsageDayKey(time.Now())
	yesterday := UsageDayKey(time.Now().AddDate(0, 0, -1))
	lastMonth := UsageDayKey(time.Now().AddDate(0, 0, -30))
	for _, day := range []string{today, yesterday, lastMonth} {
		if err := st.IncrementRequests(ctx, "t1", day, 100); err != nil {
			t.Fatalf("IncrementRequests(%s) error = %v", day, err)
		}
	}

	history, err := st.GetUsageHistory(ctx, "t1", UsageDayKey(time.Now().AddDate(0, 0, -6)))
	if err != nil {
		t.Fatalf("GetUsageHistory() error = %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("got %d days, want 2", len(history))
	}
	if history[0].Day != today || history[1].Day != yesterday {
		t.Fatalf("history order = %s, %s", history[0].Day, history[1].Day)
	}
}
