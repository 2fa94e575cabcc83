package sync

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/hyperengineering/apisync/internal/entity"
	"github.com/hyperengineering/apisync/internal/mapping"
	"github.com/hyperengineering/apisync/internal/odata"
)

func TestPull_EnqueueAdvancesWatermark(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	m, _ := h.set.Get("contacts")

	var gotQuery string
	h.client.queryFn = func(ctx context.Context, q *odata.SelectQuery) (*odata.QueryResult, error) {
		gotQuery = q.String()
		return page([]odata.Record{
			{"ContactNumber": "C-1", "Name": "Ada", "Modified": "2026-03-01T10:00:00Z"},
			{"ContactNumber": "C-2", "Name": "Grace", "Modified": "2026-03-01T11:00:00Z"},
		}, ""), nil
	}

	w := h.pullWorker()
	if err := w.EnqueueUpdatedRecords(ctx, m, time.Time{}, time.Time{}, false); err != nil {
		t.Fatal(err)
	}

	if w.Queue().Len() != 2 {
		t.Errorf("queue backlog = %d, want 2", w.Queue().Len())
	}
	if !strings.Contains(gotQuery, "Contact") {
		t.Errorf("query = %q", gotQuery)
	}

	st, err := h.db.Get(ctx, "contacts")
	if err != nil {
		t.Fatal(err)
	}
	want := time.Date(2026, 3, 1, 11, 0, 0, 0, time.UTC)
	if !st.LastPullTime.Equal(want) {
		t.Errorf("watermark = %v, want max trigger date %v", st.LastPullTime, want)
	}
}

func TestPull_WatermarkWindowsNextQuery(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	m, _ := h.set.Get("contacts")

	mark := time.Date(2026, 3, 1, 11, 0, 0, 0, time.UTC)
	if err := h.db.SetLastPull(ctx, "contacts", mark); err != nil {
		t.Fatal(err)
	}

	var filter string
	h.client.queryFn = func(ctx context.Context, q *odata.SelectQuery) (*odata.QueryResult, error) {
		filter = q.Filter()
		return page(nil, ""), nil
	}

	w := h.pullWorker()
	if err := w.EnqueueUpdatedRecords(ctx, m, time.Time{}, time.Time{}, false); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(filter, "Modified gt") {
		t.Errorf("query not windowed on watermark: %q", filter)
	}
}

func TestPull_MidPageFailureKeepsWatermark(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	m, _ := h.set.Get("contacts")

	h.client.queryFn = func(ctx context.Context, q *odata.SelectQuery) (*odata.QueryResult, error) {
		return page([]odata.Record{
			{"ContactNumber": "C-1", "Modified": "2026-03-01T10:00:00Z"},
		}, "next-page"), nil
	}
	h.client.queryMoreFn = func(ctx context.Context, prev *odata.QueryResult) (*odata.QueryResult, error) {
		return nil, &odata.RequestError{StatusCode: 503}
	}

	w := h.pullWorker()
	if err := w.EnqueueUpdatedRecords(ctx, m, time.Time{}, time.Time{}, false); err == nil {
		t.Fatal("expected error from failed continuation")
	}

	// Partial drains never advance the window; the next poll re-delivers.
	st, err := h.db.Get(ctx, "contacts")
	if err != nil {
		t.Fatal(err)
	}
	if !st.LastPullTime.IsZero() {
		t.Errorf("watermark advanced to %v on partial drain", st.LastPullTime)
	}
}

func TestPull_BackpressureSkipsCycle(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	m, _ := h.set.Get("contacts")

	var queries int
	h.client.queryFn = func(ctx context.Context, q *odata.SelectQuery) (*odata.QueryResult, error) {
		queries++
		return page(nil, ""), nil
	}

	w := h.pullWorker(WithBacklogMax(1))
	w.Queue().Enqueue(PullItem{MappingID: "contacts"})

	if err := w.EnqueueUpdatedRecords(ctx, m, time.Time{}, time.Time{}, false); err != nil {
		t.Fatal(err)
	}
	if queries != 0 {
		t.Error("enqueue cycle ran despite backlog over threshold")
	}
}

func TestPull_CreateBuildsEntityAndLink(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	w := h.pullWorker()
	w.Queue().Enqueue(PullItem{
		MappingID: "contacts",
		Record:    odata.Record{"ContactNumber": "C-1", "Name": "Ada", "Modified": "2026-03-01T10:00:00Z"},
	})

	if n := w.DrainQueue(ctx); n != 1 {
		t.Fatalf("DrainQueue() = %d, want 1", n)
	}

	obj, err := h.db.GetByRemote(ctx, "contacts", "C-1")
	if err != nil {
		t.Fatal(err)
	}
	if obj.LocalID == "" {
		t.Fatal("link has no local entity")
	}
	e, err := h.entities.Load(ctx, "node", obj.LocalID)
	if err != nil {
		t.Fatal(err)
	}
	if title, _ := e.Get("title"); title != "Ada" {
		t.Errorf("title = %v", title)
	}
	if e.Bundle != "contact" {
		t.Errorf("bundle = %q", e.Bundle)
	}
}

func TestPull_UpdateArbitration(t *testing.T) {
	newerThanLocal := func(local time.Time) string {
		return local.Add(time.Hour).UTC().Format(time.RFC3339)
	}

	t.Run("remote newer applies", func(t *testing.T) {
		h := newHarness(t)
		ctx := context.Background()
		m, _ := h.set.Get("contacts")

		e := h.saveEntity(t, "Old Name")
		h.link(t, m, e.ID, "C-1")

		w := h.pullWorker()
		w.Queue().Enqueue(PullItem{
			MappingID: "contacts",
			Record:    odata.Record{"ContactNumber": "C-1", "Name": "New Name", "Modified": newerThanLocal(e.Changed)},
		})
		w.DrainQueue(ctx)

		got, err := h.entities.Load(ctx, "node", e.ID)
		if err != nil {
			t.Fatal(err)
		}
		if title, _ := got.Get("title"); title != "New Name" {
			t.Errorf("title = %v, want remote value applied", title)
		}
	})

	t.Run("local newer skips", func(t *testing.T) {
		h := newHarness(t)
		ctx := context.Background()
		m, _ := h.set.Get("contacts")

		e := h.saveEntity(t, "Local Name")
		h.link(t, m, e.ID, "C-1")

		w := h.pullWorker()
		w.Queue().Enqueue(PullItem{
			MappingID: "contacts",
			Record:    odata.Record{"ContactNumber": "C-1", "Name": "Stale Name", "Modified": e.Changed.Add(-time.Hour).UTC().Format(time.RFC3339)},
		})
		w.DrainQueue(ctx)

		got, err := h.entities.Load(ctx, "node", e.ID)
		if err != nil {
			t.Fatal(err)
		}
		if title, _ := got.Get("title"); title != "Local Name" {
			t.Errorf("title = %v, stale remote overwrote newer local", title)
		}
	})

	t.Run("force overrides arbitration", func(t *testing.T) {
		h := newHarness(t)
		ctx := context.Background()
		m, _ := h.set.Get("contacts")

		e := h.saveEntity(t, "Local Name")
		h.link(t, m, e.ID, "C-1")

		w := h.pullWorker()
		w.Queue().Enqueue(PullItem{
			MappingID: "contacts",
			Record:    odata.Record{"ContactNumber": "C-1", "Name": "Forced Name", "Modified": e.Changed.Add(-time.Hour).UTC().Format(time.RFC3339)},
			ForcePull: true,
		})
		w.DrainQueue(ctx)

		got, err := h.entities.Load(ctx, "node", e.ID)
		if err != nil {
			t.Fatal(err)
		}
		if title, _ := got.Get("title"); title != "Forced Name" {
			t.Errorf("title = %v, force-pull did not apply", title)
		}
	})

	t.Run("unknown remote time applies", func(t *testing.T) {
		h := newHarness(t)
		ctx := context.Background()
		m, _ := h.set.Get("contacts")

		e := h.saveEntity(t, "Local Name")
		h.link(t, m, e.ID, "C-1")

		w := h.pullWorker()
		w.Queue().Enqueue(PullItem{
			MappingID: "contacts",
			Record:    odata.Record{"ContactNumber": "C-1", "Name": "Unstamped Name"},
		})
		w.DrainQueue(ctx)

		got, err := h.entities.Load(ctx, "node", e.ID)
		if err != nil {
			t.Fatal(err)
		}
		if title, _ := got.Get("title"); title != "Unstamped Name" {
			t.Errorf("title = %v, unknown remote time must force through", title)
		}
	})
}

func TestPull_VetoCancelsApplication(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.hooks.AddPullVeto(func(ctx context.Context, m *mapping.Mapping, rec odata.Record, e *entity.Entity) bool {
		return true
	})

	w := h.pullWorker()
	w.Queue().Enqueue(PullItem{
		MappingID: "contacts",
		Record:    odata.Record{"ContactNumber": "C-1", "Name": "Ada"},
	})
	w.DrainQueue(ctx)

	if _, err := h.db.GetByRemote(ctx, "contacts", "C-1"); err == nil {
		t.Error("vetoed pull still created a link")
	}
}

func TestPull_LinkWithMissingEntityDropsItem(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	m, _ := h.set.Get("contacts")

	h.link(t, m, "gone", "C-1")

	w := h.pullWorker()
	w.Queue().Enqueue(PullItem{
		MappingID: "contacts",
		Record:    odata.Record{"ContactNumber": "C-1", "Name": "Ada", "Modified": "2026-03-01T10:00:00Z"},
	})

	// The integrity anomaly is logged and the item consumed without error.
	if n := w.DrainQueue(ctx); n != 1 {
		t.Errorf("DrainQueue() = %d, want 1", n)
	}
	if w.Queue().Len() != 0 {
		t.Error("item left in queue")
	}
}

func TestPull_UnknownMappingIsError(t *testing.T) {
	h := newHarness(t)
	w := h.pullWorker()
	err := w.ProcessItem(context.Background(), PullItem{MappingID: "nope", Record: odata.Record{}})
	if !errors.Is(err, ErrUnknownMapping) {
		t.Errorf("ProcessItem() error = %v, want ErrUnknownMapping", err)
	}
}
