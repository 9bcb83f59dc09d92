package store

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/roach88/starcore/internal/temporal"
	"github.com/roach88/starcore/internal/testutil"
)

type record struct {
	Name  temporal.Opt[string]    `json:"name"`
	Count temporal.Opt[int]       `json:"count"`
	Seen  temporal.Opt[time.Time] `json:"seen"`
}

// versionTable is what both Table and MemoryTable offer.
type versionTable interface {
	Load(ctx context.Context, identity string) (*temporal.Entity[record], error)
	InstallCurrent(ctx context.Context, e temporal.Entity[record]) error
	RemoveCurrent(ctx context.Context, identity string) error
	AppendHistory(ctx context.Context, h temporal.HistoricalCopy[record]) error
	History(ctx context.Context, identity string) ([]temporal.HistoricalCopy[record], error)
	Replace(ctx context.Context, h temporal.HistoricalCopy[record], next *temporal.Entity[record]) error
	Timeline(ctx context.Context, identity string) ([]temporal.Entity[record], error)
	AsOf(ctx context.Context, identity string, validAt, storedAt time.Time) (temporal.Entity[record], bool, error)
	Identities(ctx context.Context) ([]string, error)
}

var at = testutil.At

func tables(t *testing.T) map[string]func(t *testing.T) versionTable {
	impls := map[string]func(t *testing.T) versionTable{
		"sqlite": func(t *testing.T) versionTable {
			return NewTable[record](createTestStore(t), "record")
		},
		"memory": func(t *testing.T) versionTable {
			return NewMemoryTable[record]("record")
		},
	}
	if dsn := os.Getenv("STARCORE_TEST_POSTGRES_DSN"); dsn != "" {
		impls["postgres"] = func(t *testing.T) versionTable {
			s, err := OpenPostgres(dsn)
			if err != nil {
				t.Fatalf("OpenPostgres() failed: %v", err)
			}
			t.Cleanup(func() { s.Close() })
			kind := "record-" + time.Now().Format("150405.000000")
			return NewTable[record](s, kind)
		}
	}
	return impls
}

func eachTable(t *testing.T, fn func(t *testing.T, tbl versionTable)) {
	for name, mk := range tables(t) {
		t.Run(name, func(t *testing.T) {
			fn(t, mk(t))
		})
	}
}

func sample(name string) record {
	return record{
		Name:  temporal.Some(name),
		Count: temporal.Some(3),
		Seen:  temporal.Some(at(7)),
	}
}

func TestTable_InstallAndLoad(t *testing.T) {
	eachTable(t, func(t *testing.T, tbl versionTable) {
		ctx := context.Background()

		got, err := tbl.Load(ctx, "p1")
		if err != nil || got != nil {
			t.Fatalf("Load() on empty table = %v, %v; want nil, nil", got, err)
		}

		e := temporal.NewEntity("p1", sample("Ada"), at(1), at(100))
		if err := tbl.InstallCurrent(ctx, e); err != nil {
			t.Fatalf("InstallCurrent() failed: %v", err)
		}

		got, err = tbl.Load(ctx, "p1")
		if err != nil {
			t.Fatalf("Load() failed: %v", err)
		}
		if got == nil {
			t.Fatal("Load() returned nil after install")
		}
		if !got.ValidFrom.Equal(at(1)) || !got.StoredFrom.Equal(at(100)) {
			t.Errorf("stamp = %+v", got.Stamp)
		}
		if !got.IsCurrent() {
			t.Error("loaded row is not current")
		}
		if got.Data.Name != temporal.Some("Ada") || got.Data.Count != temporal.Some(3) {
			t.Errorf("data = %+v", got.Data)
		}
		seen, ok := got.Data.Seen.Get()
		if !ok || !seen.Equal(at(7)) {
			t.Errorf("seen = %v", got.Data.Seen)
		}
	})
}

func TestTable_AbsentAndEmptyValuesRoundTrip(t *testing.T) {
	eachTable(t, func(t *testing.T, tbl versionTable) {
		ctx := context.Background()

		e := temporal.NewEntity("p1", record{Name: temporal.Some("")}, at(1), at(100))
		if err := tbl.InstallCurrent(ctx, e); err != nil {
			t.Fatalf("InstallCurrent() failed: %v", err)
		}
		got, err := tbl.Load(ctx, "p1")
		if err != nil {
			t.Fatalf("Load() failed: %v", err)
		}
		if got.Data.Name != temporal.Some("") {
			t.Errorf("empty name lost: %v", got.Data.Name)
		}
		if got.Data.Count.IsSet() || got.Data.Seen.IsSet() {
			t.Errorf("absent values became present: %+v", got.Data)
		}
	})
}

func TestTable_InstallReplacesCurrent(t *testing.T) {
	eachTable(t, func(t *testing.T, tbl versionTable) {
		ctx := context.Background()

		_ = tbl.InstallCurrent(ctx, temporal.NewEntity("p1", sample("A"), at(1), at(100)))
		if err := tbl.InstallCurrent(ctx, temporal.NewEntity("p1", sample("B"), at(2), at(101))); err != nil {
			t.Fatalf("InstallCurrent() failed: %v", err)
		}

		got, err := tbl.Load(ctx, "p1")
		if err != nil {
			t.Fatalf("Load() failed: %v", err)
		}
		if got.Data.Name != temporal.Some("B") {
			t.Errorf("name = %v, want B", got.Data.Name)
		}
	})
}

func TestTable_InstallRejectsTerminatedRow(t *testing.T) {
	eachTable(t, func(t *testing.T, tbl versionTable) {
		e := temporal.NewEntity("p1", sample("A"), at(1), at(100))
		e.StoredUntil = at(101)
		err := tbl.InstallCurrent(context.Background(), e)
		if !errors.Is(err, temporal.ErrNotCurrent) {
			t.Errorf("InstallCurrent() = %v, want ErrNotCurrent", err)
		}
	})
}

func TestTable_RemoveCurrent(t *testing.T) {
	eachTable(t, func(t *testing.T, tbl versionTable) {
		ctx := context.Background()
		_ = tbl.InstallCurrent(ctx, temporal.NewEntity("p1", sample("A"), at(1), at(100)))

		if err := tbl.RemoveCurrent(ctx, "p1"); err != nil {
			t.Fatalf("RemoveCurrent() failed: %v", err)
		}
		if err := tbl.RemoveCurrent(ctx, "p1"); err != nil {
			t.Fatalf("second RemoveCurrent() failed: %v", err)
		}
		got, err := tbl.Load(ctx, "p1")
		if err != nil || got != nil {
			t.Errorf("Load() after remove = %v, %v", got, err)
		}
	})
}

func TestTable_AppendHistoryIdempotent(t *testing.T) {
	eachTable(t, func(t *testing.T, tbl versionTable) {
		ctx := context.Background()

		e := temporal.NewEntity("p1", sample("A"), at(1), at(100))
		h, err := e.Supersede(at(2), at(101))
		if err != nil {
			t.Fatalf("Supersede() failed: %v", err)
		}

		for i := 0; i < 2; i++ {
			if err := tbl.AppendHistory(ctx, h); err != nil {
				t.Fatalf("AppendHistory() #%d failed: %v", i, err)
			}
		}

		history, err := tbl.History(ctx, "p1")
		if err != nil {
			t.Fatalf("History() failed: %v", err)
		}
		if len(history) != 1 {
			t.Fatalf("History() returned %d rows, want 1", len(history))
		}
		got := history[0]
		if got.ID != h.ID || !got.ValidUntil.Equal(at(2)) || !got.StoredUntil.Equal(at(101)) {
			t.Errorf("history row = %+v, want %+v", got, h)
		}
		if got.Data.Name != temporal.Some("A") {
			t.Errorf("history data = %+v", got.Data)
		}
	})
}

func TestTable_AppendHistoryRejectsOpenCopy(t *testing.T) {
	eachTable(t, func(t *testing.T, tbl versionTable) {
		h := temporal.HistoricalCopy[record]{ID: "x", Identity: "p1", Stamp: temporal.Open(at(1), at(2))}
		if err := tbl.AppendHistory(context.Background(), h); err == nil {
			t.Error("AppendHistory() accepted a copy without stored_until")
		}
	})
}

func TestTable_HistoryEmptyIsNotNil(t *testing.T) {
	eachTable(t, func(t *testing.T, tbl versionTable) {
		history, err := tbl.History(context.Background(), "nobody")
		if err != nil {
			t.Fatalf("History() failed: %v", err)
		}
		if history == nil || len(history) != 0 {
			t.Errorf("History() = %#v, want empty slice", history)
		}
	})
}

func TestTable_ReplaceAndTimeline(t *testing.T) {
	eachTable(t, func(t *testing.T, tbl versionTable) {
		ctx := context.Background()

		v1 := temporal.NewEntity("p1", sample("A"), at(1), at(100))
		if err := tbl.InstallCurrent(ctx, v1); err != nil {
			t.Fatalf("InstallCurrent() failed: %v", err)
		}

		h1, _ := v1.Supersede(at(3), at(101))
		v2 := temporal.NewEntity("p1", sample("B"), at(3), at(101))
		if err := tbl.Replace(ctx, h1, &v2); err != nil {
			t.Fatalf("Replace() failed: %v", err)
		}

		h2, _ := v2.Supersede(at(5), at(102))
		v3 := temporal.NewEntity("p1", sample("C"), at(5), at(102))
		if err := tbl.Replace(ctx, h2, &v3); err != nil {
			t.Fatalf("Replace() failed: %v", err)
		}

		timeline, err := tbl.Timeline(ctx, "p1")
		if err != nil {
			t.Fatalf("Timeline() failed: %v", err)
		}
		var names []string
		for _, v := range timeline {
			names = append(names, v.Data.Name.OrZero())
		}
		if len(names) != 3 || names[0] != "A" || names[1] != "B" || names[2] != "C" {
			t.Errorf("timeline names = %v, want [A B C]", names)
		}
		if !timeline[2].IsCurrent() || timeline[0].IsCurrent() {
			t.Error("only the last version should be current")
		}

		cases := []struct {
			validAt, storedAt time.Time
			want              string
			found             bool
		}{
			{at(2), at(100), "A", true},
			{at(4), at(101), "B", true},
			{at(6), at(102), "C", true},
			{at(6), at(200), "C", true},
			{at(0), at(200), "", false},
			{at(2), at(50), "", false},
		}
		for _, tc := range cases {
			v, ok, err := tbl.AsOf(ctx, "p1", tc.validAt, tc.storedAt)
			if err != nil {
				t.Fatalf("AsOf() failed: %v", err)
			}
			if ok != tc.found || v.Data.Name.OrZero() != tc.want {
				t.Errorf("AsOf(%s, %s) = %q, %v; want %q, %v",
					tc.validAt.Format(time.RFC3339), tc.storedAt.Format(time.RFC3339),
					v.Data.Name.OrZero(), ok, tc.want, tc.found)
			}
		}
	})
}

func TestTable_ReplaceWithNilRemovesCurrent(t *testing.T) {
	eachTable(t, func(t *testing.T, tbl versionTable) {
		ctx := context.Background()

		v1 := temporal.NewEntity("p1", sample("A"), at(1), at(100))
		_ = tbl.InstallCurrent(ctx, v1)
		h1, _ := v1.Supersede(at(4), at(101))

		if err := tbl.Replace(ctx, h1, nil); err != nil {
			t.Fatalf("Replace() failed: %v", err)
		}
		got, err := tbl.Load(ctx, "p1")
		if err != nil || got != nil {
			t.Errorf("Load() after delete = %v, %v", got, err)
		}
		history, _ := tbl.History(ctx, "p1")
		if len(history) != 1 {
			t.Errorf("history rows = %d, want 1", len(history))
		}
	})
}

func TestTable_Identities(t *testing.T) {
	eachTable(t, func(t *testing.T, tbl versionTable) {
		ctx := context.Background()
		for _, id := range []string{"p3", "p1", "p2"} {
			_ = tbl.InstallCurrent(ctx, temporal.NewEntity(id, sample(id), at(1), at(100)))
		}
		_ = tbl.RemoveCurrent(ctx, "p2")

		ids, err := tbl.Identities(ctx)
		if err != nil {
			t.Fatalf("Identities() failed: %v", err)
		}
		if len(ids) != 2 || ids[0] != "p1" || ids[1] != "p3" {
			t.Errorf("Identities() = %v, want [p1 p3]", ids)
		}
	})
}

func TestTable_KindsAreIsolated(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	a := NewTable[record](s, "a")
	b := NewTable[record](s, "b")

	_ = a.InstallCurrent(ctx, temporal.NewEntity("p1", sample("A"), at(1), at(100)))

	got, err := b.Load(ctx, "p1")
	if err != nil || got != nil {
		t.Errorf("kind b sees kind a's row: %v, %v", got, err)
	}
	if a.Kind() != "a" {
		t.Errorf("Kind() = %q", a.Kind())
	}
}

func TestTable_LoadDetectsMultipleCurrent(t *testing.T) {
	s := createTestStore(t)
	tbl := NewTable[record](s, "record")
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := s.db.Exec(`
			INSERT INTO current_rows (kind, identity, valid_from, stored_from, data)
			VALUES ('record', 'p1', ?, ?, '{}')
		`, micros(at(i)), micros(at(100+i)))
		if err != nil {
			t.Fatalf("insert failed: %v", err)
		}
	}

	_, err := tbl.Load(ctx, "p1")
	if !errors.Is(err, temporal.ErrMultipleCurrent) {
		t.Errorf("Load() = %v, want ErrMultipleCurrent", err)
	}
}

func TestTable_ReplaceRollsBackOnFailure(t *testing.T) {
	s := createTestStore(t)
	tbl := NewTable[record](s, "record")
	ctx := context.Background()

	v1 := temporal.NewEntity("p1", sample("A"), at(1), at(100))
	_ = tbl.InstallCurrent(ctx, v1)
	h1, _ := v1.Supersede(at(3), at(101))

	// A cancelled context fails the transaction before anything is written.
	cctx, cancel := context.WithCancel(ctx)
	cancel()
	v2 := temporal.NewEntity("p1", sample("B"), at(3), at(101))
	if err := tbl.Replace(cctx, h1, &v2); err == nil {
		t.Fatal("Replace() with cancelled context should fail")
	}

	got, _ := tbl.Load(ctx, "p1")
	if got == nil || got.Data.Name != temporal.Some("A") {
		t.Errorf("current row changed after failed replace: %+v", got)
	}
	history, _ := tbl.History(ctx, "p1")
	if len(history) != 0 {
		t.Errorf("history rows = %d after failed replace, want 0", len(history))
	}
}
