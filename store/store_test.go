package store

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
)

// backends returns one factory per Store implementation so every test
// runs against both.
func backends(t *testing.T) map[string]func(t *testing.T) Store {
	return map[string]func(t *testing.T) Store{
		"memory": func(t *testing.T) Store {
			return NewMemoryStore()
		},
		"sqlite": func(t *testing.T) Store {
			s, err := OpenSQLite(filepath.Join(t.TempDir(), "store.db"))
			if err != nil {
				t.Fatalf("OpenSQLite: %v", err)
			}
			return s
		},
	}
}

func doc(t *testing.T, fields map[string]any) []byte {
	t.Helper()
	b, err := json.Marshal(fields)
	if err != nil {
		t.Fatalf("marshal doc: %v", err)
	}
	return b
}

// --- Unit Tests ---

func TestInsertAndFindByID(t *testing.T) {
	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			s := open(t)
			defer s.Close()
			ctx := context.Background()

			rec, err := s.Insert(ctx, "tasks", "t-1", doc(t, map[string]any{"status": "pending"}))
			if err != nil {
				t.Fatalf("Insert: %v", err)
			}
			if rec.Revision != 1 {
				t.Errorf("expected revision 1, got %d", rec.Revision)
			}

			got, err := s.FindByID(ctx, "tasks", "t-1")
			if err != nil {
				t.Fatalf("FindByID: %v", err)
			}
			fields, err := got.Fields()
			if err != nil {
				t.Fatalf("Fields: %v", err)
			}
			if fields["status"] != "pending" {
				t.Errorf("expected status pending, got %v", fields["status"])
			}
		})
	}
}

func TestInsertDuplicateID(t *testing.T) {
	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			s := open(t)
			defer s.Close()
			ctx := context.Background()

			if _, err := s.Insert(ctx, "tasks", "t-1", doc(t, map[string]any{"n": 1})); err != nil {
				t.Fatalf("first Insert: %v", err)
			}
			if _, err := s.Insert(ctx, "tasks", "t-1", doc(t, map[string]any{"n": 2})); !errors.Is(err, ErrDuplicateID) {
				t.Errorf("expected ErrDuplicateID, got %v", err)
			}
			// Same id in another collection is fine.
			if _, err := s.Insert(ctx, "events", "t-1", doc(t, map[string]any{"n": 3})); err != nil {
				t.Errorf("insert in other collection: %v", err)
			}
		})
	}
}

func TestFindByIDNotFound(t *testing.T) {
	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			s := open(t)
			defer s.Close()

			if _, err := s.FindByID(context.Background(), "tasks", "missing"); !errors.Is(err, ErrNotFound) {
				t.Errorf("expected ErrNotFound, got %v", err)
			}
		})
	}
}

func TestFindWithFilter(t *testing.T) {
	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			s := open(t)
			defer s.Close()
			ctx := context.Background()

			seed := []struct {
				id     string
				status string
				prio   int
			}{
				{"t-1", "pending", 3},
				{"t-2", "assigned", 6},
				{"t-3", "pending", 10},
				{"t-4", "completed", 6},
			}
			for _, d := range seed {
				if _, err := s.Insert(ctx, "tasks", d.id, doc(t, map[string]any{"status": d.status, "priority": d.prio})); err != nil {
					t.Fatalf("seed %s: %v", d.id, err)
				}
			}

			tests := []struct {
				name   string
				filter Filter
				want   []string
			}{
				{"all", nil, []string{"t-1", "t-2", "t-3", "t-4"}},
				{"by status", Filter{"status": "pending"}, []string{"t-1", "t-3"}},
				{"status and priority", Filter{"status": "pending", "priority": 3}, []string{"t-1"}},
				{"in matcher", Filter{"status": In("assigned", "completed")}, []string{"t-2", "t-4"}},
				{"not matcher", Filter{"status": Not("pending")}, []string{"t-2", "t-4"}},
				{"no match", Filter{"status": "failed"}, nil},
			}
			for _, tc := range tests {
				t.Run(tc.name, func(t *testing.T) {
					recs, err := s.Find(ctx, "tasks", tc.filter)
					if err != nil {
						t.Fatalf("Find: %v", err)
					}
					var ids []string
					for _, r := range recs {
						ids = append(ids, r.ID)
					}
					if len(ids) != len(tc.want) {
						t.Fatalf("expected ids %v, got %v", tc.want, ids)
					}
					for i := range tc.want {
						if ids[i] != tc.want[i] {
							t.Errorf("expected ids %v, got %v", tc.want, ids)
							break
						}
					}
				})
			}
		})
	}
}

func TestSaveRevisionConflict(t *testing.T) {
	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			s := open(t)
			defer s.Close()
			ctx := context.Background()

			if _, err := s.Insert(ctx, "tasks", "t-1", doc(t, map[string]any{"status": "pending"})); err != nil {
				t.Fatalf("Insert: %v", err)
			}

			// Two readers grab the same revision.
			a, err := s.FindByID(ctx, "tasks", "t-1")
			if err != nil {
				t.Fatalf("FindByID a: %v", err)
			}
			b := a.Clone()

			a.Data = doc(t, map[string]any{"status": "assigned"})
			saved, err := s.Save(ctx, a)
			if err != nil {
				t.Fatalf("first Save: %v", err)
			}
			if saved.Revision != 2 {
				t.Errorf("expected revision 2, got %d", saved.Revision)
			}

			b.Data = doc(t, map[string]any{"status": "cancelled"})
			if _, err := s.Save(ctx, b); !errors.Is(err, ErrConflict) {
				t.Errorf("expected ErrConflict on stale save, got %v", err)
			}

			// The winner's write is intact.
			got, err := s.FindByID(ctx, "tasks", "t-1")
			if err != nil {
				t.Fatalf("FindByID after conflict: %v", err)
			}
			fields, _ := got.Fields()
			if fields["status"] != "assigned" {
				t.Errorf("expected status assigned, got %v", fields["status"])
			}
		})
	}
}

func TestSaveMissingRecord(t *testing.T) {
	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			s := open(t)
			defer s.Close()

			rec := &Record{ID: "ghost", Collection: "tasks", Revision: 1, Data: []byte(`{}`)}
			if _, err := s.Save(context.Background(), rec); !errors.Is(err, ErrNotFound) {
				t.Errorf("expected ErrNotFound, got %v", err)
			}
		})
	}
}

func TestUpdateFields(t *testing.T) {
	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			s := open(t)
			defer s.Close()
			ctx := context.Background()

			if _, err := s.Insert(ctx, "tasks", "t-1", doc(t, map[string]any{
				"status":   "pending",
				"priority": 6,
				"title":    "bridge sweep",
			})); err != nil {
				t.Fatalf("Insert: %v", err)
			}

			rec, err := s.UpdateFields(ctx, "tasks", "t-1", map[string]any{
				"status":   "assigned",
				"priority": nil, // delete
				"owner":    "agent-1",
			})
			if err != nil {
				t.Fatalf("UpdateFields: %v", err)
			}
			if rec.Revision != 2 {
				t.Errorf("expected revision 2, got %d", rec.Revision)
			}

			fields, err := rec.Fields()
			if err != nil {
				t.Fatalf("Fields: %v", err)
			}
			if fields["status"] != "assigned" {
				t.Errorf("expected status assigned, got %v", fields["status"])
			}
			if fields["title"] != "bridge sweep" {
				t.Errorf("untouched field changed: %v", fields["title"])
			}
			if fields["owner"] != "agent-1" {
				t.Errorf("expected owner agent-1, got %v", fields["owner"])
			}
			if _, ok := fields["priority"]; ok {
				t.Errorf("expected priority removed, still present: %v", fields["priority"])
			}
		})
	}
}

func TestUpdateFieldsMissing(t *testing.T) {
	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			s := open(t)
			defer s.Close()

			if _, err := s.UpdateFields(context.Background(), "tasks", "missing", map[string]any{"x": 1}); !errors.Is(err, ErrNotFound) {
				t.Errorf("expected ErrNotFound, got %v", err)
			}
		})
	}
}

func TestDelete(t *testing.T) {
	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			s := open(t)
			defer s.Close()
			ctx := context.Background()

			if _, err := s.Insert(ctx, "tasks", "t-1", doc(t, map[string]any{"n": 1})); err != nil {
				t.Fatalf("Insert: %v", err)
			}
			if err := s.Delete(ctx, "tasks", "t-1"); err != nil {
				t.Fatalf("Delete: %v", err)
			}
			if _, err := s.FindByID(ctx, "tasks", "t-1"); !errors.Is(err, ErrNotFound) {
				t.Errorf("expected ErrNotFound after delete, got %v", err)
			}
			// Deleting again is not an error.
			if err := s.Delete(ctx, "tasks", "t-1"); err != nil {
				t.Errorf("second Delete: %v", err)
			}
		})
	}
}

func TestFilterLooseEquality(t *testing.T) {
	tests := []struct {
		name   string
		filter Filter
		fields map[string]any
		want   bool
	}{
		{"int vs float64", Filter{"priority": 6}, map[string]any{"priority": float64(6)}, true},
		{"typed string vs string", Filter{"status": taskStatusLike("pending")}, map[string]any{"status": "pending"}, true},
		{"mismatch", Filter{"status": "pending"}, map[string]any{"status": "assigned"}, false},
		{"missing field", Filter{"status": "pending"}, map[string]any{}, false},
		{"in with numbers", Filter{"priority": In(3, 6)}, map[string]any{"priority": float64(6)}, true},
		{"not excludes", Filter{"status": Not("failed")}, map[string]any{"status": "failed"}, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.filter.Matches(tc.fields); got != tc.want {
				t.Errorf("Matches() = %v, want %v", got, tc.want)
			}
		})
	}
}

type taskStatusLike string
