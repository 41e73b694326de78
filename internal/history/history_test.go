package history

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	s, err := Open(filepath.Join(t.TempDir(), "history.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() {
		_ = s.Close()
	})
	return s
}

func TestAddAndRecent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	base := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	records := []*Record{
		{Host: "192.168.50.225", Port: 8089, Zone: "living_room", Outcome: OutcomeOK,
			Playing: true, Volume: 50, Seek: 45, Length: 180, RTTMillis: 3, CreatedAt: base},
		{Host: "192.168.50.225", Port: 8089, Zone: "living_room", Outcome: OutcomeTimeout,
			Seek: -1, CreatedAt: base.Add(time.Second)},
		{Host: "192.168.50.225", Port: 8089, Zone: "", Outcome: OutcomeMalformed,
			Seek: -1, CreatedAt: base.Add(2 * time.Second)},
	}
	for _, r := range records {
		if err := s.Add(ctx, r); err != nil {
			t.Fatalf("Add(%s): %v", r.Outcome, err)
		}
		if r.ID == "" {
			t.Fatalf("Add left ID empty for %s record", r.Outcome)
		}
	}

	got, err := s.Recent(ctx, 10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("Recent returned %d records, want 3", len(got))
	}
	if got[0].Outcome != OutcomeMalformed || got[2].Outcome != OutcomeOK {
		t.Errorf("order = %s, %s, %s, want newest first", got[0].Outcome, got[1].Outcome, got[2].Outcome)
	}

	ok := got[2]
	if !ok.Playing || ok.Volume != 50 || ok.Seek != 45 || ok.Length != 180 {
		t.Errorf("stored fields = %+v", ok)
	}
	if !ok.CreatedAt.Equal(base) {
		t.Errorf("CreatedAt = %v, want %v", ok.CreatedAt, base)
	}
}

func TestRecentLimit(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		err := s.Add(ctx, &Record{
			Host: "127.0.0.1", Port: 8089, Outcome: OutcomeTimeout, Seek: -1,
			CreatedAt: time.Unix(int64(1700000000+i), 0),
		})
		if err != nil {
			t.Fatalf("Add: %v", err)
		}
	}

	got, err := s.Recent(ctx, 2)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("Recent returned %d records, want 2", len(got))
	}
}

func TestOpenIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")

	s1, err := Open(path)
	if err != nil {
		t.Fatalf("first Open: %v", err)
	}
	if err := s1.Add(context.Background(), &Record{Host: "h", Port: 1, Outcome: OutcomeOK}); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := s1.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	s2, err := Open(path)
	if err != nil {
		t.Fatalf("second Open: %v", err)
	}
	defer s2.Close() //nolint:errcheck

	got, err := s2.Recent(context.Background(), 10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("Recent returned %d records after reopen, want 1", len(got))
	}
}
