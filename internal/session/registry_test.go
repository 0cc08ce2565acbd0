package session

import (
	"errors"
	"sync"
	"testing"
	"time"
)

func TestCreateGetDestroy(t *testing.T) {
	r := NewRegistry()

	s := r.Create("conn-1")
	if s.ID == "" {
		t.Fatal("Create returned empty ID")
	}
	if s.ConnID != "conn-1" {
		t.Errorf("ConnID = %q", s.ConnID)
	}

	got, err := r.Get(s.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.ID != s.ID {
		t.Errorf("Get returned %q, want %q", got.ID, s.ID)
	}

	r.Destroy(s.ID)
	if _, err := r.Get(s.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get after Destroy = %v, want ErrNotFound", err)
	}
}

func TestDestroy_UnknownIsNoop(t *testing.T) {
	r := NewRegistry()
	r.Destroy("does-not-exist") // must not panic or error
	if r.Len() != 0 {
		t.Errorf("Len = %d, want 0", r.Len())
	}
}

func TestCreate_IDsAreFresh(t *testing.T) {
	r := NewRegistry()
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		s := r.Create("c")
		if seen[s.ID] {
			t.Fatalf("duplicate session ID %q", s.ID)
		}
		seen[s.ID] = true
	}
}

func TestTouch(t *testing.T) {
	r := NewRegistry()
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return base }

	s := r.Create("conn-1")

	r.now = func() time.Time { return base.Add(5 * time.Second) }
	if err := r.Touch(s.ID, true); err != nil {
		t.Fatalf("Touch: %v", err)
	}

	got, _ := r.Get(s.ID)
	if !got.Speaking {
		t.Error("Speaking = false after Touch(true)")
	}
	if !got.LastActivity.Equal(base.Add(5 * time.Second)) {
		t.Errorf("LastActivity = %v", got.LastActivity)
	}

	if err := r.Touch("unknown", false); !errors.Is(err, ErrNotFound) {
		t.Errorf("Touch unknown = %v, want ErrNotFound", err)
	}
}

func TestDestroyOwned(t *testing.T) {
	r := NewRegistry()
	a1 := r.Create("conn-a")
	a2 := r.Create("conn-a")
	b := r.Create("conn-b")

	if n := r.DestroyOwned("conn-a"); n != 2 {
		t.Errorf("DestroyOwned = %d, want 2", n)
	}
	if _, err := r.Get(a1.ID); !errors.Is(err, ErrNotFound) {
		t.Error("conn-a session 1 survived DestroyOwned")
	}
	if _, err := r.Get(a2.ID); !errors.Is(err, ErrNotFound) {
		t.Error("conn-a session 2 survived DestroyOwned")
	}
	if _, err := r.Get(b.ID); err != nil {
		t.Error("conn-b session should survive")
	}
}

func TestRegistry_ConcurrentAccess(t *testing.T) {
	r := NewRegistry()
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				s := r.Create("conn")
				_ = r.Touch(s.ID, j%2 == 0)
				_, _ = r.Get(s.ID)
				r.Destroy(s.ID)
			}
		}()
	}
	wg.Wait()
	if r.Len() != 0 {
		t.Errorf("Len = %d after balanced create/destroy, want 0", r.Len())
	}
}
