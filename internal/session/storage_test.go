package session

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestStorageRoundTrip(t *testing.T) {
	st, err := NewStorage(t.TempDir())
	if err != nil {
		t.Fatalf("NewStorage: %v", err)
	}

	s := New("build a page", "/workspaces/demo")
	tasks := planTasks()
	s.AdoptPlan("the plan", "the thoughts", tasks)
	s.AppendHistory(&Message{Role: "user", Content: "go"})

	if err := st.Save(s); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded, err := st.Load("/workspaces/demo", s.ID())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if loaded.ID() != s.ID() || loaded.Goal() != "build a page" {
		t.Errorf("loaded = %s %q", loaded.ID(), loaded.Goal())
	}
	if loaded.Status() != StatusAwaitingApproval {
		t.Errorf("status = %s", loaded.Status())
	}
	if loaded.Plan() != "the plan" {
		t.Errorf("plan = %q", loaded.Plan())
	}
	got := loaded.Tasks()
	if len(got) != len(tasks) || got[0].ID != tasks[0].ID || got[0].Type != TaskTypeFileWrite {
		t.Errorf("tasks = %+v", got)
	}
	if len(loaded.History()) != 1 {
		t.Errorf("history = %d", len(loaded.History()))
	}
}

func TestStorageSeparatesWorkspaces(t *testing.T) {
	base := t.TempDir()
	st, err := NewStorage(base)
	if err != nil {
		t.Fatal(err)
	}

	s1 := New("goal one", "/ws/one")
	s2 := New("goal two", "/ws/two")
	if err := st.Save(s1); err != nil {
		t.Fatal(err)
	}
	if err := st.Save(s2); err != nil {
		t.Fatal(err)
	}

	entries, err := os.ReadDir(base)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 {
		t.Fatalf("workspace dirs = %d, want 2", len(entries))
	}

	recs, err := st.List("/ws/one")
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 1 || recs[0].Goal != "goal one" {
		t.Errorf("list(/ws/one) = %+v", recs)
	}
}

func TestStorageListNewestFirst(t *testing.T) {
	st, err := NewStorage(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	older := New("older", "/ws")
	if err := st.Save(older); err != nil {
		t.Fatal(err)
	}
	time.Sleep(10 * time.Millisecond)
	newer := New("newer", "/ws")
	newer.SetStatus(StatusRunning)
	if err := st.Save(newer); err != nil {
		t.Fatal(err)
	}

	recs, err := st.List("/ws")
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 2 {
		t.Fatalf("records = %d", len(recs))
	}
	if recs[0].Goal != "newer" {
		t.Errorf("first record = %q, want newest", recs[0].Goal)
	}
}

func TestStorageListMissingWorkspace(t *testing.T) {
	st, err := NewStorage(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	recs, err := st.List("/never/seen")
	if err != nil || recs != nil {
		t.Errorf("List = %v, %v; want empty, nil", recs, err)
	}
}

func TestStorageDelete(t *testing.T) {
	st, err := NewStorage(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	s := New("goal", "/ws")
	if err := st.Save(s); err != nil {
		t.Fatal(err)
	}
	if err := st.Delete("/ws", s.ID()); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := st.Load("/ws", s.ID()); !os.IsNotExist(err) {
		t.Errorf("Load after delete err = %v", err)
	}
}

func TestSanitizeSessionID(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"abc-123", "abc-123"},
		{"  path" + string(os.PathSeparator) + "trick  ", "path-trick"},
		{"weird!!id??", "weird-id"},
	}
	for _, tt := range tests {
		if got := sanitizeSessionID(tt.in); got != tt.want {
			t.Errorf("sanitizeSessionID(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}

	if got := sanitizeSessionID("///"); !strings.HasPrefix(got, "session-") {
		t.Errorf("empty id fallback = %q", got)
	}
}

func TestHashWorkspaceStable(t *testing.T) {
	a := hashWorkspace("/ws/one")
	b := hashWorkspace("/ws/one")
	c := hashWorkspace("/ws/two")
	if a != b {
		t.Error("hash not stable")
	}
	if a == c {
		t.Error("distinct workspaces collide")
	}
	if len(a) != 16 {
		t.Errorf("hash length = %d", len(a))
	}
	if filepath.Base(a) != a {
		t.Errorf("hash %q is not a plain name", a)
	}
}
