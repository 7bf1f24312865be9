package jobsadmin

import (
	"path/filepath"
	"testing"

	"github.com/fsmhost/fsmhost/internal/store"
)

func TestAddListUpdateDelete(t *testing.T) {
	st, err := store.Open(filepath.Join(t.TempDir(), "state.db"))
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	defer st.Close()

	admin := New(st)

	id, err := admin.Add("t", map[string]any{"k": "v"}, 5)
	if err != nil {
		t.Fatalf("Add: %v", err)
	}

	jobs, err := admin.List("")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(jobs) != 1 || jobs[0].ID != id {
		t.Fatalf("List = %+v, want one job with id %s", jobs, id)
	}

	if err := admin.UpdateStatus(id, store.JobCompleted); err != nil {
		t.Fatalf("UpdateStatus: %v", err)
	}
	got, err := admin.Get(id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != store.JobCompleted {
		t.Errorf("status = %s, want %s", got.Status, store.JobCompleted)
	}

	if err := admin.Delete(id); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := admin.Get(id); err == nil {
		t.Error("Get after delete should error, job no longer exists")
	}

	if err := admin.UpdateStatus("nope", "pending"); err == nil {
		t.Error("UpdateStatus with invalid status should error")
	}
}
