package ectx

import "testing"

func TestGetDotPath(t *testing.T) {
	c := New("m1", nil)
	c.Set("current_job", map[string]any{"id": "42"})

	v, ok := c.Get("current_job.id")
	if !ok || v != "42" {
		t.Fatalf("Get(current_job.id) = %v, %v", v, ok)
	}
}

func TestGetMissingKey(t *testing.T) {
	c := New("m1", nil)
	if _, ok := c.Get("nope"); ok {
		t.Fatal("Get(nope) ok = true, want false")
	}
}

func TestFlatten(t *testing.T) {
	c := New("m1", nil)
	c.Flatten(map[string]any{"job_type": "t", "report_id": "r9"})

	if c["job_type"] != "t" || c["report_id"] != "r9" {
		t.Fatalf("Flatten() = %v", c)
	}
}

func TestClone(t *testing.T) {
	c := New("m1", map[string]any{"k": "v"})
	clone := c.Clone()
	clone.Set("k", "changed")

	if c["k"] != "v" {
		t.Fatalf("original mutated: c[k] = %v", c["k"])
	}
	if clone["k"] != "changed" {
		t.Fatalf("clone not updated: clone[k] = %v", clone["k"])
	}
}
