package registry

import (
	"testing"
)

func TestRegisterAndGet(t *testing.T) {
	r := NewBaseRegistry[int]()
	if err := r.Register("one", 1); err != nil {
		t.Fatal(err)
	}
	if v, ok := r.Get("one"); !ok || v != 1 {
		t.Errorf("Get returned %v, %v", v, ok)
	}
	if _, ok := r.Get("two"); ok {
		t.Error("Get found an unregistered name")
	}
}

func TestRegisterRejectsDuplicatesAndEmptyNames(t *testing.T) {
	r := NewBaseRegistry[int]()
	if err := r.Register("", 0); err == nil {
		t.Error("empty name accepted")
	}
	if err := r.Register("one", 1); err != nil {
		t.Fatal(err)
	}
	if err := r.Register("one", 2); err == nil {
		t.Error("duplicate name accepted")
	}
	if v, _ := r.Get("one"); v != 1 {
		t.Errorf("duplicate register overwrote the entry: %v", v)
	}
}

func TestReplaceOverwrites(t *testing.T) {
	r := NewBaseRegistry[int]()
	if err := r.Replace("one", 1); err != nil {
		t.Fatal(err)
	}
	if err := r.Replace("one", 2); err != nil {
		t.Fatal(err)
	}
	if v, _ := r.Get("one"); v != 2 {
		t.Errorf("Replace did not overwrite: %v", v)
	}
}

func TestNamesAndListSorted(t *testing.T) {
	r := NewBaseRegistry[string]()
	for _, name := range []string{"charlie", "alpha", "bravo"} {
		if err := r.Register(name, name); err != nil {
			t.Fatal(err)
		}
	}

	names := r.Names()
	want := []string{"alpha", "bravo", "charlie"}
	for i, n := range want {
		if names[i] != n {
			t.Fatalf("Names not sorted: %v", names)
		}
	}
	list := r.List()
	for i, n := range want {
		if list[i] != n {
			t.Fatalf("List not in name order: %v", list)
		}
	}
}

func TestRemove(t *testing.T) {
	r := NewBaseRegistry[int]()
	if err := r.Register("one", 1); err != nil {
		t.Fatal(err)
	}
	if err := r.Remove("one"); err != nil {
		t.Fatal(err)
	}
	if r.Count() != 0 {
		t.Errorf("Count after remove: %d", r.Count())
	}
	if err := r.Remove("one"); err == nil {
		t.Error("removing a missing entry succeeded")
	}
}

func TestSnapshotIsACopy(t *testing.T) {
	r := NewBaseRegistry[int]()
	if err := r.Register("one", 1); err != nil {
		t.Fatal(err)
	}
	snap := r.Snapshot()
	delete(snap, "one")
	if _, ok := r.Get("one"); !ok {
		t.Error("mutating the snapshot affected the registry")
	}
}
