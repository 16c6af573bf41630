package blob

import (
	"bytes"
	"testing"
)

func TestStoreAndLoad(t *testing.T) {
	arena, err := NewArena(t.TempDir())
	if err != nil {
		t.Fatalf("NewArena failed: %v", err)
	}

	data := []byte("jpeg bytes go here")
	ref, err := arena.Store(data)
	if err != nil {
		t.Fatalf("Store failed: %v", err)
	}
	if ref != Ref(data) {
		t.Errorf("Expected ref %s, got %s", Ref(data), ref)
	}

	loaded, err := arena.Load(ref)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if !bytes.Equal(loaded, data) {
		t.Error("Loaded bytes differ from stored bytes")
	}
}

func TestStoreDeduplicates(t *testing.T) {
	arena, err := NewArena(t.TempDir())
	if err != nil {
		t.Fatalf("NewArena failed: %v", err)
	}

	data := []byte("same content")
	ref1, err := arena.Store(data)
	if err != nil {
		t.Fatalf("first Store failed: %v", err)
	}
	ref2, err := arena.Store(data)
	if err != nil {
		t.Fatalf("second Store failed: %v", err)
	}
	if ref1 != ref2 {
		t.Errorf("Expected identical refs, got %s and %s", ref1, ref2)
	}
}

func TestStoreRejectsEmpty(t *testing.T) {
	arena, err := NewArena(t.TempDir())
	if err != nil {
		t.Fatalf("NewArena failed: %v", err)
	}

	if _, err := arena.Store(nil); err == nil {
		t.Fatal("Expected error storing empty blob")
	}
}

func TestDelete(t *testing.T) {
	arena, err := NewArena(t.TempDir())
	if err != nil {
		t.Fatalf("NewArena failed: %v", err)
	}

	ref, err := arena.Store([]byte("temporary"))
	if err != nil {
		t.Fatalf("Store failed: %v", err)
	}

	if err := arena.Delete(ref); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if arena.Exists(ref) {
		t.Error("Blob should be gone after delete")
	}

	// Deleting again is not an error.
	if err := arena.Delete(ref); err != nil {
		t.Errorf("Repeated delete errored: %v", err)
	}
}

func TestLoadMissing(t *testing.T) {
	arena, err := NewArena(t.TempDir())
	if err != nil {
		t.Fatalf("NewArena failed: %v", err)
	}

	ref := Ref([]byte("never stored"))
	if _, err := arena.Load(ref); err == nil {
		t.Fatal("Expected error loading missing blob")
	}
}
