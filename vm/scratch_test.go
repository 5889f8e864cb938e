package vm

import (
	"errors"
	"testing"
)

func TestAllocatorSequencing(t *testing.T) {
	a := NewAllocator()
	first, err := a.Alloc("first", 8)
	if err != nil {
		t.Fatalf("Alloc() error: %v", err)
	}
	second, err := a.Alloc("second", 16)
	if err != nil {
		t.Fatalf("Alloc() error: %v", err)
	}
	if first != 0 {
		t.Errorf("first base = %d, want 0", first)
	}
	if second != 8 {
		t.Errorf("second base = %d, want 8", second)
	}
	if got := a.Used(); got != 24 {
		t.Errorf("Used() = %d, want 24", got)
	}

	ranges := a.Ranges()
	if len(ranges) != 2 {
		t.Fatalf("len(Ranges()) = %d, want 2", len(ranges))
	}
	want := ScratchRange{Name: "second", Base: 8, Len: 16}
	if ranges[1] != want {
		t.Errorf("Ranges()[1] = %+v, want %+v", ranges[1], want)
	}
}

func TestAllocatorExhaustion(t *testing.T) {
	a := NewAllocatorSize(32)
	if _, err := a.Alloc("fits", 32); err != nil {
		t.Fatalf("Alloc() error: %v", err)
	}
	if _, err := a.Alloc("overflow", 1); !errors.Is(err, ErrScratchExhausted) {
		t.Errorf("Alloc() past capacity = %v, want ErrScratchExhausted", err)
	}
}

func TestAllocatorFullCapacity(t *testing.T) {
	a := NewAllocator()
	if _, err := a.Alloc("all", ScratchSize); err != nil {
		t.Errorf("Alloc(ScratchSize) error: %v", err)
	}
	if _, err := a.Alloc("one more", 1); !errors.Is(err, ErrScratchExhausted) {
		t.Errorf("Alloc() past capacity = %v, want ErrScratchExhausted", err)
	}
}

func TestAllocatorZeroLength(t *testing.T) {
	a := NewAllocator()
	if _, err := a.Alloc("empty", 0); err == nil {
		t.Error("Alloc(0) = nil error, want error")
	}
}

func TestAllocatorAnonymous(t *testing.T) {
	a := NewAllocator()
	if _, err := a.Alloc("", 4); err != nil {
		t.Fatalf("Alloc() error: %v", err)
	}
	if got := len(a.Ranges()); got != 0 {
		t.Errorf("anonymous alloc recorded %d ranges, want 0", got)
	}
	if got := a.Used(); got != 4 {
		t.Errorf("Used() = %d, want 4", got)
	}
}

func TestMustAllocPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("MustAlloc past capacity did not panic")
		}
	}()
	a := NewAllocatorSize(8)
	a.MustAlloc("too big", 9)
}
