package storage

import (
	"bytes"
	"errors"
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"

	"tinyc/pkg/value"
)

func TestSetGetInt(t *testing.T) {
	m := New(1024)
	addr, err := m.AllocateAuto(4)
	if err != nil {
		t.Fatal(err)
	}
	for _, v := range []int32{0, 1, -1, 123456, -2147483648} {
		if err := m.SetInt(addr, v); err != nil {
			t.Fatalf("SetInt(%d): %v", v, err)
		}
		got, err := m.GetInt(addr)
		if err != nil || got != v {
			t.Errorf("GetInt after SetInt(%d) = %d, %v", v, got, err)
		}
		if m.IsFault(addr) {
			t.Errorf("IsFault(%#x) after write", addr)
		}
	}
}

func TestTypedValues(t *testing.T) {
	m := New(1024)
	addr, _ := m.AllocateAuto(8)
	values := []value.Value{
		value.NewChar(-5),
		value.NewBoolean(true),
		value.NewInt(-77),
		value.NewLong(1 << 50),
		value.NewFloat(1.25),
		value.NewDouble(3.0e100),
		value.NewPointer(value.Int, 0x40),
	}
	for _, v := range values {
		if err := m.SetValue(addr, v); err != nil {
			t.Fatalf("SetValue(%v): %v", v, err)
		}
		got, err := m.GetValue(addr, v.Type())
		if err != nil {
			t.Fatalf("GetValue(%s): %v", v.TypeName(), err)
		}
		if got != v {
			t.Errorf("round trip of %#v gave %#v", v, got)
		}
	}
}

func TestFramesRestoreCurrent(t *testing.T) {
	for _, n := range []int64{0, 1, 7, 8, 100, 1000} {
		m := New(4096)
		if _, err := m.AllocateAuto(3); err != nil {
			t.Fatal(err)
		}
		before := m.Current()
		if err := m.PushStorage(); err != nil {
			t.Fatal(err)
		}
		if _, err := m.AllocateAuto(n); err != nil {
			t.Fatalf("AllocateAuto(%d): %v", n, err)
		}
		if err := m.PopStorage(); err != nil {
			t.Fatal(err)
		}
		if m.Current() != before || m.FrameCount() != 0 {
			t.Errorf("n=%d: current %#x frames %d, want %#x and 0", n, m.Current(), m.FrameCount(), before)
		}
	}
}

func TestPopKeepsContents(t *testing.T) {
	m := New(1024)
	if err := m.PushStorage(); err != nil {
		t.Fatal(err)
	}
	addr, err := m.AllocateAuto(4)
	if err != nil {
		t.Fatal(err)
	}
	if err := m.SetInt(addr, 42); err != nil {
		t.Fatal(err)
	}
	if err := m.PopStorage(); err != nil {
		t.Fatal(err)
	}
	got, err := m.GetInt(addr)
	if err != nil {
		t.Fatal(err)
	}
	if got != 42 {
		t.Errorf("GetInt after pop = %d; want the stale 42", got)
	}
}

func TestFrameLimits(t *testing.T) {
	m := New(1024, WithMaxFrames(2))
	if err := m.PopStorage(); !errors.Is(err, ErrStackUnderflow) {
		t.Errorf("pop of empty stack: %v", err)
	}
	for i := 0; i < 2; i++ {
		if err := m.PushStorage(); err != nil {
			t.Fatal(err)
		}
	}
	if err := m.PushStorage(); !errors.Is(err, ErrStackOverflow) {
		t.Errorf("third push: %v", err)
	}
}

func TestAutoAlignment(t *testing.T) {
	m := New(1024)
	a, _ := m.AllocUnpadded(3)
	b, _ := m.AllocateAuto(5)
	c, _ := m.AllocateAuto(1)
	if a != Alignment || b != 2*Alignment || c != 3*Alignment {
		t.Errorf("addresses %#x %#x %#x", a, b, c)
	}
}

func TestFreeAndReuse(t *testing.T) {
	m := New(1024)
	addr, err := m.AllocateDynamic(24)
	if err != nil {
		t.Fatal(err)
	}
	if m.IsFault(addr) {
		t.Fatalf("live block at %#x faults", addr)
	}
	dynamic := m.Dynamic()

	if err := m.Free(addr); err != nil {
		t.Fatal(err)
	}
	if !m.IsFault(addr) {
		t.Errorf("freed block at %#x does not fault", addr)
	}
	if _, err := m.GetInt(addr); !errors.Is(err, ErrFault) {
		t.Errorf("read of freed block: %v", err)
	}

	again, err := m.AllocateDynamic(24)
	if err != nil {
		t.Fatal(err)
	}
	if again != addr || m.Dynamic() != dynamic {
		t.Errorf("reallocation at %#x (dynamic %#x), want %#x (dynamic %#x)", again, m.Dynamic(), addr, dynamic)
	}
}

func TestFreeCoalesces(t *testing.T) {
	m := New(1024)
	a, _ := m.AllocateDynamic(8)
	b, _ := m.AllocateDynamic(8)
	c, _ := m.AllocateDynamic(8)
	for _, addr := range []int64{a, c, b} {
		if err := m.Free(addr); err != nil {
			t.Fatal(err)
		}
	}
	want := []Block{{Address: c, Size: 24}}
	if diff := cmp.Diff(want, m.freeList); diff != "" {
		t.Errorf("free list mismatch (-want +got):\n%s", diff)
	}
	big, err := m.AllocateDynamic(24)
	if err != nil || big != c {
		t.Errorf("AllocateDynamic(24) = %#x, %v; want %#x", big, err, c)
	}
}

func TestInvalidFree(t *testing.T) {
	m := New(1024)
	addr, _ := m.AllocateDynamic(16)
	tests := []struct {
		name string
		addr int64
	}{
		{"never allocated", 0x100},
		{"interior address", addr + 8},
		{"null", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := m.Free(tt.addr); !errors.Is(err, ErrInvalidFree) {
				t.Errorf("Free(%#x) = %v", tt.addr, err)
			}
		})
	}
	if err := m.Free(addr); err != nil {
		t.Fatal(err)
	}
	if err := m.Free(addr); !errors.Is(err, ErrInvalidFree) {
		t.Errorf("double free: %v", err)
	}
}

func TestFaults(t *testing.T) {
	m := New(1024)
	live, _ := m.AllocateDynamic(8)
	freed, _ := m.AllocateDynamic(8)
	if err := m.Free(freed); err != nil {
		t.Fatal(err)
	}
	tests := []struct {
		name string
		addr int64
	}{
		{"null page", 0},
		{"past end", m.Size()},
		{"far past end", m.Size() + 100},
		{"negative", -8},
		{"freed heap block", freed},
		{"max address", math.MaxInt64},
		{"just below max", math.MaxInt64 - 3},
		{"min address", math.MinInt64},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if !m.IsFault(tt.addr) {
				t.Errorf("IsFault(%#x) = false", tt.addr)
			}
			if err := m.SetLong(tt.addr, 1); !errors.Is(err, ErrFault) {
				t.Errorf("SetLong(%#x) = %v", tt.addr, err)
			}
		})
	}
	// A read straddling the end of a live block faults too.
	if _, err := m.GetLong(live + 4); !errors.Is(err, ErrFault) {
		t.Errorf("straddling read: %v", err)
	}
}

func TestOutOfMemory(t *testing.T) {
	m := New(64)
	if _, err := m.AllocateDynamic(40); err != nil {
		t.Fatal(err)
	}
	if _, err := m.AllocateAuto(32); !errors.Is(err, ErrOutOfMemory) {
		t.Errorf("auto crossing heap: %v", err)
	}
	if _, err := m.AllocateDynamic(32); !errors.Is(err, ErrOutOfMemory) {
		t.Errorf("heap crossing auto: %v", err)
	}
}

func TestHugeRequests(t *testing.T) {
	sizes := []int64{math.MaxInt64, math.MaxInt64 - 3, 1 << 62}
	for _, n := range sizes {
		m := New(1024)
		if err := m.PushStorage(); err != nil {
			t.Fatal(err)
		}
		before := m.Current()
		if _, err := m.AllocateAuto(n); !errors.Is(err, ErrOutOfMemory) {
			t.Errorf("AllocateAuto(%d) = %v", n, err)
		}
		if _, err := m.AllocUnpadded(n); !errors.Is(err, ErrOutOfMemory) {
			t.Errorf("AllocUnpadded(%d) = %v", n, err)
		}
		if _, err := m.AllocateDynamic(n); !errors.Is(err, ErrOutOfMemory) {
			t.Errorf("AllocateDynamic(%d) = %v", n, err)
		}
		if m.Current() != before || m.Dynamic() != m.Size() {
			t.Errorf("n=%d moved the cursors: current %#x dynamic %#x", n, m.Current(), m.Dynamic())
		}
		if err := m.PopStorage(); err != nil {
			t.Fatal(err)
		}
	}
}

func TestAllocateStringInterns(t *testing.T) {
	m := New(1024)
	first, err := m.AllocateString("hello")
	if err != nil {
		t.Fatal(err)
	}
	if err := m.PushStorage(); err != nil {
		t.Fatal(err)
	}
	second, err := m.AllocateString("hello")
	if err != nil {
		t.Fatal(err)
	}
	if first != second {
		t.Errorf("interned addresses differ: %v vs %v", first, second)
	}
	if first.Type() != value.Char.PointerTo() {
		t.Errorf("type %s, want char *", first.TypeName())
	}

	inner, err := m.AllocateString("inside")
	if err != nil {
		t.Fatal(err)
	}
	if err := m.PopStorage(); err != nil {
		t.Fatal(err)
	}
	s, err := m.GetString(inner.Address())
	if err != nil || s != "inside" {
		t.Errorf("string interned in a frame = %q, %v", s, err)
	}
	if err := m.Free(inner.Address()); !errors.Is(err, ErrInvalidFree) {
		t.Errorf("free of interned string: %v", err)
	}
}

func TestSnapshotRoundTrip(t *testing.T) {
	m := New(512)
	g, _ := m.AllocateAuto(4)
	_ = m.SetInt(g, 42)
	h, _ := m.AllocateDynamic(16)
	_ = m.SetDouble(h, 2.5)
	_, _ = m.AllocateString("snap")
	_ = m.PushStorage()

	var buf bytes.Buffer
	if err := m.WriteSnapshot(&buf); err != nil {
		t.Fatal(err)
	}
	restored, err := ReadSnapshot(buf.Bytes())
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(m.Stats(), restored.Stats()); diff != "" {
		t.Errorf("stats mismatch (-want +got):\n%s", diff)
	}
	if !bytes.Equal(m.Bytes(), restored.Bytes()) {
		t.Error("memory contents differ")
	}
	if v, _ := restored.GetInt(g); v != 42 {
		t.Errorf("restored global = %d", v)
	}
	if p, _ := restored.AllocateString("snap"); p.Address() != m.stringPool["snap"] {
		t.Errorf("restored pool lost %q", "snap")
	}
}

func TestRegions(t *testing.T) {
	m := New(64)
	_, _ = m.AllocateAuto(8)
	a, _ := m.AllocateDynamic(8)
	_, _ = m.AllocateDynamic(8)
	_ = m.Free(a)

	got := m.Regions()
	want := []Span{
		{Start: 0, End: 8, Region: RegionReserved},
		{Start: 8, End: 16, Region: RegionAuto},
		{Start: 16, End: 48, Region: RegionUnused},
		{Start: 48, End: 56, Region: RegionHeapLive},
		{Start: 56, End: 64, Region: RegionHeapFree},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("regions mismatch (-want +got):\n%s", diff)
	}
}
