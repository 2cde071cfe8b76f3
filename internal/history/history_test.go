// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package history

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
)

func TestRecord_SkipsBlank(t *testing.T) {
	var notified atomic.Int32
	l := New(func() { notified.Add(1) })

	cases := [][2]string{
		{"", "x"},
		{"x", ""},
		{"   ", "x"},
		{"x", "\n\t"},
	}
	for _, c := range cases {
		if l.Record(c[0], c[1]) {
			t.Errorf("Record(%q, %q) = true, want false", c[0], c[1])
		}
	}

	if l.Len() != 0 {
		t.Errorf("Len() = %d, want 0", l.Len())
	}
	if notified.Load() != 0 {
		t.Errorf("notified %d times, want 0", notified.Load())
	}
}

func TestRecord_KeepsInputsVerbatim(t *testing.T) {
	l := New(nil)
	l.Record("  原文 ", " translation\n")

	got := l.List()
	if len(got) != 1 {
		t.Fatalf("len(List()) = %d, want 1", len(got))
	}
	if got[0].Original != "  原文 " || got[0].Translation != " translation\n" {
		t.Errorf("List()[0] = %+v, want untrimmed values", got[0])
	}
}

func TestRecord_EvictsOldest(t *testing.T) {
	var notified atomic.Int32
	l := New(func() { notified.Add(1) })

	for i := 0; i < Capacity+1; i++ {
		l.Record(fmt.Sprintf("o%d", i), fmt.Sprintf("t%d", i))
	}

	got := l.List()
	if len(got) != Capacity {
		t.Fatalf("len(List()) = %d, want %d", len(got), Capacity)
	}
	if got[0].Original != "o1" {
		t.Errorf("oldest = %q, want o1", got[0].Original)
	}
	if last := got[len(got)-1]; last.Original != fmt.Sprintf("o%d", Capacity) {
		t.Errorf("newest = %q, want o%d", last.Original, Capacity)
	}
	for i := 1; i < len(got); i++ {
		var a, b int
		fmt.Sscanf(got[i-1].Original, "o%d", &a)
		fmt.Sscanf(got[i].Original, "o%d", &b)
		if b != a+1 {
			t.Fatalf("entries out of order at %d: %s then %s", i, got[i-1].Original, got[i].Original)
		}
	}
	if notified.Load() != Capacity+1 {
		t.Errorf("notified %d times, want %d", notified.Load(), Capacity+1)
	}
}

func TestRecord_SmallCapacity(t *testing.T) {
	l := newWithCapacity(3, nil)
	for i := 0; i < 10; i++ {
		l.Record(fmt.Sprint(i), "t")
	}

	got := l.List()
	want := []string{"7", "8", "9"}
	if len(got) != len(want) {
		t.Fatalf("len(List()) = %d, want %d", len(got), len(want))
	}
	for i, w := range want {
		if got[i].Original != w {
			t.Errorf("List()[%d].Original = %q, want %q", i, got[i].Original, w)
		}
	}
}

func TestList_ReturnsCopy(t *testing.T) {
	l := New(nil)
	l.Record("a", "b")

	got := l.List()
	got[0].Original = "mutated"

	if l.List()[0].Original != "a" {
		t.Error("List() exposed internal storage")
	}
}

func TestRecord_NotifyOutsideLock(t *testing.T) {
	var l *Log
	l = New(func() {
		// Would deadlock if called with the lock held.
		_ = l.Len()
	})
	l.Record("a", "b")
}

func TestRecord_Concurrent(t *testing.T) {
	l := newWithCapacity(100, nil)

	var wg sync.WaitGroup
	for g := 0; g < 10; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				l.Record(fmt.Sprintf("g%d-%d", g, i), "t")
				_ = l.List()
			}
		}(g)
	}
	wg.Wait()

	if l.Len() != 100 {
		t.Errorf("Len() = %d, want 100", l.Len())
	}
}
