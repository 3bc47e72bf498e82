package relay

import "testing"

func TestWaitingQueue_FIFO(t *testing.T) {
	q := newWaitingQueue()
	q.Push("a")
	q.Push("b")
	q.Push("c")

	if head, ok := q.Head(); !ok || head != "a" {
		t.Fatalf("Head=%q ok=%v, want a", head, ok)
	}
	if id, ok := q.PopHead(); !ok || id != "a" {
		t.Fatalf("PopHead=%q, want a (longest waiting)", id)
	}
	if id, ok := q.PopHead(); !ok || id != "b" {
		t.Fatalf("PopHead=%q, want b", id)
	}
	if id, ok := q.PopHead(); !ok || id != "c" {
		t.Fatalf("PopHead=%q, want c", id)
	}
	if _, ok := q.PopHead(); ok {
		t.Fatal("PopHead on empty queue reported ok")
	}
}

func TestWaitingQueue_NoDuplicates(t *testing.T) {
	q := newWaitingQueue()
	if !q.Push("a") {
		t.Fatal("first push rejected")
	}
	if q.Push("a") {
		t.Fatal("duplicate push accepted")
	}
	if q.Len() != 1 {
		t.Fatalf("Len=%d, want 1", q.Len())
	}
}

func TestWaitingQueue_RemoveMidQueue(t *testing.T) {
	q := newWaitingQueue()
	q.Push("a")
	q.Push("b")
	q.Push("c")

	q.Remove("b")
	q.Remove("not-queued") // no-op

	if q.Contains("b") {
		t.Fatal("removed id still reported as queued")
	}
	if id, _ := q.PopHead(); id != "a" {
		t.Fatalf("PopHead=%q, want a", id)
	}
	if id, _ := q.PopHead(); id != "c" {
		t.Fatalf("PopHead=%q, want c", id)
	}

	// Removed ids can be queued again.
	if !q.Push("b") {
		t.Fatal("re-push after remove rejected")
	}
}
