package tags

import (
	"fmt"
	"testing"
)

func write(source string, v int) pendingWrite {
	return pendingWrite{topic: "tags/" + source + "/TargetRatePercentage", payload: []byte(fmt.Sprint(v))}
}

func TestWriteQueueEmptyTake(t *testing.T) {
	q := newWriteQueue(4)
	got, dropped := q.take()
	if got != nil || dropped != 0 {
		t.Errorf("expected nothing from empty queue, got %d writes, %d dropped", len(got), dropped)
	}
}

func TestWriteQueueKeepsOrder(t *testing.T) {
	q := newWriteQueue(8)
	for i := 0; i < 5; i++ {
		q.add(write(fmt.Sprintf("pump-%d", i), i))
	}
	if q.len() != 5 {
		t.Fatalf("len: got %d, want 5", q.len())
	}

	got, _ := q.take()
	for i, w := range got {
		if string(w.payload) != fmt.Sprint(i) {
			t.Errorf("write %d: payload %s", i, w.payload)
		}
	}
	if q.len() != 0 {
		t.Errorf("len after take: got %d, want 0", q.len())
	}
}

func TestWriteQueueLatestPerTopic(t *testing.T) {
	q := newWriteQueue(4)
	q.add(write("pump-1", 10))
	q.add(write("pump-2", 20))
	q.add(write("pump-1", 11))
	q.add(write("pump-1", 12))

	got, dropped := q.take()
	if len(got) != 2 || dropped != 0 {
		t.Fatalf("expected 2 writes and no drops, got %d and %d", len(got), dropped)
	}
	if got[0].topic != "tags/pump-1/TargetRatePercentage" || string(got[0].payload) != "12" {
		t.Errorf("first write: %s = %s, want pump-1 = 12", got[0].topic, got[0].payload)
	}
	if string(got[1].payload) != "20" {
		t.Errorf("second write: got %s, want 20", got[1].payload)
	}
}

func TestWriteQueueDropsOldest(t *testing.T) {
	q := newWriteQueue(3)
	for i := 0; i < 7; i++ {
		q.add(write(fmt.Sprintf("pump-%d", i), i))
	}

	got, dropped := q.take()
	if len(got) != 3 || dropped != 4 {
		t.Fatalf("expected 3 writes and 4 drops, got %d and %d", len(got), dropped)
	}
	for i, w := range got {
		if want := fmt.Sprint(i + 4); string(w.payload) != want {
			t.Errorf("write %d: payload %s, want %s", i, w.payload, want)
		}
	}

	// The drop count resets with each take.
	q.add(write("pump-9", 9))
	if _, dropped := q.take(); dropped != 0 {
		t.Errorf("dropped after second take: got %d, want 0", dropped)
	}
}

func TestWriteQueueMinimumLimit(t *testing.T) {
	q := newWriteQueue(0)
	q.add(write("pump-1", 1))
	q.add(write("pump-2", 2))
	got, _ := q.take()
	if len(got) != 1 || string(got[0].payload) != "2" {
		t.Errorf("zero limit should clamp to 1 and keep newest, got %+v", got)
	}
}
