package tags

import "log"

// pendingWrite is a tag write held until the broker is reachable again.
type pendingWrite struct {
	topic   string
	payload []byte
}

// writeQueue holds tag writes made while offline. A newer write to a topic
// replaces the queued one in place, so a replay carries only the latest
// command per tag. When more than limit topics are queued the oldest is
// dropped. Not safe for concurrent use; the caller must synchronize.
type writeQueue struct {
	limit   int
	writes  []pendingWrite
	dropped int
}

func newWriteQueue(limit int) *writeQueue {
	if limit < 1 {
		limit = 1
	}
	return &writeQueue{limit: limit}
}

func (q *writeQueue) add(w pendingWrite) {
	for i := range q.writes {
		if q.writes[i].topic == w.topic {
			q.writes[i].payload = w.payload
			return
		}
	}
	if len(q.writes) == q.limit {
		if q.dropped == 0 {
			log.Printf("tags: offline queue full (%d tags), dropping oldest", q.limit)
		}
		q.dropped++
		q.writes = append(q.writes[:0], q.writes[1:]...)
	}
	q.writes = append(q.writes, w)
}

// take empties the queue, returning the writes oldest first and how many
// were dropped since the last take.
func (q *writeQueue) take() ([]pendingWrite, int) {
	writes, dropped := q.writes, q.dropped
	q.writes, q.dropped = nil, 0
	return writes, dropped
}

func (q *writeQueue) len() int {
	return len(q.writes)
}
