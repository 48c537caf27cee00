package tigres

// jobQueue is a queue of pending job payloads for the distribute
// server. jobQueue is a queue, so the payload pushed first will popped
// first. The same payload cannot exist in the queue twice.
type jobQueue struct {
	has   map[*jobPayload]bool
	first *queueItem
	last  *queueItem
}

// queueItem is a queueItem that wraps a payload.
// It directs the next queueItem, so the queue can traverse.
type queueItem struct {
	v    *jobPayload
	next *queueItem
}

// newJobQueue creates a new jobQueue.
func newJobQueue() *jobQueue {
	return &jobQueue{
		has: make(map[*jobPayload]bool),
	}
}

// Push pushs a payload to the queue.
// If the same payload has already exists in the queue, it does nothing.
func (q *jobQueue) Push(v *jobPayload) {
	if q.has[v] {
		return
	}
	q.has[v] = true
	item := &queueItem{v: v}
	if q.first == nil {
		q.first = item
	} else {
		q.last.next = item
	}
	q.last = item
}

// Pop pops a payload from the queue.
// If there isn't any payload in the queue, it returns nil.
func (q *jobQueue) Pop() *jobPayload {
	if q.first == nil {
		return nil
	}
	v := q.first.v
	delete(q.has, v)
	if q.first == q.last {
		q.first = nil
		q.last = nil
		return v
	}
	q.first = q.first.next
	return v
}

// Remove finds and removes the given payload from the queue.
// If the queue has the payload, it removes the payload and returns true.
// Otherwise, it does nothing and returns false.
func (q *jobQueue) Remove(v *jobPayload) bool {
	if !q.has[v] {
		return false
	}
	delete(q.has, v)
	var prev *queueItem
	for it := q.first; it != nil; it = it.next {
		if it.v == v {
			if it == q.first {
				q.first = q.first.next
			} else {
				prev.next = it.next
			}
			if it == q.last {
				q.last = prev
			}
			break
		}
		prev = it
	}
	return true
}

// Len returns the number of queued payloads.
func (q *jobQueue) Len() int {
	return len(q.has)
}
