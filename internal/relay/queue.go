package relay

// waitingQueue is the FIFO of peers awaiting a pairing partner. A peer
// appears at most once. Like Registry, it is owned by an Engine and only
// touched under the engine's lock.
type waitingQueue struct {
	ids    []string
	member map[string]struct{}
}

func newWaitingQueue() *waitingQueue {
	return &waitingQueue{member: make(map[string]struct{})}
}

// Push appends the id unless it is already queued. Reports whether the id
// was added.
func (q *waitingQueue) Push(id string) bool {
	if _, ok := q.member[id]; ok {
		return false
	}
	q.ids = append(q.ids, id)
	q.member[id] = struct{}{}
	return true
}

// Head returns the longest-waiting id without removing it.
func (q *waitingQueue) Head() (string, bool) {
	if len(q.ids) == 0 {
		return "", false
	}
	return q.ids[0], true
}

// PopHead removes and returns the longest-waiting id.
func (q *waitingQueue) PopHead() (string, bool) {
	if len(q.ids) == 0 {
		return "", false
	}
	id := q.ids[0]
	q.ids = q.ids[1:]
	delete(q.member, id)
	return id, true
}

// Remove takes the id out of the queue wherever it sits. A no-op for ids not
// queued.
func (q *waitingQueue) Remove(id string) {
	if _, ok := q.member[id]; !ok {
		return
	}
	delete(q.member, id)
	for i, queued := range q.ids {
		if queued == id {
			q.ids = append(q.ids[:i], q.ids[i+1:]...)
			break
		}
	}
}

func (q *waitingQueue) Contains(id string) bool {
	_, ok := q.member[id]
	return ok
}

func (q *waitingQueue) Len() int {
	return len(q.ids)
}
