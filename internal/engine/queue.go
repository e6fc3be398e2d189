package engine

import "sync"

// ConversationQueue serializes turns within one conversation. Turns for
// different conversations run concurrently; turns for the same conversation
// run one at a time in submission order.
type ConversationQueue struct {
	conversationID string
	pending        []TurnRequest
	mu             sync.Mutex
	locked         bool
}

func NewConversationQueue(conversationID string) *ConversationQueue {
	return &ConversationQueue{conversationID: conversationID}
}

func (q *ConversationQueue) Enqueue(req TurnRequest) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.pending = append(q.pending, req)
}

func (q *ConversationQueue) Dequeue() (TurnRequest, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.pending) == 0 {
		return TurnRequest{}, false
	}

	req := q.pending[0]
	q.pending = q.pending[1:]
	return req, true
}

// TryLock claims the queue for draining. Only one drainer runs at a time;
// a second caller gets false and leaves its turns for the current drainer.
func (q *ConversationQueue) TryLock() bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.locked {
		return false
	}
	q.locked = true
	return true
}

func (q *ConversationQueue) Unlock() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.locked = false
}

func (q *ConversationQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Idle reports whether the queue has no pending turns and no drainer. Idle
// queues are evicted from the engine's queue map.
func (q *ConversationQueue) Idle() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return !q.locked && len(q.pending) == 0
}
