// Package queue provides an ordered pending-input queue with a single
// processing slot and soft-interrupt semantics.
package queue

import (
	"fmt"
	"sync"
)

// MessageStatus represents the state of a queued message.
type MessageStatus string

const (
	// StatusQueued indicates the message is waiting to be consumed.
	StatusQueued MessageStatus = "queued"
	// StatusProcessing indicates the message is the current one being handled.
	StatusProcessing MessageStatus = "processing"
	// StatusError indicates handling of the message failed.
	StatusError MessageStatus = "error"
)

// Message is a single queued input.
type Message struct {
	// ID is the queue-assigned identifier (msg-<n>, monotonic per queue).
	ID string `json:"id"`
	// Content is the message body.
	Content string `json:"content"`
	// Metadata carries opaque caller data.
	Metadata map[string]string `json:"metadata,omitempty"`
	// Status is the current message state.
	Status MessageStatus `json:"status"`
	// Edited is true if the content was changed while queued.
	Edited bool `json:"edited,omitempty"`
	// Error holds the failure reason when Status is error.
	Error string `json:"error,omitempty"`
}

// MessageQueue is a FIFO queue with exactly one processing slot. Enforcing
// single-consumer discipline is the caller's responsibility; the queue only
// guarantees that Next yields nothing while a message is processing.
type MessageQueue struct {
	mu        sync.Mutex
	items     []*Message
	current   *Message
	nextSeq   int
	listeners map[int]func()
	nextSub   int
}

// New creates an empty MessageQueue.
func New() *MessageQueue {
	return &MessageQueue{
		listeners: make(map[int]func()),
	}
}

// Add enqueues a message and returns its assigned ID. IDs never repeat
// within a queue instance.
func (q *MessageQueue) Add(content string, metadata map[string]string) string {
	q.mu.Lock()
	q.nextSeq++
	msg := &Message{
		ID:       fmt.Sprintf("msg-%d", q.nextSeq),
		Content:  content,
		Metadata: metadata,
		Status:   StatusQueued,
	}
	q.items = append(q.items, msg)
	q.mu.Unlock()

	q.notify()
	return msg.ID
}

// Next dequeues the head message, marks it processing, and returns it.
// Returns nil if the queue is empty or a message is already processing.
func (q *MessageQueue) Next() *Message {
	q.mu.Lock()
	if q.current != nil || len(q.items) == 0 {
		q.mu.Unlock()
		return nil
	}
	msg := q.items[0]
	q.items = q.items[1:]
	msg.Status = StatusProcessing
	q.current = msg
	q.mu.Unlock()

	q.notify()
	return msg
}

// Complete clears the processing slot if id matches the current message.
// A mismatched id is a silent no-op.
func (q *MessageQueue) Complete(id string) {
	q.mu.Lock()
	if q.current == nil || q.current.ID != id {
		q.mu.Unlock()
		return
	}
	q.current = nil
	q.mu.Unlock()

	q.notify()
}

// Error marks the current message as errored and clears the processing slot,
// only if id matches. A mismatched id is a silent no-op.
func (q *MessageQueue) Error(id, errMsg string) {
	q.mu.Lock()
	if q.current == nil || q.current.ID != id {
		q.mu.Unlock()
		return
	}
	q.current.Status = StatusError
	q.current.Error = errMsg
	q.current = nil
	q.mu.Unlock()

	q.notify()
}

// Remove deletes a queued message by id. Returns false if the message is
// absent or currently processing.
func (q *MessageQueue) Remove(id string) bool {
	q.mu.Lock()
	for i, msg := range q.items {
		if msg.ID == id {
			q.items = append(q.items[:i], q.items[i+1:]...)
			q.mu.Unlock()
			q.notify()
			return true
		}
	}
	q.mu.Unlock()
	return false
}

// Reorder moves a queued message to newIndex within the non-processing
// portion of the queue. Returns false if the message is absent, processing,
// or newIndex is out of range.
func (q *MessageQueue) Reorder(id string, newIndex int) bool {
	q.mu.Lock()
	if newIndex < 0 || newIndex >= len(q.items) {
		q.mu.Unlock()
		return false
	}
	from := -1
	for i, msg := range q.items {
		if msg.ID == id {
			from = i
			break
		}
	}
	if from == -1 {
		q.mu.Unlock()
		return false
	}
	msg := q.items[from]
	q.items = append(q.items[:from], q.items[from+1:]...)
	q.items = append(q.items[:newIndex], append([]*Message{msg}, q.items[newIndex:]...)...)
	q.mu.Unlock()

	q.notify()
	return true
}

// Edit replaces the content of a queued message and sets its edited flag.
// Returns false if the message is absent or currently processing.
func (q *MessageQueue) Edit(id, content string) bool {
	q.mu.Lock()
	for _, msg := range q.items {
		if msg.ID == id {
			msg.Content = content
			msg.Edited = true
			q.mu.Unlock()
			q.notify()
			return true
		}
	}
	q.mu.Unlock()
	return false
}

// Clear drops all queued messages. The processing slot is untouched.
func (q *MessageQueue) Clear() {
	q.mu.Lock()
	q.items = nil
	q.mu.Unlock()

	q.notify()
}

// Subscribe registers a listener fired synchronously after every mutation.
// It returns an unsubscribe function.
func (q *MessageQueue) Subscribe(fn func()) func() {
	q.mu.Lock()
	id := q.nextSub
	q.nextSub++
	q.listeners[id] = fn
	q.mu.Unlock()

	return func() {
		q.mu.Lock()
		delete(q.listeners, id)
		q.mu.Unlock()
	}
}

// Len returns the number of queued (non-processing) messages.
func (q *MessageQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// IsProcessing reports whether a message currently occupies the processing
// slot.
func (q *MessageQueue) IsProcessing() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.current != nil
}

// Current returns the message in the processing slot, or nil.
func (q *MessageQueue) Current() *Message {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.current
}

// Items returns a snapshot of the queued messages in order.
func (q *MessageQueue) Items() []*Message {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]*Message, len(q.items))
	copy(out, q.items)
	return out
}

// notify fires all listeners outside the lock so a listener may call back
// into the queue.
func (q *MessageQueue) notify() {
	q.mu.Lock()
	fns := make([]func(), 0, len(q.listeners))
	for _, fn := range q.listeners {
		fns = append(fns, fn)
	}
	q.mu.Unlock()

	for _, fn := range fns {
		fn()
	}
}
