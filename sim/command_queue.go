package sim

import (
	"container/heap"
	"time"
)

// Command is a callback scheduled for a simulated time.
type Command struct {
	At   time.Time
	Name string
	Run  func() error

	seq uint64
}

// CommandQueue implements a priority queue with deterministic ordering.
// Ordering: scheduled time → insertion sequence.
type CommandQueue struct {
	items   []*Command
	nextSeq uint64
}

// NewCommandQueue creates an empty queue.
func NewCommandQueue() *CommandQueue {
	q := &CommandQueue{items: make([]*Command, 0)}
	heap.Init(q)
	return q
}

// Len implements heap.Interface
func (q *CommandQueue) Len() int {
	return len(q.items)
}

// Less implements heap.Interface
func (q *CommandQueue) Less(i, j int) bool {
	ci, cj := q.items[i], q.items[j]
	if !ci.At.Equal(cj.At) {
		return ci.At.Before(cj.At)
	}
	return ci.seq < cj.seq
}

// Swap implements heap.Interface
func (q *CommandQueue) Swap(i, j int) {
	q.items[i], q.items[j] = q.items[j], q.items[i]
}

// Push implements heap.Interface
func (q *CommandQueue) Push(x any) {
	q.items = append(q.items, x.(*Command))
}

// Pop implements heap.Interface
func (q *CommandQueue) Pop() any {
	old := q.items
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	q.items = old[0 : n-1]
	return item
}

// Schedule adds a command to the queue.
func (q *CommandQueue) Schedule(at time.Time, name string, run func() error) {
	q.nextSeq++
	heap.Push(q, &Command{At: at, Name: name, Run: run, seq: q.nextSeq})
}

// Peek returns the next command without removing it.
func (q *CommandQueue) Peek() *Command {
	if q.Len() == 0 {
		return nil
	}
	return q.items[0]
}

// PopDue removes and returns every command scheduled at or before threshold, in
// increasing time order.
func (q *CommandQueue) PopDue(threshold time.Time) []*Command {
	var due []*Command
	for q.Len() > 0 && !q.items[0].At.After(threshold) {
		due = append(due, heap.Pop(q).(*Command))
	}
	return due
}

// Requeue puts popped commands back with their original time and sequence, so
// they keep their place relative to everything else in the queue.
func (q *CommandQueue) Requeue(cmds ...*Command) {
	for _, c := range cmds {
		heap.Push(q, c)
	}
}
