// Package queue provides the distance-ordered priority queue used for top-k
// selection.
package queue

import "container/heap"

// Compile time check to ensure PriorityQueue satisfies the heap interface.
var _ heap.Interface = (*PriorityQueue)(nil)

// PriorityQueueItem represents an item in the priority queue.
type PriorityQueueItem struct {
	Index    uint64  // Index is the record index of the item.
	Distance float64 // Distance is the priority of the item in the queue.
}

// PriorityQueue implements heap.Interface and holds PriorityQueueItems.
//
// With Descending set, the queue is a max-heap: the worst candidate sits on
// top, which is what a bounded top-k scan needs. Equal distances order by
// record index so selection is deterministic: in the max-heap the larger
// index counts as worse and is evicted first.
type PriorityQueue struct {
	Descending bool
	Items      []PriorityQueueItem
}

// Len returns the number of elements in the priority queue.
func (pq *PriorityQueue) Len() int { return len(pq.Items) }

// Less reports whether the element with index i should sort before the element with index j.
func (pq *PriorityQueue) Less(i, j int) bool {
	a, b := pq.Items[i], pq.Items[j]
	if a.Distance == b.Distance {
		if pq.Descending {
			return a.Index > b.Index
		}
		return a.Index < b.Index
	}
	if pq.Descending {
		return a.Distance > b.Distance
	}
	return a.Distance < b.Distance
}

// Swap swaps the elements with indexes i and j.
func (pq *PriorityQueue) Swap(i, j int) {
	pq.Items[i], pq.Items[j] = pq.Items[j], pq.Items[i]
}

// Push adds x to the priority queue.
func (pq *PriorityQueue) Push(x any) {
	item, _ := x.(PriorityQueueItem)
	pq.Items = append(pq.Items, item)
}

// Pop removes and returns the top element from the priority queue.
func (pq *PriorityQueue) Pop() any {
	old := pq.Items
	n := len(old)
	item := old[n-1]
	pq.Items = old[:n-1]
	return item
}

// Top returns the top element of the priority queue without removing it.
func (pq *PriorityQueue) Top() PriorityQueueItem {
	return pq.Items[0]
}
