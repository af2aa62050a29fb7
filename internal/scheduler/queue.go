package scheduler

import (
	"time"

	"github.com/hochfrequenz/streak-keeper/internal/domain"
)

type item struct {
	rec   *domain.CommitRecord
	key   string
	due   time.Time
	seq   uint64
	index int
}

// itemQueue is a container/heap ordered by due time, then submission order
type itemQueue []*item

func (q itemQueue) Len() int { return len(q) }

func (q itemQueue) Less(i, j int) bool {
	if !q[i].due.Equal(q[j].due) {
		return q[i].due.Before(q[j].due)
	}
	return q[i].seq < q[j].seq
}

func (q itemQueue) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].index = i
	q[j].index = j
}

func (q *itemQueue) Push(x any) {
	it := x.(*item)
	it.index = len(*q)
	*q = append(*q, it)
}

func (q *itemQueue) Pop() any {
	old := *q
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	it.index = -1
	*q = old[:n-1]
	return it
}
