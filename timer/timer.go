// timer/timer.go
package timer

import (
	"container/heap"
	"sync"
	"time"
)

const tick = 100 * time.Millisecond

type task struct {
	id       int64
	due      time.Time
	interval time.Duration
	callback func()
	index    int
}

type taskQueue []*task

func (q taskQueue) Len() int { return len(q) }

func (q taskQueue) Less(i, j int) bool {
	return q[i].due.Before(q[j].due)
}

func (q taskQueue) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].index = i
	q[j].index = j
}

func (q *taskQueue) Push(x interface{}) {
	t := x.(*task)
	t.index = len(*q)
	*q = append(*q, t)
}

func (q *taskQueue) Pop() interface{} {
	old := *q
	n := len(old)
	t := old[n-1]
	t.index = -1
	*q = old[0 : n-1]
	return t
}

// Scheduler 定时任务. Callbacks run on their own goroutine; a repeating task
// is rescheduled from the tick that fired it.
type Scheduler struct {
	queue  taskQueue
	mutex  sync.Mutex
	nextID int64
	stop   chan struct{}
	once   sync.Once
}

func NewScheduler() *Scheduler {
	s := &Scheduler{
		queue:  make(taskQueue, 0),
		nextID: 1,
		stop:   make(chan struct{}),
	}
	heap.Init(&s.queue)
	go s.run()
	return s
}

// Every runs callback after delay and then every interval. An interval of
// zero runs it once.
func (s *Scheduler) Every(delay, interval time.Duration, callback func()) int64 {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	t := &task{
		id:       s.nextID,
		due:      time.Now().Add(delay),
		interval: interval,
		callback: callback,
	}
	s.nextID++
	heap.Push(&s.queue, t)
	return t.id
}

// Cancel removes a pending task. It reports false for unknown or finished ids.
func (s *Scheduler) Cancel(id int64) bool {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	for i, t := range s.queue {
		if t.id == id {
			heap.Remove(&s.queue, i)
			return true
		}
	}
	return false
}

// Pending is the number of scheduled tasks.
func (s *Scheduler) Pending() int {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.queue.Len()
}

// Stop ends the scheduler. Callbacks already started keep running.
func (s *Scheduler) Stop() {
	s.once.Do(func() { close(s.stop) })
}

func (s *Scheduler) run() {
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case now := <-ticker.C:
			for _, t := range s.due(now) {
				go t()
			}
		}
	}
}

func (s *Scheduler) due(now time.Time) []func() {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	var ready []func()
	for s.queue.Len() > 0 && !s.queue[0].due.After(now) {
		t := heap.Pop(&s.queue).(*task)
		ready = append(ready, t.callback)
		if t.interval > 0 {
			t.due = now.Add(t.interval)
			heap.Push(&s.queue, t)
		}
	}
	return ready
}
