package srdp

import (
	"container/list"
	"net"
	"sync"
	"time"
)

// unackedPacket is one Important packet still awaiting acknowledgement.
type unackedPacket struct {
	id        uint8
	payload   []byte
	addr      *net.UDPAddr
	firstSent time.Time
	lastSent  time.Time
}

// unackedQueue is the ordered collection of in-flight Important packets,
// ordered by send time so cumulative acknowledgement can drain a prefix.
type unackedQueue struct {
	mu    sync.Mutex
	items *list.List // of *unackedPacket
}

func newUnackedQueue() *unackedQueue {
	return &unackedQueue{items: list.New()}
}

func (q *unackedQueue) push(p *unackedPacket) {
	q.mu.Lock()
	q.items.PushBack(p)
	q.mu.Unlock()
}

// drainLessThan removes every packet whose ID is strictly less than id
// and returns them, in removal order. Used for EXPECT handling.
func (q *unackedQueue) drainLessThan(id uint8) []*unackedPacket {
	return q.drainWhere(func(p *unackedPacket) bool { return p.id < id })
}

// drainUpTo removes every packet whose ID is ≤ id and returns them.
// At most one will have ID == id (none when the ACK repeats an earlier
// one); the caller uses its first-sent timestamp for an RTT sample.
func (q *unackedQueue) drainUpTo(id uint8) []*unackedPacket {
	return q.drainWhere(func(p *unackedPacket) bool { return p.id <= id })
}

func (q *unackedQueue) drainWhere(match func(*unackedPacket) bool) []*unackedPacket {
	q.mu.Lock()
	defer q.mu.Unlock()

	var drained []*unackedPacket
	for e := q.items.Front(); e != nil; {
		next := e.Next()
		p := e.Value.(*unackedPacket)
		if match(p) {
			drained = append(drained, p)
			q.items.Remove(e)
		}
		e = next
	}
	return drained
}

// forEachStale invokes fn for every packet whose last-sent time is at
// least threshold old, in send order.
func (q *unackedQueue) forEachStale(now time.Time, threshold time.Duration, fn func(*unackedPacket)) {
	q.mu.Lock()
	var stale []*unackedPacket
	for e := q.items.Front(); e != nil; e = e.Next() {
		p := e.Value.(*unackedPacket)
		if now.Sub(p.lastSent) >= threshold {
			stale = append(stale, p)
		}
	}
	q.mu.Unlock()

	for _, p := range stale {
		fn(p)
	}
}

// touch updates the last-sent timestamp of the unacked packet with id,
// if it is still in the queue.
func (q *unackedQueue) touch(id uint8, t time.Time) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for e := q.items.Front(); e != nil; e = e.Next() {
		p := e.Value.(*unackedPacket)
		if p.id == id {
			p.lastSent = t
			return
		}
	}
}
