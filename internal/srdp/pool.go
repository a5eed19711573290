// Package srdp implements the Semi-Reliable Datagram Protocol: a
// per-socket mixed-mode transport carrying both unreliable Normal
// datagrams and acknowledged Important datagrams drawn from a 64-ID pool.
package srdp

import "context"

// idPool is a bounded pool of the 64 SRDP packet IDs, realised as a
// buffered channel so egress can block on exhaustion without polling.
type idPool struct {
	ids chan uint8
}

func newIDPool() *idPool {
	p := &idPool{ids: make(chan uint8, idPoolSize)}
	for i := uint8(0); i < idPoolSize; i++ {
		p.ids <- i
	}
	return p
}

// acquire blocks until an ID is available or ctx is cancelled.
func (p *idPool) acquire(ctx context.Context) (uint8, error) {
	select {
	case id := <-p.ids:
		return id, nil
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

// release returns id to the pool. Called exactly once per ID, when its
// packet leaves the unacked collection.
func (p *idPool) release(id uint8) {
	p.ids <- id
}
