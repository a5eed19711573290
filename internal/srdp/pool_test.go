package srdp

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIDPool_AcquireAllThenBlocks(t *testing.T) {
	p := newIDPool()
	seen := make(map[uint8]bool)

	for i := 0; i < idPoolSize; i++ {
		id, err := p.acquire(context.Background())
		require.NoError(t, err)
		assert.False(t, seen[id])
		seen[id] = true
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := p.acquire(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestIDPool_ReleaseMakesIDReusable(t *testing.T) {
	p := newIDPool()
	id, err := p.acquire(context.Background())
	require.NoError(t, err)
	for i := 1; i < idPoolSize; i++ {
		_, err := p.acquire(context.Background())
		require.NoError(t, err)
	}

	p.release(id)

	got, err := p.acquire(context.Background())
	require.NoError(t, err)
	assert.Equal(t, id, got)
}
