// SPDX-License-Identifier: MIT
// Copyright (c) 2025 Vladyslav Kazantsev
package keylock

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLock_SerializesSameKey(t *testing.T) {
	var l Locker
	ctx := context.Background()

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		inside  int
		maxSeen int
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := l.Lock(ctx, "R1")
			if !assert.NoError(t, err) {
				return
			}
			mu.Lock()
			inside++
			if inside > maxSeen {
				maxSeen = inside
			}
			mu.Unlock()
			time.Sleep(time.Millisecond)
			mu.Lock()
			inside--
			mu.Unlock()
			unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, maxSeen)
	assert.Equal(t, 0, l.Len())
}

func TestLock_IndependentKeys(t *testing.T) {
	var l Locker
	ctx := context.Background()

	unlockA, err := l.Lock(ctx, "A")
	require.NoError(t, err)
	unlockB, err := l.Lock(ctx, "B")
	require.NoError(t, err)
	assert.Equal(t, 2, l.Len())

	unlockA()
	unlockB()
	assert.Equal(t, 0, l.Len())
}

func TestLock_ContextCancelled(t *testing.T) {
	var l Locker
	unlock, err := l.Lock(context.Background(), "A")
	require.NoError(t, err)
	defer unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = l.Lock(ctx, "A")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 1, l.Len())
}
