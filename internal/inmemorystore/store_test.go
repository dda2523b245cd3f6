// SPDX-License-Identifier: MIT
// Copyright (c) 2025 Vladyslav Kazantsev
package inmemorystore

import (
	"context"
	"testing"

	"github.com/specialistvlad/relvalgo/internal/store"
	"github.com/specialistvlad/relvalgo/internal/store/storetest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConformance(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Backend { return New() })
}

func TestGet_ReturnsCopies(t *testing.T) {
	s := New()
	ctx := context.Background()
	data := []byte(`{"a":1}`)
	_, err := s.Create(ctx, "c", "x", data)
	require.NoError(t, err)
	data[2] = 'b'

	doc, err := s.Get(ctx, "c", "x")
	require.NoError(t, err)
	assert.Equal(t, `{"a":1}`, string(doc.Data))

	doc.Data[2] = 'z'
	again, err := s.Get(ctx, "c", "x")
	require.NoError(t, err)
	assert.Equal(t, `{"a":1}`, string(again.Data))
}
