// SPDX-License-Identifier: MIT
// Copyright (c) 2025 Vladyslav Kazantsev
package tracing

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetup_Stdout(t *testing.T) {
	var buf bytes.Buffer
	tp, shutdown, err := Setup(Config{Stdout: true, Writer: &buf, Version: "test"})
	require.NoError(t, err)

	_, span := tp.Tracer("test").Start(context.Background(), "generate")
	span.End()
	require.NoError(t, shutdown(context.Background()))

	assert.Contains(t, buf.String(), `"Name":"generate"`)
	assert.Contains(t, buf.String(), ServiceName)
}

func TestSetup_Noop(t *testing.T) {
	tp, shutdown, err := Setup(Config{})
	require.NoError(t, err)
	_, span := tp.Tracer("test").Start(context.Background(), "noop")
	assert.False(t, span.SpanContext().IsValid())
	span.End()
	assert.NoError(t, shutdown(context.Background()))
}
