package logger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWithContext_CarriesTraceIDWhenSet(t *testing.T) {
	ctx := WithTraceID(context.Background(), "trace-123")
	l := WithContext(ctx)
	assert.NotNil(t, l)
}

func TestWithContext_NoTraceIDReturnsBaseLogger(t *testing.T) {
	l := WithContext(context.Background())
	assert.NotNil(t, l)
}
