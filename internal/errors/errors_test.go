package errors

import (
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStructuredError_Format(t *testing.T) {
	err := New(KindNotFound, "geocode", "no matches")
	assert.Equal(t, "[not_found] geocode: no matches", err.Error())

	wrapped := Wrap(stderrors.New("connection refused"), KindUpstream, "geocode", "request failed")
	assert.Equal(t, "[upstream] geocode: request failed: connection refused", wrapped.Error())
}

func TestWrap_NilError(t *testing.T) {
	assert.Nil(t, Wrap(nil, KindUpstream, "op", "msg"))
}

func TestKindOf(t *testing.T) {
	assert.Equal(t, KindNoChipCovers, KindOf(NewNoChipCovers("locate", "outside corpus")))
	assert.Equal(t, KindCompute, KindOf(stderrors.New("plain")))

	// Kind survives further wrapping with %w.
	inner := NewUpstream("storage", "query timeout")
	outer := fmt.Errorf("locate: %w", inner)
	assert.Equal(t, KindUpstream, KindOf(outer))
	assert.True(t, IsKind(outer, KindUpstream))
	assert.False(t, IsKind(outer, KindNotFound))
}

func TestUnwrap(t *testing.T) {
	cause := stderrors.New("boom")
	err := WrapCompute(cause, "score", "similarity failed")
	assert.True(t, stderrors.Is(err, cause))
}
