package apperr

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIs_MatchesByKind(t *testing.T) {
	err := Newf(KindUnsafeQuery, "cypher.Validate", "mutating keyword")
	wrapped := fmt.Errorf("query: %w", err)

	assert.ErrorIs(t, wrapped, ErrUnsafeQuery)
	assert.NotErrorIs(t, wrapped, ErrUnsafeLabel)
	assert.ErrorIs(t, wrapped, &Error{Kind: KindUnsafeQuery, Op: "cypher.Validate"})
	assert.NotErrorIs(t, wrapped, &Error{Kind: KindUnsafeQuery, Op: "other"})
}

func TestKindOfAndFragment(t *testing.T) {
	err := New(KindUnsafeLabel, "extraction.Validate", "label not allowed").WithFragment("Bad Label")
	wrapped := fmt.Errorf("ingest: %w", err)

	assert.Equal(t, KindUnsafeLabel, KindOf(wrapped))
	assert.Equal(t, "Bad Label", FragmentOf(wrapped))
	assert.Contains(t, err.Error(), `"Bad Label"`)
	assert.Equal(t, Kind(""), KindOf(errors.New("plain")))
}

func TestWrapNil(t *testing.T) {
	assert.NoError(t, Wrap(KindTimeout, "op", nil))
}

func TestRetryable(t *testing.T) {
	assert.True(t, Retryable(Wrap(KindStoreUnavailable, "op", errors.New("down"))))
	assert.True(t, Retryable(Wrap(KindTimeout, "op", context.DeadlineExceeded)))
	assert.True(t, Retryable(Wrap(KindOracleUnavailable, "op", errors.New("open"))))
	assert.False(t, Retryable(New(KindUnsafeQuery, "op", "no")))
	assert.False(t, Retryable(errors.New("untagged")))
}

func TestEnsure(t *testing.T) {
	require.NoError(t, Ensure("op", nil))

	tagged := New(KindOracleMalformed, "op", "bad")
	assert.Same(t, tagged, Ensure("outer", tagged))

	deadline := Ensure("op", fmt.Errorf("call: %w", context.DeadlineExceeded))
	assert.Equal(t, KindTimeout, KindOf(deadline))

	other := Ensure("op", errors.New("connection reset"))
	assert.Equal(t, KindStoreUnavailable, KindOf(other))
}
