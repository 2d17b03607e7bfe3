package taxonomy

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOf(t *testing.T) {
	base := errors.New("connection reset")

	assert.Equal(t, KindTransient, KindOf(Transient(base)))
	assert.Equal(t, KindAuth, KindOf(Auth(base)))
	assert.Equal(t, KindParse, KindOf(Parse(base)))
	assert.Equal(t, KindDuplicate, KindOf(Duplicate(base)))

	// unclassified errors default to transient
	assert.Equal(t, KindTransient, KindOf(base))
}

func TestKindSurvivesWrapping(t *testing.T) {
	err := fmt.Errorf("loading context: %w", Timeout(errors.New("deadline exceeded")))
	assert.Equal(t, KindTimeout, KindOf(err))
	assert.True(t, Is(err, KindTimeout))
	assert.False(t, Is(err, KindAuth))
}

func TestRetryable(t *testing.T) {
	base := errors.New("boom")

	assert.True(t, Retryable(Transient(base)))
	assert.True(t, Retryable(Timeout(base)))
	assert.True(t, Retryable(base)) // unclassified stays retryable

	assert.False(t, Retryable(Auth(base)))
	assert.False(t, Retryable(Validation(base)))
	assert.False(t, Retryable(Parse(base)))
	assert.False(t, Retryable(PolicyBlock(base)))
	assert.False(t, Retryable(Duplicate(base)))
	assert.False(t, Retryable(DependencyDisabled(base)))
}

func TestWrapNil(t *testing.T) {
	assert.NoError(t, Transient(nil))
	assert.NoError(t, Wrap(KindAuth, nil))
}

func TestUnwrap(t *testing.T) {
	sentinel := errors.New("not found upstream")
	err := Validation(fmt.Errorf("fetching case: %w", sentinel))
	assert.ErrorIs(t, err, sentinel)
	assert.Contains(t, err.Error(), "validation: ")
}
