package simerr

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBuildFailureMatchesSentinel(t *testing.T) {
	var err error = &BuildFailure{Src: 1, Dest: 5, FReq: 0.7}
	assert.True(t, errors.Is(err, ErrBuildFailure))

	var target *BuildFailure
	require := assert.New(t)
	require.True(errors.As(err, &target))
	require.Equal(1, target.Src)
}

func TestMissingInputMatchesSentinel(t *testing.T) {
	var err error = &MissingInput{Op: 3, EP: 9}
	assert.True(t, errors.Is(err, ErrMissingInput))
}

func TestStaleCompletionMatchesSentinel(t *testing.T) {
	var err error = &StaleCompletion{Op: 4}
	assert.True(t, errors.Is(err, ErrStaleCompletion))
}

func TestCapacityExhaustedMatchesSentinel(t *testing.T) {
	var err error = &CapacityExhausted{Channel: 2}
	assert.True(t, errors.Is(err, ErrCapacityExhausted))
}

func TestInvariantViolationMessage(t *testing.T) {
	err := &InvariantViolation{Cause: "op 7 claims EP 3 but pool disagrees"}
	assert.Contains(t, err.Error(), "op 7 claims EP 3")
}
