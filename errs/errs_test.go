package errs

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSentinelsDistinguishableViaIs(t *testing.T) {
	wrapped := fmt.Errorf("flush: %w", ErrIOError)
	require.True(t, errors.Is(wrapped, ErrIOError))
	require.False(t, errors.Is(wrapped, ErrOutOfMemory))
}

func TestSentinelsAreDistinctValues(t *testing.T) {
	all := []error{ErrOutOfMemory, ErrIOError, ErrInvalidLog, ErrFileTooBig, ErrNotFound, ErrTryAgain, ErrInvalidArgument}
	for i, a := range all {
		for j, b := range all {
			if i == j {
				continue
			}
			require.False(t, errors.Is(a, b), "%v should not match %v", a, b)
		}
	}
}
