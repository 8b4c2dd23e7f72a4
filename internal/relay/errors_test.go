package relay

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWrapPreservesCodeAndClassButAttachesCause(t *testing.T) {
	cause := fmt.Errorf("underlying reason")
	wrapped := Wrap(ErrQueueFull, cause)

	require.Equal(t, ErrQueueFull.Code, wrapped.Code)
	require.Equal(t, ErrQueueFull.Class, wrapped.Class)
	require.ErrorIs(t, wrapped, ErrQueueFull)
	require.Equal(t, cause, wrapped.Unwrap())
}

func TestErrorsIsMatchesByCodeThroughWrapping(t *testing.T) {
	wrapped := fmt.Errorf("context: %w", Wrap(ErrDuplicate, errors.New("dup")))
	require.True(t, errors.Is(wrapped, ErrDuplicate))
	require.False(t, errors.Is(wrapped, ErrQueueFull))
}

func TestAsRelayErrorRecoversThroughArbitraryWrapping(t *testing.T) {
	wrapped := fmt.Errorf("outer: %w", fmt.Errorf("inner: %w", Wrap(ErrIntegrityError, nil)))

	relayErr, ok := AsRelayError(wrapped)
	require.True(t, ok)
	require.Equal(t, ErrIntegrityError.Code, relayErr.Code)
}

func TestAsRelayErrorFalseForPlainError(t *testing.T) {
	_, ok := AsRelayError(errors.New("plain"))
	require.False(t, ok)
}

func TestErrorClassStringCoversEveryClass(t *testing.T) {
	classes := []ErrorClass{
		ClassIntegrity, ClassTransport, ClassCapacity,
		ClassRPCTransient, ClassRPCPermanent, ClassStorage, ClassFFIBoundary,
	}
	for _, c := range classes {
		require.NotEqual(t, "Unknown", c.String())
	}
	require.Equal(t, "Unknown", ErrorClass(999).String())
}
