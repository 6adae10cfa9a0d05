package proverr

import (
	"context"
	"net/http"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

func TestCategories(t *testing.T) {
	cause := errors.New("boom")

	cases := []struct {
		name      string
		err       error
		category  Category
		status    int
		retryable bool
	}{
		{"nil", nil, CategoryNone, http.StatusOK, false},
		{"input", InputRejected(cause, "building env"), CategoryInputRejected, http.StatusBadRequest, false},
		{"input without cause", InputRejected(nil, "empty attestation"), CategoryInputRejected, http.StatusBadRequest, false},
		{"proving", ProvingFailed(cause, "backend"), CategoryProvingFailed, http.StatusInternalServerError, false},
		{"rejected", AttestationRejected("bad signature"), CategoryProvingFailed, http.StatusUnprocessableEntity, false},
		{"encoding", EncodingPrecondition(nil, "no seal"), CategoryEncodingPrecondition, http.StatusInternalServerError, false},
		{"busy", errors.Wrap(ErrServiceBusy, "queue full"), CategoryServiceBusy, http.StatusServiceUnavailable, true},
		{"timeout", FromContext(context.DeadlineExceeded), CategoryCancelled, http.StatusGatewayTimeout, true},
		{"client gone", FromContext(context.Canceled), CategoryCancelled, StatusClientClosedRequest, true},
		{"backend timeout", Cancelled(errors.Wrap(ErrBackendStopped, "timed_out"), "session 1"), CategoryCancelled, http.StatusGatewayTimeout, true},
		{"unclassified", cause, CategoryProvingFailed, http.StatusInternalServerError, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.category, Of(tc.err))
			require.Equal(t, tc.status, HTTPStatus(tc.err))
			require.Equal(t, tc.retryable, Retryable(tc.err))
		})
	}
}

func TestMarkKeepsCause(t *testing.T) {
	cause := errors.New("segment trap")
	err := ProvingFailed(cause, "executing guest")

	require.ErrorIs(t, err, ErrProvingFailed)
	require.ErrorIs(t, err, cause)
	require.Contains(t, err.Error(), "executing guest")
	require.Contains(t, err.Error(), "segment trap")
}

func TestAttestationRejectedIsProvingFailure(t *testing.T) {
	err := AttestationRejected("certificate expired")
	require.ErrorIs(t, err, ErrProvingFailed)
	require.ErrorIs(t, err, ErrAttestationRejected)
	require.Contains(t, err.Error(), "certificate expired")
}

func TestFromContextMarksContextErrors(t *testing.T) {
	for _, ctxErr := range []error{context.Canceled, context.DeadlineExceeded} {
		err := FromContext(ctxErr)
		require.ErrorIs(t, err, ErrCancelled)
		require.ErrorIs(t, err, ctxErr)
		require.True(t, IsMarked(err))
	}

	wrapped := FromContext(errors.Wrap(context.Canceled, "reading body"))
	require.ErrorIs(t, wrapped, ErrCancelled)
}

func TestFromContextIsIdempotent(t *testing.T) {
	err := FromContext(context.DeadlineExceeded)
	require.Equal(t, err, FromContext(err))
	require.NoError(t, FromContext(nil))

	other := errors.New("other")
	require.Equal(t, other, FromContext(other))
}

func TestIsMarked(t *testing.T) {
	require.True(t, IsMarked(InputRejected(nil, "empty")))
	require.True(t, IsMarked(errors.Wrap(AttestationRejected("bad"), "proving")))
	require.False(t, IsMarked(errors.New("plain")))
	require.False(t, IsMarked(context.Canceled))
}
