package shelfie

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		kind ErrorKind
		msg  string
	}{
		{"validation", ErrEmptyMessage, KindValidation, "message is empty"},
		{"wrapped validation", errors.Wrap(ErrBlocked, "send"), KindValidation, "conversation is blocked"},
		{"rejected", errors.Wrap(&APIError{Status: 403, Code: "FORBIDDEN", Message: "nope"}, "edit message"), KindRejected, "nope"},
		{"transport", errors.Wrap(&TransportError{Op: "GET /api/x", Err: errors.New("timeout")}, "load"), KindTransport, "network error, please try again"},
		{"other", errors.Wrap(errors.New("odd"), "ctx"), KindUnknown, "odd"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.kind, Classify(tt.err))
			require.Equal(t, tt.msg, UserMessage(tt.err))
		})
	}

	require.Equal(t, KindUnknown, Classify(nil))
	require.Empty(t, UserMessage(nil))
	require.Equal(t, "rejected", KindRejected.String())
}
