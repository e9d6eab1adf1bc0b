package shelfie

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestResolveBlock(t *testing.T) {
	c := direct("c1", "u1", "u2")

	tests := []struct {
		name      string
		blockedBy []string
		want      BlockState
		canSend   bool
	}{
		{"nobody", nil, BlockState{}, true},
		{"by me", []string{"u1"}, BlockState{ByMe: true}, false},
		{"by other", []string{"u2"}, BlockState{ByOther: true}, false},
		{"both", []string{"u2", "u1"}, BlockState{ByMe: true, ByOther: true}, false},
		{"stranger ignored", []string{"u9"}, BlockState{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c.BlockedBy = tt.blockedBy
			got := ResolveBlock(&c, "u1")
			require.Equal(t, tt.want, got)
			require.Equal(t, tt.canSend, got.CanSend())
		})
	}

	require.Equal(t, BlockState{}, ResolveBlock(nil, "u1"))
	require.Equal(t, "You blocked this conversation", BlockState{ByMe: true, ByOther: true}.Reason())
	require.Empty(t, BlockState{}.Reason())
}
