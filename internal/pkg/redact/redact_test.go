package redact

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEmail_Table(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
		want string
	}{
		{name: "ASCII_local_gt_2", in: "foobar@example.com", want: "fo***@example.com"},
		{name: "ASCII_local_len_2", in: "ab@ex.com", want: "***@ex.com"},
		{name: "invalid_no_at", in: "no-at-here", want: "***"},
		{name: "invalid_multiple_at", in: "a@b@c", want: "***"},
		{name: "empty_string", in: "", want: "***"},
		{name: "unicode_local_gt_2_runes", in: "юзер@пример.рф", want: "юз***@пример.рф"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tt.want, Email(tt.in))
		})
	}
}

func TestTokenID(t *testing.T) {
	t.Parallel()

	require.Equal(t, "0192f0c1***", TokenID("0192f0c1-7a3b-7c2d-8e9f-0123456789ab"))
	require.Equal(t, "***", TokenID("short"))
	require.Equal(t, "***", TokenID(""))
}

func TestToken_Literal(t *testing.T) {
	t.Parallel()

	require.Equal(t, "[REDACTED_TOKEN]", Token())
}
