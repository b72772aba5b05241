package kibi

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFormat(t *testing.T) {
	require.Equal(t, "0 bytes", Format(0))
	require.Equal(t, "1023 bytes", Format(1023))
	require.Equal(t, "1 KB", Format(1024))
	require.Equal(t, "35 MB", Format(35*1024*1024))
	require.Equal(t, "1023 MB", Format(1023*1024*1024))
	require.Equal(t, "1 GB", Format(1024*1024*1024))
	require.Equal(t, "1 PB", Format(1024*1024*1024*1024*1024))
	require.Equal(t, "1024 PB", Format(1024*1024*1024*1024*1024*1024))
}

func TestParse(t *testing.T) {
	good := func(expected int64, s string) {
		val, err := Parse(s)
		require.NoError(t, err, s)
		require.Equal(t, expected, val, s)
	}
	good(0, "0")
	good(12345, "12345")
	good(50, "50 bytes")
	good(50, "50b")
	good(50*1024, "50 kb")
	good(50*1024, " 50 KB ")
	good(50*1024, "50K")
	good(64*1024*1024, "64 MB")
	good(50*1024*1024*1024, "50 g")
	good(50*1024*1024*1024*1024*1024, "50 pb")
	good(8191<<50, "8191 PB")
	good(math.MaxInt64, "9223372036854775807")

	for _, bad := range []string{"", "MB", "50 pbz", "50.1", "-5", "8192 PB", "99999999 PB", "9007199254740992 KB", "99999999999999999999"} {
		_, err := Parse(bad)
		require.ErrorIs(t, err, ErrInvalidSize, bad)
	}
}

func TestSizeJSON(t *testing.T) {
	type config struct {
		Max Size `json:"max"`
	}
	c := config{}
	require.NoError(t, json.Unmarshal([]byte(`{"max": "64 MB"}`), &c))
	require.Equal(t, Size(64*1024*1024), c.Max)
	require.NoError(t, json.Unmarshal([]byte(`{"max": 1000}`), &c))
	require.Equal(t, Size(1000), c.Max)
	require.Error(t, json.Unmarshal([]byte(`{"max": "lots"}`), &c))

	b, err := json.Marshal(config{Max: 2048})
	require.NoError(t, err)
	require.Equal(t, `{"max":"2 KB"}`, string(b))
}
