package transport

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseURIFull(t *testing.T) {
	u, err := ParseURI("ejfat://sometoken@192.168.1.1:18020/lb/36?data=10.0.0.1&sync=192.168.1.2:19010")
	require.NoError(t, err)

	assert.Equal(t, "ejfat", u.Scheme)
	assert.Equal(t, "sometoken", u.Token)
	assert.Equal(t, "192.168.1.1:18020", u.ControlAddr)
	assert.Equal(t, "36", u.LBID)
	assert.Equal(t, "10.0.0.1:19522", u.DataAddr, "data port defaults")
	assert.Equal(t, "192.168.1.2:19010", u.SyncAddr)
	assert.False(t, u.UseTLS())
}

func TestParseURIKeepsExplicitDataPort(t *testing.T) {
	u, err := ParseURI("ejfat://host:18020/lb/1?data=10.0.0.1:20000")
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.1:20000", u.DataAddr)
	assert.Empty(t, u.Token)
	assert.Empty(t, u.SyncAddr)
}

func TestParseURITLSScheme(t *testing.T) {
	u, err := ParseURI("ejfats://tok@lb.example.org:18020/lb/7")
	require.NoError(t, err)
	assert.True(t, u.UseTLS())
	assert.Equal(t, "7", u.LBID)
}

func TestParseURILoopback(t *testing.T) {
	for _, raw := range []string{"loopback:demo?capacity=4", "loopback://demo?capacity=4"} {
		u, err := ParseURI(raw)
		require.NoError(t, err, raw)
		assert.Equal(t, "loopback", u.Scheme, raw)
		assert.Equal(t, "demo", u.Name, raw)
		assert.Equal(t, "4", u.Params.Get("capacity"), raw)
	}
}

func TestParseURIErrors(t *testing.T) {
	cases := map[string]string{
		"empty":             "",
		"blank":             "   ",
		"no scheme":         "192.168.1.1:18020/lb/36",
		"no control host":   "ejfat:///lb/36",
		"sync without port": "ejfat://h:18020/lb/1?sync=10.0.0.1",
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParseURI(raw)
			assert.Error(t, err, "input %q", raw)
		})
	}
}

func TestURIStringRedactsToken(t *testing.T) {
	u, err := ParseURI("ejfat://secret@h:18020/lb/36?data=10.0.0.1:19522&sync=10.0.0.2:19010")
	require.NoError(t, err)

	s := u.String()
	assert.NotContains(t, s, "secret")
	assert.Contains(t, s, "***@h:18020")
	assert.Contains(t, s, "/lb/36")
	assert.Contains(t, s, "data=10.0.0.1:19522")
	assert.Contains(t, s, "sync=10.0.0.2:19010")

	lb, err := ParseURI("loopback:demo?capacity=2")
	require.NoError(t, err)
	assert.Equal(t, "loopback:demo?capacity=2", lb.String())
}
