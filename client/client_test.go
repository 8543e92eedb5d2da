package client

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/behrlich/ferdis-go/command"
	"github.com/behrlich/ferdis-go/dict"
	"github.com/behrlich/ferdis-go/server"
)

// startTestServer runs a server on the fixed loopback port 18081 and
// returns its address; the server is stopped at test cleanup.
func startTestServer(t *testing.T) string {
	t.Helper()

	addr := "127.0.0.1:18081"
	srv := server.New(addr, command.New(dict.New()), nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Run(ctx) }()

	t.Cleanup(func() {
		cancel()
		<-done
	})

	// Give the listener a moment to bind before the test dials it.
	time.Sleep(50 * time.Millisecond)
	return addr
}

func TestClientSetGetRoundTrip(t *testing.T) {
	addr := startTestServer(t)

	c, err := Dial(addr)
	require.NoError(t, err)
	defer c.Close()

	require.NoError(t, c.Set("my_key", "my_value"))

	v, ok, err := c.Get("my_key")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "my_value", v)
}

func TestClientGetMissingKey(t *testing.T) {
	addr := startTestServer(t)

	c, err := Dial(addr)
	require.NoError(t, err)
	defer c.Close()

	v, ok, err := c.Get("missing")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, "", v)
}

func TestClientDel(t *testing.T) {
	addr := startTestServer(t)

	c, err := Dial(addr)
	require.NoError(t, err)
	defer c.Close()

	require.NoError(t, c.Set("my_key", "my_value"))

	v, ok, err := c.Del("my_key")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "my_value", v)

	_, ok, err = c.Get("my_key")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestClientKeys(t *testing.T) {
	addr := startTestServer(t)

	c, err := Dial(addr)
	require.NoError(t, err)
	defer c.Close()

	require.NoError(t, c.Set("a", "1"))
	require.NoError(t, c.Set("b", "2"))

	keys, err := c.Keys()
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a", "b"}, keys)
}

func TestClientUnknownCommandReturnsError(t *testing.T) {
	addr := startTestServer(t)

	c, err := Dial(addr)
	require.NoError(t, err)
	defer c.Close()

	reply, err := c.Do("bogus")
	require.NoError(t, err)
	assert.Equal(t, uint32(1), reply.ErrCode)
}
