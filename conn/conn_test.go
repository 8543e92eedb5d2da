package conn

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/behrlich/ferdis-go/command"
	"github.com/behrlich/ferdis-go/dict"
	"github.com/behrlich/ferdis-go/protocol"
)

// socketPair returns two connected, non-blocking unix-domain socket fds:
// serverFD (wrapped by the Conn under test) and peerFD (the simulated
// client, driven directly by the test).
func socketPair(t *testing.T) (serverFD, peerFD int) {
	t.Helper()
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	require.NoError(t, err)

	require.NoError(t, unix.SetNonblock(fds[0], true))
	require.NoError(t, unix.SetNonblock(fds[1], true))

	t.Cleanup(func() {
		unix.Close(fds[0])
		unix.Close(fds[1])
	})
	return fds[0], fds[1]
}

func requestFrame(payload string) []byte {
	buf := make([]byte, 4+len(payload))
	binary.LittleEndian.PutUint32(buf[:4], uint32(len(payload)))
	copy(buf[4:], payload)
	return buf
}

func TestHandleReadableDispatchesAndRepliesOneFrame(t *testing.T) {
	serverFD, peerFD := socketPair(t)
	e := command.New(dict.New())
	c := New(serverFD, e, nil, nil)

	_, err := unix.Write(peerFD, requestFrame("set my_key my_value"))
	require.NoError(t, err)

	c.HandleReadable()

	out := make([]byte, 256)
	n, err := unix.Read(peerFD, out)
	require.NoError(t, err)

	reply, err := protocol.DecodeReply(out[4:n])
	require.NoError(t, err)
	assert.Equal(t, protocol.TagNil, reply.Tag)
	assert.Equal(t, StateReadingRequest, c.State())
}

func TestHandleReadablePipelinesTwoFrames(t *testing.T) {
	serverFD, peerFD := socketPair(t)
	e := command.New(dict.New())
	e.Dict.Put("a", "1")
	c := New(serverFD, e, nil, nil)

	req := append(requestFrame("get a"), requestFrame("get missing")...)
	_, err := unix.Write(peerFD, req)
	require.NoError(t, err)

	c.HandleReadable()

	out := make([]byte, 512)
	n, err := unix.Read(peerFD, out)
	require.NoError(t, err)

	// Decode the two reply frames in sequence.
	off := 0
	length1 := binary.LittleEndian.Uint32(out[off : off+4])
	reply1, err := protocol.DecodeReply(out[off+4 : off+4+int(length1)])
	require.NoError(t, err)
	assert.Equal(t, protocol.TagStr, reply1.Tag)
	assert.Equal(t, "1", reply1.Str)

	off += 4 + int(length1)
	length2 := binary.LittleEndian.Uint32(out[off : off+4])
	reply2, err := protocol.DecodeReply(out[off+4 : off+4+int(length2)])
	require.NoError(t, err)
	assert.Equal(t, protocol.TagNil, reply2.Tag)
}

func TestHandleReadableUnknownCommandIsStillAReply(t *testing.T) {
	// Unknown commands are a command-level error, not a protocol
	// violation: they get an ERR reply, and the connection stays open.
	serverFD, peerFD := socketPair(t)
	e := command.New(dict.New())
	c := New(serverFD, e, nil, nil)

	_, err := unix.Write(peerFD, requestFrame("bogus"))
	require.NoError(t, err)

	c.HandleReadable()
	assert.NotEqual(t, StateClosed, c.State())

	out := make([]byte, 128)
	n, err := unix.Read(peerFD, out)
	require.NoError(t, err)
	reply, err := protocol.DecodeReply(out[4:n])
	require.NoError(t, err)
	assert.Equal(t, protocol.TagErr, reply.Tag)
	assert.Equal(t, protocol.ErrUnknownCommand, reply.ErrCode)
}

func TestHandleReadableClosesOnPeerEOF(t *testing.T) {
	serverFD, peerFD := socketPair(t)
	e := command.New(dict.New())
	c := New(serverFD, e, nil, nil)

	unix.Close(peerFD)

	c.HandleReadable()
	assert.Equal(t, StateClosed, c.State())
}

func TestInterestReflectsState(t *testing.T) {
	serverFD, _ := socketPair(t)
	e := command.New(dict.New())
	c := New(serverFD, e, nil, nil)

	assert.Equal(t, uint32(unix.EPOLLIN), c.Interest())

	c.state = StateWritingResponse
	assert.Equal(t, uint32(unix.EPOLLOUT), c.Interest())
}
