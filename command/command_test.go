package command

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ferdis "github.com/behrlich/ferdis-go"
	"github.com/behrlich/ferdis-go/dict"
	"github.com/behrlich/ferdis-go/protocol"
)

func dispatch(e *Engine, payload string) protocol.Reply {
	body := e.Dispatch(nil, []byte(payload))
	reply, err := protocol.DecodeReply(body)
	if err != nil {
		panic(err)
	}
	return reply
}

func TestParseSplitsVerbAndArgs(t *testing.T) {
	verb, args, err := Parse([]byte("set my_key my_value"))
	require.NoError(t, err)
	assert.Equal(t, "set", verb)
	assert.Equal(t, []string{"my_key", "my_value"}, args)
}

func TestParseEmptyPayload(t *testing.T) {
	verb, args, err := Parse([]byte(""))
	require.NoError(t, err)
	assert.Equal(t, "", verb)
	assert.Nil(t, args)
}

// TestGetMissingKeyReturnsNil covers scenario A: get on an absent key.
func TestGetMissingKeyReturnsNil(t *testing.T) {
	e := New(dict.New())
	reply := dispatch(e, "get missing_key")
	assert.Equal(t, protocol.TagNil, reply.Tag)
}

// TestSetThenGetRoundTrip covers scenario B: set followed by get.
func TestSetThenGetRoundTrip(t *testing.T) {
	e := New(dict.New())

	setReply := dispatch(e, "set my_key my_value")
	assert.Equal(t, protocol.TagNil, setReply.Tag)

	getReply := dispatch(e, "get my_key")
	assert.Equal(t, protocol.TagStr, getReply.Tag)
	assert.Equal(t, "my_value", getReply.Str)
}

// TestSetOverwritesExistingValue covers scenario C.
func TestSetOverwritesExistingValue(t *testing.T) {
	e := New(dict.New())
	dispatch(e, "set my_key first_value")
	dispatch(e, "set my_key second_value")

	reply := dispatch(e, "get my_key")
	assert.Equal(t, "second_value", reply.Str)
}

// TestDelExistingKeyReturnsValue covers scenario D.
func TestDelExistingKeyReturnsValue(t *testing.T) {
	e := New(dict.New())
	dispatch(e, "set my_key my_value")

	delReply := dispatch(e, "del my_key")
	assert.Equal(t, protocol.TagStr, delReply.Tag)
	assert.Equal(t, "my_value", delReply.Str)

	getReply := dispatch(e, "get my_key")
	assert.Equal(t, protocol.TagNil, getReply.Tag)
}

// TestDelMissingKeyReturnsNil covers scenario E.
func TestDelMissingKeyReturnsNil(t *testing.T) {
	e := New(dict.New())
	reply := dispatch(e, "del missing_key")
	assert.Equal(t, protocol.TagNil, reply.Tag)
}

// TestKeysEnumeratesLiveEntries covers scenario F.
func TestKeysEnumeratesLiveEntries(t *testing.T) {
	e := New(dict.New())
	dispatch(e, "set a 1")
	dispatch(e, "set b 2")
	dispatch(e, "del a")

	reply := dispatch(e, "keys")
	assert.Equal(t, protocol.TagArr, reply.Tag)
	assert.Equal(t, []string{"b"}, reply.Arr)
}

// TestKeysOnEmptyDictReturnsNil covers scenario G.
func TestKeysOnEmptyDictReturnsNil(t *testing.T) {
	e := New(dict.New())
	reply := dispatch(e, "keys")
	assert.Equal(t, protocol.TagNil, reply.Tag)
}

// TestUnknownCommandReturnsErrCode1 covers scenario H.
func TestUnknownCommandReturnsErrCode1(t *testing.T) {
	e := New(dict.New())
	reply := dispatch(e, "frobnicate a b")
	assert.Equal(t, protocol.TagErr, reply.Tag)
	assert.Equal(t, protocol.ErrUnknownCommand, reply.ErrCode)
}

// TestGetWithoutKeyReturnsErrCode2 covers scenario I: arity too low.
func TestGetWithoutKeyReturnsErrCode2(t *testing.T) {
	e := New(dict.New())
	reply := dispatch(e, "get")
	assert.Equal(t, protocol.TagErr, reply.Tag)
	assert.Equal(t, protocol.ErrInsufficientArguments, reply.ErrCode)
}

// TestSetWithTooFewArgumentsReturnsErrCode2 exercises set's exact arity:
// arity too low.
func TestSetWithTooFewArgumentsReturnsErrCode2(t *testing.T) {
	e := New(dict.New())
	reply := dispatch(e, "set only_key")
	assert.Equal(t, protocol.TagErr, reply.Tag)
	assert.Equal(t, protocol.ErrInsufficientArguments, reply.ErrCode)
}

// TestKeysWithArgumentReturnsErrCode3 covers scenario J: arity too high.
func TestKeysWithArgumentReturnsErrCode3(t *testing.T) {
	e := New(dict.New())
	reply := dispatch(e, "keys extra")
	assert.Equal(t, protocol.TagErr, reply.Tag)
	assert.Equal(t, protocol.ErrTooManyArguments, reply.ErrCode)
}

func TestGetWithTooManyArgumentsReturnsErrCode2(t *testing.T) {
	e := New(dict.New())
	reply := dispatch(e, "get a b")
	assert.Equal(t, protocol.TagErr, reply.Tag)
	assert.Equal(t, protocol.ErrInsufficientArguments, reply.ErrCode)
}

func TestEngineObservesCommandOutcomes(t *testing.T) {
	obs := ferdis.NewFakeObserver()
	e := New(dict.New())
	e.Observer = obs

	dispatch(e, "set my_key my_value")
	dispatch(e, "get my_key")
	dispatch(e, "get missing")
	dispatch(e, "bogus")

	require.True(t, obs.HasCommand("set", true))
	require.True(t, obs.HasCommand("get", true))
	require.True(t, obs.HasCommand("unknown", false))
}
