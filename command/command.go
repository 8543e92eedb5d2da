// Package command implements the command engine: parsing a request
// frame's payload into a verb and arguments, and dispatching to the
// dictionary operations that back get/set/del/keys.
package command

import (
	"strings"

	"github.com/google/uuid"

	"github.com/behrlich/ferdis-go/dict"
	"github.com/behrlich/ferdis-go/internal/logging"
	"github.com/behrlich/ferdis-go/internal/metrics"
	"github.com/behrlich/ferdis-go/protocol"
)

// Engine dispatches parsed commands against a dictionary. Observer and
// logger are both optional (nil-safe), following the same pattern the
// event loop uses for its metrics observer.
type Engine struct {
	Dict     *dict.Dict
	Observer metrics.Observer // may be nil
	Logger   *logging.Logger  // may be nil
}

// New creates a command engine backed by d.
func New(d *dict.Dict) *Engine {
	return &Engine{Dict: d}
}

// Parse splits a request payload into a verb and its arguments. The
// payload is interpreted as UTF-8 text and split on the single ASCII
// space character; no quoting or escaping is supported.
func Parse(payload []byte) (verb string, args []string, err error) {
	fields := strings.Split(string(payload), " ")
	if len(fields) == 0 || fields[0] == "" {
		return "", nil, nil
	}
	return fields[0], fields[1:], nil
}

// Dispatch parses payload and executes the matching handler, appending
// the encoded reply body to dst and returning the extended slice.
func (e *Engine) Dispatch(dst []byte, payload []byte) []byte {
	verb, args, _ := Parse(payload)
	id := uuid.New().String()

	if e.Logger != nil {
		e.Logger.Debugf("dispatching command id=%s verb=%q argc=%d", id, verb, len(args))
	}

	switch verb {
	case "get":
		return e.doGet(dst, args)
	case "set":
		return e.doSet(dst, args)
	case "del":
		return e.doDel(dst, args)
	case "keys":
		return e.doKeys(dst, args)
	default:
		if e.Observer != nil {
			e.Observer.ObserveCommand("unknown", false)
		}
		return protocol.EncodeErr(dst, protocol.ErrUnknownCommand, "Unknown command")
	}
}

// doGet implements get <key>: exactly one argument.
func (e *Engine) doGet(dst []byte, args []string) []byte {
	if len(args) != 1 {
		return e.errInsufficientArgs(dst, "get")
	}

	v, ok := e.Dict.Get(args[0])
	e.observe("get", true)
	if !ok {
		return protocol.EncodeNil(dst)
	}
	return protocol.EncodeStr(dst, v)
}

// doSet implements set <key> <value>: exactly two arguments.
func (e *Engine) doSet(dst []byte, args []string) []byte {
	if len(args) != 2 {
		return e.errInsufficientArgs(dst, "set")
	}

	e.Dict.Put(args[0], args[1])
	e.observe("set", true)
	return protocol.EncodeNil(dst)
}

// doDel implements del <key>: exactly one argument. Returns the removed
// value, or NIL if the key was not present.
func (e *Engine) doDel(dst []byte, args []string) []byte {
	if len(args) != 1 {
		return e.errInsufficientArgs(dst, "del")
	}

	v, ok := e.Dict.GetAndDelete(args[0])
	e.observe("del", true)
	if !ok {
		return protocol.EncodeNil(dst)
	}
	return protocol.EncodeStr(dst, v)
}

// doKeys implements keys: no arguments. Enumerates all live keys.
func (e *Engine) doKeys(dst []byte, args []string) []byte {
	if len(args) > 0 {
		e.observe("keys", false)
		return protocol.EncodeErr(dst, protocol.ErrTooManyArguments, "Too many arguments")
	}

	keys := e.Dict.Keys()
	e.observe("keys", true)
	if len(keys) == 0 {
		return protocol.EncodeNil(dst)
	}
	return protocol.EncodeArr(dst, keys)
}

func (e *Engine) errInsufficientArgs(dst []byte, verb string) []byte {
	e.observe(verb, false)
	return protocol.EncodeErr(dst, protocol.ErrInsufficientArguments, "Insufficient arguments")
}

func (e *Engine) observe(verb string, ok bool) {
	if e.Observer != nil {
		e.Observer.ObserveCommand(verb, ok)
	}
}
