package conn

import (
	"sync"

	"github.com/behrlich/ferdis-go/protocol"
)

// bufSize is the fixed size of every connection's read and write buffer:
// a 4-byte length prefix plus one maximum-size frame body.
const bufSize = 4 + protocol.MaxMsg

// bufPool recycles the fixed-size buffers connections use for reading and
// writing, avoiding an allocation on every accept.
var bufPool = sync.Pool{
	New: func() any {
		b := make([]byte, bufSize)
		return &b
	},
}

func getBuf() []byte {
	return (*bufPool.Get().(*[]byte))[:bufSize]
}

func putBuf(buf []byte) {
	if cap(buf) != bufSize {
		return
	}
	bufPool.Put(&buf)
}
