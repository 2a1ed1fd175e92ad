package genesys

import "sync"

const (
	// readBufSize is the chunk size for reads from the serial port.
	// Responses are short (the longest documented reply, STT?, is well
	// under 100 characters) so one chunk normally holds a whole frame.
	readBufSize = 256

	// maxLineSize bounds response accumulation. A line that grows past
	// this without a terminator is line noise and gets dropped.
	maxLineSize = 1024
)

// readBufPool recycles the reader loop's chunk buffers.
var readBufPool = sync.Pool{
	New: func() any {
		return make([]byte, readBufSize)
	},
}

func getReadBuf() []byte {
	return readBufPool.Get().([]byte)
}

func putReadBuf(buf []byte) {
	if cap(buf) != readBufSize {
		return
	}
	readBufPool.Put(buf[:readBufSize])
}
