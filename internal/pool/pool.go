// Package pool recycles the scratch buffers used to render records.
package pool

import (
	"bytes"
	"sync"
)

// maxPooledCap keeps one oversized record from pinning memory in the pool
const maxPooledCap = 64 * 1024

var bufferPool = sync.Pool{
	New: func() interface{} {
		return new(bytes.Buffer)
	},
}

// GetBuffer retrieves an empty buffer from the pool
func GetBuffer() *bytes.Buffer {
	buf := bufferPool.Get().(*bytes.Buffer)
	buf.Reset()
	return buf
}

// PutBuffer returns buf to the pool. The caller must not use it again.
func PutBuffer(buf *bytes.Buffer) {
	if buf == nil || buf.Cap() > maxPooledCap {
		return
	}
	buf.Reset()
	bufferPool.Put(buf)
}
