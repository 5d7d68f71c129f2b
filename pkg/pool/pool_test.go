package pool

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGetByteBufferIsEmptyAndReusable(t *testing.T) {
	Configure(Config{Enabled: true, MaxSize: 1024})
	buf := GetByteBuffer()
	assert.Len(t, buf, 0)
	buf = append(buf, "hello"...)
	PutByteBuffer(buf)

	again := GetByteBuffer()
	assert.Len(t, again, 0)
}

func TestPutByteBufferDropsOversizedBuffers(t *testing.T) {
	Configure(Config{Enabled: true, MaxSize: 8})
	big := make([]byte, 0, 1024)
	PutByteBuffer(big) // should not panic, and should not be retained

	Configure(Config{Enabled: true, MaxSize: 4 << 20})
}

func TestDisabledPoolAllocatesFresh(t *testing.T) {
	Configure(Config{Enabled: false})
	defer Configure(Config{Enabled: true, MaxSize: 4 << 20})

	buf := GetByteBuffer()
	assert.Len(t, buf, 0)
	PutByteBuffer(buf) // no-op, must not panic
}
