// Package pool provides object pooling to reduce allocation pressure on
// hot paths. The only pooled object this project needs is the scratch byte
// buffer the backup facility (pkg/session) fills with a gzip-compressed
// snapshot before it is written to disk or checksummed; everything else the
// original pool covered (row slices, node slices, string builders, maps)
// had no surviving caller once the query engine's own Row/execRow types and
// pkg/optimizer's plan cache replaced what those pools were backing.
package pool

import (
	"sync"
)

// Config configures object pooling behavior.
type Config struct {
	// Enabled controls whether pooling is active.
	Enabled bool

	// MaxSize caps the capacity of a buffer this pool will accept back;
	// larger buffers are dropped instead of retained, so one oversized
	// snapshot doesn't pin a permanently huge buffer in the pool.
	MaxSize int
}

var globalConfig = Config{
	Enabled: true,
	MaxSize: 4 << 20, // 4MiB
}

// Configure sets the global pool configuration. Should be called early
// during initialization, before any Get/Put calls.
func Configure(cfg Config) {
	globalConfig = cfg
}

// IsEnabled returns whether pooling is active.
func IsEnabled() bool {
	return globalConfig.Enabled
}

var byteBufferPool = sync.Pool{
	New: func() any {
		return make([]byte, 0, 1024)
	},
}

// GetByteBuffer returns a zero-length byte buffer from the pool. Call
// PutByteBuffer when done with it.
func GetByteBuffer() []byte {
	if !globalConfig.Enabled {
		return make([]byte, 0, 1024)
	}
	return byteBufferPool.Get().([]byte)[:0]
}

// PutByteBuffer returns buf to the pool. Buffers larger than the
// configured MaxSize are dropped rather than retained.
func PutByteBuffer(buf []byte) {
	if !globalConfig.Enabled {
		return
	}
	if cap(buf) > globalConfig.MaxSize {
		return
	}
	byteBufferPool.Put(buf[:0]) //nolint:staticcheck // deliberate: pool holds the backing array, not buf itself
}
