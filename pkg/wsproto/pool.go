package wsproto

import "github.com/valyala/bytebufferpool"

// scratchPool supplies reusable byte buffers for payload staging during
// FrameCodec.Encode (the payload copy that a client-role encode masks in
// place). It
// generalizes shockwave/websocket/pool.go's hand-rolled tiered sync.Pool
// (256B/1K/4K/16K buckets) into a single size-bucketing pool from the
// ecosystem, since bytebufferpool already implements that calibration and
// is the pool fasthttp itself is built on — sharing it keeps one pooling
// discipline across the handshake and frame paths instead of two.
var scratchPool bytebufferpool.Pool

// getScratch returns a pooled buffer sized to at least n bytes.
func getScratch(n int) *bytebufferpool.ByteBuffer {
	buf := scratchPool.Get()
	if cap(buf.B) < n {
		buf.B = make([]byte, 0, n)
	}
	buf.B = buf.B[:n]
	return buf
}

// putScratch returns a buffer obtained from getScratch to the pool. The
// caller must not touch buf.B afterward.
func putScratch(buf *bytebufferpool.ByteBuffer) {
	scratchPool.Put(buf)
}
