package memfabric

import (
	"fmt"
	"io"

	"github.com/lithdew/bytesutil"
	"github.com/valyala/bytebufferpool"
)

// Wire framing for the single TCP connection backing one endpoint. Two
// logical channels are multiplexed over it: the stream channel (raw,
// ordered bytes, used only for the connection-id handshake) and the
// tagged channel (used for everything else). Each frame starts with a
// one-byte channel discriminator.
const (
	channelStream byte = 0
	channelTagged byte = 1
)

// writeStreamFrame appends a length-prefixed stream-channel chunk.
func writeStreamFrame(dst []byte, payload []byte) []byte {
	dst = append(dst, channelStream)
	dst = bytesutil.AppendUint32BE(dst, uint32(len(payload)))
	dst = append(dst, payload...)
	return dst
}

// writeTaggedFrame appends a length-prefixed tagged-channel message.
func writeTaggedFrame(dst []byte, tag uint64, payload []byte) []byte {
	dst = append(dst, channelTagged)
	dst = bytesutil.AppendUint64BE(dst, tag)
	dst = bytesutil.AppendUint32BE(dst, uint32(len(payload)))
	dst = append(dst, payload...)
	return dst
}

// frameBufPool recycles the scratch buffers used to assemble an outbound
// frame before handing it to endpoint.write. The write is synchronous, so
// the buffer is back in the pool before buildXxxFrame's caller returns.
var frameBufPool bytebufferpool.Pool

// buildStreamFrame renders a stream-channel frame into a pooled buffer.
// The caller must return bb to frameBufPool once the write completes.
func buildStreamFrame(payload []byte) *bytebufferpool.ByteBuffer {
	bb := frameBufPool.Get()
	bb.B = writeStreamFrame(bb.B, payload)
	return bb
}

// buildTaggedFrame renders a tagged-channel frame into a pooled buffer.
// The caller must return bb to frameBufPool once the write completes.
func buildTaggedFrame(tag uint64, payload []byte) *bytebufferpool.ByteBuffer {
	bb := frameBufPool.Get()
	bb.B = writeTaggedFrame(bb.B, tag, payload)
	return bb
}

type frame struct {
	channel byte
	tag     uint64 // valid when channel == channelTagged
	payload []byte
}

// readFrame reads exactly one frame off r, blocking until a full frame
// arrives or the connection fails.
func readFrame(r io.Reader) (frame, error) {
	var hdr [1]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return frame{}, err
	}

	switch hdr[0] {
	case channelStream:
		var lenBuf [4]byte
		if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
			return frame{}, err
		}
		n := bytesutil.Uint32BE(lenBuf[:])
		payload := make([]byte, n)
		if _, err := io.ReadFull(r, payload); err != nil {
			return frame{}, err
		}
		return frame{channel: channelStream, payload: payload}, nil
	case channelTagged:
		var tagBuf [8]byte
		if _, err := io.ReadFull(r, tagBuf[:]); err != nil {
			return frame{}, err
		}
		var lenBuf [4]byte
		if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
			return frame{}, err
		}
		tag := bytesutil.Uint64BE(tagBuf[:])
		n := bytesutil.Uint32BE(lenBuf[:])
		payload := make([]byte, n)
		if _, err := io.ReadFull(r, payload); err != nil {
			return frame{}, err
		}
		return frame{channel: channelTagged, tag: tag, payload: payload}, nil
	default:
		return frame{}, fmt.Errorf("memfabric: corrupt frame header %#x", hdr[0])
	}
}
