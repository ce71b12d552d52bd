package ucxgo

import "github.com/lithdew/bytesutil"

// IOMSGBit is the top bit of a 64-bit tag, reserved to mark in-band
// control messages. A data tag leaves it clear whenever conn_id is below
// 2^31, the range the engine's conn_id counter (starting at 1) assigns
// from; a conn_id with its own top bit set produces a data tag equal to
// the iomsg tag for the same (conn_id, sn).
const IOMSGBit uint64 = 1 << 63

// IOMSGTag is the match tag posted for the worker's single, ever-present
// in-band message receive: the IOMSG bit set, everything else wildcard.
const IOMSGTag = IOMSGBit

// dataTag builds the 64-bit tag used for ordinary data sends/recvs: the
// high 32 bits are the connection id, the low 32 the sequence number.
func dataTag(connID, sn uint32) uint64 {
	return (uint64(connID) << 32) | uint64(sn)
}

// iomsgTag builds the tag an in-band message to connID is sent under.
func iomsgTag(connID, sn uint32) uint64 {
	return IOMSGBit | dataTag(connID, sn)
}

// decodeTag splits a data tag back into its connection id and sequence
// number. It is the left inverse of dataTag on the valid region (both
// halves under 2^32, which they always are since each is a uint32).
func decodeTag(tag uint64) (connID, sn uint32) {
	return uint32(tag >> 32), uint32(tag)
}

// dataTagMask matches every bit of a data tag exactly: same conn_id,
// same sn.
const dataTagMask uint64 = ^uint64(0)

// iomsgTagMask matches only the IOMSG bit, wildcarding conn_id and sn so
// the single posted iomsg receive can be satisfied by any connection.
const iomsgTagMask uint64 = IOMSGBit

// appendConnID appends the big-endian 4-byte wire form of a connection
// id, as exchanged over the handshake's stream channel.
func appendConnID(dst []byte, connID uint32) []byte {
	return bytesutil.AppendUint32BE(dst, connID)
}

// readConnID decodes a 4-byte big-endian connection id.
func readConnID(buf []byte) uint32 {
	return bytesutil.Uint32BE(buf)
}
