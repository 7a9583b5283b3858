// Package network implements the cross-node wire protocol: the fixed
// header every network-sink/network-source pair exchanges ahead of a
// buffer's payload (spec.md §6).
package network

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/nebula-stream/nebula/pkg/ids"
)

// HeaderSize is the fixed, wire-exact byte length of a Header: 16 bytes
// NesPartition (4×uint32) + 8 OriginId + 8 SequenceNumber + 4 ChunkNumber
// + 1 LastChunk + 8 Watermark + 4 NumTuples.
const HeaderSize = 16 + 8 + 8 + 4 + 1 + 8 + 4

// ErrShortHeader is returned by UnmarshalHeader when given fewer than
// HeaderSize bytes.
var ErrShortHeader = errors.New("network: short header")

// Header precedes every buffer transfer between a network-sink and its
// matching network-source.
type Header struct {
	Partition      ids.NesPartition
	OriginID       ids.OriginID
	SequenceNumber uint64
	ChunkNumber    uint32
	LastChunk      bool
	Watermark      int64
	NumTuples      uint32
}

// MarshalBinary renders h into the exact HeaderSize-byte wire layout.
func (h Header) MarshalBinary() []byte {
	buf := make([]byte, HeaderSize)
	binary.BigEndian.PutUint32(buf[0:4], uint32(h.Partition.QueryID))
	binary.BigEndian.PutUint32(buf[4:8], uint32(h.Partition.OperatorID))
	binary.BigEndian.PutUint32(buf[8:12], h.Partition.SubPartition)
	binary.BigEndian.PutUint32(buf[12:16], h.Partition.Partition)
	binary.BigEndian.PutUint64(buf[16:24], uint64(h.OriginID))
	binary.BigEndian.PutUint64(buf[24:32], h.SequenceNumber)
	binary.BigEndian.PutUint32(buf[32:36], h.ChunkNumber)
	if h.LastChunk {
		buf[36] = 1
	}
	binary.BigEndian.PutUint64(buf[37:45], uint64(h.Watermark))
	binary.BigEndian.PutUint32(buf[45:49], h.NumTuples)
	return buf
}

// UnmarshalHeader parses a HeaderSize-byte slice produced by MarshalBinary.
func UnmarshalHeader(b []byte) (Header, error) {
	if len(b) < HeaderSize {
		return Header{}, fmt.Errorf("%w: need %d bytes, got %d", ErrShortHeader, HeaderSize, len(b))
	}
	return Header{
		Partition: ids.NesPartition{
			QueryID:      ids.QueryID(binary.BigEndian.Uint32(b[0:4])),
			OperatorID:   ids.OperatorID(binary.BigEndian.Uint32(b[4:8])),
			SubPartition: binary.BigEndian.Uint32(b[8:12]),
			Partition:    binary.BigEndian.Uint32(b[12:16]),
		},
		OriginID:       ids.OriginID(binary.BigEndian.Uint64(b[16:24])),
		SequenceNumber: binary.BigEndian.Uint64(b[24:32]),
		ChunkNumber:    binary.BigEndian.Uint32(b[32:36]),
		LastChunk:      b[36] != 0,
		Watermark:      int64(binary.BigEndian.Uint64(b[37:45])),
		NumTuples:      binary.BigEndian.Uint32(b[45:49]),
	}, nil
}
