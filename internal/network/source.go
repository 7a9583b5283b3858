package network

import (
	"context"
	"fmt"
	"io"

	"github.com/nebula-stream/nebula/internal/buffer"
	"github.com/nebula-stream/nebula/pkg/ids"
	"github.com/rs/zerolog"
)

// Source reads Header-prefixed buffer transfers from an underlying
// io.Reader, acquiring each payload's backing buffer from pool.
type Source struct {
	r      io.Reader
	pool   *buffer.Pool
	logger zerolog.Logger
}

// NewSource wraps r as a network-source endpoint backed by pool.
func NewSource(r io.Reader, pool *buffer.Pool, logger zerolog.Logger) *Source {
	return &Source{r: r, pool: pool, logger: logger.With().Str("component", "network-source").Logger()}
}

// Receive blocks until one full Header-plus-payload transfer has been
// read, or ctx is cancelled while acquiring a buffer. The returned
// buffer's metadata fields are populated from the wire header; the
// caller is responsible for releasing it.
func (s *Source) Receive(ctx context.Context, tupleWidth int) (ids.NesPartition, *buffer.TupleBuffer, error) {
	hdrBytes := make([]byte, HeaderSize)
	if _, err := io.ReadFull(s.r, hdrBytes); err != nil {
		return ids.NesPartition{}, nil, fmt.Errorf("network: read header: %w", err)
	}
	h, err := UnmarshalHeader(hdrBytes)
	if err != nil {
		return ids.NesPartition{}, nil, err
	}

	payloadLen := int(h.NumTuples) * tupleWidth
	buf, err := s.pool.Acquire(ctx, payloadLen)
	if err != nil {
		return ids.NesPartition{}, nil, fmt.Errorf("network: acquire buffer: %w", err)
	}
	if _, err := io.ReadFull(s.r, buf.Bytes()[:payloadLen]); err != nil {
		buf.Release()
		return ids.NesPartition{}, nil, fmt.Errorf("network: read payload: %w", err)
	}

	buf.OriginID = h.OriginID
	buf.SequenceNumber = h.SequenceNumber
	buf.ChunkNumber = h.ChunkNumber
	buf.LastChunk = h.LastChunk
	buf.Watermark = h.Watermark
	buf.NumTuples = int(h.NumTuples)

	s.logger.Debug().
		Uint64("sequenceNumber", h.SequenceNumber).
		Int("numTuples", int(h.NumTuples)).
		Bool("lastChunk", h.LastChunk).
		Msg("received buffer")
	return h.Partition, buf, nil
}
