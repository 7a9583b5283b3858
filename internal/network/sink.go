package network

import (
	"fmt"
	"io"

	"github.com/nebula-stream/nebula/internal/buffer"
	"github.com/nebula-stream/nebula/pkg/ids"
	"github.com/rs/zerolog"
)

// Sink writes Header-prefixed buffer transfers to an underlying
// io.Writer — a net.Conn's data-port connection in production, an
// io.Pipe in tests.
type Sink struct {
	w      io.Writer
	logger zerolog.Logger
}

// NewSink wraps w as a network-sink endpoint.
func NewSink(w io.Writer, logger zerolog.Logger) *Sink {
	return &Sink{w: w, logger: logger.With().Str("component", "network-sink").Logger()}
}

// Send writes partition plus buf's routing metadata as a Header, followed
// by buf's first buf.NumTuples*tupleWidth payload bytes. It does not
// release buf; the caller retains ownership.
func (s *Sink) Send(partition ids.NesPartition, buf *buffer.TupleBuffer, tupleWidth int) error {
	h := Header{
		Partition:      partition,
		OriginID:       buf.OriginID,
		SequenceNumber: buf.SequenceNumber,
		ChunkNumber:    buf.ChunkNumber,
		LastChunk:      buf.LastChunk,
		Watermark:      buf.Watermark,
		NumTuples:      uint32(buf.NumTuples),
	}
	if _, err := s.w.Write(h.MarshalBinary()); err != nil {
		return fmt.Errorf("network: write header: %w", err)
	}

	payloadLen := buf.NumTuples * tupleWidth
	if _, err := s.w.Write(buf.Bytes()[:payloadLen]); err != nil {
		return fmt.Errorf("network: write payload: %w", err)
	}
	s.logger.Debug().
		Uint64("sequenceNumber", buf.SequenceNumber).
		Int("numTuples", buf.NumTuples).
		Bool("lastChunk", buf.LastChunk).
		Msg("sent buffer")
	return nil
}
