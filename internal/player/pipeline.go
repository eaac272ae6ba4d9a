package player

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/sonroyaalmerol/jellyradio/internal/stream"
)

// packetSource yields encoded Opus packets for one resource. Interrupt may
// be called from another goroutine to unblock Next; Close is called by the
// goroutine that calls Next.
type packetSource interface {
	Next() ([]byte, error)
	Interrupt()
	Close() error
}

type sourceFunc func(ctx context.Context, r *Resource) (packetSource, error)

// decodeSource runs the resource through the astiav decoder, applies gain
// and encodes 20ms frames with libopus.
type decodeSource struct {
	pcm     *stream.PCMStreamer
	enc     *stream.Encoder
	r       *bufio.Reader
	gain    float64
	frame   []byte
	pending [][]byte
	eof     bool
}

func newDecodeSource(ctx context.Context, res *Resource) (packetSource, error) {
	pcm, err := stream.StartPCMStream(ctx, res.Body)
	if err != nil {
		return nil, fmt.Errorf("start decoder: %w", err)
	}
	enc, err := stream.NewEncoder()
	if err != nil {
		pcm.Close()
		return nil, fmt.Errorf("start encoder: %w", err)
	}
	return &decodeSource{
		pcm:   pcm,
		enc:   enc,
		r:     bufio.NewReaderSize(pcm.Stdout(), 128*1024),
		gain:  res.Gain,
		frame: make([]byte, stream.FrameBytes),
	}, nil
}

func (d *decodeSource) collect(pkt []byte) error {
	d.pending = append(d.pending, append([]byte(nil), pkt...))
	return nil
}

func (d *decodeSource) Next() ([]byte, error) {
	for len(d.pending) == 0 {
		if d.eof {
			return nil, io.EOF
		}
		n, err := io.ReadFull(d.r, d.frame)
		switch {
		case err == nil:
		case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
			d.eof = true
			if n == 0 {
				if err := d.enc.Flush(d.collect); err != nil {
					return nil, err
				}
				continue
			}
			// pad the tail frame with silence
			clear(d.frame[n:])
		default:
			return nil, fmt.Errorf("decode: %w", err)
		}

		stream.ApplyGain(d.frame, d.gain)
		if err := d.enc.EncodeFrame(d.frame, d.collect); err != nil {
			return nil, err
		}
		if d.eof {
			if err := d.enc.Flush(d.collect); err != nil {
				return nil, err
			}
		}
	}
	pkt := d.pending[0]
	d.pending = d.pending[1:]
	return pkt, nil
}

func (d *decodeSource) Interrupt() {
	d.pcm.Close()
}

func (d *decodeSource) Close() error {
	d.pcm.Close()
	d.enc.Close()
	return nil
}
