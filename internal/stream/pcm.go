package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/asticode/go-astiav"
)

const (
	SampleRate = 48000
	Channels   = 2
	// FrameSamples is 20ms of audio per channel at 48kHz.
	FrameSamples = 960
	FrameBytes   = FrameSamples * Channels * 2
)

const ioBufferSize = 32 * 1024

// PCMStreamer demuxes and decodes an arbitrary container read from an
// io.Reader and produces raw s16le stereo 48k PCM on Stdout().
type PCMStreamer struct {
	ioCtx       *astiav.IOContext
	fc          *astiav.FormatContext
	audioStream *astiav.Stream
	decCtx      *astiav.CodecContext
	swr         *astiav.SoftwareResampleContext
	srcFrame    *astiav.Frame
	dstFrame    *astiav.Frame
	pkt         *astiav.Packet

	src    io.ReadCloser
	cancel context.CancelFunc
	pr     *io.PipeReader
	pw     *io.PipeWriter
	done   chan struct{}

	closeOnce sync.Once
	errMu     sync.Mutex
	runErr    error
}

// StartPCMStream probes src and starts decoding in the background. The
// streamer takes ownership of src and closes it on Close, or on failure.
func StartPCMStream(ctx context.Context, src io.ReadCloser) (*PCMStreamer, error) {
	s := &PCMStreamer{src: src, done: make(chan struct{})}

	ioCtx, err := astiav.AllocIOContext(ioBufferSize, false, func(b []byte) (int, error) {
		n, err := src.Read(b)
		if n == 0 && errors.Is(err, io.EOF) {
			return 0, io.EOF
		}
		// hand partial reads to ffmpeg; the error resurfaces on the next call
		if n > 0 {
			return n, nil
		}
		return n, err
	}, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("alloc io context: %w", err)
	}
	s.ioCtx = ioCtx

	s.fc = astiav.AllocFormatContext()
	if s.fc == nil {
		s.free()
		return nil, errors.New("alloc format context")
	}
	s.fc.SetPb(ioCtx)

	if err := s.fc.OpenInput("", nil, nil); err != nil {
		s.free()
		return nil, fmt.Errorf("open input: %w", err)
	}
	if err := s.fc.FindStreamInfo(nil); err != nil {
		s.free()
		return nil, fmt.Errorf("find stream info: %w", err)
	}

	var codec *astiav.Codec
	for _, st := range s.fc.Streams() {
		if st.CodecParameters().MediaType() != astiav.MediaTypeAudio {
			continue
		}
		if c := astiav.FindDecoder(st.CodecParameters().CodecID()); c != nil {
			s.audioStream, codec = st, c
			break
		}
	}
	if s.audioStream == nil {
		s.free()
		return nil, errors.New("no decodable audio stream found")
	}

	s.decCtx = astiav.AllocCodecContext(codec)
	if s.decCtx == nil {
		s.free()
		return nil, errors.New("alloc codec context")
	}
	if err := s.decCtx.FromCodecParameters(s.audioStream.CodecParameters()); err != nil {
		s.free()
		return nil, fmt.Errorf("codec from params: %w", err)
	}
	s.decCtx.SetTimeBase(s.audioStream.TimeBase())
	if err := s.decCtx.Open(codec, nil); err != nil {
		s.free()
		return nil, fmt.Errorf("open decoder: %w", err)
	}

	s.swr = astiav.AllocSoftwareResampleContext()
	s.srcFrame = astiav.AllocFrame()
	s.dstFrame = astiav.AllocFrame()
	s.pkt = astiav.AllocPacket()
	if s.swr == nil || s.srcFrame == nil || s.dstFrame == nil || s.pkt == nil {
		s.free()
		return nil, errors.New("alloc decode resources")
	}

	s.pr, s.pw = io.Pipe()
	ctx2, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	go s.run(ctx2)
	return s, nil
}

func (s *PCMStreamer) Stdout() io.Reader { return s.pr }

// Err reports the first decode error, if any, once the stream has ended.
func (s *PCMStreamer) Err() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.runErr
}

func (s *PCMStreamer) Close() {
	s.closeOnce.Do(func() {
		s.cancel()
		_ = s.pr.Close()
		// unblocks a demuxer stuck in a network read
		_ = s.src.Close()
		<-s.done
		s.free()
	})
}

func (s *PCMStreamer) free() {
	if s.pkt != nil {
		s.pkt.Free()
	}
	if s.srcFrame != nil {
		s.srcFrame.Free()
	}
	if s.dstFrame != nil {
		s.dstFrame.Free()
	}
	if s.swr != nil {
		s.swr.Free()
	}
	if s.decCtx != nil {
		s.decCtx.Free()
	}
	if s.fc != nil {
		s.fc.CloseInput()
		s.fc.Free()
	}
	if s.ioCtx != nil {
		s.ioCtx.Free()
	}
	if s.pr == nil {
		// never started
		_ = s.src.Close()
	}
}

func (s *PCMStreamer) run(ctx context.Context) {
	defer close(s.done)
	var runErr error
	defer func() {
		s.setErr(runErr)
		_ = s.pw.CloseWithError(runErr)
	}()

	for {
		if ctx.Err() != nil {
			runErr = ctx.Err()
			return
		}

		s.pkt.Unref()
		if err := s.fc.ReadFrame(s.pkt); err != nil {
			if errors.Is(err, astiav.ErrEof) {
				// drain the decoder
				_ = s.decCtx.SendPacket(nil)
				runErr = s.receiveFrames()
				return
			}
			if errors.Is(err, astiav.ErrEagain) {
				continue
			}
			runErr = fmt.Errorf("read frame: %w", err)
			return
		}

		if s.pkt.StreamIndex() != s.audioStream.Index() {
			continue
		}

		if err := s.decCtx.SendPacket(s.pkt); err != nil && !errors.Is(err, astiav.ErrEagain) {
			runErr = fmt.Errorf("send packet: %w", err)
			return
		}
		if err := s.receiveFrames(); err != nil {
			runErr = err
			return
		}
	}
}

func (s *PCMStreamer) receiveFrames() error {
	for {
		s.srcFrame.Unref()
		if err := s.decCtx.ReceiveFrame(s.srcFrame); err != nil {
			if errors.Is(err, astiav.ErrEagain) || errors.Is(err, astiav.ErrEof) {
				return nil
			}
			return fmt.Errorf("receive frame: %w", err)
		}
		if err := s.convertAndWritePCM(s.srcFrame); err != nil {
			return err
		}
	}
}

func (s *PCMStreamer) convertAndWritePCM(src *astiav.Frame) error {
	// swr allocates the destination buffer sized for the rate conversion
	s.dstFrame.Unref()
	s.dstFrame.SetChannelLayout(astiav.ChannelLayoutStereo)
	s.dstFrame.SetSampleRate(SampleRate)
	s.dstFrame.SetSampleFormat(astiav.SampleFormatS16)

	if err := s.swr.ConvertFrame(src, s.dstFrame); err != nil {
		return fmt.Errorf("swr convert: %w", err)
	}
	if s.dstFrame.NbSamples() == 0 {
		return nil
	}

	b, err := s.dstFrame.Data().Bytes(1)
	if err != nil {
		return fmt.Errorf("dst bytes: %w", err)
	}
	if _, err := s.pw.Write(b); err != nil {
		return err
	}
	return nil
}

func (s *PCMStreamer) setErr(err error) {
	if err == nil {
		return
	}
	s.errMu.Lock()
	defer s.errMu.Unlock()
	if s.runErr == nil {
		s.runErr = err
	}
}
