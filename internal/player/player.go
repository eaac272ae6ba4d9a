package player

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/sonroyaalmerol/jellyradio/internal/voice"
)

const (
	frameDuration    = 20 * time.Millisecond
	bufferPackets    = 100
	minBufferPackets = 20
	fillTimeout      = 5 * time.Second
	sendTimeout      = 200 * time.Millisecond
	maxLag           = 200 * time.Millisecond
	stopWait         = 2 * time.Second
	eventBuffer      = 16

	maxDroppedBeforeRebuffer = 5
	healthEvery              = 100
)

// AudioPlayer plays one resource at a time into a subscribed voice
// connection. A resource replaced by a new Play emits no terminal event;
// every other resource ends with exactly one EventIdle or EventError.
type AudioPlayer struct {
	guildID   string
	log       *slog.Logger
	newSource sourceFunc

	mu     sync.Mutex
	conn   *voice.Conn
	status Status
	cur    *playSession
	gate   chan struct{}
	closed bool

	events       chan Event
	done         chan struct{}
	emitMu       sync.RWMutex
	eventsClosed bool
}

type playSession struct {
	res      *Resource
	ctx      context.Context
	cancel   context.CancelFunc
	buf      *opusBuffer
	finished chan struct{}

	mu      sync.Mutex
	err     error
	stopped bool
}

func (s *playSession) setErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err == nil {
		s.err = err
	}
}

func (s *playSession) result() (stopped bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped, s.err
}

func (s *playSession) stop() {
	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()
	s.cancel()
}

func NewAudioPlayer(guildID string, logger *slog.Logger) *AudioPlayer {
	if logger == nil {
		logger = slog.Default()
	}
	return &AudioPlayer{
		guildID:   guildID,
		log:       logger,
		newSource: newDecodeSource,
		status:    StatusIdle,
		events:    make(chan Event, eventBuffer),
		done:      make(chan struct{}),
	}
}

func (p *AudioPlayer) Subscribe(c *voice.Conn) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.conn = c
}

func (p *AudioPlayer) Status() Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status
}

func (p *AudioPlayer) Events() <-chan Event {
	return p.events
}

// Play starts r, replacing whatever is playing.
func (p *AudioPlayer) Play(r *Resource) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		closeBody(r)
		return ErrClosed
	}
	conn := p.conn
	if conn == nil {
		p.mu.Unlock()
		closeBody(r)
		return ErrNotSubscribed
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &playSession{
		res:      r,
		ctx:      ctx,
		cancel:   cancel,
		buf:      newOpusBuffer(bufferPackets),
		finished: make(chan struct{}),
	}
	old := p.cur
	p.cur = s
	p.gate = nil
	p.status = StatusBuffering
	p.mu.Unlock()

	go func() {
		if old != nil {
			old.stop()
			<-old.finished
		}
		p.run(s, conn)
	}()
	return nil
}

// Stop ends the current resource; it reports EventIdle like a natural end.
func (p *AudioPlayer) Stop() {
	p.mu.Lock()
	s := p.cur
	p.mu.Unlock()
	if s != nil {
		s.stop()
	}
}

func (p *AudioPlayer) Pause() error {
	p.mu.Lock()
	if p.cur == nil || p.status != StatusPlaying {
		p.mu.Unlock()
		return ErrNotPlaying
	}
	p.gate = make(chan struct{})
	p.status = StatusPaused
	res := p.cur.res
	p.mu.Unlock()

	p.emit(Event{Kind: EventPaused, Resource: res})
	return nil
}

func (p *AudioPlayer) Unpause() error {
	p.mu.Lock()
	if p.cur == nil || p.status != StatusPaused {
		p.mu.Unlock()
		return ErrNotPaused
	}
	close(p.gate)
	p.gate = nil
	p.status = StatusPlaying
	res := p.cur.res
	p.mu.Unlock()

	p.emit(Event{Kind: EventPlaying, Resource: res})
	return nil
}

// Close stops playback and closes the event channel. The player cannot be
// reused.
func (p *AudioPlayer) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	s := p.cur
	p.cur = nil
	p.gate = nil
	p.conn = nil
	p.status = StatusIdle
	p.mu.Unlock()

	close(p.done)
	if s != nil {
		s.stop()
		select {
		case <-s.finished:
		case <-time.After(stopWait):
			p.log.Warn("playback did not stop in time", "guildID", p.guildID)
		}
	}

	p.emitMu.Lock()
	p.eventsClosed = true
	close(p.events)
	p.emitMu.Unlock()
}

func (p *AudioPlayer) emit(ev Event) {
	p.emitMu.RLock()
	defer p.emitMu.RUnlock()
	if p.eventsClosed {
		return
	}
	select {
	case p.events <- ev:
	case <-p.done:
	}
}

func (p *AudioPlayer) pauseGate(s *playSession) chan struct{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cur != s {
		return nil
	}
	return p.gate
}

func (p *AudioPlayer) run(s *playSession, conn *voice.Conn) {
	defer close(s.finished)
	defer s.cancel()

	src, err := p.newSource(s.ctx, s.res)
	if err != nil {
		s.setErr(err)
		p.finish(s)
		return
	}
	stopInterrupt := context.AfterFunc(s.ctx, func() {
		s.buf.Close()
		src.Interrupt()
	})
	defer stopInterrupt()

	produced := make(chan struct{})
	go func() {
		defer close(produced)
		p.produce(s, src)
	}()

	p.consume(s, conn)
	s.cancel()
	<-produced
	p.finish(s)
}

func (p *AudioPlayer) finish(s *playSession) {
	p.mu.Lock()
	current := p.cur == s
	if current {
		p.cur = nil
		p.gate = nil
		p.status = StatusIdle
	}
	p.mu.Unlock()
	if !current {
		return
	}

	stopped, err := s.result()
	if err != nil && !stopped {
		p.log.Warn("playback failed", "guildID", p.guildID, "title", s.res.Title, "err", err)
		p.emit(Event{Kind: EventError, Resource: s.res, Err: err})
		return
	}
	p.emit(Event{Kind: EventIdle, Resource: s.res})
}

func (p *AudioPlayer) produce(s *playSession, src packetSource) {
	defer s.buf.MarkEOS()
	defer func() {
		if err := src.Close(); err != nil {
			p.log.Debug("close packet source", "guildID", p.guildID, "err", err)
		}
	}()

	var seq int64
	for {
		pkt, err := src.Next()
		if err != nil {
			if !errors.Is(err, io.EOF) && s.ctx.Err() == nil {
				s.setErr(err)
			}
			return
		}
		// wait for the consumer; it may be paused
		for !s.buf.Push(pkt, seq) {
			select {
			case <-s.ctx.Done():
				return
			case <-time.After(10 * time.Millisecond):
			}
		}
		seq++
	}
}

func (p *AudioPlayer) waitForBuffer(s *playSession) bool {
	deadline := time.Now().Add(fillTimeout)
	for !s.buf.Filled(minBufferPackets) {
		if time.Now().After(deadline) {
			s.setErr(fmt.Errorf("buffer fill timeout after %s", fillTimeout))
			return false
		}
		select {
		case <-s.ctx.Done():
			return false
		case <-time.After(10 * time.Millisecond):
		}
	}
	return true
}

func (p *AudioPlayer) consume(s *playSession, conn *voice.Conn) {
	if !p.waitForBuffer(s) {
		return
	}

	p.mu.Lock()
	if p.cur != s {
		p.mu.Unlock()
		return
	}
	p.status = StatusPlaying
	p.mu.Unlock()
	p.emit(Event{Kind: EventPlaying, Resource: s.res})
	p.log.Info("playback started", "guildID", p.guildID, "title", s.res.Title)

	_ = conn.Speaking(true)
	defer func() { _ = conn.Speaking(false) }()

	next := time.Now()
	dropped := 0
	var sent int64
	for {
		if gate := p.pauseGate(s); gate != nil {
			_ = conn.Speaking(false)
			select {
			case <-s.ctx.Done():
				return
			case <-gate:
			}
			_ = conn.Speaking(true)
			next = time.Now()
		}

		pkt, ok := s.buf.Pop()
		if !ok {
			return
		}

		if d := time.Until(next); d > 0 {
			select {
			case <-s.ctx.Done():
				return
			case <-time.After(d):
			}
		} else if -d > maxLag {
			next = time.Now()
		}
		next = next.Add(frameDuration)

		select {
		case <-s.ctx.Done():
			return
		case conn.OpusSend() <- pkt.data:
			dropped = 0
			sent++
			if sent%healthEvery == 0 {
				p.log.Debug("buffer health", "guildID", p.guildID, "buffered", s.buf.BufferedCount(), "max", s.buf.maxSize)
			}
		case <-time.After(sendTimeout):
			dropped++
			p.log.Debug("dropped packet", "guildID", p.guildID, "consecutive", dropped, "seq", pkt.seq)
			if dropped >= maxDroppedBeforeRebuffer {
				p.log.Warn("too many drops, rebuffering", "guildID", p.guildID)
				s.buf.Flush()
				if !p.waitForBuffer(s) {
					return
				}
				dropped = 0
				next = time.Now()
			}
		}
	}
}

func closeBody(r *Resource) {
	if r != nil && r.Body != nil {
		_ = r.Body.Close()
	}
}
