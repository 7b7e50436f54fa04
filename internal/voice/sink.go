package voice

import (
	"bufio"
	"context"
	"io"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/cockroachdb/errors"
	"github.com/rs/zerolog/log"

	"github.com/joshuajeschek/dandelion/internal/bard"
)

const frameDuration = 20 * time.Millisecond

// Sink owns one guild's voice connection and streams a single source at a
// time into it. Lifecycle events (idle on natural end of stream, error on
// faults) are delivered on Events; Stop interrupts the current stream
// without emitting anything.
type Sink struct {
	vc     *discordgo.VoiceConnection
	events chan bard.SinkEvent

	mu     sync.Mutex
	cancel context.CancelFunc
	doneCh chan struct{}
	closed bool

	pauseMu   sync.Mutex
	paused    bool
	pauseCond *sync.Cond
}

func newSink(vc *discordgo.VoiceConnection) *Sink {
	s := &Sink{
		vc:     vc,
		events: make(chan bard.SinkEvent, 4),
	}
	s.pauseCond = sync.NewCond(&s.pauseMu)
	return s
}

func (s *Sink) Events() <-chan bard.SinkEvent { return s.events }

// Play replaces any current stream with the given source.
func (s *Sink) Play(ctx context.Context, sourceURL string) error {
	s.stopStream()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return errors.New("sink is closed")
	}
	s.mu.Unlock()

	// the stream outlives the triggering interaction
	playCtx, cancel := context.WithCancel(context.Background())

	pcm, err := startPCM(playCtx, sourceURL)
	if err != nil {
		cancel()
		return err
	}
	enc, err := newEncoder()
	if err != nil {
		pcm.Close()
		cancel()
		return err
	}

	done := make(chan struct{})
	s.mu.Lock()
	s.cancel = cancel
	s.doneCh = done
	s.mu.Unlock()

	s.pauseMu.Lock()
	s.paused = false
	s.pauseMu.Unlock()

	go s.stream(playCtx, pcm, enc, done)
	return nil
}

func (s *Sink) Pause() {
	s.pauseMu.Lock()
	s.paused = true
	s.pauseMu.Unlock()
	_ = s.vc.Speaking(false)
}

func (s *Sink) Unpause() {
	s.pauseMu.Lock()
	s.paused = false
	s.pauseCond.Broadcast()
	s.pauseMu.Unlock()
	_ = s.vc.Speaking(true)
}

// Stop interrupts the current stream, if any. No event is emitted; the
// sink stays usable for the next Play.
func (s *Sink) Stop() {
	s.stopStream()
}

// Close stops streaming, closes the event channel, and releases the voice
// connection.
func (s *Sink) Close() error {
	s.stopStream()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	close(s.events)
	return s.disconnect()
}

func (s *Sink) stopStream() {
	s.mu.Lock()
	cancel, done := s.cancel, s.doneCh
	s.cancel, s.doneCh = nil, nil
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()

	// wake a paused stream so it can observe the cancellation
	s.pauseMu.Lock()
	s.pauseCond.Broadcast()
	s.pauseMu.Unlock()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
	}
}

func (s *Sink) stream(ctx context.Context, pcm *pcmStream, enc *encoder, done chan struct{}) {
	defer func() {
		enc.Close()
		pcm.Close()
		close(done)
	}()

	if !s.waitReady(ctx) {
		if ctx.Err() == nil {
			s.events <- bard.SinkEvent{Kind: bard.SinkError, Err: errors.New("voice connection never became ready")}
		}
		return
	}

	_ = s.vc.Speaking(true)
	defer s.vc.Speaking(false)

	reader := bufio.NewReaderSize(pcm.Stdout(), 128*1024)
	frame := make([]byte, enc.FrameBytes())
	ticker := time.NewTicker(frameDuration)
	defer ticker.Stop()

	send := func(pkt []byte) error {
		out := make([]byte, len(pkt))
		copy(out, pkt)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case s.vc.OpusSend <- out:
			return nil
		case <-time.After(2 * time.Second):
			return errors.New("opus send timeout")
		}
	}

	for {
		if !s.awaitUnpause(ctx) {
			return
		}
		if _, err := io.ReadFull(reader, frame); err != nil {
			if err == io.EOF || err == io.ErrUnexpectedEOF {
				_ = enc.Flush(send)
				if ctx.Err() == nil {
					s.events <- bard.SinkEvent{Kind: bard.SinkIdle}
				}
				return
			}
			if ctx.Err() == nil {
				s.events <- bard.SinkEvent{Kind: bard.SinkError, Err: errors.Wrap(err, "read pcm")}
			}
			return
		}
		if err := enc.EncodeFrame(frame, send); err != nil {
			if ctx.Err() == nil {
				s.events <- bard.SinkEvent{Kind: bard.SinkError, Err: err}
			}
			return
		}
	}
}

func (s *Sink) awaitUnpause(ctx context.Context) bool {
	s.pauseMu.Lock()
	for s.paused && ctx.Err() == nil {
		s.pauseCond.Wait()
	}
	s.pauseMu.Unlock()
	return ctx.Err() == nil
}

func (s *Sink) waitReady(ctx context.Context) bool {
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if s.vc.Ready {
			return true
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(100 * time.Millisecond):
		}
	}
	return s.vc.Ready
}

// disconnect releases the voice connection, guarding against the panics a
// half-initialized connection can produce in Kill().
func (s *Sink) disconnect() error {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("voice disconnect panic recovered")
		}
	}()

	if s.vc.OpusSend == nil {
		s.vc.OpusSend = make(chan []byte, 2)
	}
	if s.vc.OpusRecv == nil {
		s.vc.OpusRecv = make(chan *discordgo.Packet, 2)
	}

	_ = s.vc.Speaking(false)

	// let pending voice ops settle before tearing the websocket down
	time.Sleep(150 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	return s.vc.Disconnect(ctx)
}
