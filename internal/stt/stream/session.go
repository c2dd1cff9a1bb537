// Package stream manages a live transcription session: a state machine that
// pumps noise-reduced audio chunks to a realtime backend and surfaces
// partial/final results through callbacks.
package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/user/medaudio-pipeline/internal/audio"
	"github.com/user/medaudio-pipeline/internal/metrics"
	"github.com/user/medaudio-pipeline/internal/noise"
	"github.com/user/medaudio-pipeline/internal/stt"
)

// State is the session lifecycle state.
type State int32

const (
	StateIdle State = iota
	StateConnecting
	StateStreaming
	StatePaused
	StateStopping
	StateStopped
	StateError
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateStreaming:
		return "streaming"
	case StatePaused:
		return "paused"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	case StateError:
		return "error"
	default:
		return fmt.Sprintf("unknown(%d)", int32(s))
	}
}

var (
	ErrNotStreaming  = errors.New("session is not streaming")
	ErrNotPaused     = errors.New("session is not paused")
	ErrBadStartState = errors.New("session can only start from idle or stopped")
)

// Backend is the remote realtime transcription session.
type Backend interface {
	Connect(ctx context.Context) error
	// Send transmits one chunk of 16-bit little-endian PCM.
	Send(ctx context.Context, pcm []byte) error
	// Receive blocks for the next result; it returns io.EOF once the
	// remote session is closed.
	Receive() (stt.Result, error)
	Close() error
}

// Callbacks surface session events. They are invoked sequentially in event
// order and must return promptly without calling back into the session.
type Callbacks struct {
	OnStateChange func(old, new State)
	OnPartial     func(stt.Result)
	OnFinal       func(stt.Result)
	OnError       func(error)
}

const defaultQueueSize = 32

// Session owns the network session to the transcription engine. The caller's
// API surface and the two background loops serialize on one atomically
// updated state value; audio is never transmitted after Stop returns.
type Session struct {
	ID uuid.UUID

	backend   Backend
	processor *noise.Processor
	cb        Callbacks

	state    atomic.Int32
	queue    chan *audio.Chunk
	mu       sync.Mutex // guards start/stop/pause bookkeeping
	notifyMu sync.Mutex // serializes state-change delivery
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	started  bool

	// finals has its own lock: the receiver loop appends results while Stop
	// holds mu across wg.Wait, so sharing mu would deadlock the shutdown.
	finalsMu sync.Mutex
	finals   []stt.Result
}

// NewSession creates an idle session. The processor may be nil to stream
// audio unreduced.
func NewSession(backend Backend, processor *noise.Processor, cb Callbacks) *Session {
	return NewSessionWithQueue(backend, processor, cb, defaultQueueSize)
}

func NewSessionWithQueue(backend Backend, processor *noise.Processor, cb Callbacks, queueSize int) *Session {
	s := &Session{
		ID:        uuid.New(),
		backend:   backend,
		processor: processor,
		cb:        cb,
		queue:     make(chan *audio.Chunk, queueSize),
	}
	s.state.Store(int32(StateIdle))
	return s
}

func (s *Session) State() State {
	return State(s.state.Load())
}

// setState swaps the state and delivers the transition notification. The
// notify mutex keeps notifications in transition order.
func (s *Session) setState(to State) {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()

	old := State(s.state.Swap(int32(to)))
	if old == to {
		return
	}
	log.Debug().
		Str("session_id", s.ID.String()).
		Str("from", old.String()).
		Str("to", to.String()).
		Msg("Session state changed")
	if s.cb.OnStateChange != nil {
		s.cb.OnStateChange(old, to)
	}
}

// Start opens the remote session and launches the sender and receiver
// loops. On connection failure the session lands in Error and the error is
// returned.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if st := s.State(); st != StateIdle && st != StateStopped {
		return fmt.Errorf("%w: current state %s", ErrBadStartState, st)
	}
	s.setState(StateConnecting)

	loopCtx, cancel := context.WithCancel(context.Background())
	if err := s.backend.Connect(ctx); err != nil {
		cancel()
		s.setState(StateError)
		if s.cb.OnError != nil {
			s.cb.OnError(err)
		}
		return fmt.Errorf("failed to connect to transcription backend: %w", err)
	}
	s.cancel = cancel
	s.started = true
	s.setState(StateStreaming)
	metrics.Default.SessionsStarted.Inc()

	s.wg.Add(2)
	go s.senderLoop(loopCtx)
	go s.receiverLoop(loopCtx)

	log.Info().Str("session_id", s.ID.String()).Msg("Streaming session started")
	return nil
}

// SendAudio queues a chunk for transmission. It never blocks: while Paused
// it is a no-op, outside Streaming the chunk is ignored, and on queue
// overflow the newest chunk is dropped with a warning.
func (s *Session) SendAudio(chunk *audio.Chunk) {
	switch s.State() {
	case StatePaused:
		return
	case StateStreaming:
	default:
		log.Warn().
			Str("session_id", s.ID.String()).
			Str("state", s.State().String()).
			Msg("Audio chunk ignored outside streaming state")
		return
	}

	select {
	case s.queue <- chunk:
	default:
		metrics.Default.ChunksDropped.Inc()
		log.Warn().
			Str("session_id", s.ID.String()).
			Str("chunk_id", chunk.ID.String()).
			Msg("Outbound queue full, dropping chunk")
	}
}

// QueueDepth reports the number of chunks waiting for transmission.
func (s *Session) QueueDepth() int {
	return len(s.queue)
}

func (s *Session) Pause() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.State() != StateStreaming {
		return fmt.Errorf("%w: current state %s", ErrNotStreaming, s.State())
	}
	s.setState(StatePaused)
	return nil
}

func (s *Session) Resume() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.State() != StatePaused {
		return fmt.Errorf("%w: current state %s", ErrNotPaused, s.State())
	}
	s.setState(StateStreaming)
	return nil
}

// Stop cancels both loops, closes the remote session, and waits until no
// more audio can be transmitted. Idempotent; safe without a prior Start.
func (s *Session) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.State() == StateStopped {
		return nil
	}
	s.setState(StateStopping)

	if s.cancel != nil {
		s.cancel()
	}
	var closeErr error
	if s.started {
		// Closing the backend unblocks the receiver's pending read.
		closeErr = s.backend.Close()
		s.started = false
	}
	s.wg.Wait()

	// Discard chunks that never made it out; a later Start must not replay
	// stale audio.
drain:
	for {
		select {
		case <-s.queue:
		default:
			break drain
		}
	}

	s.setState(StateStopped)
	log.Info().Str("session_id", s.ID.String()).Msg("Streaming session stopped")
	return closeErr
}

// Transcript returns a point-in-time snapshot of the accumulated final
// results.
func (s *Session) Transcript() string {
	s.finalsMu.Lock()
	defer s.finalsMu.Unlock()
	parts := make([]string, 0, len(s.finals))
	for _, r := range s.finals {
		if r.Transcript != "" {
			parts = append(parts, r.Transcript)
		}
	}
	return strings.Join(parts, " ")
}

// Finals returns a copy of the accumulated final results.
func (s *Session) Finals() []stt.Result {
	s.finalsMu.Lock()
	defer s.finalsMu.Unlock()
	out := make([]stt.Result, len(s.finals))
	copy(out, s.finals)
	return out
}

func (s *Session) senderLoop(ctx context.Context) {
	defer s.wg.Done()
	defer log.Debug().Str("session_id", s.ID.String()).Msg("Sender loop stopped")

	for {
		select {
		case <-ctx.Done():
			return
		case chunk := <-s.queue:
			// No network traffic while paused; hold the chunk until
			// resumed or cancelled.
			for s.State() == StatePaused {
				select {
				case <-ctx.Done():
					return
				case <-time.After(20 * time.Millisecond):
				}
			}
			if ctx.Err() != nil {
				return
			}

			buf := chunk.Buffer
			if s.processor != nil {
				buf = s.processor.Process(buf).Processed
			}
			pcm := pcm16Bytes(buf)

			if err := s.backend.Send(ctx, pcm); err != nil {
				s.fail(fmt.Errorf("audio transmission failed: %w", err))
				return
			}
			metrics.Default.ChunksSent.Inc()
		}
	}
}

func (s *Session) receiverLoop(ctx context.Context) {
	defer s.wg.Done()
	defer log.Debug().Str("session_id", s.ID.String()).Msg("Receiver loop stopped")

	for {
		res, err := s.backend.Receive()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, io.EOF) {
				return
			}
			if st := s.State(); st == StateStopping || st == StateStopped {
				return
			}
			s.fail(fmt.Errorf("result stream failed: %w", err))
			return
		}

		if res.IsFinal {
			s.finalsMu.Lock()
			s.finals = append(s.finals, res)
			s.finalsMu.Unlock()
			if s.cb.OnFinal != nil {
				s.cb.OnFinal(res)
			}
		} else if s.cb.OnPartial != nil {
			s.cb.OnPartial(res)
		}
	}
}

// fail transitions to Error on unrecoverable loop failure. A session in
// Error cannot resume and must be recreated; Stop still releases it.
func (s *Session) fail(err error) {
	if st := s.State(); st == StateStopping || st == StateStopped {
		return
	}
	metrics.Default.SessionsErrored.Inc()
	log.Error().
		Err(err).
		Str("session_id", s.ID.String()).
		Msg("Streaming session failed")

	s.setState(StateError)
	if s.cancel != nil {
		s.cancel()
	}
	if s.cb.OnError != nil {
		s.cb.OnError(err)
	}
}

func pcm16Bytes(buf *audio.Buffer) []byte {
	pcm := buf.ToPCM16()
	out := make([]byte, len(pcm)*2)
	for i, sample := range pcm {
		out[i*2] = byte(sample)
		out[i*2+1] = byte(sample >> 8)
	}
	return out
}
