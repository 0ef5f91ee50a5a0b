// Package call composes capture, grading, peer negotiation and signaling
// into a two-party call session.
package call

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/sirupsen/logrus"

	"github.com/mossy-p/gradecall/internal/media"
	"github.com/mossy-p/gradecall/internal/models"
	"github.com/mossy-p/gradecall/internal/peer"
	"github.com/mossy-p/gradecall/internal/pipeline"
	"github.com/mossy-p/gradecall/internal/signaling"
)

// signalTimeout bounds each send made while handling an inbound signal.
const signalTimeout = 10 * time.Second

// Negotiator is the peer connection a session drives.
type Negotiator interface {
	AddStream(stream *media.Stream) error
	CreateOffer(ctx context.Context) (webrtc.SessionDescription, error)
	AcceptOffer(ctx context.Context, offer webrtc.SessionDescription) (webrtc.SessionDescription, error)
	AcceptAnswer(ctx context.Context, answer webrtc.SessionDescription) error
	AddICECandidate(c webrtc.ICECandidateInit) error
	State() peer.State
	Reset() error
	Close() error
}

// PeerFactory returns a constructor for real peer connections.
func PeerFactory(cfg peer.Config) func(peer.Handlers) (Negotiator, error) {
	return func(h peer.Handlers) (Negotiator, error) {
		return peer.New(cfg, h)
	}
}

// Config wires a session to its collaborators.
type Config struct {
	CallID      string
	LocalUserID string

	Transport signaling.Transport
	Acquirer  media.Acquirer
	Grading   pipeline.DescriptorSource
	Scheduler pipeline.Scheduler
	NewPeer   func(peer.Handlers) (Negotiator, error)

	// Notifier defaults to LogNotifier.
	Notifier Notifier
}

// Session is one participant's view of one call. Actions and inbound
// signals are handled one at a time.
type Session struct {
	cfg     Config
	channel *signaling.Channel
	log     *logrus.Entry

	phase atomic.Int32

	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	raw       *media.Stream
	processor *pipeline.Processor
	output    *media.Stream
	pc        Negotiator
	release   func()

	remoteMu sync.Mutex
	remote   []*media.Stream

	done     chan struct{}
	teardown sync.Once
}

// NewSession validates cfg and returns an idle session.
func NewSession(cfg Config) (*Session, error) {
	switch {
	case cfg.CallID == "":
		return nil, errors.New("call id is required")
	case cfg.LocalUserID == "":
		return nil, errors.New("local user id is required")
	case cfg.Transport == nil, cfg.Acquirer == nil, cfg.Grading == nil, cfg.Scheduler == nil, cfg.NewPeer == nil:
		return nil, errors.New("transport, acquirer, grading, scheduler and peer factory are required")
	}
	if cfg.Notifier == nil {
		cfg.Notifier = LogNotifier{}
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Session{
		cfg:     cfg,
		channel: signaling.NewCallChannel(cfg.Transport, cfg.CallID),
		log: logrus.WithFields(logrus.Fields{
			"call_id": cfg.CallID,
			"user_id": cfg.LocalUserID,
		}),
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}, nil
}

// Phase returns the current phase.
func (s *Session) Phase() Phase {
	return Phase(s.phase.Load())
}

// Done is closed once the session has been torn down.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// LocalStream returns the graded capture sent to the remote side.
func (s *Session) LocalStream() *media.Stream {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.output
}

// RemoteStreams returns the streams received from the remote side.
func (s *Session) RemoteStreams() []*media.Stream {
	s.remoteMu.Lock()
	defer s.remoteMu.Unlock()
	return append([]*media.Stream(nil), s.remote...)
}

func (s *Session) notify(level logrus.Level, msg string, err error) {
	s.cfg.Notifier.Notify(Notice{Level: level, Message: msg, Err: err})
}

// Enter acquires the camera and microphone, starts the grading pipeline and
// subscribes to the call topic. On success the session is negotiating.
// A capture failure is reported and leaves the session idle.
func (s *Session) Enter(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ctx, cancel := s.bind(ctx)
	defer cancel()

	switch p := s.Phase(); p {
	case PhaseIdle:
	case PhaseEnded:
		return ErrEnded
	default:
		return fmt.Errorf("%w: already %s", ErrNotReady, p)
	}
	s.phase.Store(int32(PhaseCapturing))

	raw, err := s.cfg.Acquirer.Acquire(ctx, media.Constraints{Video: true, Audio: true})
	if err != nil {
		s.phase.CompareAndSwap(int32(PhaseCapturing), int32(PhaseIdle))
		s.notify(logrus.ErrorLevel, NoticeNoCapture, err)
		return fmt.Errorf("acquire capture: %w", err)
	}
	if s.Phase() == PhaseEnded {
		raw.Stop()
		return ErrEnded
	}
	s.raw = raw
	s.processor = pipeline.NewProcessor(s.cfg.Grading, s.cfg.Scheduler)
	s.output = s.processor.SetSource(raw)

	pc, err := s.cfg.NewPeer(peer.Handlers{
		OnICECandidate: s.onLocalCandidate,
		OnRemoteStream: s.onRemoteStream,
		OnStateChange:  s.onPeerState,
	})
	if err != nil {
		s.teardownLocked()
		return fmt.Errorf("create peer connection: %w", err)
	}
	s.pc = pc

	release, err := s.channel.Subscribe(ctx, s.handle)
	if err != nil {
		s.teardownLocked()
		return err
	}
	s.release = release

	if !s.phase.CompareAndSwap(int32(PhaseCapturing), int32(PhaseNegotiating)) {
		s.teardownLocked()
		return ErrEnded
	}
	s.log.Info("Entered call")
	return nil
}

// StartCall attaches the graded capture and sends an offer.
func (s *Session) StartCall(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ctx, cancel := s.bind(ctx)
	defer cancel()

	if err := s.ready(); err != nil {
		return err
	}
	if err := s.pc.AddStream(s.output); err != nil {
		s.notify(logrus.ErrorLevel, NoticeStartFailed, err)
		return err
	}

	offer, err := s.pc.CreateOffer(ctx)
	if err != nil {
		s.notify(logrus.ErrorLevel, NoticeStartFailed, err)
		return err
	}
	if s.Phase() == PhaseEnded {
		return ErrEnded
	}
	if err := s.send(ctx, models.SignalTypeOffer, offer); err != nil {
		if s.Phase() == PhaseEnded {
			return ErrEnded
		}
		s.notify(logrus.ErrorLevel, NoticeStartFailed, err)
		// The offer never left; start over so the call can be retried.
		if rerr := s.pc.Reset(); rerr != nil {
			s.log.WithError(rerr).Warn("Failed to reset peer connection")
		}
		return err
	}

	s.notify(logrus.InfoLevel, NoticeCalling, nil)
	return nil
}

// JoinCall attaches the graded capture and waits for the caller's offer.
func (s *Session) JoinCall(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ctx, cancel := s.bind(ctx)
	defer cancel()

	if err := s.ready(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.pc.AddStream(s.output); err != nil {
		return err
	}
	s.notify(logrus.InfoLevel, NoticeReady, nil)
	return nil
}

// Hangup tells the remote side and tears the session down.
func (s *Session) Hangup(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var err error
	if s.Phase().InCall() {
		err = s.send(ctx, models.SignalTypeHangup, nil)
		if err != nil {
			s.log.WithError(err).Warn("Failed to send hangup")
		}
	}
	s.teardownLocked()
	return err
}

// Close tears the session down without telling the remote side, as when
// the hosting view goes away. It is safe to call more than once. Work in
// flight is aborted, and its results are discarded.
func (s *Session) Close() {
	s.phase.Store(int32(PhaseEnded))
	s.cancel()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.teardownLocked()
}

// bind derives a context from ctx that is also cancelled when the session
// ends.
func (s *Session) bind(ctx context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(s.ctx, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}

// ready must be called with mu held.
func (s *Session) ready() error {
	switch p := s.Phase(); {
	case p == PhaseEnded:
		return ErrEnded
	case !p.InCall():
		return fmt.Errorf("%w: %s", ErrNotReady, p)
	}
	return nil
}

// teardownLocked releases everything the session owns exactly once:
// signaling subscription, peer connection, graded output, raw capture.
func (s *Session) teardownLocked() {
	s.teardown.Do(func() {
		s.phase.Store(int32(PhaseEnded))
		s.cancel()

		if s.release != nil {
			s.release()
		}
		if s.pc != nil {
			if err := s.pc.Close(); err != nil {
				s.log.WithError(err).Debug("Closing peer connection")
			}
		}
		if s.processor != nil {
			s.processor.Close()
		}
		if s.raw != nil {
			s.raw.Stop()
		}

		s.remoteMu.Lock()
		for _, r := range s.remote {
			r.Stop()
		}
		s.remoteMu.Unlock()

		close(s.done)
		s.log.Info("Call session ended")
	})
}

func (s *Session) send(ctx context.Context, t models.SignalType, data interface{}) error {
	payload := models.SignalPayload{Type: t, From: s.cfg.LocalUserID, CallID: s.cfg.CallID}
	if data != nil {
		var err error
		if payload, err = payload.WithData(data); err != nil {
			return fmt.Errorf("%w: %v", signaling.ErrDelivery, err)
		}
	}
	return s.channel.Send(ctx, payload)
}

// handle reacts to one inbound signal. Signals from the local user are
// echoes of our own sends and are ignored.
func (s *Session) handle(msg models.SignalPayload) {
	if msg.From == s.cfg.LocalUserID {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.Phase().InCall() {
		return
	}

	ctx, cancel := context.WithTimeout(s.ctx, signalTimeout)
	defer cancel()

	log := s.log.WithFields(logrus.Fields{"type": msg.Type, "from": msg.From})
	switch msg.Type {
	case models.SignalTypeOffer:
		var offer webrtc.SessionDescription
		if err := json.Unmarshal(msg.Data, &offer); err != nil {
			s.negotiationFailed(fmt.Errorf("%w: decode offer: %v", peer.ErrNegotiation, err))
			return
		}
		if s.pc.State() != peer.StateNew {
			if err := s.pc.Reset(); err != nil {
				log.WithError(err).Warn("Failed to reset before new offer")
				return
			}
		}
		answer, err := s.pc.AcceptOffer(ctx, offer)
		if err != nil {
			s.negotiationFailed(err)
			return
		}
		if s.Phase() == PhaseEnded {
			return
		}
		if err := s.send(ctx, models.SignalTypeAnswer, answer); err != nil && s.Phase() != PhaseEnded {
			log.WithError(err).Warn("Failed to send answer")
		}

	case models.SignalTypeAnswer:
		var answer webrtc.SessionDescription
		if err := json.Unmarshal(msg.Data, &answer); err != nil {
			s.negotiationFailed(fmt.Errorf("%w: decode answer: %v", peer.ErrNegotiation, err))
			return
		}
		if err := s.pc.AcceptAnswer(ctx, answer); err != nil {
			s.negotiationFailed(err)
		}

	case models.SignalTypeICE:
		var c webrtc.ICECandidateInit
		if err := json.Unmarshal(msg.Data, &c); err != nil {
			log.WithError(err).Debug("Ignoring undecodable candidate")
			return
		}
		if err := s.pc.AddICECandidate(c); err != nil {
			log.WithError(err).Debug("Ignoring candidate")
		}

	case models.SignalTypeHangup:
		s.notify(logrus.InfoLevel, NoticeEnded, nil)
		s.teardownLocked()

	default:
		log.Debug("Ignoring signal")
	}
}

// negotiationFailed reports err and resets the connection so a fresh offer
// can rejoin the call.
func (s *Session) negotiationFailed(err error) {
	if errors.Is(err, peer.ErrClosed) || s.Phase() == PhaseEnded {
		return
	}
	s.notify(logrus.WarnLevel, NoticeNegotiation, err)
	if rerr := s.pc.Reset(); rerr != nil {
		s.log.WithError(rerr).Warn("Failed to reset peer connection")
	}
}

func (s *Session) onLocalCandidate(c webrtc.ICECandidateInit) {
	if !s.Phase().InCall() {
		return
	}
	ctx, cancel := context.WithTimeout(s.ctx, signalTimeout)
	defer cancel()
	if err := s.send(ctx, models.SignalTypeICE, c); err != nil {
		s.log.WithError(err).Debug("Failed to send ICE candidate")
	}
}

func (s *Session) onRemoteStream(stream *media.Stream) {
	s.remoteMu.Lock()
	defer s.remoteMu.Unlock()
	if s.Phase() == PhaseEnded {
		stream.Stop()
		return
	}
	s.remote = append(s.remote, stream)
	s.log.WithField("stream", stream.ID()).Info("Remote stream arrived")
}

func (s *Session) onPeerState(state peer.State) {
	if state == peer.StateConnected {
		if s.phase.CompareAndSwap(int32(PhaseNegotiating), int32(PhaseActive)) {
			s.log.Info("Call connected")
		}
	}
}
