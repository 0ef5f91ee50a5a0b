// Package peer wraps a single peer-to-peer media connection and exposes
// offer/answer/candidate negotiation as plain blocking calls.
package peer

import (
	"context"
	"fmt"
	"sync"

	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v4"
	"github.com/sirupsen/logrus"

	"github.com/mossy-p/gradecall/internal/media"
)

// Config configures a Manager.
type Config struct {
	ICEServers []webrtc.ICEServer
	// Encoder packs outgoing video; defaults to I420Packer.
	Encoder FrameEncoder
	// Decoder unpacks incoming video; defaults to I420Packer. Remote video
	// is counted but not decoded when the decoder cannot read the encoder's
	// samples.
	Decoder FrameDecoder
}

// Handlers receive asynchronous connection events. Any of them may be nil.
// They are called from pion's goroutines.
type Handlers struct {
	OnICECandidate func(webrtc.ICECandidateInit)
	OnRemoteStream func(*media.Stream)
	OnStateChange  func(State)
}

// Manager owns one peer connection. Negotiation operations are serialized;
// Close may be called at any time and overtakes operations in flight.
type Manager struct {
	api      *webrtc.API
	cfg      Config
	handlers Handlers

	// opMu serializes negotiation; mu guards the fields below and is never
	// held across a pion call that may block.
	opMu sync.Mutex

	mu      sync.Mutex
	pc      *webrtc.PeerConnection
	gen     uint64
	state   State
	closed  bool
	ctx     context.Context
	cancel  context.CancelFunc
	local   []*media.Stream
	remote  map[string]*media.Stream
	feeds   []*remoteFeed
	senders int
}

// New creates a Manager with a fresh peer connection.
func New(cfg Config, handlers Handlers) (*Manager, error) {
	if cfg.Encoder == nil {
		cfg.Encoder = I420Packer{}
	}
	if cfg.Decoder == nil {
		cfg.Decoder = I420Packer{}
	}

	api, err := newAPI()
	if err != nil {
		return nil, err
	}

	m := &Manager{
		api:      api,
		cfg:      cfg,
		handlers: handlers,
		state:    StateNew,
	}
	if err := m.connect(); err != nil {
		return nil, err
	}
	return m, nil
}

func newAPI() (*webrtc.API, error) {
	me := &webrtc.MediaEngine{}
	if err := me.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("register codecs: %w", err)
	}
	ir := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(me, ir); err != nil {
		return nil, fmt.Errorf("register interceptors: %w", err)
	}
	return webrtc.NewAPI(webrtc.WithMediaEngine(me), webrtc.WithInterceptorRegistry(ir)), nil
}

// connect replaces the current connection with a new one carrying the
// local streams. Callers hold opMu or own m exclusively.
func (m *Manager) connect() error {
	pc, err := m.api.NewPeerConnection(webrtc.Configuration{ICEServers: m.cfg.ICEServers})
	if err != nil {
		return fmt.Errorf("create peer connection: %w", err)
	}
	ctx, cancel := context.WithCancel(context.Background())

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		cancel()
		_ = pc.Close()
		return ErrClosed
	}
	m.gen++
	gen := m.gen
	m.pc = pc
	m.ctx, m.cancel = ctx, cancel
	m.state = StateNew
	m.remote = make(map[string]*media.Stream)
	m.senders = 0
	local := append([]*media.Stream(nil), m.local...)
	m.mu.Unlock()

	m.wire(pc, gen)

	for _, s := range local {
		if err := m.attach(ctx, pc, s); err != nil {
			return err
		}
	}
	return nil
}

func (m *Manager) wire(pc *webrtc.PeerConnection, gen uint64) {
	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil || !m.current(gen) {
			return
		}
		if m.handlers.OnICECandidate != nil {
			m.handlers.OnICECandidate(c.ToJSON())
		}
	})

	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		if !m.current(gen) {
			return
		}
		logrus.WithField("state", s.String()).Debug("Peer connection state changed")
		switch s {
		case webrtc.PeerConnectionStateConnected:
			m.advance(gen, StateConnected)
		case webrtc.PeerConnectionStateFailed:
			logrus.Warn("Peer connection failed")
		}
	})

	pc.OnTrack(func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
		m.handleTrack(gen, pc, track, receiver)
	})
}

// current reports whether gen is still the live connection.
func (m *Manager) current(gen uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return !m.closed && m.gen == gen
}

// snapshot returns the live connection if it is in one of the allowed states.
func (m *Manager) snapshot(allowed ...State) (*webrtc.PeerConnection, uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, 0, ErrClosed
	}
	for _, s := range allowed {
		if m.state == s {
			return m.pc, m.gen, nil
		}
	}
	return nil, 0, fmt.Errorf("%w: %s", ErrInvalidState, m.state)
}

// advance moves gen's connection forward to s. Backward moves are ignored,
// so a late local transition never hides an earlier "connected".
func (m *Manager) advance(gen uint64, s State) bool {
	m.mu.Lock()
	if m.closed || m.gen != gen {
		m.mu.Unlock()
		return false
	}
	if s.rank() <= m.state.rank() {
		m.mu.Unlock()
		return true
	}
	m.state = s
	m.mu.Unlock()

	if m.handlers.OnStateChange != nil {
		m.handlers.OnStateChange(s)
	}
	return true
}

// fail classifies a pion error. Errors from a connection that was closed or
// replaced mid-operation become ErrClosed.
func (m *Manager) fail(gen uint64, step string, err error) error {
	if !m.current(gen) {
		return ErrClosed
	}
	return fmt.Errorf("%w: %s: %v", ErrNegotiation, step, err)
}

// State returns the current negotiation state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// AddStream attaches every track of stream to the connection. Streams are
// remembered and re-attached after Reset. Adding the same stream twice is a
// no-op.
func (m *Manager) AddStream(stream *media.Stream) error {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	for _, s := range m.local {
		if s == stream {
			m.mu.Unlock()
			return nil
		}
	}
	m.local = append(m.local, stream)
	pc, ctx := m.pc, m.ctx
	m.mu.Unlock()

	return m.attach(ctx, pc, stream)
}

// CreateOffer generates the local offer and stores it as the local
// description. Valid only from StateNew.
func (m *Manager) CreateOffer(ctx context.Context) (webrtc.SessionDescription, error) {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	pc, gen, err := m.snapshot(StateNew)
	if err != nil {
		return webrtc.SessionDescription{}, err
	}

	offer, err := pc.CreateOffer(nil)
	if err != nil {
		return webrtc.SessionDescription{}, m.fail(gen, "create offer", err)
	}
	if err := ctx.Err(); err != nil {
		return webrtc.SessionDescription{}, err
	}
	if err := pc.SetLocalDescription(offer); err != nil {
		return webrtc.SessionDescription{}, m.fail(gen, "set local offer", err)
	}
	if !m.advance(gen, StateLocalOffer) {
		return webrtc.SessionDescription{}, ErrClosed
	}
	return offer, nil
}

// AcceptOffer applies a remote offer and returns the stored local answer.
// Valid only from StateNew.
func (m *Manager) AcceptOffer(ctx context.Context, offer webrtc.SessionDescription) (webrtc.SessionDescription, error) {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	pc, gen, err := m.snapshot(StateNew)
	if err != nil {
		return webrtc.SessionDescription{}, err
	}
	if offer.Type != webrtc.SDPTypeOffer {
		return webrtc.SessionDescription{}, fmt.Errorf("%w: expected offer, got %s", ErrNegotiation, offer.Type)
	}

	if err := pc.SetRemoteDescription(offer); err != nil {
		return webrtc.SessionDescription{}, m.fail(gen, "set remote offer", err)
	}
	if !m.advance(gen, StateRemoteOffer) {
		return webrtc.SessionDescription{}, ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return webrtc.SessionDescription{}, err
	}

	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		return webrtc.SessionDescription{}, m.fail(gen, "create answer", err)
	}
	if err := pc.SetLocalDescription(answer); err != nil {
		return webrtc.SessionDescription{}, m.fail(gen, "set local answer", err)
	}
	if !m.advance(gen, StateLocalAnswer) {
		return webrtc.SessionDescription{}, ErrClosed
	}
	return answer, nil
}

// AcceptAnswer applies the remote answer to an offer created by
// CreateOffer.
func (m *Manager) AcceptAnswer(ctx context.Context, answer webrtc.SessionDescription) error {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	pc, gen, err := m.snapshot(StateLocalOffer)
	if err != nil {
		return err
	}
	if answer.Type != webrtc.SDPTypeAnswer {
		return fmt.Errorf("%w: expected answer, got %s", ErrNegotiation, answer.Type)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	if err := pc.SetRemoteDescription(answer); err != nil {
		return m.fail(gen, "set remote answer", err)
	}
	if !m.advance(gen, StateRemoteAnswer) {
		return ErrClosed
	}
	return nil
}

// AddICECandidate applies a remote candidate. Candidates that arrive before
// a remote description is set are dropped without error.
func (m *Manager) AddICECandidate(c webrtc.ICECandidateInit) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	pc := m.pc
	m.mu.Unlock()

	if pc.RemoteDescription() == nil {
		logrus.WithField("candidate", c.Candidate).Debug("Dropping ICE candidate, no remote description")
		return nil
	}
	if err := pc.AddICECandidate(c); err != nil {
		return fmt.Errorf("%w: %v", ErrCandidate, err)
	}
	return nil
}

// Reset discards the current connection and starts over from StateNew with
// the same local streams. Remote streams of the old connection are stopped.
func (m *Manager) Reset() error {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	old, cancel, feeds := m.pc, m.cancel, m.feeds
	m.feeds = nil
	m.mu.Unlock()

	cancel()
	if err := old.Close(); err != nil {
		logrus.WithError(err).Debug("Closing replaced peer connection")
	}
	stopFeeds(feeds)

	if err := m.connect(); err != nil {
		return err
	}
	if m.handlers.OnStateChange != nil {
		m.handlers.OnStateChange(StateNew)
	}
	logrus.Debug("Peer connection reset")
	return nil
}

// Close releases the connection and stops every remote track. It is
// idempotent and does not wait for negotiation in progress.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.state = StateClosed
	pc, cancel, feeds := m.pc, m.cancel, m.feeds
	m.feeds = nil
	m.mu.Unlock()

	cancel()
	err := pc.Close()
	stopFeeds(feeds)

	if m.handlers.OnStateChange != nil {
		m.handlers.OnStateChange(StateClosed)
	}
	return err
}

// RemoteStreams returns the streams received on the live connection.
func (m *Manager) RemoteStreams() []*media.Stream {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*media.Stream, 0, len(m.remote))
	for _, s := range m.remote {
		out = append(out, s)
	}
	return out
}

// Senders returns the number of local tracks attached to the live
// connection.
func (m *Manager) Senders() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.senders
}
