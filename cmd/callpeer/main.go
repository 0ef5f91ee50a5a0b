// Command callpeer is a headless call participant. It captures a synthetic
// camera, grades it live from commands typed on stdin and exchanges media
// with one other participant through the signaling gateway.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/mossy-p/gradecall/config"
	"github.com/mossy-p/gradecall/internal/call"
	"github.com/mossy-p/gradecall/internal/grading"
	"github.com/mossy-p/gradecall/internal/media"
	"github.com/mossy-p/gradecall/internal/peer"
	"github.com/mossy-p/gradecall/internal/pipeline"
	"github.com/mossy-p/gradecall/internal/signaling"
)

const statsInterval = 5 * time.Second

var (
	cfg      *config.Config
	userFlag string
	server   string
	verbose  bool
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "callpeer",
		Short:        "Headless participant for graded two-party calls",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			cfg, err = config.Load()
			if err != nil {
				return err
			}
			if !cmd.Flags().Changed("server") {
				server = cfg.Peer.SignalURL
			}
			logrus.SetLevel(logrus.InfoLevel)
			if verbose {
				logrus.SetLevel(logrus.DebugLevel)
			}
			return nil
		},
	}

	root.PersistentFlags().StringVarP(&userFlag, "user", "u", "", "user name to log in as")
	root.PersistentFlags().StringVarP(&server, "server", "s", "http://localhost:8080", "gateway base URL (defaults to SIGNAL_URL)")
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")
	_ = root.MarkPersistentFlagRequired("user")

	root.AddCommand(newDialCmd(), newJoinCmd(), newListenCmd())
	return root
}

func newDialCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "dial <userId>",
		Short: "Place a call and send the offer",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			p, err := connect(ctx)
			if err != nil {
				return err
			}
			defer p.ws.Close()

			callID, err := p.api.createCall(ctx, args[0])
			if err != nil {
				return err
			}
			logrus.WithFields(logrus.Fields{"call_id": callID, "callee": args[0]}).Info("Call placed")
			return p.run(ctx, callID, true)
		},
	}
}

func newJoinCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "join <callId>",
		Short: "Join a call and wait for the offer",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			p, err := connect(ctx)
			if err != nil {
				return err
			}
			defer p.ws.Close()

			return p.run(ctx, args[0], false)
		},
	}
}

func newListenCmd() *cobra.Command {
	var autoAccept bool
	cmd := &cobra.Command{
		Use:   "listen",
		Short: "Wait for incoming calls",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			p, err := connect(ctx)
			if err != nil {
				return err
			}
			defer p.ws.Close()

			rings := make(chan call.Incoming, 1)
			listener, err := call.ListenForRings(ctx, p.ws, p.api.userID, func(in call.Incoming) {
				logrus.WithFields(logrus.Fields{
					"call_id": in.CallID,
					"from":    in.From,
				}).Info("Incoming call")
				if !autoAccept {
					fmt.Printf("join with: callpeer -u %s join %s\n", p.api.userID, in.CallID)
					return
				}
				select {
				case rings <- in:
				default:
				}
			})
			if err != nil {
				return err
			}
			defer listener.Close()

			logrus.WithField("user_id", p.api.userID).Info("Waiting for calls")
			select {
			case <-ctx.Done():
				return nil
			case <-p.ws.Done():
				return p.ws.Err()
			case in := <-rings:
				listener.Close()
				return p.run(ctx, in.CallID, false)
			}
		},
	}
	cmd.Flags().BoolVar(&autoAccept, "auto-accept", false, "join the first incoming call")
	return cmd
}

// participant is a logged-in user with a live gateway connection
type participant struct {
	api *apiClient
	ws  *signaling.WebSocketTransport
	ice []webrtc.ICEServer
}

func connect(ctx context.Context) (*participant, error) {
	api := newAPIClient(server)
	if err := api.login(ctx, userFlag); err != nil {
		return nil, fmt.Errorf("login: %w", err)
	}

	ice, err := api.iceServers(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch ICE servers: %w", err)
	}

	ws, err := signaling.DialWebSocket(ctx, api.signalURL(), api.token)
	if err != nil {
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"user_id": api.userID,
		"server":  server,
	}).Info("Connected to signaling gateway")
	return &participant{api: api, ws: ws, ice: ice}, nil
}

// run enters callID, sends the offer when caller is set and serves the call
// until either side hangs up
func (p *participant) run(ctx context.Context, callID string, caller bool) error {
	model := grading.NewModel()
	sched := pipeline.NewRefreshScheduler(cfg.Peer.RefreshRate)
	defer sched.Stop()

	var manager atomic.Pointer[peer.Manager]
	newPeer := call.PeerFactory(peer.Config{ICEServers: p.ice})

	session, err := call.NewSession(call.Config{
		CallID:      callID,
		LocalUserID: p.api.userID,
		Transport:   p.ws,
		Acquirer: &media.TestPatternDevice{
			Width:  cfg.Peer.VideoWidth,
			Height: cfg.Peer.VideoHeight,
			FPS:    30,
		},
		Grading:   model,
		Scheduler: sched,
		NewPeer: func(h peer.Handlers) (call.Negotiator, error) {
			n, err := newPeer(h)
			if m, ok := n.(*peer.Manager); ok {
				manager.Store(m)
			}
			return n, err
		},
	})
	if err != nil {
		return err
	}
	defer session.Close()

	if err := session.Enter(ctx); err != nil {
		return err
	}
	if caller {
		err = session.StartCall(ctx)
	} else {
		err = session.JoinCall(ctx)
	}
	if err != nil {
		return err
	}

	fmt.Println(controlsHelp)
	hangup := make(chan struct{})
	controlsCtx, stopControls := context.WithCancel(ctx)
	defer stopControls()
	go func() {
		if readControls(controlsCtx, os.Stdin, os.Stdout, model) {
			close(hangup)
		}
	}()

	ticker := time.NewTicker(statsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			logStats(session, manager.Load())

		case <-session.Done():
			logrus.WithField("call_id", callID).Info("Call finished")
			return nil

		case <-p.ws.Done():
			session.Close()
			return p.ws.Err()

		case <-hangup:
			return p.hangup(session, callID)

		case <-ctx.Done():
			return p.hangup(session, callID)
		}
	}
}

func (p *participant) hangup(session *call.Session, callID string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := session.Hangup(ctx)
	if endErr := p.api.endCall(ctx, callID); endErr != nil {
		logrus.WithError(endErr).Debug("Failed to remove call record")
	}
	if errors.Is(err, signaling.ErrDelivery) {
		// The remote side learns of the hangup from the call record removal
		return nil
	}
	return err
}

func logStats(session *call.Session, m *peer.Manager) {
	fields := logrus.Fields{"phase": session.Phase().String()}
	if m != nil {
		fields["peer_state"] = string(m.State())
		for _, s := range m.RemoteStats() {
			kind := string(s.Kind)
			fields[kind+"_packets"] = s.Packets
			fields[kind+"_bytes"] = s.Bytes
			fields[kind+"_frames"] = s.Frames
		}
	}
	logrus.WithFields(fields).Info("Call stats")
}
