package peer

import (
	"context"
	"fmt"
	"time"

	"github.com/pion/rtcp"
	"github.com/pion/webrtc/v4"
	pionmedia "github.com/pion/webrtc/v4/pkg/media"
	"github.com/sirupsen/logrus"

	"github.com/mossy-p/gradecall/internal/media"
)

const videoClockRate = 90000

// attach adds every track of stream to pc and starts a pump per track that
// runs until ctx is cancelled or the source track ends.
func (m *Manager) attach(ctx context.Context, pc *webrtc.PeerConnection, stream *media.Stream) error {
	for _, t := range stream.Tracks() {
		var capability webrtc.RTPCodecCapability
		switch t.Kind() {
		case media.KindVideo:
			capability = webrtc.RTPCodecCapability{MimeType: m.cfg.Encoder.MimeType(), ClockRate: videoClockRate}
		case media.KindAudio:
			capability = webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2}
		default:
			continue
		}

		local, err := webrtc.NewTrackLocalStaticSample(capability, t.ID(), stream.ID())
		if err != nil {
			return fmt.Errorf("create %s track: %w", t.Kind(), err)
		}
		sender, err := pc.AddTrack(local)
		if err != nil {
			return fmt.Errorf("add %s track: %w", t.Kind(), err)
		}

		m.mu.Lock()
		m.senders++
		m.mu.Unlock()

		go readRTCP(sender)
		switch src := t.(type) {
		case media.VideoTrack:
			go m.pumpVideo(ctx, src, local)
		case media.AudioTrack:
			go pumpAudio(ctx, src, local)
		}

		logrus.WithFields(logrus.Fields{
			"stream": stream.ID(),
			"track":  t.ID(),
			"kind":   t.Kind(),
		}).Debug("Attached local track")
	}
	return nil
}

func (m *Manager) pumpVideo(ctx context.Context, src media.VideoTrack, out *webrtc.TrackLocalStaticSample) {
	var seq uint64
	last := time.Now()
	for {
		frame, next, err := src.NextFrame(ctx, seq)
		if err != nil {
			return
		}
		seq = next

		data, err := m.cfg.Encoder.Encode(frame)
		if err != nil {
			logrus.WithError(err).Debug("Skipping unencodable frame")
			continue
		}
		now := time.Now()
		if err := out.WriteSample(pionmedia.Sample{Data: data, Duration: now.Sub(last)}); err != nil {
			logrus.WithError(err).Debug("Failed to write video sample")
		}
		last = now
	}
}

func pumpAudio(ctx context.Context, src media.AudioTrack, out *webrtc.TrackLocalStaticSample) {
	for {
		s, err := src.ReadSample(ctx)
		if err != nil {
			return
		}
		if err := out.WriteSample(pionmedia.Sample{Data: s.Data, Duration: s.Duration}); err != nil {
			logrus.WithError(err).Debug("Failed to write audio sample")
		}
	}
}

// readRTCP drains the sender so interceptors keep running.
func readRTCP(sender *webrtc.RTPSender) {
	for {
		pkts, _, err := sender.ReadRTCP()
		if err != nil {
			return
		}
		for _, p := range pkts {
			if _, ok := p.(*rtcp.PictureLossIndication); ok {
				logrus.Debug("Remote requested a keyframe")
			}
		}
	}
}
