package peer

import (
	"sync/atomic"
	"time"

	"github.com/pion/rtcp"
	"github.com/pion/rtp"
	"github.com/pion/rtp/codecs"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media/samplebuilder"
	"github.com/sirupsen/logrus"

	"github.com/mossy-p/gradecall/internal/media"
)

// maxLateVideo bounds how many packets the sample builder holds while
// reassembling one frame. Raw frames span hundreds of packets.
const maxLateVideo = 1024

const opusFrame = 20 * time.Millisecond

// TrackStats counts what one remote track has delivered.
type TrackStats struct {
	StreamID string
	TrackID  string
	Kind     media.Kind
	Packets  uint64
	Bytes    uint64
	Frames   uint64
}

type remoteFeed struct {
	streamID string
	trackID  string
	out      media.Track

	packets atomic.Uint64
	bytes   atomic.Uint64
	frames  atomic.Uint64
}

func (f *remoteFeed) count(pkt *rtp.Packet) {
	f.packets.Add(1)
	f.bytes.Add(uint64(len(pkt.Payload)))
}

func (f *remoteFeed) stats() TrackStats {
	return TrackStats{
		StreamID: f.streamID,
		TrackID:  f.trackID,
		Kind:     f.out.Kind(),
		Packets:  f.packets.Load(),
		Bytes:    f.bytes.Load(),
		Frames:   f.frames.Load(),
	}
}

func stopFeeds(feeds []*remoteFeed) {
	for _, f := range feeds {
		f.out.Stop()
	}
}

// RemoteStats returns counters for every remote track on the live
// connection.
func (m *Manager) RemoteStats() []TrackStats {
	m.mu.Lock()
	feeds := append([]*remoteFeed(nil), m.feeds...)
	m.mu.Unlock()

	out := make([]TrackStats, 0, len(feeds))
	for _, f := range feeds {
		out = append(out, f.stats())
	}
	return out
}

// handleTrack surfaces an inbound track as part of a remote stream and
// feeds it until the track ends. The first track of each stream fires
// OnRemoteStream.
func (m *Manager) handleTrack(gen uint64, pc *webrtc.PeerConnection, track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
	var (
		video *media.LocalVideoTrack
		audio *media.LocalAudioTrack
		out   media.Track
	)
	if track.Kind() == webrtc.RTPCodecTypeVideo {
		video = media.NewLocalVideoTrack(media.Settings{})
		out = video
	} else {
		audio = media.NewLocalAudioTrack()
		out = audio
	}

	streamID := track.StreamID()
	if streamID == "" {
		streamID = track.ID()
	}
	feed := &remoteFeed{streamID: streamID, trackID: track.ID(), out: out}

	m.mu.Lock()
	if m.closed || m.gen != gen {
		m.mu.Unlock()
		return
	}
	stream, seen := m.remote[streamID]
	if !seen {
		stream = media.NewStreamWithID(streamID)
		m.remote[streamID] = stream
	}
	stream.AddTrack(out)
	m.feeds = append(m.feeds, feed)
	m.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"stream": streamID,
		"track":  track.ID(),
		"codec":  track.Codec().MimeType,
	}).Info("Remote track received")

	if !seen && m.handlers.OnRemoteStream != nil {
		m.handlers.OnRemoteStream(stream)
	}

	if video != nil {
		_ = pc.WriteRTCP([]rtcp.Packet{&rtcp.PictureLossIndication{MediaSSRC: uint32(track.SSRC())}})
		m.readVideo(track, video, feed)
		return
	}
	readAudio(track, audio, feed)
}

func (m *Manager) readVideo(track *webrtc.TrackRemote, out *media.LocalVideoTrack, feed *remoteFeed) {
	defer out.Stop()

	builder := samplebuilder.New(maxLateVideo, &codecs.VP8Packet{}, track.Codec().ClockRate)
	var width, height uint16
	for {
		pkt, _, err := track.ReadRTP()
		if err != nil {
			return
		}
		feed.count(pkt)
		builder.Push(pkt)

		for s := builder.Pop(); s != nil; s = builder.Pop() {
			frame, err := m.cfg.Decoder.Decode(s.Data)
			if err != nil {
				logrus.WithError(err).Debug("Dropping undecodable remote frame")
				continue
			}
			if frame.Width != width || frame.Height != height {
				width, height = frame.Width, frame.Height
				out.MarkReady(media.Settings{Width: int(width), Height: int(height)})
			}
			out.Publish(frame)
			feed.frames.Add(1)
		}
	}
}

func readAudio(track *webrtc.TrackRemote, out *media.LocalAudioTrack, feed *remoteFeed) {
	defer out.Stop()
	for {
		pkt, _, err := track.ReadRTP()
		if err != nil {
			return
		}
		feed.count(pkt)
		data := append([]byte(nil), pkt.Payload...)
		if out.Write(media.Sample{Data: data, Duration: opusFrame}) {
			feed.frames.Add(1)
		}
	}
}
