package janus

import (
	"context"
	"fmt"
	"sync"
	"time"

	"spacecast/internal/core/domain"
	"spacecast/pkg/audio"

	"github.com/pion/rtcp"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v3"
	"github.com/pion/webrtc/v3/pkg/media"
	"github.com/zaf/g711"
)

const (
	// Wire format of the audio bridge: G.711 µ-law, 8 kHz mono, 20 ms packets.
	wireSampleRate   = 8000
	wireFrameSamples = 160
	wireFrameTime    = 20 * time.Millisecond
	rtpBufferSize    = 1500
)

var pcmuCapability = webrtc.RTPCodecCapability{
	MimeType:  webrtc.MimeTypePCMU,
	ClockRate: wireSampleRate,
	Channels:  1,
}

// peer wraps a peer connection whose remote answer may be applied from
// either the poll loop or the caller that sent the offer.
type peer struct {
	pc         *webrtc.PeerConnection
	answerOnce sync.Once
	answerErr  error
}

func (p *peer) applyAnswer(sdp string) error {
	p.answerOnce.Do(func() {
		p.answerErr = p.pc.SetRemoteDescription(webrtc.SessionDescription{
			Type: webrtc.SDPTypeAnswer,
			SDP:  sdp,
		})
	})
	return p.answerErr
}

func newAPI(opts Options) (*webrtc.API, error) {
	mediaEngine := &webrtc.MediaEngine{}
	if err := mediaEngine.RegisterCodec(webrtc.RTPCodecParameters{
		RTPCodecCapability: pcmuCapability,
		PayloadType:        0,
	}, webrtc.RTPCodecTypeAudio); err != nil {
		return nil, fmt.Errorf("register PCMU codec: %w", err)
	}

	settingEngine := webrtc.SettingEngine{}
	if opts.PortMin > 0 && opts.PortMax > 0 {
		if err := settingEngine.SetEphemeralUDPPortRange(opts.PortMin, opts.PortMax); err != nil {
			return nil, fmt.Errorf("set port range: %w", err)
		}
	}

	return webrtc.NewAPI(webrtc.WithMediaEngine(mediaEngine), webrtc.WithSettingEngine(settingEngine)), nil
}

// createPeerConnection builds a connection using the broadcast's TURN servers.
func (c *Client) createPeerConnection(label string) (*webrtc.PeerConnection, error) {
	if c.apiErr != nil {
		return nil, c.apiErr
	}

	pc, err := c.api.NewPeerConnection(webrtc.Configuration{
		ICEServers:   c.params.ICEServers,
		SDPSemantics: webrtc.SDPSemanticsUnifiedPlan,
	})
	if err != nil {
		return nil, fmt.Errorf("create peer connection: %w", err)
	}

	pc.OnICEConnectionStateChange(func(state webrtc.ICEConnectionState) {
		c.logger.Infow("ICE connection state changed",
			"peer", label,
			"ice_state", state,
		)
	})
	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		c.logger.Infow("peer connection state changed",
			"peer", label,
			"connection_state", state,
		)
		if state == webrtc.PeerConnectionStateFailed {
			c.emit(domain.SignalingEvent{
				Kind: domain.SignalingError,
				Err:  fmt.Errorf("peer connection %s failed", label),
			})
		}
	})

	return pc, nil
}

// setLocalAndGather sets desc and blocks until ICE gathering completes, so
// the SDP sent to the gateway already carries every candidate.
func setLocalAndGather(ctx context.Context, pc *webrtc.PeerConnection, desc webrtc.SessionDescription) (string, error) {
	gatherComplete := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(desc); err != nil {
		return "", fmt.Errorf("set local description: %w", err)
	}

	select {
	case <-gatherComplete:
	case <-ctx.Done():
		return "", ctx.Err()
	}

	local := pc.LocalDescription()
	if local == nil {
		return "", fmt.Errorf("local description missing after gathering")
	}
	return local.SDP, nil
}

// localTrack returns the publish track, creating it on first use.
func (c *Client) localTrack() (*webrtc.TrackLocalStaticSample, error) {
	c.trackMu.Lock()
	defer c.trackMu.Unlock()

	if c.track != nil {
		return c.track, nil
	}

	track, err := webrtc.NewTrackLocalStaticSample(pcmuCapability, "audio", c.params.StreamName)
	if err != nil {
		return nil, fmt.Errorf("create local audio track: %w", err)
	}
	c.track = track
	return track, nil
}

// PushLocalAudio converts PCM to the wire format and writes it to the
// publish track in 20 ms packets. A partial packet is carried over to the
// next call.
func (c *Client) PushLocalAudio(samples []int16, sampleRate, channels int) error {
	if len(samples) == 0 {
		return nil
	}
	if sampleRate <= 0 {
		return fmt.Errorf("invalid sample rate %d", sampleRate)
	}

	track, err := c.localTrack()
	if err != nil {
		return err
	}

	mono := audio.ToMono(samples, channels)
	wire := audio.Resample(mono, sampleRate, wireSampleRate)

	c.trackMu.Lock()
	defer c.trackMu.Unlock()

	c.pendingOut = append(c.pendingOut, wire...)
	for len(c.pendingOut) >= wireFrameSamples {
		payload := make([]byte, wireFrameSamples)
		for i, s := range c.pendingOut[:wireFrameSamples] {
			payload[i] = g711.EncodeUlawFrame(s)
		}
		c.pendingOut = c.pendingOut[wireFrameSamples:]

		if err := track.WriteSample(media.Sample{Data: payload, Duration: wireFrameTime}); err != nil {
			return fmt.Errorf("write audio sample: %w", err)
		}
	}

	// Compact the carry-over so the backing array does not grow forever.
	if len(c.pendingOut) == 0 {
		c.pendingOut = c.pendingOut[:0:0]
	}
	return nil
}

// onRemoteTrack decodes a speaker's inbound audio into frames.
func (c *Client) onRemoteTrack(userID string) func(*webrtc.TrackRemote, *webrtc.RTPReceiver) {
	return func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
		codec := track.Codec()
		c.logger.Infow("speaker track started",
			"user_id", userID,
			"track_id", track.ID(),
			"codec", codec.MimeType,
		)

		c.readers.Add(2)
		go func() {
			defer c.readers.Done()
			c.processRTCP(userID, receiver)
		}()
		go func() {
			defer c.readers.Done()
			c.readSpeakerTrack(userID, track)
		}()
	}
}

func (c *Client) readSpeakerTrack(userID string, track *webrtc.TrackRemote) {
	buf := c.bufPool.Get()
	defer c.bufPool.Put(buf)

	packet := &rtp.Packet{}
	decodable := track.Codec().MimeType == webrtc.MimeTypePCMU

	for {
		n, _, err := track.Read(buf)
		if err != nil {
			c.logger.Debugw("speaker track ended", "user_id", userID, "error", err)
			return
		}
		if !decodable {
			continue
		}
		if err := packet.Unmarshal(buf[:n]); err != nil {
			c.logger.Debugw("dropping malformed RTP packet", "user_id", userID, "error", err)
			continue
		}
		if len(packet.Payload) == 0 {
			continue
		}

		samples := make([]int16, len(packet.Payload))
		for i, b := range packet.Payload {
			samples[i] = g711.DecodeUlawFrame(b)
		}
		c.emitAudio(domain.NewAudioFrame(userID, samples, wireSampleRate, 1))
	}
}

// processRTCP drains the receiver and reports loss from receiver reports.
func (c *Client) processRTCP(label string, receiver *webrtc.RTPReceiver) {
	for {
		packets, _, err := receiver.ReadRTCP()
		if err != nil {
			return
		}
		c.recordLoss(label, packets)
	}
}

// drainSenderRTCP keeps the sender's interceptors running.
func (c *Client) drainSenderRTCP(sender *webrtc.RTPSender) {
	defer c.readers.Done()
	for {
		packets, _, err := sender.ReadRTCP()
		if err != nil {
			return
		}
		c.recordLoss("publisher", packets)
	}
}

func (c *Client) recordLoss(label string, packets []rtcp.Packet) {
	for _, packet := range packets {
		if rr, ok := packet.(*rtcp.ReceiverReport); ok {
			for _, report := range rr.Reports {
				c.metrics.RecordPacketLoss(label, float64(report.FractionLost)/256.0)
			}
		}
	}
}
