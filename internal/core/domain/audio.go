package domain

import "time"

// AudioFrame is one chunk of signed 16-bit PCM audio.
// Samples are interleaved when Channels > 1.
type AudioFrame struct {
	UserID     string
	Samples    []int16
	SampleRate int
	Channels   int
	FrameCount int
	ReceivedAt time.Time
}

// NewAudioFrame builds a frame and derives FrameCount from the sample count.
func NewAudioFrame(userID string, samples []int16, sampleRate, channels int) AudioFrame {
	if channels <= 0 {
		channels = 1
	}
	return AudioFrame{
		UserID:     userID,
		Samples:    samples,
		SampleRate: sampleRate,
		Channels:   channels,
		FrameCount: len(samples) / channels,
		ReceivedAt: time.Now(),
	}
}

// Duration returns the playback length of the frame.
func (f AudioFrame) Duration() time.Duration {
	if f.SampleRate <= 0 {
		return 0
	}
	return time.Duration(f.FrameCount) * time.Second / time.Duration(f.SampleRate)
}
