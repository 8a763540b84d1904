package audio

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPeak(t *testing.T) {
	assert.Equal(t, 0, Peak(nil))
	assert.Equal(t, 300, Peak([]int16{10, -300, 299}))
	assert.Equal(t, 32768, Peak([]int16{-32768, 1}))
}

func TestSplitFrames_RoundTrip(t *testing.T) {
	cases := []struct {
		n, size int
	}{
		{0, 480}, {1, 480}, {479, 480}, {480, 480}, {481, 480}, {4800, 480}, {1001, 7},
	}
	for _, tc := range cases {
		samples := make([]int16, tc.n)
		for i := range samples {
			samples[i] = int16(i*31 - 5000)
		}

		frames := SplitFrames(samples, tc.size)
		for i, f := range frames {
			if i < len(frames)-1 {
				assert.Len(t, f, tc.size)
			} else {
				assert.LessOrEqual(t, len(f), tc.size)
			}
		}
		got := Concat(frames)
		assert.Equal(t, len(samples), len(got), "n=%d size=%d", tc.n, tc.size)
		assert.Equal(t, samples, append([]int16{}, got...), "n=%d size=%d", tc.n, tc.size)
	}
}

func TestSplitFrames_AppendDoesNotClobberNeighbour(t *testing.T) {
	samples := []int16{1, 2, 3, 4}
	frames := SplitFrames(samples, 2)
	_ = append(frames[0], 99)
	assert.Equal(t, int16(3), frames[1][0])
}

func TestResample(t *testing.T) {
	in := make([]int16, 240)
	for i := range in {
		in[i] = int16(i)
	}
	out := Resample(in, 24000, 48000)
	assert.Len(t, out, 480)
	assert.Equal(t, int16(0), out[0])
	assert.Equal(t, int16(1), out[2])

	down := Resample(in, 48000, 8000)
	assert.Len(t, down, 40)

	assert.Equal(t, in, Resample(in, 8000, 8000))
}

func TestToMono(t *testing.T) {
	assert.Equal(t, []int16{15, -10}, ToMono([]int16{10, 20, -20, 0}, 2))
	mono := []int16{1, 2}
	assert.Equal(t, mono, ToMono(mono, 1))
}

func TestBytesRoundTrip(t *testing.T) {
	samples := []int16{0, 1, -1, 32767, -32768}
	assert.Equal(t, samples, BytesToInt16(Int16ToBytes(samples)))
}

func TestWAV_EncodeDecode(t *testing.T) {
	samples := []int16{0, 100, -100, 2000, -2000}
	clip, err := DecodeWAV(EncodeWAV(samples, 16000, 1))
	require.NoError(t, err)
	assert.Equal(t, 16000, clip.SampleRate)
	assert.Equal(t, 1, clip.Channels)
	assert.Equal(t, samples, clip.Samples)

	_, err = DecodeWAV([]byte("not audio at all"))
	assert.ErrorIs(t, err, ErrNotWAV)
}

func TestWAVWriter_PatchesHeader(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rec.wav")
	f, err := os.Create(path)
	require.NoError(t, err)

	w, err := NewWAVWriter(f, 8000, 1)
	require.NoError(t, err)
	require.NoError(t, w.Write([]int16{1, 2, 3}))
	require.NoError(t, w.Write([]int16{4, 5}))
	require.NoError(t, w.Close())
	require.NoError(t, f.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	clip, err := DecodeWAV(data)
	require.NoError(t, err)
	assert.Equal(t, []int16{1, 2, 3, 4, 5}, clip.Samples)
	assert.Equal(t, 8000, clip.SampleRate)
}
