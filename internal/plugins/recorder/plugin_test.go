package recorder

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"spacecast/internal/core/domain"
	"spacecast/internal/core/ports"
	"spacecast/pkg/archive"
	"spacecast/pkg/audio"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type roomSpace struct {
	ports.Space
	room string
}

func (s roomSpace) Broadcast() *domain.BroadcastSession {
	return &domain.BroadcastSession{RoomID: s.room}
}

func TestRecorder_WritesFramesAndFinalizesHeader(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "out.wav")
	p := New(path, zaptest.NewLogger(t))
	require.NoError(t, p.Init(context.Background(), ports.PluginParams{Space: roomSpace{room: "r1"}}))

	p.OnAudioData(domain.NewAudioFrame("a", []int16{1, 2, 3}, 8000, 1))
	p.OnAudioData(domain.NewAudioFrame("b", []int16{4, 5}, 8000, 1))
	require.NoError(t, p.Cleanup())
	require.NoError(t, p.Cleanup())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	clip, err := audio.DecodeWAV(data)
	require.NoError(t, err)
	assert.Equal(t, []int16{1, 2, 3, 4, 5}, clip.Samples)
	assert.Equal(t, 8000, clip.SampleRate)
}

func TestRecorder_DefaultPathUsesRoom(t *testing.T) {
	dir := t.TempDir()
	p := New("", zaptest.NewLogger(t))
	override := filepath.Join(dir, "r9.wav")
	require.NoError(t, p.Init(context.Background(), ports.PluginParams{
		Space:  roomSpace{room: "r9"},
		Config: map[string]interface{}{"path": override},
	}))
	defer p.Cleanup()

	assert.Equal(t, override, p.Path())
}

func TestRecorder_FramesBeforeInitAreIgnored(t *testing.T) {
	p := New(filepath.Join(t.TempDir(), "x.wav"), zaptest.NewLogger(t))
	p.OnAudioData(domain.NewAudioFrame("a", []int16{1}, 8000, 1))
	assert.NoError(t, p.Cleanup())
}

func TestRecorder_ArchivesOnCleanup(t *testing.T) {
	archiveDir := t.TempDir()
	storage, err := archive.NewFileStorage(archiveDir)
	require.NoError(t, err)
	svc := archive.NewService(storage, "test")

	p := New(filepath.Join(t.TempDir(), "live.wav"), zaptest.NewLogger(t)).WithArchive(svc, 0)
	require.NoError(t, p.Init(context.Background(), ports.PluginParams{Space: roomSpace{room: "r1"}}))

	p.OnAudioData(domain.NewAudioFrame("b", make([]int16, 8000), 8000, 1))
	p.OnAudioData(domain.NewAudioFrame("a", make([]int16, 8000), 8000, 1))
	require.NoError(t, p.Cleanup())

	manifests, err := svc.ListManifests(context.Background())
	require.NoError(t, err)
	require.Len(t, manifests, 1)

	m, err := svc.LoadManifest(context.Background(), manifests[0])
	require.NoError(t, err)
	assert.Equal(t, "r1", m.RoomID)
	assert.Equal(t, int64(2000), m.DurationMs)
	assert.Equal(t, []string{"a", "b"}, m.Speakers)

	data, err := os.ReadFile(filepath.Join(archiveDir, m.File))
	require.NoError(t, err)
	clip, err := audio.DecodeWAV(data)
	require.NoError(t, err)
	assert.Len(t, clip.Samples, 16000)
}

func TestRecorder_SilentSpaceIsNotArchived(t *testing.T) {
	storage, err := archive.NewFileStorage(t.TempDir())
	require.NoError(t, err)
	svc := archive.NewService(storage, "test")

	p := New(filepath.Join(t.TempDir(), "quiet.wav"), zaptest.NewLogger(t)).WithArchive(svc, 0)
	require.NoError(t, p.Init(context.Background(), ports.PluginParams{Space: roomSpace{room: "r1"}}))
	require.NoError(t, p.Cleanup())

	manifests, err := svc.ListManifests(context.Background())
	require.NoError(t, err)
	assert.Empty(t, manifests)
}
