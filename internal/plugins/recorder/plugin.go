// Package recorder writes every routed speaker frame to a WAV file and,
// when an archive is configured, uploads it once the space ends.
package recorder

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"spacecast/internal/core/domain"
	"spacecast/internal/core/ports"
	"spacecast/pkg/archive"
	"spacecast/pkg/audio"

	"go.uber.org/zap"
)

const Name = "recorder"

type Plugin struct {
	ports.PluginBase

	path   string
	logger *zap.SugaredLogger

	archive   *archive.Service
	retention time.Duration

	mu          sync.Mutex
	file        *os.File
	writer      *audio.WAVWriter
	samples     int
	roomID      string
	broadcastID string
	speakers    map[string]struct{}
}

// New records into path. An empty path records to
// recordings/<room_id>-<unix>.wav once the room is known.
func New(path string, logger *zap.Logger) *Plugin {
	return &Plugin{
		path:     path,
		logger:   logger.Sugar().With("plugin", Name),
		speakers: make(map[string]struct{}),
	}
}

// WithArchive uploads the finished recording to svc on Cleanup and prunes
// archived recordings older than retention.
func (p *Plugin) WithArchive(svc *archive.Service, retention time.Duration) *Plugin {
	p.archive = svc
	p.retention = retention
	return p
}

func (p *Plugin) Name() string { return Name }

func (p *Plugin) Init(ctx context.Context, params ports.PluginParams) error {
	path := p.path
	if v, ok := params.Config["path"].(string); ok && v != "" {
		path = v
	}
	var roomID, broadcastID string
	if bs := params.Space.Broadcast(); bs != nil {
		roomID, broadcastID = bs.RoomID, bs.BroadcastID
	}
	if path == "" {
		room := roomID
		if room == "" {
			room = "space"
		}
		path = filepath.Join("recordings", fmt.Sprintf("%s-%d.wav", room, time.Now().Unix()))
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create recording dir: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create recording: %w", err)
	}

	p.mu.Lock()
	p.file = f
	p.path = path
	p.roomID = roomID
	p.broadcastID = broadcastID
	p.mu.Unlock()

	p.logger.Infow("recording started", "path", path)
	return nil
}

// OnAudioData appends the frame. The WAV rate is fixed by the first frame;
// later frames at other rates are resampled to it.
func (p *Plugin) OnAudioData(frame domain.AudioFrame) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.file == nil {
		return
	}
	if p.writer == nil {
		w, err := audio.NewWAVWriter(p.file, frame.SampleRate, 1)
		if err != nil {
			p.logger.Errorw("write wav header", "error", err)
			return
		}
		p.writer = w
	}

	mono := audio.ToMono(frame.Samples, frame.Channels)
	mono = audio.Resample(mono, frame.SampleRate, p.writer.SampleRate())
	if err := p.writer.Write(mono); err != nil {
		p.logger.Errorw("write samples", "user_id", frame.UserID, "error", err)
		return
	}
	p.samples += len(mono)
	p.speakers[frame.UserID] = struct{}{}
}

// Cleanup finalizes the header and closes the file, then archives it.
func (p *Plugin) Cleanup() error {
	p.mu.Lock()
	if p.file == nil {
		p.mu.Unlock()
		return nil
	}
	var err error
	if p.writer != nil {
		err = p.writer.Close()
	}
	if cerr := p.file.Close(); err == nil {
		err = cerr
	}
	p.logger.Infow("recording finished", "path", p.path, "samples", p.samples)

	var manifest *archive.Manifest
	if p.archive != nil && p.writer != nil && err == nil {
		manifest = &archive.Manifest{
			RoomID:      p.roomID,
			BroadcastID: p.broadcastID,
			SampleRate:  p.writer.SampleRate(),
			Samples:     p.samples,
			Speakers:    sortedKeys(p.speakers),
		}
	}
	path := p.path
	p.file = nil
	p.writer = nil
	p.mu.Unlock()

	if err != nil || manifest == nil {
		return err
	}
	return p.upload(path, manifest)
}

func (p *Plugin) upload(path string, manifest *archive.Manifest) error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open recording for archive: %w", err)
	}
	defer f.Close()

	name, err := p.archive.Store(ctx, manifest, f)
	if err != nil {
		return err
	}
	p.logger.Infow("recording archived", "manifest", name, "duration_ms", manifest.DurationMs)

	if deleted, err := p.archive.Prune(ctx, p.retention); err != nil {
		p.logger.Warnw("prune archive", "error", err)
	} else if deleted > 0 {
		p.logger.Infow("pruned archived recordings", "deleted", deleted)
	}
	return nil
}

func sortedKeys(m map[string]struct{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (p *Plugin) Path() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.path
}
