// Package archive stores finished recordings and their manifests in a
// pluggable Storage backend and prunes them after a retention period.
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"
)

const (
	namePrefix      = "recording-"
	timestampLayout = "20060102-150405"
)

// Manifest describes one archived recording.
type Manifest struct {
	Version     string    `json:"version"`
	Timestamp   time.Time `json:"timestamp"`
	RoomID      string    `json:"room_id"`
	BroadcastID string    `json:"broadcast_id,omitempty"`
	File        string    `json:"file"`
	SampleRate  int       `json:"sample_rate"`
	Samples     int       `json:"samples"`
	DurationMs  int64     `json:"duration_ms"`
	Speakers    []string  `json:"speakers,omitempty"`
}

// Storage defines interface for archive storage
type Storage interface {
	Save(ctx context.Context, name string, data io.Reader) error
	Load(ctx context.Context, name string) (io.ReadCloser, error)
	List(ctx context.Context, prefix string) ([]string, error)
	Delete(ctx context.Context, name string) error
}

// Service handles archive operations
type Service struct {
	storage Storage
	version string
	now     func() time.Time
}

// NewService creates a new archive service
func NewService(storage Storage, version string) *Service {
	return &Service{
		storage: storage,
		version: version,
		now:     time.Now,
	}
}

// Store saves the WAV body followed by its manifest and returns the
// manifest name. The manifest is written last so a listed manifest always
// has its audio.
func (s *Service) Store(ctx context.Context, m *Manifest, wav io.Reader) (string, error) {
	m.Version = s.version
	m.Timestamp = s.now().UTC()
	if m.SampleRate > 0 {
		m.DurationMs = int64(m.Samples) * 1000 / int64(m.SampleRate)
	}

	base := fmt.Sprintf("%s%s-%s", namePrefix, m.Timestamp.Format(timestampLayout), sanitize(m.RoomID))
	m.File = base + ".wav"

	if err := s.storage.Save(ctx, m.File, wav); err != nil {
		return "", fmt.Errorf("failed to save recording: %w", err)
	}

	jsonData, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("failed to marshal manifest: %w", err)
	}

	name := base + ".json"
	if err := s.storage.Save(ctx, name, bytes.NewReader(jsonData)); err != nil {
		return "", fmt.Errorf("failed to save manifest: %w", err)
	}

	return name, nil
}

// LoadManifest reads a manifest written by Store
func (s *Service) LoadManifest(ctx context.Context, name string) (*Manifest, error) {
	reader, err := s.storage.Load(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("failed to load manifest: %w", err)
	}
	defer reader.Close()

	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}

	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to unmarshal manifest: %w", err)
	}
	return &m, nil
}

// ListManifests lists manifest names, oldest first when the backend
// returns names in lexical order.
func (s *Service) ListManifests(ctx context.Context) ([]string, error) {
	names, err := s.storage.List(ctx, namePrefix)
	if err != nil {
		return nil, err
	}
	manifests := names[:0]
	for _, name := range names {
		if strings.HasSuffix(name, ".json") {
			manifests = append(manifests, name)
		}
	}
	return manifests, nil
}

// Prune deletes recordings and manifests older than retention. A zero
// retention keeps everything.
func (s *Service) Prune(ctx context.Context, retention time.Duration) (int, error) {
	if retention <= 0 {
		return 0, nil
	}

	names, err := s.storage.List(ctx, namePrefix)
	if err != nil {
		return 0, fmt.Errorf("failed to list recordings: %w", err)
	}

	cutoff := s.now().Add(-retention)
	deleted := 0
	var firstErr error
	for _, name := range names {
		ts, ok := timestampOf(name)
		if !ok || !ts.Before(cutoff) {
			continue
		}
		if err := s.storage.Delete(ctx, name); err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("failed to delete %s: %w", name, err)
			}
			continue
		}
		deleted++
	}
	return deleted, firstErr
}

// timestampOf parses recording-20060102-150405-<room>.<ext>.
func timestampOf(name string) (time.Time, bool) {
	rest := strings.TrimPrefix(name, namePrefix)
	if len(rest) < len(timestampLayout) {
		return time.Time{}, false
	}
	ts, err := time.Parse(timestampLayout, rest[:len(timestampLayout)])
	if err != nil {
		return time.Time{}, false
	}
	return ts, true
}

func sanitize(s string) string {
	if s == "" {
		return "space"
	}
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, s)
}
