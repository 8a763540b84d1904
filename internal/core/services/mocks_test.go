package services

import (
	"context"
	"sync"

	"spacecast/internal/core/domain"
	"spacecast/internal/core/ports"

	"github.com/stretchr/testify/mock"
)

type MockBroadcastAPI struct {
	mock.Mock
}

func (m *MockBroadcastAPI) GetRegion(ctx context.Context) (string, error) {
	args := m.Called(ctx)
	return args.String(0), args.Error(1)
}

func (m *MockBroadcastAPI) CreateBroadcast(ctx context.Context, cookie, region string, opts domain.SpaceOptions) (*domain.BroadcastSession, error) {
	args := m.Called(ctx, cookie, region, opts)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.BroadcastSession), args.Error(1)
}

func (m *MockBroadcastAPI) AuthorizeToken(ctx context.Context, cookie string) (string, error) {
	args := m.Called(ctx, cookie)
	return args.String(0), args.Error(1)
}

func (m *MockBroadcastAPI) TurnServers(ctx context.Context, cookie string) (*domain.TurnServers, error) {
	args := m.Called(ctx, cookie)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.TurnServers), args.Error(1)
}

func (m *MockBroadcastAPI) PublishBroadcast(ctx context.Context, req ports.PublishRequest) error {
	args := m.Called(ctx, req)
	return args.Error(0)
}

func (m *MockBroadcastAPI) ApproveSpeaker(ctx context.Context, authToken, chatToken, sessionUUID string) error {
	args := m.Called(ctx, authToken, chatToken, sessionUUID)
	return args.Error(0)
}

func (m *MockBroadcastAPI) EjectSpeaker(ctx context.Context, authToken, chatToken, sessionUUID string) error {
	args := m.Called(ctx, authToken, chatToken, sessionUUID)
	return args.Error(0)
}

func (m *MockBroadcastAPI) EndBroadcast(ctx context.Context, cookie, broadcastID string) error {
	args := m.Called(ctx, cookie, broadcastID)
	return args.Error(0)
}

// MockSignaling records calls through mock.Mock and owns a real event
// channel so the Space pump can be driven from tests.
type MockSignaling struct {
	mock.Mock
	events   chan domain.SignalingEvent
	stopOnce sync.Once
}

func NewMockSignaling() *MockSignaling {
	return &MockSignaling{events: make(chan domain.SignalingEvent, 16)}
}

func (m *MockSignaling) Initialize(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *MockSignaling) SubscribeSpeaker(ctx context.Context, userID string) error {
	return m.Called(ctx, userID).Error(0)
}

func (m *MockSignaling) UnsubscribeSpeaker(ctx context.Context, userID string) error {
	return m.Called(ctx, userID).Error(0)
}

func (m *MockSignaling) PushLocalAudio(samples []int16, sampleRate, channels int) error {
	return m.Called(samples, sampleRate, channels).Error(0)
}

func (m *MockSignaling) DestroyRoom(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *MockSignaling) LeaveRoom(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *MockSignaling) SessionID() int64   { return 11 }
func (m *MockSignaling) HandleID() int64    { return 22 }
func (m *MockSignaling) PublisherID() int64 { return 33 }

func (m *MockSignaling) Events() <-chan domain.SignalingEvent { return m.events }

func (m *MockSignaling) Stop() {
	m.Called()
	m.stopOnce.Do(func() { close(m.events) })
}

type MockControl struct {
	mock.Mock
	events    chan domain.Event
	closeOnce sync.Once
}

func NewMockControl() *MockControl {
	return &MockControl{events: make(chan domain.Event, 16)}
}

func (m *MockControl) Connect(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *MockControl) ReactWithEmoji(emoji string) error {
	return m.Called(emoji).Error(0)
}

func (m *MockControl) Events() <-chan domain.Event { return m.events }

func (m *MockControl) Disconnect() {
	m.Called()
	m.closeOnce.Do(func() { close(m.events) })
}

type stubCredentials struct {
	cookie string
	err    error
}

func (c stubCredentials) SessionCookie(context.Context) (string, error) { return c.cookie, c.err }
func (c stubCredentials) BearerToken(context.Context) (string, error)   { return "", nil }

// recordingPlugin logs every hook it sees into a shared journal.
type recordingPlugin struct {
	name    string
	journal *journal
	panicOn string

	mu     sync.Mutex
	frames []domain.AudioFrame
}

func (p *recordingPlugin) Name() string { return p.name }

func (p *recordingPlugin) OnAttach(ports.Space) {
	p.journal.add(p.name + ":attach")
}

func (p *recordingPlugin) Init(context.Context, ports.PluginParams) error {
	p.journal.add(p.name + ":init")
	if p.panicOn == "init" {
		panic("init exploded")
	}
	return nil
}

func (p *recordingPlugin) OnAudioData(frame domain.AudioFrame) {
	if p.panicOn == "audio" {
		panic("audio exploded")
	}
	p.mu.Lock()
	p.frames = append(p.frames, frame)
	p.mu.Unlock()
}

func (p *recordingPlugin) Cleanup() error {
	p.journal.add(p.name + ":cleanup")
	return nil
}

func (p *recordingPlugin) frameCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.frames)
}

type journal struct {
	mu      sync.Mutex
	entries []string
}

func (j *journal) add(entry string) {
	j.mu.Lock()
	j.entries = append(j.entries, entry)
	j.mu.Unlock()
}

func (j *journal) snapshot() []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]string(nil), j.entries...)
}

type countingMetrics struct {
	ports.NopMetrics
	mu           sync.Mutex
	pluginErrors map[string]int
}

func (m *countingMetrics) RecordPluginError(plugin, hook string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.pluginErrors == nil {
		m.pluginErrors = make(map[string]int)
	}
	m.pluginErrors[plugin+":"+hook]++
}

func (m *countingMetrics) errorsFor(key string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pluginErrors[key]
}
