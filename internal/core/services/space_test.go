package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"spacecast/internal/core/domain"
	"spacecast/internal/core/ports"
	apperrors "spacecast/pkg/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"golang.org/x/time/rate"
)

type spaceFixture struct {
	space *Space
	api   *MockBroadcastAPI
	sig   *MockSignaling
	chat  *MockControl

	sigParams ports.SignalingParams
}

func testBroadcast() *domain.BroadcastSession {
	return &domain.BroadcastSession{
		BroadcastID:  "bc-1",
		RoomID:       "room-1",
		StreamName:   "stream-1",
		UserID:       "host-1",
		Credential:   "janus-cred",
		ChatToken:    "chat-token",
		GatewayURL:   "https://gw.example/janus",
		ChatEndpoint: "https://chat.example",
	}
}

func newSpaceFixture(t *testing.T) *spaceFixture {
	f := &spaceFixture{
		api:  &MockBroadcastAPI{},
		sig:  NewMockSignaling(),
		chat: NewMockControl(),
	}
	f.space = NewSpace(SpaceDeps{
		Credentials: stubCredentials{cookie: "cookie-1"},
		API:         f.api,
		Signaling: func(p ports.SignalingParams) ports.SignalingClient {
			f.sigParams = p
			return f.sig
		},
		Control:         func(ports.ControlParams) ports.ControlChannel { return f.chat },
		ReactionLimiter: rate.NewLimiter(rate.Limit(1), 1),
		TeardownTimeout: time.Second,
	}, zaptest.NewLogger(t))
	return f
}

// expectInitialize wires the happy path for Initialize.
func (f *spaceFixture) expectInitialize(mode domain.SpaceMode) {
	f.api.On("GetRegion", mock.Anything).Return("us-east-1", nil).Once()
	f.api.On("CreateBroadcast", mock.Anything, "cookie-1", "us-east-1", mock.Anything).Return(testBroadcast(), nil).Once()
	f.api.On("AuthorizeToken", mock.Anything, "cookie-1").Return("auth-token", nil).Once()
	f.api.On("TurnServers", mock.Anything, "cookie-1").Return(&domain.TurnServers{
		Username: "turn-user", Password: "turn-pass", URIs: []string{"turn:turn.example:3478"},
	}, nil).Once()
	f.sig.On("Initialize", mock.Anything).Return(nil).Once()
	f.api.On("PublishBroadcast", mock.Anything, mock.MatchedBy(func(req ports.PublishRequest) bool {
		return req.SessionID == 11 && req.HandleID == 22 && req.PublisherID == 33 && req.Cookie == "cookie-1"
	})).Return(nil).Once()
	if mode == domain.SpaceModeInteractive {
		f.chat.On("Connect", mock.Anything).Return(nil).Once()
	}
}

func (f *spaceFixture) expectTeardown() {
	f.sig.On("DestroyRoom", mock.Anything).Return(nil)
	f.sig.On("LeaveRoom", mock.Anything).Return(nil)
	f.sig.On("Stop").Return()
	f.chat.On("Disconnect").Return()
	f.api.On("EndBroadcast", mock.Anything, "cookie-1", "bc-1").Return(nil)
}

func TestSpace_InitializeBroadcastMode(t *testing.T) {
	f := newSpaceFixture(t)
	f.expectInitialize(domain.SpaceModeBroadcast)
	f.expectTeardown()

	bs, err := f.space.Initialize(context.Background(), domain.SpaceOptions{Mode: domain.SpaceModeBroadcast, Title: "t"})
	require.NoError(t, err)

	assert.Equal(t, "auth-token", bs.AccessToken)
	assert.Equal(t, "chat-token", bs.ChatToken)
	assert.Equal(t, domain.StateReady, f.space.State())
	assert.Equal(t, "janus-cred", f.sigParams.Credential)
	require.Len(t, f.sigParams.ICEServers, 1)
	assert.Equal(t, "turn-pass", f.sigParams.ICEServers[0].Credential)

	f.chat.AssertNotCalled(t, "Connect", mock.Anything)

	_, err = f.space.Initialize(context.Background(), domain.SpaceOptions{Mode: domain.SpaceModeBroadcast})
	assert.ErrorIs(t, err, domain.ErrAlreadyInitialized)

	f.space.Stop(context.Background())
	f.api.AssertExpectations(t)
}

func TestSpace_PluginsInitExactlyOnceInOrder(t *testing.T) {
	f := newSpaceFixture(t)
	f.expectInitialize(domain.SpaceModeBroadcast)
	f.expectTeardown()

	j := &journal{}
	require.NoError(t, f.space.Use(&recordingPlugin{name: "a", journal: j}, nil))
	require.NoError(t, f.space.Use(&recordingPlugin{name: "b", journal: j}, nil))

	// OnAttach runs at Use time, Init waits for Ready.
	assert.Equal(t, []string{"a:attach", "b:attach"}, j.snapshot())

	_, err := f.space.Initialize(context.Background(), domain.SpaceOptions{Mode: domain.SpaceModeBroadcast})
	require.NoError(t, err)

	require.NoError(t, f.space.Use(&recordingPlugin{name: "c", journal: j}, nil))

	f.space.Stop(context.Background())
	f.space.Stop(context.Background())

	assert.Equal(t, []string{
		"a:attach", "b:attach",
		"a:init", "b:init",
		"c:attach", "c:init",
		"a:cleanup", "b:cleanup", "c:cleanup",
	}, j.snapshot())
}

func TestSpace_AudioFramesReachPlugins(t *testing.T) {
	f := newSpaceFixture(t)
	f.expectInitialize(domain.SpaceModeBroadcast)
	f.expectTeardown()
	defer f.space.Stop(context.Background())

	j := &journal{}
	bad := &recordingPlugin{name: "bad", journal: j, panicOn: "audio"}
	good := &recordingPlugin{name: "good", journal: j}
	require.NoError(t, f.space.Use(bad, nil))
	require.NoError(t, f.space.Use(good, nil))

	_, err := f.space.Initialize(context.Background(), domain.SpaceOptions{Mode: domain.SpaceModeBroadcast})
	require.NoError(t, err)

	f.sig.events <- domain.SignalingEvent{
		Kind:  domain.SignalingAudioData,
		Frame: domain.NewAudioFrame("speaker-1", make([]int16, 160), 8000, 1),
	}

	assert.Eventually(t, func() bool { return good.frameCount() == 1 }, time.Second, 5*time.Millisecond)
}

func TestSpace_ApproveBeforeInitializeMakesNoCalls(t *testing.T) {
	f := newSpaceFixture(t)

	err := f.space.ApproveSpeaker(context.Background(), "u1", "uuid-1")
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrNotInitialized)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodePrecondition))

	f.api.AssertNotCalled(t, "ApproveSpeaker", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	assert.Empty(t, f.space.Speakers())
}

func TestSpace_ApproveAndRemoveSpeaker(t *testing.T) {
	f := newSpaceFixture(t)
	f.expectInitialize(domain.SpaceModeBroadcast)
	f.expectTeardown()
	defer f.space.Stop(context.Background())

	_, err := f.space.Initialize(context.Background(), domain.SpaceOptions{Mode: domain.SpaceModeBroadcast})
	require.NoError(t, err)

	f.api.On("ApproveSpeaker", mock.Anything, "auth-token", "chat-token", "uuid-1").Return(nil).Once()
	f.sig.On("SubscribeSpeaker", mock.Anything, "u1").Return(nil).Once()
	require.NoError(t, f.space.ApproveSpeaker(context.Background(), "u1", "uuid-1"))

	// No participant id yet: ejecting must not reach the API.
	err = f.space.RemoveSpeaker(context.Background(), "u1")
	assert.ErrorIs(t, err, domain.ErrHandshakeIncomplete)
	f.api.AssertNotCalled(t, "EjectSpeaker", mock.Anything, mock.Anything, mock.Anything, mock.Anything)

	f.sig.events <- domain.SignalingEvent{Kind: domain.SignalingSpeakerSubscribed, UserID: "u1", FeedID: 55}
	require.Eventually(t, func() bool {
		speakers := f.space.Speakers()
		return len(speakers) == 1 && speakers[0].JanusParticipantID == 55
	}, time.Second, 5*time.Millisecond)

	f.api.On("EjectSpeaker", mock.Anything, "auth-token", "chat-token", "uuid-1").Return(nil).Once()
	f.sig.On("UnsubscribeSpeaker", mock.Anything, "u1").Return(nil).Once()
	require.NoError(t, f.space.RemoveSpeaker(context.Background(), "u1"))

	assert.Empty(t, f.space.Speakers())
	f.sig.AssertCalled(t, "UnsubscribeSpeaker", mock.Anything, "u1")

	err = f.space.RemoveSpeaker(context.Background(), "u1")
	assert.ErrorIs(t, err, domain.ErrSpeakerNotFound)
}

func TestSpace_ReapproveKeepsParticipantID(t *testing.T) {
	f := newSpaceFixture(t)
	f.expectInitialize(domain.SpaceModeBroadcast)
	f.expectTeardown()
	defer f.space.Stop(context.Background())

	_, err := f.space.Initialize(context.Background(), domain.SpaceOptions{Mode: domain.SpaceModeBroadcast})
	require.NoError(t, err)

	f.api.On("ApproveSpeaker", mock.Anything, "auth-token", "chat-token", "uuid-1").Return(nil).Once()
	f.sig.On("SubscribeSpeaker", mock.Anything, "u1").Return(nil).Once()
	require.NoError(t, f.space.ApproveSpeaker(context.Background(), "u1", "uuid-1"))

	f.sig.events <- domain.SignalingEvent{Kind: domain.SignalingSpeakerSubscribed, UserID: "u1", FeedID: 55}
	require.Eventually(t, func() bool {
		speakers := f.space.Speakers()
		return len(speakers) == 1 && speakers[0].JanusParticipantID == 55
	}, time.Second, 5*time.Millisecond)

	// The same request delivered twice is absorbed.
	require.NoError(t, f.space.ApproveSpeaker(context.Background(), "u1", "uuid-1"))
	f.api.AssertNumberOfCalls(t, "ApproveSpeaker", 1)
	f.sig.AssertNumberOfCalls(t, "SubscribeSpeaker", 1)

	// A new session for the same speaker is approved again and keeps the feed.
	f.api.On("ApproveSpeaker", mock.Anything, "auth-token", "chat-token", "uuid-2").Return(nil).Once()
	f.sig.On("SubscribeSpeaker", mock.Anything, "u1").Return(nil).Once()
	require.NoError(t, f.space.ApproveSpeaker(context.Background(), "u1", "uuid-2"))

	speakers := f.space.Speakers()
	require.Len(t, speakers, 1)
	assert.Equal(t, int64(55), speakers[0].JanusParticipantID)
	assert.Equal(t, domain.SpeakerSubscribed, speakers[0].State)

	f.api.On("EjectSpeaker", mock.Anything, "auth-token", "chat-token", "uuid-2").Return(nil).Once()
	f.sig.On("UnsubscribeSpeaker", mock.Anything, "u1").Return(nil).Once()
	require.NoError(t, f.space.RemoveSpeaker(context.Background(), "u1"))
}

func TestSpace_TeardownStepFailuresAreIsolated(t *testing.T) {
	f := newSpaceFixture(t)
	f.expectInitialize(domain.SpaceModeInteractive)

	j := &journal{}
	require.NoError(t, f.space.Use(&recordingPlugin{name: "a", journal: j}, nil))
	require.NoError(t, f.space.Use(&recordingPlugin{name: "b", journal: j}, nil))

	_, err := f.space.Initialize(context.Background(), domain.SpaceOptions{Mode: domain.SpaceModeInteractive})
	require.NoError(t, err)

	f.sig.On("DestroyRoom", mock.Anything).Return(errors.New("destroy refused")).Once()
	f.sig.On("LeaveRoom", mock.Anything).Return(apperrors.NewTransportError(502, "bad gateway")).Once()
	f.api.On("EndBroadcast", mock.Anything, "cookie-1", "bc-1").Return(errors.New("end refused")).Once()
	f.sig.On("Stop").Return()
	f.chat.On("Disconnect").Return()

	done := make(chan struct{})
	go func() {
		f.space.Stop(context.Background())
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not complete after failing teardown steps")
	}

	assert.Equal(t, domain.StateStopped, f.space.State())
	f.sig.AssertCalled(t, "DestroyRoom", mock.Anything)
	f.sig.AssertCalled(t, "LeaveRoom", mock.Anything)
	f.api.AssertCalled(t, "EndBroadcast", mock.Anything, "cookie-1", "bc-1")
	f.sig.AssertNumberOfCalls(t, "Stop", 1)
	f.chat.AssertNumberOfCalls(t, "Disconnect", 1)
	assert.Equal(t, []string{"a:attach", "b:attach", "a:init", "b:init", "a:cleanup", "b:cleanup"}, j.snapshot())
}

func TestSpace_ApproveFailureForgetsSpeaker(t *testing.T) {
	f := newSpaceFixture(t)
	f.expectInitialize(domain.SpaceModeBroadcast)
	f.expectTeardown()
	defer f.space.Stop(context.Background())

	_, err := f.space.Initialize(context.Background(), domain.SpaceOptions{Mode: domain.SpaceModeBroadcast})
	require.NoError(t, err)

	f.api.On("ApproveSpeaker", mock.Anything, "auth-token", "chat-token", "uuid-2").
		Return(apperrors.NewTransportError(500, "nope")).Once()
	require.Error(t, f.space.ApproveSpeaker(context.Background(), "u2", "uuid-2"))
	assert.Empty(t, f.space.Speakers())

	f.api.On("ApproveSpeaker", mock.Anything, "auth-token", "chat-token", "uuid-3").Return(nil).Once()
	f.sig.On("SubscribeSpeaker", mock.Anything, "u3").Return(apperrors.NewTimeoutError("timeout waiting for u3")).Once()
	require.Error(t, f.space.ApproveSpeaker(context.Background(), "u3", "uuid-3"))

	speakers := f.space.Speakers()
	require.Len(t, speakers, 1)
	assert.Equal(t, domain.SpeakerSubscribeFailed, speakers[0].State)
}

func TestSpace_InitializeFailureTearsDown(t *testing.T) {
	f := newSpaceFixture(t)
	f.api.On("GetRegion", mock.Anything).Return("us-east-1", nil).Once()
	f.api.On("CreateBroadcast", mock.Anything, "cookie-1", "us-east-1", mock.Anything).Return(testBroadcast(), nil).Once()
	f.api.On("AuthorizeToken", mock.Anything, "cookie-1").Return("auth-token", nil).Once()
	f.api.On("TurnServers", mock.Anything, "cookie-1").Return(nil, errors.New("turn down")).Once()
	f.api.On("EndBroadcast", mock.Anything, "cookie-1", "bc-1").Return(nil).Once()

	_, err := f.space.Initialize(context.Background(), domain.SpaceOptions{Mode: domain.SpaceModeBroadcast})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "turn down")

	assert.Equal(t, domain.StateUnconfigured, f.space.State())
	assert.Nil(t, f.space.Broadcast())
	f.api.AssertExpectations(t)
	f.sig.AssertNotCalled(t, "Initialize", mock.Anything)
}

func TestSpace_StopIsIdempotent(t *testing.T) {
	f := newSpaceFixture(t)
	f.expectInitialize(domain.SpaceModeInteractive)
	f.expectTeardown()

	_, err := f.space.Initialize(context.Background(), domain.SpaceOptions{Mode: domain.SpaceModeInteractive})
	require.NoError(t, err)

	f.space.Stop(context.Background())
	f.space.Stop(context.Background())

	assert.Equal(t, domain.StateStopped, f.space.State())
	f.api.AssertNumberOfCalls(t, "EndBroadcast", 1)
	f.sig.AssertNumberOfCalls(t, "DestroyRoom", 1)
	f.sig.AssertNumberOfCalls(t, "LeaveRoom", 1)
	f.sig.AssertNumberOfCalls(t, "Stop", 1)
	f.chat.AssertNumberOfCalls(t, "Disconnect", 1)

	err = f.space.PushAudio(make([]int16, 160), 8000)
	assert.ErrorIs(t, err, domain.ErrSpaceStopped)
	assert.ErrorIs(t, f.space.Use(&recordingPlugin{name: "late", journal: &journal{}}, nil), domain.ErrSpaceStopped)
}

func TestSpace_ControlEventsAreReEmitted(t *testing.T) {
	f := newSpaceFixture(t)
	f.expectInitialize(domain.SpaceModeInteractive)
	f.expectTeardown()
	defer f.space.Stop(context.Background())

	events, cancel := f.space.Subscribe()
	defer cancel()

	_, err := f.space.Initialize(context.Background(), domain.SpaceOptions{Mode: domain.SpaceModeInteractive})
	require.NoError(t, err)

	f.chat.events <- domain.SpeakerRequest{UserID: "u9", SessionUUID: "uuid-9"}

	select {
	case ev := <-events:
		req, ok := ev.(domain.SpeakerRequest)
		require.True(t, ok)
		assert.Equal(t, "u9", req.UserID)
	case <-time.After(time.Second):
		t.Fatal("speaker request was not re-emitted")
	}
}

func TestSpace_React(t *testing.T) {
	f := newSpaceFixture(t)
	f.expectInitialize(domain.SpaceModeInteractive)
	f.expectTeardown()
	defer f.space.Stop(context.Background())

	assert.ErrorIs(t, f.space.React("🔥"), domain.ErrNotInitialized)

	_, err := f.space.Initialize(context.Background(), domain.SpaceOptions{Mode: domain.SpaceModeInteractive})
	require.NoError(t, err)

	f.chat.On("ReactWithEmoji", "🔥").Return(nil).Once()
	require.NoError(t, f.space.React("🔥"))

	// The limiter allows one reaction per second with a burst of one.
	err = f.space.React("🔥")
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeRateLimit))
}

func TestSpace_ReactWithoutControlChannel(t *testing.T) {
	f := newSpaceFixture(t)
	f.expectInitialize(domain.SpaceModeBroadcast)
	f.expectTeardown()
	defer f.space.Stop(context.Background())

	_, err := f.space.Initialize(context.Background(), domain.SpaceOptions{Mode: domain.SpaceModeBroadcast})
	require.NoError(t, err)

	assert.ErrorIs(t, f.space.React("👍"), domain.ErrChatUnavailable)
}

func TestSpace_SignalingErrorsBecomeSpaceErrors(t *testing.T) {
	f := newSpaceFixture(t)
	f.expectInitialize(domain.SpaceModeBroadcast)
	f.expectTeardown()
	defer f.space.Stop(context.Background())

	events, cancel := f.space.Subscribe()
	defer cancel()

	_, err := f.space.Initialize(context.Background(), domain.SpaceOptions{Mode: domain.SpaceModeBroadcast})
	require.NoError(t, err)

	f.sig.events <- domain.SignalingEvent{Kind: domain.SignalingError, Err: errors.New("ice failed")}

	select {
	case ev := <-events:
		spaceErr, ok := ev.(domain.SpaceError)
		require.True(t, ok)
		assert.Equal(t, "signaling", spaceErr.Source)
		assert.EqualError(t, spaceErr.Err, "ice failed")
	case <-time.After(time.Second):
		t.Fatal("signaling error was not emitted")
	}
}
