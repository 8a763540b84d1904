package services

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"spacecast/internal/core/domain"
	"spacecast/internal/core/ports"
	apperrors "spacecast/pkg/errors"
	"spacecast/pkg/tracing"

	"github.com/pion/webrtc/v3"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// SpaceDeps are the collaborators a Space needs. Control may be nil when
// interactive mode is never used.
type SpaceDeps struct {
	Credentials ports.CredentialProvider
	API         ports.BroadcastAPI
	Signaling   ports.SignalingFactory
	Control     ports.ControlFactory
	Metrics     ports.MetricsRecorder

	// ReactionLimiter throttles React. Nil means unlimited.
	ReactionLimiter *rate.Limiter
	// TeardownTimeout bounds the remote calls made by Stop and by a failed
	// Initialize.
	TeardownTimeout time.Duration
	EventBuffer     int
}

// Space orchestrates one hosted audio room: the broadcast API, the
// signaling session, the optional control channel and the plugins.
type Space struct {
	deps     SpaceDeps
	logger   *zap.SugaredLogger
	registry *PluginRegistry
	hub      *EventHub

	mu        sync.RWMutex
	state     domain.SessionState
	opts      domain.SpaceOptions
	broadcast *domain.BroadcastSession
	cookie    string
	authToken string
	signaling ports.SignalingClient
	chat      ports.ControlChannel
	speakers  map[string]*domain.SpeakerInfo

	lifeCtx    context.Context
	lifeCancel context.CancelFunc
	pumps      sync.WaitGroup
	stopOnce   sync.Once
}

func NewSpace(deps SpaceDeps, logger *zap.Logger) *Space {
	if deps.Metrics == nil {
		deps.Metrics = ports.NopMetrics{}
	}
	if deps.TeardownTimeout <= 0 {
		deps.TeardownTimeout = 10 * time.Second
	}

	lifeCtx, cancel := context.WithCancel(context.Background())
	return &Space{
		deps:       deps,
		logger:     logger.Sugar().With("component", "space"),
		registry:   NewPluginRegistry(logger, deps.Metrics),
		hub:        NewEventHub(deps.EventBuffer, logger),
		state:      domain.StateUnconfigured,
		speakers:   make(map[string]*domain.SpeakerInfo),
		lifeCtx:    lifeCtx,
		lifeCancel: cancel,
	}
}

// Use attaches a plugin. It is legal in every state before Stopped.
func (s *Space) Use(plugin ports.Plugin, config map[string]interface{}) error {
	s.mu.RLock()
	stopped := s.state == domain.StateStopping || s.state == domain.StateStopped
	s.mu.RUnlock()
	if stopped {
		return apperrors.NewPreconditionError(domain.ErrSpaceStopped, "cannot attach plugin "+plugin.Name())
	}

	s.registry.Use(s, plugin, config)
	return nil
}

// Initialize brings the Space up: credentials, broadcast creation, the
// signaling session, publishing and, in interactive mode, the control
// channel. On failure everything acquired so far is released and the Space
// returns to Unconfigured.
func (s *Space) Initialize(ctx context.Context, opts domain.SpaceOptions) (*domain.BroadcastSession, error) {
	s.mu.Lock()
	switch s.state {
	case domain.StateUnconfigured:
	case domain.StateStopping, domain.StateStopped:
		s.mu.Unlock()
		return nil, apperrors.NewPreconditionError(domain.ErrSpaceStopped, "cannot initialize a stopped space")
	default:
		s.mu.Unlock()
		return nil, apperrors.NewPreconditionError(domain.ErrAlreadyInitialized, "initialize called in state "+s.state.String())
	}
	s.state = domain.StateInitializing
	s.opts = opts
	s.mu.Unlock()

	ctx, span := tracing.StartSpan(ctx, "space.initialize")
	defer span.End()
	start := time.Now()
	defer tracing.MeasureDuration(ctx, start, "space.initialize")

	if err := s.initialize(ctx, opts); err != nil {
		tracing.RecordError(ctx, err)
		s.logger.Errorw("initialize failed", "error", err)
		s.abortInitialize()
		return nil, err
	}

	s.mu.Lock()
	if s.state != domain.StateInitializing {
		s.mu.Unlock()
		s.abortInitialize()
		return nil, apperrors.NewPreconditionError(domain.ErrSpaceStopped, "space stopped during initialize")
	}
	s.state = domain.StateReady
	bs := *s.broadcast
	s.mu.Unlock()

	tracing.AddSpanAttributes(ctx,
		tracing.RoomIDKey.String(bs.RoomID),
		tracing.BroadcastIDKey.String(bs.BroadcastID),
	)
	tracing.SetSpanStatus(ctx, codes.Ok, "space ready")
	s.logger.Infow("space ready",
		"broadcast_id", bs.BroadcastID,
		"room_id", bs.RoomID,
		"mode", opts.Mode,
		"share_url", bs.ShareURL,
		"duration", time.Since(start),
	)

	s.registry.InitAll(s.lifeCtx, s)
	return &bs, nil
}

func (s *Space) initialize(ctx context.Context, opts domain.SpaceOptions) error {
	cookie, err := s.deps.Credentials.SessionCookie(ctx)
	if err != nil {
		return fmt.Errorf("session cookie: %w", err)
	}

	region, err := s.deps.API.GetRegion(ctx)
	if err != nil {
		return fmt.Errorf("get region: %w", err)
	}

	bs, err := s.deps.API.CreateBroadcast(ctx, cookie, region, opts)
	if err != nil {
		return fmt.Errorf("create broadcast: %w", err)
	}
	s.mu.Lock()
	s.cookie = cookie
	s.broadcast = bs
	s.mu.Unlock()

	authToken, err := s.deps.API.AuthorizeToken(ctx, cookie)
	if err != nil {
		return fmt.Errorf("authorize token: %w", err)
	}
	bs.AccessToken = authToken
	s.mu.Lock()
	s.authToken = authToken
	s.mu.Unlock()

	turn, err := s.deps.API.TurnServers(ctx, cookie)
	if err != nil {
		return fmt.Errorf("turn servers: %w", err)
	}

	sig := s.deps.Signaling(ports.SignalingParams{
		GatewayURL: bs.GatewayURL,
		Credential: bs.Credential,
		RoomID:     bs.RoomID,
		UserID:     bs.UserID,
		StreamName: bs.StreamName,
		ICEServers: iceServers(turn),
	})
	s.mu.Lock()
	s.signaling = sig
	s.mu.Unlock()

	// The pump must run before Initialize so errors raised while joining
	// are not stuck in the client's buffer.
	s.pumps.Add(1)
	go s.pumpSignaling(sig)

	if err := sig.Initialize(ctx); err != nil {
		return fmt.Errorf("signaling: %w", err)
	}

	if err := s.deps.API.PublishBroadcast(ctx, ports.PublishRequest{
		Cookie:      cookie,
		Broadcast:   bs,
		Title:       opts.Title,
		SessionID:   sig.SessionID(),
		HandleID:    sig.HandleID(),
		PublisherID: sig.PublisherID(),
	}); err != nil {
		return fmt.Errorf("publish broadcast: %w", err)
	}

	if opts.Mode == domain.SpaceModeInteractive {
		if s.deps.Control == nil {
			return apperrors.NewPreconditionError(domain.ErrChatUnavailable, "interactive mode needs a control channel")
		}
		chat := s.deps.Control(ports.ControlParams{
			Endpoint:    bs.ChatEndpoint,
			AccessToken: bs.ChatToken,
			RoomID:      bs.RoomID,
		})
		s.mu.Lock()
		s.chat = chat
		s.mu.Unlock()

		if err := chat.Connect(ctx); err != nil {
			return fmt.Errorf("control channel: %w", err)
		}
		s.pumps.Add(1)
		go s.pumpControl(chat)
	}

	return nil
}

// abortInitialize releases whatever a failed Initialize acquired.
func (s *Space) abortInitialize() {
	s.mu.Lock()
	chat, sig, bs, cookie := s.chat, s.signaling, s.broadcast, s.cookie
	s.mu.Unlock()

	if chat != nil {
		chat.Disconnect()
	}
	if sig != nil {
		sig.Stop()
	}
	s.pumps.Wait()

	if bs != nil {
		ctx, cancel := context.WithTimeout(context.Background(), s.deps.TeardownTimeout)
		if err := s.deps.API.EndBroadcast(ctx, cookie, bs.BroadcastID); err != nil {
			s.logger.Warnw("end broadcast after failed initialize", "broadcast_id", bs.BroadcastID, "error", err)
		}
		cancel()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.chat = nil
	s.signaling = nil
	s.broadcast = nil
	s.cookie = ""
	s.authToken = ""
	s.speakers = make(map[string]*domain.SpeakerInfo)
	if s.state == domain.StateInitializing {
		s.state = domain.StateUnconfigured
	}
}

func (s *Space) pumpSignaling(sig ports.SignalingClient) {
	defer s.pumps.Done()
	for {
		select {
		case <-s.lifeCtx.Done():
			return
		case ev, ok := <-sig.Events():
			if !ok {
				return
			}
			s.handleSignalingEvent(ev)
		}
	}
}

func (s *Space) handleSignalingEvent(ev domain.SignalingEvent) {
	switch ev.Kind {
	case domain.SignalingAudioData:
		s.handleAudioData(ev.Frame)
	case domain.SignalingSpeakerSubscribed:
		s.mu.Lock()
		if info, ok := s.speakers[ev.UserID]; ok {
			info.JanusParticipantID = ev.FeedID
			info.State = domain.SpeakerSubscribed
		}
		s.mu.Unlock()
		s.logger.Infow("speaker subscribed", "user_id", ev.UserID, "feed_id", ev.FeedID)
	case domain.SignalingError:
		s.logger.Warnw("signaling error", "error", ev.Err)
		s.hub.Publish(domain.SpaceError{Source: "signaling", Err: ev.Err})
	}
}

func (s *Space) handleAudioData(frame domain.AudioFrame) {
	s.deps.Metrics.RecordAudioFrame(frame.UserID)
	s.registry.FanOut(frame)
}

func (s *Space) pumpControl(chat ports.ControlChannel) {
	defer s.pumps.Done()
	for {
		select {
		case <-s.lifeCtx.Done():
			return
		case ev, ok := <-chat.Events():
			if !ok {
				return
			}
			if d, isDisconnect := ev.(domain.ChatDisconnected); isDisconnect {
				s.logger.Warnw("control channel disconnected", "reason", d.Reason)
			}
			s.hub.Publish(ev)
		}
	}
}

// ApproveSpeaker admits a speaker and subscribes to their audio. A failed
// approval forgets a new speaker and restores a known one; a failed
// subscription keeps them in SubscribeFailed. Approving a speaker whose
// handshake already completed for the same session is a no-op.
func (s *Space) ApproveSpeaker(ctx context.Context, userID, sessionUUID string) error {
	s.mu.Lock()
	if err := s.requireReadyLocked("approve speaker"); err != nil {
		s.mu.Unlock()
		return err
	}
	if s.authToken == "" {
		s.mu.Unlock()
		return apperrors.NewPreconditionError(domain.ErrNotInitialized, "approve speaker: auth token missing")
	}
	info := &domain.SpeakerInfo{UserID: userID, SessionUUID: sessionUUID, State: domain.SpeakerPending}
	prev, hadPrev := s.speakers[userID]
	if hadPrev {
		if prev.SessionUUID == sessionUUID && prev.State == domain.SpeakerSubscribed && prev.HandshakeComplete() {
			s.mu.Unlock()
			s.logger.Debugw("speaker already approved", "user_id", userID)
			return nil
		}
		// The signaling client keeps the subscription, so the feed stays valid.
		info.JanusParticipantID = prev.JanusParticipantID
	}
	s.speakers[userID] = info
	authToken, chatToken, sig := s.authToken, s.broadcast.ChatToken, s.signaling
	s.mu.Unlock()

	if err := s.deps.API.ApproveSpeaker(ctx, authToken, chatToken, sessionUUID); err != nil {
		s.mu.Lock()
		if s.speakers[userID] == info {
			if hadPrev {
				s.speakers[userID] = prev
			} else {
				delete(s.speakers, userID)
			}
		}
		s.mu.Unlock()
		return fmt.Errorf("approve speaker %s: %w", userID, err)
	}

	s.mu.Lock()
	if info.State == domain.SpeakerPending {
		info.State = domain.SpeakerApproved
	}
	s.mu.Unlock()

	if err := sig.SubscribeSpeaker(ctx, userID); err != nil {
		s.mu.Lock()
		info.State = domain.SpeakerSubscribeFailed
		s.mu.Unlock()
		return fmt.Errorf("subscribe speaker %s: %w", userID, err)
	}

	s.mu.Lock()
	info.State = domain.SpeakerSubscribed
	count := len(s.speakers)
	s.mu.Unlock()

	s.deps.Metrics.RecordSpeakerCount(count)
	s.logger.Infow("speaker approved", "user_id", userID)
	return nil
}

// RemoveSpeaker ejects a speaker whose handshake completed and drops their
// subscription.
func (s *Space) RemoveSpeaker(ctx context.Context, userID string) error {
	s.mu.Lock()
	if err := s.requireReadyLocked("remove speaker"); err != nil {
		s.mu.Unlock()
		return err
	}
	info, ok := s.speakers[userID]
	if !ok {
		s.mu.Unlock()
		return apperrors.NewPreconditionError(domain.ErrSpeakerNotFound, "remove speaker "+userID)
	}
	if !info.HandshakeComplete() {
		s.mu.Unlock()
		return apperrors.NewPreconditionError(domain.ErrHandshakeIncomplete,
			fmt.Sprintf("remove speaker %s: session uuid or participant id missing", userID))
	}
	sessionUUID := info.SessionUUID
	authToken, chatToken, sig := s.authToken, s.broadcast.ChatToken, s.signaling
	s.mu.Unlock()

	if err := s.deps.API.EjectSpeaker(ctx, authToken, chatToken, sessionUUID); err != nil {
		return fmt.Errorf("eject speaker %s: %w", userID, err)
	}

	s.mu.Lock()
	delete(s.speakers, userID)
	count := len(s.speakers)
	s.mu.Unlock()
	s.deps.Metrics.RecordSpeakerCount(count)

	if err := sig.UnsubscribeSpeaker(ctx, userID); err != nil {
		s.logger.Warnw("unsubscribe after eject failed", "user_id", userID, "error", err)
	}
	s.logger.Infow("speaker removed", "user_id", userID)
	return nil
}

// PushAudio publishes mono PCM to the room.
func (s *Space) PushAudio(samples []int16, sampleRate int) error {
	s.mu.RLock()
	err := s.requireReadyLocked("push audio")
	sig := s.signaling
	s.mu.RUnlock()
	if err != nil {
		return err
	}
	return sig.PushLocalAudio(samples, sampleRate, 1)
}

// React sends an emoji reaction over the control channel.
func (s *Space) React(emoji string) error {
	s.mu.RLock()
	err := s.requireReadyLocked("react")
	chat := s.chat
	s.mu.RUnlock()
	if err != nil {
		return err
	}
	if chat == nil {
		return apperrors.NewPreconditionError(domain.ErrChatUnavailable, "react")
	}
	if s.deps.ReactionLimiter != nil && !s.deps.ReactionLimiter.Allow() {
		return apperrors.NewAppError(apperrors.ErrCodeRateLimit, "reaction rate exceeded", http.StatusTooManyRequests)
	}
	return chat.ReactWithEmoji(emoji)
}

// requireReadyLocked must be called with s.mu held.
func (s *Space) requireReadyLocked(op string) error {
	switch s.state {
	case domain.StateReady:
	case domain.StateStopping, domain.StateStopped:
		return apperrors.NewPreconditionError(domain.ErrSpaceStopped, op)
	default:
		return apperrors.NewPreconditionError(domain.ErrNotInitialized, op+" requires a ready space")
	}
	if s.broadcast == nil {
		return apperrors.NewPreconditionError(domain.ErrNotInitialized, op+": broadcast info missing")
	}
	return nil
}

func (s *Space) State() domain.SessionState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Broadcast returns a copy of the broadcast descriptor, or nil before
// Initialize succeeds.
func (s *Space) Broadcast() *domain.BroadcastSession {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.broadcast == nil || s.state != domain.StateReady {
		return nil
	}
	bs := *s.broadcast
	return &bs
}

// Speakers returns a snapshot ordered by user id.
func (s *Space) Speakers() []domain.SpeakerInfo {
	s.mu.RLock()
	out := make([]domain.SpeakerInfo, 0, len(s.speakers))
	for _, info := range s.speakers {
		out = append(out, *info)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out
}

func (s *Space) Subscribe() (<-chan domain.Event, func()) {
	return s.hub.Subscribe()
}

func (s *Space) Emit(event domain.Event) {
	s.hub.Publish(event)
}

// Stop tears the Space down. It is safe to call more than once and never
// returns an error; remote failures are logged.
func (s *Space) Stop(ctx context.Context) {
	s.stopOnce.Do(func() {
		s.stop(ctx)
	})
}

func (s *Space) stop(ctx context.Context) {
	s.mu.Lock()
	prev := s.state
	s.state = domain.StateStopping
	sig, chat := s.signaling, s.chat
	s.mu.Unlock()

	s.logger.Infow("stopping space", "from", prev.String())

	if prev == domain.StateReady {
		s.finalizeSpace(ctx)
	}

	if chat != nil {
		chat.Disconnect()
	}
	if sig != nil {
		sig.Stop()
	}
	s.lifeCancel()
	s.pumps.Wait()

	s.registry.CleanupAll()
	s.hub.Close()

	s.mu.Lock()
	s.state = domain.StateStopped
	s.speakers = make(map[string]*domain.SpeakerInfo)
	s.mu.Unlock()
	s.deps.Metrics.RecordSpeakerCount(0)

	s.logger.Info("space stopped")
}

// finalizeSpace runs the remote teardown calls in parallel and waits for
// all of them.
func (s *Space) finalizeSpace(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, s.deps.TeardownTimeout)
	defer cancel()

	s.mu.RLock()
	sig, bs, cookie := s.signaling, s.broadcast, s.cookie
	s.mu.RUnlock()

	var wg sync.WaitGroup
	run := func(name string, fn func(ctx context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					s.logger.Errorw("teardown step panicked", "step", name, "panic", r)
				}
			}()
			if err := fn(ctx); err != nil {
				s.logger.Warnw("teardown step failed", "step", name, "error", err)
				return
			}
			s.logger.Debugw("teardown step done", "step", name)
		}()
	}

	if sig != nil {
		run("destroy_room", sig.DestroyRoom)
		run("leave_room", sig.LeaveRoom)
	}
	if bs != nil {
		run("end_broadcast", func(ctx context.Context) error {
			return s.deps.API.EndBroadcast(ctx, cookie, bs.BroadcastID)
		})
	}
	wg.Wait()
}

func iceServers(turn *domain.TurnServers) []webrtc.ICEServer {
	if turn == nil || len(turn.URIs) == 0 {
		return nil
	}
	return []webrtc.ICEServer{{
		URLs:       turn.URIs,
		Username:   turn.Username,
		Credential: turn.Password,
	}}
}
