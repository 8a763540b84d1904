package janus

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"spacecast/internal/core/domain"
	"spacecast/internal/core/ports"
	apperrors "spacecast/pkg/errors"
	"spacecast/pkg/optimize"
	"spacecast/pkg/tracing"
	"spacecast/pkg/utils"

	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"
)

// roomExistsCode is the videoroom error code for a duplicate create.
const roomExistsCode = 427

const audioCodec = "pcmu"

// maxErrorBody caps how much of a failed response ends up in an error.
const maxErrorBody = 512

// Options tunes the client. Zero values fall back to DefaultOptions.
type Options struct {
	PollInterval     time.Duration
	EventTimeout     time.Duration
	JoinTimeout      time.Duration
	SubscribeTimeout time.Duration
	HTTPTimeout      time.Duration
	PortMin          uint16
	PortMax          uint16
	HTTPClient       *http.Client
	Metrics          ports.MetricsRecorder
}

// DefaultOptions returns the gateway timings used in production.
func DefaultOptions() Options {
	return Options{
		PollInterval:     500 * time.Millisecond,
		EventTimeout:     5 * time.Second,
		JoinTimeout:      12 * time.Second,
		SubscribeTimeout: 8 * time.Second,
		HTTPTimeout:      10 * time.Second,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.PollInterval <= 0 {
		o.PollInterval = d.PollInterval
	}
	if o.EventTimeout <= 0 {
		o.EventTimeout = d.EventTimeout
	}
	if o.JoinTimeout <= 0 {
		o.JoinTimeout = d.JoinTimeout
	}
	if o.SubscribeTimeout <= 0 {
		o.SubscribeTimeout = d.SubscribeTimeout
	}
	if o.HTTPTimeout <= 0 {
		o.HTTPTimeout = d.HTTPTimeout
	}
	if o.Metrics == nil {
		o.Metrics = ports.NopMetrics{}
	}
	return o
}

type subscriber struct {
	handleID int64
	feedID   int64
	pc       *webrtc.PeerConnection
}

// pendingSubscribe lets concurrent subscribers for one user share a single
// handshake.
type pendingSubscribe struct {
	done chan struct{}
	err  error
}

// Client speaks the videoroom protocol of a Janus gateway over HTTP
// long-polling and bridges audio between PCM and WebRTC.
type Client struct {
	params  ports.SignalingParams
	opts    Options
	http    *http.Client
	logger  *zap.SugaredLogger
	metrics ports.MetricsRecorder
	api     *webrtc.API
	apiErr  error
	bufPool *optimize.BytePool

	mu          sync.RWMutex
	sessionID   int64
	handleID    int64
	publisherID int64
	publisher   *peer
	subscribers map[string]*subscriber
	inflight    map[string]*pendingSubscribe
	publishers  map[int64]Publisher

	waiters waiterRegistry

	pollMu     sync.Mutex
	cancelPoll context.CancelFunc
	pollDone   chan struct{}

	trackMu    sync.Mutex
	track      *webrtc.TrackLocalStaticSample
	pendingOut []int16

	events   chan domain.SignalingEvent
	emitMu   sync.RWMutex
	closed   bool
	stopped  chan struct{}
	stopOnce sync.Once
	readers  sync.WaitGroup
}

// New creates a client for one broadcast.
func New(params ports.SignalingParams, opts Options, logger *zap.Logger) *Client {
	opts = opts.withDefaults()

	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: opts.HTTPTimeout}
	}

	c := &Client{
		params:      params,
		opts:        opts,
		http:        httpClient,
		logger:      logger.Sugar().With("component", "janus", "room_id", params.RoomID),
		metrics:     opts.Metrics,
		bufPool:     optimize.NewBytePool(rtpBufferSize),
		subscribers: make(map[string]*subscriber),
		inflight:    make(map[string]*pendingSubscribe),
		publishers:  make(map[int64]Publisher),
		events:      make(chan domain.SignalingEvent, 256),
		stopped:     make(chan struct{}),
	}
	c.api, c.apiErr = newAPI(opts)
	return c
}

// NewFactory adapts New to the orchestrator's factory signature.
func NewFactory(opts Options, logger *zap.Logger) ports.SignalingFactory {
	return func(params ports.SignalingParams) ports.SignalingClient {
		return New(params, opts, logger)
	}
}

func (c *Client) SessionID() int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sessionID
}

func (c *Client) HandleID() int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.handleID
}

func (c *Client) PublisherID() int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.publisherID
}

// Events delivers audio frames, subscription results and gateway errors.
// The channel is closed by Stop.
func (c *Client) Events() <-chan domain.SignalingEvent {
	return c.events
}

// Initialize creates the session, joins the room as publisher and
// completes the publish offer/answer exchange.
func (c *Client) Initialize(ctx context.Context) error {
	ctx, span := tracing.TraceSignaling(ctx, "initialize", c.params.RoomID)
	defer span.End()

	sessionID, err := c.createSession(ctx)
	if err != nil {
		tracing.RecordError(ctx, err)
		return err
	}
	c.mu.Lock()
	c.sessionID = sessionID
	c.mu.Unlock()

	handleID, err := c.attach(ctx)
	if err != nil {
		tracing.RecordError(ctx, err)
		return err
	}
	c.mu.Lock()
	c.handleID = handleID
	c.mu.Unlock()

	c.startPolling()

	if err := c.createRoom(ctx, handleID); err != nil {
		tracing.RecordError(ctx, err)
		return err
	}
	if err := c.joinAsPublisher(ctx, handleID); err != nil {
		tracing.RecordError(ctx, err)
		return err
	}
	if err := c.publish(ctx, handleID); err != nil {
		tracing.RecordError(ctx, err)
		return err
	}

	c.logger.Infow("joined room as publisher",
		"session_id", sessionID,
		"handle_id", handleID,
		"publisher_id", c.PublisherID(),
	)
	return nil
}

func (c *Client) createSession(ctx context.Context) (int64, error) {
	resp, err := c.post(ctx, "", request{Janus: typeCreate, Transaction: utils.GenerateTransactionID()})
	if err != nil {
		return 0, fmt.Errorf("create session: %w", err)
	}
	if resp.Janus != typeSuccess || resp.Data == nil {
		return 0, apperrors.NewProtocolError("create session: unexpected response " + resp.Janus)
	}
	return resp.Data.ID, nil
}

func (c *Client) attach(ctx context.Context) (int64, error) {
	path := fmt.Sprintf("/%d", c.SessionID())
	resp, err := c.post(ctx, path, request{
		Janus:       typeAttach,
		Transaction: utils.GenerateTransactionID(),
		Plugin:      videoRoomPlugin,
	})
	if err != nil {
		return 0, fmt.Errorf("attach %s: %w", videoRoomPlugin, err)
	}
	if resp.Janus != typeSuccess || resp.Data == nil {
		return 0, apperrors.NewProtocolError("attach: unexpected response " + resp.Janus)
	}
	return resp.Data.ID, nil
}

func (c *Client) detach(ctx context.Context, handleID int64) error {
	path := fmt.Sprintf("/%d/%d", c.SessionID(), handleID)
	_, err := c.post(ctx, path, request{Janus: "detach", Transaction: utils.GenerateTransactionID()})
	return err
}

// createRoom tolerates a room that already exists.
func (c *Client) createRoom(ctx context.Context, handleID int64) error {
	resp, err := c.sendJanusMessage(ctx, handleID, createRoomBody(c.params.RoomID, c.params.UserID, audioCodec), nil)
	if err != nil {
		err = fmt.Errorf("create room: %w", err)
		c.emit(domain.SignalingEvent{Kind: domain.SignalingError, Err: err})
		return err
	}

	vr := resp.VideoRoom()
	if vr == nil || vr.Error == "" {
		return nil
	}
	if vr.ErrorCode == roomExistsCode || strings.Contains(strings.ToLower(vr.Error), "already exists") {
		c.logger.Infow("room already exists, continuing", "error", vr.Error)
		return nil
	}

	err = apperrors.NewProtocolError(fmt.Sprintf("create room: %s", vr.Error)).
		WithContext("error_code", vr.ErrorCode)
	c.emit(domain.SignalingEvent{Kind: domain.SignalingError, Err: err})
	return err
}

func (c *Client) joinAsPublisher(ctx context.Context, handleID int64) error {
	w := c.waiters.expect(func(ev *Event) bool {
		vr := ev.VideoRoom()
		return ev.Janus == typeEvent && fromHandle(ev, handleID) && vr != nil && vr.VideoRoom == "joined"
	})

	if _, err := c.sendJanusMessage(ctx, handleID, joinPublisherBody(c.params.RoomID, c.params.UserID), nil); err != nil {
		c.waiters.remove(w)
		return fmt.Errorf("join as publisher: %w", err)
	}

	ev, err := c.waiters.await(ctx, w, c.opts.JoinTimeout, "publisher joined event")
	if err != nil {
		return err
	}

	vr := ev.VideoRoom()
	c.mu.Lock()
	c.publisherID = vr.ID
	c.mu.Unlock()
	return nil
}

// publish sends the configure offer and applies the gateway's answer.
func (c *Client) publish(ctx context.Context, handleID int64) error {
	pc, err := c.createPeerConnection("publisher")
	if err != nil {
		return err
	}
	p := &peer{pc: pc}
	c.mu.Lock()
	c.publisher = p
	c.mu.Unlock()

	track, err := c.localTrack()
	if err != nil {
		return err
	}
	sender, err := pc.AddTrack(track)
	if err != nil {
		return fmt.Errorf("add local track: %w", err)
	}
	c.readers.Add(1)
	go c.drainSenderRTCP(sender)

	offer, err := pc.CreateOffer(nil)
	if err != nil {
		return fmt.Errorf("create offer: %w", err)
	}
	sdp, err := setLocalAndGather(ctx, pc, offer)
	if err != nil {
		return err
	}

	w := c.waiters.expect(func(ev *Event) bool {
		return fromHandle(ev, handleID) && ev.JSEP != nil && ev.JSEP.Type == sdpAnswer
	})

	body := configureBody(c.params.RoomID, c.params.UserID, c.SessionID(), c.params.StreamName)
	resp, err := c.sendJanusMessage(ctx, handleID, body, &JSEP{Type: sdpOffer, SDP: sdp})
	if err != nil {
		c.waiters.remove(w)
		return fmt.Errorf("configure publisher: %w", err)
	}

	answer := resp.JSEP
	if answer == nil || answer.Type != sdpAnswer {
		ev, err := c.waiters.await(ctx, w, c.opts.EventTimeout, "publisher SDP answer")
		if err != nil {
			return err
		}
		answer = ev.JSEP
	} else {
		c.waiters.remove(w)
	}

	if err := p.applyAnswer(answer.SDP); err != nil {
		return fmt.Errorf("apply publisher answer: %w", err)
	}
	return nil
}

// SubscribeSpeaker attaches a subscriber handle for userID's feed and
// starts decoding its audio. Subscribing an already subscribed speaker
// re-announces the known feed; concurrent calls for one speaker share the
// first call's handshake.
func (c *Client) SubscribeSpeaker(ctx context.Context, userID string) error {
	ctx, span := tracing.TraceSignaling(ctx, "subscribe", c.params.RoomID)
	defer span.End()

	if c.SessionID() == 0 {
		return apperrors.NewPreconditionError(domain.ErrNotInitialized, "signaling session not created")
	}

	c.mu.Lock()
	if sub, ok := c.subscribers[userID]; ok {
		feedID := sub.feedID
		c.mu.Unlock()
		c.emit(domain.SignalingEvent{Kind: domain.SignalingSpeakerSubscribed, UserID: userID, FeedID: feedID})
		return nil
	}
	if p, ok := c.inflight[userID]; ok {
		c.mu.Unlock()
		select {
		case <-p.done:
			return p.err
		case <-ctx.Done():
			return ctx.Err()
		case <-c.stopped:
			return apperrors.NewPreconditionError(domain.ErrClientStopped, "signaling client stopped during subscribe")
		}
	}
	p := &pendingSubscribe{done: make(chan struct{})}
	c.inflight[userID] = p
	c.mu.Unlock()

	err := c.subscribe(ctx, userID)
	if err != nil {
		tracing.RecordError(ctx, err)
	}

	c.mu.Lock()
	delete(c.inflight, userID)
	p.err = err
	c.mu.Unlock()
	close(p.done)
	return err
}

func (c *Client) subscribe(ctx context.Context, userID string) error {
	handleID, err := c.attach(ctx)
	if err != nil {
		return err
	}

	feedID, err := c.findPublisher(ctx, userID)
	if err != nil {
		c.detachQuietly(handleID)
		return err
	}

	w := c.waiters.expect(func(ev *Event) bool {
		vr := ev.VideoRoom()
		return ev.Janus == typeEvent && fromHandle(ev, handleID) && vr != nil && vr.VideoRoom == "attached" &&
			ev.JSEP != nil && ev.JSEP.Type == sdpOffer
	})
	if _, err := c.sendJanusMessage(ctx, handleID, joinSubscriberBody(c.params.RoomID, c.params.UserID, feedID), nil); err != nil {
		c.waiters.remove(w)
		c.detachQuietly(handleID)
		return fmt.Errorf("join as subscriber: %w", err)
	}

	ev, err := c.waiters.await(ctx, w, c.opts.SubscribeTimeout, "subscriber attached offer for "+userID)
	if err != nil {
		c.detachQuietly(handleID)
		return err
	}

	pc, err := c.answerSubscriber(ctx, handleID, userID, ev.JSEP.SDP)
	if err != nil {
		c.detachQuietly(handleID)
		return err
	}

	select {
	case <-c.stopped:
		_ = pc.Close()
		return apperrors.NewPreconditionError(domain.ErrClientStopped, "signaling client stopped during subscribe")
	default:
	}

	c.mu.Lock()
	c.subscribers[userID] = &subscriber{handleID: handleID, feedID: feedID, pc: pc}
	c.mu.Unlock()
	tracing.AddSpanAttributes(ctx, tracing.UserIDKey.String(userID), tracing.FeedIDKey.Int64(feedID))

	c.logger.Infow("subscribed to speaker",
		"user_id", userID,
		"feed_id", feedID,
		"handle_id", handleID,
	)
	c.emit(domain.SignalingEvent{Kind: domain.SignalingSpeakerSubscribed, UserID: userID, FeedID: feedID})
	return nil
}

func (c *Client) answerSubscriber(ctx context.Context, handleID int64, userID, offerSDP string) (*webrtc.PeerConnection, error) {
	pc, err := c.createPeerConnection("subscriber:" + userID)
	if err != nil {
		return nil, err
	}
	pc.OnTrack(c.onRemoteTrack(userID))

	fail := func(err error) (*webrtc.PeerConnection, error) {
		_ = pc.Close()
		return nil, err
	}

	if err := pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: offerSDP}); err != nil {
		return fail(fmt.Errorf("apply subscriber offer: %w", err))
	}
	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		return fail(fmt.Errorf("create answer: %w", err))
	}
	sdp, err := setLocalAndGather(ctx, pc, answer)
	if err != nil {
		return fail(err)
	}

	if _, err := c.sendJanusMessage(ctx, handleID, startBody(c.params.RoomID, c.params.UserID), &JSEP{Type: sdpAnswer, SDP: sdp}); err != nil {
		return fail(fmt.Errorf("start subscriber: %w", err))
	}
	return pc, nil
}

// findPublisher resolves userID to a feed id, waiting for a publishers
// list when the feed has not been announced yet.
func (c *Client) findPublisher(ctx context.Context, userID string) (int64, error) {
	if feedID, ok := c.knownFeed(userID); ok {
		return feedID, nil
	}

	ev, err := c.waiters.waitFor(ctx, func(ev *Event) bool {
		vr := ev.VideoRoom()
		return vr != nil && matchPublisher(vr.Publishers, userID) != 0
	}, c.opts.SubscribeTimeout, "publisher list containing "+userID)
	if apperrors.HasCode(err, apperrors.ErrCodeTimeout) {
		return 0, apperrors.WrapError(domain.ErrPublisherNotFound, apperrors.ErrCodeTimeout, err.Error(), http.StatusGatewayTimeout)
	}
	if err != nil {
		return 0, err
	}
	return matchPublisher(ev.VideoRoom().Publishers, userID), nil
}

func (c *Client) knownFeed(userID string) (int64, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for id, p := range c.publishers {
		if p.Display == userID || p.PeriscopeUserID == userID {
			return id, true
		}
	}
	return 0, false
}

func matchPublisher(publishers []Publisher, userID string) int64 {
	for _, p := range publishers {
		if p.Display == userID || p.PeriscopeUserID == userID {
			return p.ID
		}
	}
	return 0
}

// UnsubscribeSpeaker tears down the subscriber handle for userID.
func (c *Client) UnsubscribeSpeaker(ctx context.Context, userID string) error {
	c.mu.Lock()
	sub, ok := c.subscribers[userID]
	delete(c.subscribers, userID)
	c.mu.Unlock()

	if !ok {
		return nil
	}

	if err := sub.pc.Close(); err != nil {
		c.logger.Warnw("failed to close subscriber peer connection", "user_id", userID, "error", err)
	}

	if _, err := c.sendJanusMessage(ctx, sub.handleID, map[string]interface{}{"request": "leave"}, nil); err != nil {
		return fmt.Errorf("leave subscriber handle: %w", err)
	}
	return c.detach(ctx, sub.handleID)
}

func (c *Client) detachQuietly(handleID int64) {
	ctx, cancel := context.WithTimeout(context.Background(), c.opts.HTTPTimeout)
	defer cancel()
	if err := c.detach(ctx, handleID); err != nil {
		c.logger.Debugw("failed to detach handle", "handle_id", handleID, "error", err)
	}
}

// DestroyRoom asks the gateway to destroy the room.
func (c *Client) DestroyRoom(ctx context.Context) error {
	handleID := c.HandleID()
	if handleID == 0 {
		return apperrors.NewPreconditionError(domain.ErrNotInitialized, "no publisher handle")
	}
	_, err := c.sendJanusMessage(ctx, handleID, roomRequestBody("destroy", c.params.RoomID, c.params.UserID), nil)
	return err
}

// LeaveRoom leaves the room with the publisher handle.
func (c *Client) LeaveRoom(ctx context.Context) error {
	handleID := c.HandleID()
	if handleID == 0 {
		return apperrors.NewPreconditionError(domain.ErrNotInitialized, "no publisher handle")
	}
	_, err := c.sendJanusMessage(ctx, handleID, roomRequestBody("leave", c.params.RoomID, c.params.UserID), nil)
	return err
}

// sendJanusMessage posts a plugin message on handleID.
func (c *Client) sendJanusMessage(ctx context.Context, handleID int64, body interface{}, jsep *JSEP) (*Event, error) {
	path := fmt.Sprintf("/%d/%d", c.SessionID(), handleID)
	return c.post(ctx, path, request{
		Janus:       typeMessage,
		Transaction: utils.GenerateTransactionID(),
		Body:        body,
		JSEP:        jsep,
	})
}

func (c *Client) post(ctx context.Context, path string, req request) (*Event, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal %s request: %w", req.Janus, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url(path), bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	c.setHeaders(httpReq)
	httpReq.Header.Set("Content-Type", "application/json")

	return c.do(httpReq, req.Janus)
}

func (c *Client) do(req *http.Request, op string) (*Event, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, apperrors.WrapTransportError(err, "janus "+op)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, apperrors.WrapTransportError(err, "read janus "+op+" response")
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, apperrors.NewTransportError(resp.StatusCode, utils.TruncateString(string(data), maxErrorBody))
	}

	var ev Event
	if err := json.Unmarshal(data, &ev); err != nil {
		return nil, apperrors.NewProtocolError("malformed gateway response: " + err.Error())
	}
	if ev.Janus == typeError {
		return nil, gatewayError(&ev)
	}
	return &ev, nil
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Authorization", c.params.Credential)
	req.Header.Set("Referer", "https://x.com")
}

func (c *Client) url(path string) string {
	return strings.TrimRight(c.params.GatewayURL, "/") + path
}

func gatewayError(ev *Event) error {
	if ev.Error == nil {
		return apperrors.NewProtocolError("gateway error")
	}
	return apperrors.NewProtocolError(fmt.Sprintf("gateway error %d: %s", ev.Error.Code, ev.Error.Reason)).
		WithContext("code", ev.Error.Code)
}

func fromHandle(ev *Event, handleID int64) bool {
	return ev.Sender == 0 || ev.Sender == handleID
}

// startPolling launches the poll loop once.
func (c *Client) startPolling() {
	c.pollMu.Lock()
	defer c.pollMu.Unlock()
	if c.cancelPoll != nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	c.cancelPoll = cancel
	c.pollDone = make(chan struct{})
	go c.pollLoop(ctx, c.pollDone)
}

func (c *Client) pollLoop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(c.opts.PollInterval)
	defer ticker.Stop()

	for {
		if err := c.pollOnce(ctx); err != nil && ctx.Err() == nil {
			c.logger.Warnw("gateway poll failed", "error", err)
			c.metrics.RecordPollError()
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (c *Client) pollOnce(ctx context.Context) error {
	path := fmt.Sprintf("/%d?maxev=1&_=%s", c.SessionID(), strconv.FormatInt(time.Now().UnixMilli(), 10))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url(path), nil)
	if err != nil {
		return err
	}
	c.setHeaders(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return apperrors.WrapTransportError(err, "janus poll")
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return apperrors.WrapTransportError(err, "read janus poll")
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return apperrors.NewTransportError(resp.StatusCode, utils.TruncateString(string(data), maxErrorBody))
	}

	events, err := decodeEvents(data)
	if err != nil {
		return err
	}
	for _, ev := range events {
		c.handleEvent(ev)
	}
	return nil
}

// decodeEvents accepts a single envelope or an array of them.
func decodeEvents(data []byte) ([]*Event, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, nil
	}
	if trimmed[0] == '[' {
		var events []*Event
		if err := json.Unmarshal(trimmed, &events); err != nil {
			return nil, apperrors.NewProtocolError("malformed poll response: " + err.Error())
		}
		return events, nil
	}
	var ev Event
	if err := json.Unmarshal(trimmed, &ev); err != nil {
		return nil, apperrors.NewProtocolError("malformed poll response: " + err.Error())
	}
	return []*Event{&ev}, nil
}

// handleEvent runs one polled event through waiter matching, answer
// application, publisher bookkeeping and error surfacing, in that order.
func (c *Client) handleEvent(ev *Event) {
	if ev.Janus == typeKeepalive {
		return
	}

	c.waiters.dispatch(ev)

	c.mu.RLock()
	handleID, pub := c.handleID, c.publisher
	c.mu.RUnlock()

	if ev.JSEP != nil && ev.JSEP.Type == sdpAnswer && pub != nil && fromHandle(ev, handleID) {
		if err := pub.applyAnswer(ev.JSEP.SDP); err != nil {
			c.logger.Warnw("failed to apply publisher answer", "error", err)
		}
	}

	if vr := ev.VideoRoom(); vr != nil {
		c.trackPublishers(ev, vr, handleID)
		if vr.Error != "" {
			c.emit(domain.SignalingEvent{
				Kind: domain.SignalingError,
				Err:  apperrors.NewProtocolError("videoroom error: " + vr.Error).WithContext("error_code", vr.ErrorCode),
			})
		}
	}

	if ev.Janus == typeError {
		c.emit(domain.SignalingEvent{Kind: domain.SignalingError, Err: gatewayError(ev)})
	}
}

func (c *Client) trackPublishers(ev *Event, vr *VideoRoomData, handleID int64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if vr.VideoRoom == "joined" && ev.Sender == handleID && vr.ID != 0 {
		c.publisherID = vr.ID
	}
	for _, p := range vr.Publishers {
		c.publishers[p.ID] = p
	}
	if id, ok := feedFromRaw(vr.Unpublished); ok {
		delete(c.publishers, id)
	}
	if id, ok := feedFromRaw(vr.Leaving); ok {
		delete(c.publishers, id)
	}
}

func (c *Client) emitAudio(frame domain.AudioFrame) {
	c.emitMu.RLock()
	defer c.emitMu.RUnlock()
	if c.closed {
		return
	}
	select {
	case c.events <- domain.SignalingEvent{Kind: domain.SignalingAudioData, Frame: frame, UserID: frame.UserID}:
	default:
		c.logger.Debugw("dropping audio frame, consumer behind", "user_id", frame.UserID)
	}
}

func (c *Client) emit(ev domain.SignalingEvent) {
	c.emitMu.RLock()
	defer c.emitMu.RUnlock()
	if c.closed {
		return
	}
	select {
	case c.events <- ev:
	case <-c.stopped:
	}
}

// Stop ends polling, closes every peer connection and closes Events.
func (c *Client) Stop() {
	c.stopOnce.Do(func() {
		close(c.stopped)

		c.pollMu.Lock()
		cancel, done := c.cancelPoll, c.pollDone
		c.pollMu.Unlock()
		if cancel != nil {
			cancel()
			<-done
		}
		c.waiters.shutdown()

		c.mu.Lock()
		pub := c.publisher
		subs := c.subscribers
		c.publisher = nil
		c.subscribers = make(map[string]*subscriber)
		c.mu.Unlock()

		if pub != nil {
			if err := pub.pc.Close(); err != nil {
				c.logger.Warnw("failed to close publisher peer connection", "error", err)
			}
		}
		for userID, sub := range subs {
			if err := sub.pc.Close(); err != nil {
				c.logger.Warnw("failed to close subscriber peer connection", "user_id", userID, "error", err)
			}
		}
		c.readers.Wait()

		c.emitMu.Lock()
		c.closed = true
		close(c.events)
		c.emitMu.Unlock()

		c.logger.Info("signaling client stopped")
	})
}
