package broadcast

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
	"spacecast/pkg/retry"
	"spacecast/pkg/tracing"
	"spacecast/pkg/utils"

	"go.uber.org/zap"
)

// ntpEpochOffset is the NTP timestamp the guest API expects for frame
// alignment fields.
const ntpEpochOffset = "2208988800024000000"

const maxErrorBody = 512

// Config holds the broadcast API endpoints.
type Config struct {
	ProxseeURL    string
	SignerURL     string
	GuestURL      string
	HTTPTimeout   time.Duration
	RetryAttempts int
}

// Client calls the REST endpoints that create, publish and end broadcasts
// and manage guest speakers.
type Client struct {
	cfg    Config
	http   *http.Client
	creds  ports.CredentialProvider
	logger *zap.SugaredLogger
	retry  retry.Config

	bearerOnce sync.Once
	bearer     string
}

// NewClient creates a broadcast API client. creds supplies the optional
// bearer token sent on proxsee calls.
func NewClient(cfg Config, creds ports.CredentialProvider, logger *zap.Logger) *Client {
	if cfg.HTTPTimeout <= 0 {
		cfg.HTTPTimeout = 15 * time.Second
	}

	retryCfg := retry.DefaultConfig()
	retryCfg.MaxAttempts = cfg.RetryAttempts
	retryCfg.Enabled = cfg.RetryAttempts > 0
	retryCfg.ShouldRetry = isRetryable

	return &Client{
		cfg:    cfg,
		http:   &http.Client{Timeout: cfg.HTTPTimeout},
		creds:  creds,
		logger: logger.Sugar().With("component", "broadcast_api"),
		retry:  retryCfg,
	}
}

// isRetryable retries network failures and 5xx responses only.
func isRetryable(err error) bool {
	appErr := apperrors.GetAppError(err)
	if appErr == nil || appErr.Code != apperrors.ErrCodeTransport {
		return false
	}
	status, ok := appErr.Context["status"].(int)
	return !ok || status >= 500
}

type regionResponse struct {
	Region string `json:"region"`
}

// GetRegion asks the signer which media region to use.
func (c *Client) GetRegion(ctx context.Context) (string, error) {
	return retry.RetryWithResult(ctx, c.retry, func() (string, error) {
		var resp regionResponse
		if err := c.post(ctx, "region", c.cfg.SignerURL+"/region", nil, struct{}{}, &resp); err != nil {
			return "", err
		}
		return resp.Region, nil
	})
}

type createBroadcastRequest struct {
	AppComponent                string   `json:"app_component"`
	ContentType                 string   `json:"content_type"`
	Cookie                      string   `json:"cookie"`
	ConversationControls        int      `json:"conversation_controls"`
	Description                 string   `json:"description"`
	Height                      int      `json:"height"`
	Is360                       bool     `json:"is_360"`
	IsSpaceAvailableForClipping bool     `json:"is_space_available_for_clipping"`
	IsWebRTC                    bool     `json:"is_webrtc"`
	Languages                   []string `json:"languages"`
	Region                      string   `json:"region"`
	Width                       int      `json:"width"`
}

type createBroadcastResponse struct {
	RoomID      string `json:"room_id"`
	Credential  string `json:"credential"`
	StreamName  string `json:"stream_name"`
	GatewayURL  string `json:"webrtc_gw_url"`
	AccessToken string `json:"access_token"`
	Endpoint    string `json:"endpoint"`
	ShareURL    string `json:"share_url"`
	Broadcast   struct {
		ID       string `json:"id"`
		UserID   string `json:"user_id"`
		MediaKey string `json:"media_key"`
	} `json:"broadcast"`
}

// CreateBroadcast creates the room. The returned session carries the
// chat token in ChatToken; AccessToken is filled in later by the caller.
func (c *Client) CreateBroadcast(ctx context.Context, cookie, region string, opts domain.SpaceOptions) (*domain.BroadcastSession, error) {
	languages := opts.Languages
	if len(languages) == 0 {
		languages = []string{"en"}
	}

	req := createBroadcastRequest{
		AppComponent: "audio-room",
		ContentType:  "visual_audio",
		Cookie:       cookie,
		Description:  opts.Description,
		Height:       1080,
		IsWebRTC:     true,
		Languages:    languages,
		Region:       region,
		Width:        1920,
	}

	var resp createBroadcastResponse
	if err := c.post(ctx, "createBroadcast", c.cfg.ProxseeURL+"/api/v2/createBroadcast", c.proxseeHeaders(ctx), req, &resp); err != nil {
		return nil, err
	}
	if resp.RoomID == "" || resp.GatewayURL == "" {
		return nil, apperrors.NewProtocolError("createBroadcast: response missing room or gateway")
	}

	return &domain.BroadcastSession{
		BroadcastID:  resp.Broadcast.ID,
		RoomID:       resp.RoomID,
		MediaKey:     resp.Broadcast.MediaKey,
		StreamName:   resp.StreamName,
		UserID:       resp.Broadcast.UserID,
		ShareURL:     resp.ShareURL,
		Credential:   resp.Credential,
		ChatToken:    resp.AccessToken,
		GatewayURL:   resp.GatewayURL,
		ChatEndpoint: resp.Endpoint,
	}, nil
}

type authorizeTokenResponse struct {
	AuthorizationToken string `json:"authorization_token"`
}

// AuthorizeToken exchanges the cookie for a guest-service token.
func (c *Client) AuthorizeToken(ctx context.Context, cookie string) (string, error) {
	headers := c.proxseeHeaders(ctx)
	headers["X-Attempt"] = "1"
	headers["X-Idempotence"] = strconv.FormatInt(time.Now().UnixMilli(), 10)

	var resp authorizeTokenResponse
	body := map[string]string{"service": "guest", "cookie": cookie}
	if err := c.post(ctx, "authorizeToken", c.cfg.ProxseeURL+"/api/v2/authorizeToken", headers, body, &resp); err != nil {
		return "", err
	}
	if resp.AuthorizationToken == "" {
		return "", apperrors.NewProtocolError("authorizeToken: empty token")
	}
	return resp.AuthorizationToken, nil
}

// TurnServers fetches short-lived TURN credentials.
func (c *Client) TurnServers(ctx context.Context, cookie string) (*domain.TurnServers, error) {
	return retry.RetryWithResult(ctx, c.retry, func() (*domain.TurnServers, error) {
		var resp domain.TurnServers
		body := map[string]string{"cookie": cookie}
		if err := c.post(ctx, "turnServers", c.cfg.ProxseeURL+"/api/v2/turnServers", c.proxseeHeaders(ctx), body, &resp); err != nil {
			return nil, err
		}
		return &resp, nil
	})
}

// PublishBroadcast marks the broadcast live with its signaling identifiers.
func (c *Client) PublishBroadcast(ctx context.Context, req ports.PublishRequest) error {
	if req.Broadcast == nil {
		return apperrors.NewInvalidInputError("publishBroadcast: broadcast is required")
	}
	body := map[string]interface{}{
		"accept_guests":      true,
		"broadcast_id":       req.Broadcast.BroadcastID,
		"webrtc_handle_id":   req.HandleID,
		"webrtc_session_id":  req.SessionID,
		"janus_room_id":      req.Broadcast.RoomID,
		"janus_publisher_id": req.PublisherID,
		"janus_url":          req.Broadcast.GatewayURL,
		"cookie":             req.Cookie,
		"status":             req.Title,
		"is_360":             false,
		"is_webrtc":          true,
		"has_location":       false,
		"lock":               []string{},
		"locale":             "en",
	}
	return c.post(ctx, "publishBroadcast", c.cfg.ProxseeURL+"/api/v2/publishBroadcast", c.proxseeHeaders(ctx), body, nil)
}

// ApproveSpeaker admits a guest who asked to speak.
func (c *Client) ApproveSpeaker(ctx context.Context, authToken, chatToken, sessionUUID string) error {
	body := map[string]string{
		"ntpForBroadcasterFrame": ntpEpochOffset,
		"ntpForLiveFrame":        ntpEpochOffset,
		"chat_token":             chatToken,
		"session_uuid":           sessionUUID,
	}
	return c.post(ctx, "approve", c.cfg.GuestURL+"/api/v1/audiospace/request/approve", guestHeaders(authToken), body, nil)
}

// EjectSpeaker removes a guest from the stage.
func (c *Client) EjectSpeaker(ctx context.Context, authToken, chatToken, sessionUUID string) error {
	body := map[string]string{
		"chat_token":   chatToken,
		"session_uuid": sessionUUID,
	}
	return c.post(ctx, "eject", c.cfg.GuestURL+"/api/v1/audiospace/stream/eject", guestHeaders(authToken), body, nil)
}

// EndBroadcast ends the broadcast on the server side.
func (c *Client) EndBroadcast(ctx context.Context, cookie, broadcastID string) error {
	body := map[string]string{"broadcast_id": broadcastID, "cookie": cookie}
	return c.post(ctx, "endBroadcast", c.cfg.ProxseeURL+"/api/v2/endBroadcast", c.proxseeHeaders(ctx), body, nil)
}

func guestHeaders(authToken string) map[string]string {
	return map[string]string{"Authorization": authToken}
}

func (c *Client) proxseeHeaders(ctx context.Context) map[string]string {
	headers := map[string]string{"X-Periscope-User-Agent": "Twitter/m5"}
	if bearer := c.bearerToken(ctx); bearer != "" {
		headers["Authorization"] = "Bearer " + bearer
	}
	return headers
}

func (c *Client) bearerToken(ctx context.Context) string {
	if c.creds == nil {
		return ""
	}
	c.bearerOnce.Do(func() {
		token, err := c.creds.BearerToken(ctx)
		if err != nil {
			c.logger.Warnw("bearer token unavailable", "error", err)
			return
		}
		c.bearer = token
	})
	return c.bearer
}

// post sends body as JSON and decodes the response into out when non-nil.
func (c *Client) post(ctx context.Context, op, url string, headers map[string]string, body, out interface{}) error {
	ctx, span := tracing.TraceBroadcastCall(ctx, op)
	defer span.End()

	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal %s request: %w", op, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		tracing.RecordError(ctx, err)
		return apperrors.WrapTransportError(err, op)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return apperrors.WrapTransportError(err, "read "+op+" response")
	}
	tracing.MeasureDuration(ctx, start, op)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		err := apperrors.NewTransportError(resp.StatusCode, utils.TruncateString(strings.TrimSpace(string(data)), maxErrorBody)).WithContext("operation", op)
		tracing.RecordError(ctx, err)
		c.logger.Warnw("broadcast API call failed",
			"operation", op,
			"status", resp.StatusCode,
		)
		return err
	}

	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return apperrors.NewProtocolError(fmt.Sprintf("decode %s response: %v", op, err))
	}
	return nil
}
