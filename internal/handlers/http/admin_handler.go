package http

import (
	"context"
	"net/http"
	"sync"
	"time"

	"spacecast/internal/core/domain"
	"spacecast/internal/core/ports"
	"spacecast/internal/core/services"
	"spacecast/internal/infrastructure/middleware"
	"spacecast/internal/infrastructure/monitoring"
	"spacecast/pkg/errors"
	"spacecast/pkg/utils"
	"spacecast/pkg/validation"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Speaker plays synthesized text into the space.
type Speaker interface {
	SpeakText(ctx context.Context, text string) error
}

// AdminHandler exposes the operator API over a running space.
type AdminHandler struct {
	space        ports.SpaceController
	speaker      Speaker
	authService  services.AuthService
	health       *monitoring.HealthChecker
	logger       *zap.SugaredLogger
	startTime    time.Time
	speakTimeout time.Duration

	speaking sync.WaitGroup
}

// NewAdminHandler builds the handler. speaker may be nil when no
// conversation plugin is attached; /speak then answers 409.
func NewAdminHandler(
	space ports.SpaceController,
	speaker Speaker,
	authService services.AuthService,
	health *monitoring.HealthChecker,
	logger *zap.SugaredLogger,
) *AdminHandler {
	if health == nil {
		health = monitoring.NewHealthChecker()
	}
	return &AdminHandler{
		space:        space,
		speaker:      speaker,
		authService:  authService,
		health:       health,
		logger:       logger,
		startTime:    time.Now(),
		speakTimeout: 2 * time.Minute,
	}
}

func (h *AdminHandler) SetupRoutes(router *gin.Engine) {
	router.GET("/health", h.Health)
	router.GET("/ready", h.Ready)

	moderator := middleware.RequireRole(h.authService, services.RoleModerator)
	host := middleware.RequireRole(h.authService, services.RoleHost)

	api := router.Group("/api/v1")
	api.Use(middleware.AuthMiddleware(h.authService))
	{
		api.GET("/space", h.GetSpace)
		api.GET("/speakers", h.ListSpeakers)
		api.POST("/speakers/:user_id/approve", moderator, h.ApproveSpeaker)
		api.DELETE("/speakers/:user_id", moderator, h.RemoveSpeaker)
		api.POST("/reactions", moderator, h.React)
		api.POST("/speak", host, h.Speak)
	}
}

func (h *AdminHandler) Health(c *gin.Context) {
	status := h.health.CheckAll(c.Request.Context())
	code := http.StatusOK
	if status.Status != "healthy" {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, gin.H{
		"status":    status.Status,
		"timestamp": status.Timestamp,
		"uptime":    time.Since(h.startTime).String(),
		"checks":    status.Checks,
	})
}

func (h *AdminHandler) Ready(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	if !h.health.IsReady(ctx) || h.space.State() != domain.StateReady {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "not_ready",
			"state":  h.space.State().String(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

func (h *AdminHandler) GetSpace(c *gin.Context) {
	resp := gin.H{
		"state":    h.space.State().String(),
		"speakers": h.space.Speakers(),
	}
	if bs := h.space.Broadcast(); bs != nil {
		resp["broadcast"] = gin.H{
			"room_id":      bs.RoomID,
			"broadcast_id": bs.BroadcastID,
			"share_url":    bs.ShareURL,
		}
	}
	c.JSON(http.StatusOK, resp)
}

func (h *AdminHandler) ListSpeakers(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"speakers": h.space.Speakers()})
}

type ApproveSpeakerRequest struct {
	SessionUUID string `json:"session_uuid" binding:"required,max=64"`
}

func (h *AdminHandler) ApproveSpeaker(c *gin.Context) {
	userID := c.Param("user_id")
	if err := validation.ValidateUserID(userID); err != nil {
		c.Error(errors.NewInvalidInputError(err.Error()))
		return
	}

	var req ApproveSpeakerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(errors.NewInvalidInputError("invalid request format"))
		return
	}
	if err := validation.ValidateSessionUUID(req.SessionUUID); err != nil {
		c.Error(errors.NewInvalidInputError(err.Error()))
		return
	}

	if err := h.space.ApproveSpeaker(c.Request.Context(), userID, req.SessionUUID); err != nil {
		c.Error(err)
		return
	}

	h.logger.Infow("speaker approved via admin api",
		"user_id", userID,
		"operator", c.GetString("operator"),
	)
	c.JSON(http.StatusOK, gin.H{"user_id": userID, "status": "approved"})
}

func (h *AdminHandler) RemoveSpeaker(c *gin.Context) {
	userID := c.Param("user_id")
	if err := validation.ValidateUserID(userID); err != nil {
		c.Error(errors.NewInvalidInputError(err.Error()))
		return
	}

	if err := h.space.RemoveSpeaker(c.Request.Context(), userID); err != nil {
		c.Error(err)
		return
	}

	h.logger.Infow("speaker removed via admin api",
		"user_id", userID,
		"operator", c.GetString("operator"),
	)
	c.Status(http.StatusNoContent)
}

type ReactRequest struct {
	Emoji string `json:"emoji" binding:"required"`
}

func (h *AdminHandler) React(c *gin.Context) {
	var req ReactRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(errors.NewInvalidInputError("invalid request format"))
		return
	}
	if err := validation.ValidateEmoji(req.Emoji); err != nil {
		c.Error(errors.NewInvalidInputError(err.Error()))
		return
	}

	if err := h.space.React(req.Emoji); err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"emoji": req.Emoji})
}

type SpeakRequest struct {
	Text string `json:"text" binding:"required"`
}

// Speak queues text for synthesis and returns before playback ends.
// Playback outlives the request, so it runs on its own context.
func (h *AdminHandler) Speak(c *gin.Context) {
	if h.speaker == nil {
		c.Error(errors.NewPreconditionError(domain.ErrNotInitialized, "no conversation plugin attached"))
		return
	}

	var req SpeakRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(errors.NewInvalidInputError("invalid request format"))
		return
	}
	req.Text = utils.SanitizeString(req.Text)
	if err := validation.ValidateSpeakText(req.Text); err != nil {
		c.Error(errors.NewInvalidInputError(err.Error()))
		return
	}
	if state := h.space.State(); state != domain.StateReady {
		c.Error(errors.NewPreconditionError(domain.ErrNotInitialized, "speak requires a ready space, state is "+state.String()))
		return
	}

	operator := c.GetString("operator")
	h.speaking.Add(1)
	go func() {
		defer h.speaking.Done()
		ctx, cancel := context.WithTimeout(context.Background(), h.speakTimeout)
		defer cancel()
		if err := h.speaker.SpeakText(ctx, req.Text); err != nil {
			h.logger.Errorw("speak request failed", "operator", operator, "error", err)
		}
	}()

	c.JSON(http.StatusAccepted, gin.H{"status": "queued"})
}

// Wait blocks until queued speak requests finish.
func (h *AdminHandler) Wait() {
	h.speaking.Wait()
}
