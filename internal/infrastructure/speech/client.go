package speech

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"spacecast/pkg/circuitbreaker"
	apperrors "spacecast/pkg/errors"
	"spacecast/pkg/utils"

	"go.uber.org/zap"
)

const defaultBaseURL = "https://api.openai.com/v1"

// Config points the speech clients at an OpenAI-compatible API.
type Config struct {
	BaseURL         string
	APIKey          string
	STTModel        string
	TTSModel        string
	TTSVoice        string
	Timeout         time.Duration
	BreakerFailures int
	BreakerCooldown time.Duration
}

// base holds what every speech client shares: auth, HTTP client and a
// breaker guarding the upstream.
type base struct {
	service string
	cfg     Config
	http    *http.Client
	breaker *circuitbreaker.CircuitBreaker
	logger  *zap.SugaredLogger
}

func newBase(service string, cfg Config, logger *zap.Logger) base {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}

	breakerCfg := circuitbreaker.DefaultConfig()
	if cfg.BreakerFailures > 0 {
		breakerCfg.FailureThreshold = cfg.BreakerFailures
	}
	if cfg.BreakerCooldown > 0 {
		breakerCfg.Timeout = cfg.BreakerCooldown
	}

	sugar := logger.Sugar().With("component", "speech", "service", service)
	breaker := circuitbreaker.New(service, breakerCfg)
	breaker.OnStateChange(func(name string, from, to circuitbreaker.State) {
		sugar.Warnw("speech circuit breaker state changed", "from", from.String(), "to", to.String())
	})

	return base{
		service: service,
		cfg:     cfg,
		http:    &http.Client{Timeout: cfg.Timeout},
		breaker: breaker,
		logger:  sugar,
	}
}

func (b *base) endpoint(path string) string {
	return strings.TrimRight(b.cfg.BaseURL, "/") + path
}

// do sends req through the breaker and returns the response body of a 2xx.
func (b *base) do(ctx context.Context, req *http.Request) ([]byte, error) {
	req.Header.Set("Authorization", "Bearer "+b.cfg.APIKey)

	return circuitbreaker.Execute(ctx, b.breaker, func(ctx context.Context) ([]byte, error) {
		resp, err := b.http.Do(req)
		if err != nil {
			return nil, fmt.Errorf("%s request: %w", b.service, err)
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("%s read response: %w", b.service, err)
		}
		if resp.StatusCode != http.StatusOK {
			return nil, apperrors.NewExternalServiceError(b.service, resp.StatusCode, utils.TruncateString(strings.TrimSpace(string(body)), 512))
		}
		return body, nil
	})
}
