// Package conversation turns a speaker's utterance into a spoken reply:
// buffered speech is transcribed, answered by a completion model and
// synthesized back into the room.
package conversation

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"spacecast/internal/core/domain"
	"spacecast/internal/core/ports"
	"spacecast/pkg/audio"
	apperrors "spacecast/pkg/errors"
	"spacecast/pkg/tracing"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

const Name = "conversation"

type Config struct {
	SystemPrompt      string
	CompletionModel   string
	Language          string
	SilenceThreshold  int
	FrameSize         int
	FrameDelay        time.Duration
	PublishSampleRate int
	MaxHistory        int
}

func DefaultConfig() Config {
	return Config{
		SystemPrompt:      "You are a helpful co-host in a live audio room. Keep answers short.",
		CompletionModel:   "gpt-4o-mini",
		Language:          "en",
		SilenceThreshold:  50,
		FrameSize:         480,
		FrameDelay:        10 * time.Millisecond,
		PublishSampleRate: 48000,
		MaxHistory:        20,
	}
}

// Deps are the external speech services the pipeline calls.
type Deps struct {
	Transcriber ports.Transcriber
	Completer   ports.Completer
	Synthesizer ports.Synthesizer
	Metrics     ports.MetricsRecorder
	// OnPlayback, when set, runs after every frame pushed to the room.
	OnPlayback func()
}

// speakerBuffer holds one speaker's pending utterance. Appends and drains
// are serialized by mu.
type speakerBuffer struct {
	mu         sync.Mutex
	unmuted    bool
	frames     [][]int16
	sampleRate int
}

type Plugin struct {
	cfg    Config
	deps   Deps
	logger *zap.SugaredLogger

	space       ports.Space
	ctx         context.Context
	cancel      context.CancelFunc
	unsubscribe func()
	listener    sync.WaitGroup
	runs        sync.WaitGroup

	buffersMu sync.Mutex
	buffers   map[string]*speakerBuffer

	histMu       sync.Mutex
	systemPrompt string
	model        string
	history      []domain.ChatMessage

	// playMu keeps two replies from interleaving on the publish track.
	playMu sync.Mutex
}

func New(cfg Config, deps Deps, logger *zap.Logger) *Plugin {
	if deps.Metrics == nil {
		deps.Metrics = ports.NopMetrics{}
	}
	defaults := DefaultConfig()
	if cfg.FrameSize <= 0 {
		cfg.FrameSize = defaults.FrameSize
	}
	if cfg.PublishSampleRate <= 0 {
		cfg.PublishSampleRate = defaults.PublishSampleRate
	}
	if cfg.MaxHistory <= 0 {
		cfg.MaxHistory = defaults.MaxHistory
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Plugin{
		cfg:          cfg,
		deps:         deps,
		logger:       logger.Sugar().With("plugin", Name),
		ctx:          ctx,
		cancel:       cancel,
		buffers:      make(map[string]*speakerBuffer),
		systemPrompt: cfg.SystemPrompt,
		model:        cfg.CompletionModel,
	}
}

func (p *Plugin) Name() string { return Name }

func (p *Plugin) OnAttach(space ports.Space) {
	p.logger.Debug("attached")
}

// Init subscribes to mute transitions. Recognised config keys override the
// constructor values: system_prompt, completion_model, language.
func (p *Plugin) Init(ctx context.Context, params ports.PluginParams) error {
	p.histMu.Lock()
	if v, ok := params.Config["system_prompt"].(string); ok && v != "" {
		p.systemPrompt = v
	}
	if v, ok := params.Config["completion_model"].(string); ok && v != "" {
		p.model = v
	}
	if v, ok := params.Config["language"].(string); ok && v != "" {
		p.cfg.Language = v
	}
	p.histMu.Unlock()

	events, unsubscribe := params.Space.Subscribe()
	p.histMu.Lock()
	p.space = params.Space
	p.histMu.Unlock()
	p.unsubscribe = unsubscribe

	p.listener.Add(1)
	go p.listen(events)

	p.logger.Infow("initialized",
		"model", p.model,
		"language", p.cfg.Language,
		"silence_threshold", p.cfg.SilenceThreshold,
	)
	return nil
}

func (p *Plugin) listen(events <-chan domain.Event) {
	defer p.listener.Done()
	for {
		select {
		case <-p.ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if m, isMute := ev.(domain.MuteStateChanged); isMute {
				p.HandleMute(m.UserID, m.Muted)
			}
		}
	}
}

// OnAudioData buffers frames from unmuted speakers that clear the silence
// threshold.
func (p *Plugin) OnAudioData(frame domain.AudioFrame) {
	p.buffersMu.Lock()
	buf, ok := p.buffers[frame.UserID]
	p.buffersMu.Unlock()
	if !ok {
		return
	}

	buf.mu.Lock()
	defer buf.mu.Unlock()
	if !buf.unmuted {
		return
	}
	if audio.Peak(frame.Samples) < p.cfg.SilenceThreshold {
		return
	}

	mono := audio.ToMono(frame.Samples, frame.Channels)
	buf.frames = append(buf.frames, append([]int16(nil), mono...))
	buf.sampleRate = frame.SampleRate
}

// HandleMute applies a mute transition. Muting drains the speaker's buffer
// and, when it held speech, starts a pipeline run.
func (p *Plugin) HandleMute(userID string, muted bool) {
	p.buffersMu.Lock()
	buf, ok := p.buffers[userID]
	if !ok {
		buf = &speakerBuffer{}
		p.buffers[userID] = buf
	}
	p.buffersMu.Unlock()

	buf.mu.Lock()
	if !muted {
		buf.unmuted = true
		buf.mu.Unlock()
		p.logger.Debugw("speaker unmuted", "user_id", userID)
		return
	}
	buf.unmuted = false
	frames, rate := buf.frames, buf.sampleRate
	buf.frames = nil
	buf.mu.Unlock()

	if len(frames) == 0 {
		p.logger.Debugw("speaker muted with empty buffer", "user_id", userID)
		return
	}

	select {
	case <-p.ctx.Done():
		return
	default:
	}

	p.runs.Add(1)
	go func() {
		defer p.runs.Done()
		p.run(userID, frames, rate)
	}()
}

func (p *Plugin) run(userID string, frames [][]int16, sampleRate int) {
	ctx, span := tracing.TracePipeline(p.ctx, "run", userID)
	defer span.End()
	start := time.Now()

	samples := audio.Concat(frames)
	tracing.AddSpanAttributes(ctx, attribute.Int("pipeline.samples", len(samples)))

	transcript, err := p.transcribe(ctx, userID, samples, sampleRate)
	if err != nil {
		p.fail(ctx, userID, "transcribe", err)
		return
	}
	if transcript == "" {
		p.logger.Debugw("empty transcript", "user_id", userID)
		return
	}
	p.logger.Infow("transcribed", "user_id", userID, "text", transcript)

	reply, err := p.complete(ctx, userID, transcript)
	if err != nil {
		p.fail(ctx, userID, "complete", err)
		return
	}

	if err := p.speak(ctx, userID, reply); err != nil {
		p.fail(ctx, userID, "synthesize", err)
		return
	}

	p.logger.Infow("pipeline run complete",
		"user_id", userID,
		"duration", time.Since(start),
	)
}

func (p *Plugin) transcribe(ctx context.Context, userID string, samples []int16, sampleRate int) (string, error) {
	ctx, span := tracing.TracePipeline(ctx, "transcribe", userID)
	defer span.End()

	wav := audio.EncodeWAV(samples, sampleRate, 1)
	text, err := p.deps.Transcriber.Transcribe(ctx, wav, p.cfg.Language)
	p.deps.Metrics.RecordPipelineRun("transcribe", err)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(text), nil
}

func (p *Plugin) complete(ctx context.Context, userID, transcript string) (string, error) {
	ctx, span := tracing.TracePipeline(ctx, "complete", userID)
	defer span.End()

	p.histMu.Lock()
	model := p.model
	messages := make([]domain.ChatMessage, 0, len(p.history)+2)
	messages = append(messages, domain.ChatMessage{Role: domain.RoleSystem, Content: p.systemPrompt})
	messages = append(messages, p.history...)
	messages = append(messages, domain.ChatMessage{Role: domain.RoleUser, Content: transcript})
	p.histMu.Unlock()

	reply, err := p.deps.Completer.Complete(ctx, model, messages)
	p.deps.Metrics.RecordPipelineRun("complete", err)
	if err != nil {
		return "", err
	}

	p.AddMessage(domain.RoleUser, transcript)
	p.AddMessage(domain.RoleAssistant, reply)
	return reply, nil
}

// SpeakText synthesizes text and plays it into the room without a
// transcription step.
func (p *Plugin) SpeakText(ctx context.Context, text string) error {
	if p.currentSpace() == nil {
		return apperrors.NewPreconditionError(domain.ErrNotInitialized, "speak text before plugin init")
	}
	if strings.TrimSpace(text) == "" {
		return apperrors.NewInvalidInputError("text is empty")
	}

	ctx, cancel := mergeCancel(ctx, p.ctx)
	defer cancel()
	return p.speak(ctx, "", text)
}

func (p *Plugin) speak(ctx context.Context, userID, text string) error {
	ctx, span := tracing.TracePipeline(ctx, "synthesize", userID)
	defer span.End()

	wav, err := p.deps.Synthesizer.Synthesize(ctx, text)
	p.deps.Metrics.RecordPipelineRun("synthesize", err)
	if err != nil {
		return err
	}

	clip, err := audio.DecodeWAV(wav)
	if err != nil {
		return fmt.Errorf("decode synthesized audio: %w", err)
	}
	pcm := audio.Resample(audio.ToMono(clip.Samples, clip.Channels), clip.SampleRate, p.cfg.PublishSampleRate)
	return p.play(ctx, pcm)
}

// play pushes pcm to the room in fixed-size frames at a fixed cadence.
func (p *Plugin) play(ctx context.Context, pcm []int16) error {
	p.playMu.Lock()
	defer p.playMu.Unlock()

	space := p.currentSpace()
	frames := audio.SplitFrames(pcm, p.cfg.FrameSize)
	for i, frame := range frames {
		if err := space.PushAudio(frame, p.cfg.PublishSampleRate); err != nil {
			return fmt.Errorf("push frame %d/%d: %w", i+1, len(frames), err)
		}
		if p.deps.OnPlayback != nil {
			p.deps.OnPlayback()
		}
		if p.cfg.FrameDelay <= 0 {
			continue
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(p.cfg.FrameDelay):
		}
	}
	return nil
}

func (p *Plugin) currentSpace() ports.Space {
	p.histMu.Lock()
	defer p.histMu.Unlock()
	return p.space
}

func (p *Plugin) fail(ctx context.Context, userID, stage string, err error) {
	tracing.RecordError(ctx, err)
	p.logger.Errorw("pipeline run aborted",
		"user_id", userID,
		"stage", stage,
		"error", err,
	)
}

func (p *Plugin) SetSystemPrompt(prompt string) {
	p.histMu.Lock()
	p.systemPrompt = prompt
	p.histMu.Unlock()
}

func (p *Plugin) SetCompletionModel(model string) {
	p.histMu.Lock()
	p.model = model
	p.histMu.Unlock()
}

// AddMessage appends a turn, dropping the oldest turns past MaxHistory.
func (p *Plugin) AddMessage(role domain.Role, content string) {
	p.histMu.Lock()
	defer p.histMu.Unlock()
	p.history = append(p.history, domain.ChatMessage{Role: role, Content: content})
	if over := len(p.history) - p.cfg.MaxHistory; over > 0 {
		p.history = append(p.history[:0], p.history[over:]...)
	}
}

func (p *Plugin) ClearHistory() {
	p.histMu.Lock()
	p.history = nil
	p.histMu.Unlock()
}

func (p *Plugin) History() []domain.ChatMessage {
	p.histMu.Lock()
	defer p.histMu.Unlock()
	return append([]domain.ChatMessage(nil), p.history...)
}

// Cleanup cancels in-flight runs and waits for them to return.
func (p *Plugin) Cleanup() error {
	p.cancel()
	if p.unsubscribe != nil {
		p.unsubscribe()
	}
	p.listener.Wait()
	p.runs.Wait()

	p.buffersMu.Lock()
	p.buffers = make(map[string]*speakerBuffer)
	p.buffersMu.Unlock()
	return nil
}

// mergeCancel returns a context derived from ctx that is also cancelled
// when other is done.
func mergeCancel(ctx, other context.Context) (context.Context, context.CancelFunc) {
	merged, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(other, cancel)
	return merged, func() {
		stop()
		cancel()
	}
}
