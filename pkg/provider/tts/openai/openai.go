// Package openai provides a tts.Engine backed by the OpenAI speech API.
//
// The catalogue is static: OpenAI does not expose a voice listing endpoint.
// Audio is requested as WAV and played through a [player.Player].
package openai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"

	"github.com/MrWong99/talkback/pkg/audio/player"
	"github.com/MrWong99/talkback/pkg/provider/tts"
)

// DefaultModel is the speech model used when none is configured.
const DefaultModel = "tts-1"

// voices is the fixed OpenAI voice set. The names carry the register so
// name-based voice affinity has something to match.
var voices = []tts.Voice{
	{ID: "alloy", Name: "Alloy", Locale: "en-US", Quality: "neural"},
	{ID: "ash", Name: "Ash (male)", Locale: "en-US", Quality: "neural"},
	{ID: "ballad", Name: "Ballad (male)", Locale: "en-GB", Quality: "neural"},
	{ID: "coral", Name: "Coral (female)", Locale: "en-US", Quality: "neural"},
	{ID: "echo", Name: "Echo (male)", Locale: "en-US", Quality: "neural"},
	{ID: "fable", Name: "Fable", Locale: "en-GB", Quality: "neural"},
	{ID: "nova", Name: "Nova (female)", Locale: "en-US", Quality: "neural"},
	{ID: "onyx", Name: "Onyx (male, deep)", Locale: "en-US", Quality: "neural"},
	{ID: "sage", Name: "Sage (female)", Locale: "en-US", Quality: "neural"},
	{ID: "shimmer", Name: "Shimmer (female)", Locale: "en-US", Quality: "neural"},
	{ID: "verse", Name: "Verse (male)", Locale: "en-US", Quality: "neural"},
}

// defaultVoice is used when Options.VoiceID is empty.
const defaultVoice = "onyx"

// Engine implements tts.Engine using the OpenAI speech API.
type Engine struct {
	client       oai.Client
	model        string
	instructions string
	player       player.Player

	playback tts.Playback
}

var _ tts.Engine = (*Engine)(nil)

// config holds optional configuration for the engine.
type config struct {
	baseURL      string
	timeout      time.Duration
	instructions string
	player       player.Player
}

// Option is a functional option for Engine.
type Option func(*config)

// WithBaseURL overrides the default OpenAI API base URL.
func WithBaseURL(url string) Option {
	return func(c *config) {
		c.baseURL = url
	}
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) {
		c.timeout = d
	}
}

// WithInstructions sets delivery instructions. Only instruction-capable
// models such as gpt-4o-mini-tts honour them.
func WithInstructions(s string) Option {
	return func(c *config) {
		c.instructions = s
	}
}

// WithPlayer sets the audio player. Defaults to the platform's command
// player.
func WithPlayer(p player.Player) Option {
	return func(c *config) {
		c.player = p
	}
}

// New constructs a new OpenAI speech Engine. An empty model uses
// [DefaultModel].
func New(apiKey, model string, opts ...Option) (*Engine, error) {
	if apiKey == "" {
		return nil, errors.New("openai: apiKey must not be empty")
	}
	if model == "" {
		model = DefaultModel
	}

	cfg := &config{}
	for _, o := range opts {
		o(cfg)
	}

	// Retries are the session's job; one dispatch is one HTTP call.
	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{
			Timeout: cfg.timeout,
		}))
	}

	if cfg.player == nil {
		p, err := player.NewCommand("")
		if err != nil {
			return nil, fmt.Errorf("openai: %w", err)
		}
		cfg.player = p
	}

	return &Engine{
		client:       oai.NewClient(reqOpts...),
		model:        model,
		instructions: cfg.instructions,
		player:       cfg.player,
	}, nil
}

// ListVoices returns the static OpenAI voice set.
func (e *Engine) ListVoices(_ context.Context) ([]tts.Voice, error) {
	out := make([]tts.Voice, len(voices))
	copy(out, voices)
	return out, nil
}

// Speak requests WAV audio for text and starts playing it. Options.Rate
// maps to the API's speed parameter; pitch is not supported by the API.
func (e *Engine) Speak(ctx context.Context, text string, opts tts.Options, cb tts.Callbacks) error {
	if strings.TrimSpace(text) == "" {
		return errors.New("openai: speak: empty text")
	}

	voice := opts.VoiceID
	if voice == "" {
		voice = defaultVoice
	}
	params := oai.AudioSpeechNewParams{
		Input:          text,
		Model:          oai.SpeechModel(e.model),
		Voice:          oai.AudioSpeechNewParamsVoice(voice),
		ResponseFormat: oai.AudioSpeechNewParamsResponseFormat("wav"),
	}
	if opts.Rate > 0 {
		params.Speed = param.NewOpt(min(max(opts.Rate, 0.25), 4.0))
	}
	if e.instructions != "" {
		params.Instructions = param.NewOpt(e.instructions)
	}

	resp, err := e.client.Audio.Speech.New(ctx, params)
	if err != nil {
		return fmt.Errorf("openai: speech: %w", classify(err))
	}
	defer resp.Body.Close()

	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("openai: read speech audio: %w", err)
	}
	if len(audio) == 0 {
		return errors.New("openai: speech: empty audio response")
	}

	clip := player.Clip{Data: audio, Format: "wav"}
	e.playback.Start(ctx, func(ctx context.Context) error {
		return e.player.Play(ctx, clip)
	}, cb)
	return nil
}

// Stop interrupts playback, if any.
func (e *Engine) Stop(ctx context.Context) error {
	return e.playback.Stop(ctx)
}

// classify wraps authentication and authorisation failures with
// [tts.ErrPermission].
func classify(err error) error {
	var apiErr *oai.Error
	if errors.As(err, &apiErr) {
		switch apiErr.StatusCode {
		case http.StatusUnauthorized, http.StatusForbidden:
			return fmt.Errorf("%w: %w", tts.ErrPermission, err)
		}
	}
	return err
}
