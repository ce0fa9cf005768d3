// Package coqui provides a tts.Engine backed by a locally-running Coqui TTS
// server, reached over its REST API. Synthesised WAV audio is played through
// a [player.Player].
//
// Two API modes are supported:
//
//   - APIModeStandard (default): targets the standard Coqui TTS server
//     (ghcr.io/coqui-ai/tts-cpu). Synthesis is performed via GET /api/tts with
//     URL query parameters; voice catalogue is retrieved from GET /details.
//
//   - APIModeXTTS: targets the Coqui XTTS v2 API server. Synthesis is performed
//     via POST /tts_to_audio/ with a JSON body; voice catalogue is retrieved from
//     GET /studio_speakers.
//
// Speak performs the HTTP synthesis call synchronously so that server errors
// surface as dispatch errors, then plays the clip in the background.
//
// Typical usage (standard server):
//
//	e, err := coqui.New("http://localhost:5002",
//	    coqui.WithLanguage("en"),
//	    coqui.WithTimeout(15*time.Second),
//	)
//	err = e.Speak(ctx, "Hey there man!", tts.Options{VoiceID: "p226"}, cb)
//
// Coqui models have a fixed prosody; Options.Pitch and Options.Rate are
// ignored.
package coqui

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/MrWong99/talkback/pkg/audio/player"
	"github.com/MrWong99/talkback/pkg/provider/tts"
)

// Compile-time interface assertion.
var _ tts.Engine = (*Engine)(nil)

// ---- constants ----

const (
	defaultLanguage        = "en"
	defaultTimeout         = 30 * time.Second
	ttsEndpoint            = "/tts_to_audio/"
	studioSpeakersEndpoint = "/studio_speakers"
	apiTTSEndpoint         = "/api/tts"
	detailsEndpoint        = "/details"

	// voiceQuality is reported for every Coqui voice; all Coqui models are
	// neural.
	voiceQuality = "neural"
)

// ---- APIMode ----

// APIMode selects which Coqui server API the engine will target.
type APIMode string

const (
	// APIModeXTTS targets the Coqui XTTS v2 API server (/tts_to_audio/).
	// Voice listing is performed via /studio_speakers.
	APIModeXTTS APIMode = "xtts"

	// APIModeStandard targets the standard Coqui TTS server (/api/tts).
	// This is the default mode. Voice listing is performed via /details.
	APIModeStandard APIMode = "standard"
)

// ---- options ----

// Option is a functional option for configuring a Coqui Engine.
type Option func(*Engine)

// WithLanguage sets the BCP-47 language code sent to the TTS server (e.g., "en",
// "de", "fr"). Defaults to "en" if not set.
func WithLanguage(lang string) Option {
	return func(e *Engine) {
		e.language = lang
	}
}

// WithTimeout sets the per-request HTTP timeout for calls to the TTS server.
// Defaults to 30 s if not set.
func WithTimeout(d time.Duration) Option {
	return func(e *Engine) {
		e.httpClient.Timeout = d
	}
}

// WithAPIMode sets the server API mode. Use APIModeStandard (default) for the
// standard Coqui TTS Docker image (ghcr.io/coqui-ai/tts-cpu) or APIModeXTTS for
// the XTTS v2 API server.
func WithAPIMode(mode APIMode) Option {
	return func(e *Engine) {
		e.apiMode = mode
	}
}

// WithPlayer sets the audio player. Defaults to the platform's command
// player.
func WithPlayer(p player.Player) Option {
	return func(e *Engine) {
		e.player = p
	}
}

// ---- Engine ----

// Engine implements tts.Engine backed by a Coqui TTS server.
// It is safe for concurrent use.
type Engine struct {
	serverURL  string
	language   string
	httpClient *http.Client
	apiMode    APIMode
	player     player.Player

	playback tts.Playback
}

// New creates a new Coqui Engine that targets the TTS server at serverURL
// (e.g., "http://localhost:5002"). serverURL must be non-empty.
// The default API mode is APIModeStandard.
func New(serverURL string, opts ...Option) (*Engine, error) {
	if serverURL == "" {
		return nil, errors.New("coqui: serverURL must not be empty")
	}
	e := &Engine{
		serverURL: strings.TrimRight(serverURL, "/"),
		language:  defaultLanguage,
		apiMode:   APIModeStandard,
		httpClient: &http.Client{
			Timeout: defaultTimeout,
		},
	}
	for _, o := range opts {
		o(e)
	}
	if e.player == nil {
		p, err := player.NewCommand("")
		if err != nil {
			return nil, fmt.Errorf("coqui: %w", err)
		}
		e.player = p
	}
	return e, nil
}

// ---- internal request/response types ----

// ttsRequest is the JSON body sent to POST /tts_to_audio/ (XTTS mode).
type ttsRequest struct {
	Text       string `json:"text"`
	SpeakerWav string `json:"speaker_wav"`
	Language   string `json:"language"`
}

// studioSpeakersResponse represents the raw map[name]any returned by GET /studio_speakers.
// We only care about the keys (voice names) so the values are left as json.RawMessage.
type studioSpeakersResponse map[string]json.RawMessage

// detailsResponse is the JSON body returned by GET /details (standard mode).
// Speakers is nil for single-speaker models and non-nil for multi-speaker models.
type detailsResponse struct {
	ModelName string   `json:"model_name"`
	Language  string   `json:"language"`
	Speakers  []string `json:"speakers"`
}

// ---- Speak / Stop ----

// Speak synthesises text on the server and starts playing the result. The
// HTTP round trip happens before Speak returns; playback runs in the
// background and ends in exactly one callback.
func (e *Engine) Speak(ctx context.Context, text string, opts tts.Options, cb tts.Callbacks) error {
	if strings.TrimSpace(text) == "" {
		return errors.New("coqui: speak: empty text")
	}
	// XTTS mode always requires a voice ID (speaker_wav). Standard mode works
	// without one for single-speaker models, so only enforce the check for XTTS.
	if opts.VoiceID == "" && e.apiMode == APIModeXTTS {
		return errors.New("coqui: voice ID must not be empty (required for XTTS mode)")
	}

	wav, err := e.synthesize(ctx, text, opts.VoiceID)
	if err != nil {
		return err
	}

	clip := player.Clip{Data: wav, Format: "wav"}
	e.playback.Start(ctx, func(ctx context.Context) error {
		return e.player.Play(ctx, clip)
	}, cb)
	return nil
}

// Stop interrupts playback, if any.
func (e *Engine) Stop(ctx context.Context) error {
	return e.playback.Stop(ctx)
}

// synthesize dispatches to the appropriate implementation based on the configured
// API mode and validates the returned WAV container.
func (e *Engine) synthesize(ctx context.Context, text, voiceID string) ([]byte, error) {
	var (
		wav []byte
		err error
	)
	if e.apiMode == APIModeStandard {
		wav, err = e.synthesizeStandard(ctx, text, voiceID)
	} else {
		wav, err = e.synthesizeXTTS(ctx, text, voiceID)
	}
	if err != nil {
		return nil, err
	}
	if _, err := parseWAV(wav); err != nil {
		return nil, err
	}
	return wav, nil
}

// synthesizeXTTS performs a single POST /tts_to_audio/ call (XTTS v2 mode).
func (e *Engine) synthesizeXTTS(ctx context.Context, text, voiceID string) ([]byte, error) {
	body := ttsRequest{
		Text:       text,
		SpeakerWav: voiceID,
		Language:   e.language,
	}
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("coqui: marshal tts request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.serverURL+ttsEndpoint, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("coqui: create tts request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "audio/wav")

	return e.fetch(req, "POST "+ttsEndpoint)
}

// synthesizeStandard performs a single GET /api/tts request (standard server mode)
// using URL query parameters.
func (e *Engine) synthesizeStandard(ctx context.Context, text, voiceID string) ([]byte, error) {
	params := url.Values{}
	params.Set("text", text)
	if voiceID != "" {
		params.Set("speaker_id", voiceID)
	}
	if e.language != "" {
		params.Set("language_id", e.language)
	}

	reqURL := e.serverURL + apiTTSEndpoint + "?" + params.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("coqui: create tts request: %w", err)
	}
	req.Header.Set("Accept", "audio/wav")

	return e.fetch(req, "GET "+apiTTSEndpoint)
}

// fetch executes req and returns the response body of a 200 response.
func (e *Engine) fetch(req *http.Request, op string) ([]byte, error) {
	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("coqui: %s: %w", op, err)
	}
	defer resp.Body.Close()

	if err := checkStatus(resp, op); err != nil {
		return nil, err
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("coqui: read %s response: %w", op, err)
	}
	return body, nil
}

// checkStatus maps non-200 responses to errors. 401 and 403 wrap
// [tts.ErrPermission].
func checkStatus(resp *http.Response, op string) error {
	switch resp.StatusCode {
	case http.StatusOK:
		return nil
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("coqui: %s returned status %d: %w", op, resp.StatusCode, tts.ErrPermission)
	default:
		return fmt.Errorf("coqui: %s returned status %d", op, resp.StatusCode)
	}
}

// ---- ListVoices ----

// ListVoices retrieves the list of available voices from the Coqui server.
//
// In APIModeXTTS, it calls GET /studio_speakers and maps each entry to a
// Voice. In APIModeStandard, it calls GET /details and returns one Voice per
// speaker for multi-speaker models, or a single Voice (identified by model
// name) for single-speaker models.
func (e *Engine) ListVoices(ctx context.Context) ([]tts.Voice, error) {
	if e.apiMode == APIModeStandard {
		return e.listVoicesStandard(ctx)
	}
	return e.listVoicesXTTS(ctx)
}

// getJSON performs a GET against endpoint and decodes the JSON body into v.
func (e *Engine) getJSON(ctx context.Context, endpoint string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.serverURL+endpoint, nil)
	if err != nil {
		return fmt.Errorf("coqui: create list-voices request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("coqui: GET %s: %w", endpoint, err)
	}
	defer resp.Body.Close()

	if err := checkStatus(resp, "GET "+endpoint); err != nil {
		return err
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("coqui: decode %s: %w", endpoint, err)
	}
	return nil
}

// listVoicesXTTS retrieves the studio speaker voices from the XTTS server.
func (e *Engine) listVoicesXTTS(ctx context.Context) ([]tts.Voice, error) {
	var raw studioSpeakersResponse
	if err := e.getJSON(ctx, studioSpeakersEndpoint, &raw); err != nil {
		return nil, err
	}

	// Sort keys for deterministic output.
	names := make([]string, 0, len(raw))
	for name := range raw {
		names = append(names, name)
	}
	sort.Strings(names)

	voices := make([]tts.Voice, 0, len(names))
	for _, name := range names {
		voices = append(voices, tts.Voice{
			ID:      name,
			Name:    name,
			Locale:  e.language,
			Quality: voiceQuality,
		})
	}
	return voices, nil
}

// listVoicesStandard retrieves model info from the standard Coqui TTS server.
func (e *Engine) listVoicesStandard(ctx context.Context) ([]tts.Voice, error) {
	var details detailsResponse
	if err := e.getJSON(ctx, detailsEndpoint, &details); err != nil {
		return nil, err
	}

	locale := details.Language
	if locale == "" {
		locale = e.language
	}

	// Multi-speaker model: return one voice per speaker.
	if len(details.Speakers) > 0 {
		speakers := make([]string, len(details.Speakers))
		copy(speakers, details.Speakers)
		sort.Strings(speakers)

		voices := make([]tts.Voice, 0, len(speakers))
		for _, spk := range speakers {
			voices = append(voices, tts.Voice{
				ID:      spk,
				Name:    spk,
				Locale:  locale,
				Quality: voiceQuality,
			})
		}
		return voices, nil
	}

	// Single-speaker model: the speaker_id parameter is ignored by the
	// server, so the model name doubles as the voice.
	name := details.ModelName
	if name == "" {
		name = "default"
	}
	return []tts.Voice{{
		ID:      name,
		Name:    name,
		Locale:  locale,
		Quality: voiceQuality,
	}}, nil
}

// ---- helpers ----

// wavInfo holds the format metadata extracted from a RIFF/WAVE header.
type wavInfo struct {
	DataOffset int // byte offset of the first PCM sample
	SampleRate int // samples per second (e.g., 22050, 44100, 48000)
	Channels   int // 1 = mono, 2 = stereo
}

// parseWAV scans the RIFF/WAVE container in wav and returns the data offset
// and audio format from the "fmt " sub-chunk. The fmt chunk size varies
// between encoders, so the header is walked chunk by chunk.
//
// Returns an error if wav is not a valid RIFF/WAVE container or if the data
// chunk cannot be located.
func parseWAV(wav []byte) (wavInfo, error) {
	if len(wav) < 12 {
		return wavInfo{}, errors.New("coqui: WAV response too short to be a valid RIFF file")
	}
	if string(wav[0:4]) != "RIFF" {
		return wavInfo{}, errors.New("coqui: WAV response missing RIFF header")
	}
	if string(wav[8:12]) != "WAVE" {
		return wavInfo{}, errors.New("coqui: WAV response missing WAVE identifier")
	}

	var info wavInfo
	foundFmt := false

	// Walk RIFF chunks starting immediately after the 12-byte RIFF/WAVE header.
	offset := 12
	for offset+8 <= len(wav) {
		chunkID := string(wav[offset : offset+4])
		chunkSize := int(binary.LittleEndian.Uint32(wav[offset+4 : offset+8]))

		switch chunkID {
		case "fmt ":
			if chunkSize >= 16 && offset+8+16 <= len(wav) {
				fmtData := wav[offset+8:]
				info.Channels = int(binary.LittleEndian.Uint16(fmtData[2:4]))
				info.SampleRate = int(binary.LittleEndian.Uint32(fmtData[4:8]))
				foundFmt = true
			}
		case "data":
			info.DataOffset = offset + 8
			if !foundFmt {
				// Coqui's default output format.
				info.SampleRate = 22050
				info.Channels = 1
			}
			return info, nil
		}

		// Advance past this chunk (chunks are word-aligned: pad by 1 if odd size).
		offset += 8 + chunkSize
		if chunkSize%2 != 0 {
			offset++
		}
	}
	return wavInfo{}, errors.New("coqui: WAV response missing data chunk")
}
