// Package mock provides a test double for the tts.Engine interface.
//
// Engine never plays audio. It records every call and keeps the callbacks
// handed to Speak so tests can drive completion, stop, and error paths
// explicitly:
//
//	e := &mock.Engine{ListVoicesResult: []tts.Voice{{ID: "v1", Name: "Alex", Locale: "en-US"}}}
//	_ = e.Speak(ctx, "hi", tts.Options{}, cb)
//	e.SpeakCalls()[0].Callbacks.OnDone()
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/talkback/pkg/provider/tts"
)

// SpeakCall records a single invocation of Speak.
type SpeakCall struct {
	// Ctx is the context passed to Speak.
	Ctx context.Context
	// Text is the text passed to Speak.
	Text string
	// Options is the options value passed to Speak.
	Options tts.Options
	// Callbacks are the callbacks passed to Speak.
	Callbacks tts.Callbacks
	// Err is the error Speak returned for this call.
	Err error
}

// Engine is a mock implementation of tts.Engine.
type Engine struct {
	mu sync.Mutex

	// --- Configurable responses ---

	// ListVoicesResult is returned by ListVoices.
	ListVoicesResult []tts.Voice

	// ListVoicesErr, if non-nil, is returned as the error from ListVoices.
	ListVoicesErr error

	// SpeakErrs are returned by successive Speak calls, one per call. Once
	// exhausted, SpeakErr is returned.
	SpeakErrs []error

	// SpeakErr, if non-nil, is returned from Speak after SpeakErrs is
	// exhausted.
	SpeakErr error

	// StopErr, if non-nil, is returned from Stop.
	StopErr error

	// StopBlock, if non-nil, makes Stop wait until it is closed or the
	// context ends.
	StopBlock chan struct{}

	// --- Call records ---

	speakCalls      []SpeakCall
	listVoicesCalls int
	stopCalls       int
}

// ListVoices records the call and returns ListVoicesResult, ListVoicesErr.
func (e *Engine) ListVoices(_ context.Context) ([]tts.Voice, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.listVoicesCalls++
	if e.ListVoicesErr != nil {
		return nil, e.ListVoicesErr
	}
	out := make([]tts.Voice, len(e.ListVoicesResult))
	copy(out, e.ListVoicesResult)
	return out, nil
}

// Speak records the call and returns the next configured error.
func (e *Engine) Speak(ctx context.Context, text string, opts tts.Options, cb tts.Callbacks) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	err := e.SpeakErr
	if len(e.SpeakErrs) > 0 {
		err = e.SpeakErrs[0]
		e.SpeakErrs = e.SpeakErrs[1:]
	}
	e.speakCalls = append(e.speakCalls, SpeakCall{Ctx: ctx, Text: text, Options: opts, Callbacks: cb, Err: err})
	return err
}

// Stop records the call and returns StopErr.
func (e *Engine) Stop(ctx context.Context) error {
	e.mu.Lock()
	e.stopCalls++
	block := e.StopBlock
	err := e.StopErr
	e.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}

// SpeakCalls returns a copy of all recorded Speak calls. Thread-safe.
func (e *Engine) SpeakCalls() []SpeakCall {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]SpeakCall, len(e.speakCalls))
	copy(out, e.speakCalls)
	return out
}

// ListVoicesCalls returns the number of ListVoices calls. Thread-safe.
func (e *Engine) ListVoicesCalls() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.listVoicesCalls
}

// StopCalls returns the number of Stop calls. Thread-safe.
func (e *Engine) StopCalls() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stopCalls
}

// Reset clears all recorded calls. Thread-safe.
func (e *Engine) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.speakCalls = nil
	e.listVoicesCalls = 0
	e.stopCalls = 0
}

// Ensure Engine implements tts.Engine at compile time.
var _ tts.Engine = (*Engine)(nil)
