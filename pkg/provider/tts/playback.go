package tts

import (
	"context"
	"errors"
	"sync"
)

// Playback runs at most one background utterance at a time and translates
// its result into [Callbacks]. Engines embed it to implement the
// Speak/Stop half of [Engine].
//
// The zero value is ready to use.
type Playback struct {
	mu      sync.Mutex
	current *job
}

type job struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Start stops whatever is playing and runs fn in a new goroutine. fn must
// return promptly once its context is cancelled.
//
// Outcome mapping: a cancelled context yields OnStopped regardless of fn's
// error, a nil error yields OnDone, anything else yields OnError.
func (p *Playback) Start(ctx context.Context, fn func(ctx context.Context) error, cb Callbacks) {
	runCtx, cancel := context.WithCancel(ctx)
	j := &job{cancel: cancel, done: make(chan struct{})}

	p.mu.Lock()
	prev := p.current
	p.current = j
	p.mu.Unlock()

	if prev != nil {
		prev.cancel()
	}

	go func() {
		defer close(j.done)
		defer cancel()

		err := fn(runCtx)

		p.mu.Lock()
		if p.current == j {
			p.current = nil
		}
		p.mu.Unlock()

		switch {
		case runCtx.Err() != nil:
			cb.stopped()
		case err != nil:
			cb.failed(err)
		default:
			cb.done()
		}
	}()
}

// Stop cancels the current utterance and waits for it to wind down or for
// ctx to end. It returns ctx's error when the wait was cut short.
func (p *Playback) Stop(ctx context.Context) error {
	p.mu.Lock()
	j := p.current
	p.mu.Unlock()

	if j == nil {
		return nil
	}
	j.cancel()
	select {
	case <-j.done:
		return nil
	case <-ctx.Done():
		return errors.Join(errors.New("tts: stop did not complete"), ctx.Err())
	}
}

// Active reports whether an utterance is playing.
func (p *Playback) Active() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current != nil
}
