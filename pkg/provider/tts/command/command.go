// Package command provides a tts.Engine that speaks through a local speech
// synthesiser binary: espeak-ng on Linux or say on macOS.
//
// The utterance text is written to the process's stdin so it never has to be
// quoted on a command line. Extra arguments can be supplied as a shell-style
// command line:
//
//	e, err := command.New(command.FlavorEspeak,
//	    command.WithCommandLine("/usr/local/bin/espeak-ng --punct -a 150"),
//	)
package command

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"math"
	"os/exec"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/mattn/go-shellwords"

	"github.com/MrWong99/talkback/pkg/provider/tts"
)

// Flavor selects the argument dialect and catalogue format of the binary.
type Flavor string

const (
	// FlavorEspeak is espeak-ng (or espeak).
	FlavorEspeak Flavor = "espeak-ng"

	// FlavorSay is the macOS say command.
	FlavorSay Flavor = "say"
)

// DefaultFlavor returns the flavor native to the running OS.
func DefaultFlavor() Flavor {
	if runtime.GOOS == "darwin" {
		return FlavorSay
	}
	return FlavorEspeak
}

const (
	// baseWPM is the speaking rate mapped to Options.Rate == 1.0.
	baseWPM = 175

	// basePitch is espeak's neutral pitch on its 0-99 scale.
	basePitch = 50
)

// Engine implements tts.Engine by running a synthesiser process per
// utterance. It is safe for concurrent use; a new utterance kills the
// previous process.
type Engine struct {
	flavor Flavor
	argv   []string

	playback tts.Playback
}

var _ tts.Engine = (*Engine)(nil)

// Option is a functional option for configuring an [Engine].
type Option func(*Engine) error

// WithCommandLine replaces the binary and prepends extra arguments. The
// line is split with shell quoting rules.
func WithCommandLine(line string) Option {
	return func(e *Engine) error {
		if strings.TrimSpace(line) == "" {
			return nil
		}
		argv, err := shellwords.NewParser().Parse(line)
		if err != nil {
			return fmt.Errorf("parse command line %q: %w", line, err)
		}
		if len(argv) == 0 {
			return errors.New("command line is empty")
		}
		e.argv = argv
		return nil
	}
}

// New creates an Engine. An empty flavor uses [DefaultFlavor].
func New(flavor Flavor, opts ...Option) (*Engine, error) {
	if flavor == "" {
		flavor = DefaultFlavor()
	}
	e := &Engine{flavor: flavor}
	switch flavor {
	case FlavorEspeak:
		e.argv = []string{"espeak-ng"}
	case FlavorSay:
		e.argv = []string{"say"}
	default:
		return nil, fmt.Errorf("command: unknown flavor %q", flavor)
	}
	for _, o := range opts {
		if err := o(e); err != nil {
			return nil, fmt.Errorf("command: %w", err)
		}
	}
	return e, nil
}

// Args returns the full argument vector for an utterance with opts.
func (e *Engine) Args(opts tts.Options) []string {
	argv := append([]string(nil), e.argv...)
	rate := strconv.Itoa(scale(baseWPM, opts.Rate, 80, 450))
	switch e.flavor {
	case FlavorSay:
		if opts.VoiceID != "" {
			argv = append(argv, "-v", opts.VoiceID)
		}
		argv = append(argv, "-r", rate, "-f", "-")
	default:
		if opts.VoiceID != "" {
			argv = append(argv, "-v", opts.VoiceID)
		}
		argv = append(argv,
			"-s", rate,
			"-p", strconv.Itoa(scale(basePitch, opts.Pitch, 0, 99)),
			"--stdin",
		)
	}
	return argv
}

// ListVoices runs the binary's voice listing and parses it.
func (e *Engine) ListVoices(ctx context.Context) ([]tts.Voice, error) {
	argv := append([]string(nil), e.argv...)
	if e.flavor == FlavorSay {
		argv = append(argv, "-v", "?")
	} else {
		argv = append(argv, "--voices")
	}

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("command: list voices: %w", classify(err))
	}
	if e.flavor == FlavorSay {
		return parseSayVoices(out), nil
	}
	return parseEspeakVoices(out), nil
}

// Speak starts the synthesiser and returns once the process is running.
func (e *Engine) Speak(ctx context.Context, text string, opts tts.Options, cb tts.Callbacks) error {
	if strings.TrimSpace(text) == "" {
		return errors.New("command: speak: empty text")
	}

	// The process outlives this call; it is killed when the playback
	// context ends.
	procCtx, kill := context.WithCancel(context.WithoutCancel(ctx))
	argv := e.Args(opts)
	cmd := exec.CommandContext(procCtx, argv[0], argv[1:]...)
	cmd.Stdin = strings.NewReader(text)
	cmd.WaitDelay = time.Second
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		kill()
		return fmt.Errorf("command: start %s: %w", argv[0], classify(err))
	}

	e.playback.Start(ctx, func(ctx context.Context) error {
		defer kill()
		unwatch := context.AfterFunc(ctx, kill)
		defer unwatch()

		err := cmd.Wait()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err != nil {
			if msg := strings.TrimSpace(stderr.String()); msg != "" {
				return fmt.Errorf("command: %s: %w: %s", argv[0], err, msg)
			}
			return fmt.Errorf("command: %s: %w", argv[0], err)
		}
		return nil
	}, cb)
	return nil
}

// Stop kills the running synthesiser, if any.
func (e *Engine) Stop(ctx context.Context) error {
	return e.playback.Stop(ctx)
}

// classify wraps permission failures with [tts.ErrPermission].
func classify(err error) error {
	if errors.Is(err, fs.ErrPermission) {
		return fmt.Errorf("%w: %w", tts.ErrPermission, err)
	}
	return err
}

// scale maps a relative factor onto an absolute range. A non-positive
// factor means neutral.
func scale(base int, factor float64, lo, hi int) int {
	if factor <= 0 {
		factor = 1
	}
	v := int(math.Round(float64(base) * factor))
	return min(max(v, lo), hi)
}

// parseEspeakVoices parses `espeak-ng --voices` output:
//
//	Pty Language       Age/Gender VoiceName          File                 Other Languages
//	 5  en-us           --/M      American_English   gmw/en-US            (en 10)
func parseEspeakVoices(out []byte) []tts.Voice {
	var voices []tts.Voice
	sc := bufio.NewScanner(bytes.NewReader(out))
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) < 4 || fields[0] == "Pty" {
			continue
		}
		lang, gender, name := fields[1], fields[2], fields[3]
		display := strings.ReplaceAll(name, "_", " ")
		switch {
		case strings.HasSuffix(gender, "/M"):
			display += " (male)"
		case strings.HasSuffix(gender, "/F"):
			display += " (female)"
		}
		voices = append(voices, tts.Voice{
			ID:     lang,
			Name:   display,
			Locale: lang,
		})
	}
	return voices
}

// parseSayVoices parses `say -v ?` output:
//
//	Alex                en_US    # Most people recognize me by my voice.
//	Daniel (Enhanced)   en_GB    # Hello! My name is Daniel.
func parseSayVoices(out []byte) []tts.Voice {
	var voices []tts.Voice
	sc := bufio.NewScanner(bytes.NewReader(out))
	for sc.Scan() {
		line, _, _ := strings.Cut(sc.Text(), "#")
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		locale := fields[len(fields)-1]
		name := strings.Join(fields[:len(fields)-1], " ")
		v := tts.Voice{ID: name, Name: name, Locale: locale}
		lower := strings.ToLower(name)
		for _, q := range []string{"premium", "enhanced"} {
			if strings.Contains(lower, "("+q+")") {
				v.Quality = q
				break
			}
		}
		voices = append(voices, v)
	}
	return voices
}
