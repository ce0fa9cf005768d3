// Package player plays synthesised audio clips through a system audio
// player command (aplay, afplay, ffplay, ...).
//
// Engines that receive audio bytes from a remote service (Coqui, OpenAI) use
// a [Player] to make them audible. Play blocks until playback has finished,
// so engines run it inside [tts.Playback] to get fire-and-forget semantics.
package player

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"runtime"
	"strings"
	"time"

	"github.com/mattn/go-shellwords"
)

// ErrPermission is returned when the player binary or the audio device
// cannot be used due to missing rights.
var ErrPermission = errors.New("player: permission denied")

// FilePlaceholder is replaced by the clip's temp file path in a command
// line. Without it the path is appended as the last argument.
const FilePlaceholder = "{file}"

// Clip is an encoded audio clip.
type Clip struct {
	Data []byte

	// Format is the file extension of the encoding, e.g. "wav" or "mp3".
	Format string
}

// Player plays clips.
type Player interface {
	// Play blocks until the clip has been played or ctx is cancelled. On
	// cancellation it returns ctx.Err().
	Play(ctx context.Context, clip Clip) error
}

// Func adapts a function to [Player].
type Func func(ctx context.Context, clip Clip) error

// Play calls f.
func (f Func) Play(ctx context.Context, clip Clip) error { return f(ctx, clip) }

// Command plays clips by writing them to a temp file and running a command.
type Command struct {
	argv   []string
	tmpDir string
}

var _ Player = (*Command)(nil)

// Option is a functional option for configuring a [Command].
type Option func(*Command)

// WithTempDir sets where clips are written before playback. Defaults to
// [os.TempDir].
func WithTempDir(dir string) Option {
	return func(c *Command) {
		c.tmpDir = dir
	}
}

// NewCommand parses cmdline with shell quoting rules. An empty cmdline
// selects the platform default, see [DefaultCommandLine].
func NewCommand(cmdline string, opts ...Option) (*Command, error) {
	if strings.TrimSpace(cmdline) == "" {
		cmdline = DefaultCommandLine()
	}
	argv, err := shellwords.NewParser().Parse(cmdline)
	if err != nil {
		return nil, fmt.Errorf("player: parse command %q: %w", cmdline, err)
	}
	if len(argv) == 0 {
		return nil, errors.New("player: command is empty")
	}
	c := &Command{argv: argv}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

// DefaultCommandLine returns the player command for the running OS.
func DefaultCommandLine() string {
	switch runtime.GOOS {
	case "darwin":
		return "afplay"
	case "windows":
		return "ffplay -nodisp -autoexit -loglevel quiet"
	default:
		if _, err := exec.LookPath("ffplay"); err == nil {
			return "ffplay -nodisp -autoexit -loglevel quiet"
		}
		return "aplay -q"
	}
}

// Argv returns the command's arguments for a clip stored at path.
func (c *Command) Argv(path string) []string {
	argv := make([]string, 0, len(c.argv)+1)
	replaced := false
	for _, a := range c.argv {
		if strings.Contains(a, FilePlaceholder) {
			a = strings.ReplaceAll(a, FilePlaceholder, path)
			replaced = true
		}
		argv = append(argv, a)
	}
	if !replaced {
		argv = append(argv, path)
	}
	return argv
}

// Play writes clip to a temp file, runs the player on it, and removes the
// file afterwards.
func (c *Command) Play(ctx context.Context, clip Clip) error {
	if len(clip.Data) == 0 {
		return errors.New("player: empty clip")
	}
	format := strings.TrimPrefix(clip.Format, ".")
	if format == "" {
		format = "wav"
	}

	f, err := os.CreateTemp(c.tmpDir, "talkback-*."+format)
	if err != nil {
		return fmt.Errorf("player: create temp file: %w", err)
	}
	path := f.Name()
	defer os.Remove(path)

	if _, err := f.Write(clip.Data); err != nil {
		f.Close()
		return fmt.Errorf("player: write temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("player: close temp file: %w", err)
	}

	argv := c.Argv(path)
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.WaitDelay = time.Second
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if errors.Is(err, fs.ErrPermission) {
			return fmt.Errorf("player: run %s: %w: %w", argv[0], ErrPermission, err)
		}
		return fmt.Errorf("player: run %s: %w", argv[0], err)
	}
	return nil
}
