package player_test

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"slices"
	"testing"
	"time"

	"github.com/MrWong99/talkback/pkg/audio/player"
)

func requireBinary(t *testing.T, name string) {
	t.Helper()
	if _, err := exec.LookPath(name); err != nil {
		t.Skipf("%s not available: %v", name, err)
	}
}

func TestCommand_Argv(t *testing.T) {
	t.Parallel()

	tests := []struct {
		cmdline string
		want    []string
	}{
		{cmdline: "aplay -q", want: []string{"aplay", "-q", "/tmp/a.wav"}},
		{cmdline: `ffplay -i {file} -autoexit`, want: []string{"ffplay", "-i", "/tmp/a.wav", "-autoexit"}},
		{cmdline: `sh -c "cat '{file}'"`, want: []string{"sh", "-c", "cat '/tmp/a.wav'"}},
	}
	for _, tt := range tests {
		c, err := player.NewCommand(tt.cmdline)
		if err != nil {
			t.Fatalf("NewCommand(%q) error: %v", tt.cmdline, err)
		}
		if got := c.Argv("/tmp/a.wav"); !slices.Equal(got, tt.want) {
			t.Errorf("Argv() for %q = %q, want %q", tt.cmdline, got, tt.want)
		}
	}
}

func TestNewCommand_Invalid(t *testing.T) {
	t.Parallel()

	if _, err := player.NewCommand(`aplay "unterminated`); err == nil {
		t.Error("NewCommand(unterminated quote) error = nil, want error")
	}
}

func TestCommand_PlayRemovesTempFile(t *testing.T) {
	t.Parallel()
	requireBinary(t, "cat")

	dir := t.TempDir()
	c, err := player.NewCommand("cat {file}", player.WithTempDir(dir))
	if err != nil {
		t.Fatalf("NewCommand() error: %v", err)
	}
	if err := c.Play(context.Background(), player.Clip{Data: []byte("RIFF"), Format: "wav"}); err != nil {
		t.Fatalf("Play() error: %v", err)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir() error: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("temp dir has %d entries after Play, want 0", len(entries))
	}
}

func TestCommand_PlayFailure(t *testing.T) {
	t.Parallel()
	requireBinary(t, "false")

	c, err := player.NewCommand("false", player.WithTempDir(t.TempDir()))
	if err != nil {
		t.Fatalf("NewCommand() error: %v", err)
	}
	if err := c.Play(context.Background(), player.Clip{Data: []byte("x"), Format: "mp3"}); err == nil {
		t.Error("Play() error = nil, want error")
	}
	if err := c.Play(context.Background(), player.Clip{}); err == nil {
		t.Error("Play(empty clip) error = nil, want error")
	}
}

func TestCommand_PlayCancel(t *testing.T) {
	t.Parallel()
	requireBinary(t, "sh")

	c, err := player.NewCommand(`sh -c "exec sleep 5"`, player.WithTempDir(t.TempDir()))
	if err != nil {
		t.Fatalf("NewCommand() error: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	err = c.Play(ctx, player.Clip{Data: []byte("x")})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Play() = %v, want %v", err, context.DeadlineExceeded)
	}
	if d := time.Since(start); d > 3*time.Second {
		t.Errorf("Play() took %v after cancellation", d)
	}
}

func TestFunc(t *testing.T) {
	t.Parallel()

	var got player.Clip
	var p player.Player = player.Func(func(_ context.Context, c player.Clip) error {
		got = c
		return nil
	})
	if err := p.Play(context.Background(), player.Clip{Data: []byte{1}, Format: "wav"}); err != nil {
		t.Fatalf("Play() error: %v", err)
	}
	if got.Format != "wav" {
		t.Errorf("clip format = %q, want %q", got.Format, "wav")
	}
}
