package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/MrWong99/talkback/internal/chat"
	"github.com/MrWong99/talkback/internal/speech"
	"github.com/MrWong99/talkback/internal/speech/session"
	"github.com/MrWong99/talkback/pkg/types"
)

// chatter is the part of [chat.Service] the REPL drives.
type chatter interface {
	Send(ctx context.Context, text string) (chat.Exchange, error)
	Messages(ctx context.Context, limit int) ([]types.Message, error)
	SpeakText(ctx context.Context, text string) (session.Token, error)
	Stop(ctx context.Context) bool
	Variant() speech.Variant
	SetVariant(ctx context.Context, v speech.Variant) (bool, error)
	AutoSpeak() bool
	SetAutoSpeak(on bool)
}

const replHelp = `commands:
  /speak <text>     speak text without asking the assistant
  /stop             stop speaking
  /variant [name]   show or set the default variant (american, filipino)
  /auto [on|off]    show or toggle speaking of replies
  /history [n]      show the last n messages (default 10)
  /quit             exit
anything else is sent to the assistant`

// errQuit ends the REPL without an error.
var errQuit = errors.New("quit")

// runREPL reads one line at a time from in until it ends, ctx is cancelled,
// or the user quits.
func runREPL(ctx context.Context, in io.Reader, out io.Writer, c chatter) error {
	lines := make(chan string)
	scanErr := make(chan error, 1)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
		scanErr <- sc.Err()
	}()

	fmt.Fprintf(out, "talkback ready (%s). /help lists commands.\n", c.Variant())
	for {
		fmt.Fprint(out, "> ")
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				select {
				case err := <-scanErr:
					return err
				default:
					return nil
				}
			}
			err := handleLine(ctx, out, c, strings.TrimSpace(line))
			if errors.Is(err, errQuit) {
				return nil
			}
			if err != nil {
				fmt.Fprintf(out, "error: %v\n", err)
			}
		}
	}
}

func handleLine(ctx context.Context, out io.Writer, c chatter, line string) error {
	if line == "" {
		return nil
	}
	if !strings.HasPrefix(line, "/") {
		ex, err := c.Send(ctx, line)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "assistant: %s\n", ex.Reply.Content)
		return nil
	}

	cmd, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)
	switch cmd {
	case "/quit", "/exit":
		return errQuit
	case "/help":
		fmt.Fprintln(out, replHelp)
	case "/stop":
		if c.Stop(ctx) {
			fmt.Fprintln(out, "stopped")
		} else {
			fmt.Fprintln(out, "nothing to stop")
		}
	case "/speak":
		if _, err := c.SpeakText(ctx, arg); err != nil {
			return err
		}
	case "/variant":
		if arg == "" {
			fmt.Fprintf(out, "variant: %s\n", c.Variant())
			return nil
		}
		v, err := speech.ParseVariant(arg)
		if err != nil {
			return err
		}
		if _, err := c.SetVariant(ctx, v); err != nil {
			return err
		}
		fmt.Fprintf(out, "variant: %s\n", v)
	case "/auto":
		switch arg {
		case "":
		case "on":
			c.SetAutoSpeak(true)
		case "off":
			c.SetAutoSpeak(false)
		default:
			return fmt.Errorf("/auto takes on or off, got %q", arg)
		}
		fmt.Fprintf(out, "auto speak: %t\n", c.AutoSpeak())
	case "/history":
		n := 10
		if arg != "" {
			var err error
			if n, err = strconv.Atoi(arg); err != nil || n <= 0 {
				return fmt.Errorf("/history takes a positive number, got %q", arg)
			}
		}
		msgs, err := c.Messages(ctx, n)
		if err != nil {
			return err
		}
		for _, m := range msgs {
			fmt.Fprintf(out, "%s %s: %s\n", m.CreatedAt.Format("15:04:05"), m.Role, m.Content)
		}
	default:
		return fmt.Errorf("unknown command %s, try /help", cmd)
	}
	return nil
}
