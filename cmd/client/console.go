package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/roomcall/roomcall/pkg/call"
)

var (
	errQuit        = errors.New("quit")
	errRelayClosed = errors.New("relay connection closed")
)

// controller is the part of a call.Session the console drives.
type controller interface {
	Start(ctx context.Context) error
	Answer(ctx context.Context) error
	Decline() error
	End() error
	SetMuted(muted bool)
	SetCameraOff(off bool)
	Snapshot() call.Snapshot
}

type console struct {
	c   controller
	out io.Writer
}

const usage = "commands: start, answer, decline, end, mute, unmute, camera-off, camera-on, status, help, quit"

// run executes one command per input line until quit, end of input or ctx
// is done. Lines are read on a separate goroutine so ctx can interrupt a
// blocked read.
func (c *console) run(ctx context.Context, in io.Reader) error {
	lines := make(chan string)
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
	}()

	fmt.Fprintln(c.out, usage)
	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return errQuit
			}
			if err := c.exec(ctx, line); err != nil {
				if errors.Is(err, errQuit) {
					return err
				}
				fmt.Fprintf(c.out, "! %v\n", err)
			}
		}
	}
}

func (c *console) exec(ctx context.Context, line string) error {
	cmd := strings.ToLower(strings.TrimSpace(line))
	switch cmd {
	case "":
		return nil
	case "start", "call":
		return c.c.Start(ctx)
	case "answer":
		return c.c.Answer(ctx)
	case "decline":
		return c.c.Decline()
	case "end", "hangup":
		return c.c.End()
	case "mute":
		c.c.SetMuted(true)
	case "unmute":
		c.c.SetMuted(false)
	case "camera-off":
		c.c.SetCameraOff(true)
	case "camera-on":
		c.c.SetCameraOff(false)
	case "status":
		c.status()
	case "help":
		fmt.Fprintln(c.out, usage)
	case "quit", "exit":
		return errQuit
	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
	return nil
}

func (c *console) status() {
	s := c.c.Snapshot()
	fmt.Fprintf(c.out, "phase=%s attempt=%s muted=%t camera_off=%t offer_buffered=%t connection=%t remote_stream=%t relay=%s\n",
		s.Phase, s.Attempt, s.Muted, s.CameraOff, s.OfferBuffered, s.HasConnection, s.HasRemoteStream, s.Transport)
}
