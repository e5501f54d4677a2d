package main

import (
	"context"
	"fmt"
	"hash/fnv"
	"io"
	"peer-chat/domain"
	"peer-chat/domain/event"
	"sync"

	"github.com/gookit/color"
)

var palette = []color.Color{color.FgCyan, color.FgMagenta, color.FgGreen, color.FgYellow, color.FgBlue, color.FgLightRed}

// console prints every event entering the log and the peer changes worth a line.
type console struct {
	mu  sync.Mutex
	out io.Writer
}

func newConsole(out io.Writer) *console {
	return &console{out: out}
}

func authorColor(author string) color.Color {
	h := fnv.New32a()
	_, _ = h.Write([]byte(author))
	return palette[h.Sum32()%uint32(len(palette))]
}

func (c *console) Consume(_ context.Context, e domain.ChatEvent) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintln(c.out, formatEvent(e))
	return nil
}

func (c *console) Handle(e event.Event) {
	payload, ok := e.Payload.(event.PeerStateChanged)
	if !ok {
		return
	}
	var line string
	switch payload.Current {
	case domain.PeerConnected:
		line = color.FgGreen.Render(fmt.Sprintf("* %s is here", displayName(payload.Peer)))
	case domain.PeerDisconnected:
		line = color.FgDarkGray.Render(fmt.Sprintf("* %s left", displayName(payload.Peer)))
	case domain.PeerFailed:
		line = color.FgRed.Render(fmt.Sprintf("* %s is unreachable", displayName(payload.Peer)))
	default:
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintln(c.out, line)
}

func (c *console) Banner(room string, self domain.PeerInfo, addr string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintln(c.out, color.New(color.BgBlack, color.FgGreen).Render(fmt.Sprintf("  ====== #%s as %s (%s) ======", room, self.Nickname, addr)))
	fmt.Fprintln(c.out, "Type a message, or /help")
}

func displayName(peer domain.PeerInfo) string {
	if peer.Nickname != "" {
		return peer.Nickname
	}
	return peer.ID.Short()
}

func formatEvent(e domain.ChatEvent) string {
	at := e.Timestamp.Local().Format("15:04:05")
	author := authorColor(e.Author).Render(e.Author)
	id := color.FgDarkGray.Render(e.ID.String())
	switch e.Kind {
	case domain.KindSystem:
		return color.FgDarkGray.Render(fmt.Sprintf("%s -- %s", at, e.Text()))
	case domain.KindReaction:
		target := ""
		if e.Target != nil {
			target = e.Target.String()
		}
		return fmt.Sprintf("%s %s reacted %s to %s", at, author, e.Text(), target)
	case domain.KindImage, domain.KindAudio:
		return fmt.Sprintf("%s <%s> [%s %s, %d bytes] %s", at, author, e.Kind, e.MIME, len(e.Payload), id)
	default:
		return fmt.Sprintf("%s <%s> %s %s", at, author, e.Text(), id)
	}
}
