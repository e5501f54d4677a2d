package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"peer-chat/domain"
	"peer-chat/domain/event"
	query "peer-chat/domain/search"
	"peer-chat/projection"
	"peer-chat/repositories"
	"peer-chat/search"
	"peer-chat/session"
	"slices"
	"strconv"
	"strings"

	"github.com/olekukonko/tablewriter"
	"github.com/sanity-io/litter"
)

const help = `/image <path>         send a picture
/audio <path>         send a voice note
/react <id> <emoji>   react to a message, ids are shown after each line
/timeline [n]         last n messages with their reactions
/history              page through the archive, older each time
/search <terms> [--author name] [--kind text] [--limit n]
/peers                peer table
/debug                dump the replica state
/quit                 leave the room`

type commands struct {
	chat     *session.Session
	archive  repositories.IEventRepository
	index    *search.Index
	timeline *projection.Timeline
	counter  *event.Counter
	out      io.Writer
	cursor   *string
}

func newCommands(
	chat *session.Session,
	archive repositories.IEventRepository,
	index *search.Index,
	timeline *projection.Timeline,
	counter *event.Counter,
	out io.Writer,
) *commands {
	return &commands{chat: chat, archive: archive, index: index, timeline: timeline, counter: counter, out: out}
}

// handle runs one input line and reports whether the user asked to quit.
func (c *commands) handle(ctx context.Context, line string) bool {
	line = strings.TrimSpace(line)
	if line == "" {
		return false
	}
	if !strings.HasPrefix(line, "/") {
		c.report(c.chat.SendText(ctx, line))
		return false
	}

	name, args, _ := strings.Cut(line, " ")
	args = strings.TrimSpace(args)
	switch name {
	case "/quit", "/exit":
		return true
	case "/help":
		fmt.Fprintln(c.out, help)
	case "/image":
		c.sendFile(ctx, domain.KindImage, args)
	case "/audio":
		c.sendFile(ctx, domain.KindAudio, args)
	case "/react":
		c.react(ctx, args)
	case "/timeline":
		c.showTimeline(args)
	case "/history":
		c.history()
	case "/search":
		c.search(ctx, line)
	case "/peers":
		c.peers()
	case "/debug":
		c.debug()
	default:
		fmt.Fprintf(c.out, "unknown command %s, try /help\n", name)
	}
	return false
}

func (c *commands) report(_ domain.ChatEvent, err error) {
	if err != nil {
		fmt.Fprintf(c.out, "! %v\n", err)
	}
}

func (c *commands) sendFile(ctx context.Context, kind domain.Kind, path string) {
	if path == "" {
		fmt.Fprintf(c.out, "! usage: /%s <path>\n", kind)
		return
	}
	payload, err := os.ReadFile(path)
	if err != nil {
		fmt.Fprintf(c.out, "! %v\n", err)
		return
	}
	c.report(c.chat.Send(ctx, kind, payload))
}

func (c *commands) react(ctx context.Context, args string) {
	raw, emoji, ok := strings.Cut(args, " ")
	if !ok {
		fmt.Fprintln(c.out, "! usage: /react <id> <emoji>")
		return
	}
	target, err := domain.ParseEventID(raw)
	if err != nil {
		fmt.Fprintf(c.out, "! %v\n", err)
		return
	}
	c.report(c.chat.React(ctx, target, emoji))
}

func (c *commands) showTimeline(args string) {
	n := 20
	if args != "" {
		if parsed, err := strconv.Atoi(args); err == nil && parsed > 0 {
			n = parsed
		}
	}
	for _, entry := range c.timeline.Last(n) {
		line := formatEvent(entry.Event)
		emojis := make([]string, 0, len(entry.Reactions))
		for emoji, authors := range entry.Reactions {
			emojis = append(emojis, fmt.Sprintf("%s x%d", emoji, len(authors)))
		}
		slices.Sort(emojis)
		if len(emojis) > 0 {
			line += "  [" + strings.Join(emojis, " ") + "]"
		}
		fmt.Fprintln(c.out, line)
	}
}

func (c *commands) history() {
	events, next, err := c.archive.GetEvents(c.chat.Room(), c.cursor)
	if err != nil {
		fmt.Fprintf(c.out, "! %v\n", err)
		return
	}
	if len(events) == 0 {
		fmt.Fprintln(c.out, "-- start of the room --")
		c.cursor = nil
		return
	}
	// Pages come newest first
	for _, e := range slices.Backward(events) {
		fmt.Fprintln(c.out, formatEvent(e))
	}
	c.cursor = next
}

func (c *commands) search(ctx context.Context, line string) {
	hits, err := c.index.Search(ctx, query.NewSearchQuery(line))
	if err != nil {
		fmt.Fprintf(c.out, "! %v\n", err)
		return
	}
	if len(hits) == 0 {
		fmt.Fprintln(c.out, "no match")
		return
	}
	for _, hit := range hits {
		fmt.Fprintf(c.out, "%s  %s\n", hit.ID, hit)
	}
}

func (c *commands) peers() {
	table := tablewriter.NewWriter(c.out)
	table.SetHeader([]string{"Peer", "Nickname", "State", "Since", "Sent", "Received"})
	table.SetAutoWrapText(false)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetBorder(false)
	for _, p := range c.chat.Peers() {
		table.Append([]string{
			p.Peer.ID.Short(),
			p.Peer.Nickname,
			p.State.String(),
			p.Since.Local().Format("15:04:05"),
			strconv.FormatUint(total(p.Sent), 10),
			strconv.FormatUint(total(p.Received), 10),
		})
	}
	table.Render()
}

func total(v domain.VersionVector) uint64 {
	var sum uint64
	for _, seq := range v {
		sum += seq
	}
	return sum
}

func (c *commands) debug() {
	state := struct {
		Self     domain.PeerInfo
		Room     string
		Version  domain.VersionVector
		Peers    []domain.PeerSession
		Timeline int
		Pending  int
		Counters map[event.Type]uint64
	}{
		Self:     c.chat.Self(),
		Room:     c.chat.Room(),
		Version:  c.chat.Version(),
		Peers:    c.chat.Peers(),
		Timeline: c.timeline.Len(),
		Pending:  c.timeline.Pending(),
		Counters: map[event.Type]uint64{},
	}
	for _, t := range []event.Type{
		event.PeerStateChangedType,
		event.ConnectivityDegradedType,
		event.TransportFailureType,
		event.EventsMergedType,
		event.RestartedAfterPanicType,
	} {
		state.Counters[t] = c.counter.Get(t)
	}
	fmt.Fprintln(c.out, litter.Sdump(state))
}
