// Package cli implements the relay's interactive console.
package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"

	"github.com/space-project/spacerelay/internal/events"
	"github.com/space-project/spacerelay/internal/server"
)

// Relay is the read side of the relay that the console displays.
type Relay interface {
	Snapshot() *server.Snapshot
	Stats() server.StatsSnapshot
}

// CLI provides an interactive command-line interface.
type CLI struct {
	eventBus *events.EventBus
	relay    Relay

	in  io.Reader
	out io.Writer
}

// NewCLI creates a console reading commands from in and writing to out.
func NewCLI(eventBus *events.EventBus, relay Relay, in io.Reader, out io.Writer) *CLI {
	return &CLI{
		eventBus: eventBus,
		relay:    relay,
		in:       in,
		out:      out,
	}
}

// Start reads and executes commands until input ends, quit is entered or ctx
// is cancelled.
func (c *CLI) Start(ctx context.Context) {
	fmt.Fprintln(c.out, "\nspacerelay console ready. Type 'help' for available commands.")

	scanner := bufio.NewScanner(c.in)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		fmt.Fprint(c.out, "spacerelay> ")
		if !scanner.Scan() {
			return
		}

		parts := strings.Fields(scanner.Text())
		if len(parts) == 0 {
			continue
		}

		if quit := c.execute(ctx, strings.ToLower(parts[0]), parts[1:]); quit {
			return
		}
	}
}

// execute runs one command and reports whether the console should exit.
func (c *CLI) execute(ctx context.Context, cmd string, args []string) bool {
	switch cmd {
	case "help", "h", "?":
		c.printHelp()
	case "status", "s":
		c.printStatus()
	case "sessions":
		c.printSessions()
	case "stats":
		c.printStats()
	case "quit", "exit", "q":
		fmt.Fprintln(c.out, "Shutting down spacerelay...")
		c.eventBus.Emit(ctx, events.Event{
			Type:   events.EventShutdown,
			Source: "cli",
		})
		return true
	default:
		fmt.Fprintf(c.out, "Unknown command: '%s'. Type 'help' for available commands.\n", cmd)
	}
	return false
}

// printHelp displays available commands.
func (c *CLI) printHelp() {
	fmt.Fprintln(c.out)
	fmt.Fprintln(c.out, "  status      Show every slot")
	fmt.Fprintln(c.out, "  sessions    Show live sessions")
	fmt.Fprintln(c.out, "  stats       Show relay counters")
	fmt.Fprintln(c.out, "  quit        Shut down the relay")
	fmt.Fprintln(c.out, "  help        Show this help message")
	fmt.Fprintln(c.out)
}

// printStatus displays the slot table.
func (c *CLI) printStatus() {
	snap := c.relay.Snapshot()
	empty, pending, active := snap.Counts()

	fmt.Fprintln(c.out)
	tw := c.newTable([]string{"Slot", "State", "Peer", "Party", "Session", "Idle"})
	for _, v := range snap.Slots {
		row := []string{strconv.Itoa(v.Index), v.State.String(), "-", "-", "-", "-"}
		if v.State != events.SlotEmpty {
			row[2] = v.Peer
			row[3] = strconv.FormatUint(v.PartySize, 10)
			row[5] = v.Idle.Truncate(time.Millisecond).String()
		}
		if v.State == events.SlotActive {
			row[4] = strconv.FormatUint(v.SessionID, 10)
		}
		tw.Append(row)
	}
	tw.Render()

	fmt.Fprintf(c.out, "%d empty, %d pending, %d active\n\n", empty, pending, active)
}

// printSessions displays live sessions and their members.
func (c *CLI) printSessions() {
	sessions := c.relay.Snapshot().Sessions()
	if len(sessions) == 0 {
		fmt.Fprintln(c.out, "No live sessions")
		return
	}

	fmt.Fprintln(c.out)
	tw := c.newTable([]string{"Session", "Party", "Members"})
	for _, sess := range sessions {
		peers := make([]string, 0, len(sess.Members))
		for _, m := range sess.Members {
			peers = append(peers, m.Peer)
		}
		tw.Append([]string{
			strconv.FormatUint(sess.SessionID, 10),
			strconv.FormatUint(sess.PartySize, 10),
			strings.Join(peers, ", "),
		})
	}
	tw.Render()
	fmt.Fprintln(c.out)
}

// printStats displays the relay counters.
func (c *CLI) printStats() {
	st := c.relay.Stats()

	fmt.Fprintln(c.out)
	tw := c.newTable([]string{"Counter", "Value"})
	for _, row := range []struct {
		name  string
		value uint64
	}{
		{"packets received", st.PacketsReceived},
		{"handshakes claimed", st.HandshakesClaimed},
		{"duplicate handshakes", st.Duplicates},
		{"protocol drops", st.ProtocolDrops},
		{"capacity drops", st.CapacityDrops},
		{"unknown sender drops", st.UnknownDrops},
		{"pending sender drops", st.PendingDrops},
		{"oversize drops", st.OversizeDrops},
		{"peer resets", st.PeerResets},
		{"relayed", st.Relayed},
		{"send failures", st.SendFailures},
		{"sessions matched", st.SessionsMatched},
		{"evictions", st.Evictions},
		{"loop iterations", st.Iterations},
	} {
		tw.Append([]string{row.name, strconv.FormatUint(row.value, 10)})
	}
	tw.Render()
	fmt.Fprintln(c.out)
}

func (c *CLI) newTable(header []string) *tablewriter.Table {
	tw := tablewriter.NewWriter(c.out)
	tw.SetHeader(header)
	tw.SetBorder(true)
	tw.SetAutoWrapText(false)
	return tw
}
