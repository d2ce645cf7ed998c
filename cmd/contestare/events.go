package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/abelbrown/contestare/internal/audit"
)

const followPoll = 100 * time.Millisecond

// eventFilter selects events for display. Zero values match everything.
type eventFilter struct {
	kind   string
	level  string
	comp   string
	userID int64
}

// levelRank returns a numeric rank for filtering (higher = more severe).
func levelRank(level audit.Level) int {
	switch level {
	case audit.LevelInfo:
		return 1
	case audit.LevelWarn:
		return 2
	case audit.LevelError:
		return 3
	default:
		return 0
	}
}

func (f eventFilter) match(ev audit.Event) bool {
	if f.kind != "" && !strings.HasPrefix(string(ev.Kind), f.kind) {
		return false
	}
	if f.level != "" && levelRank(ev.Level) < levelRank(audit.Level(f.level)) {
		return false
	}
	if f.comp != "" && ev.Comp != f.comp {
		return false
	}
	if f.userID != 0 && ev.UserID != f.userID {
		return false
	}
	return true
}

func eventsCmd() *cobra.Command {
	var (
		filter  eventFilter
		tail    int
		follow  bool
		rawJSON bool
		file    string
	)
	cmd := &cobra.Command{
		Use:   "events",
		Short: "Tail the JSONL audit log",
		Example: `  contestare events --tail 20
  contestare events --kind payment --level warn
  contestare events -f --user 42`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if file == "" {
				cfg, err := loadConfig(cmd)
				if err != nil {
					return err
				}
				file = cfg.EventLogPath()
			}
			f, err := os.Open(file)
			if err != nil {
				return fmt.Errorf("%w\n  no event log at %s; run `contestare serve` first", err, file)
			}
			defer f.Close()

			out := cmd.OutOrStdout()
			all, err := audit.ReadTail(f, 0)
			if err != nil {
				return err
			}
			for _, ev := range lastMatching(all, tail, filter) {
				fmt.Fprintln(out, formatEvent(ev, rawJSON))
			}
			if !follow {
				return nil
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()
			return followEvents(ctx, f, out, filter, rawJSON)
		},
	}
	fl := cmd.Flags()
	fl.IntVarP(&tail, "tail", "n", 50, "number of recent events to show")
	fl.BoolVarP(&follow, "follow", "f", false, "keep printing new events")
	fl.StringVar(&filter.kind, "kind", "", "event kind prefix, e.g. 'payment'")
	fl.StringVar(&filter.level, "level", "", "minimum level: debug, info, warn, error")
	fl.StringVar(&filter.comp, "comp", "", "component name")
	fl.Int64Var(&filter.userID, "user", 0, "only events for this user id")
	fl.BoolVar(&rawJSON, "json", false, "print raw JSON lines")
	fl.StringVar(&file, "file", "", "event log path (default from config)")
	return cmd
}

// lastMatching returns the last n events accepted by f, oldest first.
func lastMatching(events []audit.Event, n int, f eventFilter) []audit.Event {
	var out []audit.Event
	for _, ev := range events {
		if f.match(ev) {
			out = append(out, ev)
		}
	}
	if n > 0 && len(out) > n {
		out = out[len(out)-n:]
	}
	return out
}

// followEvents polls r for appended lines until ctx is done.
func followEvents(ctx context.Context, r io.Reader, w io.Writer, f eventFilter, rawJSON bool) error {
	reader := bufio.NewReader(r)
	var partial []byte
	for {
		line, err := reader.ReadBytes('\n')
		if err == io.EOF {
			// Hold on to a half-written line until the rest arrives.
			partial = append(partial, line...)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(followPoll):
			}
			continue
		}
		if err != nil {
			return err
		}
		line = append(partial, line...)
		partial = nil

		var ev audit.Event
		if json.Unmarshal(line, &ev) != nil || !f.match(ev) {
			continue
		}
		fmt.Fprintln(w, formatEvent(ev, rawJSON))
	}
}

// formatEvent renders one event as a single line.
func formatEvent(ev audit.Event, rawJSON bool) string {
	if rawJSON {
		b, err := json.Marshal(ev)
		if err != nil {
			return fmt.Sprintf("{\"err\":%q}", err.Error())
		}
		return string(b)
	}

	lvl := strings.ToUpper(string(ev.Level))
	if lvl == "" {
		lvl = "?"
	}
	parts := []string{fmt.Sprintf("%s %-5s [%-7s] %-22s",
		ev.Time.Local().Format("15:04:05.000"), lvl, ev.Comp, ev.Kind)}

	if ev.Msg != "" {
		parts = append(parts, "- "+ev.Msg)
	}
	if ev.DurMs > 0 {
		parts = append(parts, fmt.Sprintf("(%.*fms)", durPrecision(ev.DurMs), ev.DurMs))
	}
	if ev.UserID != 0 {
		parts = append(parts, fmt.Sprintf("user=%d", ev.UserID))
	}
	if ev.Ref != 0 {
		parts = append(parts, fmt.Sprintf("ref=%d", ev.Ref))
	}
	if ev.Amount != 0 {
		parts = append(parts, fmt.Sprintf("amount=%.2f", ev.Amount))
	}
	if ev.Score != 0 {
		parts = append(parts, fmt.Sprintf("score=%d", ev.Score))
	}
	if ev.Err != "" {
		parts = append(parts, "err="+ev.Err)
	}
	return strings.Join(parts, " ")
}

func durPrecision(ms float64) int {
	if ms >= 100 {
		return 0
	}
	if ms >= 1 {
		return 1
	}
	return 2
}
