package cli

import (
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/term"

	"github.com/outpost-run/outpost/internal/runstore"
)

func newLogger(rawLevel, component string) (*log.Logger, error) {
	levelName := strings.TrimSpace(strings.ToLower(rawLevel))
	if levelName == "" {
		levelName = "info"
	}
	level, err := log.ParseLevel(levelName)
	if err != nil {
		return nil, fmt.Errorf("invalid --log-level %q: %w", rawLevel, err)
	}
	logger := log.NewWithOptions(os.Stderr, log.Options{
		Level:     level,
		Formatter: log.TextFormatter,
	})
	if !stderrIsTerminal() {
		logger.SetFormatter(log.LogfmtFormatter)
	}
	return logger.With("component", component), nil
}

func stderrIsTerminal() bool {
	return term.IsTerminal(int(os.Stderr.Fd()))
}

func renderHistory(w io.Writer, recs []runstore.Record) error {
	if len(recs) == 0 {
		_, err := fmt.Fprintln(w, "no recorded runs")
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "RUN ID\tPID\tSTARTED\tDURATION\tOUTCOME\tCOMMAND")
	for _, rec := range recs {
		duration := "-"
		if !rec.KilledAt.IsZero() && rec.KilledAt.After(rec.StartedAt) {
			duration = rec.KilledAt.Sub(rec.StartedAt).Round(time.Second).String()
		}
		fmt.Fprintf(tw, "%s\t%d\t%s\t%s\t%s\t%s\n",
			rec.RunID,
			rec.Pid,
			rec.StartedAt.Local().Format(time.DateTime),
			duration,
			rec.Outcome,
			truncateCommand(rec.Command, 48),
		)
	}
	return tw.Flush()
}

func truncateCommand(command string, max int) string {
	command = strings.Join(strings.Fields(command), " ")
	if len(command) <= max {
		return command
	}
	return command[:max-1] + "…"
}
