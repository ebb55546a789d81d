package cli

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"rat/internal/job"
	"rat/internal/runat"
)

const scriptColumnWidth = 40

func newListCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Args:    cobra.NoArgs,
		Short:   "List all jobs",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			jobs, err := a.mgr.All(ctx)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(a.stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tNAME\tSTATE\tRUN_AT\tSCRIPT\tRESULT")
			now := time.Now()
			for _, j := range jobs {
				result := ""
				if j.State == job.StateDone {
					r, err := a.mgr.Result(ctx, j)
					switch {
					case err == nil:
						result = exitLabel(r)
					case !errors.Is(err, job.ErrNotFound):
						return err
					}
				}
				fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\n",
					j.ID, dash(j.Name), j.State, runAtLabel(j.RunAt, now), oneLine(j.Script, scriptColumnWidth), result)
			}
			return tw.Flush()
		},
	}
}

func newAddCommand(a *app) *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "add <run_at> <script> [cwd]",
		Args:  cobra.RangeArgs(2, 3),
		Short: "Schedule a shell command",
		Long: `Schedule a shell command.

run_at accepts: now, +90s / in:1h30m, HH:MM (next occurrence),
"2006-01-02 15:04", RFC 3339, or a cron expression (cron:"*/5 * * * *", @hourly)
meaning its next fire time. cwd defaults to the current directory.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			at, err := runat.Parse(args[0])
			if err != nil {
				return err
			}
			cwd := ""
			if len(args) == 3 {
				cwd = args[2]
			} else if cwd, err = os.Getwd(); err != nil {
				return err
			}
			if cwd, err = filepath.Abs(cwd); err != nil {
				return err
			}
			j, err := job.New(args[1], at.At, cwd, job.WithName(name))
			if err != nil {
				return err
			}
			j, err = a.mgr.Enqueue(cmd.Context(), j)
			if err != nil {
				return err
			}
			fmt.Fprintln(a.stdout, j.ID)
			return nil
		},
	}
	cmd.Flags().StringVarP(&name, "name", "n", "", "display name")
	return cmd
}

func newCancelCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <id>",
		Args:  cobra.ExactArgs(1),
		Short: "Cancel a queued job",
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			lease, err := a.mgr.Claim(ctx, id)
			if err != nil {
				return fmt.Errorf("cancel job %d: %w", id, err)
			}
			defer lease.Release()
			if err := lease.Cancel(ctx); err != nil {
				return fmt.Errorf("cancel job %d: %w", id, err)
			}
			fmt.Fprintf(a.stdout, "canceled job %d\n", id)
			return nil
		},
	}
}

func newDeleteCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:     "delete <id>",
		Aliases: []string{"rm"},
		Args:    cobra.ExactArgs(1),
		Short:   "Delete a job and its result",
		RunE: func(cmd *cobra.Command, args []string) error {
			j, err := a.lookup(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if err := a.mgr.Delete(cmd.Context(), j); err != nil {
				return fmt.Errorf("delete job %d: %w", j.ID, err)
			}
			fmt.Fprintf(a.stdout, "deleted job %d\n", j.ID)
			return nil
		},
	}
}

func newLogCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "log <id>",
		Args:  cobra.ExactArgs(1),
		Short: "Print a finished job's stdout and stderr",
		RunE: func(cmd *cobra.Command, args []string) error {
			j, err := a.lookup(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			r, err := a.mgr.Result(cmd.Context(), j)
			if errors.Is(err, job.ErrNotFound) {
				return fmt.Errorf("job %d is %s: %w", j.ID, j.State, err)
			}
			if err != nil {
				return err
			}
			if _, err := io.WriteString(a.stdout, r.Stdout); err != nil {
				return err
			}
			_, err = io.WriteString(a.stderr, r.Stderr)
			return err
		},
	}
}

func exitLabel(r job.Result) string {
	if r.Status == nil {
		return "signal"
	}
	return fmt.Sprintf("exit=%d", *r.Status)
}

func runAtLabel(at, now time.Time) string {
	return at.Local().Format("2006-01-02 15:04:05") + " (" + humanize.RelTime(at, now, "ago", "from now") + ")"
}

func dash(s string) string {
	if strings.TrimSpace(s) == "" {
		return "-"
	}
	return s
}

// oneLine flattens newlines and shortens s to at most n runes.
func oneLine(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
