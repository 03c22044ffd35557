package cli

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/fmueller/voxscribe/internal/history"
	"github.com/spf13/cobra"
)

func newHistoryCmd(app *appState) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history [id]",
		Short: "Show recently recorded transcripts",
		Long:  "Show recently recorded transcripts, or the full record of one transcript by id.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := app.historyFn(app.cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			if len(args) == 1 {
				entry, err := store.Get(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				printHistoryEntry(cmd.OutOrStdout(), entry)
				return nil
			}

			entries, err := store.Recent(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if len(entries) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No transcripts recorded yet.")
				return nil
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tWHEN\tMODEL\tLANG\tAUDIO\tTEXT")
			for _, e := range entries {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
					e.ID,
					e.CreatedAt.Local().Format(time.DateTime),
					e.Model,
					dash(e.Language),
					dash(e.AudioPath),
					historyText(e),
				)
			}
			return w.Flush()
		},
	}

	cmd.Flags().IntVar(&limit, "limit", history.DefaultLimit, "Number of entries to show")
	return cmd
}

func printHistoryEntry(out io.Writer, e history.Entry) {
	fmt.Fprintf(out, "id:       %s\n", e.ID)
	fmt.Fprintf(out, "when:     %s\n", e.CreatedAt.Local().Format(time.DateTime))
	fmt.Fprintf(out, "model:    %s\n", dash(e.Model))
	fmt.Fprintf(out, "language: %s\n", dash(e.Language))
	fmt.Fprintf(out, "audio:    %s\n", dash(e.AudioPath))
	fmt.Fprintf(out, "elapsed:  %s\n", e.Elapsed.Round(time.Millisecond))
	if e.ErrorKind != "" {
		fmt.Fprintf(out, "error:    %s\n", e.ErrorKind)
	}
	fmt.Fprintf(out, "\n%s\n", e.Text)
}

func historyText(e history.Entry) string {
	if e.ErrorKind != "" {
		return "error: " + e.ErrorKind
	}
	text := strings.Join(strings.Fields(e.Text), " ")
	if len([]rune(text)) > 60 {
		text = string([]rune(text)[:59]) + "…"
	}
	return dash(text)
}

func dash(v string) string {
	if v == "" {
		return "-"
	}
	return v
}
