package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/fmueller/voxscribe/internal/whisper"
	"github.com/spf13/cobra"
)

func newModelsCmd(app *appState) *cobra.Command {
	return &cobra.Command{
		Use:   "models",
		Short: "List known speech models and their download state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			modelDir, err := app.modelStorageDir()
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tINSTALLED\tDETECTS LANGUAGE\tPATH")
			for _, entry := range whisper.Catalog(modelDir) {
				name := entry.Name
				if entry.Default {
					name += " (" + whisper.DefaultAlias + ")"
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", name, yesNo(entry.Installed), yesNo(entry.Capabilities.LanguageDetection), entry.Path)
			}
			return w.Flush()
		},
	}
}

func yesNo(v bool) string {
	if v {
		return "yes"
	}
	return "no"
}
