package main

import (
	"io"
	"os"

	"github.com/olekukonko/tablewriter"
	"github.com/samber/do/v2"
	"github.com/spf13/cobra"

	"node.town/scribe/config"
	"node.town/scribe/remote"
)

var modelsCmd = &cobra.Command{
	Use:   "models",
	Short: "List the configured remote transcription models",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		_, injector, err := bootstrap()
		if err != nil {
			return err
		}
		settings := do.MustInvoke[*config.Settings](injector)
		renderModels(os.Stdout, settings.AllModels())
		return nil
	},
}

func renderModels(w io.Writer, models []remote.Model) {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"ID", "Name", "Model", "API URL", "Key", "Description"})
	table.SetBorder(false)
	table.SetCenterSeparator("|")
	table.SetColumnSeparator("|")
	table.SetRowSeparator("-")
	table.SetAutoWrapText(false)
	table.SetAutoFormatHeaders(true)

	for _, m := range models {
		key := "-"
		if m.APIKey != "" {
			key = "set"
		}
		table.Append([]string{
			m.ID,
			m.Name,
			m.ModelName,
			m.APIURL,
			key,
			m.Description,
		})
	}

	table.Render()
}
