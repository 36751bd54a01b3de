package main

import (
	"fmt"
	"text/tabwriter"

	"tunespace/api/client"

	"github.com/spf13/cobra"
)

func newDatasetsCmd() *cobra.Command {
	var server string

	datasets := &cobra.Command{
		Use:   "datasets",
		Short: "Upload and list training datasets on a running server",
	}
	datasets.PersistentFlags().StringVar(&server, "server", defaultServer, "tunespace server URL")

	upload := &cobra.Command{
		Use:   "upload <file>",
		Short: "Upload a .json, .jsonl or .csv dataset",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := client.New(server).UploadDataset(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), path)
			return nil
		},
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List uploaded datasets",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			items, err := client.New(server).ListDatasets(cmd.Context())
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tFORMAT\tSIZE\tPATH")
			for _, d := range items {
				fmt.Fprintf(w, "%s\t%s\t%d\t%s\n", d.Name, d.Format, d.Size, d.Path)
			}
			return w.Flush()
		},
	}

	datasets.AddCommand(upload, list)
	return datasets
}
