package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"tunespace/api/client"
	"tunespace/core/models"
	"tunespace/core/spec"

	"github.com/spf13/cobra"
)

const defaultServer = "http://localhost:9090"

func newJobsCmd() *cobra.Command {
	var server string

	jobs := &cobra.Command{
		Use:   "jobs",
		Short: "Manage fine-tuning jobs on a running server",
	}
	jobs.PersistentFlags().StringVar(&server, "server", defaultServer, "tunespace server URL")

	newClient := func() *client.Client { return client.New(server) }

	jobs.AddCommand(
		newJobsSubmitCmd(newClient),
		newJobsListCmd(newClient),
		newJobsStatusCmd(newClient),
		newJobsCancelCmd(newClient),
		newJobsEventsCmd(newClient),
		newJobsArtifactsCmd(newClient),
	)
	return jobs
}

func newJobsSubmitCmd(newClient func() *client.Client) *cobra.Command {
	var (
		file      string
		model     string
		dataset   string
		outputDir string
		epochs    int
		batchSize int
		lr        float64
		useLoRA   bool
	)

	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Submit a training job from flags or a YAML spec file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c := newClient()
			var (
				resp *client.StartResponse
				err  error
			)

			if file != "" {
				doc, rerr := os.ReadFile(file)
				if rerr != nil {
					return rerr
				}
				resp, err = c.StartTrainingYAML(cmd.Context(), string(doc))
			} else {
				if model == "" || dataset == "" {
					return fmt.Errorf("--model and --dataset are required without --file")
				}
				ts := spec.TrainingSpec{ModelName: model, DatasetPath: dataset, OutputDir: outputDir}
				flags := cmd.Flags()
				if flags.Changed("epochs") {
					ts.NumEpochs = &epochs
				}
				if flags.Changed("batch-size") {
					ts.BatchSize = &batchSize
				}
				if flags.Changed("learning-rate") {
					ts.LearningRate = &lr
				}
				if flags.Changed("lora") {
					ts.UseLoRA = &useLoRA
				}
				resp, err = c.StartTraining(cmd.Context(), ts)
			}
			if err != nil {
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), resp.JobID)
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVarP(&file, "file", "f", "", "YAML training spec")
	f.StringVar(&model, "model", "", "base model name")
	f.StringVar(&dataset, "dataset", "", "dataset path")
	f.StringVar(&outputDir, "output-dir", "", "output directory")
	f.IntVar(&epochs, "epochs", 3, "number of epochs")
	f.IntVar(&batchSize, "batch-size", 4, "per-device batch size")
	f.Float64Var(&lr, "learning-rate", 2e-5, "learning rate")
	f.BoolVar(&useLoRA, "lora", true, "train LoRA adapters")
	return cmd
}

func newJobsListCmd(newClient func() *client.Client) *cobra.Command {
	var status string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List jobs, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			jobs, err := newClient().ListJobs(cmd.Context(), models.JobStatus(status))
			if err != nil {
				return err
			}
			printJobs(cmd.OutOrStdout(), jobs)
			return nil
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "only show jobs in this status")
	return cmd
}

func newJobsStatusCmd(newClient func() *client.Client) *cobra.Command {
	return &cobra.Command{
		Use:   "status <job_id>",
		Short: "Show a job as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			job, err := newClient().GetJob(cmd.Context(), strings.TrimSpace(args[0]))
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(job)
		},
	}
}

func newJobsCancelCmd(newClient func() *client.Client) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <job_id>",
		Short: "Cancel a pending or running job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := strings.TrimSpace(args[0])
			if err := newClient().CancelJob(cmd.Context(), id); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s cancelled\n", id)
			return nil
		},
	}
}

func newJobsEventsCmd(newClient func() *client.Client) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "events <job_id>",
		Short: "Show the status transitions of a job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			evs, err := newClient().JobEvents(cmd.Context(), strings.TrimSpace(args[0]), limit)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "AT\tFROM\tTO\tREASON")
			for _, ev := range evs {
				from := "-"
				if ev.FromStatus != nil {
					from = string(*ev.FromStatus)
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", ev.At.Format(time.RFC3339), from, ev.ToStatus, ev.Reason)
			}
			return w.Flush()
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 100, "maximum number of events")
	return cmd
}

func newJobsArtifactsCmd(newClient func() *client.Client) *cobra.Command {
	return &cobra.Command{
		Use:   "artifacts <job_id>",
		Short: "List checkpoints and the saved model of a job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			items, err := newClient().JobArtifacts(cmd.Context(), strings.TrimSpace(args[0]))
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "TYPE\tSTEP\tURI")
			for _, a := range items {
				fmt.Fprintf(w, "%s\t%d\t%s\n", a.Type, a.Step, a.URI)
			}
			return w.Flush()
		},
	}
}

func printJobs(out io.Writer, jobs []models.Job) {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSTATUS\tPROGRESS\tMODEL\tCREATED")
	for _, j := range jobs {
		fmt.Fprintf(w, "%s\t%s\t%.1f%%\t%s\t%s\n",
			j.ID, j.Status, j.Progress, j.Config.ModelName, j.CreatedAt.Format(time.RFC3339))
	}
	w.Flush()
}
