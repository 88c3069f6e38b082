package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/ichi0g0y/stimky-sticker/internal/env"
	"github.com/ichi0g0y/stimky-sticker/internal/imageformat"
	"github.com/ichi0g0y/stimky-sticker/internal/label"
	"github.com/ichi0g0y/stimky-sticker/internal/localdb"
	"github.com/ichi0g0y/stimky-sticker/internal/output"
	"github.com/ichi0g0y/stimky-sticker/internal/quota"
	"github.com/spf13/cobra"
)

var (
	requester  string
	bwFlag     bool
	labelFlag  string
	forceWrite bool
)

func newPrintCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "print <image>",
		Short: "Print one image on the configured printer",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := loadConfig(); err != nil {
				return err
			}
			if _, err := localdb.SetupDB(localdb.MemoryDSN); err != nil {
				return err
			}
			defer localdb.CloseDB()

			printer, err := setupPrinter()
			if err != nil {
				return err
			}

			svc := newService(printer)
			if _, err := svc.Unlock(requester, env.Value.Password); err != nil {
				return err
			}
			job, err := svc.Submit(context.Background(), requester, args[0])
			if err != nil {
				return err
			}

			info, _ := svc.Info(requester)
			fmt.Fprintf(cmd.OutOrStdout(), "printed %s on %s (%s)\n", job.ArtifactPath, job.Printer, job.Label)
			fmt.Fprintln(cmd.OutOrStdout(), quota.Describe(info))
			return nil
		},
	}
	cmd.Flags().StringVarP(&requester, "requester", "r", "cli", "Requester id charged for the print")
	return cmd
}

func newFormatCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "format <image>",
		Short: "Format an image for a label without printing",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := loadConfig(); err != nil {
				return err
			}

			name := labelFlag
			if name == "" {
				name = env.Value.Printer.Label
			}
			l, err := label.Lookup(name)
			if err != nil {
				return err
			}
			opts, err := env.Value.ImageOptions()
			if err != nil {
				return err
			}

			format := imageformat.FormatGrayscale
			if bwFlag {
				format = imageformat.FormatBW
			}
			out, err := format(args[0], l, opts)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), out)
			return nil
		},
	}
	cmd.Flags().BoolVar(&bwFlag, "bw", false, "Write a 1-bit image instead of grayscale")
	cmd.Flags().StringVarP(&labelFlag, "label", "l", "", "Label name (defaults to the configured label)")
	return cmd
}

func newLabelsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "labels",
		Short: "List known labels and the printers accepting them",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "LABEL\tSIZE\tPIXELS\tPRINTERS")
			for _, l := range label.All() {
				var printers []string
				for _, k := range output.Kinds() {
					if label.Contains(output.SupportedLabels(k), l) {
						printers = append(printers, string(k))
					}
				}
				height := "continuous"
				if l.HeightPx != nil {
					height = fmt.Sprintf("%d", *l.HeightPx)
				}
				fmt.Fprintf(w, "%s\t%s\t%dx%s\t%s\n", l.Name, l.SizeDescriptor(), l.WidthPx, height, strings.Join(printers, ", "))
			}
			return w.Flush()
		},
	}
}

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage the config file",
	}

	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write a config file with default settings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := os.Stat(configPath); err == nil && !forceWrite {
				return fmt.Errorf("%s already exists (use --force to overwrite)", configPath)
			}
			if err := env.DefaultConfig().Save(configPath); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", configPath)
			return nil
		},
	}
	initCmd.Flags().BoolVarP(&forceWrite, "force", "f", false, "Overwrite an existing file")

	cmd.AddCommand(initCmd)
	return cmd
}
