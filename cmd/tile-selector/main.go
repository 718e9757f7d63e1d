package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/menta2k/tile-selector/internal/config"
	"github.com/menta2k/tile-selector/pkg/apperr"
	"github.com/menta2k/tile-selector/pkg/pipeline"
	"github.com/menta2k/tile-selector/pkg/server"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		stop()
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "tile-selector",
		Short:         "Cut annotated images into the few tiles that keep every annotation",
		SilenceUsage:  true,
		SilenceErrors: true,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
	}

	rootCmd.PersistentFlags().String("config", "", "config file (JSON); built-in defaults when empty")
	rootCmd.PersistentFlags().String("override", "", "config file whose non-null keys replace the base config")
	rootCmd.PersistentFlags().String("log-level", "", "debug|info|warn|error (overrides runtime.log_level)")

	rootCmd.AddCommand(
		newPipelineCmd("image", "Tile a single image", pipeline.RunImage),
		newPipelineCmd("dir", "Tile every image of a directory", pipeline.RunDirectory),
		newServeCmd(),
	)
	return rootCmd
}

type runFunc func(context.Context, *config.Config) (*pipeline.Summary, error)

func newPipelineCmd(use, short string, run runFunc) *cobra.Command {
	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err == nil {
				err = applyFlags(cmd, cfg)
			}
			var summary *pipeline.Summary
			if err == nil {
				setupLogging(cmd, cfg)
				summary, err = run(cmd.Context(), cfg)
			}

			if werr := writeReport(cmd.OutOrStdout(), apperr.NewReport(summary, err)); werr != nil {
				return werr
			}
			if err != nil {
				return err
			}
			writeSummary(cmd.ErrOrStderr(), summary)
			return nil
		},
	}

	flags := cmd.Flags()
	flags.String("annotations", "", "input COCO annotation file")
	if use == "image" {
		flags.String("image", "", "input image")
	} else {
		flags.String("images-dir", "", "directory of input images")
		flags.Int("workers", 0, "images processed in parallel, 0 = one per CPU")
	}
	flags.String("out", "", "output directory for tiles")
	flags.String("out-annotations", "", "output COCO annotation file")
	flags.IntSlice("tile-size", nil, "tile height,width")
	flags.IntSlice("stride", nil, "stride height,width")
	flags.String("threshold", "", "polygon visibility threshold in (0,1]")
	flags.Bool("skip-degenerate", false, "skip zero-area annotations instead of failing")
	flags.String("format", "", "tile format: jpg|png|webp")
	flags.Int("quality", 0, "JPEG/WebP quality (1-100)")
	flags.Bool("lossless", false, "WebP lossless mode")
	flags.Bool("draw", false, "write annotation overlays to <out>/annotated_image")
	return cmd
}

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the pipelines over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("log-level") {
				cfg.Runtime.LogLevel, _ = cmd.Flags().GetString("log-level")
			}
			setupLogging(cmd, cfg)
			addr, _ := cmd.Flags().GetString("addr")
			roots, _ := cmd.Flags().GetStringSlice("root")
			return server.New(cfg, roots...).Serve(cmd.Context(), addr)
		},
	}
	cmd.Flags().String("addr", ":8080", "listen address")
	cmd.Flags().StringSlice("root", []string{"."}, "directories request paths must stay under")
	return cmd
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	override, _ := cmd.Flags().GetString("override")
	return config.LoadWithOverride(path, override)
}

// applyFlags copies every flag the user set into cfg
func applyFlags(cmd *cobra.Command, cfg *config.Config) error {
	flags := cmd.Flags()
	str := func(name string, dst *string) {
		if flags.Changed(name) {
			*dst, _ = flags.GetString(name)
		}
	}
	num := func(name string, dst *int) {
		if flags.Changed(name) {
			*dst, _ = flags.GetInt(name)
		}
	}
	flag := func(name string, dst *bool) {
		if flags.Changed(name) {
			*dst, _ = flags.GetBool(name)
		}
	}
	pair := func(name string, dst *[]int) {
		if flags.Changed(name) {
			*dst, _ = flags.GetIntSlice(name)
		}
	}

	str("annotations", &cfg.Input.AnnotationPath)
	if flags.Lookup("image") != nil {
		str("image", &cfg.Input.ImagePath)
	}
	if flags.Lookup("images-dir") != nil {
		str("images-dir", &cfg.Input.ImagesDir)
		num("workers", &cfg.Runtime.Workers)
	}
	str("out", &cfg.Output.OutputDir)
	str("out-annotations", &cfg.Output.AnnotationPath)
	pair("tile-size", &cfg.Tiling.TileSize)
	pair("stride", &cfg.Tiling.Stride)
	flag("skip-degenerate", &cfg.Tiling.SkipDegenerate)
	str("format", &cfg.Output.Format)
	num("quality", &cfg.Output.Quality)
	flag("lossless", &cfg.Output.Lossless)
	flag("draw", &cfg.Output.DrawAnnotations)
	str("log-level", &cfg.Runtime.LogLevel)

	if flags.Changed("threshold") {
		raw, _ := flags.GetString("threshold")
		if err := cfg.Tiling.Threshold.UnmarshalJSON([]byte(strconv.Quote(raw))); err != nil {
			return err
		}
	}
	return nil
}

func setupLogging(cmd *cobra.Command, cfg *config.Config) {
	level, err := config.ParseLevel(cfg.Runtime.LogLevel)
	if err != nil {
		level = slog.LevelInfo
	}
	handler := slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level})
	slog.SetDefault(slog.New(handler))
}

func writeReport(w io.Writer, report apperr.Report) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", " ")
	return enc.Encode(report)
}

func writeSummary(w io.Writer, summary *pipeline.Summary) {
	var data [][]string
	for _, img := range summary.Images {
		data = append(data, []string{
			img.Image,
			strconv.Itoa(img.TileCount),
			joinInts(img.Selected),
			fmt.Sprintf("%d/%d", img.Annotations, img.SourceAnnotations),
		})
	}

	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"IMAGE", "TILES", "SELECTED", "ANNOTATIONS"})
	table.SetFooter([]string{"", "", strconv.Itoa(summary.Tiles), strconv.Itoa(summary.Annotations)})
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetBorder(false)
	table.AppendBulk(data)
	table.Render()
}

func joinInts(ids []int) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.Itoa(id)
	}
	return strings.Join(parts, ",")
}
