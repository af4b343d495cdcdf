package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/yungbote/neurobridge-lessons/internal/lessons/backends"
	"github.com/yungbote/neurobridge-lessons/internal/lessons/cache"
	"github.com/yungbote/neurobridge-lessons/internal/lessons/config"
	"github.com/yungbote/neurobridge-lessons/internal/lessons/lesson"
	"github.com/yungbote/neurobridge-lessons/internal/lessons/orchestrator"
	"github.com/yungbote/neurobridge-lessons/internal/lessons/skeleton"
	"github.com/yungbote/neurobridge-lessons/internal/lessons/slides"
	"github.com/yungbote/neurobridge-lessons/internal/observability"
	"github.com/yungbote/neurobridge-lessons/internal/platform/logger"
	"github.com/yungbote/neurobridge-lessons/internal/platform/shutdown"
)

var (
	subject string
	timeout time.Duration
	verbose bool
)

func main() {
	_ = godotenv.Load()

	rootCmd := &cobra.Command{
		Use:   "lessonctl",
		Short: "Build lesson skeletons and generate slides from the command line",
		Long: `lessonctl runs the lesson pipeline in-process against the configured backends.
All output is JSON (pipe through jq for human-readable formatting).`,
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVar(&subject, "subject", "", "Subject (defaults to the topic)")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 2*time.Minute, "Overall deadline")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Log pipeline activity to stderr")

	rootCmd.AddCommand(newSkeletonCommand())
	rootCmd.AddCommand(newGenerateCommand())
	rootCmd.AddCommand(newBackendsCommand())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newSkeletonCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "skeleton <topic>",
		Short: "Print the 14-stage outline for a topic",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sk, err := skeleton.Build(args[0], subject)
			if err != nil {
				return err
			}
			return outputJSON(sk)
		},
	}
}

func newGenerateCommand() *cobra.Command {
	var (
		index int
		all   bool
	)
	cmd := &cobra.Command{
		Use:   "generate <topic>",
		Short: "Generate one slide, or every slide in order with --all",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			gen, err := newGenerator()
			if err != nil {
				return err
			}
			ctx, stop := shutdown.NotifyContext(cmd.Context())
			defer stop()
			if timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, timeout)
				defer cancel()
			}

			if !all {
				s, err := gen.Generate(ctx, slides.Input{Index: index, Topic: args[0], Subject: subject})
				if err != nil {
					return err
				}
				return outputJSON(s)
			}

			var prev []lesson.Slide
			for i := 1; i <= lesson.TotalSlides; i++ {
				s, err := gen.Generate(ctx, slides.Input{Index: i, Topic: args[0], Subject: subject, Previous: prev})
				if err != nil {
					return fmt.Errorf("slide %d: %w", i, err)
				}
				prev = append(prev, s)
			}
			return outputJSON(prev)
		},
	}
	cmd.Flags().IntVarP(&index, "index", "i", 1, "Slide position (1-14)")
	cmd.Flags().BoolVar(&all, "all", false, "Generate the whole lesson sequentially")
	return cmd
}

func newBackendsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "backends",
		Short: "List configured generation backends in priority order",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			out := make([]any, 0, len(cfg.Backends))
			for _, b := range cfg.Backends {
				out = append(out, backends.Describe(b))
			}
			return outputJSON(out)
		},
	}
}

func newGenerator() (*slides.Generator, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	log := logger.Nop()
	if verbose {
		if log, err = logger.New(cfg.Env); err != nil {
			return nil, err
		}
	}
	providers, err := backends.Build(cfg.Backends)
	if err != nil {
		return nil, err
	}
	metrics := observability.New()
	return slides.New(
		log,
		orchestrator.New(log, metrics),
		providers,
		cache.NewMemory[lesson.Slide](lesson.TotalSlides, cfg.Cache.SlideTTL.Duration),
		metrics,
		slides.Options{
			SlideTTL:    cfg.Cache.SlideTTL.Duration,
			Temperature: cfg.Generation.Temperature,
			MaxTokens:   cfg.Generation.MaxTokens,
		},
	)
}

func outputJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
