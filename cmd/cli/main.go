package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	config "github.com/cochaviz/ecu/config"
	"github.com/cochaviz/ecu/internal/logging"
	"github.com/cochaviz/ecu/internal/setup"
	"github.com/cochaviz/ecu/internal/version"
)

const defaultLogLevel = "info"

func main() {
	var levelVar slog.LevelVar
	levelVar.Set(slog.LevelInfo)

	logger := logging.New(logging.FormatText, os.Stderr, &levelVar)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := newRootCommand(logger, &levelVar)
	if err := root.ExecuteContext(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			logger.Warn("command interrupted", "error", err)
			os.Exit(130)
		}
		logger.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

// globalOptions are the persistent flags shared by every command.
type globalOptions struct {
	logLevel   string
	logFormat  string
	configPath string
	storeDir   string
}

func newRootCommand(logger *slog.Logger, levelVar *slog.LevelVar) *cobra.Command {
	opts := &globalOptions{}

	root := &cobra.Command{
		Use:           "ecu",
		Short:         "Build execution container unit (ECU) packages from container.yml specifications",
		Version:       version.String(),
		SilenceErrors: true,
		SilenceUsage:  true,
	}

	flags := root.PersistentFlags()
	flags.StringVar(&opts.logLevel, "log-level", defaultLogLevel, "Set log verbosity (debug, info, warning, error)")
	flags.StringVar(&opts.logFormat, "log-format", string(logging.FormatText), "Set log format (text, json)")
	flags.StringVar(&opts.configPath, "config", "", "Configuration file (default: $XDG_CONFIG_HOME/ecu/config.yml)")
	flags.StringVar(&opts.storeDir, "store", "", "Package store directory (default: $XDG_DATA_HOME/ecu/packages)")

	root.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		level, err := logging.ParseLevel(opts.logLevel)
		if err != nil {
			return err
		}
		format, err := logging.ParseFormat(opts.logFormat)
		if err != nil {
			return err
		}
		if levelVar != nil {
			levelVar.Set(level)
		}
		if format != logging.FormatText {
			*logger = *logging.New(format, os.Stderr, levelVar)
			slog.SetDefault(logger)
		}
		setup.SetLogger(logger.With("component", "setup"))
		return nil
	}

	root.AddCommand(
		newBuildCommand(logger, opts),
		newGenerateCommand(opts),
		newListCommand(logger, opts),
		newRemoveCommand(logger, opts),
		newVersionCommand(),
	)
	return root
}

// loadConfig resolves defaults, the configuration file and the command-line
// overrides, in increasing order of precedence.
func loadConfig(opts *globalOptions, releaseVersion string) (setup.Config, error) {
	var builtin string
	if v, ok := version.Release(); ok {
		builtin = v
	}

	cfg, err := setup.Load(opts.configPath, setup.Default(builtin))
	if err != nil {
		return cfg, err
	}
	if releaseVersion != "" {
		cfg.Init.Version = releaseVersion
	}
	if opts.storeDir != "" {
		cfg.StoreDir = opts.storeDir
	}
	return cfg, cfg.Validate()
}

type buildFlags struct {
	contextDir     string
	file           string
	initPath       string
	archiver       string
	releaseVersion string
}

func (f *buildFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.contextDir, "context", ".", "Build context; declared files are resolved against it")
	cmd.Flags().StringVarP(&f.file, "file", "f", "", "Specification file, relative to the context (default: container.yml)")
	cmd.Flags().StringVar(&f.initPath, "init", "", "Local init binary to use instead of the released launcher")
	cmd.Flags().StringVar(&f.releaseVersion, "release-version", "", "Release of the init launcher to download (default: this builder's version)")
}

func (f *buildFlags) options(opts *globalOptions) (config.BuildOptions, error) {
	cfg, err := loadConfig(opts, strings.TrimSpace(f.releaseVersion))
	if err != nil {
		return config.BuildOptions{}, err
	}
	if f.archiver != "" {
		cfg.Archiver = f.archiver
	}
	return config.BuildOptions{
		ContextDir: f.contextDir,
		File:       f.file,
		InitPath:   f.initPath,
		Config:     cfg,
	}, nil
}

func newBuildCommand(logger *slog.Logger, opts *globalOptions) *cobra.Command {
	flags := &buildFlags{}

	cmd := &cobra.Command{
		Use:   "build",
		Args:  cobra.NoArgs,
		Short: "Stage an ECU package and build its image",
		RunE: func(cmd *cobra.Command, args []string) error {
			buildOpts, err := flags.options(opts)
			if err != nil {
				return err
			}

			cmdLogger := logger.With("command", "build")
			cmdLogger.Debug("starting build", "context", buildOpts.ContextDir, "store", buildOpts.Config.StoreDir, "archiver", buildOpts.Config.Archiver)

			result, err := config.BuildPackage(cmd.Context(), buildOpts, cmdLogger)
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Successfully built version %s of ECU package %s.\n", result.Manifest.Version, result.Manifest.Name)
			return nil
		},
	}

	flags.register(cmd)
	cmd.Flags().StringVar(&flags.archiver, "archiver", "", "Working directory archiver (tar, builtin)")
	return cmd
}

func newGenerateCommand(opts *globalOptions) *cobra.Command {
	flags := &buildFlags{}
	var manifestOnly bool

	cmd := &cobra.Command{
		Use:   "generate",
		Args:  cobra.NoArgs,
		Short: "Print the Dockerfile and package manifest without staging anything",
		RunE: func(cmd *cobra.Command, args []string) error {
			buildOpts, err := flags.options(opts)
			if err != nil {
				return err
			}

			generated, err := config.Generate(buildOpts)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if !manifestOnly {
				fmt.Fprint(out, generated.Dockerfile)
				fmt.Fprintln(out, "---")
			}
			_, err = out.Write(generated.Manifest)
			return err
		},
	}

	flags.register(cmd)
	cmd.Flags().BoolVar(&manifestOnly, "manifest-only", false, "Print only package.yml")
	return cmd
}

func newListCommand(logger *slog.Logger, opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list [name]",
		Args:  cobra.MaximumNArgs(1),
		Short: "List staged packages and whether their image was built",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(opts, "")
			if err != nil {
				return err
			}

			var name string
			if len(args) == 1 {
				name = strings.TrimSpace(args[0])
			}

			cmdLogger := logger.With("command", "list")
			summaries, err := config.List(cfg.StoreDir, name, cmdLogger)
			if err != nil {
				return err
			}
			if len(summaries) == 0 {
				cmdLogger.Warn("no packages found", "store", cfg.StoreDir)
				return nil
			}

			for _, summary := range summaries {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t(built: %t)\t%s\n",
					summary.Name, summary.Version, summary.Built, strings.Join(summary.Functions, ","))
			}
			return nil
		},
	}
	return cmd
}

func newRemoveCommand(logger *slog.Logger, opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "remove <name> <version>",
		Args:  cobra.ExactArgs(2),
		Short: "Remove a staged package version from the store",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(opts, "")
			if err != nil {
				return err
			}
			return config.Remove(cfg.StoreDir, args[0], args[1], logger.With("command", "remove"))
		},
	}
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Args:  cobra.NoArgs,
		Short: "Print the builder version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version.String())
		},
	}
}
