// pakfs inspects and serves a layered game content filesystem.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/sunumi/pakfs/internal/checksum"
	"github.com/sunumi/pakfs/internal/config"
	"github.com/sunumi/pakfs/internal/export"
	"github.com/sunumi/pakfs/internal/fserr"
	"github.com/sunumi/pakfs/internal/metrics"
	"github.com/sunumi/pakfs/internal/vfs"
)

var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

var (
	cfgFile  string
	logLevel string
	basePath string
	homePath string
	game     string
)

func main() {
	os.Exit(run(os.Args[1:]))
}

// run executes the CLI and converts fatal filesystem errors into exit code 2.
func run(args []string) (code int) {
	defer func() {
		if r := recover(); r != nil {
			fe, ok := fserr.AsFatal(r)
			if !ok {
				panic(r)
			}
			log.Error().Err(fe).Msg("fatal filesystem error")
			code = 2
		}
	}()

	rootCmd := newRootCmd()
	rootCmd.SetArgs(args)
	if err := rootCmd.Execute(); err != nil {
		return 1
	}
	return 0
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "pakfs",
		Short: "pakfs - layered game content filesystem",
		Long: `pakfs merges loose directories and pk3 archives of a game install into one
read-mostly namespace, the way the game engine sees it.

Examples:
  # Show the search path
  pakfs path --base-path /opt/quake3

  # Find where a file comes from
  pakfs which maps/q3dm17.bsp

  # Export the merged namespace over NFS with metrics
  pakfs serve -c pakfs.yaml`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().StringVarP(&logLevel, "log-level", "l", "", "log level (overrides config)")
	rootCmd.PersistentFlags().StringVar(&basePath, "base-path", "", "install root (overrides config)")
	rootCmd.PersistentFlags().StringVar(&homePath, "home-path", "", "writable root (overrides config)")
	rootCmd.PersistentFlags().StringVarP(&game, "game", "g", "", "mod directory (overrides config)")

	rootCmd.AddCommand(
		&cobra.Command{
			Use:   "path",
			Short: "Show the search path and open handles",
			Args:  cobra.NoArgs,
			RunE: withFS(func(cmd *cobra.Command, fs *vfs.FS, _ []string) error {
				fs.PrintPath(cmd.OutOrStdout())
				return nil
			}),
		},
		&cobra.Command{
			Use:   "dir <path> [ext]",
			Short: "List a virtual directory",
			Args:  cobra.RangeArgs(1, 2),
			RunE: withFS(func(cmd *cobra.Command, fs *vfs.FS, args []string) error {
				ext := ""
				if len(args) > 1 {
					ext = args[1]
				}
				fs.Dir(cmd.OutOrStdout(), args[0], ext)
				return nil
			}),
		},
		&cobra.Command{
			Use:   "fdir <glob>",
			Short: "List every file matching a glob",
			Args:  cobra.ExactArgs(1),
			RunE: withFS(func(cmd *cobra.Command, fs *vfs.FS, args []string) error {
				return fs.NewDir(cmd.OutOrStdout(), args[0])
			}),
		},
		&cobra.Command{
			Use:   "which <file>",
			Short: "Show which layer serves a file",
			Args:  cobra.ExactArgs(1),
			RunE: withFS(func(cmd *cobra.Command, fs *vfs.FS, args []string) error {
				if !fs.Which(cmd.OutOrStdout(), args[0]) {
					return fserr.ErrNotFound
				}
				return nil
			}),
		},
		&cobra.Command{
			Use:   "touch <file>",
			Short: "Open a file so its archive counts as referenced",
			Args:  cobra.ExactArgs(1),
			RunE: withFS(func(cmd *cobra.Command, fs *vfs.FS, args []string) error {
				if err := fs.TouchFile(args[0]); err != nil {
					return err
				}
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), fs.ReferencedPakNames())
				return nil
			}),
		},
		&cobra.Command{
			Use:   "cat <file>",
			Short: "Print a file from the search path",
			Args:  cobra.ExactArgs(1),
			RunE: withFS(func(cmd *cobra.Command, fs *vfs.FS, args []string) error {
				data, err := fs.ReadFile(args[0])
				if err != nil {
					return err
				}
				_, err = cmd.OutOrStdout().Write(data)
				return err
			}),
		},
		&cobra.Command{
			Use:   "checksums",
			Short: "Print loaded and referenced archive checksums",
			Args:  cobra.NoArgs,
			RunE: withFS(func(cmd *cobra.Command, fs *vfs.FS, _ []string) error {
				printChecksums(cmd.OutOrStdout(), fs)
				return nil
			}),
		},
		newMissingCmd(),
		&cobra.Command{
			Use:   "mods",
			Short: "List mod directories",
			Args:  cobra.NoArgs,
			RunE: withFS(func(cmd *cobra.Command, fs *vfs.FS, _ []string) error {
				for _, m := range fs.ListMods() {
					_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%-16s %s\n", m.Name, m.Description)
				}
				return nil
			}),
		},
		newServeCmd(),
		&cobra.Command{
			Use:   "version",
			Short: "Print version information",
			Run: func(cmd *cobra.Command, args []string) {
				out := cmd.OutOrStdout()
				_, _ = fmt.Fprintf(out, "pakfs %s\n", Version)
				_, _ = fmt.Fprintf(out, "  Commit:     %s\n", Commit)
				_, _ = fmt.Fprintf(out, "  Build Time: %s\n", BuildTime)
			},
		},
	)
	return rootCmd
}

func newMissingCmd() *cobra.Command {
	var sums, names string
	var dl bool
	cmd := &cobra.Command{
		Use:   "missing",
		Short: "Compare an authority's referenced archives with the local ones",
		Args:  cobra.NoArgs,
		RunE: withFS(func(cmd *cobra.Command, fs *vfs.FS, _ []string) error {
			list, pakNames, err := vfs.ParsePakList(sums, names)
			if err != nil {
				return err
			}
			fs.SetPureReferencedPaks(list, pakNames)
			out, missing := fs.ComparePaks(dl)
			if !missing {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), "all referenced archives are present")
				return nil
			}
			_, _ = fmt.Fprint(cmd.OutOrStdout(), out)
			if dl {
				_, _ = fmt.Fprintln(cmd.OutOrStdout())
			}
			return nil
		}),
	}
	cmd.Flags().StringVar(&sums, "sums", "", "space separated referenced checksums")
	cmd.Flags().StringVar(&names, "names", "", "space separated referenced names (gamedir/basename)")
	cmd.Flags().BoolVar(&dl, "dl", false, "print the @remote@local download string")
	_ = cmd.MarkFlagRequired("sums")
	return cmd
}

func newServeCmd() *cobra.Command {
	var salt int32
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Export the search path over NFS and serve metrics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if !cfg.Export.Enabled && !cfg.Metrics.Enabled {
				return errors.New("nothing to serve: enable export and/or metrics")
			}

			m := metrics.InitMetrics(cfg.BaseGame)
			fs, err := startFS(cfg, m, salt)
			if err != nil {
				return err
			}
			defer func() { _ = fs.Shutdown() }()

			var nfsServer *export.Server
			if cfg.Export.Enabled {
				nets, err := cfg.Export.Networks()
				if err != nil {
					return err
				}
				handler := export.NewHandler(export.NewFilesystem(fs, cfg.Export.Writable), export.HandlerOptions{
					Name:         cfg.Export.Name,
					AllowedNets:  nets,
					CacheHandles: cfg.Export.CacheHandles,
					Logger:       log.Logger,
				})
				nfsServer = export.NewServer(handler, cfg.Export.Listen, log.Logger)
				if err := nfsServer.Start(); err != nil {
					return fmt.Errorf("start NFS server: %w", err)
				}
				defer func() { _ = nfsServer.Stop() }()
			}

			var httpServer *http.Server
			if cfg.Metrics.Enabled {
				mux := http.NewServeMux()
				mux.Handle(cfg.Metrics.Path, metrics.Handler())
				httpServer = &http.Server{
					Addr:              cfg.Metrics.Listen,
					Handler:           mux,
					ReadHeaderTimeout: 10 * time.Second,
				}
				go func() {
					log.Info().Str("addr", cfg.Metrics.Listen).Str("path", cfg.Metrics.Path).Msg("metrics server started")
					if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
						log.Error().Err(err).Msg("metrics server error")
					}
				}()
			}

			sigChan := make(chan os.Signal, 1)
			signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
			sig := <-sigChan
			log.Info().Str("signal", sig.String()).Msg("shutting down")

			if httpServer != nil {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = httpServer.Shutdown(ctx)
			}
			return nil
		},
	}
	cmd.Flags().Int32Var(&salt, "salt", 0, "checksum salt (random when zero)")
	return cmd
}

// withFS loads the configuration, starts a filesystem for one command and
// shuts it down afterwards.
func withFS(fn func(cmd *cobra.Command, fs *vfs.FS, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		fs, err := startFS(cfg, nil, 0)
		if err != nil {
			return err
		}
		defer func() { _ = fs.Shutdown() }()
		return fn(cmd, fs, args)
	}
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}
	if basePath != "" {
		// The home path defaults to the base path and follows it.
		if cfg.HomePath == cfg.BasePath {
			cfg.HomePath = basePath
		}
		cfg.BasePath = basePath
	}
	if homePath != "" {
		cfg.HomePath = homePath
	}
	if game != "" {
		cfg.Game = game
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	setupLogging(cfg.LogLevel)
	return cfg, nil
}

// startFS starts a filesystem. Missing default content is logged, not
// returned, so inspection commands still work on a partial install.
func startFS(cfg *config.Config, m *metrics.FSMetrics, salt int32) (*vfs.FS, error) {
	if salt == 0 {
		salt = checksum.NewSalt()
	}
	fs := vfs.New(cfg.VFSOptions(log.Logger, m))
	if err := fs.Startup(salt); err != nil {
		if !errors.Is(err, fserr.ErrMissingContent) {
			return nil, err
		}
		log.Warn().Err(err).Msg("filesystem started without required content")
	}
	return fs, nil
}

func printChecksums(w io.Writer, fs *vfs.FS) {
	_, _ = fmt.Fprintf(w, "loaded:            %s\n", fs.LoadedPakNames())
	_, _ = fmt.Fprintf(w, "loaded sums:       %s\n", fs.LoadedPakChecksums())
	_, _ = fmt.Fprintf(w, "loaded pure sums:  %s\n", fs.LoadedPakPureChecksums())
	_, _ = fmt.Fprintf(w, "referenced:        %s\n", fs.ReferencedPakNames())
	_, _ = fmt.Fprintf(w, "referenced sums:   %s\n", fs.ReferencedPakChecksums())
}

func setupLogging(level string) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
}
