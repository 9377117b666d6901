package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
	"github.com/go-pluto/gallery/api"
	"github.com/go-pluto/gallery/config"
	"github.com/spf13/cobra"
)

// Variables

var (
	configFlag   string
	envFlag      string
	loglevelFlag string
)

var rootCmd = &cobra.Command{
	Use:   "gallery",
	Short: "A peer-to-peer shared image gallery",
	Long: `gallery keeps a shared set of files among peers. Every
writer appends to its own log, logs are exchanged between
peers and every peer derives the same view from them.`,
	SilenceUsage: true,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a gallery peer",
	Args:  cobra.NoArgs,
	RunE:  runPeer,
}

var createCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a new space on the running peer",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(func(ctx context.Context, c *api.Client) error {

			root, err := c.CreateSpace(ctx)
			if err != nil {
				return err
			}

			fmt.Println(root)
			return nil
		})
	},
}

var joinCmd = &cobra.Command{
	Use:   "join <token>",
	Short: "Join the space an invite token belongs to",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(func(ctx context.Context, c *api.Client) error {

			st, err := c.Join(ctx, args[0])
			if err != nil {
				return err
			}

			printStatus(st)
			return nil
		})
	},
}

var retryCmd = &cobra.Command{
	Use:   "retry",
	Short: "Wait again for a join that timed out",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(func(ctx context.Context, c *api.Client) error {

			st, err := c.RetryJoin(ctx)
			if err != nil {
				return err
			}

			printStatus(st)
			return nil
		})
	},
}

var cancelCmd = &cobra.Command{
	Use:   "cancel",
	Short: "Abort the join in progress",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(func(ctx context.Context, c *api.Client) error {
			return c.CancelJoin(ctx)
		})
	},
}

var inviteCmd = &cobra.Command{
	Use:   "invite",
	Short: "Create a one-time invite token",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(func(ctx context.Context, c *api.Client) error {

			token, err := c.Invite(ctx)
			if err != nil {
				return err
			}

			fmt.Println(token)
			return nil
		})
	},
}

var putCmd = &cobra.Command{
	Use:   "put <path> [name]",
	Short: "Add a file to the space",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {

		blob, err := os.ReadFile(args[0])
		if err != nil {
			return err
		}

		name := filepath.Base(args[0])
		if len(args) == 2 {
			name = args[1]
		}

		return withClient(func(ctx context.Context, c *api.Client) error {

			f, err := c.Put(ctx, name, blob)
			if err != nil {
				return err
			}

			fmt.Printf("%s\t%s\n", f.Filename, f.Ref)
			return nil
		})
	},
}

var getCmd = &cobra.Command{
	Use:   "get <name> [path]",
	Short: "Fetch a file of the space",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {

		path := args[0]
		if len(args) == 2 {
			path = args[1]
		}

		return withClient(func(ctx context.Context, c *api.Client) error {

			blob, err := c.Get(ctx, args[0])
			if err != nil {
				return err
			}

			return os.WriteFile(path, blob, 0644)
		})
	},
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List the files of the space",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(func(ctx context.Context, c *api.Client) error {

			files, err := c.List(ctx)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tSIZE\tWRITER\tADDED")
			for _, f := range files {
				fmt.Fprintf(w, "%s\t%d\t%.8s\t%s\n", f.Filename, f.Size, f.Writer,
					time.UnixMilli(f.Timestamp).Format(time.RFC3339))
			}

			return w.Flush()
		})
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show membership of the running peer",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(func(ctx context.Context, c *api.Client) error {

			st, err := c.Status(ctx)
			if err != nil {
				return err
			}

			printStatus(st)
			return nil
		})
	},
}

// Functions

func init() {

	rootCmd.PersistentFlags().StringVar(&configFlag, "config", "config.toml", "Provide path to configuration file in TOML syntax.")
	rootCmd.PersistentFlags().StringVar(&envFlag, "env", ".env", "Provide path to an optional .env file with host specific settings.")
	rootCmd.PersistentFlags().StringVar(&loglevelFlag, "loglevel", "", "This flag sets the default logging level.")

	rootCmd.AddCommand(runCmd, createCmd, joinCmd, retryCmd, cancelCmd, inviteCmd, putCmd, getCmd, listCmd, statusCmd)
}

// initLogger initializes a JSON gokit-logger set
// to the according log level supplied via cli flag.
func initLogger(loglevel string) log.Logger {

	logger := log.NewJSONLogger(log.NewSyncWriter(os.Stdout))
	logger = log.With(logger,
		"ts", log.DefaultTimestampUTC,
		"caller", log.DefaultCaller,
	)

	switch strings.ToLower(loglevel) {
	case "info":
		logger = level.NewFilter(logger, level.AllowInfo())
	case "warn":
		logger = level.NewFilter(logger, level.AllowWarn())
	case "error":
		logger = level.NewFilter(logger, level.AllowError())
	default:
		logger = level.NewFilter(logger, level.AllowDebug())
	}

	return logger
}

// loadConfig reads the config file and applies
// the host environment on top of it.
func loadConfig() (*config.Config, *config.Env, error) {

	env, err := config.LoadEnv(envFlag)
	if err != nil {
		return nil, nil, err
	}

	conf, err := config.LoadConfig(configFlag)
	if err != nil {
		return nil, nil, err
	}
	env.Apply(conf)

	return conf, env, nil
}

// withClient runs fn against the API of the peer
// configured in the config file.
func withClient(fn func(context.Context, *api.Client) error) error {

	conf, _, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return fn(ctx, api.NewClient(conf.Node.APIAddr))
}

func printStatus(st *api.Status) {

	if !st.Member {
		fmt.Printf("not a member of any space (join: %s)\n", st.Joining)
		return
	}

	fmt.Printf("space:    %s\n", st.Root)
	fmt.Printf("writer:   %s\n", st.Local)
	fmt.Printf("writable: %t\n", st.Writable)
	fmt.Printf("files:    %d\n", st.Files)
	fmt.Printf("writers:  %d\n", st.Writers)
}

func runPeer(cmd *cobra.Command, args []string) error {

	conf, env, err := loadConfig()
	if err != nil {
		return err
	}

	loglevel := loglevelFlag
	if loglevel == "" {
		loglevel = env.LogLevel
	}
	logger := initLogger(loglevel)

	name := conf.Node.Name
	if name == "" {
		name = "gallery"
	}

	flush, err := initTracing(logger, name, conf.Tracing.JaegerEndpoint)
	if err != nil {
		level.Error(logger).Log("msg", "failed to initialize tracing", "err", err)
		return err
	}

	m := NewGalleryMetrics(conf.Node.PrometheusAddr)
	go runPromHTTP(logger, conf.Node.PrometheusAddr)

	n, err := newNode(logger, conf, m)
	if err != nil {
		level.Error(logger).Log("msg", "failed to initialize peer", "err", err)
		return err
	}

	if err := n.start(); err != nil {
		n.close(context.Background())
		level.Error(logger).Log("msg", "failed to start peer", "err", err)
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err = n.wait(ctx)
	if err != nil {
		level.Error(logger).Log("msg", "peer stopped serving", "err", err)
	}

	level.Info(logger).Log("msg", "shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	n.close(shutdownCtx)
	flush(shutdownCtx)

	return err
}

func main() {

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
