package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/caktus/padeploy/internal/api"
	cliconfig "github.com/caktus/padeploy/internal/cli/config"
	"github.com/caktus/padeploy/internal/client"
	"github.com/caktus/padeploy/internal/console"
	"github.com/caktus/padeploy/internal/deploy"
)

type rootOptions struct {
	host        string
	username    string
	timeout     time.Duration
	configPath  string
	contextName string
	verbose     bool

	conn   *client.Connection
	client *api.Client
	logger *slog.Logger
}

func (r *rootOptions) prepare() error {
	level := slog.LevelWarn
	if r.verbose {
		level = slog.LevelDebug
	}
	r.logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	conn, err := client.ResolveConnection(r.configPath, r.contextName, r.host, r.username, r.timeout)
	if err != nil {
		return err
	}
	r.conn = conn
	r.client = conn.NewClient(api.WithLogger(r.logger))
	return nil
}

func main() {
	opts := &rootOptions{}
	rootCmd := &cobra.Command{
		Use:   "padeploy",
		Short: "Deploy Django projects to PythonAnywhere",
	}
	defaultConfig := os.Getenv("PADEPLOY_CONFIG")
	if defaultConfig == "" {
		defaultConfig = cliconfig.DefaultConfigPath()
	}
	rootCmd.PersistentFlags().StringVar(&opts.configPath, "config", defaultConfig, "path to padeploy config file (default $HOME/.padeploy/config)")
	rootCmd.PersistentFlags().StringVar(&opts.contextName, "context", "", "context name within the config (overrides currentContext)")
	rootCmd.PersistentFlags().StringVar(&opts.host, "host", "", "API hostname (overrides config and PYTHONANYWHERE_SITE)")
	rootCmd.PersistentFlags().StringVar(&opts.username, "username", "", "PythonAnywhere username (overrides config and API_USER)")
	rootCmd.PersistentFlags().DurationVar(&opts.timeout, "timeout", 0, "API request timeout; defaults to config or 30s")
	rootCmd.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, _ []string) error {
		// Config subcommands edit the file and must not require a resolvable
		// account; doctor must work on broken setups.
		for c := cmd; c != nil; c = c.Parent() {
			if c.Name() == "config" || c.Name() == "doctor" {
				return nil
			}
		}
		return opts.prepare()
	}

	rootCmd.AddCommand(newDeployCmd(opts))
	rootCmd.AddCommand(newConsoleCmd(opts))
	rootCmd.AddCommand(newConfigCmd(opts))
	rootCmd.AddCommand(newDoctorCmd())

	if err := rootCmd.Execute(); err != nil {
		log.Fatal(err)
	}
}

func newDeployCmd(root *rootOptions) *cobra.Command {
	deployOpts := deploy.Options{}
	cmd := &cobra.Command{
		Use:   "deploy",
		Short: "Configure the current Django project for PythonAnywhere, optionally deploying it",
		RunE: func(cmd *cobra.Command, _ []string) error {
			dir, err := filepath.Abs(deployOpts.ProjectDir)
			if err != nil {
				return err
			}
			deployOpts.ProjectDir = dir
			if deployOpts.ProjectName == "" {
				deployOpts.ProjectName = filepath.Base(dir)
			}

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
			defer cancel()
			d := deploy.NewDeployer(root.conn, root.client, deployOpts, root.logger, os.Stdout)
			return d.Deploy(ctx)
		},
	}
	cmd.Flags().BoolVar(&deployOpts.AutomateAll, "automate-all", false, "push, clone and build on the remote host instead of only configuring local files")
	cmd.Flags().StringVar(&deployOpts.ProjectDir, "project-dir", ".", "Django project root (the directory holding manage.py)")
	cmd.Flags().StringVar(&deployOpts.ProjectName, "project-name", "", "Django project name; defaults to the project directory name")
	cmd.Flags().StringVar(&deployOpts.SetupScriptURL, "setup-script-url", "", "override the remote setup script location")
	cmd.Flags().StringVar(&deployOpts.PythonVersion, "python-version", "", "python version for the remote virtualenv and webapp (default 3.13)")
	return cmd
}

func newConsoleCmd(root *rootOptions) *cobra.Command {
	consoleCmd := &cobra.Command{
		Use:   "console",
		Short: "Remote console operations",
	}
	consoleCmd.AddCommand(newConsoleListCmd(root))
	consoleCmd.AddCommand(newConsoleRunCmd(root))
	consoleCmd.AddCommand(newConsoleSnapshotCmd(root))
	return consoleCmd
}

func newConsoleListCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List the account's consoles",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := context.WithTimeout(context.Background(), root.conn.Timeout)
			defer cancel()
			var consoles []console.Info
			err := root.client.Call(ctx, "GET", root.client.BaseURL("consoles"), nil, &consoles)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tEXECUTABLE\tURL")
			for _, c := range consoles {
				fmt.Fprintf(w, "%d\t%s\t%s\n", c.ID, c.Executable, root.client.SiteURL(c.ConsoleURL))
			}
			return w.Flush()
		},
	}
}

func newConsoleRunCmd(root *rootOptions) *cobra.Command {
	var pollInterval time.Duration
	var maxAttempts int
	cmd := &cobra.Command{
		Use:   "run <command>",
		Short: "Run a command in a remote bash console and print its output",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
			defer cancel()

			c, err := console.Open(ctx, root.client, root.logger)
			if err != nil {
				return err
			}
			if err := c.EnsureReady(ctx); err != nil {
				return err
			}
			runner := console.NewRunner(c, root.logger)
			if pollInterval > 0 {
				runner.PollInterval = pollInterval
			}
			if maxAttempts > 0 {
				runner.MaxAttempts = maxAttempts
			}
			result, err := runner.Run(ctx, args[0])
			if err != nil {
				return err
			}
			fmt.Println(result.Output)
			return nil
		},
	}
	cmd.Flags().DurationVar(&pollInterval, "poll-interval", 0, "delay between output polls (default 1s)")
	cmd.Flags().IntVar(&maxAttempts, "max-attempts", 0, "polling budget before giving up (default 30)")
	return cmd
}

func newConsoleSnapshotCmd(root *rootOptions) *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Save the console's raw transcript to a file",
		Long:  "Save the console's raw transcript to a file. Paths ending in .zst are compressed.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := context.WithTimeout(context.Background(), root.conn.Timeout)
			defer cancel()

			c, err := console.Open(ctx, root.client, root.logger)
			if err != nil {
				return err
			}
			var payload struct {
				Output string `json:"output"`
			}
			err = root.client.Call(ctx, "GET", c.APIURL()+"/get_latest_output/", nil, &payload)
			if err != nil {
				return err
			}
			if err := console.WriteSnapshot(output, payload.Output); err != nil {
				return err
			}
			fmt.Printf("wrote %d bytes to %s\n", len(payload.Output), output)
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "console.zst", "snapshot destination")
	return cmd
}

func newConfigCmd(root *rootOptions) *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Manage deployment contexts",
	}
	configCmd.AddCommand(newConfigSetContextCmd(root))
	configCmd.AddCommand(newConfigUseContextCmd(root))
	return configCmd
}

func newConfigSetContextCmd(root *rootOptions) *cobra.Command {
	var host, username, tokenEnv string
	var timeoutSeconds int
	cmd := &cobra.Command{
		Use:   "set-context <name>",
		Short: "Create or update a named context and make it current",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := strings.TrimSpace(args[0])
			if name == "" {
				return fmt.Errorf("context name is required")
			}
			if username == "" {
				return fmt.Errorf("--username is required")
			}
			cfg, err := cliconfig.Load(root.configPath)
			if err != nil {
				return err
			}
			if cfg == nil {
				cfg = &cliconfig.Config{}
			}
			if cfg.Contexts == nil {
				cfg.Contexts = map[string]*cliconfig.Context{}
			}
			cfg.Contexts[name] = &cliconfig.Context{
				Host:           host,
				Username:       username,
				TokenEnv:       tokenEnv,
				TimeoutSeconds: timeoutSeconds,
			}
			cfg.CurrentContext = name
			if err := cfg.Save(root.configPath); err != nil {
				return err
			}
			fmt.Printf("context %q saved to %s\n", name, root.configPath)
			return nil
		},
	}
	cmd.Flags().StringVar(&host, "host", "", "API hostname (default www.pythonanywhere.com)")
	cmd.Flags().StringVar(&username, "username", "", "PythonAnywhere username")
	cmd.Flags().StringVar(&tokenEnv, "token-env", "", "environment variable holding the API token (default API_TOKEN)")
	cmd.Flags().IntVar(&timeoutSeconds, "timeout-seconds", 0, "API request timeout for the context")
	return cmd
}

func newConfigUseContextCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "use-context <name>",
		Short: "Switch the current context",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := cliconfig.Load(root.configPath)
			if err != nil {
				return err
			}
			if cfg == nil {
				return fmt.Errorf("no config at %s", root.configPath)
			}
			if _, _, err := cfg.Resolve(args[0]); err != nil {
				return err
			}
			cfg.CurrentContext = args[0]
			if err := cfg.Save(root.configPath); err != nil {
				return err
			}
			fmt.Printf("current context is now %q\n", args[0])
			return nil
		},
	}
}
