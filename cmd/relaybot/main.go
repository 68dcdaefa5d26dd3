package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"runtime"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"relaybot/internal/cli"
	"relaybot/internal/config"
	"relaybot/internal/secrets"
)

// version is set at build time via ldflags, e.g.:
//
//	go build -ldflags "-X main.version=1.2.0" -o relaybot ./cmd/relaybot
var version string

// buildMeta holds version and build metadata.
type buildMeta struct {
	Version string
	GoOS    string
	GoArch  string
}

func newBuildMeta(version, goos, goarch string) buildMeta {
	if version == "" {
		version = "dev"
	}
	if goos == "" {
		goos = runtime.GOOS
	}
	if goarch == "" {
		goarch = runtime.GOARCH
	}
	return buildMeta{Version: version, GoOS: goos, GoArch: goarch}
}

func (m buildMeta) String() string {
	return fmt.Sprintf("relaybot %s %s/%s", m.Version, m.GoOS, m.GoArch)
}

// openSecrets opens the credential store; tests replace it.
var openSecrets = func() (secrets.Store, error) {
	return secrets.OpenDefault()
}

// configPath resolves --config, then RELAYBOT_CONFIG, then the default.
func configPath(cmd *cobra.Command) string {
	if p, _ := cmd.Flags().GetString("config"); p != "" {
		return p
	}
	if p := os.Getenv("RELAYBOT_CONFIG"); p != "" {
		return p
	}
	return config.DefaultPath
}

func newRootCommand(bm buildMeta) *cobra.Command {
	root := &cobra.Command{
		Use:           "relaybot",
		Short:         "Telegram bot that relays chat to a language model",
		Long:          "relaybot answers Telegram messages with a hosted chat-completion model,\nwith per-user rate limiting and a short conversation memory.",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if showVersion, _ := cmd.Flags().GetBool("version"); showVersion {
				fmt.Fprintln(cmd.OutOrStdout(), bm.String())
				return nil
			}
			return runDaemon(cmd.Context(), configPath(cmd), bm, cmd.ErrOrStderr())
		},
	}
	root.PersistentFlags().StringP("config", "c", "", "config file (default $RELAYBOT_CONFIG or "+config.DefaultPath+")")
	root.Flags().BoolP("version", "V", false, "print version and build metadata")

	checkCmd := &cobra.Command{
		Use:   "check",
		Short: "Validate configuration and report what the bot would run with",
		RunE: func(cmd *cobra.Command, args []string) error {
			fix, _ := cmd.Flags().GetBool("fix")
			opts := cli.CheckOptions{Path: configPath(cmd), Fix: fix}
			if s, err := openSecrets(); err == nil {
				opts.Secrets = s
			}
			if code := cli.RunCheck(opts, cmd.OutOrStdout(), cmd.ErrOrStderr()); code != 0 {
				return exitCodeErr(code)
			}
			return nil
		},
	}
	checkCmd.Flags().Bool("fix", false, "write a default config if missing")
	root.AddCommand(checkCmd)

	root.AddCommand(newSecretsCommand(), newAllowCommand())
	return root
}

func newSecretsCommand() *cobra.Command {
	secretsCmd := &cobra.Command{
		Use:   "secrets",
		Short: "Store credentials encrypted instead of in config (" + secrets.TelegramToken + ", " + secrets.OpenAIKey + ")",
	}
	setCmd := &cobra.Command{
		Use:   "set NAME VALUE",
		Short: "Store a secret",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSecrets()
			if err != nil {
				return err
			}
			if err := s.Set(args[0], args[1]); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "ok")
			return nil
		},
	}
	getCmd := &cobra.Command{
		Use:   "get NAME",
		Short: "Print a stored secret",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSecrets()
			if err != nil {
				return err
			}
			v, err := s.Get(args[0])
			if errors.Is(err, secrets.ErrNotFound) {
				return fmt.Errorf("secret %q not found", args[0])
			}
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), v)
			return nil
		},
	}
	deleteCmd := &cobra.Command{
		Use:   "delete NAME",
		Short: "Remove a stored secret",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSecrets()
			if err != nil {
				return err
			}
			return s.Delete(args[0])
		},
	}
	secretsCmd.AddCommand(setCmd, getCmd, deleteCmd)
	return secretsCmd
}

func newAllowCommand() *cobra.Command {
	allowCmd := &cobra.Command{
		Use:   "allow",
		Short: "Manage the Telegram user allowlist (empty allows everyone)",
	}
	edit := func(add bool) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("user id %q: %w", args[0], err)
			}
			path := configPath(cmd)
			cfg, err := config.LoadOrDefault(path)
			if err != nil {
				return err
			}
			changed := config.RemoveAllowedUser(cfg, id)
			if add {
				changed = config.AddAllowedUser(cfg, id)
			}
			if !changed {
				fmt.Fprintln(cmd.OutOrStdout(), "unchanged")
				return nil
			}
			// Environment-derived secrets must not be written into the file.
			cfg.Telegram.Token, cfg.OpenAI.APIKey = "", ""
			if err := config.Save(path, cfg); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "ok")
			return nil
		}
	}
	allowCmd.AddCommand(
		&cobra.Command{Use: "add USER_ID", Short: "Allow a Telegram user", Args: cobra.ExactArgs(1), RunE: edit(true)},
		&cobra.Command{Use: "remove USER_ID", Short: "Remove a Telegram user", Args: cobra.ExactArgs(1), RunE: edit(false)},
		&cobra.Command{
			Use:   "list",
			Short: "List allowed Telegram users",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				cfg, err := config.LoadOrDefault(configPath(cmd))
				if err != nil {
					return err
				}
				return printAllowlist(cmd.OutOrStdout(), cfg.Telegram.AllowedUsers)
			},
		},
	)
	return allowCmd
}

func printAllowlist(w io.Writer, ids []int64) error {
	if len(ids) == 0 {
		_, err := fmt.Fprintln(w, "everyone")
		return err
	}
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.FormatInt(id, 10)
	}
	_, err := fmt.Fprintln(w, strings.Join(parts, "\n"))
	return err
}

// exitCodeErr carries an exit code for the process. When returned from a command, runApp exits with that code.
type exitCodeErr int

func (e exitCodeErr) Error() string { return fmt.Sprintf("exit %d", int(e)) }
func (e exitCodeErr) ExitCode() int { return int(e) }

// runApp runs the root command with the given args and returns the exit code.
// The daemon stops on the platform's shutdown signals.
func runApp(args []string, stdout, stderr io.Writer) int {
	ctx, stop := signal.NotifyContext(context.Background(), shutdownSignals()...)
	defer stop()

	root := newRootCommand(newBuildMeta(version, "", ""))
	root.SetArgs(args[1:])
	root.SetOut(stdout)
	root.SetErr(stderr)
	if err := root.ExecuteContext(ctx); err != nil {
		var ec interface{ ExitCode() int }
		if errors.As(err, &ec) {
			return ec.ExitCode()
		}
		fmt.Fprintln(stderr, err)
		return 1
	}
	return 0
}
