package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	plog "github.com/nao1215/peerlink/internal/log"
)

// NewRootCmd creates the root command for peerlink.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "peerlink",
		Short: "Peer-to-peer messaging over hidden services with pinned mutual TLS",
		Long: `peerlink talks to friends' hidden services over SOCKS4a tunnels using
mutual TLS where each side trusts only the certificates it was given.

The run command exercises the whole stack end to end, either on a simulated
anonymity network (default) or on Tor. The get and post commands make
single calls to peers listed in the peers file.`,
		Version:       getVersion(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	// Global flags that apply to all commands
	cmd.PersistentFlags().BoolP("verbose", "v", false, "Enable verbose logging")
	cmd.PersistentFlags().String("log-file", "", "Write logs to a size-rotated file instead of stderr")
	cmd.PersistentFlags().Bool("log-json", false, "Write logs as JSON")
	cmd.PersistentFlags().StringP("config", "c", "",
		"Peers file path (default: .peerlink in current or home directory)")

	cmd.AddCommand(NewRunCmd())
	cmd.AddCommand(NewGetCmd())
	cmd.AddCommand(NewPostCmd())
	cmd.AddCommand(NewInitCmd())
	cmd.AddCommand(NewHistoryCmd())
	cmd.AddCommand(NewVersionCmd())

	return cmd
}

// Execute runs the root command.
func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// setupLogger builds the sanitizing logger selected by the global flags.
// The closer releases the log file.
func setupLogger(cmd *cobra.Command) (*slog.Logger, io.Closer, error) {
	logger, closer, err := plog.New(plog.Options{
		Verbose: persistentBool(cmd, "verbose"),
		JSON:    persistentBool(cmd, "log-json"),
		File:    persistentString(cmd, "log-file"),
		Stderr:  cmd.ErrOrStderr(),
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open log file: %w", err)
	}
	return logger, closer, nil
}

// configFlag returns the --config value.
func configFlag(cmd *cobra.Command) string {
	return persistentString(cmd, "config")
}

// persistentBool reads a global flag, or false when the command runs
// without the root command.
func persistentBool(cmd *cobra.Command, name string) bool {
	v, err := cmd.Root().PersistentFlags().GetBool(name)
	if err != nil {
		return false
	}
	return v
}

func persistentString(cmd *cobra.Command, name string) string {
	v, err := cmd.Root().PersistentFlags().GetString(name)
	if err != nil {
		return ""
	}
	return v
}
