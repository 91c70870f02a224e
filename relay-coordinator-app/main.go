package main

import (
	"fmt"
	"os"
	"runtime"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/compose-network/identity-relay/log"
	"github.com/compose-network/identity-relay/relay-coordinator-app/config"
)

var (
	cfgFile string
	rootCmd = &cobra.Command{
		Use:   "identity-relay",
		Short: "Cross-chain identity relay coordinator",
		Long: "Coordinates identity verification, credential checks, role synchronization " +
			"and token bridging between chains over a message transport.",
		RunE: runApp,
	}

	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run:   runVersion,
	}

	configCmd = &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration",
		RunE:  runConfig,
	}
)

func main() {
	if err := execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func execute() error {
	initCommands()
	return rootCmd.Execute()
}

func initCommands() {
	rootCmd.AddCommand(versionCmd, configCmd)

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config",
		"relay-coordinator-app/configs/config.yaml", "config file path")
	rootCmd.PersistentFlags().String("log-level", "", "log level (trace, debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-pretty", false, "enable pretty logging")

	// Relay flags
	rootCmd.PersistentFlags().String("local-chain", "", "name of the local chain")
	rootCmd.PersistentFlags().Duration("cooldown", 0, "per-caller request cooldown")
	rootCmd.PersistentFlags().Bool("auto-respond", false, "answer inbound verification requests automatically")
	rootCmd.PersistentFlags().String("transport", "", "transport provider (loopback, http)")
	rootCmd.PersistentFlags().String("transport-url", "", "base URL of the http transport provider")

	// API flags
	rootCmd.PersistentFlags().String("listen-addr", "", "HTTP API listen address")
	rootCmd.PersistentFlags().Bool("metrics", false, "enable metrics")
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	applyFlags(cmd, cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid flags: %w", err)
	}
	return cfg, nil
}

func runApp(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	log := log.New(cfg.Log.Level, cfg.Log.Pretty)

	log.Info().
		Str("version", Version).
		Str("build_time", BuildTime).
		Str("git_commit", GitCommit).
		Str("go_version", runtime.Version()).
		Msg("Build information")

	log.Info().
		Str("config_file", cfgFile).
		Str("local_chain", cfg.Relay.LocalChain).
		Str("transport", cfg.Transport.Mode).
		Str("listen_addr", cfg.API.ListenAddr).
		Int("chains", len(cfg.Chains)).
		Bool("redis", cfg.Redis.Enabled).
		Bool("archive", cfg.Archive.Enabled).
		Bool("metrics_enabled", cfg.Metrics.Enabled).
		Str("log_level", cfg.Log.Level).
		Msg("Configuration loaded")

	application, err := NewApp(cmd.Context(), cfg, log.Logger)
	if err != nil {
		return fmt.Errorf("failed to create application: %w", err)
	}

	return application.Run(cmd.Context())
}

func runVersion(*cobra.Command, []string) {
	fmt.Printf("Identity Relay Coordinator\n")
	fmt.Printf("Version:    %s\n", Version)
	fmt.Printf("Build Time: %s\n", BuildTime)
	fmt.Printf("Git Commit: %s\n", GitCommit)
	fmt.Printf("Go Version: %s\n", runtime.Version())
	fmt.Printf("OS/Arch:    %s/%s\n", runtime.GOOS, runtime.GOARCH)
}

func runConfig(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	enc := yaml.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent(2)
	defer enc.Close()
	return enc.Encode(cfg)
}

func applyFlags(cmd *cobra.Command, cfg *config.Config) {
	if cmd.Flag("log-level").Changed {
		cfg.Log.Level, _ = cmd.Flags().GetString("log-level")
	}
	if cmd.Flag("log-pretty").Changed {
		cfg.Log.Pretty, _ = cmd.Flags().GetBool("log-pretty")
	}

	if cmd.Flag("local-chain").Changed {
		cfg.Relay.LocalChain, _ = cmd.Flags().GetString("local-chain")
	}
	if cmd.Flag("cooldown").Changed {
		cfg.Relay.Cooldown, _ = cmd.Flags().GetDuration("cooldown")
	}
	if cmd.Flag("auto-respond").Changed {
		cfg.Relay.AutoRespond, _ = cmd.Flags().GetBool("auto-respond")
	}
	if cmd.Flag("transport").Changed {
		cfg.Transport.Mode, _ = cmd.Flags().GetString("transport")
	}
	if cmd.Flag("transport-url").Changed {
		cfg.Transport.URL, _ = cmd.Flags().GetString("transport-url")
	}

	if cmd.Flag("listen-addr").Changed {
		cfg.API.ListenAddr, _ = cmd.Flags().GetString("listen-addr")
	}
	if cmd.Flag("metrics").Changed {
		cfg.Metrics.Enabled, _ = cmd.Flags().GetBool("metrics")
	}
}
