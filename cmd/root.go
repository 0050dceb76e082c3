package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

// Version is set at build time via -ldflags "-X github.com/lucyhq/lucy/cmd.Version=v1.0.0"
var Version = "dev"

var (
	cfgFile  string
	verbose  bool
	httpOnly bool
	port     int
	force    bool
)

var rootCmd = &cobra.Command{
	Use:           "lucy",
	Short:         "Lucy, the workspace AI coworker",
	Long:          "Lucy connects to your workspace chat, routes messages through tiered models, and runs tools, skills, and scheduled jobs on the team's behalf.",
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runGateway()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: config.json or $LUCY_CONFIG)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.Flags().BoolVar(&httpOnly, "http", false, "serve HTTP only; skip the chat socket connection")
	rootCmd.Flags().IntVar(&port, "port", 0, "override the HTTP port")
	rootCmd.Flags().BoolVar(&force, "force", false, "take over the singleton lock from a previous instance")

	rootCmd.AddCommand(versionCmd())
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("lucy %s\n", Version)
		},
	}
}

func resolveConfigPath() string {
	if cfgFile != "" {
		return cfgFile
	}
	if v := os.Getenv("LUCY_CONFIG"); v != "" {
		return v
	}
	return "config.json"
}

func initLogging() {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
}

// Execute runs the root cobra command. Exit code 1 on any startup or runtime
// failure.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
