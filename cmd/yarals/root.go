package main

import (
	"github.com/spf13/cobra"

	"yarals/internal/version"
)

var (
	// rootFlag is the project root holding server/ and .yarals/
	rootFlag string

	verboseFlag int
	quietFlag   bool
	formatFlag  string
)

var rootCmd = &cobra.Command{
	Use:   "yarals",
	Short: "yarals - navigation and companion supervision for YARA rules",
	Long: `yarals resolves definitions and references in YARA rule files and manages the
companion language server: it installs the companion's runtime environment,
starts it on a TCP port and waits until the port accepts connections.

yarals can also serve navigation itself over the same JSON-RPC protocol and
export rule files as a SCIP index.`,
	Version:       version.Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.SetVersionTemplate("yarals version {{.Version}}\n")
	rootCmd.PersistentFlags().StringVar(&rootFlag, "root", "",
		"Project root containing server/ and .yarals/ (default: current directory)")
	rootCmd.PersistentFlags().CountVarP(&verboseFlag, "verbose", "v",
		"Increase log verbosity (-v info, -vv debug)")
	rootCmd.PersistentFlags().BoolVarP(&quietFlag, "quiet", "q", false,
		"Suppress all log output")
	rootCmd.PersistentFlags().StringVar(&formatFlag, "format", string(FormatHuman),
		"Output format (human, json, yaml)")
}
