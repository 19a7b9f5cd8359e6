package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	cfgFile string
)

var rootCmd = &cobra.Command{
	Use:   "relay",
	Short: "Relay - multi-provider LLM API gateway",
	Long: `Relay is an LLM API gateway that presents one unified API surface over
any number of upstream providers.

It accepts requests on the OpenAI Chat Completions, OpenAI Responses,
Anthropic Messages, and Gemini generateContent endpoints, translates
them to each provider's native wire format, and handles:
  - Weighted routing across providers serving the same model
  - Circuit breaking with per-failure-class cooldowns
  - Automatic failover, including across wire protocols
  - Streaming (SSE) transcoding between protocols`,
	Version: Version,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "config.yaml", "config file path")
}
