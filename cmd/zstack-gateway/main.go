// Command zstack-gateway bridges a Z-Stack ZNP coordinator to MQTT and a
// small HTTP API.
package main

import (
	"os"

	"github.com/spf13/cobra"
)

// version is set at build time via -ldflags "-X main.version=..."
var version = "dev"

var rootCmd = &cobra.Command{
	Use:   "zstack-gateway",
	Short: "Zigbee gateway for Z-Stack ZNP coordinators",
	Long: `zstack-gateway drives a CC2530/CC2652 coordinator over its MT serial
protocol, interviews joining devices and exposes them over MQTT and HTTP.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		rootCmd.PrintErrln("Error:", err)
		os.Exit(1)
	}
}
