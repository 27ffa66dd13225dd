package main

import (
	"fmt"

	"github.com/cuemby/adlb-go/pkg/log"
	"github.com/spf13/cobra"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

var rootCmd = &cobra.Command{
	Use:   "adlbd",
	Short: "adlbd runs one shard of a distributed data-dependency store",
	Long: `adlbd is the plain launcher for the shard server: a
single-threaded, cooperative control plane over a typed datum store,
a dependency/rule engine, and a work/request queue pair, speaking the
external operation set of the shard RPC over gRPC.

A deployment is a fixed set of ranks; each adlbd process owns one rank
and routes any operation on a datum it does not own to the peer that
does, via --peer.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"adlbd version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")

	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(serveCmd)
}

func initLogging() {
	logLevel, _ := rootCmd.PersistentFlags().GetString("log-level")
	logJSON, _ := rootCmd.PersistentFlags().GetBool("log-json")

	log.Init(log.Config{
		Level:      log.Level(logLevel),
		JSONOutput: logJSON,
	})
}
