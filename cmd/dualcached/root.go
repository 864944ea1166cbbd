package main

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "dualcached <subcommand>",
	Short: "serves a memory, redis or firestore cache over HTTP",
	Long:  `serves a cache of JSON documents over HTTP, backed by an in-process store, redis or firestore`,
	Run:   nil,
}

func init() {
	rootCmd.PersistentFlags().StringP("config-file", "c", "", "Path to the config file (eg ./config.yaml) [Optional]")
}
