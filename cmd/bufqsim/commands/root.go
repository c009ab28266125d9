// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package commands

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile string
	verbose bool

	// v carries defaults, config file, environment and bound flags.
	v = viper.New()
)

var rootCmd = &cobra.Command{
	Use:   "bufqsim",
	Short: "Buffer queue producer/consumer simulator",
	Long: `bufqsim drives a producer and a consumer over one buffer queue.

The producer dequeues, fills and queues frames with release fences; the
consumer acquires and releases them. Queue limits, timing and tracing are
read from a YAML config file, BUFQSIM_* environment variables and flags.`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.bufqsim/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(configCmd)
}
