// File: cmd/rxmux/cmd/root.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/momentics/rxmux/control"
)

const (
	Version = "0.3.0"

	// Wrap is the number of characters to wrap flag help text at
	Wrap int = 50
)

var (
	// RootCmd represents the base command when called without any subcommands
	RootCmd = &cobra.Command{
		Use:   "rxmux",
		Short: "multiplexed receive daemon for telecom transport sockets",
		Long: fmt.Sprintf(`rxmux (v%s)

Services any number of SCTP, UDP and TCP receive sockets from a single
background thread. Configuration comes from flags, RXMUX_* environment
variables, .env files and an optional config file.`, Version),
		SilenceUsage: true,
	}
	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version number of rxmux",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("rxmux v%s\n", Version)
		},
	}
)

func init() {
	cobra.OnInitialize(initConfig)

	RootCmd.AddCommand(ListenCmd)
	RootCmd.AddCommand(versionCmd)

	d := control.DefaultConfig()
	key := "config"
	RootCmd.PersistentFlags().String(key, "", WrapString("Config file (yaml, toml or json). Changes to log-level are applied without restart"))
	key = control.KeyLogLevel
	RootCmd.PersistentFlags().String(key, d.LogLevel, WrapString("Level at which logs will be output (debug, info, warn, error)"))
	key = control.KeyLogFormat
	RootCmd.PersistentFlags().String(key, d.LogFormat, WrapString("Log output format (text, json)"))
}

// initConfig reads in the config file and ENV variables if set.
func initConfig() {
	v := viper.GetViper()
	control.SetDefaults(v)
	control.InitEnv(v)
	if f, _ := RootCmd.PersistentFlags().GetString("config"); f != "" {
		v.SetConfigFile(f)
	}
}

// WrapString wraps a string at Wrap characters
func WrapString(text string) string {
	var lines []string
	var line strings.Builder
	for _, word := range strings.Fields(text) {
		if line.Len() > 0 && line.Len()+1+len(word) > Wrap {
			lines = append(lines, line.String())
			line.Reset()
		}
		if line.Len() > 0 {
			line.WriteString(" ")
		}
		line.WriteString(word)
	}
	if line.Len() > 0 {
		lines = append(lines, line.String())
	}
	return strings.Join(lines, "\n")
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the RootCmd.
func Execute() {
	if err := RootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
