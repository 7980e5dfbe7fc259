// Package cmd is the convey command line.
//
// Configuration is read from, in order of precedence:
//  1. command-line flags (--port, --log-level, ...)
//  2. CONVEY_<SECTION>_<OPTION> environment variables, e.g. CONVEY_SERVER_PORT
//  3. the configuration file: --config, else CONVEY_CONFIG_FILE, else
//     .convey.yml in the working directory
//  4. built-in defaults
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/conneroisu/convey/internal/config"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "convey",
	Short: "Convention-based controller dispatch and rendering",
	Long: `Convey serves a web application laid out by convention: a request for
/post/show is handled by the showAction of PostController, and the result is
rendered with views/scripts/post/show.html, optionally inside a layout.

Controllers, models and libraries are Lua files that are reloaded as soon as
they change; explicit routes live in config/routes.yml.

Quick Start:
  convey serve                    Start the server
  convey routes                   Show the compiled route table
  convey version                  Show version information`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is .convey.yml, can also use CONVEY_CONFIG_FILE)")
	rootCmd.PersistentFlags().StringP("log-level", "l", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "text", "log format (text, json)")
	viper.BindPFlag("log.level", rootCmd.PersistentFlags().Lookup("log-level"))
	viper.BindPFlag("log.format", rootCmd.PersistentFlags().Lookup("log-format"))
}

// initConfig selects the configuration file and enables environment
// overrides. A missing default file is not an error.
func initConfig() {
	switch {
	case cfgFile != "":
		viper.SetConfigFile(cfgFile)
	case os.Getenv("CONVEY_CONFIG_FILE") != "":
		viper.SetConfigFile(os.Getenv("CONVEY_CONFIG_FILE"))
	default:
		viper.AddConfigPath(".")
		viper.SetConfigType("yaml")
		viper.SetConfigName(".convey")
	}

	config.BindEnv(viper.GetViper())

	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	} else if _, ok := err.(viper.ConfigFileNotFoundError); !ok && cfgFile != "" {
		fmt.Fprintln(os.Stderr, "Error reading config file:", err)
	}
}
