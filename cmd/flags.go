package cmd

import (
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/conneroisu/convey/internal/config"
	"github.com/conneroisu/convey/internal/logging"
)

// addServerFlags adds the listen flags and binds them to server.*.
func addServerFlags(cmd *cobra.Command) {
	cmd.Flags().IntP("port", "p", 3000, "Port to serve on")
	cmd.Flags().String("host", "localhost", "Host to bind to")
	cmd.Flags().Bool("no-reload", false, "Disable hot reload and live reload")

	viper.BindPFlag("server.port", cmd.Flags().Lookup("port"))
	viper.BindPFlag("server.host", cmd.Flags().Lookup("host"))
}

// addOutputFlags adds --output to listing commands.
func addOutputFlags(cmd *cobra.Command) {
	cmd.Flags().StringP("output", "o", "table", "Output format (table|json)")
}

// newLogger builds the process logger from the log section.
func newLogger(cfg *config.Config) (*logging.StructuredLogger, error) {
	level, err := logging.ParseLevel(cfg.Log.Level)
	if err != nil {
		return nil, err
	}
	return logging.NewLogger(&logging.LoggerConfig{
		Level:      level,
		Format:     cfg.Log.Format,
		Output:     os.Stderr,
		Component:  "convey",
		File:       cfg.Log.File,
		MaxSizeMB:  10,
		MaxBackups: 3,
	}), nil
}
