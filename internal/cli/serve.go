package cli

import (
	"github.com/spf13/cobra"

	"github.com/go-dogma/dogma/internal/config"
	"github.com/go-dogma/dogma/internal/dogmaapp"
	"github.com/go-dogma/dogma/internal/mlog"
	"github.com/go-dogma/dogma/internal/server"
)

func newServeCommand(cfgFile *string) *cobra.Command {
	var (
		production bool
		logLevel   string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the dogma store",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := mlog.NewZap(production, logLevel)
			if err != nil {
				return err
			}
			defer logger.Sync() //nolint:errcheck

			cmd.Println(dogmaapp.Banner("dogma"))

			cfg, err := config.Load(*cfgFile)
			if err != nil {
				return err
			}

			return server.New(cfg, logger).Start(cmd.Context())
		},
	}

	cmd.Flags().BoolVar(&production, "production", false, "emit JSON logs instead of console-formatted ones")
	cmd.Flags().StringVar(&logLevel, "log-level", "info", "log level: debug, info, warn, error")

	return cmd
}
