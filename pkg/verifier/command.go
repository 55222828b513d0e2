package verifier

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/opengovern/componentci/pkg/koanf"
	"github.com/opengovern/componentci/pkg/verifier/config"
)

const ServiceName = "verifier-worker"

func WorkerCommand() *cobra.Command {
	var id string
	cmd := &cobra.Command{
		Use:   ServiceName,
		Short: "Run the component verification worker",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := zap.NewProduction()
			if err != nil {
				return err
			}
			defer logger.Sync()

			cmd.SilenceUsage = true
			cnf := koanf.Provide("verifier", config.Default())
			if id != "" {
				cnf.ID = id
			}

			w, err := NewWorker(cmd.Context(), cnf, logger.Named(ServiceName))
			if err != nil {
				return err
			}
			defer w.Stop()

			return w.Run(cmd.Context())
		},
	}

	cmd.Flags().StringVar(&id, "id", "", "The worker id, overrides the configured one")

	return cmd
}
