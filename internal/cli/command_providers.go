package cli

import (
	"encoding/json"

	"github.com/spf13/cobra"
)

type providerInfo struct {
	Name              string `json:"name"`
	URL               string `json:"url"`
	Format            string `json:"format"`
	Capacity          int    `json:"capacity"`
	TokensPerInterval int    `json:"tokens_per_interval"`
	Interval          string `json:"interval"`
}

var CommandProviders = &cobra.Command{
	Use:   "providers",
	Short: "List the configured DoH servers and their request budgets",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}

		registry, err := cfg.Registry()
		if err != nil {
			return err
		}

		output := json.NewEncoder(cmd.OutOrStdout())

		for _, p := range registry.Providers() {
			opts := p.Limiter.Options()

			err := output.Encode(&providerInfo{
				Name:              p.Name,
				URL:               p.BaseURL,
				Format:            string(p.Format),
				Capacity:          opts.Capacity,
				TokensPerInterval: opts.TokensPerInterval,
				Interval:          opts.Interval.String(),
			})
			if err != nil {
				return err
			}
		}

		return nil
	},
}

func init() {
	CommandRoot.AddCommand(CommandProviders)
}
