package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"gemini-chatter/internal/app"
)

var modelsCmd = &cobra.Command{
	Use:   "models",
	Short: "List the models the configured provider can generate with",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := app.New(cmd.Context(), cfg, app.SharedSettings)
		if err != nil {
			return err
		}
		defer a.Close()
		if a.Client == nil {
			return fmt.Errorf("no credentials configured for provider %s", cfg.LLMProvider)
		}
		models, err := a.Client.ListModels(cmd.Context())
		if err != nil {
			return err
		}
		for _, m := range models {
			fmt.Fprintln(cmd.OutOrStdout(), m)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(modelsCmd)
}
