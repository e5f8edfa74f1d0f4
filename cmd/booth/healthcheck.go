package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/antoniostano/charbooth/internal/booth"
)

func newHealthcheckCmd(root *rootOptions) *cobra.Command {
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "healthcheck",
		Short: "Check the backend and print the active model",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, _, err := root.load()
			if err != nil {
				return err
			}
			backend := booth.NewHTTPBackend(cfg.BackendURL, timeout, cfg.RetryPolicy())
			if err := backend.Health(cmd.Context()); err != nil {
				return fmt.Errorf("backend %s: %w", cfg.BackendURL, err)
			}
			model, err := backend.CurrentModel(cmd.Context())
			if err != nil {
				return fmt.Errorf("current model: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "ok backend=%s engine=%s context=%d max_tokens=%d\n",
				cfg.BackendURL, model.Engine, model.ContextLength, model.MaxTokens)
			return nil
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Second, "Per-request timeout")
	return cmd
}
