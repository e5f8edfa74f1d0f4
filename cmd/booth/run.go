package main

import (
	"context"
	"errors"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/antoniostano/charbooth/internal/booth"
)

func newRunCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run one booth with stdin as the handset",
		Long: `Run one booth. Each stdin line is an event:

  /pickup    lift the handset
  /hangup    put it down
  anything   a captured utterance`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := root.load()
			if err != nil {
				return err
			}
			runner, err := booth.Build(cfg, nil, &booth.WriterDisplay{W: cmd.OutOrStdout()}, logger)
			if err != nil {
				return err
			}

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()
			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error { return runner.Run(gctx) })
			g.Go(func() error {
				// End of input stops the booth.
				defer cancel()
				err := booth.NewLineSource(cmd.InOrStdin()).Feed(gctx, runner)
				if errors.Is(err, context.Canceled) {
					return nil
				}
				return err
			})
			return g.Wait()
		},
	}
}
