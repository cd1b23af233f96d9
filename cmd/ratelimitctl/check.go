/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/acronis/go-ratelimit/limiter"
	"github.com/acronis/go-ratelimit/log"
)

type checkOpts struct {
	Throttler string
	Key       string
	Count     int
	Reset     bool
}

func newCheckCmd() *cobra.Command {
	var opts checkOpts
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Evaluate the key by the throttler and print the decisions",
		Example: `  ratelimitctl check --config config.yml --throttler login --key 10.0.0.1 -n 3
  RATELIMIT_STORE_TYPE=memory ratelimitctl check --key user-42`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath, err := cmd.Flags().GetString("config")
			if err != nil {
				return err
			}
			cfg, err := loadAppConfig(cfgPath)
			if err != nil {
				return err
			}
			logger, closeLogger := log.NewLogger(cfg.Log)
			defer closeLogger()
			return runCheck(cmd.Context(), cmd.OutOrStdout(), cfg, logger, opts)
		},
	}
	cmd.Flags().StringVarP(&opts.Throttler, "throttler", "t", limiter.DefaultThrottlerName, "throttler name")
	cmd.Flags().StringVarP(&opts.Key, "key", "k", "", "rate limit key")
	cmd.Flags().IntVarP(&opts.Count, "count", "n", 1, "number of evaluations")
	cmd.Flags().BoolVar(&opts.Reset, "reset", false, "delete the window and the block of the key before evaluating")
	_ = cmd.MarkFlagRequired("key")
	return cmd
}

func runCheck(ctx context.Context, out io.Writer, cfg *appConfig, logger log.FieldLogger, opts checkOpts) error {
	if opts.Count < 1 {
		return fmt.Errorf("count should be >= 1, got %d", opts.Count)
	}
	a, err := newApp(ctx, cfg, logger, nil)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := a.Close(); closeErr != nil {
			logger.Error("failed to close rate limiter", log.Error(closeErr))
		}
	}()

	if opts.Reset {
		if err = a.limiter.Reset(ctx, opts.Throttler, opts.Key); err != nil {
			return fmt.Errorf("reset key: %w", err)
		}
	}
	for i := 1; i <= opts.Count; i++ {
		d, err := a.limiter.Evaluate(ctx, opts.Throttler, opts.Key)
		if err != nil {
			return err
		}
		if _, err = fmt.Fprintf(out, "#%d %s\n", i, formatDecision(d)); err != nil {
			return err
		}
	}
	return nil
}

func formatDecision(d limiter.Decision) string {
	result := "allowed"
	if !d.Allowed {
		result = "denied"
	}
	s := fmt.Sprintf("%s current=%d/%d remaining=%d reset_at=%s",
		result, d.CurrentCount, d.Limit, d.Remaining, d.ResetAt.UTC().Format(time.RFC3339Nano))
	if !d.Allowed {
		s += fmt.Sprintf(" retry_after=%s", d.RetryAfter)
	}
	if d.Blocked() {
		s += fmt.Sprintf(" blocked_until=%s", d.BlockedUntil.UTC().Format(time.RFC3339Nano))
	}
	if d.Exempt {
		s += " exempt"
	}
	if d.Degraded {
		s += " degraded"
	}
	return s
}
