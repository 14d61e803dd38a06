package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/Adithya-Monish-Kumar-K/wiki-search/internal/indexer/progress"
	"github.com/Adithya-Monish-Kumar-K/wiki-search/internal/searcher"
	"github.com/Adithya-Monish-Kumar-K/wiki-search/internal/store"
	"github.com/Adithya-Monish-Kumar-K/wiki-search/pkg/postgres"
	"github.com/spf13/cobra"
)

// openService connects to the page store and initializes the configured
// engine. Result caching is left off so every search hits the engine.
func openService(c *cobra.Command) (*searcher.Service, func(), error) {
	cfg, err := loadConfig(c)
	if err != nil {
		return nil, nil, err
	}
	db, err := postgres.New(cfg.Postgres)
	if err != nil {
		return nil, nil, err
	}
	svc := searcher.New(c.Context(), cfg.Search, searcher.Deps{
		Store:   store.NewPostgresStore(db),
		Emitter: progress.NewLogEmitter(),
	})
	closeAll := func() {
		if err := svc.Close(); err != nil {
			slog.Warn("closing search service", "error", err)
		}
		_ = db.Close()
	}
	if !svc.IsAvailable() {
		closeAll()
		return nil, nil, errors.New("search is not available: check the engine settings in the config")
	}
	return svc, closeAll, nil
}

func newSearchCmd() *cobra.Command {
	c := &cobra.Command{
		Use:   "search <query>...",
		Short: "Run a keyword search against the configured engine",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			viewer, opts := viewerOptions(c)
			svc, closeAll, err := openService(c)
			if err != nil {
				return err
			}
			defer closeAll()

			res, err := svc.SearchKeyword(c.Context(), strings.Join(args, " "), viewer, opts)
			if err != nil {
				return fmt.Errorf("search: %w", err)
			}
			return printJSON(c.OutOrStdout(), res)
		},
	}
	addViewerFlags(c)
	return c
}

func newRebuildCmd() *cobra.Command {
	c := &cobra.Command{
		Use:   "rebuild",
		Short: "Rebuild the index from the page store",
		Long:  `Reload every eligible page behind the search alias. Searches keep working while the rebuild runs.`,
		Args:  cobra.NoArgs,
		RunE: func(c *cobra.Command, _ []string) error {
			timeout, _ := c.Flags().GetDuration("timeout")
			svc, closeAll, err := openService(c)
			if err != nil {
				return err
			}
			defer closeAll()

			ctx := c.Context()
			if timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, timeout)
				defer cancel()
			}

			start := time.Now()
			done, err := svc.BuildIndex(ctx)
			if err != nil {
				return err
			}
			select {
			case err := <-done:
				if err != nil {
					return fmt.Errorf("rebuild: %w", err)
				}
			case <-ctx.Done():
				return fmt.Errorf("rebuild: %w", ctx.Err())
			}
			fmt.Fprintf(c.OutOrStdout(), "rebuild finished in %s\n", time.Since(start).Round(time.Millisecond))
			return nil
		},
	}
	c.Flags().Duration("timeout", 0, "give up waiting after this long (0 waits forever)")
	return c
}

func newInfoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "info",
		Short: "Show engine version, cluster and indices",
		Args:  cobra.NoArgs,
		RunE: func(c *cobra.Command, _ []string) error {
			svc, closeAll, err := openService(c)
			if err != nil {
				return err
			}
			defer closeAll()

			info, err := svc.Info(c.Context())
			if err != nil {
				return err
			}
			return printJSON(c.OutOrStdout(), info)
		},
	}
}
