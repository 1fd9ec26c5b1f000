package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/maltedev/pet-price-crawler/internal/api"
	"github.com/maltedev/pet-price-crawler/internal/models"
	"github.com/maltedev/pet-price-crawler/internal/schedule"
	"github.com/spf13/cobra"
)

func init() {
	linksCmd.Flags().String("shop", "", "shop to crawl (default: every configured shop)")
	productsCmd.Flags().String("shop", "", "shop to crawl (default: every configured shop)")

	rootCmd.AddCommand(linksCmd, productsCmd, serveCmd, scheduleCmd)
}

var linksCmd = &cobra.Command{
	Use:   "links",
	Short: "Collect product links for every category of a shop.",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runMode(cmd, models.RunModeLinks)
	},
}

var productsCmd = &cobra.Command{
	Use:   "products",
	Short: "Scrape every unvisited product link of a shop.",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runMode(cmd, models.RunModeProducts)
	},
}

// runMode executes mode for each selected shop, then relays the run events.
func runMode(cmd *cobra.Command, mode models.RunMode) error {
	ctx := cmd.Context()
	shop, _ := cmd.Flags().GetString("shop")

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	var errs []error
	for _, name := range a.shopsFor(shop) {
		run, err := a.manager.RunNow(ctx, name, mode)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s %s: %w", name, mode, err))
			continue
		}
		a.logger.Info("run finished", "shop", name, "mode", mode, "run_id", run.ID, "stats", run.Stats)
	}

	flushCtx := context.WithoutCancel(ctx)
	relay, closeRedis, err := a.newRelay(flushCtx)
	if err != nil {
		a.logger.Warn("events stay in the outbox until the next relay", "error", err)
		return errors.Join(errs...)
	}
	defer closeRedis()

	if err := relay.Flush(flushCtx); err != nil {
		a.logger.Warn("failed to relay run events", "error", err)
	}

	return errors.Join(errs...)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the HTTP API and process queued runs.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer a.close()

		relay, closeRedis, err := a.startRelay(ctx)
		if err != nil {
			return err
		}
		defer closeRedis()

		go a.manager.StartWorker(ctx)

		handlers := api.NewHandlers(a.manager, a.registry.Names, relay, a.logger)

		server := &http.Server{
			Addr:         fmt.Sprintf("%s:%d", a.cfg.Server.Host, a.cfg.Server.Port),
			Handler:      api.NewRouter(handlers, a.metrics.Handler()),
			ReadTimeout:  a.cfg.Server.ReadTimeout,
			WriteTimeout: a.cfg.Server.WriteTimeout,
			IdleTimeout:  60 * time.Second,
		}

		go func() {
			<-ctx.Done()
			a.logger.Info("shutting down server...")

			shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
			defer cancel()

			if err := server.Shutdown(shutdownCtx); err != nil {
				a.logger.Error("server shutdown failed", "error", err)
			}
		}()

		a.logger.Info("server starting", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}

		a.logger.Info("server stopped")
		return nil
	},
}

var scheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Run the daily links and products crawls on their cron schedules.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer a.close()

		_, closeRedis, err := a.startRelay(ctx)
		if err != nil {
			return err
		}
		defer closeRedis()

		s := schedule.New(a.manager, a.shopsFor(""), a.logger)
		if err := s.Add(ctx, a.cfg.Schedule.Links, models.RunModeLinks); err != nil {
			return err
		}
		if err := s.Add(ctx, a.cfg.Schedule.Products, models.RunModeProducts); err != nil {
			return err
		}

		s.Run(ctx)
		return nil
	},
}
