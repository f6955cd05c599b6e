package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ShayCichocki/relay/internal/config"
	"github.com/ShayCichocki/relay/internal/hub"
	"github.com/ShayCichocki/relay/internal/state"
)

var hubListenAddr string
var hubNoStore bool

var hubCmd = &cobra.Command{
	Use:   "hub",
	Short: "Run the coordinator",
	Long: `Start the relay hub: accepts worker connections on /ws, serves the
admin API under /api, and tracks every submitted task. Task history is
mirrored to a local sqlite database unless --no-store is given.`,
	RunE: runHub,
}

func init() {
	hubCmd.Flags().StringVar(&hubListenAddr, "listen", "", "Listen address (overrides config)")
	hubCmd.Flags().BoolVar(&hubNoStore, "no-store", false, "Disable the task history database")
}

func runHub(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	addr := cfg.Hub.ListenAddr
	if hubListenAddr != "" {
		addr = hubListenAddr
	}
	token := cfg.Hub.Token
	if hubToken != "" {
		token = hubToken
	}

	var opts []hub.Option
	if !hubNoStore {
		db, err := state.Open(state.DefaultDBPath())
		if err != nil {
			return fmt.Errorf("open task history: %w", err)
		}
		defer db.Close()
		if err := db.Migrate(); err != nil {
			return fmt.Errorf("migrate task history: %w", err)
		}
		opts = append(opts, hub.WithStore(db))
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	h := hub.New(opts...)
	go h.Run(ctx)

	// Push config file changes out to connected workers.
	if path := config.GetProjectConfigPath(); path != "" {
		w, err := config.Watch(path, func(cfg *config.Config) {
			h.BroadcastConfig(map[string]any{
				"defaults": map[string]any{
					"token_budget":   cfg.Defaults.TokenBudget,
					"context_window": cfg.Defaults.ContextWindow,
				},
			})
			log.Printf("[hub] broadcast config update from %s", path)
		})
		if err != nil {
			log.Printf("[hub] config watch disabled: %v", err)
		} else {
			defer w.Close()
		}
	}

	srv := hub.NewServer(h, addr, token)
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	return srv.Shutdown(shutdownCtx)
}
