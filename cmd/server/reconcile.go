package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/signage/screen-pairing-server/internal/config"
	"github.com/signage/screen-pairing-server/internal/events"
	"github.com/signage/screen-pairing-server/internal/repository"
	"github.com/signage/screen-pairing-server/internal/service"
)

func reconcileCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile",
		Short: "Run one pass relinking or flagging devices without a pairing code",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReconcile(cmd.Context())
		},
	}
}

func runReconcile(ctx context.Context) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	db, redisClient, err := connect(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()
	defer redisClient.Close()

	store := repository.NewStore(db)
	reconciler := service.NewReconciler(store, events.NewPublisher(redisClient, cfg.EventSource), cfg.OrphanGrace(), nil)

	ctx, cancel := context.WithTimeout(ctx, config.JobRunTimeout)
	defer cancel()

	_, err = reconciler.ReconcileOrphans(ctx)
	return err
}
