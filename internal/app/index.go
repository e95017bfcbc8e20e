package app

import (
	"context"
	"fmt"
)

// IndexCreate creates the historical index when it is missing.
func (a *App) IndexCreate(ctx context.Context) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	if err := store.EnsureIndex(ctx); err != nil {
		return err
	}
	a.Logger.Info().Str("index", a.Config.Store.Index).Msg("index ready")
	return nil
}

// IndexDelete drops the historical index and every stored observation.
func (a *App) IndexDelete(ctx context.Context) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	if err := store.DeleteIndex(ctx); err != nil {
		return err
	}
	a.Logger.Info().Str("index", a.Config.Store.Index).Msg("index deleted")
	return nil
}

// IndexStatus reports whether the historical index exists.
func (a *App) IndexStatus(ctx context.Context) (bool, error) {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return false, err
	}
	defer closeStore()

	exists, err := store.IndexExists(ctx)
	if err != nil {
		return false, err
	}
	fmt.Fprintf(a.Out, "%s (%s): exists=%t\n", a.Config.Store.Index, a.Config.Store.Driver, exists)
	return exists, nil
}
