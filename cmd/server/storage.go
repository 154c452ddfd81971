package main

import (
	"context"
	"fmt"

	"github.com/forgo/sect/internal/config"
	"github.com/forgo/sect/internal/database"
	"github.com/forgo/sect/internal/repository"
	"github.com/forgo/sect/internal/service"
	"github.com/forgo/sect/internal/storage/memory"
	"github.com/forgo/sect/internal/storage/sqlite"
)

// sectStore is what the server needs from a storage driver
type sectStore interface {
	service.LedgerStore
	service.SectRepository
	service.RaidRepository
	DeleteDailyStatsBefore(ctx context.Context, dateKey string) (int, error)
	Ping(ctx context.Context) error
	Close() error
}

var (
	_ sectStore = (*repository.Store)(nil)
	_ sectStore = (*sqlite.Store)(nil)
	_ sectStore = (*memory.Store)(nil)
)

// openStore connects the storage driver named in cfg
func openStore(ctx context.Context, cfg *config.Config) (sectStore, error) {
	switch cfg.Storage.Driver {
	case config.DriverSurrealDB:
		db := database.NewSurrealDB(database.Config{
			Host:      cfg.Database.Host,
			Port:      cfg.Database.Port,
			User:      cfg.Database.User,
			Password:  cfg.Database.Password,
			Namespace: cfg.Database.Namespace,
			Database:  cfg.Database.Database,
		})
		if err := db.Connect(ctx); err != nil {
			return nil, fmt.Errorf("connect surrealdb: %w", err)
		}
		return repository.NewStore(db), nil
	case config.DriverSQLite:
		store, err := sqlite.Open(ctx, cfg.Storage.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("open sqlite: %w", err)
		}
		return store, nil
	case config.DriverMemory:
		return memory.New(), nil
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Storage.Driver)
	}
}
