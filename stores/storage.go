package stores

import (
	"context"
	"fmt"

	"collab-server/config"
	"collab-server/core"
	"collab-server/stores/memory"
	"collab-server/stores/postgres"
	"collab-server/stores/redis"
	"collab-server/stores/sqlite"

	"github.com/sirupsen/logrus"
)

// Stores bundles the collaborators the broker needs.
type Stores struct {
	Presence  core.PresenceStore
	EditLog   core.EditLog
	Directory core.Directory
	Comments  core.CommentStore

	closers []func() error
}

// backend is implemented by every relational store.
type backend interface {
	core.EditLog
	core.Directory
	core.CommentStore
}

func GetStores(ctx context.Context, cfg config.Config) (*Stores, error) {
	var (
		s       = &Stores{}
		primary backend
		mem     *memory.Store
	)

	storageField := logrus.Fields{
		"storageType": cfg.StorageType,
	}

	switch cfg.StorageType {
	case "sqlite":
		storageField["dataSourceName"] = cfg.DataSourceName
		store, err := sqlite.NewStore(cfg.DataSourceName)
		if err != nil {
			return nil, err
		}
		s.closers = append(s.closers, store.Close)
		primary = store
	case "postgres":
		store, err := postgres.NewStore(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		s.closers = append(s.closers, store.Close)
		primary = store
	default:
		mem = memory.NewStore()
		primary = mem
		storageField["storageType"] = "in-memory"
	}
	s.EditLog, s.Directory, s.Comments = primary, primary, primary

	switch cfg.PresenceBackend {
	case "redis":
		storageField["presenceBackend"] = "redis"
		presence, err := redis.NewPresenceStore(cfg.RedisURL, 2*cfg.PresenceTTL)
		if err != nil {
			s.Close()
			return nil, err
		}
		s.closers = append(s.closers, presence.Close)
		s.Presence = presence
	default:
		storageField["presenceBackend"] = "in-memory"
		if mem == nil {
			mem = memory.NewStore()
		}
		s.Presence = mem
	}

	logrus.WithFields(storageField).Info("Use storage")
	return s, nil
}

func (s *Stores) Close() error {
	var firstErr error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("close store: %w", err)
		}
	}
	return firstErr
}
