package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kozaktomas/facematch/internal/config"
	"github.com/kozaktomas/facematch/internal/engine"
	"github.com/kozaktomas/facematch/internal/store/postgres"
	"github.com/kozaktomas/facematch/internal/vecindex"
)

// setupEngine connects to PostgreSQL, applies pending migrations and
// prepares the in-memory vector index. When INDEX_PATH points at a
// persisted snapshot the index is loaded from disk, otherwise it is
// rebuilt from the durable archive. The returned close function saves
// the snapshot when a path is configured and releases the database
// pool.
func setupEngine(ctx context.Context, cfg *config.Config) (*engine.Engine, func(), error) {
	if cfg.Database.URL == "" {
		return nil, nil, errors.New("DATABASE_URL environment variable is required")
	}

	fmt.Printf("Connecting to PostgreSQL database...\n")
	st, err := postgres.New(ctx, &cfg.Database)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize PostgreSQL: %w", err)
	}
	if err := st.Migrate(ctx); err != nil {
		st.Close()
		return nil, nil, fmt.Errorf("applying migrations: %w", err)
	}

	idx := vecindex.NewHNSWIndex()
	idx.SetPath(cfg.Index.Path)
	if cfg.Index.Path != "" {
		if meta, metaErr := vecindex.LoadMetadata(cfg.Index.Path); metaErr == nil {
			if err := idx.Load(cfg.Index.Path); err != nil {
				st.Close()
				return nil, nil, fmt.Errorf("loading vector index: %w", err)
			}
			if idx.Count() != meta.PointCount {
				// The snapshot disagrees with its own sidecar; treat it as
				// stale and rebuild from the archive.
				fmt.Printf("Index snapshot holds %d points, metadata says %d; rebuilding\n",
					idx.Count(), meta.PointCount)
				idx = vecindex.NewHNSWIndex()
				idx.SetPath(cfg.Index.Path)
			} else {
				fmt.Printf("Loaded vector index from %s (%d points, built %s)\n",
					cfg.Index.Path, idx.Count(), meta.BuildTime.Format(time.RFC3339))
			}
		}
	}

	eng, err := engine.NewEngine(st, idx, cfg, engine.WithArchive(st))
	if err != nil {
		st.Close()
		return nil, nil, err
	}

	if idx.Count() == 0 {
		fmt.Printf("Building in-memory HNSW index from vector archive...\n")
		result, err := eng.RebuildIndex(ctx)
		if err != nil {
			st.Close()
			return nil, nil, fmt.Errorf("rebuilding vector index: %w", err)
		}
		fmt.Printf("Index ready with %d observations and %d prototypes\n",
			result.Observations, result.Prototypes)
	}

	closeFn := func() {
		if cfg.Index.Path != "" {
			if err := idx.Save(); err != nil {
				fmt.Printf("could not save vector index: %v\n", err)
			}
		}
		st.Close()
	}
	return eng, closeFn, nil
}
