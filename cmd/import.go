package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kozaktomas/facematch/internal/config"
	"github.com/kozaktomas/facematch/internal/engine"
	"github.com/kozaktomas/facematch/internal/store/maria"
	"github.com/kozaktomas/facematch/internal/store/postgres"
	"github.com/kozaktomas/facematch/internal/vecindex"
)

var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Import faces from a PhotoPrism library",
	Long: `Import face markers and subject assignments from a PhotoPrism MariaDB
database. The library is only read; markers without an embedding are
skipped and labeled markers are assigned to an identity named after
their subject.`,
	RunE: runImport,
}

func init() {
	rootCmd.AddCommand(importCmd)
}

func runImport(cmd *cobra.Command, args []string) error {
	cfg := config.Load()
	if cfg.Legacy.DatabaseDSN == "" {
		return errors.New("LEGACY_DATABASE_DSN environment variable is required")
	}
	if cfg.Database.URL == "" {
		return errors.New("DATABASE_URL environment variable is required")
	}

	ctx := context.Background()

	fmt.Printf("Connecting to PostgreSQL database...\n")
	st, err := postgres.New(ctx, &cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to initialize PostgreSQL: %w", err)
	}
	defer st.Close()
	if err := st.Migrate(ctx); err != nil {
		return fmt.Errorf("applying migrations: %w", err)
	}

	// The import writes through the engine so every observation is indexed
	// and archived the same way as one registered over the API.
	idx := vecindex.NewHNSWIndex()
	eng, err := engine.NewEngine(st, idx, cfg, engine.WithArchive(st))
	if err != nil {
		return err
	}

	fmt.Printf("Connecting to PhotoPrism MariaDB...\n")
	pool, err := maria.NewPool(cfg.Legacy.DatabaseDSN)
	if err != nil {
		return fmt.Errorf("failed to connect to MariaDB: %w", err)
	}
	defer pool.Close()

	stats, err := maria.NewImporter(pool, eng, st, cfg.Embedding.Dim).Run(ctx)
	if err != nil {
		return fmt.Errorf("import failed: %w", err)
	}

	fmt.Printf("Imported %d of %d markers: %d identities created, %d faces assigned, %d skipped\n",
		stats.Observations, stats.Markers, stats.Identities, stats.Assigned, stats.Skipped)
	return nil
}
