package migrations

import (
	"context"
	"fmt"

	"github.com/uptrace/bun"

	"github.com/nbhdai/aicl-oidc/cmd/aiclgw/internal/db/models"
)

func init() {
	Migrations.MustRegister(up_20260301000000, down_20260301000000)
}

// up_20260301000000 creates the api_tokens table
func up_20260301000000(ctx context.Context, db *bun.DB) error {
	fmt.Print(" [up] creating api_tokens table...")

	_, err := db.NewCreateTable().
		Model((*models.APIToken)(nil)).
		IfNotExists().
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to create api_tokens table: %w", err)
	}

	// Listing is always per subject
	_, err = db.ExecContext(ctx, `CREATE INDEX IF NOT EXISTS idx_api_tokens_subject ON api_tokens(subject)`)
	if err != nil {
		return fmt.Errorf("failed to create api_tokens subject index: %w", err)
	}

	_, err = db.ExecContext(ctx, `CREATE INDEX IF NOT EXISTS idx_api_tokens_expires_at ON api_tokens(expires_at)`)
	if err != nil {
		return fmt.Errorf("failed to create api_tokens expires_at index: %w", err)
	}
	fmt.Println(" OK")

	return nil
}

// down_20260301000000 drops the api_tokens table
func down_20260301000000(ctx context.Context, db *bun.DB) error {
	fmt.Print(" [down] dropping api_tokens table...")

	_, err := db.NewDropTable().
		Model((*models.APIToken)(nil)).
		IfExists().
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to drop api_tokens table: %w", err)
	}
	fmt.Println(" OK")

	return nil
}
