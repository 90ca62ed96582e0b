package cmd

import (
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/olekukonko/tablewriter"
	"github.com/olekukonko/tablewriter/tw"
	"github.com/spf13/cobra"

	"github.com/nbhdai/aicl-oidc/cmd/aiclgw/internal/db/bunx"
	"github.com/nbhdai/aicl-oidc/cmd/aiclgw/internal/repository"
	"github.com/nbhdai/aicl-oidc/cmd/aiclgw/internal/tokens"
)

var (
	tokenName string
	tokenTTL  time.Duration
)

var tokensCmd = &cobra.Command{
	Use:   "tokens",
	Short: "Manage API tokens",
	Long:  `Issue, list and revoke the bearer tokens API clients present to the gateway.`,
}

var tokensIssueCmd = &cobra.Command{
	Use:   "issue <user-id>",
	Short: "Issue a token for a user",
	Long: `Issues a new API token for the identity provider user with the given id.
The plaintext token is printed once and cannot be recovered later.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		subject, err := uuid.Parse(args[0])
		if err != nil {
			return fmt.Errorf("invalid user id %q: %w", args[0], err)
		}
		ctx := cmd.Context()
		db, err := openDB(ctx)
		if err != nil {
			return err
		}
		defer bunx.Close(db)

		store := tokens.NewStore(repository.NewBunAPITokenRepository(db), logger)
		token, record, err := store.Issue(ctx, tokens.IssueRequest{
			Subject:   subject,
			Name:      tokenName,
			TTL:       tokenTTL,
			CreatedBy: "cli",
		})
		if err != nil {
			return fmt.Errorf("failed to issue token: %w", err)
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Token ID: %s\n", record.ID)
		if record.ExpiresAt != nil {
			fmt.Fprintf(out, "Expires:  %s\n", record.ExpiresAt.Format(time.RFC3339))
		}
		fmt.Fprintf(out, "Token:    %s\n", token)
		return nil
	},
}

var tokensListCmd = &cobra.Command{
	Use:   "list <user-id>",
	Short: "List the tokens of a user",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		subject, err := uuid.Parse(args[0])
		if err != nil {
			return fmt.Errorf("invalid user id %q: %w", args[0], err)
		}
		ctx := cmd.Context()
		db, err := openDB(ctx)
		if err != nil {
			return err
		}
		defer bunx.Close(db)

		store := tokens.NewStore(repository.NewBunAPITokenRepository(db), logger)
		records, err := store.List(ctx, subject)
		if err != nil {
			return fmt.Errorf("failed to list tokens: %w", err)
		}
		if len(records) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No tokens found.")
			return nil
		}

		table := newTable(cmd.OutOrStdout(), "ID", "Name", "Created", "Expires", "Last Used", "Status")
		now := time.Now()
		for _, t := range records {
			status := "active"
			switch {
			case t.Revoked():
				status = "revoked"
			case t.Expired(now):
				status = "expired"
			}
			if err := table.Append([]string{
				t.ID,
				t.Name,
				t.CreatedAt.Format(time.RFC3339),
				formatTime(t.ExpiresAt),
				formatTime(t.LastUsedAt),
				status,
			}); err != nil {
				return fmt.Errorf("failed to append row: %w", err)
			}
		}
		return table.Render()
	},
}

var tokensRevokeCmd = &cobra.Command{
	Use:   "revoke <token-id>",
	Short: "Revoke a token",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		db, err := openDB(ctx)
		if err != nil {
			return err
		}
		defer bunx.Close(db)

		store := tokens.NewStore(repository.NewBunAPITokenRepository(db), logger)
		if err := store.RevokeByID(ctx, args[0]); err != nil {
			return fmt.Errorf("failed to revoke token: %w", err)
		}
		logger.Infow("token revoked", "id", args[0])
		return nil
	},
}

var tokensPruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete expired and revoked tokens",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		db, err := openDB(ctx)
		if err != nil {
			return err
		}
		defer bunx.Close(db)

		store := tokens.NewStore(repository.NewBunAPITokenRepository(db), logger)
		n, err := store.Prune(ctx, cfg.Tokens.PruneGrace)
		if err != nil {
			return fmt.Errorf("failed to prune tokens: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Pruned %d tokens\n", n)
		return nil
	},
}

// newTable returns a bordered table with a left-aligned header.
func newTable(w io.Writer, header ...string) *tablewriter.Table {
	table := tablewriter.NewWriter(w)
	table.Options(
		tablewriter.WithHeader(header),
		tablewriter.WithAlignment(tw.MakeAlign(len(header), tw.AlignLeft)),
	)
	return table
}

func formatTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.Format(time.RFC3339)
}

func init() {
	tokensIssueCmd.Flags().StringVar(&tokenName, "name", "", "Human-readable token name")
	tokensIssueCmd.Flags().DurationVar(&tokenTTL, "ttl", 0, "Token lifetime, e.g. 720h (0 never expires)")

	tokensCmd.AddCommand(tokensIssueCmd, tokensListCmd, tokensRevokeCmd, tokensPruneCmd)
	rootCmd.AddCommand(tokensCmd)
}
