package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/nbhdai/aicl-oidc/cmd/aiclgw/internal/directory"
	"github.com/nbhdai/aicl-oidc/cmd/aiclgw/internal/identity"
)

var (
	expectRole string
	expectTeam string
)

var directoryCmd = &cobra.Command{
	Use:   "directory",
	Short: "Inspect the identity directory",
	Long:  `Read users, teams and institutions from the identity provider the way the gateway resolves them.`,
}

var directoryReportCmd = &cobra.Command{
	Use:   "report",
	Short: "List every user with a recognised role",
	RunE: func(cmd *cobra.Command, args []string) error {
		dir, err := newDirectory(cmd.Context(), nil)
		if err != nil {
			return err
		}
		roster, err := dir.GetComprehensiveReport(cmd.Context())
		if err != nil {
			return fmt.Errorf("failed to build report: %w", err)
		}

		table := newTable(cmd.OutOrStdout(), "ID", "Username", "Email", "Role", "Team", "Institution")
		for _, id := range roster {
			if err := table.Append([]string{
				id.ID.String(),
				id.Username,
				id.Email,
				id.Role.String(),
				orDash(id.TeamName()),
				orDash(id.InstitutionName()),
			}); err != nil {
				return fmt.Errorf("failed to append row: %w", err)
			}
		}
		return table.Render()
	},
}

var directoryTeamsCmd = &cobra.Command{
	Use:   "teams",
	Short: "List teams",
	RunE: func(cmd *cobra.Command, args []string) error {
		dir, err := newDirectory(cmd.Context(), nil)
		if err != nil {
			return err
		}
		teams, err := dir.GetTeams(cmd.Context())
		if err != nil {
			return fmt.Errorf("failed to list teams: %w", err)
		}
		table := newTable(cmd.OutOrStdout(), "ID", "Name")
		for _, t := range teams {
			if err := table.Append([]string{t.ID, t.Name}); err != nil {
				return fmt.Errorf("failed to append row: %w", err)
			}
		}
		return table.Render()
	},
}

var directoryInstitutionsCmd = &cobra.Command{
	Use:   "institutions",
	Short: "List institutions",
	RunE: func(cmd *cobra.Command, args []string) error {
		dir, err := newDirectory(cmd.Context(), nil)
		if err != nil {
			return err
		}
		institutions, err := dir.GetInstitutions(cmd.Context())
		if err != nil {
			return fmt.Errorf("failed to list institutions: %w", err)
		}
		table := newTable(cmd.OutOrStdout(), "ID", "Name")
		for _, i := range institutions {
			if err := table.Append([]string{i.ID, i.Name}); err != nil {
				return fmt.Errorf("failed to append row: %w", err)
			}
		}
		return table.Render()
	},
}

var directoryUserCmd = &cobra.Command{
	Use:   "user <id|username>",
	Short: "Resolve a user and optionally check a role and team",
	Long: `Resolves a user into the identity the gateway would attach to their
requests. With --role or --team the command fails unless the user holds
exactly that role and belongs to that team.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		dir, err := newDirectory(ctx, nil)
		if err != nil {
			return err
		}
		id, err := resolveUser(ctx, dir, args[0])
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "ID:          %s\n", id.ID)
		fmt.Fprintf(out, "Username:    %s\n", id.Username)
		fmt.Fprintf(out, "Email:       %s\n", orDash(id.Email))
		fmt.Fprintf(out, "Role:        %s\n", id.Role)
		fmt.Fprintf(out, "Team:        %s\n", orDash(id.TeamName()))
		fmt.Fprintf(out, "Institution: %s\n", orDash(id.InstitutionName()))

		switch {
		case expectRole != "" && expectTeam != "":
			role, err := identity.ParseRole(expectRole)
			if err != nil {
				return err
			}
			return id.Expect(role, expectTeam)
		case expectRole != "":
			role, err := identity.ParseRole(expectRole)
			if err != nil {
				return err
			}
			return id.ExpectRole(role)
		case expectTeam != "":
			return id.ExpectTeam(expectTeam)
		}
		return nil
	},
}

func resolveUser(ctx context.Context, dir *directory.Directory, ref string) (*identity.Identity, error) {
	if _, err := uuid.Parse(ref); err == nil {
		return dir.GetDomainUser(ctx, ref)
	}
	users, err := dir.FindUsersByUsername(ctx, ref)
	if err != nil {
		return nil, err
	}
	for i := range users {
		if strings.EqualFold(users[i].Username, ref) {
			return dir.ToDomainUser(ctx, &users[i])
		}
	}
	return nil, fmt.Errorf("user %q not found", ref)
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func init() {
	directoryUserCmd.Flags().StringVar(&expectRole, "role", "", "Require this role (ROOT, ADVISOR, CAPTAIN, STUDENT, SPECTATOR)")
	directoryUserCmd.Flags().StringVar(&expectTeam, "team", "", "Require membership of this team")

	directoryCmd.AddCommand(directoryReportCmd, directoryTeamsCmd, directoryInstitutionsCmd, directoryUserCmd)
	rootCmd.AddCommand(directoryCmd)
}
