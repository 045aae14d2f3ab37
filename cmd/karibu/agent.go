package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"text/tabwriter"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	goutils "github.com/jkaninda/go-utils"

	"github.com/karibuhq/karibu/internal/config"
	"github.com/karibuhq/karibu/internal/identity"
	"github.com/karibuhq/karibu/internal/security"
)

var (
	agentConfigPath string
	agentName       string
	agentRole       string
)

var agentCmd = &cobra.Command{
	Use:   "agent",
	Short: "Manage service agent identities",
}

var agentCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Issue a new agent credential",
	RunE:  runAgentCreate,
}

var agentListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all agent identities",
	RunE:  runAgentList,
}

var agentDisableCmd = &cobra.Command{
	Use:   "disable <agent-id>",
	Short: "Deactivate an agent credential",
	Args:  cobra.ExactArgs(1),
	RunE:  runAgentDisable,
}

var agentEnableCmd = &cobra.Command{
	Use:   "enable <agent-id>",
	Short: "Reactivate a deactivated agent credential",
	Args:  cobra.ExactArgs(1),
	RunE:  runAgentEnable,
}

func init() {
	agentCmd.PersistentFlags().StringVar(&agentConfigPath, "config", config.DefaultConfigPath(), "path to config file")
	agentCreateCmd.Flags().StringVar(&agentName, "name", "", "agent display name (required)")
	agentCreateCmd.Flags().StringVar(&agentRole, "role", "", "agent role, e.g. FINANCE (required)")
	_ = agentCreateCmd.MarkFlagRequired("name")
	_ = agentCreateCmd.MarkFlagRequired("role")
	agentCmd.AddCommand(agentCreateCmd, agentListCmd, agentDisableCmd, agentEnableCmd)
}

// openIdentities loads config and opens the identity manager against the
// configured store. The returned cleanup closes the store.
func openIdentities() (*identity.Manager, func(), error) {
	cfg, err := config.Load(goutils.Env("KARIBU_CONFIG", agentConfigPath))
	if err != nil {
		return nil, nil, err
	}

	logger := newLogger(cfg.Logging)

	if err := os.MkdirAll(cfg.ResolvedDataDir(), 0750); err != nil {
		return nil, nil, fmt.Errorf("creating data directory: %w", err)
	}

	store, err := initStore(cfg, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("initializing storage: %w", err)
	}
	if err := store.Migrate(context.Background()); err != nil {
		_ = store.Close()
		return nil, nil, fmt.Errorf("running migrations: %w", err)
	}

	cleanup := func() {
		if err := store.Close(); err != nil {
			logger.Error("closing store", slog.String("error", err.Error()))
		}
	}
	return identity.NewManager(store.Identities(), logger), cleanup, nil
}

func runAgentCreate(_ *cobra.Command, _ []string) error {
	role, ok := security.ParseRole(agentRole)
	if !ok {
		return fmt.Errorf("invalid role %q (valid: %v)", agentRole, security.AllRoles)
	}

	identities, cleanup, err := openIdentities()
	if err != nil {
		return err
	}
	defer cleanup()

	agent, secret, err := identities.Issue(context.Background(), agentName, role, nil)
	if err != nil {
		return fmt.Errorf("issuing agent: %w", err)
	}

	fmt.Printf("agent created\n")
	fmt.Printf("  id:     %s\n", agent.ID)
	fmt.Printf("  name:   %s\n", agent.DisplayName)
	fmt.Printf("  role:   %s\n", agent.Role)
	fmt.Printf("  secret: %s\n", secret)
	fmt.Printf("\nThe secret is shown once and cannot be recovered. Store it now.\n")
	return nil
}

func runAgentList(_ *cobra.Command, _ []string) error {
	identities, cleanup, err := openIdentities()
	if err != nil {
		return err
	}
	defer cleanup()

	agents, err := identities.List(context.Background())
	if err != nil {
		return fmt.Errorf("listing agents: %w", err)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tROLE\tACTIVE\tCREATED")
	for _, a := range agents {
		fmt.Fprintf(w, "%s\t%s\t%s\t%t\t%s\n",
			a.ID, a.DisplayName, a.Role, a.Active, a.CreatedAt.Format("2006-01-02 15:04"))
	}
	return w.Flush()
}

func runAgentDisable(_ *cobra.Command, args []string) error {
	return setAgentActive(args[0], false)
}

func runAgentEnable(_ *cobra.Command, args []string) error {
	return setAgentActive(args[0], true)
}

func setAgentActive(rawID string, active bool) error {
	id, err := uuid.Parse(rawID)
	if err != nil {
		return fmt.Errorf("invalid agent ID %q: %w", rawID, err)
	}

	identities, cleanup, err := openIdentities()
	if err != nil {
		return err
	}
	defer cleanup()

	ctx := context.Background()
	if active {
		err = identities.Reactivate(ctx, id)
	} else {
		err = identities.Deactivate(ctx, id)
	}
	if err != nil {
		return err
	}

	action := "disabled"
	if active {
		action = "enabled"
	}
	fmt.Printf("agent %s %s\n", id, action)
	return nil
}
