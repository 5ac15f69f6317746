package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/DavidPeltz/pinvault/audit"
)

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Query the audit log",
}

var auditQueryCmd = &cobra.Command{
	Use:   "query",
	Short: "Show recorded backup operations",
	Args:  cobra.NoArgs,
	RunE:  runAuditQuery,
}

var (
	auditAction string
	auditSince  string
	auditLimit  int
)

func init() {
	rootCmd.AddCommand(auditCmd)
	auditCmd.AddCommand(auditQueryCmd)

	auditQueryCmd.Flags().StringVar(&auditAction, "action", "", "filter by action (backup_create, backup_restore, ...)")
	auditQueryCmd.Flags().StringVar(&auditSince, "since", "", "only show events after this time (RFC3339)")
	auditQueryCmd.Flags().IntVar(&auditLimit, "limit", 50, "maximum number of events")
}

func runAuditQuery(cmd *cobra.Command, args []string) error {
	cfg := auditConfig()
	if cfg == nil {
		return fmt.Errorf("audit logging is not enabled; set --audit or audit.enabled in the config file")
	}

	logger, err := audit.NewLogger(cfg)
	if err != nil {
		return fmt.Errorf("failed to open audit log: %w", err)
	}
	defer logger.Close()

	options := audit.QueryOptions{
		Action: auditAction,
		Limit:  auditLimit,
	}
	if auditSince != "" {
		since, err := time.Parse(time.RFC3339, auditSince)
		if err != nil {
			return fmt.Errorf("invalid --since value: %w", err)
		}
		options.Since = &since
	}

	result, err := logger.Query(options)
	if err != nil {
		return fmt.Errorf("audit query failed: %w", err)
	}

	if len(result.Events) == 0 {
		fmt.Println("No audit events")
		return nil
	}

	for _, e := range result.Events {
		line := fmt.Sprintf("%s  %-16s %-8s", e.Timestamp.Format(time.RFC3339), e.Action, e.Outcome)
		if e.BackupID != "" {
			line += "  backup=" + e.BackupID
		}
		if e.Detail != "" {
			line += "  " + e.Detail
		}
		fmt.Println(line)
	}
	if result.HasMore {
		fmt.Printf("(%d of %d shown)\n", len(result.Events), result.Filtered)
	}
	return nil
}
