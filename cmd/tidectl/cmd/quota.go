package cmd

import (
	"fmt"
	"net/url"

	"github.com/spf13/cobra"
)

type quotaView struct {
	ID                    string  `json:"id"`
	TenantID              string  `json:"tenant_id"`
	ResourceType          string  `json:"resource_type"`
	Period                string  `json:"period"`
	LimitValue            int64   `json:"limit_value"`
	IsHardLimit           bool    `json:"is_hard_limit"`
	NotificationThreshold float64 `json:"notification_threshold"`
	CreatedAt             string  `json:"created_at"`
}

// quotaCmd represents the quota command
var quotaCmd = &cobra.Command{
	Use:   "quota",
	Short: "Manage tenant quotas",
	Long:  `Configure per-tenant resource quotas and inspect current consumption.`,
}

// quotaSetCmd represents the set command
var quotaSetCmd = &cobra.Command{
	Use:   "set",
	Short: "Create or replace a quota",
	Long: `Create or replace the quota for a (tenant, resource) pair.

Example:
  tidectl quota set --tenant acme --resource webhook_delivery --period daily --limit 1000 --hard --threshold 80`,
	RunE: func(cmd *cobra.Command, args []string) error {
		tenant, _ := cmd.Flags().GetString("tenant")
		resource, _ := cmd.Flags().GetString("resource")
		period, _ := cmd.Flags().GetString("period")
		limit, _ := cmd.Flags().GetInt64("limit")
		hard, _ := cmd.Flags().GetBool("hard")
		threshold, _ := cmd.Flags().GetFloat64("threshold")

		if tenant == "" || resource == "" {
			return fmt.Errorf("--tenant and --resource are required")
		}

		body := map[string]any{
			"tenant_id":              tenant,
			"resource_type":          resource,
			"period":                 period,
			"limit_value":            limit,
			"is_hard_limit":          hard,
			"notification_threshold": threshold,
		}
		var q quotaView
		if err := apiRequest("POST", "/v1/quotas", body, &q); err != nil {
			return fmt.Errorf("failed to set quota: %w", err)
		}

		if outputJSON {
			printOutput(q)
		} else {
			fmt.Printf("Quota set: %s\n", q.ID)
			fmt.Printf("  Tenant: %s\n", q.TenantID)
			fmt.Printf("  Resource: %s\n", q.ResourceType)
			fmt.Printf("  Limit: %d per %s\n", q.LimitValue, q.Period)
			fmt.Printf("  Hard limit: %t\n", q.IsHardLimit)
			if q.NotificationThreshold > 0 {
				fmt.Printf("  Notify at: %.0f%%\n", q.NotificationThreshold)
			}
		}
		return nil
	},
}

// quotaListCmd represents the list command
var quotaListCmd = &cobra.Command{
	Use:   "list",
	Short: "List configured quotas",
	RunE: func(cmd *cobra.Command, args []string) error {
		var resp struct {
			Quotas []quotaView `json:"quotas"`
			Count  int         `json:"count"`
		}
		if err := apiRequest("GET", "/v1/quotas", nil, &resp); err != nil {
			return fmt.Errorf("failed to list quotas: %w", err)
		}

		if outputJSON {
			printOutput(resp)
			return nil
		}
		if len(resp.Quotas) == 0 {
			fmt.Println("No quotas configured")
			return nil
		}
		for _, q := range resp.Quotas {
			kind := "soft"
			if q.IsHardLimit {
				kind = "hard"
			}
			fmt.Printf("%s  tenant=%s resource=%s limit=%d/%s (%s)\n",
				q.ID, q.TenantID, q.ResourceType, q.LimitValue, q.Period, kind)
		}
		return nil
	},
}

// quotaStatusCmd represents the status command
var quotaStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show current consumption against each quota",
	RunE: func(cmd *cobra.Command, args []string) error {
		var resp struct {
			Statuses []struct {
				QuotaID      string  `json:"quota_id"`
				TenantID     string  `json:"tenant_id"`
				ResourceType string  `json:"resource_type"`
				Period       string  `json:"period"`
				Current      int64   `json:"current"`
				Limit        int64   `json:"limit"`
				Percentage   float64 `json:"percentage"`
				Allowed      bool    `json:"allowed"`
				IsHardLimit  bool    `json:"is_hard_limit"`
			} `json:"statuses"`
		}
		if err := apiRequest("GET", "/v1/quotas/status", nil, &resp); err != nil {
			return fmt.Errorf("failed to get quota status: %w", err)
		}

		if outputJSON {
			printOutput(resp)
			return nil
		}
		if len(resp.Statuses) == 0 {
			fmt.Println("No quotas configured")
			return nil
		}
		for _, s := range resp.Statuses {
			marker := ""
			if !s.Allowed {
				marker = "  [over limit]"
			}
			fmt.Printf("%s/%s: %d/%d (%.1f%%) per %s%s\n",
				s.TenantID, s.ResourceType, s.Current, s.Limit, s.Percentage, s.Period, marker)
		}
		return nil
	},
}

// quotaDeleteCmd represents the delete command
var quotaDeleteCmd = &cobra.Command{
	Use:   "delete [quota-id]",
	Short: "Delete a quota",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := apiRequest("DELETE", "/v1/quotas/"+url.PathEscape(args[0]), nil, nil); err != nil {
			return fmt.Errorf("failed to delete quota: %w", err)
		}
		fmt.Printf("Deleted quota: %s\n", args[0])
		return nil
	},
}

func init() {
	rootCmd.AddCommand(quotaCmd)
	quotaCmd.AddCommand(quotaSetCmd)
	quotaCmd.AddCommand(quotaListCmd)
	quotaCmd.AddCommand(quotaStatusCmd)
	quotaCmd.AddCommand(quotaDeleteCmd)

	// Flags for set command
	quotaSetCmd.Flags().String("tenant", "", "tenant ID (required)")
	quotaSetCmd.Flags().String("resource", "", "resource type (required)")
	quotaSetCmd.Flags().String("period", "daily", "window period (hourly, daily, monthly)")
	quotaSetCmd.Flags().Int64("limit", 0, "limit value (required)")
	quotaSetCmd.Flags().Bool("hard", false, "reject when over the limit instead of warning")
	quotaSetCmd.Flags().Float64("threshold", 0, "notification threshold percentage (0 disables)")
}
