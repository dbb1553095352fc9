package cmd

import (
	"encoding/json"
	"fmt"
	"net/url"

	"github.com/spf13/cobra"
)

// jobView mirrors the job JSON served by the API.
type jobView struct {
	ID             string          `json:"id"`
	Type           string          `json:"type"`
	Payload        json.RawMessage `json:"payload,omitempty"`
	Status         string          `json:"status"`
	Attempts       int             `json:"attempts"`
	MaxAttempts    int             `json:"max_attempts"`
	Result         json.RawMessage `json:"result,omitempty"`
	ErrorText      string          `json:"error_text,omitempty"`
	Cancelled      bool            `json:"cancelled,omitempty"`
	CreatedAt      string          `json:"created_at"`
	StartedAt      string          `json:"started_at,omitempty"`
	CompletedAt    string          `json:"completed_at,omitempty"`
	NextEligibleAt string          `json:"next_eligible_at"`
}

func printJob(j jobView) {
	fmt.Printf("Job %s:\n", j.ID)
	fmt.Printf("  Type: %s\n", j.Type)
	fmt.Printf("  Status: %s\n", j.Status)
	fmt.Printf("  Attempts: %d/%d\n", j.Attempts, j.MaxAttempts)
	if j.Cancelled {
		fmt.Printf("  Cancelled: true\n")
	}
	if j.ErrorText != "" {
		fmt.Printf("  Error: %s\n", j.ErrorText)
	}
	if len(j.Result) > 0 {
		fmt.Printf("  Result: %s\n", string(j.Result))
	}
	fmt.Printf("  Created: %s\n", formatTime(j.CreatedAt))
	if j.StartedAt != "" {
		fmt.Printf("  Started: %s\n", formatTime(j.StartedAt))
	}
	if j.CompletedAt != "" {
		fmt.Printf("  Completed: %s\n", formatTime(j.CompletedAt))
	}
}

// jobCmd represents the job command
var jobCmd = &cobra.Command{
	Use:   "job",
	Short: "Manage jobs",
	Long:  `Enqueue jobs, inspect their status, and retry or cancel them.`,
}

// enqueueCmd represents the enqueue command
var enqueueCmd = &cobra.Command{
	Use:   "enqueue",
	Short: "Enqueue a new job",
	Long: `Enqueue a new job for asynchronous execution.

Example:
  tidectl job enqueue --type send_webhook --payload '{"target_url":"https://example.com/hook","event_type":"order.created"}'`,
	RunE: func(cmd *cobra.Command, args []string) error {
		jobType, _ := cmd.Flags().GetString("type")
		payloadStr, _ := cmd.Flags().GetString("payload")
		maxAttempts, _ := cmd.Flags().GetInt("max-attempts")

		if jobType == "" {
			return fmt.Errorf("--type is required")
		}
		var payload json.RawMessage
		if payloadStr != "" {
			if !json.Valid([]byte(payloadStr)) {
				return fmt.Errorf("--payload must be valid JSON")
			}
			payload = json.RawMessage(payloadStr)
		}

		body := map[string]any{"type": jobType}
		if payload != nil {
			body["payload"] = payload
		}
		if maxAttempts > 0 {
			body["max_attempts"] = maxAttempts
		}

		var j jobView
		if err := apiRequest("POST", "/v1/jobs", body, &j); err != nil {
			return fmt.Errorf("failed to enqueue job: %w", err)
		}

		if outputJSON {
			printOutput(j)
		} else {
			fmt.Printf("Enqueued job: %s\n", j.ID)
			fmt.Printf("  Type: %s\n", j.Type)
			fmt.Printf("  Status: %s\n", j.Status)
			fmt.Printf("  Max attempts: %d\n", j.MaxAttempts)
		}
		return nil
	},
}

// jobGetCmd represents the get command
var jobGetCmd = &cobra.Command{
	Use:   "get [job-id]",
	Short: "Get a job by ID",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var j jobView
		if err := apiRequest("GET", "/v1/jobs/"+url.PathEscape(args[0]), nil, &j); err != nil {
			return fmt.Errorf("failed to get job: %w", err)
		}
		if outputJSON {
			printOutput(j)
		} else {
			printJob(j)
		}
		return nil
	},
}

// jobListCmd represents the list command
var jobListCmd = &cobra.Command{
	Use:   "list",
	Short: "List jobs",
	Long: `List jobs, optionally filtered by status.

Example:
  tidectl job list --status failed --limit 20`,
	RunE: func(cmd *cobra.Command, args []string) error {
		status, _ := cmd.Flags().GetString("status")
		limit, _ := cmd.Flags().GetInt("limit")

		path := fmt.Sprintf("/v1/jobs?limit=%d", limit)
		if status != "" {
			path += "&status=" + url.QueryEscape(status)
		}

		var resp struct {
			Jobs  []jobView `json:"jobs"`
			Count int       `json:"count"`
		}
		if err := apiRequest("GET", path, nil, &resp); err != nil {
			return fmt.Errorf("failed to list jobs: %w", err)
		}

		if outputJSON {
			printOutput(resp)
			return nil
		}
		if len(resp.Jobs) == 0 {
			fmt.Println("No jobs found")
			return nil
		}
		for _, j := range resp.Jobs {
			fmt.Printf("%s  %-14s %-10s attempts=%d/%d  %s\n",
				j.ID, j.Type, j.Status, j.Attempts, j.MaxAttempts, formatTime(j.CreatedAt))
		}
		return nil
	},
}

// jobStatsCmd represents the stats command
var jobStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show job counts per status",
	RunE: func(cmd *cobra.Command, args []string) error {
		var resp struct {
			Pending    int `json:"pending"`
			Running    int `json:"running"`
			Completed  int `json:"completed"`
			Failed     int `json:"failed"`
			QueueDepth int `json:"queue_depth"`
		}
		if err := apiRequest("GET", "/v1/jobs/stats", nil, &resp); err != nil {
			return fmt.Errorf("failed to get job stats: %w", err)
		}

		if outputJSON {
			printOutput(resp)
		} else {
			fmt.Println("Job stats:")
			fmt.Printf("  Pending:     %d\n", resp.Pending)
			fmt.Printf("  Running:     %d\n", resp.Running)
			fmt.Printf("  Completed:   %d\n", resp.Completed)
			fmt.Printf("  Failed:      %d\n", resp.Failed)
			fmt.Printf("  Queue depth: %d\n", resp.QueueDepth)
		}
		return nil
	},
}

// jobRetryCmd represents the retry command
var jobRetryCmd = &cobra.Command{
	Use:   "retry [job-id]",
	Short: "Retry a failed job",
	Long: `Reset a terminally failed job back to pending with a fresh attempt budget.

Example:
  tidectl job retry 2f9c7a6e-1b3d-4c8f-9e2a-5d6b7c8d9e0f`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var j jobView
		if err := apiRequest("POST", "/v1/jobs/"+url.PathEscape(args[0])+"/retry", nil, &j); err != nil {
			return fmt.Errorf("failed to retry job: %w", err)
		}
		if outputJSON {
			printOutput(j)
		} else {
			fmt.Printf("Retrying job: %s\n", j.ID)
			fmt.Printf("  Status: %s\n", j.Status)
			fmt.Printf("  Attempts: %d/%d\n", j.Attempts, j.MaxAttempts)
		}
		return nil
	},
}

// jobCancelCmd represents the cancel command
var jobCancelCmd = &cobra.Command{
	Use:   "cancel [job-id]",
	Short: "Cancel a pending or running job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var j jobView
		if err := apiRequest("POST", "/v1/jobs/"+url.PathEscape(args[0])+"/cancel", nil, &j); err != nil {
			return fmt.Errorf("failed to cancel job: %w", err)
		}
		if outputJSON {
			printOutput(j)
		} else {
			fmt.Printf("Cancelled job: %s\n", j.ID)
			fmt.Printf("  Status: %s\n", j.Status)
			fmt.Printf("  Error: %s\n", j.ErrorText)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(jobCmd)
	jobCmd.AddCommand(enqueueCmd)
	jobCmd.AddCommand(jobGetCmd)
	jobCmd.AddCommand(jobListCmd)
	jobCmd.AddCommand(jobStatsCmd)
	jobCmd.AddCommand(jobRetryCmd)
	jobCmd.AddCommand(jobCancelCmd)

	// Flags for enqueue command
	enqueueCmd.Flags().String("type", "", "job type (required)")
	enqueueCmd.Flags().String("payload", "", "job payload as a JSON string")
	enqueueCmd.Flags().Int("max-attempts", 0, "maximum attempts (0 uses the server default)")

	// Flags for list command
	jobListCmd.Flags().String("status", "", "filter by status (pending, running, completed, failed)")
	jobListCmd.Flags().Int("limit", 50, "maximum number of results")
}
