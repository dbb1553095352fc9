package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

// webhookCmd represents the webhook command
var webhookCmd = &cobra.Command{
	Use:   "webhook",
	Short: "Test and inspect webhook deliveries",
	Long:  `Send test deliveries, validate signatures, and view delivery metrics.`,
}

// webhookTestCmd represents the test command
var webhookTestCmd = &cobra.Command{
	Use:   "test",
	Short: "Send a test webhook delivery",
	Long: `Deliver a one-off webhook immediately, outside the job queue.

Example:
  tidectl webhook test --url https://example.com/hook --event test.ping --secret s3cret`,
	RunE: func(cmd *cobra.Command, args []string) error {
		targetURL, _ := cmd.Flags().GetString("url")
		eventType, _ := cmd.Flags().GetString("event")
		dataStr, _ := cmd.Flags().GetString("data")
		secret, _ := cmd.Flags().GetString("secret")

		if targetURL == "" || eventType == "" {
			return fmt.Errorf("--url and --event are required")
		}
		if dataStr != "" && !json.Valid([]byte(dataStr)) {
			return fmt.Errorf("--data must be valid JSON")
		}

		body := map[string]any{
			"target_url": targetURL,
			"event_type": eventType,
		}
		if dataStr != "" {
			body["data"] = json.RawMessage(dataStr)
		}
		if secret != "" {
			body["secret"] = secret
		}

		var resp struct {
			HTTPStatus    int    `json:"http_status"`
			LatencyMS     int64  `json:"latency_ms"`
			SignatureSent string `json:"signature_sent,omitempty"`
			ResponseBody  string `json:"response_body,omitempty"`
		}
		if err := apiRequest("POST", "/v1/webhooks/test", body, &resp); err != nil {
			return fmt.Errorf("test delivery failed: %w", err)
		}

		if outputJSON {
			printOutput(resp)
		} else {
			fmt.Println("Test delivery result:")
			fmt.Printf("  HTTP status: %d\n", resp.HTTPStatus)
			fmt.Printf("  Latency: %dms\n", resp.LatencyMS)
			if resp.SignatureSent != "" {
				fmt.Printf("  Signature: %s\n", resp.SignatureSent)
			}
			if resp.ResponseBody != "" {
				fmt.Printf("  Response: %s\n", resp.ResponseBody)
			}
		}
		return nil
	},
}

// webhookValidateCmd represents the validate command
var webhookValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate a webhook signature",
	Long: `Check a received signature against the expected HMAC for a payload.

Example:
  tidectl webhook validate --payload '{"event":"test"}' --secret s3cret --signature sha256=abc...`,
	RunE: func(cmd *cobra.Command, args []string) error {
		payload, _ := cmd.Flags().GetString("payload")
		secret, _ := cmd.Flags().GetString("secret")
		signature, _ := cmd.Flags().GetString("signature")

		if secret == "" {
			return fmt.Errorf("--secret is required")
		}

		body := map[string]any{
			"body":               payload,
			"secret":             secret,
			"provided_signature": signature,
		}
		var resp struct {
			Valid             bool   `json:"valid"`
			ExpectedSignature string `json:"expected_signature"`
		}
		if err := apiRequest("POST", "/v1/webhooks/validate-signature", body, &resp); err != nil {
			return fmt.Errorf("validation request failed: %w", err)
		}

		if outputJSON {
			printOutput(resp)
		} else if resp.Valid {
			fmt.Println("Signature is valid")
		} else {
			fmt.Println("Signature is NOT valid")
			fmt.Printf("  Expected: %s\n", resp.ExpectedSignature)
		}
		return nil
	},
}

// webhookMetricsCmd represents the metrics command
var webhookMetricsCmd = &cobra.Command{
	Use:   "metrics",
	Short: "Show webhook delivery metrics",
	RunE: func(cmd *cobra.Command, args []string) error {
		var resp struct {
			Deliveries struct {
				Total       int            `json:"total"`
				Success     int            `json:"success"`
				Failed      int            `json:"failed"`
				SuccessRate float64        `json:"success_rate"`
				ByEventType map[string]int `json:"by_event_type"`
			} `json:"deliveries"`
			Latency struct {
				AvgMS float64 `json:"avg"`
				P95MS int64   `json:"p95"`
			} `json:"latency"`
			Retries struct {
				TotalRetries int `json:"total_retries"`
			} `json:"retries"`
			QueueDepth int `json:"queue_depth"`
		}
		if err := apiRequest("GET", "/v1/webhooks/metrics", nil, &resp); err != nil {
			return fmt.Errorf("failed to get delivery metrics: %w", err)
		}

		if outputJSON {
			printOutput(resp)
			return nil
		}
		fmt.Println("Delivery metrics:")
		fmt.Printf("  Total: %d (success %d, failed %d)\n",
			resp.Deliveries.Total, resp.Deliveries.Success, resp.Deliveries.Failed)
		fmt.Printf("  Success rate: %.1f%%\n", resp.Deliveries.SuccessRate*100)
		fmt.Printf("  Latency: avg %.1fms, p95 %dms\n", resp.Latency.AvgMS, resp.Latency.P95MS)
		fmt.Printf("  Retries: %d\n", resp.Retries.TotalRetries)
		fmt.Printf("  Queue depth: %d\n", resp.QueueDepth)
		if len(resp.Deliveries.ByEventType) > 0 {
			fmt.Println("  By event type:")
			for et, n := range resp.Deliveries.ByEventType {
				fmt.Printf("    %s: %d\n", et, n)
			}
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(webhookCmd)
	webhookCmd.AddCommand(webhookTestCmd)
	webhookCmd.AddCommand(webhookValidateCmd)
	webhookCmd.AddCommand(webhookMetricsCmd)

	// Flags for test command
	webhookTestCmd.Flags().String("url", "", "target URL (required)")
	webhookTestCmd.Flags().String("event", "", "event type (required)")
	webhookTestCmd.Flags().String("data", "", "event data as a JSON string")
	webhookTestCmd.Flags().String("secret", "", "signing secret")

	// Flags for validate command
	webhookValidateCmd.Flags().String("payload", "", "payload the signature covers")
	webhookValidateCmd.Flags().String("secret", "", "signing secret (required)")
	webhookValidateCmd.Flags().String("signature", "", "signature to check, e.g. sha256=<hex>")
}
