package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/ormasoftchile/blueprint/pkg/kernel/mode"
	"github.com/ormasoftchile/blueprint/pkg/store"
	"github.com/ormasoftchile/blueprint/pkg/workflow"
)

var (
	remoteServer string
	remoteToken  string
	remoteJSON   bool
)

var workflowCmd = &cobra.Command{
	Use:   "workflow",
	Short: "Inspect persisted workflows",
}

var workflowStatusCmd = &cobra.Command{
	Use:   "status [workflow-id]",
	Short: "Show the persisted state of a workflow",
	Args:  cobra.ExactArgs(1),
	RunE:  runWorkflowStatus,
}

func runWorkflowStatus(cmd *cobra.Command, args []string) error {
	cfg, _, err := setup()
	if err != nil {
		return err
	}
	state, err := workflow.Load(cfg.Execution.Workflow.StateDir, args[0])
	if err != nil {
		return err
	}
	if remoteJSON {
		return printJSON(state)
	}
	printWorkflowState(state)
	return nil
}

func printWorkflowState(state *mode.WorkflowState) {
	fmt.Printf("Workflow: %s\n", state.Handle.ID)
	fmt.Printf("Run ID:   %s\n", state.Handle.RunID)
	fmt.Printf("Status:   %s (attempt %d)\n", state.Status, state.Attempt)
	fmt.Printf("Started:  %s\n", state.StartedAt.Format(time.RFC3339))
	fmt.Printf("Updated:  %s\n", state.UpdatedAt.Format(time.RFC3339))
	if state.Error != "" {
		fmt.Printf("Error:    %s\n", state.Error)
	}
	if state.Result != nil {
		fmt.Println()
		printRunResult(state.Result)
	}
}

// --- runs (remote) ---

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Query and cancel runs on a blueprint server",
}

var runsGetCmd = &cobra.Command{
	Use:   "get [run-id]",
	Short: "Fetch a run record",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var rec store.RunRecord
		if err := callServer(cmd.Context(), http.MethodGet, "/runs/"+url.PathEscape(args[0]), &rec); err != nil {
			return err
		}
		if remoteJSON {
			return printJSON(rec)
		}
		printRunRecord(&rec)
		return nil
	},
}

var runsCancelCmd = &cobra.Command{
	Use:   "cancel [run-id]",
	Short: "Cancel a workflow-mode run",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := callServer(cmd.Context(), http.MethodPost, "/runs/"+url.PathEscape(args[0])+"/cancel", nil); err != nil {
			return err
		}
		fmt.Printf("✓ cancel requested for %s\n", args[0])
		return nil
	},
}

func printRunRecord(rec *store.RunRecord) {
	fmt.Printf("Run ID:    %s\n", rec.ID)
	fmt.Printf("Blueprint: %s/%s\n", rec.Org, rec.BlueprintID)
	fmt.Printf("Mode:      %s\n", rec.Mode)
	fmt.Printf("Status:    %s\n", rec.Status)
	if rec.Handle != nil {
		fmt.Printf("Workflow:  %s\n", rec.Handle.ID)
	}
	if rec.Result != nil {
		fmt.Println()
		printRunResult(rec.Result)
	}
}

// callServer sends a request to --server and decodes a JSON reply into out
// when out is non-nil.
func callServer(ctx context.Context, method, path string, out any) error {
	if remoteServer == "" {
		return fmt.Errorf("--server is required")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, method, strings.TrimRight(remoteServer, "/")+path, nil)
	if err != nil {
		return err
	}
	token := remoteToken
	if token == "" {
		token = os.Getenv("BLUEPRINT_SERVE_TOKEN")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= 300 {
		var e struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(body, &e) == nil && e.Error != "" {
			return fmt.Errorf("%s %s: %s (HTTP %d)", method, path, e.Error, resp.StatusCode)
		}
		return fmt.Errorf("%s %s: HTTP %d", method, path, resp.StatusCode)
	}
	if out == nil || len(body) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func init() {
	workflowCmd.PersistentFlags().BoolVar(&remoteJSON, "json", false, "Output as JSON")
	workflowCmd.AddCommand(workflowStatusCmd)

	runsCmd.PersistentFlags().StringVar(&remoteServer, "server", "", "Base URL of a blueprint server")
	runsCmd.PersistentFlags().StringVar(&remoteToken, "token", "", "Bearer token (default: $BLUEPRINT_SERVE_TOKEN)")
	runsCmd.PersistentFlags().BoolVar(&remoteJSON, "json", false, "Output as JSON")
	runsCmd.AddCommand(runsGetCmd)
	runsCmd.AddCommand(runsCancelCmd)

	rootCmd.AddCommand(workflowCmd)
	rootCmd.AddCommand(runsCmd)
}
