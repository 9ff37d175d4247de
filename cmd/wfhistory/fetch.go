package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	historypb "go.temporal.io/api/history/v1"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/wfharness/internal/harness"
	"github.com/fyrsmithlabs/wfharness/internal/history"
	"github.com/fyrsmithlabs/wfharness/internal/logging"
)

var (
	// fetch command flags
	fetchWorkflowID string
	fetchRunID      string
	fetchOut        string
	fetchFormat     string
)

func init() {
	fetchCmd.Flags().StringVar(&fetchWorkflowID, "workflow-id", "", "Workflow ID (required)")
	fetchCmd.Flags().StringVar(&fetchRunID, "run-id", "", "Run ID (defaults to the latest run)")
	fetchCmd.Flags().StringVarP(&fetchOut, "out", "o", "-", "Output file, or - for stdout")
	fetchCmd.Flags().StringVar(&fetchFormat, "format", "", "Output format: binary or json (defaults from the file extension)")
	_ = fetchCmd.MarkFlagRequired("workflow-id")
}

var fetchCmd = &cobra.Command{
	Use:   "fetch",
	Short: "Download a workflow history",
	Long: `Download the complete history of a workflow run.

Examples:
  # Save the latest run as a binary replay fixture
  wfhistory fetch --workflow-id my-wf --out testdata/my-wf.bin

  # Print a specific run as JSON
  wfhistory fetch --workflow-id my-wf --run-id 5f0c... --format json`,
	Args: cobra.NoArgs,
	RunE: runFetch,
}

func runFetch(cmd *cobra.Command, _ []string) error {
	format, err := outputFormat(fetchOut, fetchFormat)
	if err != nil {
		return err
	}

	opts, _, err := harness.IntegInitOptions()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	ctx := cmd.Context()
	eng, err := initEngine(ctx, opts)
	if err != nil {
		return fmt.Errorf("connecting to %s: %w", opts.Gateway.TargetURL, err)
	}
	defer func() { _ = eng.Shutdown(context.Background()) }()

	h, err := eng.Gateway().GetWorkflowExecutionHistory(ctx, fetchWorkflowID, fetchRunID)
	if err != nil {
		return err
	}
	logging.FromContext(ctx).Debug(ctx, "history fetched",
		zap.String("workflow.id", fetchWorkflowID),
		zap.String("run.id", fetchRunID),
		zap.Int("events", len(h.GetEvents())),
		zap.String("format", format),
	)
	if err := writeHistory(cmd, format, h); err != nil {
		return err
	}
	if fetchOut != "-" {
		fmt.Fprintf(cmd.ErrOrStderr(), "wrote %d events to %s\n", len(h.GetEvents()), fetchOut)
	}
	return nil
}

// outputFormat resolves the output format from the flag or the file name.
func outputFormat(out, format string) (string, error) {
	switch format {
	case "binary", "json":
		return format, nil
	case "":
		if out == "-" || strings.EqualFold(filepath.Ext(out), ".json") {
			return "json", nil
		}
		return "binary", nil
	default:
		return "", fmt.Errorf("unknown format %q: use binary or json", format)
	}
}

func writeHistory(cmd *cobra.Command, format string, h *historypb.History) error {
	switch {
	case fetchOut == "-" && format == "json":
		return history.WriteJSON(cmd.OutOrStdout(), h)
	case fetchOut == "-":
		return fmt.Errorf("binary output needs --out")
	case format == "json":
		return writeJSONFile(fetchOut, h)
	default:
		return history.WriteProtoBinary(fetchOut, h)
	}
}

func writeJSONFile(path string, h *historypb.History) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}
	defer func() {
		if cerr := f.Close(); err == nil && cerr != nil {
			err = fmt.Errorf("closing %s: %w", path, cerr)
		}
	}()
	return history.WriteJSON(f, h)
}
