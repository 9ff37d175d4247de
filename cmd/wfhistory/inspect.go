package main

import (
	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/wfharness/internal/history"
)

var inspectCmd = &cobra.Command{
	Use:   "inspect <file>",
	Short: "Summarize a history file",
	Long: `Print the workflow type, task queue, status and event list of a history
file. Files ending in .json are read as JSON exports, anything else as binary.

Examples:
  wfhistory inspect testdata/my-wf.bin`,
	Args: cobra.ExactArgs(1),
	RunE: runInspect,
}

func runInspect(cmd *cobra.Command, args []string) error {
	h, err := history.Load(args[0])
	if err != nil {
		return err
	}
	return history.Summarize(h).Write(cmd.OutOrStdout())
}
