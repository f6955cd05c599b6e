package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/relay/internal/hub"
)

var stopCmd = &cobra.Command{
	Use:   "stop <task-id>",
	Short: "Stop a task",
	Long: `Mark a task stopped and ask its worker to cancel it. The stop takes
effect hub-side immediately; cancellation on the worker is best-effort.`,
	Args: cobra.ExactArgs(1),
	RunE: runStop,
}

func runStop(cmd *cobra.Command, args []string) error {
	var task hub.TaskRecord
	if err := newAPIClient().do("POST", "/api/tasks/"+args[0]+"/stop", nil, &task); err != nil {
		return err
	}
	fmt.Printf("%s task %s stopped\n", color.YellowString("✓"), task.ID)
	return nil
}
