package main

import (
	"fmt"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var messageCmd = &cobra.Command{
	Use:   "message <task-id> <text>",
	Short: "Send a message to a running task",
	Long: `Queue a message for a running task. The worker picks it up at the
next step of its plan, so it steers the task without interrupting it.`,
	Args: cobra.MinimumNArgs(2),
	RunE: runMessage,
}

func runMessage(cmd *cobra.Command, args []string) error {
	taskID := args[0]
	body := map[string]string{"content": strings.Join(args[1:], " ")}

	if err := newAPIClient().do("POST", "/api/tasks/"+taskID+"/message", body, nil); err != nil {
		return err
	}
	fmt.Printf("%s message queued for task %s\n", color.GreenString("✓"), taskID)
	return nil
}
