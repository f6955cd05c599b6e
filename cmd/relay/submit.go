package main

import (
	"fmt"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/relay/internal/hub"
)

var submitWorkerID string

var submitCmd = &cobra.Command{
	Use:   "submit <goal>",
	Short: "Submit a goal to the hub",
	Long: `Submit a goal for execution. Without --worker, the hub picks an
arbitrary connected worker.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runSubmit,
}

func init() {
	submitCmd.Flags().StringVar(&submitWorkerID, "worker", "", "Target worker id")
}

func runSubmit(cmd *cobra.Command, args []string) error {
	goal := strings.Join(args, " ")

	var resp hub.SubmitResponse
	req := hub.SubmitRequest{Goal: goal, WorkerID: submitWorkerID}
	if err := newAPIClient().do("POST", "/api/tasks", req, &resp); err != nil {
		return err
	}

	fmt.Printf("%s task %s submitted to worker %s\n",
		color.GreenString("✓"), color.New(color.Bold).Sprint(resp.TaskID), resp.WorkerID)
	return nil
}
