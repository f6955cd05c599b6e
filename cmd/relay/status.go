package main

import (
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/relay/internal/hub"
)

var statusCmd = &cobra.Command{
	Use:   "status [task-id]",
	Short: "Show task status",
	Long: `Without arguments, lists recent tasks. With a task id, shows that
task in detail including its result or error.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	client := newAPIClient()

	if len(args) == 1 {
		var task hub.TaskRecord
		if err := client.do("GET", "/api/tasks/"+args[0], nil, &task); err != nil {
			return err
		}
		printTask(&task)
		return nil
	}

	var tasks []hub.TaskRecord
	if err := client.do("GET", "/api/tasks", nil, &tasks); err != nil {
		return err
	}
	if len(tasks) == 0 {
		fmt.Println("No tasks. Run 'relay submit <goal>' to start one.")
		return nil
	}
	for i := range tasks {
		t := &tasks[i]
		fmt.Printf("%s  %-9s  %s  %s\n",
			t.ID, statusColor(t.Status), formatAge(t.CreatedAt), truncate(t.Goal, 60))
	}
	return nil
}

func printTask(t *hub.TaskRecord) {
	fmt.Printf("Task:    %s\n", t.ID)
	fmt.Printf("Worker:  %s\n", t.WorkerID)
	fmt.Printf("Status:  %s\n", statusColor(t.Status))
	fmt.Printf("Goal:    %s\n", t.Goal)
	fmt.Printf("Created: %s ago\n", formatAge(t.CreatedAt))
	if t.CompletedAt != nil {
		fmt.Printf("Took:    %s\n", t.CompletedAt.Sub(t.CreatedAt).Round(time.Second))
	}
	if t.Error != "" {
		fmt.Printf("Error:   %s\n", color.RedString(t.Error))
	}
	if t.Result != "" {
		fmt.Printf("\n%s\n", t.Result)
	}
}

func statusColor(s hub.TaskStatus) string {
	switch s {
	case hub.TaskCompleted:
		return color.GreenString(string(s))
	case hub.TaskError:
		return color.RedString(string(s))
	case hub.TaskRunning:
		return color.CyanString(string(s))
	case hub.TaskStopped:
		return color.YellowString(string(s))
	default:
		return string(s)
	}
}

// formatAge formats a duration since ts in a human-readable way.
func formatAge(ts time.Time) string {
	d := time.Since(ts)
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm", int(d.Minutes()))
	}
	if d < 24*time.Hour {
		h := int(d.Hours())
		m := int(d.Minutes()) % 60
		if m > 0 {
			return fmt.Sprintf("%dh%dm", h, m)
		}
		return fmt.Sprintf("%dh", h)
	}
	return fmt.Sprintf("%dd", int(d.Hours())/24)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-1] + "…"
}
