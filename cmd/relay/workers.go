package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/relay/internal/hub"
)

var workersCmd = &cobra.Command{
	Use:   "workers",
	Short: "List connected workers",
	RunE:  runWorkers,
}

func runWorkers(cmd *cobra.Command, args []string) error {
	var workers []hub.WorkerInfo
	if err := newAPIClient().do("GET", "/api/workers", nil, &workers); err != nil {
		return err
	}
	if len(workers) == 0 {
		fmt.Println("No workers connected.")
		return nil
	}

	for _, w := range workers {
		heartbeat := "never"
		if !w.LastHeartbeat.IsZero() {
			heartbeat = formatAge(w.LastHeartbeat) + " ago"
		}
		fmt.Printf("%s  %s\n", color.New(color.Bold).Sprint(w.ID), w.Name)
		fmt.Printf("  platform:  %s %s\n", w.Platform, w.Version)
		fmt.Printf("  connected: %s ago, last heartbeat %s\n", formatAge(w.ConnectedAt), heartbeat)
		fmt.Printf("  running:   %d task(s)\n", len(w.RunningTasks))
		if len(w.Capabilities) > 0 {
			fmt.Printf("  can:       %v\n", w.Capabilities)
		}
	}
	return nil
}
