package cli

import (
	"context"
	"fmt"
	"strings"
	"time"

	"tasksync/internal/client/engine"
	"tasksync/internal/domain"

	"github.com/spf13/cobra"
)

var addCmd = &cobra.Command{
	Use:   "add [title]",
	Short: "Add a task",
	Long: `Add a task.

Examples:
  tasksync add "Buy cleats"
  tasksync add "Ship release" -p high -d 2026-09-01`,
	Args: cobra.MinimumNArgs(1),
	RunE: runAdd,
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List tasks",
	RunE:  runList,
}

var doneCmd = &cobra.Command{
	Use:   "done [id]",
	Short: "Mark a task completed",
	Args:  cobra.ExactArgs(1),
	RunE:  runDone,
}

var rmCmd = &cobra.Command{
	Use:   "rm [id]",
	Short: "Delete a task",
	Args:  cobra.ExactArgs(1),
	RunE:  runRm,
}

var (
	addDescription string
	addPriority    string
	addDue         string
)

func init() {
	addCmd.Flags().StringVarP(&addDescription, "description", "D", "", "Task description")
	addCmd.Flags().StringVarP(&addPriority, "priority", "p", "", "Priority (low, medium, high)")
	addCmd.Flags().StringVarP(&addDue, "due", "d", "", "Due date (YYYY-MM-DD)")
}

func runAdd(cmd *cobra.Command, args []string) error {
	eng, _, closeFn, err := openEngine()
	if err != nil {
		return err
	}
	defer closeFn()

	req := &domain.CreateTaskRequest{
		Title:       strings.Join(args, " "),
		Description: addDescription,
		Priority:    domain.TaskPriority(addPriority),
	}
	if addDue != "" {
		due, err := time.Parse("2006-01-02", addDue)
		if err != nil {
			return fmt.Errorf("invalid due date %q, want YYYY-MM-DD", addDue)
		}
		req.DueDate = &due
	}

	task, err := eng.Create(context.Background(), req)
	if err != nil {
		return fmt.Errorf("failed to add task: %w", err)
	}

	fmt.Printf("Added %q (%s)\n", task.Title, task.ID)
	printStatusBanners(eng)
	return nil
}

func runList(cmd *cobra.Command, args []string) error {
	eng, _, closeFn, err := openEngine()
	if err != nil {
		return err
	}
	defer closeFn()

	tasks, err := eng.Fetch(context.Background())
	if err != nil {
		return fmt.Errorf("failed to list tasks: %w", err)
	}

	if len(tasks) == 0 {
		fmt.Println("No tasks")
	}
	for _, t := range tasks {
		due := ""
		if t.DueDate != nil {
			due = " due " + t.DueDate.Format("2006-01-02")
		}
		fmt.Printf("%-38s [%-11s] %-6s %s%s\n", t.ID, t.Status, t.Priority, t.Title, due)
	}

	printStatusBanners(eng)
	return nil
}

func runDone(cmd *cobra.Command, args []string) error {
	eng, _, closeFn, err := openEngine()
	if err != nil {
		return err
	}
	defer closeFn()

	status := domain.StatusCompleted
	task, err := eng.Update(context.Background(), args[0], &domain.UpdateTaskRequest{Status: &status})
	if err != nil {
		return fmt.Errorf("failed to complete task: %w", err)
	}
	if task != nil {
		fmt.Printf("Completed %q\n", task.Title)
	} else {
		fmt.Printf("Completion of %s queued\n", args[0])
	}
	printStatusBanners(eng)
	return nil
}

func runRm(cmd *cobra.Command, args []string) error {
	eng, _, closeFn, err := openEngine()
	if err != nil {
		return err
	}
	defer closeFn()

	if err := eng.Delete(context.Background(), args[0]); err != nil {
		return fmt.Errorf("failed to delete task: %w", err)
	}
	fmt.Printf("Deleted %s\n", args[0])
	printStatusBanners(eng)
	return nil
}

// printStatusBanners reports the offline, stale-data and pending-changes
// conditions. They are independent and can co-occur.
func printStatusBanners(eng *engine.Engine) {
	s := eng.Status()
	if !s.Online {
		fmt.Println("! offline, changes will sync when the server is reachable")
	}
	if s.UsingCached {
		fmt.Println("! showing cached data")
	}
	if s.PendingChanges > 0 {
		fmt.Printf("! %d change(s) pending sync\n", s.PendingChanges)
	}
	if s.LastSyncError != "" {
		fmt.Printf("! last sync failed: %s\n", s.LastSyncError)
	}
}
