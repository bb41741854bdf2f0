package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/user/collabhub/internal/protocol"
	"github.com/user/collabhub/internal/types"
)

func init() {
	rootCmd.AddCommand(taskCmd)
	taskCmd.AddCommand(taskAddCmd, taskListCmd, taskUpdateCmd, taskDoneCmd)

	taskAddCmd.Flags().String("desc", "", "task description")
	taskAddCmd.Flags().String("priority", "medium", "critical, high, medium, or low")
	taskAddCmd.Flags().String("assignee", "", "session to assign the task to")

	taskListCmd.Flags().String("status", "", "filter by status")
	taskListCmd.Flags().Bool("mine", false, "only tasks assigned to this session")

	taskUpdateCmd.Flags().String("status", "", "pending, in_progress, blocked, done, or cancelled")
	taskUpdateCmd.Flags().String("assignee", "", "reassign to a session")
	taskUpdateCmd.Flags().String("desc", "", "replace the description")
}

var taskCmd = &cobra.Command{
	Use:   "task",
	Short: "Manage the shared task board",
}

var taskAddCmd = &cobra.Command{
	Use:   "add <title>",
	Short: "Create a task",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		desc, _ := cmd.Flags().GetString("desc")
		priority, _ := cmd.Flags().GetString("priority")
		assignee, _ := cmd.Flags().GetString("assignee")

		cfg := loadConfig()
		sessionID, err := currentSession(cfg)
		if err != nil {
			return err
		}

		resp, err := do(cfg, protocol.Command{
			Cmd:         protocol.CmdCreateTask,
			SessionID:   sessionID,
			Title:       args[0],
			Description: desc,
			Priority:    priority,
			Assignee:    assignee,
		})
		if err != nil {
			return err
		}
		fmt.Fprintln(os.Stdout, resp.Message)
		return nil
	},
}

var taskListCmd = &cobra.Command{
	Use:   "list",
	Short: "List tasks, highest priority first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		statusFilter, _ := cmd.Flags().GetString("status")
		mine, _ := cmd.Flags().GetBool("mine")

		cfg := loadConfig()
		command := protocol.Command{Cmd: protocol.CmdListTasks, Status: statusFilter}
		if mine {
			sessionID, err := currentSession(cfg)
			if err != nil {
				return err
			}
			command.Assignee = sessionID
		}

		resp, err := do(cfg, command)
		if err != nil {
			return err
		}
		var tasks []*types.Task
		if err := json.Unmarshal(resp.Data, &tasks); err != nil {
			return fmt.Errorf("decode tasks: %w", err)
		}
		if len(tasks) == 0 {
			fmt.Println("No tasks.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tPRIORITY\tSTATUS\tASSIGNEE\tTITLE")
		for _, t := range tasks {
			fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\n", t.ID, t.Priority, t.Status, t.Assignee, t.Title)
		}
		return w.Flush()
	},
}

var taskUpdateCmd = &cobra.Command{
	Use:   "update <id>",
	Short: "Update a task's status, assignee, or description",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		statusVal, _ := cmd.Flags().GetString("status")
		assignee, _ := cmd.Flags().GetString("assignee")
		desc, _ := cmd.Flags().GetString("desc")
		if statusVal == "" && assignee == "" && desc == "" {
			return fmt.Errorf("nothing to update; pass --status, --assignee, or --desc")
		}
		return updateTask(args[0], statusVal, assignee, desc)
	},
}

var taskDoneCmd = &cobra.Command{
	Use:   "done <id>",
	Short: "Mark a task done",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return updateTask(args[0], string(types.TaskDone), "", "")
	},
}

func updateTask(idArg, status, assignee, desc string) error {
	id, err := strconv.ParseUint(idArg, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid task id: %s", idArg)
	}

	cfg := loadConfig()
	sessionID, err := currentSession(cfg)
	if err != nil {
		return err
	}

	resp, err := do(cfg, protocol.Command{
		Cmd:         protocol.CmdUpdateTask,
		SessionID:   sessionID,
		TaskID:      id,
		Status:      status,
		Assignee:    assignee,
		Description: desc,
	})
	if err != nil {
		return err
	}
	fmt.Fprintln(os.Stdout, resp.Message)
	return nil
}
