package main

import (
	"fmt"
	"os"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/google/uuid"
	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/kanwork/boardlive/internal/board"
	"github.com/kanwork/boardlive/internal/config"
	"github.com/kanwork/boardlive/internal/reconcile"
	"github.com/kanwork/boardlive/internal/ui"
)

var taskCmd = &cobra.Command{
	Use:   "task",
	Short: "Create, update, move, and delete board tasks",
	Long: `Mutate tasks on the configured board.

Every mutation applies optimistically: it is sent to the hub and the
command waits briefly for the hub's echo to confirm the sync. If the echo
does not arrive the change is reported as still pending.`,
}

var taskCreateCmd = &cobra.Command{
	Use:   "create [title]",
	Short: "Create a task",
	Long: `Create a task on the configured board.

With no arguments and an interactive terminal, opens a form. Due dates
accept natural language:

  boardlive task create "Fix login bug" --priority 1 --due "friday 5pm"
  boardlive task create`,
	Args: cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := loadConfig()
		if err != nil {
			fatalf("%v", err)
		}

		task := board.Task{
			ID: "t-" + uuid.NewString()[:8],
		}
		if len(args) == 1 {
			task.Title = args[0]
		}
		task.Description, _ = cmd.Flags().GetString("desc")
		status, _ := cmd.Flags().GetString("status")
		task.Status = board.Status(status)
		task.Priority, _ = cmd.Flags().GetInt("priority")
		task.StoryPoints, _ = cmd.Flags().GetInt("points")
		task.Assignee, _ = cmd.Flags().GetString("assignee")
		task.Labels, _ = cmd.Flags().GetStringSlice("label")

		if due, _ := cmd.Flags().GetString("due"); due != "" {
			at, err := parseDue(due)
			if err != nil {
				fatalf("%v", err)
			}
			task.DueAt = &at
		}

		if task.Title == "" {
			if err := runCreateForm(&task); err != nil {
				fatalf("%v", err)
			}
		}

		task.SetDefaults()
		if err := task.Validate(); err != nil {
			fatalf("invalid task: %v", err)
		}

		runMutation(cfg, func(sess *session) string {
			return sess.coord.OptimisticCreate(task)
		}, fmt.Sprintf("Created %q (%s)", task.Title, task.ID))
	},
}

var taskUpdateCmd = &cobra.Command{
	Use:   "update <task-id>",
	Short: "Update task fields",
	Long: `Apply a field diff to a task.

Only flags you pass are changed:

  boardlive task update t-1a2b3c4d --title "New title" --priority 2
  boardlive task update t-1a2b3c4d --assignee alice --due tomorrow`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := loadConfig()
		if err != nil {
			fatalf("%v", err)
		}

		var patch board.Patch
		if v, _ := cmd.Flags().GetString("title"); cmd.Flags().Changed("title") {
			patch.Title = &v
		}
		if v, _ := cmd.Flags().GetString("desc"); cmd.Flags().Changed("desc") {
			patch.Description = &v
		}
		if v, _ := cmd.Flags().GetString("status"); cmd.Flags().Changed("status") {
			s := board.Status(v)
			patch.Status = &s
		}
		if v, _ := cmd.Flags().GetInt("priority"); cmd.Flags().Changed("priority") {
			patch.Priority = &v
		}
		if v, _ := cmd.Flags().GetInt("points"); cmd.Flags().Changed("points") {
			patch.StoryPoints = &v
		}
		if v, _ := cmd.Flags().GetString("assignee"); cmd.Flags().Changed("assignee") {
			patch.Assignee = &v
		}
		if v, _ := cmd.Flags().GetStringSlice("label"); cmd.Flags().Changed("label") {
			patch.Labels = v
		}
		if v, _ := cmd.Flags().GetString("due"); cmd.Flags().Changed("due") {
			at, err := parseDue(v)
			if err != nil {
				fatalf("%v", err)
			}
			patch.DueAt = &at
		}

		if patch.IsZero() {
			fatalf("nothing to update: pass at least one field flag")
		}

		taskID := args[0]
		runMutation(cfg, func(sess *session) string {
			return sess.coord.OptimisticUpdate(taskID, patch)
		}, fmt.Sprintf("Updated %s", taskID))
	},
}

var taskMoveCmd = &cobra.Command{
	Use:   "move <task-id> <status>",
	Short: "Move a task to another column",
	Long: `Move a task to a board column.

  boardlive task move t-1a2b3c4d in_progress
  boardlive task move t-1a2b3c4d done --from review`,
	Args: cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := loadConfig()
		if err != nil {
			fatalf("%v", err)
		}

		taskID := args[0]
		to := board.Status(args[1])
		fromStr, _ := cmd.Flags().GetString("from")
		from := board.Status(fromStr)

		runMutation(cfg, func(sess *session) string {
			return sess.coord.OptimisticMove(taskID, from, to)
		}, fmt.Sprintf("Moved %s to %s", taskID, to))
	},
}

var taskDeleteCmd = &cobra.Command{
	Use:   "delete <task-id>",
	Short: "Delete a task",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := loadConfig()
		if err != nil {
			fatalf("%v", err)
		}

		taskID := args[0]
		runMutation(cfg, func(sess *session) string {
			return sess.deleteTask(taskID)
		}, fmt.Sprintf("Deleted %s", taskID))
	},
}

var taskImportCmd = &cobra.Command{
	Use:   "import <file.yaml>",
	Short: "Bulk-create tasks from a YAML file",
	Long: `Create every task listed in a YAML file through the optimistic path.

The file holds a list of tasks:

  - title: Fix login bug
    status: todo
    priority: 1
  - title: Write release notes
    assignee: alice`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := loadConfig()
		if err != nil {
			fatalf("%v", err)
		}

		data, err := os.ReadFile(args[0])
		if err != nil {
			fatalf("failed to read %s: %v", args[0], err)
		}

		var tasks []board.Task
		if err := yaml.Unmarshal(data, &tasks); err != nil {
			fatalf("failed to parse %s: %v", args[0], err)
		}
		if len(tasks) == 0 {
			fatalf("%s contains no tasks", args[0])
		}

		sess, err := dialSession(cfg, printNotifier())
		if err != nil {
			fatalf("%v", err)
		}
		defer sess.Close()

		created := 0
		for i := range tasks {
			t := tasks[i]
			if t.ID == "" {
				t.ID = "t-" + uuid.NewString()[:8]
			}
			t.SetDefaults()
			if err := t.Validate(); err != nil {
				fmt.Fprintf(os.Stderr, "Warning: skipping task %d: %v\n", i+1, err)
				continue
			}
			sess.coord.OptimisticCreate(t)
			created++
		}

		if waitAcknowledged(sess.coord, 5*time.Second) {
			fmt.Printf("%s Imported %d tasks\n", ui.RenderPass("✓"), created)
		} else {
			fmt.Printf("%s Imported %d tasks, %d still syncing\n",
				ui.RenderWarn("⚠"), created, sess.coord.PendingCount())
		}
	},
}

// runMutation performs one optimistic mutation over a fresh session and
// waits briefly for the hub echo.
func runMutation(cfg *config.Config, mutate func(*session) string, success string) {
	sess, err := dialSession(cfg, printNotifier())
	if err != nil {
		fatalf("%v", err)
	}
	defer sess.Close()

	id := mutate(sess)
	if id == "" {
		fatalf("task not found")
	}

	if waitAcknowledged(sess.coord, 3*time.Second) {
		fmt.Printf("%s %s\n", ui.RenderPass("✓"), success)
	} else {
		fmt.Printf("%s %s (still syncing)\n", ui.RenderWarn("⚠"), success)
	}
}

func printNotifier() reconcile.Notifier {
	return reconcile.NotifierFunc(func(n reconcile.Notification) {
		fmt.Println(ui.Toast(n.Message))
	})
}

// parseDue parses natural-language due dates like "tomorrow 5pm".
func parseDue(s string) (time.Time, error) {
	w := when.New(nil)
	w.Add(en.All...)
	w.Add(common.All...)

	r, err := w.Parse(s, time.Now())
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse due date %q: %w", s, err)
	}
	if r == nil {
		return time.Time{}, fmt.Errorf("could not understand due date %q", s)
	}
	return r.Time, nil
}

// runCreateForm collects task fields interactively.
func runCreateForm(task *board.Task) error {
	status := string(board.StatusTodo)
	priority := "2"

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Title").
				Value(&task.Title),
			huh.NewText().
				Title("Description").
				Value(&task.Description),
			huh.NewSelect[string]().
				Title("Status").
				Options(
					huh.NewOption("Todo", string(board.StatusTodo)),
					huh.NewOption("In progress", string(board.StatusInProgress)),
					huh.NewOption("Review", string(board.StatusReview)),
					huh.NewOption("Done", string(board.StatusDone)),
				).
				Value(&status),
			huh.NewSelect[string]().
				Title("Priority").
				Options(
					huh.NewOption("P0: critical", "0"),
					huh.NewOption("P1: high", "1"),
					huh.NewOption("P2: normal", "2"),
					huh.NewOption("P3: low", "3"),
					huh.NewOption("P4: backlog", "4"),
				).
				Value(&priority),
			huh.NewInput().
				Title("Assignee").
				Value(&task.Assignee),
		),
	)

	if err := form.Run(); err != nil {
		return fmt.Errorf("form cancelled: %w", err)
	}

	task.Status = board.Status(status)
	task.Priority = int(priority[0] - '0')
	return nil
}

func init() {
	for _, c := range []*cobra.Command{taskCreateCmd, taskUpdateCmd} {
		c.Flags().String("desc", "", "Task description")
		c.Flags().String("status", string(board.StatusTodo), "Board column")
		c.Flags().Int("priority", 2, "Priority 0-4 (P0=critical)")
		c.Flags().Int("points", 0, "Story points")
		c.Flags().String("assignee", "", "Assignee")
		c.Flags().StringSlice("label", nil, "Label (repeatable)")
		c.Flags().String("due", "", `Due date, natural language ("friday 5pm")`)
	}
	taskUpdateCmd.Flags().String("title", "", "Task title")
	taskMoveCmd.Flags().String("from", "", "Source column (informational)")

	taskCmd.AddCommand(taskCreateCmd)
	taskCmd.AddCommand(taskUpdateCmd)
	taskCmd.AddCommand(taskMoveCmd)
	taskCmd.AddCommand(taskDeleteCmd)
	taskCmd.AddCommand(taskImportCmd)
	rootCmd.AddCommand(taskCmd)
}
