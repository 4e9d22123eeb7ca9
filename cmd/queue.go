package cmd

import (
	"fmt"

	"github.com/ktr0731/go-fuzzyfinder"
	"github.com/spf13/cobra"

	"github.com/labsync/agent/pkg/taskqueue"
)

var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "Inspect the durable task queue",
}

var queueLsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List pending and retrying tasks",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, log, err := loadConfig()
		if err != nil {
			return err
		}

		store, err := taskqueue.Open(cfg.DBPath, taskqueue.Options{Log: log})
		if err != nil {
			return err
		}
		defer store.Close()

		rows, err := queryQueueRows(store)
		if err != nil {
			return err
		}
		if len(rows) == 0 {
			fmt.Println("queue is empty")
			return nil
		}
		for _, row := range rows {
			fmt.Println(row.label())
		}
		return nil
	},
}

var queueInspectCmd = &cobra.Command{
	Use:   "inspect",
	Short: "Fuzzy-search pending and retrying tasks and print the selected one's detail",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, log, err := loadConfig()
		if err != nil {
			return err
		}

		store, err := taskqueue.Open(cfg.DBPath, taskqueue.Options{Log: log})
		if err != nil {
			return err
		}
		defer store.Close()

		rows, err := queryQueueRows(store)
		if err != nil {
			return err
		}
		if len(rows) == 0 {
			fmt.Println("queue is empty")
			return nil
		}

		idx, err := fuzzyfinder.Find(rows, func(i int) string { return rows[i].label() })
		if err != nil {
			return err
		}
		fmt.Println(rows[idx].detail())
		return nil
	},
}

func init() {
	queueCmd.AddCommand(queueLsCmd)
	queueCmd.AddCommand(queueInspectCmd)
	rootCmd.AddCommand(queueCmd)
}

type queueRow struct {
	id         int64
	action     taskqueue.Action
	relPath    string
	status     taskqueue.Status
	retryCount int
	extra      string
}

func (r queueRow) label() string {
	statusName := map[taskqueue.Status]string{
		taskqueue.StatusPending: "PENDING",
		taskqueue.StatusRetry:   "RETRY",
	}[r.status]
	return fmt.Sprintf("#%d  %-6s  %-8s  %s", r.id, r.action, statusName, r.relPath)
}

func (r queueRow) detail() string {
	return fmt.Sprintf("id=%d action=%s path=%s retry_count=%d extra=%s", r.id, r.action, r.relPath, r.retryCount, r.extra)
}

func queryQueueRows(store *taskqueue.Store) ([]queueRow, error) {
	rows, err := store.DB().Query(
		`SELECT id, action, rel_path, status, retry_count, extra FROM tasks ORDER BY created_at ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []queueRow
	for rows.Next() {
		var r queueRow
		var action string
		var status int
		if err := rows.Scan(&r.id, &action, &r.relPath, &status, &r.retryCount, &r.extra); err != nil {
			return nil, err
		}
		r.action = taskqueue.Action(action)
		r.status = taskqueue.Status(status)
		result = append(result, r)
	}
	return result, rows.Err()
}
