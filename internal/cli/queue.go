package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/fieldsync/internal/model"
	"github.com/roach88/fieldsync/internal/queue"
)

// QueueOptions holds flags for the queue command.
type QueueOptions struct {
	*RootOptions
	Database string
}

// QueueListing is the result of the queue command.
type QueueListing struct {
	Pending    int                     `json:"pending"`
	Operations []model.QueuedOperation `json:"operations"`
}

// Text renders the listing as a table.
func (l QueueListing) Text() string {
	if l.Pending == 0 {
		return "Queue is empty.\n"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%d pending operation(s):\n", l.Pending)
	for _, op := range l.Operations {
		fmt.Fprintf(&b, "  #%-4d %-19s %-10s retries=%d enqueued=%s",
			op.Seq, op.Kind, displayTarget(op), op.RetryCount, op.EnqueuedAt.UTC().Format(time.RFC3339))
		if op.LastError != "" {
			fmt.Fprintf(&b, " last_error=%q", op.LastError)
		}
		b.WriteByte('\n')
	}
	return b.String()
}

func displayTarget(op model.QueuedOperation) string {
	if id := op.TaskID(); id != "" {
		return id
	}
	return "-"
}

// NewQueueCommand creates the queue command.
func NewQueueCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &QueueOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "queue",
		Short: "List pending operations",
		Long: `List operations waiting in the local durable queue, oldest first.

Example:
  fieldsync queue --db ./fieldsync.db
  fieldsync queue --db ./fieldsync.db --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return listQueue(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (overrides store.path)")

	return cmd
}

func listQueue(opts *QueueOptions, cmd *cobra.Command) error {
	a, err := newApp(opts.RootOptions, cmd, opts.Database)
	if err != nil {
		return err
	}
	st, err := a.openStore()
	if err != nil {
		return err
	}
	defer closeStore(st, a.logger)

	ops, err := queue.New(st, queue.WithLogger(a.logger)).PeekAll(cmd.Context())
	if err != nil {
		_ = a.out.Error(CodeStore, "failed to read queue", err.Error())
		return WrapExitError(ExitCommandError, "failed to read queue", err)
	}
	if ops == nil {
		ops = []model.QueuedOperation{}
	}
	return a.out.Success(QueueListing{Pending: len(ops), Operations: ops})
}
