// Package notifications is the order-notification queue: every row of
// order_notifications becomes one Telegram message to the customer.
package notifications

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/sky93/taskworker"
	"github.com/sky93/taskworker/dialect"
	"github.com/sky93/taskworker/internal/telegram"
)

// QueueName identifies this queue on the command line.
const QueueName = "notifications"

const table = "order_notifications"

// ReasonTelegramRejected marks messages the Bot API refused outright.
const ReasonTelegramRejected = "telegram_rejected"

// OrderNotification is one row of order_notifications.
type OrderNotification struct {
	ID                   int64
	OrderNumber          string
	TgUserID             int64
	Processed            bool
	FailedAttemptsNumber int
}

func (n *OrderNotification) TaskID() int64 { return n.ID }

func (n *OrderNotification) String() string {
	return fmt.Sprintf("order %s notification to %d", n.OrderNumber, n.TgUserID)
}

// Sender delivers a text message to a Telegram chat.
type Sender interface {
	SendMessage(ctx context.Context, chatID int64, text string) error
}

// Queue implements taskworker.Queue for order notifications.
type Queue struct {
	dialect           dialect.Dialect
	sender            Sender
	template          string
	maxFailedAttempts int
}

// Options configures a Queue.
type Options struct {
	Dialect dialect.Dialect
	Sender  Sender
	// Template is a fmt format taking the order number.
	Template string
	// MaxFailedAttempts is the exhaustion ceiling.
	MaxFailedAttempts int
}

func NewQueue(opts Options) (*Queue, error) {
	if opts.Dialect == nil {
		return nil, taskworker.ErrNoDialect
	}
	if opts.Sender == nil {
		return nil, errors.New("notifications: sender is required")
	}
	if opts.Template == "" {
		opts.Template = "Сформирован заказ номер %s"
	}
	return &Queue{
		dialect:           opts.Dialect,
		sender:            opts.Sender,
		template:          opts.Template,
		maxFailedAttempts: opts.MaxFailedAttempts,
	}, nil
}

var columns = []string{"id", "order_number", "tg_user_id", "processed", "failed_attempts_number"}

func scanNotification(s taskworker.Scanner) (*OrderNotification, error) {
	var n OrderNotification
	if err := s.Scan(&n.ID, &n.OrderNumber, &n.TgUserID, &n.Processed, &n.FailedAttemptsNumber); err != nil {
		return nil, err
	}
	return &n, nil
}

func (q *Queue) PendingSet() taskworker.Selection[*OrderNotification] {
	return taskworker.From(table, columns, scanNotification).
		Filter(taskworker.Eq("processed", false)).
		OrderBy("id")
}

func (q *Queue) ExcludeExhausted(sel taskworker.Selection[*OrderNotification]) taskworker.Selection[*OrderNotification] {
	return sel.Exclude(taskworker.Gt("failed_attempts_number", q.maxFailedAttempts))
}

// Handle sends the message and marks the row processed. A refusal from the
// Bot API is reported as a telegram_rejected TaskError; transport failures
// are left to the worker's conversion scope.
func (q *Queue) Handle(ctx context.Context, tx *sql.Tx, n *OrderNotification) error {
	text := fmt.Sprintf(q.template, n.OrderNumber)
	if err := q.sender.SendMessage(ctx, n.TgUserID, text); err != nil {
		var apiErr *telegram.APIError
		if errors.As(err, &apiErr) && apiErr.Permanent() {
			te, terr := taskworker.NewTaskError(ctx, ReasonTelegramRejected,
				taskworker.WithDescription(apiErr.Description),
				taskworker.WithCause(err))
			if terr != nil {
				return terr
			}
			return te
		}
		return err
	}

	query := dialect.Rebind(q.dialect, "UPDATE "+q.dialect.QuoteIdent(table)+" SET processed = ? WHERE id = ?")
	if _, err := tx.ExecContext(ctx, query, true, n.ID); err != nil {
		return fmt.Errorf("mark notification %d processed: %w", n.ID, err)
	}
	n.Processed = true
	return nil
}

func (q *Queue) RecordFailure(ctx context.Context, tx *sql.Tx, n *OrderNotification, _ *taskworker.TaskError) error {
	query := dialect.Rebind(q.dialect,
		"UPDATE "+q.dialect.QuoteIdent(table)+" SET failed_attempts_number = failed_attempts_number + 1 WHERE id = ?")
	if _, err := tx.ExecContext(ctx, query, n.ID); err != nil {
		return fmt.Errorf("count failed attempt of notification %d: %w", n.ID, err)
	}
	n.FailedAttemptsNumber++
	return nil
}
