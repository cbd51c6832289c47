package notifications

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/sky93/taskworker/dialect"
)

// Enqueue inserts a pending notification and returns its id.
func Enqueue(ctx context.Context, db *sql.DB, d dialect.Dialect, orderNumber string, tgUserID int64) (int64, error) {
	if orderNumber == "" || len(orderNumber) > 8 {
		return 0, fmt.Errorf("order number must be 1 to 8 characters, got %q", orderNumber)
	}

	insert := "INSERT INTO " + d.QuoteIdent(table) +
		" (order_number, tg_user_id, processed, failed_attempts_number) VALUES (?, ?, ?, 0)"

	if _, ok := d.(dialect.MySQL); ok {
		res, err := db.ExecContext(ctx, insert, orderNumber, tgUserID, false)
		if err != nil {
			return 0, fmt.Errorf("insert notification: %w", err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return 0, fmt.Errorf("insert notification: last insert id: %w", err)
		}
		return id, nil
	}

	var id int64
	err := db.QueryRowContext(ctx, dialect.Rebind(d, insert+" RETURNING id"), orderNumber, tgUserID, false).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert notification: %w", err)
	}
	return id, nil
}

// Get loads one notification by id.
func Get(ctx context.Context, db *sql.DB, d dialect.Dialect, id int64) (*OrderNotification, error) {
	query := dialect.Rebind(d, "SELECT id, order_number, tg_user_id, processed, failed_attempts_number FROM "+
		d.QuoteIdent(table)+" WHERE id = ?")
	n, err := scanNotification(db.QueryRowContext(ctx, query, id))
	if err != nil {
		return nil, fmt.Errorf("get notification %d: %w", id, err)
	}
	return n, nil
}
