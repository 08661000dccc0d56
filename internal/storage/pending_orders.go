package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"orderdesk-bot/internal/stories/orders"

	sq "github.com/Masterminds/squirrel"
	"github.com/pkg/errors"
)

const pendingOrdersTable = "pending_orders"

var pendingOrderRowFields = fields(pendingOrderRow{})

type pendingOrderRow struct {
	ID        int64     `db:"id"`
	UserID    string    `db:"user_id"`
	OrderID   string    `db:"order_id"`
	Payload   []byte    `db:"payload"`
	Status    string    `db:"status"`
	ThreadID  string    `db:"thread_id"`
	Attempts  int       `db:"attempts"`
	LastError string    `db:"last_error"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

func (r pendingOrderRow) ToModel() (*orders.PendingOrder, error) {
	order, err := orders.DecodeRecord(r.Payload)
	if err != nil {
		return nil, errors.Wrapf(err, "decode pending order %d", r.ID)
	}
	// ключ строки важнее содержимого payload
	order.ID = r.OrderID
	order.UserID = r.UserID

	return &orders.PendingOrder{
		ID:        r.ID,
		Order:     *order,
		Status:    orders.PendingStatus(r.Status),
		ThreadID:  r.ThreadID,
		Attempts:  r.Attempts,
		LastError: r.LastError,
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}, nil
}

// upsertRearm re-queues waiting and expired rows from scratch; an opened row
// keeps its status and thread so a repeated webhook cannot open a second thread.
const upsertRearm = "ON CONFLICT(user_id, order_id) DO UPDATE SET " +
	"payload = excluded.payload, " +
	"updated_at = excluded.updated_at, " +
	"status = CASE WHEN pending_orders.status = 'opened' THEN pending_orders.status ELSE excluded.status END, " +
	"attempts = CASE WHEN pending_orders.status = 'opened' THEN pending_orders.attempts ELSE 0 END, " +
	"last_error = CASE WHEN pending_orders.status = 'opened' THEN pending_orders.last_error ELSE '' END, " +
	"created_at = CASE WHEN pending_orders.status = 'opened' THEN pending_orders.created_at ELSE excluded.created_at END"

// UpsertPendingOrder queues the order; a repeated webhook for the same
// customer and order replaces the payload and re-arms it unless it was opened.
func (s *storageImpl) UpsertPendingOrder(ctx context.Context, order orders.Order) (*orders.PendingOrder, error) {
	now := s.now()

	q, args, err := s.stmpBuilder().
		Insert(pendingOrdersTable).
		Columns("user_id", "order_id", "payload", "status", "thread_id", "attempts", "last_error", "created_at", "updated_at").
		Values(order.UserID, order.ID, orders.EncodeJSON(order), string(orders.PendingWaiting), "", 0, "", now, now).
		Suffix(upsertRearm).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build sql query: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, q, args...); err != nil {
		return nil, fmt.Errorf("db.ExecContext: %w", err)
	}

	return s.GetPendingOrder(ctx, order.UserID, order.ID)
}

func (s *storageImpl) GetPendingOrder(ctx context.Context, userID, orderID string) (*orders.PendingOrder, error) {
	q, args, err := s.stmpBuilder().
		Select(pendingOrderRowFields).
		From(pendingOrdersTable).
		Where(sq.Eq{"user_id": userID, "order_id": orderID}).
		Limit(1).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build sql query: %w", err)
	}

	var row pendingOrderRow
	err = s.db.GetContext(ctx, &row, q, args...)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("db.GetContext: %w", err)
	}

	return row.ToModel()
}

func (s *storageImpl) ListPendingOrders(ctx context.Context, criteria orders.PendingCriteria) ([]*orders.PendingOrder, error) {
	query := s.stmpBuilder().
		Select(pendingOrderRowFields).
		From(pendingOrdersTable).
		OrderBy("id ASC")

	if criteria.UserID != nil {
		query = query.Where(sq.Eq{"user_id": *criteria.UserID})
	}
	if criteria.OrderID != nil {
		query = query.Where(sq.Eq{"order_id": *criteria.OrderID})
	}
	if criteria.Status != nil {
		query = query.Where(sq.Eq{"status": string(*criteria.Status)})
	}
	if criteria.AfterID > 0 {
		query = query.Where(sq.Gt{"id": criteria.AfterID})
	}
	if criteria.Limit > 0 {
		query = query.Limit(criteria.Limit)
	}

	q, args, err := query.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build sql query: %w", err)
	}

	var rows []pendingOrderRow
	if err := s.db.SelectContext(ctx, &rows, q, args...); err != nil {
		return nil, fmt.Errorf("db.SelectContext: %w", err)
	}

	result := make([]*orders.PendingOrder, 0, len(rows))
	for _, row := range rows {
		p, err := row.ToModel()
		if err != nil {
			return nil, err
		}
		result = append(result, p)
	}
	return result, nil
}

func (s *storageImpl) MarkPendingOrderOpened(ctx context.Context, id int64, threadID string) error {
	params := map[string]interface{}{
		"status":     string(orders.PendingOpened),
		"thread_id":  threadID,
		"last_error": "",
		"updated_at": s.now(),
	}

	q, args, err := s.stmpBuilder().
		Update(pendingOrdersTable).
		SetMap(params).
		Where(sq.Eq{"id": id}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build sql query: %w", err)
	}

	_, err = s.db.ExecContext(ctx, q, args...)
	if err != nil {
		return fmt.Errorf("db.ExecContext: %w", err)
	}

	return nil
}

// RecordPendingOrderFailure keeps the order queued and counts the attempt.
func (s *storageImpl) RecordPendingOrderFailure(ctx context.Context, id int64, reason string) error {
	q, args, err := s.stmpBuilder().
		Update(pendingOrdersTable).
		Set("attempts", sq.Expr("attempts + 1")).
		Set("last_error", reason).
		Set("updated_at", s.now()).
		Where(sq.Eq{"id": id}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build sql query: %w", err)
	}

	_, err = s.db.ExecContext(ctx, q, args...)
	if err != nil {
		return fmt.Errorf("db.ExecContext: %w", err)
	}

	return nil
}

// ExpirePendingOrder takes the order out of the queue for good.
func (s *storageImpl) ExpirePendingOrder(ctx context.Context, id int64, reason string) error {
	q, args, err := s.stmpBuilder().
		Update(pendingOrdersTable).
		Set("status", string(orders.PendingExpired)).
		Set("last_error", reason).
		Set("updated_at", s.now()).
		Where(sq.Eq{"id": id, "status": string(orders.PendingWaiting)}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build sql query: %w", err)
	}

	_, err = s.db.ExecContext(ctx, q, args...)
	if err != nil {
		return fmt.Errorf("db.ExecContext: %w", err)
	}

	return nil
}

// DeletePendingOrder reports whether a row was removed.
func (s *storageImpl) DeletePendingOrder(ctx context.Context, id int64) (bool, error) {
	q, args, err := s.stmpBuilder().
		Delete(pendingOrdersTable).
		Where(sq.Eq{"id": id}).
		ToSql()
	if err != nil {
		return false, fmt.Errorf("build sql query: %w", err)
	}

	result, err := s.db.ExecContext(ctx, q, args...)
	if err != nil {
		return false, fmt.Errorf("db.ExecContext: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("result.RowsAffected: %w", err)
	}
	return n > 0, nil
}
