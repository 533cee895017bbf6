package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math/big"
	"strings"

	_ "github.com/go-sql-driver/mysql"

	"github.com/quotapay/refund-server/internal/apierrors"
	"github.com/quotapay/refund-server/internal/config"
	"github.com/quotapay/refund-server/internal/logger"
	"github.com/quotapay/refund-server/internal/metrics"
)

const mysqlBackend = "mysql"

// MySQLStore implements Store over the business MySQL database.
type MySQLStore struct {
	db      *sql.DB
	metrics *metrics.Metrics
}

// NewMySQLStore opens the connection pool and verifies connectivity.
// A nil metrics collector disables query instrumentation.
func NewMySQLStore(ctx context.Context, cfg config.DatabaseConfig, m *metrics.Metrics) (*MySQLStore, error) {
	db, err := sql.Open("mysql", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("open mysql: %w", err)
	}
	config.ApplyPoolSettings(db, cfg.Pool)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping mysql: %w", err)
	}
	return &MySQLStore{db: db, metrics: m}, nil
}

// observe times one store operation and refreshes the in-use connection
// gauge when the timer fires.
func (s *MySQLStore) observe(operation string) func() {
	done := metrics.MeasureDBQuery(s.metrics, operation, mysqlBackend)
	return func() {
		done()
		if s.metrics != nil {
			s.metrics.DBConnectionsActive.Set(float64(s.db.Stats().InUse))
		}
	}
}

const userColumns = "id, COALESCE(email, ''), COALESCE(stripe_customer_id, ''), CAST(quota AS CHAR), CAST(used_quota AS CHAR)"

// GetUser fetches one user by id.
func (s *MySQLStore) GetUser(ctx context.Context, uid int64) (User, error) {
	defer s.observe("get_user")()
	row := s.db.QueryRowContext(ctx,
		"SELECT "+userColumns+" FROM users WHERE id = ?", uid)
	return scanUser(row)
}

// SearchUsers matches id exactly or email by prefix.
func (s *MySQLStore) SearchUsers(ctx context.Context, query string, limit int) ([]User, error) {
	defer s.observe("search_users")()
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	query = strings.TrimSpace(query)
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+userColumns+" FROM users WHERE CAST(id AS CHAR) = ? OR email LIKE CONCAT(?, '%') ORDER BY id LIMIT ?",
		query, query, limit)
	if err != nil {
		return nil, fmt.Errorf("search users: %w", err)
	}
	defer rows.Close()
	return collectUsers(rows)
}

// ListAllUsers streams the full user table, used by the fleet estimate job.
func (s *MySQLStore) ListAllUsers(ctx context.Context) ([]User, error) {
	defer s.observe("list_all_users")()
	rows, err := s.db.QueryContext(ctx, "SELECT "+userColumns+" FROM users ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()
	return collectUsers(rows)
}

const topupColumns = "id, user_id, CAST(money AS CHAR), CAST(COALESCE(amount, money) AS CHAR), COALESCE(trade_no, ''), create_time, COALESCE(complete_time, create_time), payment_method, status"

// ListTopUps applies the filter with a bounded page size.
func (s *MySQLStore) ListTopUps(ctx context.Context, f TopUpFilter) ([]TopUp, error) {
	defer s.observe("list_topups")()
	var (
		conds []string
		args  []interface{}
	)
	if f.UserID > 0 {
		conds = append(conds, "user_id = ?")
		args = append(args, f.UserID)
	}
	if f.TradeNo != "" {
		conds = append(conds, "trade_no = ?")
		args = append(args, f.TradeNo)
	}
	if f.PaymentMethod != "" {
		conds = append(conds, "payment_method = ?")
		args = append(args, f.PaymentMethod)
	}
	if f.Status != "" {
		conds = append(conds, "status = ?")
		args = append(args, f.Status)
	}

	q := "SELECT " + topupColumns + " FROM topups"
	if len(conds) > 0 {
		q += " WHERE " + strings.Join(conds, " AND ")
	}
	q += " ORDER BY create_time DESC, id DESC"

	limit := f.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	q += " LIMIT ? OFFSET ?"
	args = append(args, limit, f.Offset)

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list topups: %w", err)
	}
	defer rows.Close()
	return collectTopUps(rows)
}

// ListUserTopUps returns every successful or refunded top-up for one user,
// oldest first, as the quote algorithm expects.
func (s *MySQLStore) ListUserTopUps(ctx context.Context, uid int64) ([]TopUp, error) {
	defer s.observe("list_user_topups")()
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+topupColumns+" FROM topups WHERE user_id = ? ORDER BY create_time ASC, id ASC", uid)
	if err != nil {
		return nil, fmt.Errorf("list user topups: %w", err)
	}
	defer rows.Close()
	return collectTopUps(rows)
}

// ListAllTopUps streams the full top-up table for the fleet estimate job.
func (s *MySQLStore) ListAllTopUps(ctx context.Context) ([]TopUp, error) {
	defer s.observe("list_all_topups")()
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+topupColumns+" FROM topups ORDER BY user_id ASC, create_time ASC, id ASC")
	if err != nil {
		return nil, fmt.Errorf("list all topups: %w", err)
	}
	defer rows.Close()
	return collectTopUps(rows)
}

// GetTopUpByTradeNo fetches one top-up by its external trade number.
func (s *MySQLStore) GetTopUpByTradeNo(ctx context.Context, tradeNo string) (TopUp, error) {
	defer s.observe("get_topup_by_trade_no")()
	row := s.db.QueryRowContext(ctx,
		"SELECT "+topupColumns+" FROM topups WHERE trade_no = ?", tradeNo)
	return scanTopUp(row)
}

// ReserveQuota decrements quota iff the balance covers delta. The WHERE
// predicate plus affected-row check is the concurrency primitive; no row
// locks are taken.
func (s *MySQLStore) ReserveQuota(ctx context.Context, uid int64, delta *big.Int) error {
	defer s.observe("reserve_quota")()
	if delta == nil || delta.Sign() <= 0 {
		return apierrors.Newf(apierrors.KindInternal, "reserve quota: non-positive delta")
	}
	res, err := s.db.ExecContext(ctx,
		"UPDATE users SET quota = quota - ? WHERE id = ? AND quota >= ?",
		delta.String(), uid, delta.String())
	if err != nil {
		return fmt.Errorf("reserve quota: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("reserve quota: rows affected: %w", err)
	}
	if affected == 1 {
		return nil
	}

	// Distinguish a missing user from a losing race on the balance.
	if _, err := s.GetUser(ctx, uid); errors.Is(err, ErrNotFound) {
		return apierrors.Newf(apierrors.KindUserNotFound, "user %d not found", uid)
	}
	return apierrors.Newf(apierrors.KindInsufficientQuota,
		"user %d quota below %s", uid, delta.String()).
		WithDetails("requested_quota", delta.String())
}

// ReleaseQuota returns reserved quota after a failed refund leg.
func (s *MySQLStore) ReleaseQuota(ctx context.Context, uid int64, delta *big.Int) error {
	defer s.observe("release_quota")()
	if delta == nil || delta.Sign() <= 0 {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		"UPDATE users SET quota = quota + ? WHERE id = ?", delta.String(), uid)
	if err != nil {
		return fmt.Errorf("release quota: %w", err)
	}
	return nil
}

// RefundTopUpTx refunds one specific top-up transactionally. The row is
// locked FOR UPDATE for the duration of the provider call so a concurrent
// refund of the same trade_no blocks rather than double-refunds.
func (s *MySQLStore) RefundTopUpTx(ctx context.Context, tradeNo string, fn func(TopUp) (*big.Int, error)) (TopUp, error) {
	defer s.observe("refund_topup_tx")()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return TopUp{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx,
		"SELECT "+topupColumns+" FROM topups WHERE trade_no = ? FOR UPDATE", tradeNo)
	topup, err := scanTopUp(row)
	if errors.Is(err, ErrNotFound) {
		return TopUp{}, apierrors.Newf(apierrors.KindTopUpNotFound, "top-up %s not found", tradeNo)
	}
	if err != nil {
		return TopUp{}, err
	}
	if topup.Status != TopUpStatusSuccess {
		return topup, apierrors.Newf(apierrors.KindTopUpNotRefundable,
			"top-up %s has status %s", tradeNo, topup.Status).
			WithDetails("status", topup.Status)
	}

	quotaDelta, err := fn(topup)
	if err != nil {
		return topup, err
	}

	res, err := tx.ExecContext(ctx,
		"UPDATE topups SET status = ? WHERE id = ? AND status = ?",
		TopUpStatusRefund, topup.ID, TopUpStatusSuccess)
	if err != nil {
		return topup, fmt.Errorf("flip topup status: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return topup, fmt.Errorf("flip topup status: rows affected: %w", err)
	}
	if affected != 1 {
		return topup, apierrors.Newf(apierrors.KindTopUpAlreadyUpdated,
			"top-up %s changed state during refund", tradeNo)
	}

	if quotaDelta != nil && quotaDelta.Sign() > 0 {
		// Clamp at zero: a balance already below the grant must not go negative.
		_, err = tx.ExecContext(ctx,
			"UPDATE users SET quota = IF(quota >= ?, quota - ?, 0) WHERE id = ?",
			quotaDelta.String(), quotaDelta.String(), topup.UserID)
		if err != nil {
			return topup, fmt.Errorf("decrement quota: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		// The provider already refunded; surface loudly so operators reconcile.
		log := logger.FromContext(ctx)
		log.Error().
			Str("trade_no", tradeNo).
			Err(err).
			Msg("refund.topup.commit_failed")
		return topup, fmt.Errorf("commit refund tx: %w", err)
	}
	return topup, nil
}

// Ping verifies database connectivity.
func (s *MySQLStore) Ping(ctx context.Context) error {
	defer s.observe("ping")()
	return s.db.PingContext(ctx)
}

// Close releases the connection pool.
func (s *MySQLStore) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanUser(row rowScanner) (User, error) {
	var (
		u        User
		quotaStr string
		usedStr  string
	)
	err := row.Scan(&u.ID, &u.Email, &u.StripeCustomerID, &quotaStr, &usedStr)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, fmt.Errorf("scan user: %w", err)
	}
	if u.Quota, err = parseBigInt(quotaStr); err != nil {
		return User{}, fmt.Errorf("user %d quota: %w", u.ID, err)
	}
	if u.UsedQuota, err = parseBigInt(usedStr); err != nil {
		return User{}, fmt.Errorf("user %d used_quota: %w", u.ID, err)
	}
	return u, nil
}

func collectUsers(rows *sql.Rows) ([]User, error) {
	var users []User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

func scanTopUp(row rowScanner) (TopUp, error) {
	var t TopUp
	err := row.Scan(&t.ID, &t.UserID, &t.Money, &t.Amount, &t.TradeNo,
		&t.CreateTime, &t.CompleteTime, &t.PaymentMethod, &t.Status)
	if errors.Is(err, sql.ErrNoRows) {
		return TopUp{}, ErrNotFound
	}
	if err != nil {
		return TopUp{}, fmt.Errorf("scan topup: %w", err)
	}
	return t, nil
}

func collectTopUps(rows *sql.Rows) ([]TopUp, error) {
	var topups []TopUp
	for rows.Next() {
		t, err := scanTopUp(rows)
		if err != nil {
			return nil, err
		}
		topups = append(topups, t)
	}
	return topups, rows.Err()
}

// parseBigInt converts a DECIMAL column rendered as CHAR into a big.Int,
// tolerating a trailing ".00" scale.
func parseBigInt(s string) (*big.Int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return new(big.Int), nil
	}
	if i := strings.IndexByte(s, '.'); i >= 0 {
		frac := s[i+1:]
		if strings.Trim(frac, "0") != "" {
			return nil, fmt.Errorf("non-integer quota value %q", s)
		}
		s = s[:i]
	}
	n, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("malformed integer %q", s)
	}
	return n, nil
}
