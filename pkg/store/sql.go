package store

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Flavor selects the SQL dialect for placeholder binding
type Flavor string

const (
	FlavorPostgres Flavor = "postgres"
	FlavorSQLite   Flavor = "sqlite"
)

// SQLStore implements Store on database/sql. Queries are written with `?`
// placeholders and rebound to `$n` for PostgreSQL.
type SQLStore struct {
	db     *sql.DB
	flavor Flavor
}

// NewSQLStore wraps an open database handle.
func NewSQLStore(db *sql.DB, flavor Flavor) *SQLStore {
	return &SQLStore{db: db, flavor: flavor}
}

// DB exposes the underlying handle for health checks.
func (s *SQLStore) DB() *sql.DB {
	return s.db
}

// rebind rewrites ? placeholders into the flavor's native form.
func (s *SQLStore) rebind(query string) string {
	if s.flavor != FlavorPostgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// CreatePlan implements PlanStore.
func (s *SQLStore) CreatePlan(ctx context.Context, plan *Plan) error {
	query := s.rebind(`
		INSERT INTO plans (id, name, currency, price_cents, cycle, max_subscribers, active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	_, err := s.db.ExecContext(ctx, query,
		plan.ID, plan.Name, plan.Currency, plan.PriceCents, plan.Cycle,
		plan.MaxSubscribers, plan.Active, plan.CreatedAt, plan.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create plan: %w", err)
	}
	return nil
}

// GetPlan implements PlanStore.
func (s *SQLStore) GetPlan(ctx context.Context, id string) (*Plan, error) {
	query := s.rebind(`
		SELECT id, name, currency, price_cents, cycle, max_subscribers, active, created_at, updated_at
		FROM plans
		WHERE id = ?
	`)
	plan := &Plan{}
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&plan.ID, &plan.Name, &plan.Currency, &plan.PriceCents, &plan.Cycle,
		&plan.MaxSubscribers, &plan.Active, &plan.CreatedAt, &plan.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, &NotFoundError{Kind: "plan", ID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get plan: %w", err)
	}
	return plan, nil
}

// ListPlans implements PlanStore.
func (s *SQLStore) ListPlans(ctx context.Context) ([]*Plan, error) {
	query := `
		SELECT id, name, currency, price_cents, cycle, max_subscribers, active, created_at, updated_at
		FROM plans
		ORDER BY id
	`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list plans: %w", err)
	}
	defer rows.Close()

	var plans []*Plan
	for rows.Next() {
		plan := &Plan{}
		if err := rows.Scan(&plan.ID, &plan.Name, &plan.Currency, &plan.PriceCents,
			&plan.Cycle, &plan.MaxSubscribers, &plan.Active, &plan.CreatedAt, &plan.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan plan: %w", err)
		}
		plans = append(plans, plan)
	}
	return plans, rows.Err()
}

// UpdatePlan implements PlanStore.
func (s *SQLStore) UpdatePlan(ctx context.Context, plan *Plan) error {
	query := s.rebind(`
		UPDATE plans
		SET name = ?, currency = ?, price_cents = ?, cycle = ?, max_subscribers = ?, active = ?, updated_at = ?
		WHERE id = ?
	`)
	res, err := s.db.ExecContext(ctx, query,
		plan.Name, plan.Currency, plan.PriceCents, plan.Cycle,
		plan.MaxSubscribers, plan.Active, plan.UpdatedAt, plan.ID)
	if err != nil {
		return fmt.Errorf("failed to update plan: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return &NotFoundError{Kind: "plan", ID: plan.ID}
	}
	return nil
}

// CountActiveSubscribers implements PlanStore.
func (s *SQLStore) CountActiveSubscribers(ctx context.Context, planID string) (int64, error) {
	query := s.rebind(`
		SELECT COUNT(*)
		FROM subscriptions
		WHERE plan_id = ? AND status NOT IN ('cancelled', 'expired', 'failed')
	`)
	var n int64
	if err := s.db.QueryRowContext(ctx, query, planID).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count subscribers: %w", err)
	}
	return n, nil
}

// CreateSubscription implements SubscriptionStore.
func (s *SQLStore) CreateSubscription(ctx context.Context, sub *Subscription) error {
	query := s.rebind(`
		INSERT INTO subscriptions (id, plan_id, payer, status, auto_renew, start_at, next_billing_at,
		                           failed_payments, paused_at, ended_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	_, err := s.db.ExecContext(ctx, query,
		sub.ID, sub.PlanID, sub.Payer, sub.Status, sub.AutoRenew, sub.StartAt, sub.NextBillingAt,
		sub.FailedPayments, sub.PausedAt, sub.EndedAt, sub.CreatedAt, sub.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create subscription: %w", err)
	}
	return nil
}

func scanSubscription(row interface{ Scan(...interface{}) error }) (*Subscription, error) {
	sub := &Subscription{}
	err := row.Scan(&sub.ID, &sub.PlanID, &sub.Payer, &sub.Status, &sub.AutoRenew,
		&sub.StartAt, &sub.NextBillingAt, &sub.FailedPayments,
		&sub.PausedAt, &sub.EndedAt, &sub.CreatedAt, &sub.UpdatedAt)
	return sub, err
}

const subscriptionColumns = `id, plan_id, payer, status, auto_renew, start_at, next_billing_at,
	failed_payments, paused_at, ended_at, created_at, updated_at`

// GetSubscription implements SubscriptionStore.
func (s *SQLStore) GetSubscription(ctx context.Context, id string) (*Subscription, error) {
	query := s.rebind(`SELECT ` + subscriptionColumns + ` FROM subscriptions WHERE id = ?`)
	sub, err := scanSubscription(s.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, &NotFoundError{Kind: "subscription", ID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get subscription: %w", err)
	}
	return sub, nil
}

// UpdateSubscription implements SubscriptionStore.
func (s *SQLStore) UpdateSubscription(ctx context.Context, sub *Subscription) error {
	query := s.rebind(`
		UPDATE subscriptions
		SET status = ?, auto_renew = ?, next_billing_at = ?, failed_payments = ?,
		    paused_at = ?, ended_at = ?, updated_at = ?
		WHERE id = ?
	`)
	res, err := s.db.ExecContext(ctx, query,
		sub.Status, sub.AutoRenew, sub.NextBillingAt, sub.FailedPayments,
		sub.PausedAt, sub.EndedAt, sub.UpdatedAt, sub.ID)
	if err != nil {
		return fmt.Errorf("failed to update subscription: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return &NotFoundError{Kind: "subscription", ID: sub.ID}
	}
	return nil
}

// ListSubscriptionsByPayer implements SubscriptionStore.
func (s *SQLStore) ListSubscriptionsByPayer(ctx context.Context, payer string) ([]*Subscription, error) {
	query := s.rebind(`SELECT ` + subscriptionColumns + ` FROM subscriptions WHERE payer = ? ORDER BY id`)
	rows, err := s.db.QueryContext(ctx, query, payer)
	if err != nil {
		return nil, fmt.Errorf("failed to list subscriptions: %w", err)
	}
	defer rows.Close()

	var subs []*Subscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan subscription: %w", err)
		}
		subs = append(subs, sub)
	}
	return subs, rows.Err()
}

// ListDue implements SubscriptionStore.
func (s *SQLStore) ListDue(ctx context.Context, now time.Time, limit int) ([]*Subscription, error) {
	query := s.rebind(`
		SELECT ` + subscriptionColumns + `
		FROM subscriptions
		WHERE status = 'active' AND next_billing_at <= ?
		ORDER BY next_billing_at, id
		LIMIT ?
	`)
	if limit <= 0 {
		limit = 1000
	}
	rows, err := s.db.QueryContext(ctx, query, now, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list due subscriptions: %w", err)
	}
	defer rows.Close()

	var subs []*Subscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan subscription: %w", err)
		}
		subs = append(subs, sub)
	}
	return subs, rows.Err()
}

// CreatePayment implements PaymentStore.
func (s *SQLStore) CreatePayment(ctx context.Context, rec *PaymentRecord) error {
	query := s.rebind(`
		INSERT INTO payments (id, subscription_id, payer, payee, currency, gross_cents, fee_cents, net_cents,
		                      fee_collector, status, reason, idempotency_key, correlation_hash, refunded_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	_, err := s.db.ExecContext(ctx, query,
		rec.ID, rec.SubscriptionID, rec.Payer, rec.Payee, rec.Currency,
		rec.GrossCents, rec.FeeCents, rec.NetCents, rec.FeeCollector, rec.Status, rec.Reason,
		rec.IdempotencyKey, rec.CorrelationHash, rec.RefundedAt, rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create payment: %w", err)
	}
	return nil
}

const paymentColumns = `id, subscription_id, payer, payee, currency, gross_cents, fee_cents, net_cents,
	fee_collector, status, reason, idempotency_key, correlation_hash, refunded_at, created_at`

func scanPayment(row interface{ Scan(...interface{}) error }) (*PaymentRecord, error) {
	rec := &PaymentRecord{}
	err := row.Scan(&rec.ID, &rec.SubscriptionID, &rec.Payer, &rec.Payee, &rec.Currency,
		&rec.GrossCents, &rec.FeeCents, &rec.NetCents, &rec.FeeCollector, &rec.Status, &rec.Reason,
		&rec.IdempotencyKey, &rec.CorrelationHash, &rec.RefundedAt, &rec.CreatedAt)
	return rec, err
}

// GetPayment implements PaymentStore.
func (s *SQLStore) GetPayment(ctx context.Context, id string) (*PaymentRecord, error) {
	query := s.rebind(`SELECT ` + paymentColumns + ` FROM payments WHERE id = ?`)
	rec, err := scanPayment(s.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, &NotFoundError{Kind: "payment", ID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get payment: %w", err)
	}
	return rec, nil
}

// ListPaymentsByPayer implements PaymentStore.
func (s *SQLStore) ListPaymentsByPayer(ctx context.Context, payer string, limit int) ([]*PaymentRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	query := s.rebind(`
		SELECT ` + paymentColumns + `
		FROM payments
		WHERE payer = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ?
	`)
	rows, err := s.db.QueryContext(ctx, query, payer, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list payments: %w", err)
	}
	defer rows.Close()

	var recs []*PaymentRecord
	for rows.Next() {
		rec, err := scanPayment(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan payment: %w", err)
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

// ListPaymentsBySubscription implements PaymentStore.
func (s *SQLStore) ListPaymentsBySubscription(ctx context.Context, subscriptionID string) ([]*PaymentRecord, error) {
	query := s.rebind(`
		SELECT ` + paymentColumns + `
		FROM payments
		WHERE subscription_id = ?
		ORDER BY created_at, id
	`)
	rows, err := s.db.QueryContext(ctx, query, subscriptionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list payments: %w", err)
	}
	defer rows.Close()

	var recs []*PaymentRecord
	for rows.Next() {
		rec, err := scanPayment(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan payment: %w", err)
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

// RefundPayment implements PaymentStore. The status guard lives in the WHERE
// clause so the flip is atomic against concurrent refunds.
func (s *SQLStore) RefundPayment(ctx context.Context, id string, now time.Time) (*PaymentRecord, error) {
	query := s.rebind(`
		UPDATE payments
		SET status = ?, refunded_at = ?
		WHERE id = ? AND status = ?
	`)
	res, err := s.db.ExecContext(ctx, query, PaymentRefunded, now, id, PaymentSucceeded)
	if err != nil {
		return nil, fmt.Errorf("failed to refund payment: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		rec, err := s.GetPayment(ctx, id)
		if err != nil {
			return nil, err
		}
		return nil, &NotRefundableError{ID: id, Status: rec.Status}
	}
	return s.GetPayment(ctx, id)
}

// Ping implements Store.
func (s *SQLStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close implements Store.
func (s *SQLStore) Close() error {
	return s.db.Close()
}
