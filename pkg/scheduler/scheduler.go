package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/platinummonkey/ratchet/pkg/clock"
	"github.com/platinummonkey/ratchet/pkg/events"
	"github.com/platinummonkey/ratchet/pkg/observability"
	"github.com/platinummonkey/ratchet/pkg/store"
)

// Precondition failures. Callers must re-check state before retrying.
var (
	ErrNotYetDue          = errors.New("subscription is not yet due")
	ErrNotActive          = errors.New("subscription is not active")
	ErrNotPaused          = errors.New("subscription is not paused")
	ErrNotFailed          = errors.New("subscription is not in the failed state")
	ErrPlanInactive       = errors.New("plan is not active")
	ErrPlanFull           = errors.New("plan has reached its subscriber capacity")
	ErrMaxFailuresReached = errors.New("subscription failed after reaching the payment failure limit")
)

// Charger performs one charge attempt for a subscription. A non-nil record
// with a nil error is a successful payment; a non-nil error is a failed
// attempt, with the record present when the attempt reached the ledger.
type Charger interface {
	ChargeSubscription(ctx context.Context, sub *store.Subscription, plan *store.Plan) (*store.PaymentRecord, error)
}

// Options tunes a Scheduler.
type Options struct {
	// MaxFailedPayments is the failure count at which a subscription
	// becomes failed.
	MaxFailedPayments int
	// BatchLimit caps how many due subscriptions one RunDue call processes.
	BatchLimit int
	// BatchConcurrency bounds parallel charges inside RunDue.
	BatchConcurrency int
}

func (o *Options) withDefaults() Options {
	out := Options{MaxFailedPayments: 3, BatchLimit: 500, BatchConcurrency: 8}
	if o == nil {
		return out
	}
	if o.MaxFailedPayments > 0 {
		out.MaxFailedPayments = o.MaxFailedPayments
	}
	if o.BatchLimit > 0 {
		out.BatchLimit = o.BatchLimit
	}
	if o.BatchConcurrency > 0 {
		out.BatchConcurrency = o.BatchConcurrency
	}
	return out
}

// Scheduler owns subscription state transitions.
type Scheduler struct {
	subs    store.SubscriptionStore
	plans   store.PlanStore
	charger Charger
	ids     store.IDGenerator
	clk     clock.Clock
	sink    events.Sink
	metrics *observability.Metrics
	opts    Options

	mu    sync.Mutex
	locks map[string]*subLock
}

// New creates a Scheduler.
func New(subs store.SubscriptionStore, plans store.PlanStore, charger Charger,
	ids store.IDGenerator, clk clock.Clock, sink events.Sink,
	metrics *observability.Metrics, opts *Options) *Scheduler {
	if sink == nil {
		sink = events.NopSink{}
	}
	return &Scheduler{
		subs:    subs,
		plans:   plans,
		charger: charger,
		ids:     ids,
		clk:     clk,
		sink:    sink,
		metrics: metrics,
		opts:    opts.withDefaults(),
		locks:   make(map[string]*subLock),
	}
}

// subLock serializes operations on one subscription id. The refcount lets
// unlockSub drop the table entry once the last holder releases it, so the
// table only ever holds ids with an operation in flight.
type subLock struct {
	sync.Mutex
	refs int
}

func (s *Scheduler) lockSub(id string) *subLock {
	s.mu.Lock()
	l, ok := s.locks[id]
	if !ok {
		l = &subLock{}
		s.locks[id] = l
	}
	l.refs++
	s.mu.Unlock()
	l.Lock()
	return l
}

func (s *Scheduler) unlockSub(id string, l *subLock) {
	l.Unlock()
	s.mu.Lock()
	l.refs--
	if l.refs == 0 {
		delete(s.locks, id)
	}
	s.mu.Unlock()
}

// Subscribe enrolls payer in a plan. Capacity is enforced here only;
// cancellations free slots for future subscribers but running subscriptions
// are never evicted when a plan shrinks.
func (s *Scheduler) Subscribe(ctx context.Context, planID, payer string, autoRenew bool) (*store.Subscription, error) {
	plan, err := s.plans.GetPlan(ctx, planID)
	if err != nil {
		return nil, err
	}
	if !plan.Active {
		return nil, ErrPlanInactive
	}
	if plan.MaxSubscribers > 0 {
		n, err := s.plans.CountActiveSubscribers(ctx, planID)
		if err != nil {
			return nil, fmt.Errorf("failed to count subscribers: %w", err)
		}
		if n >= plan.MaxSubscribers {
			return nil, ErrPlanFull
		}
	}

	now := s.clk.Now()
	sub := &store.Subscription{
		ID:            s.ids.NewID(),
		PlanID:        planID,
		Payer:         payer,
		Status:        store.StatusActive,
		AutoRenew:     autoRenew,
		StartAt:       now,
		NextBillingAt: now.Add(plan.Cycle.Duration()),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.subs.CreateSubscription(ctx, sub); err != nil {
		return nil, fmt.Errorf("failed to create subscription: %w", err)
	}

	s.emit(ctx, events.KindSubscriptionCreated, events.StatusSuccess, sub, "subscription created")
	return sub, nil
}

// Cancel moves an active subscription to cancelled.
func (s *Scheduler) Cancel(ctx context.Context, id string) (*store.Subscription, error) {
	return s.transition(ctx, id, store.StatusActive, ErrNotActive, func(sub *store.Subscription, now time.Time) {
		sub.Status = store.StatusCancelled
		sub.EndedAt = &now
	}, events.KindSubscriptionCancelled, "subscription cancelled")
}

// Pause moves an active subscription to paused. Billing stops until resume.
func (s *Scheduler) Pause(ctx context.Context, id string) (*store.Subscription, error) {
	return s.transition(ctx, id, store.StatusActive, ErrNotActive, func(sub *store.Subscription, now time.Time) {
		sub.Status = store.StatusPaused
		sub.PausedAt = &now
	}, events.KindSubscriptionPaused, "subscription paused")
}

// Resume moves a paused subscription back to active. The next billing time
// restarts a full cycle from now; time already elapsed before the pause is
// not credited.
func (s *Scheduler) Resume(ctx context.Context, id string) (*store.Subscription, error) {
	l := s.lockSub(id)
	defer s.unlockSub(id, l)

	sub, err := s.subs.GetSubscription(ctx, id)
	if err != nil {
		return nil, err
	}
	if sub.Status != store.StatusPaused {
		return nil, ErrNotPaused
	}
	plan, err := s.plans.GetPlan(ctx, sub.PlanID)
	if err != nil {
		return nil, err
	}

	now := s.clk.Now()
	from := sub.Status
	sub.Status = store.StatusActive
	sub.PausedAt = nil
	sub.NextBillingAt = now.Add(plan.Cycle.Duration())
	sub.UpdatedAt = now
	if err := s.subs.UpdateSubscription(ctx, sub); err != nil {
		return nil, fmt.Errorf("failed to update subscription: %w", err)
	}

	s.metrics.ObserveTransition(string(from), string(sub.Status))
	s.emit(ctx, events.KindSubscriptionResumed, events.StatusSuccess, sub, "subscription resumed")
	return sub, nil
}

// AdminResetFailures is the manual path out of the failed state: failure
// count clears, the subscription reactivates and the next charge is a full
// cycle from now.
func (s *Scheduler) AdminResetFailures(ctx context.Context, id string) (*store.Subscription, error) {
	l := s.lockSub(id)
	defer s.unlockSub(id, l)

	sub, err := s.subs.GetSubscription(ctx, id)
	if err != nil {
		return nil, err
	}
	if sub.Status != store.StatusFailed {
		return nil, ErrNotFailed
	}
	plan, err := s.plans.GetPlan(ctx, sub.PlanID)
	if err != nil {
		return nil, err
	}

	now := s.clk.Now()
	sub.Status = store.StatusActive
	sub.FailedPayments = 0
	sub.NextBillingAt = now.Add(plan.Cycle.Duration())
	sub.UpdatedAt = now
	if err := s.subs.UpdateSubscription(ctx, sub); err != nil {
		return nil, fmt.Errorf("failed to update subscription: %w", err)
	}

	s.metrics.ObserveTransition(string(store.StatusFailed), string(store.StatusActive))
	s.emit(ctx, events.KindFailuresReset, events.StatusSuccess, sub, "payment failures reset")
	return sub, nil
}

// transition applies a simple guarded state change under the per-id lock.
func (s *Scheduler) transition(ctx context.Context, id string, want store.Status, guardErr error,
	apply func(*store.Subscription, time.Time), kind events.Kind, msg string) (*store.Subscription, error) {
	l := s.lockSub(id)
	defer s.unlockSub(id, l)

	sub, err := s.subs.GetSubscription(ctx, id)
	if err != nil {
		return nil, err
	}
	if sub.Status != want {
		return nil, guardErr
	}

	now := s.clk.Now()
	from := sub.Status
	apply(sub, now)
	sub.UpdatedAt = now
	if err := s.subs.UpdateSubscription(ctx, sub); err != nil {
		return nil, fmt.Errorf("failed to update subscription: %w", err)
	}

	s.metrics.ObserveTransition(string(from), string(sub.Status))
	s.emit(ctx, kind, events.StatusSuccess, sub, msg)
	return sub, nil
}

// ChargeDue attempts the due charge for one subscription. The whole
// check-charge-mutate sequence holds the subscription's lock, so concurrent
// attempts against the same id cannot interleave.
func (s *Scheduler) ChargeDue(ctx context.Context, id string) (*store.PaymentRecord, error) {
	l := s.lockSub(id)
	defer s.unlockSub(id, l)

	sub, err := s.subs.GetSubscription(ctx, id)
	if err != nil {
		return nil, err
	}
	if sub.Status != store.StatusActive {
		return nil, ErrNotActive
	}
	now := s.clk.Now()
	if now.Before(sub.NextBillingAt) {
		return nil, ErrNotYetDue
	}
	plan, err := s.plans.GetPlan(ctx, sub.PlanID)
	if err != nil {
		return nil, err
	}

	rec, chargeErr := s.charger.ChargeSubscription(ctx, sub, plan)
	if chargeErr != nil {
		return rec, s.recordFailure(ctx, sub, now, chargeErr)
	}

	from := sub.Status
	sub.FailedPayments = 0
	if sub.AutoRenew {
		// Additive advance keeps the schedule anchored to the start time.
		sub.NextBillingAt = sub.NextBillingAt.Add(plan.Cycle.Duration())
		s.emit(ctx, events.KindSubscriptionRenewed, events.StatusSuccess, sub, "subscription renewed")
	} else {
		sub.Status = store.StatusExpired
		sub.EndedAt = &now
		s.metrics.ObserveTransition(string(from), string(sub.Status))
		s.emit(ctx, events.KindSubscriptionExpired, events.StatusSuccess, sub, "subscription expired after final charge")
	}
	sub.UpdatedAt = now
	if err := s.subs.UpdateSubscription(ctx, sub); err != nil {
		return rec, fmt.Errorf("failed to update subscription: %w", err)
	}
	return rec, nil
}

// recordFailure bumps the failure count and escalates to the failed state at
// the limit. The charge error is returned to the caller either way.
func (s *Scheduler) recordFailure(ctx context.Context, sub *store.Subscription, now time.Time, chargeErr error) error {
	sub.FailedPayments++
	sub.UpdatedAt = now

	if sub.FailedPayments >= s.opts.MaxFailedPayments {
		from := sub.Status
		sub.Status = store.StatusFailed
		sub.EndedAt = &now
		if err := s.subs.UpdateSubscription(ctx, sub); err != nil {
			return fmt.Errorf("failed to update subscription: %w", err)
		}
		s.metrics.ObserveTransition(string(from), string(sub.Status))
		s.emit(ctx, events.KindSubscriptionFailed, events.StatusFailure, sub,
			fmt.Sprintf("subscription failed after %d payment failures", sub.FailedPayments))
		return fmt.Errorf("%w: %s", ErrMaxFailuresReached, chargeErr)
	}

	if err := s.subs.UpdateSubscription(ctx, sub); err != nil {
		return fmt.Errorf("failed to update subscription: %w", err)
	}
	s.emit(ctx, events.KindChargeFailed, events.StatusFailure, sub,
		fmt.Sprintf("charge failed (%d of %d allowed): %s", sub.FailedPayments, s.opts.MaxFailedPayments, chargeErr))
	return chargeErr
}

// BatchResult summarizes one RunDue pass.
type BatchResult struct {
	Due       int
	Succeeded int
	Failed    int
	// Errors maps subscription id to its charge error.
	Errors map[string]error
}

// RunDue charges every due subscription once. Subscriptions are processed
// independently with bounded parallelism; per-subscription errors are
// collected, not propagated, so one bad subscription never stops the batch.
func (s *Scheduler) RunDue(ctx context.Context) (*BatchResult, error) {
	start := s.clk.Now()
	due, err := s.subs.ListDue(ctx, start, s.opts.BatchLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to list due subscriptions: %w", err)
	}

	result := &BatchResult{Due: len(due), Errors: make(map[string]error)}
	var resultMu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.BatchConcurrency)
	for _, sub := range due {
		id := sub.ID
		g.Go(func() error {
			_, chargeErr := s.ChargeDue(gctx, id)
			resultMu.Lock()
			defer resultMu.Unlock()
			if chargeErr != nil {
				// Raced transitions since listing are skipped, not failures.
				if errors.Is(chargeErr, ErrNotYetDue) || errors.Is(chargeErr, ErrNotActive) {
					result.Due--
					return nil
				}
				result.Failed++
				result.Errors[id] = chargeErr
				return nil
			}
			result.Succeeded++
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return result, err
	}

	s.metrics.ObserveBatchRun(result.Due, s.clk.Now().Sub(start))
	s.emit(ctx, events.KindBatchRunCompleted, events.StatusSuccess, nil,
		fmt.Sprintf("batch run: %d due, %d succeeded, %d failed", result.Due, result.Succeeded, result.Failed))
	return result, nil
}

func (s *Scheduler) emit(ctx context.Context, kind events.Kind, status events.Status, sub *store.Subscription, msg string) {
	e := events.Event{
		ID:        s.ids.NewID(),
		Kind:      kind,
		Status:    status,
		Timestamp: s.clk.Now(),
		Message:   msg,
	}
	if sub != nil {
		e.SubscriptionID = sub.ID
		e.Payer = sub.Payer
	}
	// Event delivery is advisory and never fails the operation.
	_ = s.sink.Emit(ctx, e)
}
