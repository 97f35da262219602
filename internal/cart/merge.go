package cart

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/safar/checkout-core/internal/apperr"
	"github.com/safar/checkout-core/internal/metrics"
	"github.com/safar/checkout-core/internal/models"
)

// RemainderPolicy decides what stays in the guest cart after a partial merge.
type RemainderPolicy string

const (
	// RemainderFailed keeps exactly the lines that failed.
	RemainderFailed RemainderPolicy = "failed"
	// RemainderSuffix keeps snapshot[mergedCount:], whatever those lines were.
	RemainderSuffix RemainderPolicy = "suffix"
)

func ParseRemainderPolicy(raw string) (RemainderPolicy, error) {
	switch p := RemainderPolicy(strings.ToLower(strings.TrimSpace(raw))); p {
	case "", RemainderFailed:
		return RemainderFailed, nil
	case RemainderSuffix:
		return RemainderSuffix, nil
	default:
		return "", fmt.Errorf("unknown cart remainder policy %q", raw)
	}
}

type GuestLine struct {
	ProductID int64 `json:"product_id"`
	Quantity  int   `json:"quantity"`
}

type MergeFailure struct {
	Line    GuestLine   `json:"line"`
	Kind    apperr.Kind `json:"kind"`
	Message string      `json:"message"`
}

// MergeResult reports a best-effort merge. Err is set to a MergeFailed error
// when nothing merged; it is reported, never returned.
type MergeResult struct {
	Success     bool           `json:"success"`
	Partial     bool           `json:"partial"`
	MergedCount int            `json:"mergedCount"`
	FailedCount int            `json:"failedCount"`
	Remaining   []GuestLine    `json:"remaining"`
	Failures    []MergeFailure `json:"failures,omitempty"`
	Err         error          `json:"-"`
}

type itemAdder interface {
	AddItem(ctx context.Context, owner Owner, productID int64, quantity int) (*models.CartItem, error)
}

type ReconcilerDeps struct {
	Cart    itemAdder
	Policy  RemainderPolicy
	Metrics *metrics.Metrics
	Logger  *zap.Logger
}

// Reconciler merges guest carts. Its in-flight guard is process-local: two
// replicas can still merge the same user concurrently.
type Reconciler struct {
	cart    itemAdder
	policy  RemainderPolicy
	metrics *metrics.Metrics
	logger  *zap.Logger

	mu       sync.Mutex
	inFlight map[int64]struct{}
}

func NewReconciler(deps ReconcilerDeps) *Reconciler {
	r := &Reconciler{
		cart:     deps.Cart,
		policy:   deps.Policy,
		metrics:  deps.Metrics,
		logger:   deps.Logger,
		inFlight: make(map[int64]struct{}),
	}
	if r.policy == "" {
		r.policy = RemainderFailed
	}
	if r.metrics == nil {
		r.metrics = metrics.New()
	}
	if r.logger == nil {
		r.logger = zap.NewNop()
	}
	return r
}

// MergeGuestCart adds each snapshot line to the user's cart through the
// regular add path. Per-line failures are collected, not returned. The only
// error is MergeFailed when a merge for the same user is already running.
func (r *Reconciler) MergeGuestCart(ctx context.Context, userID int64, snapshot []GuestLine) (MergeResult, error) {
	if len(snapshot) == 0 {
		return MergeResult{Success: true, Remaining: []GuestLine{}}, nil
	}

	if !r.acquire(userID) {
		r.metrics.CartMergesRejected.Inc()
		r.logger.Warn("cart merge already in progress", zap.Int64("user_id", userID))
		return MergeResult{Remaining: snapshot}, apperr.MergeFailed("merge already in progress", nil)
	}
	defer r.release(userID)

	result := MergeResult{}
	owner := UserOwner(userID)
	for _, line := range snapshot {
		if _, err := r.cart.AddItem(ctx, owner, line.ProductID, line.Quantity); err != nil {
			result.FailedCount++
			result.Failures = append(result.Failures, MergeFailure{
				Line:    line,
				Kind:    apperr.KindOf(err),
				Message: err.Error(),
			})
			r.logger.Info("guest cart line not merged",
				zap.Int64("user_id", userID),
				zap.Int64("product_id", line.ProductID),
				zap.Error(err))
			continue
		}
		result.MergedCount++
	}

	r.metrics.CartMergeItems.WithLabelValues("merged").Add(float64(result.MergedCount))
	r.metrics.CartMergeItems.WithLabelValues("failed").Add(float64(result.FailedCount))

	switch {
	case result.FailedCount == 0:
		result.Success = true
		result.Remaining = []GuestLine{}
	case result.MergedCount == 0:
		result.Remaining = append([]GuestLine(nil), snapshot...)
		result.Err = apperr.MergeFailed("no guest cart items could be merged", nil)
	default:
		result.Partial = true
		result.Remaining = r.remainder(snapshot, result)
		result.Err = apperr.MergeFailed(fmt.Sprintf("%d of %d guest cart items could not be merged",
			result.FailedCount, len(snapshot)), nil)
	}

	r.logger.Info("guest cart merged",
		zap.Int64("user_id", userID),
		zap.Int("merged", result.MergedCount),
		zap.Int("failed", result.FailedCount),
		zap.String("policy", string(r.policy)))

	return result, nil
}

func (r *Reconciler) remainder(snapshot []GuestLine, result MergeResult) []GuestLine {
	if r.policy == RemainderSuffix {
		return append([]GuestLine(nil), snapshot[result.MergedCount:]...)
	}
	remaining := make([]GuestLine, 0, len(result.Failures))
	for _, f := range result.Failures {
		remaining = append(remaining, f.Line)
	}
	return remaining
}

func (r *Reconciler) acquire(userID int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, busy := r.inFlight[userID]; busy {
		return false
	}
	r.inFlight[userID] = struct{}{}
	return true
}

func (r *Reconciler) release(userID int64) {
	r.mu.Lock()
	delete(r.inFlight, userID)
	r.mu.Unlock()
}
