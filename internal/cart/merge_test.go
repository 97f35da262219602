package cart

import (
	"context"
	"errors"
	"sync"
	"testing"

	promtestutil "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/safar/checkout-core/internal/apperr"
	"github.com/safar/checkout-core/internal/models"
)

type fakeCart struct {
	mu    sync.Mutex
	fail  map[int64]error
	added map[int64]int
	// block, when set, is waited on by every AddItem after signalling entered.
	entered chan struct{}
	block   chan struct{}
}

func newFakeCart() *fakeCart {
	return &fakeCart{fail: map[int64]error{}, added: map[int64]int{}}
}

func (f *fakeCart) AddItem(ctx context.Context, owner Owner, productID int64, quantity int) (*models.CartItem, error) {
	if f.block != nil {
		f.entered <- struct{}{}
		<-f.block
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.fail[productID]; ok {
		return nil, err
	}
	f.added[productID] += quantity
	return &models.CartItem{ProductID: productID, Quantity: f.added[productID]}, nil
}

func TestParseRemainderPolicy(t *testing.T) {
	p, err := ParseRemainderPolicy("")
	require.NoError(t, err)
	assert.Equal(t, RemainderFailed, p)

	p, err = ParseRemainderPolicy(" Suffix ")
	require.NoError(t, err)
	assert.Equal(t, RemainderSuffix, p)

	_, err = ParseRemainderPolicy("all")
	assert.Error(t, err)
}

func TestMergeEmptySnapshotIsNoop(t *testing.T) {
	fake := newFakeCart()
	r := NewReconciler(ReconcilerDeps{Cart: fake})

	result, err := r.MergeGuestCart(context.Background(), 1, nil)
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Zero(t, result.MergedCount)
	assert.Empty(t, result.Remaining)
	assert.Empty(t, fake.added)
}

func TestMergeCompleteness(t *testing.T) {
	fake := newFakeCart()
	r := NewReconciler(ReconcilerDeps{Cart: fake})

	result, err := r.MergeGuestCart(context.Background(), 1, []GuestLine{
		{ProductID: 10, Quantity: 2},
		{ProductID: 20, Quantity: 1},
	})
	require.NoError(t, err)

	assert.True(t, result.Success)
	assert.False(t, result.Partial)
	assert.Equal(t, 2, result.MergedCount)
	assert.Zero(t, result.FailedCount)
	assert.Empty(t, result.Remaining)
	assert.NoError(t, result.Err)
	assert.Equal(t, map[int64]int{10: 2, 20: 1}, fake.added)
}

func TestMergePartialFailure(t *testing.T) {
	snapshot := []GuestLine{
		{ProductID: 10, Quantity: 2},
		{ProductID: 20, Quantity: 1},
		{ProductID: 30, Quantity: 4},
	}

	tests := []struct {
		name      string
		policy    RemainderPolicy
		remaining []GuestLine
	}{
		{"failed lines", RemainderFailed, []GuestLine{{ProductID: 20, Quantity: 1}}},
		{"suffix after merged count", RemainderSuffix, []GuestLine{{ProductID: 30, Quantity: 4}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := newFakeCart()
			fake.fail[20] = apperr.ProductNotFound(20)
			r := NewReconciler(ReconcilerDeps{Cart: fake, Policy: tt.policy})

			result, err := r.MergeGuestCart(context.Background(), 7, snapshot)
			require.NoError(t, err)

			assert.False(t, result.Success)
			assert.True(t, result.Partial)
			assert.Equal(t, 2, result.MergedCount)
			assert.Equal(t, 1, result.FailedCount)
			assert.Equal(t, tt.remaining, result.Remaining)
			require.Len(t, result.Failures, 1)
			assert.Equal(t, apperr.KindProductNotFound, result.Failures[0].Kind)
			assert.ErrorIs(t, result.Err, apperr.ErrMergeFailed)
		})
	}
}

func TestMergeTotalFailureLeavesSnapshot(t *testing.T) {
	fake := newFakeCart()
	fake.fail[10] = apperr.InsufficientStock(10, "Tea", 0)
	fake.fail[20] = errors.New("connection reset")
	r := NewReconciler(ReconcilerDeps{Cart: fake})

	snapshot := []GuestLine{{ProductID: 10, Quantity: 1}, {ProductID: 20, Quantity: 3}}
	result, err := r.MergeGuestCart(context.Background(), 7, snapshot)
	require.NoError(t, err)

	assert.False(t, result.Success)
	assert.False(t, result.Partial)
	assert.Equal(t, 2, result.FailedCount)
	assert.Equal(t, snapshot, result.Remaining)
	assert.ErrorIs(t, result.Err, apperr.ErrMergeFailed)
	assert.Equal(t, apperr.KindInternal, result.Failures[1].Kind)
	assert.Equal(t, 2.0, promtestutil.ToFloat64(r.metrics.CartMergeItems.WithLabelValues("failed")))
}

func TestMergeRejectsConcurrentMergeForSameUser(t *testing.T) {
	fake := newFakeCart()
	fake.entered = make(chan struct{})
	fake.block = make(chan struct{})
	r := NewReconciler(ReconcilerDeps{Cart: fake})

	snapshot := []GuestLine{{ProductID: 10, Quantity: 1}}

	done := make(chan MergeResult)
	go func() {
		result, _ := r.MergeGuestCart(context.Background(), 42, snapshot)
		done <- result
	}()
	<-fake.entered

	result, err := r.MergeGuestCart(context.Background(), 42, snapshot)
	require.ErrorIs(t, err, apperr.ErrMergeFailed)
	assert.Equal(t, snapshot, result.Remaining)
	assert.Equal(t, 1.0, promtestutil.ToFloat64(r.metrics.CartMergesRejected))

	close(fake.block)
	first := <-done
	assert.True(t, first.Success)

	// The guard is released once the first merge returns.
	fake.block = nil
	_, err = r.MergeGuestCart(context.Background(), 42, snapshot)
	assert.NoError(t, err)
}
