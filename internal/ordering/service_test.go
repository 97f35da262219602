package ordering

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	_ "github.com/lib/pq"
	"github.com/oklog/ulid/v2"
	promtestutil "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/sync/errgroup"

	"github.com/safar/checkout-core/internal/apperr"
	"github.com/safar/checkout-core/internal/auth"
	"github.com/safar/checkout-core/internal/database"
	"github.com/safar/checkout-core/internal/identity"
	"github.com/safar/checkout-core/internal/inventory"
	"github.com/safar/checkout-core/internal/models"
	"github.com/safar/checkout-core/internal/store"
	"github.com/safar/checkout-core/internal/testutil"
)

const testSecret = "ordering-test-secret"

func newTestService(t *testing.T, db *sql.DB) *Service {
	t.Helper()
	svc, err := NewService(Deps{
		DB:                 db,
		Provisioner:        identity.NewProvisioner(identity.ProvisionerDeps{BcryptCost: bcrypt.MinCost}),
		Ledger:             inventory.NewLedger(nil),
		Tokens:             auth.NewTokenIssuer(testSecret, time.Hour),
		TxTimeout:          30 * time.Second,
		MaxRetries:         10,
		DefaultCountryCode: "+86",
	})
	require.NoError(t, err)
	return svc
}

func createProduct(t *testing.T, db *sql.DB, sku, price string, discount decimal.NullDecimal, stock int) *models.Product {
	t.Helper()
	product, err := store.CreateProduct(context.Background(), db, store.CreateProductParams{
		SKU:      sku,
		Name:     "Product " + sku,
		Price:    decimal.RequireFromString(price),
		Discount: discount,
		Stock:    stock,
	})
	require.NoError(t, err)
	return product
}

func createUser(t *testing.T, db *sql.DB, phone string) *models.User {
	t.Helper()
	user, err := store.CreateUser(context.Background(), db, store.CreateUserParams{
		Username:     "86" + phone,
		Nickname:     "Member",
		CountryCode:  "+86",
		Phone:        phone,
		PasswordHash: "x",
		ReferralCode: "R" + phone[len(phone)-7:],
	})
	require.NoError(t, err)
	return user
}

func stockOf(t *testing.T, db *sql.DB, productID int64) int {
	t.Helper()
	product, err := store.GetProduct(context.Background(), db, productID)
	require.NoError(t, err)
	return product.StockQuantity
}

func guestRequest(phone, countryCode string, items ...ItemRequest) PlaceOrderRequest {
	return PlaceOrderRequest{
		Items:           items,
		ContactName:     "Somchai",
		ContactPhone:    phone,
		CountryCode:     countryCode,
		DeliveryAddress: "99 Sukhumvit Rd",
		PaymentMethod:   models.PaymentMethodCOD,
	}
}

func strPtr(s string) *string { return &s }

func TestValidate(t *testing.T) {
	valid := guestRequest("13800138000", "", ItemRequest{ProductID: 1, Quantity: 1})

	tests := []struct {
		name   string
		mutate func(*PlaceOrderRequest)
	}{
		{"no items", func(r *PlaceOrderRequest) { r.Items = nil }},
		{"zero quantity", func(r *PlaceOrderRequest) { r.Items[0].Quantity = 0 }},
		{"negative quantity", func(r *PlaceOrderRequest) { r.Items[0].Quantity = -2 }},
		{"bad product id", func(r *PlaceOrderRequest) { r.Items[0].ProductID = 0 }},
		{"missing name", func(r *PlaceOrderRequest) { r.ContactName = "  " }},
		{"missing phone", func(r *PlaceOrderRequest) { r.ContactPhone = "" }},
		{"missing address", func(r *PlaceOrderRequest) { r.DeliveryAddress = "" }},
		{"unknown payment", func(r *PlaceOrderRequest) { r.PaymentMethod = "crypto" }},
		{"long contact name", func(r *PlaceOrderRequest) { r.ContactName = strings.Repeat("a", 101) }},
		{"long contact phone", func(r *PlaceOrderRequest) { r.ContactPhone = strings.Repeat("1", 31) }},
		{"long province", func(r *PlaceOrderRequest) { r.Province = strPtr(strings.Repeat("p", 51)) }},
		{"long city", func(r *PlaceOrderRequest) { r.City = strPtr(strings.Repeat("c", 51)) }},
		{"long district", func(r *PlaceOrderRequest) { r.District = strPtr(strings.Repeat("d", 51)) }},
		{"long postal code", func(r *PlaceOrderRequest) { r.PostalCode = strPtr(strings.Repeat("9", 11)) }},
		{"long referral code", func(r *PlaceOrderRequest) { r.ReferralCode = strings.Repeat("é", 21) }},
		{"too many items", func(r *PlaceOrderRequest) {
			r.Items = make([]ItemRequest, maxItemsPerOrder+1)
			for i := range r.Items {
				r.Items[i] = ItemRequest{ProductID: int64(i + 1), Quantity: 1}
			}
		}},
	}

	require.NoError(t, valid.Validate())

	atLimit := guestRequest("13800138000", "", ItemRequest{ProductID: 1, Quantity: 1})
	atLimit.ContactName = strings.Repeat("名", maxContactNameLength)
	atLimit.Province = strPtr(strings.Repeat("省", maxRegionLength))
	atLimit.PostalCode = strPtr("1234567890")
	atLimit.ReferralCode = strings.Repeat("é", maxReferralCodeLength)
	require.NoError(t, atLimit.Validate())

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := guestRequest("13800138000", "", ItemRequest{ProductID: 1, Quantity: 1})
			tt.mutate(&req)
			assert.ErrorIs(t, req.Validate(), apperr.ErrValidation)
		})
	}
}

func TestNormalizeDefaultsPaymentMethod(t *testing.T) {
	req := PlaceOrderRequest{PaymentMethod: " ONLINE "}
	req.normalize()
	assert.Equal(t, models.PaymentMethodOnline, req.PaymentMethod)

	req = PlaceOrderRequest{}
	req.normalize()
	assert.Equal(t, models.PaymentMethodCOD, req.PaymentMethod)

	req = PlaceOrderRequest{PaymentMethod: "crypto"}
	req.normalize()
	assert.Equal(t, models.PaymentMethod("crypto"), req.PaymentMethod)
	assert.False(t, req.PaymentMethod.Valid())
}

func TestNormalizeTrimsOptionalAddressFields(t *testing.T) {
	req := PlaceOrderRequest{Province: strPtr("  Bangkok "), City: strPtr("   "), ReferralCode: " friend01 "}
	req.normalize()

	require.NotNil(t, req.Province)
	assert.Equal(t, "Bangkok", *req.Province)
	assert.Nil(t, req.City)
	assert.Nil(t, req.District)
	assert.Equal(t, "friend01", req.ReferralCode)
}

func TestNewOrderNumber(t *testing.T) {
	a := NewOrderNumber()
	b := NewOrderNumber()

	assert.NotEqual(t, a, b)
	require.True(t, strings.HasPrefix(a, orderNumberPrefix))
	_, err := ulid.ParseStrict(strings.TrimPrefix(a, orderNumberPrefix))
	assert.NoError(t, err)
	assert.LessOrEqual(t, len(a), 40)
}

func TestNewServiceRequiresCollaborators(t *testing.T) {
	_, err := NewService(Deps{})
	assert.ErrorIs(t, err, errDBRequired)
}

func TestClassifyPlacementError(t *testing.T) {
	stock := apperr.InsufficientStock(1, "Tea", 0)
	assert.Same(t, stock, classifyPlacementError(stock))

	err := classifyPlacementError(context.DeadlineExceeded)
	assert.ErrorIs(t, err, apperr.ErrOrderPlacementFailed)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestPlaceOrderRejectsBadGuestPhoneBeforeTouchingDB(t *testing.T) {
	// Never connects: lib/pq dials lazily.
	db, err := sql.Open("postgres", "postgres://nobody@127.0.0.1:1/none?sslmode=disable")
	require.NoError(t, err)
	svc := newTestService(t, db)

	_, err = svc.PlaceOrder(context.Background(), auth.Anonymous(),
		guestRequest("12-34", "+86", ItemRequest{ProductID: 1, Quantity: 1}))
	assert.ErrorIs(t, err, apperr.ErrValidation)
	assert.Equal(t, 1.0, promtestutil.ToFloat64(svc.metrics.OrderFailures.WithLabelValues(string(apperr.KindValidation))))
}

func TestGuestCheckoutEndToEnd(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ctx := context.Background()
	svc := newTestService(t, db)

	product := createProduct(t, db, "E2E-1", "50", decimal.NullDecimal{}, 5)

	placement, err := svc.PlaceOrder(ctx, auth.Anonymous(),
		guestRequest("0812345678", "+66", ItemRequest{ProductID: product.ID, Quantity: 2}))
	require.NoError(t, err)

	assert.Equal(t, "100.00", placement.Order.TotalAmount.StringFixed(2))
	assert.Equal(t, models.OrderStatusCompleted, placement.Order.Status)
	assert.Equal(t, models.PaymentMethodCOD, placement.Order.PaymentMethod)
	assert.True(t, strings.HasPrefix(placement.Order.OrderNumber, orderNumberPrefix))
	require.Len(t, placement.Items, 1)
	assert.Equal(t, "50.00", placement.Items[0].UnitPrice.StringFixed(2))
	assert.Equal(t, "100.00", placement.Items[0].Subtotal.StringFixed(2))
	assert.Equal(t, 3, stockOf(t, db, product.ID))

	require.True(t, placement.AutoRegistered)
	require.NotNil(t, placement.User)
	assert.Equal(t, "+66", placement.User.CountryCode)
	assert.Equal(t, "812345678", placement.User.Phone)
	assert.Equal(t, placement.User.ID, placement.Order.UserID)

	claims, err := auth.NewTokenIssuer(testSecret, time.Hour).Parse(placement.Token)
	require.NoError(t, err)
	assert.Equal(t, placement.User.ID, claims.UserID)

	addresses, err := store.ListAddresses(ctx, db, placement.User.ID)
	require.NoError(t, err)
	require.Len(t, addresses, 1)
	assert.True(t, addresses[0].IsDefault)
	assert.Equal(t, "99 Sukhumvit Rd", addresses[0].DetailAddress)

	user, err := identity.Authenticate(ctx, db, "0812345678", "+66", "12345678")
	require.NoError(t, err)
	assert.Equal(t, placement.User.ID, user.ID)

	assert.Equal(t, 1.0, promtestutil.ToFloat64(svc.metrics.OrdersPlaced.WithLabelValues("cod", "guest")))
	assert.Equal(t, 1.0, promtestutil.ToFloat64(svc.metrics.GuestsProvisioned))
}

func TestPlaceOrderIsAtomic(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ctx := context.Background()
	svc := newTestService(t, db)

	plenty := createProduct(t, db, "ATOM-1", "10", decimal.NullDecimal{}, 5)
	scarce := createProduct(t, db, "ATOM-2", "20", decimal.NullDecimal{}, 1)

	t.Run("insufficient stock on a later item", func(t *testing.T) {
		_, err := svc.PlaceOrder(ctx, auth.Anonymous(), guestRequest("13800138001", "+86",
			ItemRequest{ProductID: plenty.ID, Quantity: 2},
			ItemRequest{ProductID: scarce.ID, Quantity: 3}))
		require.ErrorIs(t, err, apperr.ErrInsufficientStock)

		var appErr *apperr.Error
		require.ErrorAs(t, err, &appErr)
		assert.Equal(t, scarce.ID, appErr.ProductID)
		assert.Equal(t, 1, appErr.Stock)

		assert.Equal(t, 5, stockOf(t, db, plenty.ID))
		assert.Equal(t, 1, stockOf(t, db, scarce.ID))

		_, err = store.GetUserByPhone(ctx, db, "+86", "13800138001")
		assert.ErrorIs(t, err, database.ErrUserNotFound, "guest account must roll back with the order")
	})

	t.Run("unknown product", func(t *testing.T) {
		member := createUser(t, db, "13800138002")

		_, err := svc.PlaceOrder(ctx, auth.Authenticated(member.ID), guestRequest("13800138002", "",
			ItemRequest{ProductID: plenty.ID, Quantity: 1},
			ItemRequest{ProductID: scarce.ID + 1000, Quantity: 1}))
		require.ErrorIs(t, err, apperr.ErrProductNotFound)

		assert.Equal(t, 5, stockOf(t, db, plenty.ID))
		count, err := store.CountOrdersForUser(ctx, db, member.ID)
		require.NoError(t, err)
		assert.Zero(t, count)
	})
}

func TestOrderItemsSnapshotPricing(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ctx := context.Background()
	svc := newTestService(t, db)

	discount := decimal.NullDecimal{Decimal: decimal.NewFromInt(20), Valid: true}
	product := createProduct(t, db, "SNAP-1", "100", discount, 10)
	member := createUser(t, db, "13800138003")

	placement, err := svc.PlaceOrder(ctx, auth.Authenticated(member.ID), guestRequest("13800138003", "",
		ItemRequest{ProductID: product.ID, Quantity: 3}))
	require.NoError(t, err)

	item := placement.Items[0]
	assert.Equal(t, "80.00", item.UnitPrice.StringFixed(2))
	assert.Equal(t, "100.00", item.OriginalPrice.StringFixed(2))
	assert.Equal(t, "240.00", item.Subtotal.StringFixed(2))
	assert.Equal(t, "240.00", placement.Order.TotalAmount.StringFixed(2))

	require.NoError(t, store.UpdateProductPricing(ctx, db, product.ID,
		decimal.NewFromInt(150), decimal.NullDecimal{}, product.Version))

	order, err := svc.GetOrder(ctx, member.ID, placement.Order.ID)
	require.NoError(t, err)
	require.Len(t, order.Items, 1)
	assert.Equal(t, "80.00", order.Items[0].UnitPrice.StringFixed(2))
	assert.Equal(t, "Product SNAP-1", order.Items[0].ProductName)
}

func TestGuestCannotReuseExistingAccount(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ctx := context.Background()
	svc := newTestService(t, db)

	product := createProduct(t, db, "GUEST-1", "5", decimal.NullDecimal{}, 10)
	req := guestRequest("13800138004", "+86", ItemRequest{ProductID: product.ID, Quantity: 1})

	first, err := svc.PlaceOrder(ctx, auth.Anonymous(), req)
	require.NoError(t, err)

	_, err = svc.PlaceOrder(ctx, auth.Anonymous(), req)
	require.ErrorIs(t, err, apperr.ErrAlreadyRegistered)
	assert.Equal(t, 9, stockOf(t, db, product.ID))

	require.NoError(t, store.SetUserActive(ctx, db, first.User.ID, false))
	_, err = svc.PlaceOrder(ctx, auth.Anonymous(), req)
	require.ErrorIs(t, err, apperr.ErrAccountDisabled)

	count, err := store.CountOrdersForUser(ctx, db, first.User.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestAuthenticatedOrderClearsCart(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ctx := context.Background()
	svc := newTestService(t, db)

	product := createProduct(t, db, "CART-1", "12.50", decimal.NullDecimal{}, 10)
	member := createUser(t, db, "13800138005")

	_, err := store.AddUserCartItem(ctx, db, member.ID, store.AddCartItemParams{
		ProductID: product.ID, Quantity: 2, Price: product.Price, MaxQuantity: product.StockQuantity,
	})
	require.NoError(t, err)

	req := guestRequest("13800138005", "", ItemRequest{ProductID: product.ID, Quantity: 2})
	req.ClearCart = true
	req.PaymentMethod = models.PaymentMethodOnline

	placement, err := svc.PlaceOrder(ctx, auth.Authenticated(member.ID), req)
	require.NoError(t, err)

	assert.False(t, placement.AutoRegistered)
	assert.Nil(t, placement.User)
	assert.Empty(t, placement.Token)
	assert.Equal(t, member.ID, placement.Order.UserID)
	assert.Equal(t, "25.00", placement.Order.TotalAmount.StringFixed(2))

	items, err := store.ListUserCartItems(ctx, db, member.ID)
	require.NoError(t, err)
	assert.Empty(t, items)

	addresses, err := store.ListAddresses(ctx, db, member.ID)
	require.NoError(t, err)
	assert.Empty(t, addresses, "members manage their own addresses")
}

func TestConcurrentOrdersNeverOversell(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ctx := context.Background()
	svc := newTestService(t, db)

	const stock, buyers = 10, 25
	product := createProduct(t, db, "RACE-1", "1", decimal.NullDecimal{}, stock)
	member := createUser(t, db, "13800138006")

	var placed, rejected atomic.Int32
	var g errgroup.Group
	for i := 0; i < buyers; i++ {
		g.Go(func() error {
			_, err := svc.PlaceOrder(ctx, auth.Authenticated(member.ID), guestRequest("13800138006", "",
				ItemRequest{ProductID: product.ID, Quantity: 1}))
			switch {
			case err == nil:
				placed.Add(1)
			case errors.Is(err, apperr.ErrInsufficientStock):
				rejected.Add(1)
			default:
				return err
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	assert.Equal(t, int32(stock), placed.Load())
	assert.Equal(t, int32(buyers-stock), rejected.Load())
	assert.Zero(t, stockOf(t, db, product.ID))

	count, err := store.CountOrdersForUser(ctx, db, member.ID)
	require.NoError(t, err)
	assert.Equal(t, stock, count)
}

func TestConcurrentOrdersWithOpposingLockOrder(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ctx := context.Background()
	svc := newTestService(t, db)

	a := createProduct(t, db, "LOCK-A", "1", decimal.NullDecimal{}, 100)
	b := createProduct(t, db, "LOCK-B", "1", decimal.NullDecimal{}, 100)
	member := createUser(t, db, "13800138007")

	const orders = 10
	var g errgroup.Group
	for i := 0; i < orders; i++ {
		items := []ItemRequest{{ProductID: a.ID, Quantity: 1}, {ProductID: b.ID, Quantity: 1}}
		if i%2 == 1 {
			items[0], items[1] = items[1], items[0]
		}
		g.Go(func() error {
			_, err := svc.PlaceOrder(ctx, auth.Authenticated(member.ID), guestRequest("13800138007", "", items...))
			return err
		})
	}
	require.NoError(t, g.Wait())

	assert.Equal(t, 100-orders, stockOf(t, db, a.ID))
	assert.Equal(t, 100-orders, stockOf(t, db, b.ID))
}

func TestGetAndListOrders(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ctx := context.Background()
	svc := newTestService(t, db)

	product := createProduct(t, db, "LIST-1", "3", decimal.NullDecimal{}, 10)
	member := createUser(t, db, "13800138008")
	stranger := createUser(t, db, "13800138009")

	var last *Placement
	for i := 0; i < 3; i++ {
		p, err := svc.PlaceOrder(ctx, auth.Authenticated(member.ID), guestRequest("13800138008", "",
			ItemRequest{ProductID: product.ID, Quantity: 1}))
		require.NoError(t, err)
		last = p
	}

	_, err := svc.GetOrder(ctx, stranger.ID, last.Order.ID)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	_, err = svc.GetOrder(ctx, member.ID, last.Order.ID+1000)
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	page, err := svc.ListOrders(ctx, member.ID, "", 2)
	require.NoError(t, err)
	assert.True(t, page.HasMore)
	require.Len(t, page.Items, 2)
	assert.Equal(t, last.Order.ID, page.Items[0].ID)

	next, err := svc.ListOrders(ctx, member.ID, page.NextCursor, 2)
	require.NoError(t, err)
	assert.False(t, next.HasMore)
	assert.Len(t, next.Items, 1)

	_, err = svc.ListOrders(ctx, member.ID, "%%%", 2)
	assert.ErrorIs(t, err, apperr.ErrValidation)
}
