package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/nileshop/storefront-api/internal/domain/auth"
	"github.com/nileshop/storefront-api/internal/domain/catalog"
	"github.com/nileshop/storefront-api/internal/domain/coupon"
	"github.com/nileshop/storefront-api/internal/domain/order"
	"github.com/nileshop/storefront-api/internal/domain/payment"
)

const (
	testStorefrontKey = "sk-storefront-key"
	testAdminKey      = "sk-admin-key"
	testPepper        = "test-pepper"
	testWebhookSecret = "cb-secret"
)

type memCatalog struct {
	mu         sync.Mutex
	products   map[string]catalog.Product
	categories map[string]catalog.Category
}

func newMemCatalog() *memCatalog {
	return &memCatalog{
		products:   make(map[string]catalog.Product),
		categories: make(map[string]catalog.Category),
	}
}

func (m *memCatalog) List(context.Context) ([]catalog.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]catalog.Product, 0, len(m.products))
	for _, p := range m.products {
		out = append(out, p)
	}
	return out, nil
}

func (m *memCatalog) GetByID(_ context.Context, id string) (*catalog.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.products[id]
	if !ok {
		return nil, catalog.ErrProductNotFound
	}
	return &p, nil
}

func (m *memCatalog) GetByIDs(_ context.Context, ids []string) ([]catalog.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []catalog.Product
	for _, id := range ids {
		if p, ok := m.products[id]; ok {
			out = append(out, p)
		}
	}
	return out, nil
}

func (m *memCatalog) Upsert(_ context.Context, p *catalog.Product) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.products[p.ID] = *p
	return nil
}

func (m *memCatalog) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.products[id]; !ok {
		return catalog.ErrProductNotFound
	}
	delete(m.products, id)
	return nil
}

func (m *memCatalog) ListCategories(context.Context) ([]catalog.Category, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]catalog.Category, 0, len(m.categories))
	for _, c := range m.categories {
		out = append(out, c)
	}
	return out, nil
}

func (m *memCatalog) UpsertCategory(_ context.Context, c *catalog.Category) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.categories[c.ID] = *c
	return nil
}

func (m *memCatalog) DeleteCategory(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.categories[id]; !ok {
		return catalog.ErrCategoryNotFound
	}
	delete(m.categories, id)
	return nil
}

type memCoupons struct {
	mu          sync.Mutex
	coupons     map[string]coupon.Coupon // keyed by uppercase code
	redemptions map[string]int           // code|user -> count
}

func newMemCoupons() *memCoupons {
	return &memCoupons{
		coupons:     make(map[string]coupon.Coupon),
		redemptions: make(map[string]int),
	}
}

func (m *memCoupons) FindActiveByCode(_ context.Context, code string) (*coupon.Coupon, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.coupons[strings.ToUpper(code)]
	if !ok || !c.Active(time.Now()) {
		return nil, coupon.ErrInvalidCoupon
	}
	return &c, nil
}

func (m *memCoupons) CountRedemptionsByUser(_ context.Context, code, userID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.redemptions[strings.ToUpper(code)+"|"+userID], nil
}

func (m *memCoupons) Redeem(_ context.Context, code, userID, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := strings.ToUpper(code)
	c, ok := m.coupons[key]
	if !ok {
		return coupon.ErrInvalidCoupon
	}
	c.Uses++
	m.coupons[key] = c
	m.redemptions[key+"|"+userID]++
	return nil
}

func (m *memCoupons) Create(_ context.Context, c *coupon.Coupon) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.coupons[strings.ToUpper(c.Code)] = *c
	return nil
}

func (m *memCoupons) Update(_ context.Context, c *coupon.Coupon) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for key, existing := range m.coupons {
		if existing.ID == c.ID {
			delete(m.coupons, key)
			m.coupons[strings.ToUpper(c.Code)] = *c
			return nil
		}
	}
	return coupon.ErrInvalidCoupon
}

func (m *memCoupons) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for key, existing := range m.coupons {
		if existing.ID == id {
			delete(m.coupons, key)
			return nil
		}
	}
	return coupon.ErrInvalidCoupon
}

func (m *memCoupons) List(context.Context) ([]coupon.Coupon, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]coupon.Coupon, 0, len(m.coupons))
	for _, c := range m.coupons {
		out = append(out, c)
	}
	return out, nil
}

type memOrders struct {
	mu      sync.Mutex
	orders  map[string]order.Order
	history []order.StatusChange
}

func newMemOrders() *memOrders {
	return &memOrders{orders: make(map[string]order.Order)}
}

func (m *memOrders) Create(_ context.Context, o *order.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if o.CreatedAt.IsZero() {
		o.CreatedAt = time.Now()
	}
	m.orders[o.ID] = *o
	return nil
}

func (m *memOrders) GetByID(_ context.Context, id string) (*order.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return nil, order.ErrNotFound
	}
	return &o, nil
}

func (m *memOrders) UpdateStatus(_ context.Context, change order.StatusChange) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[change.OrderID]
	if !ok {
		return order.ErrNotFound
	}
	if o.Status != change.From {
		return &order.InvalidTransitionError{From: o.Status, To: change.To}
	}
	o.Status = change.To
	if change.PaymentRef != "" {
		o.PaymentRef = change.PaymentRef
	}
	m.orders[change.OrderID] = o
	m.history = append(m.history, change)
	return nil
}

func (m *memOrders) ListCreatedBetween(_ context.Context, from, to time.Time) ([]order.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []order.Order
	for _, o := range m.orders {
		if !o.CreatedAt.Before(from) && o.CreatedAt.Before(to) {
			out = append(out, o)
		}
	}
	return out, nil
}

func (m *memOrders) History(_ context.Context, orderID string) ([]order.StatusChange, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []order.StatusChange
	for _, c := range m.history {
		if c.OrderID == orderID {
			out = append(out, c)
		}
	}
	return out, nil
}

var errKeyNotFound = errors.New("api key not found")

type memKeys struct {
	keys map[string]auth.APIKeyInfo // keyed by hash
}

func (m *memKeys) FindByHash(_ context.Context, hash string) (*auth.APIKeyInfo, error) {
	k, ok := m.keys[hash]
	if !ok {
		return nil, errKeyNotFound
	}
	return &k, nil
}

// testEnv wires a Handler against in-memory stores.
type testEnv struct {
	handler  *Handler
	router   http.Handler
	catalog  *memCatalog
	coupons  *memCoupons
	orders   *memOrders
	security *Security
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	cat := newMemCatalog()
	coupons := newMemCoupons()
	orders := newMemOrders()

	issuer := auth.NewTokenIssuer([]byte("test-jwt-secret"), time.Hour)
	keys := &memKeys{keys: make(map[string]auth.APIKeyInfo)}
	security := NewSecurity(keys, issuer, []byte(testPepper))

	keys.keys[security.HashKey(testStorefrontKey)] = auth.APIKeyInfo{
		ID:      "key-storefront",
		KeyHash: security.HashKey(testStorefrontKey),
		Name:    "storefront",
		Scopes:  []string{auth.ScopeStorefront},
	}
	keys.keys[security.HashKey(testAdminKey)] = auth.APIKeyInfo{
		ID:      "key-admin",
		KeyHash: security.HashKey(testAdminKey),
		Name:    "admin",
		Scopes:  []string{auth.ScopeStorefront, auth.ScopeAdmin},
	}

	svc := order.NewService(cat, coupon.NewRepoResolver(coupons), orders, decimal.NewFromInt(300))
	verifier := payment.NewVerifier(
		[]byte(testWebhookSecret),
		[]string{"id", "success", "order.merchant_order_id"},
	)

	h := NewHandler(Config{}, cat, coupons, svc, verifier, issuer, security)
	return &testEnv{
		handler:  h,
		router:   h.Routes(),
		catalog:  cat,
		coupons:  coupons,
		orders:   orders,
		security: security,
	}
}

func (e *testEnv) seedProduct(t *testing.T, id string, price string) {
	t.Helper()
	p := decimal.RequireFromString(price)
	err := e.catalog.Upsert(context.Background(), &catalog.Product{
		ID: id, Name: "Product " + id, Price: p, CategoryID: "cat-1",
	})
	if err != nil {
		t.Fatalf("seed product: %v", err)
	}
}

func (e *testEnv) seedCoupon(t *testing.T, c coupon.Coupon) {
	t.Helper()
	if err := e.coupons.Create(context.Background(), &c); err != nil {
		t.Fatalf("seed coupon: %v", err)
	}
}

// do performs a request against the router and returns the recorder.
func (e *testEnv) do(t *testing.T, method, path, apiKey string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	if apiKey != "" {
		req.Header.Set("X-Api-Key", apiKey)
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

// doBearer performs a request authenticated with a bearer token.
func (e *testEnv) doBearer(t *testing.T, method, path, token string) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(method, path, nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return v
}
