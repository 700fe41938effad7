package coupon

import (
	"context"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockRepo struct {
	coupon    *Coupon
	findErr   error
	userCount int
	countErr  error
	redeemed  []string
}

func (m *mockRepo) FindActiveByCode(_ context.Context, _ string) (*Coupon, error) {
	if m.findErr != nil {
		return nil, m.findErr
	}
	return m.coupon, nil
}

func (m *mockRepo) CountRedemptionsByUser(_ context.Context, _, _ string) (int, error) {
	return m.userCount, m.countErr
}

func (m *mockRepo) Redeem(_ context.Context, code, _, _ string) error {
	m.redeemed = append(m.redeemed, code)
	return nil
}

func (m *mockRepo) Create(_ context.Context, _ *Coupon) error { return nil }
func (m *mockRepo) Update(_ context.Context, _ *Coupon) error { return nil }
func (m *mockRepo) Delete(_ context.Context, _ string) error  { return nil }
func (m *mockRepo) List(_ context.Context) ([]Coupon, error)  { return nil, nil }

func fixedNow() time.Time {
	return time.Date(2026, time.August, 1, 12, 0, 0, 0, time.UTC)
}

func testCoupon(mutate func(*Coupon)) *Coupon {
	c := &Coupon{
		ID:      "c1",
		Code:    "SAVE10",
		Type:    TypePercentage,
		Value:   decimal.NewFromInt(10),
		Enabled: true,
	}
	if mutate != nil {
		mutate(c)
	}
	return c
}

func newResolver(repo Repository) *RepoResolver {
	r := NewRepoResolver(repo)
	r.now = fixedNow
	return r
}

func TestResolve(t *testing.T) {
	repo := &mockRepo{coupon: testCoupon(nil)}
	r := newResolver(repo)

	c, err := r.Resolve(context.Background(), "SAVE10", "u1")
	require.NoError(t, err)
	assert.Equal(t, "SAVE10", c.Code)
}

func TestResolve_NotFound(t *testing.T) {
	r := newResolver(&mockRepo{findErr: ErrInvalidCoupon})

	_, err := r.Resolve(context.Background(), "NOPE", "u1")
	require.ErrorIs(t, err, ErrInvalidCoupon)
}

func TestResolve_StoreError(t *testing.T) {
	r := newResolver(&mockRepo{findErr: errors.New("connection reset")})

	_, err := r.Resolve(context.Background(), "SAVE10", "u1")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrInvalidCoupon)
}

func TestResolve_Disabled(t *testing.T) {
	repo := &mockRepo{coupon: testCoupon(func(c *Coupon) { c.Enabled = false })}
	r := newResolver(repo)

	_, err := r.Resolve(context.Background(), "SAVE10", "u1")
	require.ErrorIs(t, err, ErrInvalidCoupon)
}

func TestResolve_Expired(t *testing.T) {
	past := fixedNow().Add(-time.Hour)
	repo := &mockRepo{coupon: testCoupon(func(c *Coupon) { c.EndDate = &past })}
	r := newResolver(repo)

	_, err := r.Resolve(context.Background(), "SAVE10", "u1")
	require.ErrorIs(t, err, ErrExpired)
}

func TestResolve_EndDateInFuture(t *testing.T) {
	future := fixedNow().Add(time.Hour)
	repo := &mockRepo{coupon: testCoupon(func(c *Coupon) { c.EndDate = &future })}
	r := newResolver(repo)

	_, err := r.Resolve(context.Background(), "SAVE10", "u1")
	require.NoError(t, err)
}

func TestResolve_TotalUsageLimit(t *testing.T) {
	repo := &mockRepo{coupon: testCoupon(func(c *Coupon) {
		c.MaxUses = 100
		c.Uses = 100
	})}
	r := newResolver(repo)

	_, err := r.Resolve(context.Background(), "SAVE10", "u1")
	require.ErrorIs(t, err, ErrUsageLimitReached)
}

func TestResolve_PerUserLimit(t *testing.T) {
	repo := &mockRepo{
		coupon:    testCoupon(func(c *Coupon) { c.UserLimit = 2 }),
		userCount: 2,
	}
	r := newResolver(repo)

	_, err := r.Resolve(context.Background(), "SAVE10", "u1")
	require.ErrorIs(t, err, ErrUsageLimitReached)
}

func TestResolve_PerUserLimitSkippedForAnonymous(t *testing.T) {
	repo := &mockRepo{
		coupon:    testCoupon(func(c *Coupon) { c.UserLimit = 1 }),
		userCount: 5,
	}
	r := newResolver(repo)

	// No user identity: the per-user limit cannot be evaluated.
	_, err := r.Resolve(context.Background(), "SAVE10", "")
	require.NoError(t, err)
}

func TestCouponActive(t *testing.T) {
	now := fixedNow()
	past := now.Add(-time.Minute)
	future := now.Add(time.Minute)

	tests := []struct {
		name string
		c    Coupon
		want bool
	}{
		{name: "enabled no end date", c: Coupon{Enabled: true}, want: true},
		{name: "disabled", c: Coupon{Enabled: false}, want: false},
		{name: "enabled future end date", c: Coupon{Enabled: true, EndDate: &future}, want: true},
		{name: "enabled past end date", c: Coupon{Enabled: true, EndDate: &past}, want: false},
		{name: "end date exactly now", c: Coupon{Enabled: true, EndDate: &now}, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.c.Active(now))
		})
	}
}
