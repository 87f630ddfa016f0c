package service

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/opencove/billing-api/internal/models"
	"github.com/opencove/billing-api/pkg/config"
)

func testBillingConfig() config.BillingConfig {
	return config.BillingConfig{
		BlockWeeks:             4,
		GraceHours:             24,
		CapThreshold:           150000,
		MaxInstallmentsOverCap: 3,
		Timezone:               "Africa/Lagos",
		Currency:               "NGN",
		ScheduleCacheTTL:       time.Minute,
	}
}

type enrollmentStoreStub struct {
	enrollments map[string]*models.Enrollment
	updated     []string
}

func newEnrollmentStoreStub() *enrollmentStoreStub {
	return &enrollmentStoreStub{enrollments: make(map[string]*models.Enrollment)}
}

func (s *enrollmentStoreStub) GetByID(ctx context.Context, id string) (*models.Enrollment, error) {
	if e, ok := s.enrollments[id]; ok {
		copy := *e
		return &copy, nil
	}
	return nil, sql.ErrNoRows
}

func (s *enrollmentStoreStub) Update(ctx context.Context, enrollment *models.Enrollment) error {
	copy := *enrollment
	s.enrollments[enrollment.ID] = &copy
	s.updated = append(s.updated, enrollment.ID)
	return nil
}

type installmentStoreStub struct {
	byEnrollment map[string][]models.Installment
}

func newInstallmentStoreStub() *installmentStoreStub {
	return &installmentStoreStub{byEnrollment: make(map[string][]models.Installment)}
}

func (s *installmentStoreStub) ListByEnrollment(ctx context.Context, enrollmentID string) ([]models.Installment, error) {
	return s.byEnrollment[enrollmentID], nil
}

func (s *installmentStoreStub) BulkCreate(ctx context.Context, installments []models.Installment) error {
	for _, inst := range installments {
		s.byEnrollment[inst.EnrollmentID] = append(s.byEnrollment[inst.EnrollmentID], inst)
	}
	return nil
}

type cacheStub struct {
	store   map[string][]byte
	sets    int
	deletes []string
}

func newCacheStub() *cacheStub {
	return &cacheStub{store: make(map[string][]byte)}
}

func (c *cacheStub) Get(ctx context.Context, key string, dest interface{}) error {
	if _, ok := c.store[key]; ok {
		return nil
	}
	return sql.ErrNoRows
}

func (c *cacheStub) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	c.store[key] = []byte("cached")
	c.sets++
	return nil
}

func (c *cacheStub) DeleteByPattern(ctx context.Context, pattern string) error {
	c.deletes = append(c.deletes, pattern)
	delete(c.store, pattern)
	return nil
}

func lagos(t *testing.T) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation("Africa/Lagos")
	require.NoError(t, err)
	return loc
}

func TestInstallmentCount(t *testing.T) {
	cfg := testBillingConfig()

	count, err := InstallmentCount(100000, 8, cfg)
	require.NoError(t, err)
	require.Equal(t, 2, count)

	// Above the cap threshold the plan shortens to the maximum.
	count, err = InstallmentCount(250000, 24, cfg)
	require.NoError(t, err)
	require.Equal(t, 3, count)

	// Under the threshold the program length wins.
	count, err = InstallmentCount(100000, 24, cfg)
	require.NoError(t, err)
	require.Equal(t, 6, count)

	_, err = InstallmentCount(100000, 10, cfg)
	require.Error(t, err)

	_, err = InstallmentCount(100000, 0, cfg)
	require.Error(t, err)
}

func TestSplitAmountsRemainderOnFirst(t *testing.T) {
	amounts := SplitAmounts(250000, 3)
	require.Equal(t, []int64{83334, 83333, 83333}, amounts)

	var sum int64
	for _, a := range amounts {
		sum += a
	}
	require.Equal(t, int64(250000), sum)

	require.Equal(t, []int64{100000}, SplitAmounts(100000, 1))
}

func TestBuildPlanAnchorsMondayOfStartWeek(t *testing.T) {
	loc := lagos(t)
	// Wednesday 7 January 2026; the plan week starts Monday 5 January.
	start := time.Date(2026, 1, 7, 10, 0, 0, 0, loc)
	enrollment := &models.Enrollment{
		ID:            "enr-1",
		Status:        models.EnrollmentEnrolled,
		DurationWeeks: 12,
		CohortStart:   start,
		PriceAmount:   120000,
		Currency:      "NGN",
	}

	plan, err := BuildPlan(enrollment, testBillingConfig())
	require.NoError(t, err)
	require.Len(t, plan, 3)

	anchor := time.Date(2026, 1, 5, 0, 0, 0, 0, loc)
	for i, inst := range plan {
		require.Equal(t, i+1, inst.Number)
		require.Equal(t, anchor.AddDate(0, 0, i*28).UTC(), inst.DueAt)
		require.Equal(t, time.UTC, inst.DueAt.Location())
		require.Equal(t, models.InstallmentPending, inst.Status)
	}
}

func TestBuildPlanDepositOverride(t *testing.T) {
	loc := lagos(t)
	deposit := int64(50000)
	count := 3
	enrollment := &models.Enrollment{
		ID:               "enr-1",
		Status:           models.EnrollmentEnrolled,
		DurationWeeks:    12,
		CohortStart:      time.Date(2026, 1, 5, 0, 0, 0, 0, loc),
		PriceAmount:      300000,
		Currency:         "NGN",
		InstallmentCount: &count,
		DepositAmount:    &deposit,
	}

	plan, err := BuildPlan(enrollment, testBillingConfig())
	require.NoError(t, err)
	require.Len(t, plan, 3)
	require.Equal(t, int64(50000), plan[0].Amount)
	require.Equal(t, int64(125000), plan[1].Amount)
	require.Equal(t, int64(125000), plan[2].Amount)

	// Uneven remainder after the deposit lands on the second installment.
	enrollment.PriceAmount = 300001
	plan, err = BuildPlan(enrollment, testBillingConfig())
	require.NoError(t, err)
	require.Equal(t, int64(50000), plan[0].Amount)
	require.Equal(t, int64(125001), plan[1].Amount)
	require.Equal(t, int64(125000), plan[2].Amount)
}

func TestBuildPlanIgnoresSingleInstallmentOverride(t *testing.T) {
	loc := lagos(t)
	override := 1
	enrollment := &models.Enrollment{
		ID:               "enr-1",
		Status:           models.EnrollmentEnrolled,
		DurationWeeks:    8,
		CohortStart:      time.Date(2026, 1, 5, 0, 0, 0, 0, loc),
		PriceAmount:      100000,
		Currency:         "NGN",
		InstallmentCount: &override,
	}

	plan, err := BuildPlan(enrollment, testBillingConfig())
	require.NoError(t, err)
	require.Len(t, plan, 2)
}

func TestCurrentBlock(t *testing.T) {
	cfg := testBillingConfig()
	loc := lagos(t)
	start := time.Date(2026, 1, 5, 0, 0, 0, 0, loc)

	require.Equal(t, 1, CurrentBlock(start.AddDate(0, 0, -7), start, 12, cfg))
	require.Equal(t, 1, CurrentBlock(start.AddDate(0, 0, 3), start, 12, cfg))
	require.Equal(t, 2, CurrentBlock(start.AddDate(0, 0, 5*7), start, 12, cfg))
	require.Equal(t, 3, CurrentBlock(start.AddDate(0, 0, 9*7), start, 12, cfg))
	// Past the program end it clamps to the last block.
	require.Equal(t, 3, CurrentBlock(start.AddDate(0, 0, 52*7), start, 12, cfg))
}

func TestEnsurePlanBuildsOnce(t *testing.T) {
	enrollments := newEnrollmentStoreStub()
	installments := newInstallmentStoreStub()
	loc := lagos(t)
	enrollments.enrollments["enr-1"] = &models.Enrollment{
		ID:            "enr-1",
		Status:        models.EnrollmentEnrolled,
		DurationWeeks: 8,
		CohortStart:   time.Date(2026, 1, 5, 0, 0, 0, 0, loc),
		PriceAmount:   100000,
		Currency:      "NGN",
	}
	svc := NewScheduleService(enrollments, installments, nil, testBillingConfig(), nil)

	enrollment, plan, err := svc.EnsurePlan(context.Background(), "enr-1")
	require.NoError(t, err)
	require.Len(t, plan, 2)
	require.Equal(t, 2, enrollment.TotalInstallments)
	require.Len(t, installments.byEnrollment["enr-1"], 2)

	// Second call reuses the stored plan, nothing new is created.
	_, plan, err = svc.EnsurePlan(context.Background(), "enr-1")
	require.NoError(t, err)
	require.Len(t, plan, 2)
	require.Len(t, installments.byEnrollment["enr-1"], 2)
}

func TestEnsurePlanSkipsWaitlist(t *testing.T) {
	enrollments := newEnrollmentStoreStub()
	installments := newInstallmentStoreStub()
	loc := lagos(t)
	enrollments.enrollments["enr-1"] = &models.Enrollment{
		ID:            "enr-1",
		Status:        models.EnrollmentWaitlist,
		DurationWeeks: 8,
		CohortStart:   time.Date(2026, 1, 5, 0, 0, 0, 0, loc),
		PriceAmount:   100000,
		Currency:      "NGN",
	}
	svc := NewScheduleService(enrollments, installments, nil, testBillingConfig(), nil)

	_, plan, err := svc.EnsurePlan(context.Background(), "enr-1")
	require.NoError(t, err)
	require.Empty(t, plan)
	require.Empty(t, installments.byEnrollment["enr-1"])
}

func TestGetScheduleCachesAndInvalidates(t *testing.T) {
	enrollments := newEnrollmentStoreStub()
	installments := newInstallmentStoreStub()
	cache := newCacheStub()
	loc := lagos(t)
	enrollments.enrollments["enr-1"] = &models.Enrollment{
		ID:            "enr-1",
		Status:        models.EnrollmentEnrolled,
		DurationWeeks: 8,
		CohortStart:   time.Date(2026, 1, 5, 0, 0, 0, 0, loc),
		PriceAmount:   100000,
		Currency:      "NGN",
	}
	svc := NewScheduleService(enrollments, installments, cache, testBillingConfig(), nil)

	resp, err := svc.GetSchedule(context.Background(), "enr-1")
	require.NoError(t, err)
	require.Equal(t, "enr-1", resp.EnrollmentID)
	require.Len(t, resp.Installments, 2)
	require.Equal(t, 1, cache.sets)

	svc.InvalidateSchedule(context.Background(), "enr-1")
	require.Equal(t, []string{"schedule:enr-1"}, cache.deletes)
}

func TestEnsurePlanNotFound(t *testing.T) {
	svc := NewScheduleService(newEnrollmentStoreStub(), newInstallmentStoreStub(), nil, testBillingConfig(), nil)
	_, _, err := svc.EnsurePlan(context.Background(), "missing")
	require.Error(t, err)
}
