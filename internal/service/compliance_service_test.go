package service

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/opencove/billing-api/internal/models"
)

type complianceEnrollmentsStub struct {
	enrollments map[string]*models.Enrollment
}

func newComplianceEnrollmentsStub() *complianceEnrollmentsStub {
	return &complianceEnrollmentsStub{enrollments: make(map[string]*models.Enrollment)}
}

func (s *complianceEnrollmentsStub) GetByID(ctx context.Context, id string) (*models.Enrollment, error) {
	if e, ok := s.enrollments[id]; ok {
		copy := *e
		return &copy, nil
	}
	return nil, sql.ErrNoRows
}

func (s *complianceEnrollmentsStub) Update(ctx context.Context, enrollment *models.Enrollment) error {
	copy := *enrollment
	s.enrollments[enrollment.ID] = &copy
	return nil
}

func (s *complianceEnrollmentsStub) ListEvaluable(ctx context.Context, limit int) ([]models.Enrollment, error) {
	out := make([]models.Enrollment, 0, len(s.enrollments))
	for _, e := range s.enrollments {
		if e.Status == models.EnrollmentWaitlist || e.Status.Terminal() {
			continue
		}
		out = append(out, *e)
	}
	return out, nil
}

type complianceInstallmentsStub struct {
	byEnrollment map[string][]models.Installment
	missed       []string
}

func newComplianceInstallmentsStub() *complianceInstallmentsStub {
	return &complianceInstallmentsStub{byEnrollment: make(map[string][]models.Installment)}
}

func (s *complianceInstallmentsStub) ListByEnrollment(ctx context.Context, enrollmentID string) ([]models.Installment, error) {
	return s.byEnrollment[enrollmentID], nil
}

func (s *complianceInstallmentsStub) MarkMissed(ctx context.Context, installmentID string) error {
	s.missed = append(s.missed, installmentID)
	for enrollmentID, list := range s.byEnrollment {
		for i := range list {
			if list[i].ID == installmentID && list[i].Status == models.InstallmentPending {
				list[i].Status = models.InstallmentMissed
			}
		}
		s.byEnrollment[enrollmentID] = list
	}
	return nil
}

type accessStub struct {
	calls []bool
}

func (a *accessStub) SetAccess(ctx context.Context, memberID, cohortID string, suspended bool) error {
	a.calls = append(a.calls, suspended)
	return nil
}

type dropoutNotifierStub struct {
	pending   []string
	dropped   []string
	suspended []string
}

func (n *dropoutNotifierStub) DropoutPending(enrollment *models.Enrollment) {
	n.pending = append(n.pending, enrollment.ID)
}

func (n *dropoutNotifierStub) EnrollmentDropped(enrollment *models.Enrollment) {
	n.dropped = append(n.dropped, enrollment.ID)
}

func (n *dropoutNotifierStub) AccessSuspended(enrollment *models.Enrollment) {
	n.suspended = append(n.suspended, enrollment.ID)
}

func complianceFixture(t *testing.T) (*complianceEnrollmentsStub, *complianceInstallmentsStub, *accessStub, *ComplianceService, time.Time) {
	t.Helper()
	enrollments := newComplianceEnrollmentsStub()
	installments := newComplianceInstallmentsStub()
	access := &accessStub{}
	svc := NewComplianceService(enrollments, installments, access, testBillingConfig(), nil)
	now := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return now }
	return enrollments, installments, access, svc, now
}

func enrolledFixture(start time.Time) *models.Enrollment {
	return &models.Enrollment{
		ID:            "enr-1",
		MemberID:      "mem-1",
		CohortID:      "coh-1",
		Status:        models.EnrollmentEnrolled,
		PaymentStatus: models.EnrollmentPaymentPending,
		DurationWeeks: 12,
		CohortStart:   start,
		PriceAmount:   120000,
		Currency:      "NGN",
	}
}

func installment(id string, number int, dueAt time.Time, status models.InstallmentStatus) models.Installment {
	return models.Installment{
		ID:           id,
		EnrollmentID: "enr-1",
		Number:       number,
		Amount:       40000,
		Currency:     "NGN",
		DueAt:        dueAt,
		Status:       status,
	}
}

func TestEvaluateMarksMissedAfterGrace(t *testing.T) {
	enrollments, installments, _, svc, now := complianceFixture(t)
	enrollments.enrollments["enr-1"] = enrolledFixture(now.AddDate(0, 0, -10))
	installments.byEnrollment["enr-1"] = []models.Installment{
		// Two days overdue, past the 24 hour grace window.
		installment("inst-1", 1, now.AddDate(0, 0, -2), models.InstallmentPending),
		installment("inst-2", 2, now.AddDate(0, 0, 26), models.InstallmentPending),
	}

	result, err := svc.Evaluate(context.Background(), "enr-1")
	require.NoError(t, err)
	require.Equal(t, []string{"inst-1"}, installments.missed)
	require.Equal(t, 1, result.MissedCount)
	require.True(t, result.AccessSuspended)
	require.Equal(t, models.EnrollmentEnrolled, result.Status)
}

func TestEvaluateGraceWindowHolds(t *testing.T) {
	enrollments, installments, _, svc, now := complianceFixture(t)
	enrollments.enrollments["enr-1"] = enrolledFixture(now.AddDate(0, 0, -1))
	installments.byEnrollment["enr-1"] = []models.Installment{
		// Twelve hours overdue, still inside the grace window.
		installment("inst-1", 1, now.Add(-12*time.Hour), models.InstallmentPending),
	}

	result, err := svc.Evaluate(context.Background(), "enr-1")
	require.NoError(t, err)
	require.Empty(t, installments.missed)
	require.Equal(t, 0, result.MissedCount)
	// Unpaid but within grace still counts as a required installment unpaid.
	require.True(t, result.AccessSuspended)
}

func TestEvaluateMissedCountNeverDecreases(t *testing.T) {
	enrollments, installments, _, svc, now := complianceFixture(t)
	enrollment := enrolledFixture(now.AddDate(0, 0, -30))
	enrollment.MissedCount = 1
	enrollments.enrollments["enr-1"] = enrollment
	installments.byEnrollment["enr-1"] = []models.Installment{
		installment("inst-1", 1, now.AddDate(0, 0, -28), models.InstallmentPaid),
		installment("inst-2", 2, now.AddDate(0, 0, 26), models.InstallmentPending),
	}

	result, err := svc.Evaluate(context.Background(), "enr-1")
	require.NoError(t, err)
	require.Equal(t, 1, result.MissedCount)
}

func TestEvaluateTwoStrikesDropoutPending(t *testing.T) {
	enrollments, installments, _, svc, now := complianceFixture(t)
	notifier := &dropoutNotifierStub{}
	svc.notifier = notifier
	enrollment := enrolledFixture(now.AddDate(0, 0, -70))
	enrollment.DropoutRequiresApproval = true
	enrollments.enrollments["enr-1"] = enrollment
	installments.byEnrollment["enr-1"] = []models.Installment{
		installment("inst-1", 1, now.AddDate(0, 0, -60), models.InstallmentMissed),
		installment("inst-2", 2, now.AddDate(0, 0, -30), models.InstallmentMissed),
		installment("inst-3", 3, now.AddDate(0, 0, 10), models.InstallmentPending),
	}

	result, err := svc.Evaluate(context.Background(), "enr-1")
	require.NoError(t, err)
	require.Equal(t, models.EnrollmentDropoutPending, result.Status)
	require.True(t, result.AccessSuspended)
	require.Equal(t, models.EnrollmentPaymentFailed, result.PaymentStatus)
	require.Equal(t, []string{"enr-1"}, notifier.pending)
	require.Empty(t, notifier.dropped)
	// The suspension is new, so the member hears about it too.
	require.Equal(t, []string{"enr-1"}, notifier.suspended)
}

func TestEvaluateTwoStrikesDropsWithoutApproval(t *testing.T) {
	enrollments, installments, _, svc, now := complianceFixture(t)
	notifier := &dropoutNotifierStub{}
	svc.notifier = notifier
	enrollment := enrolledFixture(now.AddDate(0, 0, -70))
	enrollment.DropoutRequiresApproval = false
	enrollments.enrollments["enr-1"] = enrollment
	installments.byEnrollment["enr-1"] = []models.Installment{
		installment("inst-1", 1, now.AddDate(0, 0, -60), models.InstallmentMissed),
		installment("inst-2", 2, now.AddDate(0, 0, -30), models.InstallmentMissed),
	}

	result, err := svc.Evaluate(context.Background(), "enr-1")
	require.NoError(t, err)
	require.Equal(t, models.EnrollmentDropped, result.Status)
	require.True(t, result.AccessSuspended)
	require.Equal(t, []string{"enr-1"}, notifier.dropped)
	require.Empty(t, notifier.pending)
}

func TestEvaluateStoredStrikesPersistAfterPayment(t *testing.T) {
	enrollments, installments, _, svc, now := complianceFixture(t)
	enrollment := enrolledFixture(now.AddDate(0, 0, -70))
	enrollment.MissedCount = 2
	enrollments.enrollments["enr-1"] = enrollment
	installments.byEnrollment["enr-1"] = []models.Installment{
		installment("inst-1", 1, now.AddDate(0, 0, -60), models.InstallmentPaid),
		installment("inst-2", 2, now.AddDate(0, 0, -30), models.InstallmentPaid),
	}

	// Paying off the balance does not erase the behavioural record.
	result, err := svc.Evaluate(context.Background(), "enr-1")
	require.NoError(t, err)
	require.Equal(t, 2, result.MissedCount)
	require.Equal(t, models.EnrollmentDropped, result.Status)
}

func TestEvaluateSuspensionLiftsOnPayment(t *testing.T) {
	enrollments, installments, access, svc, now := complianceFixture(t)
	enrollment := enrolledFixture(now.AddDate(0, 0, -10))
	enrollment.AccessSuspended = true
	enrollments.enrollments["enr-1"] = enrollment
	installments.byEnrollment["enr-1"] = []models.Installment{
		installment("inst-1", 1, now.AddDate(0, 0, -10), models.InstallmentPaid),
		installment("inst-2", 2, now.AddDate(0, 0, 18), models.InstallmentPending),
	}

	result, err := svc.Evaluate(context.Background(), "enr-1")
	require.NoError(t, err)
	require.False(t, result.AccessSuspended)
	require.Equal(t, models.EnrollmentPaymentPaid, result.PaymentStatus)
	// The lift propagates to the attendance service.
	require.Equal(t, []bool{false}, access.calls)
}

func TestEvaluateWaitlistExempt(t *testing.T) {
	enrollments, installments, access, svc, now := complianceFixture(t)
	enrollment := enrolledFixture(now.AddDate(0, 0, -70))
	enrollment.Status = models.EnrollmentWaitlist
	enrollments.enrollments["enr-1"] = enrollment
	installments.byEnrollment["enr-1"] = []models.Installment{
		installment("inst-1", 1, now.AddDate(0, 0, -60), models.InstallmentMissed),
		installment("inst-2", 2, now.AddDate(0, 0, -30), models.InstallmentMissed),
	}

	result, err := svc.Evaluate(context.Background(), "enr-1")
	require.NoError(t, err)
	require.Equal(t, models.EnrollmentWaitlist, result.Status)
	require.False(t, result.AccessSuspended)
	require.Empty(t, access.calls)
}

func TestEvaluateAutoPromotion(t *testing.T) {
	enrollments, installments, _, svc, now := complianceFixture(t)
	enrollment := enrolledFixture(now.AddDate(0, 0, -3))
	enrollment.Status = models.EnrollmentPendingApproval
	enrollment.RequiresApproval = false
	enrollments.enrollments["enr-1"] = enrollment
	installments.byEnrollment["enr-1"] = []models.Installment{
		installment("inst-1", 1, now.AddDate(0, 0, -3), models.InstallmentPaid),
		installment("inst-2", 2, now.AddDate(0, 0, 25), models.InstallmentPending),
	}

	result, err := svc.Evaluate(context.Background(), "enr-1")
	require.NoError(t, err)
	require.Equal(t, models.EnrollmentEnrolled, result.Status)
	require.Equal(t, models.EnrollmentPaymentPaid, result.PaymentStatus)
}

func TestEvaluateManualApprovalBlocksPromotion(t *testing.T) {
	enrollments, installments, _, svc, now := complianceFixture(t)
	enrollment := enrolledFixture(now.AddDate(0, 0, -3))
	enrollment.Status = models.EnrollmentPendingApproval
	enrollment.RequiresApproval = true
	enrollments.enrollments["enr-1"] = enrollment
	installments.byEnrollment["enr-1"] = []models.Installment{
		installment("inst-1", 1, now.AddDate(0, 0, -3), models.InstallmentPaid),
		installment("inst-2", 2, now.AddDate(0, 0, 25), models.InstallmentPending),
	}

	result, err := svc.Evaluate(context.Background(), "enr-1")
	require.NoError(t, err)
	require.Equal(t, models.EnrollmentPendingApproval, result.Status)
}

func TestEvaluateStampsCompletedAt(t *testing.T) {
	enrollments, installments, _, svc, now := complianceFixture(t)
	enrollments.enrollments["enr-1"] = enrolledFixture(now.AddDate(0, 0, -60))
	installments.byEnrollment["enr-1"] = []models.Installment{
		installment("inst-1", 1, now.AddDate(0, 0, -56), models.InstallmentPaid),
		installment("inst-2", 2, now.AddDate(0, 0, -28), models.InstallmentPaid),
		installment("inst-3", 3, now.AddDate(0, 0, -1), models.InstallmentWaived),
	}

	result, err := svc.Evaluate(context.Background(), "enr-1")
	require.NoError(t, err)
	require.NotNil(t, result.CompletedAt)
	require.Equal(t, now, *result.CompletedAt)
}

func TestRunSweepSkipsEmptyPlans(t *testing.T) {
	enrollments, installments, _, svc, now := complianceFixture(t)
	withPlan := enrolledFixture(now.AddDate(0, 0, -10))
	withPlan.ID = "enr-1"
	noPlan := enrolledFixture(now.AddDate(0, 0, -10))
	noPlan.ID = "enr-2"
	enrollments.enrollments["enr-1"] = withPlan
	enrollments.enrollments["enr-2"] = noPlan
	installments.byEnrollment["enr-1"] = []models.Installment{
		installment("inst-1", 1, now.AddDate(0, 0, -2), models.InstallmentPending),
	}

	require.NoError(t, svc.RunSweep(context.Background()))
	require.Equal(t, []string{"inst-1"}, installments.missed)
	// The enrollment without a plan is untouched.
	require.Equal(t, 0, enrollments.enrollments["enr-2"].TotalInstallments)
}
