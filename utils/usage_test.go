package utils

import (
	"testing"

	"reachly/models"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func newUsageTracker(db *gorm.DB) *UsageTracker {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return NewUsageTracker(db, nil, logger)
}

func createUserOnPlan(t *testing.T, db *gorm.DB, planName string) *models.User {
	t.Helper()

	user := models.User{Email: planName + "-user@test.local", IsActive: true}
	require.NoError(t, db.Create(&user).Error)

	if planName == "" {
		return &user
	}

	var plan models.Plan
	require.NoError(t, db.Where("name = ?", planName).First(&plan).Error)
	sub := models.Subscription{
		UserID:               user.ID,
		PlanID:               &plan.ID,
		StripeSubscriptionID: "sub_" + planName + "_test",
		Status:               "active",
	}
	require.NoError(t, db.Create(&sub).Error)
	return &user
}

func setUsage(t *testing.T, db *gorm.DB, userID uint, emailsSent int) {
	t.Helper()
	row := models.UsageMetrics{UserID: userID, Period: CurrentPeriod()}
	require.NoError(t, db.Where("user_id = ? AND period = ?", userID, row.Period).FirstOrCreate(&row).Error)
	require.NoError(t, db.Model(&row).Update("emails_sent", emailsSent).Error)
}

func TestCanPerformActionDeniedAtLimit(t *testing.T) {
	db := newTestDB(t)
	tracker := newUsageTracker(db)
	user := createUserOnPlan(t, db, "starter")

	setUsage(t, db, user.ID, 1000)

	check, err := tracker.CanPerformAction(user.ID, ActionSendEmail)
	require.NoError(t, err)
	assert.False(t, check.Allowed)
	assert.Equal(t, "You've reached your send email limit of 1000", check.Reason)
	assert.True(t, check.CanPurchaseAddon)
	assert.Equal(t, "emails", check.AddonType)
}

func TestCanPerformActionAllowedBelowLimit(t *testing.T) {
	db := newTestDB(t)
	tracker := newUsageTracker(db)
	user := createUserOnPlan(t, db, "starter")

	setUsage(t, db, user.ID, 999)

	check, err := tracker.CanPerformAction(user.ID, ActionSendEmail)
	require.NoError(t, err)
	assert.True(t, check.Allowed)
}

func TestCanPerformActionUnlimitedPlan(t *testing.T) {
	db := newTestDB(t)
	tracker := newUsageTracker(db)
	user := createUserOnPlan(t, db, "enterprise")

	setUsage(t, db, user.ID, 1_000_000)

	check, err := tracker.CanPerformAction(user.ID, ActionSendEmail)
	require.NoError(t, err)
	assert.True(t, check.Allowed)
}

func TestCanPerformActionRestrictionShortCircuits(t *testing.T) {
	db := newTestDB(t)
	tracker := newUsageTracker(db)
	user := createUserOnPlan(t, db, "enterprise")

	require.NoError(t, db.Create(&models.UsageRestriction{
		UserID:       user.ID,
		Feature:      "emails",
		IsRestricted: true,
		Reason:       "manual hold",
	}).Error)

	// The restriction wins even though the plan is unlimited.
	check, err := tracker.CanPerformAction(user.ID, ActionSendEmail)
	require.NoError(t, err)
	assert.False(t, check.Allowed)
	assert.Equal(t, "manual hold", check.Reason)
}

func TestCheckLimitsExactlyAtLimitIsWithin(t *testing.T) {
	db := newTestDB(t)
	tracker := newUsageTracker(db)
	user := createUserOnPlan(t, db, "starter")

	setUsage(t, db, user.ID, 1000)

	check, err := tracker.CheckLimits(user.ID)
	require.NoError(t, err)
	assert.True(t, check.WithinLimits)
	assert.Empty(t, check.ExceededLimits)
}

func TestCheckLimitsOverLimit(t *testing.T) {
	db := newTestDB(t)
	tracker := newUsageTracker(db)
	user := createUserOnPlan(t, db, "starter")

	setUsage(t, db, user.ID, 1001)

	check, err := tracker.CheckLimits(user.ID)
	require.NoError(t, err)
	assert.False(t, check.WithinLimits)
	assert.Equal(t, []string{"emails_sent"}, check.ExceededLimits)
}

func TestPlanForFallsBackToFree(t *testing.T) {
	db := newTestDB(t)
	tracker := newUsageTracker(db)
	user := createUserOnPlan(t, db, "")

	plan, err := tracker.PlanFor(user.ID)
	require.NoError(t, err)
	assert.Equal(t, "free", plan.Name)
	assert.Equal(t, 200, plan.EmailsPerMonth)
}

func TestPlanForIgnoresCanceledSubscription(t *testing.T) {
	db := newTestDB(t)
	tracker := newUsageTracker(db)
	user := createUserOnPlan(t, db, "starter")

	require.NoError(t, db.Model(&models.Subscription{}).
		Where("user_id = ?", user.ID).
		Update("status", "canceled").Error)

	plan, err := tracker.PlanFor(user.ID)
	require.NoError(t, err)
	assert.Equal(t, "free", plan.Name)
}

func TestUpdateUsageWarningThreshold(t *testing.T) {
	db := newTestDB(t)
	tracker := newUsageTracker(db)
	user := createUserOnPlan(t, db, "free") // 200 emails/month

	// 160/200 = 80%
	require.NoError(t, tracker.UpdateUsage(user.ID, ActionSendEmail, 160))

	var alert models.UsageAlert
	require.NoError(t, db.Where("user_id = ? AND feature = ? AND type = ?",
		user.ID, "emails", "warning").First(&alert).Error)
	assert.Contains(t, alert.Message, "80%")
}

func TestUpdateUsageLimitReachedThreshold(t *testing.T) {
	db := newTestDB(t)
	tracker := newUsageTracker(db)
	user := createUserOnPlan(t, db, "free")

	// 190/200 = 95%
	require.NoError(t, tracker.UpdateUsage(user.ID, ActionSendEmail, 190))

	var alert models.UsageAlert
	require.NoError(t, db.Where("user_id = ? AND feature = ? AND type = ?",
		user.ID, "emails", "limit_reached").First(&alert).Error)
}

func TestUpdateUsageExceededCreatesRestriction(t *testing.T) {
	db := newTestDB(t)
	tracker := newUsageTracker(db)
	user := createUserOnPlan(t, db, "free")

	require.NoError(t, tracker.UpdateUsage(user.ID, ActionSendEmail, 201))

	var restriction models.UsageRestriction
	require.NoError(t, db.Where("user_id = ? AND feature = ?", user.ID, "emails").
		First(&restriction).Error)
	assert.True(t, restriction.IsRestricted)

	var alert models.UsageAlert
	require.NoError(t, db.Where("user_id = ? AND feature = ? AND type = ?",
		user.ID, "emails", "limit_exceeded").First(&alert).Error)

	// Subsequent sends are blocked by the restriction.
	check, err := tracker.CanPerformAction(user.ID, ActionSendEmail)
	require.NoError(t, err)
	assert.False(t, check.Allowed)
}

func TestUpdateUsageIncrementsCounter(t *testing.T) {
	db := newTestDB(t)
	tracker := newUsageTracker(db)
	user := createUserOnPlan(t, db, "starter")

	require.NoError(t, tracker.UpdateUsage(user.ID, ActionSendEmail, 3))
	require.NoError(t, tracker.UpdateUsage(user.ID, ActionSendEmail, 2))

	usage, err := tracker.GetUsage(user.ID)
	require.NoError(t, err)
	assert.Equal(t, 5, usage.EmailsSent)
}
