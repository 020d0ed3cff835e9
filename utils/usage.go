package utils

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"reachly/models"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// UsageAction is the closed set of tracked actions. Each maps to exactly one
// usage counter and one restrictable feature.
type UsageAction string

const (
	ActionSendEmail      UsageAction = "send_email"
	ActionAddContact     UsageAction = "add_contact"
	ActionCreateCampaign UsageAction = "create_campaign"
	ActionEnrichContact  UsageAction = "enrich_contact"
)

// ActionCheck is the answer to "may this user perform this action now".
type ActionCheck struct {
	Allowed          bool   `json:"allowed"`
	Reason           string `json:"reason,omitempty"`
	CanPurchaseAddon bool   `json:"canPurchaseAddon,omitempty"`
	AddonType        string `json:"addonType,omitempty"`
}

// LimitCheck reports which metrics exceed their plan limit.
type LimitCheck struct {
	WithinLimits   bool     `json:"withinLimits"`
	ExceededLimits []string `json:"exceededLimits"`
}

const usageCacheTTL = 60 * time.Second

// UsageTracker is the per-user, per-period usage ledger. Counters are
// additive writes against the current period's row; a short-TTL Redis entry
// shadows the row for dashboard reads.
type UsageTracker struct {
	DB     *gorm.DB
	Redis  *redis.Client
	Logger *logrus.Logger
}

func NewUsageTracker(db *gorm.DB, rdb *redis.Client, logger *logrus.Logger) *UsageTracker {
	return &UsageTracker{DB: db, Redis: rdb, Logger: logger}
}

// CurrentPeriod returns the ledger period key for now (YYYY-MM).
func CurrentPeriod() string {
	return time.Now().UTC().Format("2006-01")
}

type actionMapping struct {
	metric    string // usage counter column
	feature   string // restriction feature key
	addonType string
	label     string // human-readable action name for denial messages
}

// mapAction is the single source of truth for action wiring. The switch is
// exhaustive over the UsageAction constants.
func mapAction(action UsageAction) (actionMapping, error) {
	switch action {
	case ActionSendEmail:
		return actionMapping{metric: "emails_sent", feature: "emails", addonType: "emails", label: "send email"}, nil
	case ActionAddContact:
		return actionMapping{metric: "contacts_count", feature: "contacts", addonType: "contacts", label: "add contact"}, nil
	case ActionCreateCampaign:
		return actionMapping{metric: "campaigns_count", feature: "campaigns", addonType: "campaigns", label: "create campaign"}, nil
	case ActionEnrichContact:
		return actionMapping{metric: "enrichments_count", feature: "enrichments", addonType: "enrichments", label: "enrich contact"}, nil
	}
	return actionMapping{}, fmt.Errorf("unknown usage action %q", action)
}

// UpdateUsage adds delta to the action's counter on the current period row
// and refreshes the cache entry. Threshold side effects (alerts,
// restrictions) fire from the post-update value.
func (t *UsageTracker) UpdateUsage(userID uint, action UsageAction, delta int) error {
	mapping, err := mapAction(action)
	if err != nil {
		return err
	}

	period := CurrentPeriod()
	row := models.UsageMetrics{UserID: userID, Period: period}
	if err := t.DB.Where("user_id = ? AND period = ?", userID, period).FirstOrCreate(&row).Error; err != nil {
		return fmt.Errorf("failed to load usage row: %w", err)
	}

	if err := t.DB.Model(&models.UsageMetrics{}).
		Where("id = ?", row.ID).
		Update(mapping.metric, gorm.Expr(mapping.metric+" + ?", delta)).Error; err != nil {
		return fmt.Errorf("failed to update usage: %w", err)
	}

	updated, err := t.loadUsage(userID, period)
	if err != nil {
		return err
	}
	t.cacheUsage(userID, period, updated)

	if plan, err := t.PlanFor(userID); err == nil {
		t.enforceThresholds(userID, mapping, metricValue(updated, mapping.metric), planLimit(plan, mapping.metric))
	}
	return nil
}

// GetUsage returns the current period's counters, preferring the cache.
func (t *UsageTracker) GetUsage(userID uint) (*models.UsageMetrics, error) {
	period := CurrentPeriod()
	if t.Redis != nil {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		raw, err := t.Redis.Get(ctx, usageCacheKey(userID, period)).Result()
		if err == nil {
			var cached models.UsageMetrics
			if json.Unmarshal([]byte(raw), &cached) == nil {
				return &cached, nil
			}
		}
	}

	usage, err := t.loadUsage(userID, period)
	if err != nil {
		return nil, err
	}
	t.cacheUsage(userID, period, usage)
	return usage, nil
}

// PlanFor resolves the user's plan through their usable subscription,
// falling back to the free plan when they have none.
func (t *UsageTracker) PlanFor(userID uint) (*models.Plan, error) {
	var sub models.Subscription
	err := t.DB.Where("user_id = ?", userID).
		Order("created_at DESC").
		Preload("Plan").
		First(&sub).Error
	if err == nil && sub.IsUsable() && sub.Plan != nil {
		return sub.Plan, nil
	}
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("failed to load subscription: %w", err)
	}

	var free models.Plan
	if err := t.DB.Where("name = ?", "free").First(&free).Error; err != nil {
		return nil, errors.New("plan not found")
	}
	return &free, nil
}

// CheckLimits compares every tracked counter against the plan. A limit of -1
// is unlimited and never appears in ExceededLimits.
func (t *UsageTracker) CheckLimits(userID uint) (*LimitCheck, error) {
	usage, err := t.GetUsage(userID)
	if err != nil {
		return nil, err
	}
	plan, err := t.PlanFor(userID)
	if err != nil {
		return nil, err
	}

	check := &LimitCheck{WithinLimits: true, ExceededLimits: []string{}}
	for _, action := range []UsageAction{ActionSendEmail, ActionAddContact, ActionCreateCampaign, ActionEnrichContact} {
		mapping, _ := mapAction(action)
		limit := planLimit(plan, mapping.metric)
		if limit == -1 {
			continue
		}
		if metricValue(usage, mapping.metric) > limit {
			check.WithinLimits = false
			check.ExceededLimits = append(check.ExceededLimits, mapping.metric)
		}
	}
	return check, nil
}

// CanPerformAction gates one action: an active restriction denies outright,
// otherwise the counter is compared to its (non -1) limit.
func (t *UsageTracker) CanPerformAction(userID uint, action UsageAction) (*ActionCheck, error) {
	mapping, err := mapAction(action)
	if err != nil {
		return nil, err
	}

	var restriction models.UsageRestriction
	err = t.DB.Where("user_id = ? AND feature = ? AND is_restricted = ?", userID, mapping.feature, true).
		First(&restriction).Error
	if err == nil {
		return &ActionCheck{
			Allowed:          false,
			Reason:           restriction.Reason,
			CanPurchaseAddon: true,
			AddonType:        mapping.addonType,
		}, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("failed to check restrictions: %w", err)
	}

	plan, err := t.PlanFor(userID)
	if err != nil {
		return nil, err
	}
	limit := planLimit(plan, mapping.metric)
	if limit == -1 {
		return &ActionCheck{Allowed: true}, nil
	}

	usage, err := t.GetUsage(userID)
	if err != nil {
		return nil, err
	}
	if metricValue(usage, mapping.metric) >= limit {
		return &ActionCheck{
			Allowed:          false,
			Reason:           fmt.Sprintf("You've reached your %s limit of %d", mapping.label, limit),
			CanPurchaseAddon: true,
			AddonType:        mapping.addonType,
		}, nil
	}
	return &ActionCheck{Allowed: true}, nil
}

// enforceThresholds fires the documented side effects: warning at >=80%,
// limit_reached at >=95%, restriction + limit_exceeded past 100%.
func (t *UsageTracker) enforceThresholds(userID uint, mapping actionMapping, usage, limit int) {
	if limit <= 0 {
		return
	}
	pct := float64(usage) / float64(limit) * 100

	switch {
	case pct > 100:
		t.upsertRestriction(userID, mapping.feature,
			fmt.Sprintf("You've reached your %s limit of %d", mapping.label, limit))
		t.upsertAlert(userID, mapping.feature, "limit_exceeded",
			fmt.Sprintf("You have exceeded your %s limit (%d/%d)", mapping.feature, usage, limit))
	case pct >= 95:
		t.upsertAlert(userID, mapping.feature, "limit_reached",
			fmt.Sprintf("You have used %d of %d %s", usage, limit, mapping.feature))
	case pct >= 80:
		t.upsertAlert(userID, mapping.feature, "warning",
			fmt.Sprintf("You have used over 80%% of your %s limit (%d/%d)", mapping.feature, usage, limit))
	}
}

func (t *UsageTracker) upsertRestriction(userID uint, feature, reason string) {
	restriction := models.UsageRestriction{UserID: userID, Feature: feature}
	if err := t.DB.Where("user_id = ? AND feature = ?", userID, feature).
		FirstOrCreate(&restriction).Error; err != nil {
		t.Logger.WithField("user_id", userID).Errorf("failed to upsert restriction: %v", err)
		return
	}
	t.DB.Model(&restriction).Updates(map[string]interface{}{
		"is_restricted": true,
		"reason":        reason,
	})
}

func (t *UsageTracker) upsertAlert(userID uint, feature, alertType, message string) {
	alert := models.UsageAlert{UserID: userID, Feature: feature, Type: alertType}
	if err := t.DB.Where("user_id = ? AND feature = ? AND type = ?", userID, feature, alertType).
		FirstOrCreate(&alert).Error; err != nil {
		t.Logger.WithField("user_id", userID).Errorf("failed to upsert alert: %v", err)
		return
	}
	t.DB.Model(&alert).Update("message", message)
}

func (t *UsageTracker) loadUsage(userID uint, period string) (*models.UsageMetrics, error) {
	var usage models.UsageMetrics
	err := t.DB.Where("user_id = ? AND period = ?", userID, period).First(&usage).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return &models.UsageMetrics{UserID: userID, Period: period}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load usage: %w", err)
	}
	return &usage, nil
}

func (t *UsageTracker) cacheUsage(userID uint, period string, usage *models.UsageMetrics) {
	if t.Redis == nil {
		return
	}
	raw, err := json.Marshal(usage)
	if err != nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := t.Redis.Set(ctx, usageCacheKey(userID, period), raw, usageCacheTTL).Err(); err != nil {
		t.Logger.Debugf("usage cache refresh failed for user %d: %v", userID, err)
	}
}

func usageCacheKey(userID uint, period string) string {
	return fmt.Sprintf("usage:%d:%s", userID, period)
}

func metricValue(usage *models.UsageMetrics, metric string) int {
	switch metric {
	case "emails_sent":
		return usage.EmailsSent
	case "contacts_count":
		return usage.ContactsCount
	case "campaigns_count":
		return usage.CampaignsCount
	case "enrichments_count":
		return usage.EnrichmentsCount
	}
	return 0
}

func planLimit(plan *models.Plan, metric string) int {
	switch metric {
	case "emails_sent":
		return plan.EmailsPerMonth
	case "contacts_count":
		return plan.Contacts
	case "campaigns_count":
		return plan.CampaignsPerMonth
	case "enrichments_count":
		return plan.EnrichmentsPerMonth
	}
	return 0
}
