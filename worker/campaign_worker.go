package worker

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync/atomic"
	"time"

	"reachly/models"
	"reachly/utils"

	"github.com/getsentry/sentry-go"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// batchInterval spaces campaign batches; batchWindowTolerance is the ±window
// within which a due batch counts as on time.
const (
	batchInterval        = 24 * time.Hour
	batchWindowTolerance = 5 * time.Minute
	defaultDailyLimit    = 5
)

// Dispatcher sends one campaign email. Satisfied by utils.EmailDispatcher.
type Dispatcher interface {
	Send(req utils.DispatchRequest) utils.DispatchResult
}

// UsageRecorder records tracked actions. Satisfied by utils.UsageTracker.
type UsageRecorder interface {
	UpdateUsage(userID uint, action utils.UsageAction, delta int) error
}

// CampaignResult is the per-campaign entry of a poll tick's summary.
type CampaignResult struct {
	CampaignID uint   `json:"campaign_id"`
	Status     string `json:"status"` // waiting, early, sent, completed, paused
	Sent       int    `json:"sent"`
	Failed     int    `json:"failed"`
	Error      string `json:"error,omitempty"`
}

// ProcessSummary is returned to the cron trigger.
type ProcessSummary struct {
	Processed  int              `json:"processed"`
	Successful int              `json:"successful"`
	Errors     int              `json:"errors"`
	Results    []CampaignResult `json:"results"`
}

// CampaignProcessor polls for campaigns in a sendable state and emits one
// bounded batch per campaign per 24-hour window. One instance is constructed
// in main and owns the poll loop; the isProcessing guard only drops
// overlapping ticks within this process.
type CampaignProcessor struct {
	db         *gorm.DB
	logger     *logrus.Logger
	dispatcher Dispatcher
	usage      UsageRecorder

	interval time.Duration
	delayMin time.Duration
	delayMax time.Duration

	isProcessing atomic.Bool

	now func() time.Time
}

func NewCampaignProcessor(db *gorm.DB, dispatcher Dispatcher, usage UsageRecorder, logger *logrus.Logger, interval, delayMin, delayMax time.Duration) *CampaignProcessor {
	return &CampaignProcessor{
		db:         db,
		logger:     logger,
		dispatcher: dispatcher,
		usage:      usage,
		interval:   interval,
		delayMin:   delayMin,
		delayMax:   delayMax,
		now:        time.Now,
	}
}

func (cp *CampaignProcessor) Start(ctx context.Context) {
	// Initial delay to let the server start up
	time.Sleep(10 * time.Second)

	cp.logger.Info("campaign processor started")

	ticker := time.NewTicker(cp.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			cp.logger.Info("campaign processor shutting down")
			return
		case <-ticker.C:
			cp.ProcessReadyCampaigns()
		}
	}
}

// ProcessReadyCampaigns runs one poll tick. Overlapping invocations within
// this process are dropped, not queued; there is no cross-process guarantee.
func (cp *CampaignProcessor) ProcessReadyCampaigns() ProcessSummary {
	var summary ProcessSummary

	if !cp.isProcessing.CompareAndSwap(false, true) {
		cp.logger.Debug("previous tick still running, skipping")
		return summary
	}
	defer cp.isProcessing.Store(false)

	var campaigns []models.Campaign
	if err := cp.db.Where("status IN ?", []string{"sending", "scheduled", "running"}).
		Order("created_at ASC").
		Find(&campaigns).Error; err != nil {
		cp.logger.Errorf("failed to fetch campaigns: %v", err)
		return summary
	}

	for i := range campaigns {
		campaign := &campaigns[i]
		summary.Processed++

		result, err := cp.processCampaign(campaign)
		if err != nil {
			cp.logger.WithFields(logrus.Fields{
				"campaign_id": campaign.ID,
				"error":       err,
			}).Error("campaign processing failed, pausing")
			sentry.CaptureException(err)
			cp.pauseCampaign(campaign, err)
			result.Status = "paused"
			result.Error = err.Error()
			summary.Errors++
		} else {
			summary.Successful++
		}
		summary.Results = append(summary.Results, result)
	}
	return summary
}

func (cp *CampaignProcessor) processCampaign(campaign *models.Campaign) (CampaignResult, error) {
	result := CampaignResult{CampaignID: campaign.ID}
	now := cp.now()

	if campaign.Status == "scheduled" {
		if campaign.ScheduledAt != nil && campaign.ScheduledAt.After(now) {
			result.Status = "waiting"
			return result, nil
		}
		if err := cp.db.Model(campaign).Updates(map[string]interface{}{
			"status":     "sending",
			"started_at": now,
		}).Error; err != nil {
			return result, fmt.Errorf("failed to start campaign: %w", err)
		}
		campaign.Status = "sending"
	}

	processed, err := cp.processedCount(campaign.ID)
	if err != nil {
		return result, err
	}
	if campaign.TotalContacts > 0 && processed >= int64(campaign.TotalContacts) {
		if err := cp.finalizeCampaign(campaign); err != nil {
			return result, err
		}
		result.Status = "completed"
		return result, nil
	}

	subject, content, err := cp.resolveCampaignContent(campaign)
	if err != nil {
		return result, err
	}

	return cp.processBatchWindow(campaign, subject, content, result)
}

// resolveCampaignContent picks the single-email body when html_content is
// set, otherwise the lowest-numbered active sequence step.
func (cp *CampaignProcessor) resolveCampaignContent(campaign *models.Campaign) (string, string, error) {
	if campaign.HTMLContent != "" {
		return campaign.Subject, campaign.HTMLContent, nil
	}

	var step models.CampaignStep
	err := cp.db.Where("campaign_id = ? AND is_active = ?", campaign.ID, true).
		Order("step_number ASC").
		First(&step).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", "", errors.New("campaign has no content and no active steps")
	}
	if err != nil {
		return "", "", fmt.Errorf("failed to load campaign steps: %w", err)
	}
	return step.Subject, step.Body, nil
}

// processBatchWindow applies the 24h pacing rules, sends when the window is
// open and advances the schedule.
func (cp *CampaignProcessor) processBatchWindow(campaign *models.Campaign, subject, content string, result CampaignResult) (CampaignResult, error) {
	now := cp.now()

	if campaign.FirstBatchSentAt == nil {
		sent, failed, pending, err := cp.sendBatch(campaign, subject, content)
		if err != nil {
			return result, err
		}
		if pending == 0 {
			// Every remaining contact is suppressed or already tracked;
			// nothing will ever become sendable, so close the campaign out.
			if err := cp.finalizeCampaign(campaign); err != nil {
				return result, err
			}
			result.Status = "completed"
			return result, nil
		}
		next := now.Add(batchInterval)
		if err := cp.db.Model(campaign).Updates(map[string]interface{}{
			"first_batch_sent_at":  now,
			"next_batch_send_time": next,
			"current_batch_number": 1,
		}).Error; err != nil {
			return result, fmt.Errorf("failed to record first batch: %w", err)
		}
		result.Status = "sent"
		result.Sent = sent
		result.Failed = failed
		return result, nil
	}

	// NextBatchSendTime is always set alongside FirstBatchSentAt; a nil value
	// here means a manually edited row, treat it as due now.
	next := now
	if campaign.NextBatchSendTime != nil {
		next = *campaign.NextBatchSendTime
	}
	campaign.NextBatchSendTime = &next

	status, timeUntil := batchWindowStatus(now, next)
	switch status {
	case "early":
		cp.logger.WithFields(logrus.Fields{
			"campaign_id": campaign.ID,
			"due_in":      timeUntil,
		}).Debug("batch window not open yet")
		result.Status = "early"
		return result, nil
	case "overdue":
		cp.logger.WithFields(logrus.Fields{
			"campaign_id": campaign.ID,
			"overdue_by":  -timeUntil,
		}).Warn("batch window overdue, sending now")
	}

	sent, failed, pending, err := cp.sendBatch(campaign, subject, content)
	if err != nil {
		return result, err
	}
	if pending == 0 {
		if err := cp.finalizeCampaign(campaign); err != nil {
			return result, err
		}
		result.Status = "completed"
		return result, nil
	}

	next = next.Add(batchInterval)
	if err := cp.db.Model(campaign).Updates(map[string]interface{}{
		"next_batch_send_time": next,
		"current_batch_number": gorm.Expr("current_batch_number + ?", 1),
	}).Error; err != nil {
		return result, fmt.Errorf("failed to advance batch schedule: %w", err)
	}

	result.Status = "sent"
	result.Sent = sent
	result.Failed = failed
	return result, nil
}

// batchWindowStatus classifies now against the scheduled batch time:
// early (too soon), ready (within ±tolerance) or overdue (past the window).
func batchWindowStatus(now, next time.Time) (string, time.Duration) {
	timeUntil := next.Sub(now)
	switch {
	case timeUntil > batchWindowTolerance:
		return "early", timeUntil
	case timeUntil < -batchWindowTolerance:
		return "overdue", timeUntil
	default:
		return "ready", timeUntil
	}
}

// sendBatch sends to up to daily_send_limit recipients that have no tracking
// record yet, reporting how many pending recipients were found. A recipient
// failure is recorded and skipped; only campaign-level problems (no contacts,
// no account) return an error.
func (cp *CampaignProcessor) sendBatch(campaign *models.Campaign, subject, content string) (int, int, int, error) {
	contacts, err := cp.pendingRecipients(campaign)
	if err != nil {
		return 0, 0, 0, err
	}
	if len(contacts) == 0 && campaign.TotalContacts == 0 {
		return 0, 0, 0, errors.New("campaign has no contacts")
	}
	pending := len(contacts)
	if pending == 0 {
		return 0, 0, 0, nil
	}

	account, err := cp.accountFor(campaign)
	if err != nil {
		return 0, 0, 0, err
	}

	limit := campaign.DailySendLimit
	if limit <= 0 {
		limit = defaultDailyLimit
	}
	if len(contacts) > limit {
		contacts = contacts[:limit]
	}

	sent, failed := 0, 0
	for i := range contacts {
		contact := &contacts[i]
		if err := cp.sendToRecipient(campaign, contact, account, subject, content); err != nil {
			cp.logger.WithFields(logrus.Fields{
				"campaign_id": campaign.ID,
				"contact_id":  contact.ID,
				"error":       err,
			}).Error("recipient send failed")
			failed++
		} else {
			sent++
		}

		if i < len(contacts)-1 {
			cp.sleepBetweenSends()
		}
	}
	return sent, failed, pending, nil
}

// pendingRecipients loads the campaign's contacts in list order, excluding
// suppressed contacts and those with any tracking record. A failed attempt
// counts toward completion and is not retried, so a permanently bouncing
// address cannot keep a campaign alive forever.
func (cp *CampaignProcessor) pendingRecipients(campaign *models.Campaign) ([]models.Contact, error) {
	var contacts []models.Contact
	err := cp.db.Raw(`
        SELECT DISTINCT c.* FROM contacts c
        JOIN contact_list_memberships clm ON c.id = clm.contact_id AND clm.deleted_at IS NULL
        JOIN campaign_contact_lists ccl ON clm.contact_list_id = ccl.contact_list_id AND ccl.deleted_at IS NULL
        WHERE ccl.campaign_id = ?
        AND c.deleted_at IS NULL
        AND c.is_unsubscribed = false
        AND c.is_bounced = false
        AND c.is_do_not_contact = false
        AND NOT EXISTS (
            SELECT 1 FROM email_trackings et
            WHERE et.campaign_id = ?
            AND et.contact_id = c.id
            AND et.deleted_at IS NULL
        )
        ORDER BY c.id ASC
    `, campaign.ID, campaign.ID).Scan(&contacts).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load recipients: %w", err)
	}
	return contacts, nil
}

func (cp *CampaignProcessor) accountFor(campaign *models.Campaign) (*models.EmailAccount, error) {
	var account models.EmailAccount
	query := cp.db.Where("user_id = ? AND is_active = ?", campaign.UserID, true)
	if campaign.EmailAccountID != nil {
		query = query.Where("id = ?", *campaign.EmailAccountID)
	}
	if err := query.First(&account).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errors.New("no active email account available")
		}
		return nil, fmt.Errorf("failed to load email account: %w", err)
	}
	return &account, nil
}

// sendToRecipient creates the pending tracking record first (so the tracking
// id exists before the mail leaves), dispatches, then records the outcome.
func (cp *CampaignProcessor) sendToRecipient(campaign *models.Campaign, contact *models.Contact, account *models.EmailAccount, subject, content string) error {
	// Re-check immediately before inserting: another instance may have
	// created a record since the batch query ran.
	var existing int64
	cp.db.Model(&models.EmailTracking{}).
		Where("campaign_id = ? AND contact_id = ?", campaign.ID, contact.ID).
		Count(&existing)
	if existing > 0 {
		return nil
	}

	resolved := *campaign
	resolved.Subject = subject
	resolved.HTMLContent = content
	finalSubject, finalContent := utils.ResolveEmailContent(&resolved, contact)

	tracking := models.EmailTracking{
		CampaignID:     campaign.ID,
		ContactID:      contact.ID,
		UserID:         campaign.UserID,
		EmailAccountID: &account.ID,
		Recipient:      contact.Email,
		Subject:        finalSubject,
		Status:         "pending",
		TrackingID:     uuid.New().String(),
		PixelID:        uuid.New().String(),
	}
	if err := cp.db.Create(&tracking).Error; err != nil {
		return fmt.Errorf("failed to create tracking record: %w", err)
	}

	senderName := campaign.SenderName
	if senderName == "" {
		senderName = account.FromName
	}

	dispatch := cp.dispatcher.Send(utils.DispatchRequest{
		To:          contact.Email,
		Subject:     finalSubject,
		Content:     finalContent,
		Account:     account,
		SenderName:  senderName,
		TrackingID:  tracking.TrackingID,
		PixelID:     tracking.PixelID,
		TrackOpens:  campaign.TrackOpens,
		TrackClicks: campaign.TrackClicks,
	})

	now := cp.now()
	if dispatch.Status == "sent" {
		updates := map[string]interface{}{
			"status":       "delivered",
			"message_id":   dispatch.MessageID,
			"sent_at":      now,
			"delivered_at": now,
		}
		if err := cp.db.Model(&tracking).Updates(updates).Error; err != nil {
			// Reduced payload retry: drop optional columns in case the
			// full update trips over schema drift.
			cp.logger.WithField("tracking_id", tracking.ID).Warnf("tracking update failed, retrying reduced: %v", err)
			if err := cp.db.Model(&tracking).Updates(map[string]interface{}{
				"status":  "delivered",
				"sent_at": now,
			}).Error; err != nil {
				cp.logger.WithField("tracking_id", tracking.ID).Errorf("reduced tracking update failed: %v", err)
			}
		}

		cp.db.Model(&models.Campaign{}).Where("id = ?", campaign.ID).
			Update("emails_sent", gorm.Expr("emails_sent + ?", 1))
		if err := cp.usage.UpdateUsage(campaign.UserID, utils.ActionSendEmail, 1); err != nil {
			cp.logger.Warnf("usage update failed for user %d: %v", campaign.UserID, err)
		}
		return nil
	}

	bounce := map[string]interface{}{
		"status":        "failed",
		"bounced_at":    now,
		"bounce_reason": dispatch.Error,
	}
	if err := cp.db.Model(&tracking).Updates(bounce).Error; err != nil {
		cp.logger.WithField("tracking_id", tracking.ID).Warnf("tracking update failed, retrying reduced: %v", err)
		if err := cp.db.Model(&tracking).Update("status", "failed").Error; err != nil {
			cp.logger.WithField("tracking_id", tracking.ID).Errorf("reduced tracking update failed: %v", err)
		}
	}
	cp.db.Model(&models.Campaign{}).Where("id = ?", campaign.ID).
		Update("emails_bounced", gorm.Expr("emails_bounced + ?", 1))

	return fmt.Errorf("dispatch failed: %s", dispatch.Error)
}

// finalizeCampaign recomputes the denormalized counters from tracking rows
// (counters may be stale after a crash between send and persist) and marks
// the campaign completed.
func (cp *CampaignProcessor) finalizeCampaign(campaign *models.Campaign) error {
	var delivered, bounced int64
	cp.db.Model(&models.EmailTracking{}).
		Where("campaign_id = ? AND status = ?", campaign.ID, "delivered").
		Count(&delivered)
	cp.db.Model(&models.EmailTracking{}).
		Where("campaign_id = ? AND status = ?", campaign.ID, "failed").
		Count(&bounced)

	now := cp.now()
	updates := map[string]interface{}{
		"status":         "completed",
		"completed_at":   now,
		"emails_sent":    delivered,
		"emails_bounced": bounced,
	}
	if int64(campaign.TotalContacts) > delivered+bounced {
		// Contacts suppressed after the snapshot shrank the audience.
		updates["total_contacts"] = delivered + bounced
	}
	if err := cp.db.Model(campaign).Updates(updates).Error; err != nil {
		return fmt.Errorf("failed to complete campaign: %w", err)
	}
	campaign.Status = "completed"

	cp.logger.WithFields(logrus.Fields{
		"campaign_id": campaign.ID,
		"delivered":   delivered,
		"bounced":     bounced,
	}).Info("campaign completed")
	return nil
}

func (cp *CampaignProcessor) pauseCampaign(campaign *models.Campaign, cause error) {
	if err := cp.db.Model(campaign).Update("status", "paused").Error; err != nil {
		cp.logger.WithField("campaign_id", campaign.ID).Errorf("failed to pause campaign: %v", err)
		return
	}
	campaign.Status = "paused"
	cp.logger.WithFields(logrus.Fields{
		"campaign_id": campaign.ID,
		"cause":       cause,
	}).Warn("campaign paused")
}

// sleepBetweenSends applies the deliverability throttle: a random delay in
// the configured range, applied between consecutive sends but not after the
// last one.
func (cp *CampaignProcessor) sleepBetweenSends() {
	if cp.delayMax <= 0 {
		return
	}
	delay := cp.delayMin
	if cp.delayMax > cp.delayMin {
		delay += time.Duration(rand.Int63n(int64(cp.delayMax - cp.delayMin)))
	}
	time.Sleep(delay)
}

// processedCount counts the distinct contacts with any tracking record.
// Delivered and failed attempts both count: a bounce consumes the contact's
// slot in the campaign rather than queueing a retry.
func (cp *CampaignProcessor) processedCount(campaignID uint) (int64, error) {
	var count int64
	err := cp.db.Model(&models.EmailTracking{}).
		Where("campaign_id = ?", campaignID).
		Distinct("contact_id").
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("failed to count processed recipients: %w", err)
	}
	return count, nil
}
