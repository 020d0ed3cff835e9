package worker

import (
	"fmt"
	"testing"
	"time"

	"reachly/models"
	"reachly/utils"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type fakeDispatcher struct {
	sent     []string
	requests []utils.DispatchRequest
	failFor  map[string]bool
}

func (f *fakeDispatcher) Send(req utils.DispatchRequest) utils.DispatchResult {
	f.requests = append(f.requests, req)
	if f.failFor[req.To] {
		return utils.DispatchResult{Status: "failed", Error: "mailbox unavailable"}
	}
	f.sent = append(f.sent, req.To)
	return utils.DispatchResult{Status: "sent", MessageID: "<test@local>"}
}

type fakeUsage struct {
	counts map[utils.UsageAction]int
}

func (f *fakeUsage) UpdateUsage(userID uint, action utils.UsageAction, delta int) error {
	if f.counts == nil {
		f.counts = map[utils.UsageAction]int{}
	}
	f.counts[action] += delta
	return nil
}

func newWorkerTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	require.NoError(t, db.AutoMigrate(
		&models.User{},
		&models.EmailAccount{},
		&models.Contact{},
		&models.ContactList{},
		&models.ContactListMembership{},
		&models.Campaign{},
		&models.CampaignStep{},
		&models.CampaignContactList{},
		&models.EmailTracking{},
	))
	return db
}

type fixture struct {
	db         *gorm.DB
	processor  *CampaignProcessor
	dispatcher *fakeDispatcher
	usage      *fakeUsage
	campaign   *models.Campaign
	now        time.Time
}

// newFixture builds a sending campaign with the given number of contacts in
// one list and a processor with controllable time and zero send delays.
func newFixture(t *testing.T, contactCount, dailyLimit int) *fixture {
	t.Helper()
	db := newWorkerTestDB(t)

	user := models.User{Email: "owner@test.local", IsActive: true}
	require.NoError(t, db.Create(&user).Error)

	account := models.EmailAccount{
		UserID: user.ID, Name: "main", FromEmail: "owner@test.local", FromName: "Owner",
		SMTPHost: "smtp.test.local", SMTPPort: 587, IsActive: true,
	}
	require.NoError(t, db.Create(&account).Error)

	list := models.ContactList{UserID: user.ID, Name: "targets"}
	require.NoError(t, db.Create(&list).Error)

	for i := 0; i < contactCount; i++ {
		contact := models.Contact{
			UserID:    user.ID,
			FirstName: fmt.Sprintf("Contact%d", i),
			Email:     fmt.Sprintf("contact%d@test.local", i),
		}
		require.NoError(t, db.Create(&contact).Error)
		require.NoError(t, db.Create(&models.ContactListMembership{
			ContactID: contact.ID, ContactListID: list.ID,
		}).Error)
	}

	campaign := models.Campaign{
		UserID:         user.ID,
		EmailAccountID: &account.ID,
		Name:           "launch",
		Subject:        "Hello {{first_name}}",
		HTMLContent:    "<p>Hi {{first_name}}</p>",
		Status:         "sending",
		DailySendLimit: dailyLimit,
		TotalContacts:  contactCount,
	}
	require.NoError(t, db.Create(&campaign).Error)
	require.NoError(t, db.Create(&models.CampaignContactList{
		CampaignID: campaign.ID, ContactListID: list.ID,
	}).Error)

	dispatcher := &fakeDispatcher{failFor: map[string]bool{}}
	usage := &fakeUsage{}
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)

	f := &fixture{
		db:         db,
		dispatcher: dispatcher,
		usage:      usage,
		campaign:   &campaign,
		now:        time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
	}
	f.processor = NewCampaignProcessor(db, dispatcher, usage, log, time.Minute, 0, 0)
	f.processor.now = func() time.Time { return f.now }
	return f
}

func (f *fixture) reload(t *testing.T) *models.Campaign {
	t.Helper()
	var campaign models.Campaign
	require.NoError(t, f.db.First(&campaign, f.campaign.ID).Error)
	return &campaign
}

func TestBatchWindowStatus(t *testing.T) {
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	cases := []struct {
		name   string
		now    time.Time
		expect string
	}{
		{"well before", base.Add(-time.Hour), "early"},
		{"just outside tolerance", base.Add(-5*time.Minute - time.Second), "early"},
		{"at early tolerance edge", base.Add(-5 * time.Minute), "ready"},
		{"exactly due", base, "ready"},
		{"at late tolerance edge", base.Add(5 * time.Minute), "ready"},
		{"just past tolerance", base.Add(5*time.Minute + time.Second), "overdue"},
		{"hours late", base.Add(3 * time.Hour), "overdue"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			status, _ := batchWindowStatus(tc.now, base)
			assert.Equal(t, tc.expect, status)
		})
	}
}

func TestFirstBatchStampsSchedule(t *testing.T) {
	f := newFixture(t, 12, 5)

	summary := f.processor.ProcessReadyCampaigns()
	require.Equal(t, 1, summary.Processed)
	require.Equal(t, 1, summary.Successful)
	assert.Equal(t, 5, summary.Results[0].Sent)

	campaign := f.reload(t)
	require.NotNil(t, campaign.FirstBatchSentAt)
	require.NotNil(t, campaign.NextBatchSendTime)
	assert.Equal(t, 1, campaign.CurrentBatchNumber)
	assert.Equal(t, f.now.Add(24*time.Hour).Unix(), campaign.NextBatchSendTime.Unix())
	assert.Equal(t, 5, campaign.EmailsSent)
	assert.Equal(t, 5, f.usage.counts[utils.ActionSendEmail])
}

func TestSecondTickWithinWindowSendsNothing(t *testing.T) {
	f := newFixture(t, 12, 5)

	f.processor.ProcessReadyCampaigns()
	f.now = f.now.Add(time.Minute)
	summary := f.processor.ProcessReadyCampaigns()

	assert.Equal(t, "early", summary.Results[0].Status)
	assert.Len(t, f.dispatcher.sent, 5)
}

func TestCampaignDrainsAcrossBatchWindows(t *testing.T) {
	f := newFixture(t, 12, 5)

	// Batch 1: 5 sends.
	f.processor.ProcessReadyCampaigns()
	assert.Len(t, f.dispatcher.sent, 5)

	// Batch 2 a day later: 5 more.
	f.now = f.now.Add(24 * time.Hour)
	f.processor.ProcessReadyCampaigns()
	assert.Len(t, f.dispatcher.sent, 10)
	assert.Equal(t, 2, f.reload(t).CurrentBatchNumber)

	// Batch 3: the remaining 2.
	f.now = f.now.Add(24 * time.Hour)
	f.processor.ProcessReadyCampaigns()
	assert.Len(t, f.dispatcher.sent, 12)

	// Next tick observes everything processed and completes the campaign.
	f.now = f.now.Add(time.Minute)
	summary := f.processor.ProcessReadyCampaigns()
	assert.Equal(t, "completed", summary.Results[0].Status)

	campaign := f.reload(t)
	assert.Equal(t, "completed", campaign.Status)
	require.NotNil(t, campaign.CompletedAt)
	assert.Equal(t, 12, campaign.EmailsSent)

	// Completed campaigns leave the poll set; nothing is re-sent.
	f.now = f.now.Add(24 * time.Hour)
	f.processor.ProcessReadyCampaigns()
	assert.Len(t, f.dispatcher.sent, 12)
}

func TestDeliveredContactsAreNotResent(t *testing.T) {
	f := newFixture(t, 3, 5)

	f.processor.ProcessReadyCampaigns()
	require.Len(t, f.dispatcher.sent, 3)

	// Force another window before completion is detected.
	f.now = f.now.Add(24 * time.Hour)
	f.processor.ProcessReadyCampaigns()

	// Every contact already has a live tracking record, so the second
	// window has no recipients.
	assert.Len(t, f.dispatcher.sent, 3)

	var trackingCount int64
	f.db.Model(&models.EmailTracking{}).Where("campaign_id = ?", f.campaign.ID).Count(&trackingCount)
	assert.Equal(t, int64(3), trackingCount)
}

func TestBouncedContactCountsTowardCompletion(t *testing.T) {
	f := newFixture(t, 2, 5)
	f.dispatcher.failFor["contact0@test.local"] = true

	summary := f.processor.ProcessReadyCampaigns()
	assert.Equal(t, 1, summary.Results[0].Sent)
	assert.Equal(t, 1, summary.Results[0].Failed)

	var failed models.EmailTracking
	require.NoError(t, f.db.Where("campaign_id = ? AND status = ?", f.campaign.ID, "failed").
		First(&failed).Error)
	assert.Equal(t, "contact0@test.local", failed.Recipient)
	assert.Equal(t, "mailbox unavailable", failed.BounceReason)
	assert.Equal(t, 1, f.reload(t).EmailsBounced)

	// emails_sent + emails_bounced covers every contact, so the next tick
	// completes the campaign instead of retrying the bounced address.
	f.dispatcher.failFor = map[string]bool{}
	f.now = f.now.Add(24 * time.Hour)
	summary = f.processor.ProcessReadyCampaigns()
	assert.Equal(t, "completed", summary.Results[0].Status)
	assert.NotContains(t, f.dispatcher.sent, "contact0@test.local")

	campaign := f.reload(t)
	assert.Equal(t, "completed", campaign.Status)
	assert.Equal(t, 1, campaign.EmailsSent)
	assert.Equal(t, 1, campaign.EmailsBounced)

	// Nothing is re-sent once completed; one record per contact remains.
	f.now = f.now.Add(24 * time.Hour)
	f.processor.ProcessReadyCampaigns()
	var trackingCount int64
	f.db.Model(&models.EmailTracking{}).Where("campaign_id = ?", f.campaign.ID).Count(&trackingCount)
	assert.Equal(t, int64(2), trackingCount)
}

func TestSuppressedRemainderCompletesCampaign(t *testing.T) {
	f := newFixture(t, 3, 2)

	f.processor.ProcessReadyCampaigns()
	require.Len(t, f.dispatcher.sent, 2)

	// The one contact left unsent opts out before the next window.
	require.NoError(t, f.db.Model(&models.Contact{}).
		Where("email = ?", "contact2@test.local").
		Update("is_unsubscribed", true).Error)

	f.now = f.now.Add(24 * time.Hour)
	summary := f.processor.ProcessReadyCampaigns()
	assert.Equal(t, "completed", summary.Results[0].Status)
	assert.Len(t, f.dispatcher.sent, 2)

	campaign := f.reload(t)
	assert.Equal(t, "completed", campaign.Status)
	assert.Equal(t, 2, campaign.TotalContacts)
	assert.Equal(t, 2, campaign.EmailsSent)
}

func TestScheduledCampaignWaitsForItsTime(t *testing.T) {
	f := newFixture(t, 2, 5)
	future := f.now.Add(2 * time.Hour)
	require.NoError(t, f.db.Model(f.campaign).Updates(map[string]interface{}{
		"status":       "scheduled",
		"scheduled_at": future,
	}).Error)

	summary := f.processor.ProcessReadyCampaigns()
	assert.Equal(t, "waiting", summary.Results[0].Status)
	assert.Empty(t, f.dispatcher.sent)

	f.now = future.Add(time.Minute)
	f.processor.ProcessReadyCampaigns()

	campaign := f.reload(t)
	assert.NotNil(t, campaign.StartedAt)
	assert.Len(t, f.dispatcher.sent, 2)
}

func TestSuppressedContactsAreExcluded(t *testing.T) {
	f := newFixture(t, 3, 5)
	require.NoError(t, f.db.Model(&models.Contact{}).
		Where("email = ?", "contact1@test.local").
		Update("is_unsubscribed", true).Error)

	f.processor.ProcessReadyCampaigns()
	assert.NotContains(t, f.dispatcher.sent, "contact1@test.local")
	assert.Len(t, f.dispatcher.sent, 2)
}

func TestCampaignWithoutContactsIsPaused(t *testing.T) {
	f := newFixture(t, 0, 5)
	require.NoError(t, f.db.Model(f.campaign).Update("total_contacts", 0).Error)

	summary := f.processor.ProcessReadyCampaigns()
	assert.Equal(t, 1, summary.Errors)
	assert.Equal(t, "paused", summary.Results[0].Status)
	assert.Equal(t, "paused", f.reload(t).Status)
}

func TestSequenceCampaignSendsLowestActiveStep(t *testing.T) {
	f := newFixture(t, 1, 5)
	require.NoError(t, f.db.Model(f.campaign).Updates(map[string]interface{}{
		"subject":      "",
		"html_content": "",
	}).Error)
	require.NoError(t, f.db.Create(&models.CampaignStep{
		CampaignID: f.campaign.ID, StepNumber: 2, Subject: "Follow up", Body: "<p>two</p>", IsActive: true,
	}).Error)
	require.NoError(t, f.db.Create(&models.CampaignStep{
		CampaignID: f.campaign.ID, StepNumber: 1, Subject: "Opening note", Body: "<p>one</p>", IsActive: true,
	}).Error)

	f.processor.ProcessReadyCampaigns()

	var tracking models.EmailTracking
	require.NoError(t, f.db.Where("campaign_id = ?", f.campaign.ID).First(&tracking).Error)
	assert.Equal(t, "Opening note", tracking.Subject)
}

func TestTrackingOptionsReachDispatch(t *testing.T) {
	f := newFixture(t, 1, 5)
	require.NoError(t, f.db.Model(f.campaign).Updates(map[string]interface{}{
		"track_opens":  true,
		"track_clicks": true,
		"html_content": `<p>Hi</p><a href="https://example.com/pricing">Pricing</a>`,
	}).Error)

	f.processor.ProcessReadyCampaigns()

	require.Len(t, f.dispatcher.requests, 1)
	req := f.dispatcher.requests[0]
	assert.True(t, req.TrackOpens)
	assert.True(t, req.TrackClicks)
	assert.NotEmpty(t, req.TrackingID)
	assert.NotEmpty(t, req.PixelID)
}

func TestPersonalizationAppliedPerRecipient(t *testing.T) {
	f := newFixture(t, 1, 5)

	f.processor.ProcessReadyCampaigns()

	var tracking models.EmailTracking
	require.NoError(t, f.db.Where("campaign_id = ?", f.campaign.ID).First(&tracking).Error)
	assert.Equal(t, "Hello Contact0", tracking.Subject)
}
