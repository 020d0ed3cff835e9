package utils

import (
	"testing"
	"time"

	"reachly/models"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func newEnrichmentService(db *gorm.DB) *BulkContactEnrichmentService {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	s := NewBulkContactEnrichmentService(db, logger, "http://localhost:0/process", 5)
	s.ContactDelay = 0
	return s
}

func TestBusinessDomainFromEmail(t *testing.T) {
	domain, ok := BusinessDomainFromEmail("jane@acme.com")
	assert.True(t, ok)
	assert.Equal(t, "acme.com", domain)

	_, ok = BusinessDomainFromEmail("jane@gmail.com")
	assert.False(t, ok)

	_, ok = BusinessDomainFromEmail("not-an-email")
	assert.False(t, ok)
}

func TestClassifyContactsDisjointPartition(t *testing.T) {
	s := newEnrichmentService(nil)
	recent := time.Now().Add(-1 * time.Hour)
	stale := time.Now().Add(-48 * time.Hour)

	contacts := []models.Contact{
		{Model: gorm.Model{ID: 1}, Email: "a@acme.com"},                                        // business email -> eligible
		{Model: gorm.Model{ID: 2}, Email: "b@gmail.com", Website: "https://b.example"},         // website -> eligible
		{Model: gorm.Model{ID: 3}, Email: "c@gmail.com", LinkedInURL: "https://linkedin/in/c"}, // linkedin only
		{Model: gorm.Model{ID: 4}, Email: "d@acme.com", EnrichedAt: &recent},                   // enriched within 24h
		{Model: gorm.Model{ID: 5}, Email: "e@acme.com", EnrichedAt: &stale},                    // stale enrichment -> eligible again
		{Model: gorm.Model{ID: 6}, Email: "f@gmail.com"},                                       // nothing to work with
		{Model: gorm.Model{ID: 7}, Email: "g@acme.com"},                                        // already in a live job
	}
	inFlight := map[uint]bool{7: true}

	summary := s.ClassifyContacts(contacts, inFlight)

	assert.ElementsMatch(t, []uint{1, 2, 5}, summary.Eligible)
	assert.Equal(t, []uint{3}, summary.LinkedInOnly)
	assert.Equal(t, []uint{4}, summary.AlreadyEnriched)
	assert.Equal(t, []uint{6}, summary.NoSources)
	assert.Equal(t, []uint{7}, summary.Processing)

	total := len(summary.Eligible) + len(summary.LinkedInOnly) + len(summary.AlreadyEnriched) +
		len(summary.NoSources) + len(summary.Processing)
	assert.Equal(t, len(contacts), total)
}

func TestClassifyPersonalEmailWithoutSources(t *testing.T) {
	s := newEnrichmentService(nil)

	contacts := []models.Contact{{Model: gorm.Model{ID: 1}, Email: "jane@gmail.com"}}
	summary := s.ClassifyContacts(contacts, nil)

	assert.Equal(t, []uint{1}, summary.NoSources)
	assert.Empty(t, summary.Eligible)
}

func TestCreateJobNothingProcessable(t *testing.T) {
	db := newTestDB(t)
	s := newEnrichmentService(db)
	user := createUserOnPlan(t, db, "")

	contact := models.Contact{UserID: user.ID, Email: "jane@gmail.com"}
	require.NoError(t, db.Create(&contact).Error)

	job, summary, err := s.CreateJob(user.ID, []uint{contact.ID})
	require.NoError(t, err)
	assert.Nil(t, job)
	require.NotNil(t, summary)
	assert.Equal(t, []uint{contact.ID}, summary.NoSources)
}

func TestCreateJobOverProcessableContacts(t *testing.T) {
	db := newTestDB(t)
	s := newEnrichmentService(db)
	user := createUserOnPlan(t, db, "")

	eligible := models.Contact{UserID: user.ID, Email: "a@acme.com"}
	linkedin := models.Contact{UserID: user.ID, Email: "b@gmail.com", LinkedInURL: "https://linkedin.com/in/b"}
	skipped := models.Contact{UserID: user.ID, Email: "c@gmail.com"}
	require.NoError(t, db.Create(&eligible).Error)
	require.NoError(t, db.Create(&linkedin).Error)
	require.NoError(t, db.Create(&skipped).Error)

	job, summary, err := s.CreateJob(user.ID, []uint{eligible.ID, linkedin.ID, skipped.ID})
	require.NoError(t, err)
	require.NotNil(t, job)

	assert.Equal(t, "pending", job.Status)
	assert.ElementsMatch(t, []uint{eligible.ID, linkedin.ID}, job.ContactIDs)
	assert.Equal(t, 2, job.Progress.Total)
	assert.Equal(t, []uint{skipped.ID}, summary.NoSources)
}

func TestCreateJobMarksInFlightContactsProcessing(t *testing.T) {
	db := newTestDB(t)
	s := newEnrichmentService(db)
	user := createUserOnPlan(t, db, "")

	contact := models.Contact{UserID: user.ID, Email: "a@acme.com"}
	require.NoError(t, db.Create(&contact).Error)

	first, _, err := s.CreateJob(user.ID, []uint{contact.ID})
	require.NoError(t, err)
	require.NotNil(t, first)

	second, summary, err := s.CreateJob(user.ID, []uint{contact.ID})
	require.NoError(t, err)
	assert.Nil(t, second)
	assert.Equal(t, []uint{contact.ID}, summary.Processing)
}

func TestCancelPendingJob(t *testing.T) {
	db := newTestDB(t)
	s := newEnrichmentService(db)
	user := createUserOnPlan(t, db, "")

	contact := models.Contact{UserID: user.ID, Email: "a@acme.com"}
	require.NoError(t, db.Create(&contact).Error)
	job, _, err := s.CreateJob(user.ID, []uint{contact.ID})
	require.NoError(t, err)

	require.NoError(t, s.Cancel(user.ID, job.ID))

	var reloaded models.BulkEnrichmentJob
	require.NoError(t, db.First(&reloaded, job.ID).Error)
	assert.Equal(t, "cancelled", reloaded.Status)

	// Cancelled jobs cannot be cancelled again.
	assert.Error(t, s.Cancel(user.ID, job.ID))
}

func TestProcessNextBatchSkipsTerminalJob(t *testing.T) {
	db := newTestDB(t)
	s := newEnrichmentService(db)
	user := createUserOnPlan(t, db, "")

	contact := models.Contact{UserID: user.ID, Email: "a@acme.com"}
	require.NoError(t, db.Create(&contact).Error)
	job, _, err := s.CreateJob(user.ID, []uint{contact.ID})
	require.NoError(t, err)
	require.NoError(t, s.Cancel(user.ID, job.ID))

	// A cancelled job is a no-op, not an error, so lost continuations and
	// cron redrives stay harmless.
	require.NoError(t, s.ProcessNextBatch(job.ID))

	var reloaded models.BulkEnrichmentJob
	require.NoError(t, db.First(&reloaded, job.ID).Error)
	assert.Equal(t, "cancelled", reloaded.Status)
	assert.Equal(t, 0, reloaded.Progress.Completed)
}

func TestJobProgressCursor(t *testing.T) {
	p := models.JobProgress{Total: 10, Completed: 3, Failed: 2}
	assert.Equal(t, 5, p.Cursor())
}
