package utils

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"reachly/models"

	"github.com/badoux/checkmail"
	"github.com/likexian/whois"
	"github.com/sirupsen/logrus"
	"github.com/valyala/fasthttp"
	"gorm.io/gorm"
)

// personalEmailDomains are consumer mailbox providers; an address on one of
// these carries no inferable business website.
var personalEmailDomains = map[string]bool{
	"gmail.com":      true,
	"googlemail.com": true,
	"yahoo.com":      true,
	"yahoo.co.uk":    true,
	"hotmail.com":    true,
	"hotmail.co.uk":  true,
	"outlook.com":    true,
	"live.com":       true,
	"msn.com":        true,
	"aol.com":        true,
	"icloud.com":     true,
	"me.com":         true,
	"mac.com":        true,
	"protonmail.com": true,
	"proton.me":      true,
	"gmx.com":        true,
	"gmx.net":        true,
	"mail.com":       true,
	"zoho.com":       true,
	"yandex.com":     true,
	"yandex.ru":      true,
}

// EligibilitySummary is the total, disjoint partition of the requested
// contacts. Every input id lands in exactly one bucket.
type EligibilitySummary struct {
	Eligible        []uint `json:"eligible"`
	LinkedInOnly    []uint `json:"linkedin_only"`
	AlreadyEnriched []uint `json:"already_enriched"`
	NoSources       []uint `json:"no_sources"`
	Processing      []uint `json:"processing"`
}

// BulkContactEnrichmentService creates and drives resumable enrichment jobs.
// Long runs survive stateless invocations by re-POSTing themselves to
// ProcessURL after each batch.
type BulkContactEnrichmentService struct {
	DB     *gorm.DB
	Logger *logrus.Logger
	HTTP   *fasthttp.Client

	ProcessURL   string
	BatchSize    int
	ContactDelay time.Duration

	// Notify receives persisted notifications for live delivery (websocket).
	// Optional.
	Notify func(n *models.Notification)

	// Track records successful enrichments against the usage ledger. Optional.
	Track func(userID uint, count int)
}

func NewBulkContactEnrichmentService(db *gorm.DB, logger *logrus.Logger, processURL string, batchSize int) *BulkContactEnrichmentService {
	if batchSize <= 0 {
		batchSize = 5
	}
	return &BulkContactEnrichmentService{
		DB:           db,
		Logger:       logger,
		HTTP:         &fasthttp.Client{ReadTimeout: 15 * time.Second, WriteTimeout: 15 * time.Second},
		ProcessURL:   processURL,
		BatchSize:    batchSize,
		ContactDelay: time.Second,
	}
}

// BusinessDomainFromEmail infers a business website domain from an email
// address. Consumer mailbox domains are rejected.
func BusinessDomainFromEmail(email string) (string, bool) {
	if err := checkmail.ValidateFormat(email); err != nil {
		return "", false
	}
	at := strings.LastIndex(email, "@")
	domain := strings.ToLower(strings.TrimSpace(email[at+1:]))
	if domain == "" || personalEmailDomains[domain] {
		return "", false
	}
	return domain, true
}

// ClassifyContacts partitions contacts into eligibility buckets. processing
// takes precedence (the contact is already part of a live job), then the 24h
// already-enriched window, then source availability.
func (s *BulkContactEnrichmentService) ClassifyContacts(contacts []models.Contact, inFlight map[uint]bool) EligibilitySummary {
	var summary EligibilitySummary
	cutoff := time.Now().Add(-24 * time.Hour)

	for _, contact := range contacts {
		switch {
		case inFlight[contact.ID]:
			summary.Processing = append(summary.Processing, contact.ID)
		case contact.EnrichedAt != nil && contact.EnrichedAt.After(cutoff):
			summary.AlreadyEnriched = append(summary.AlreadyEnriched, contact.ID)
		case hasWebsiteSource(&contact):
			summary.Eligible = append(summary.Eligible, contact.ID)
		case contact.LinkedInURL != "":
			summary.LinkedInOnly = append(summary.LinkedInOnly, contact.ID)
		default:
			summary.NoSources = append(summary.NoSources, contact.ID)
		}
	}
	return summary
}

func hasWebsiteSource(contact *models.Contact) bool {
	if contact.Website != "" {
		return true
	}
	_, ok := BusinessDomainFromEmail(contact.Email)
	return ok
}

// CreateJob classifies the requested contacts and persists a job over the
// eligible and linkedin-only ones. When nothing can be processed the summary
// is returned without a job so the caller can show the diagnostic breakdown.
func (s *BulkContactEnrichmentService) CreateJob(userID uint, contactIDs []uint) (*models.BulkEnrichmentJob, *EligibilitySummary, error) {
	if len(contactIDs) == 0 {
		return nil, nil, errors.New("no contacts provided")
	}

	var contacts []models.Contact
	if err := s.DB.Where("user_id = ? AND id IN ?", userID, contactIDs).Find(&contacts).Error; err != nil {
		return nil, nil, fmt.Errorf("failed to load contacts: %w", err)
	}

	inFlight, err := s.inFlightContactIDs(userID)
	if err != nil {
		return nil, nil, err
	}

	summary := s.ClassifyContacts(contacts, inFlight)

	processable := append([]uint{}, summary.Eligible...)
	processable = append(processable, summary.LinkedInOnly...)
	if len(processable) == 0 {
		return nil, &summary, nil
	}

	job := models.BulkEnrichmentJob{
		UserID:     userID,
		Status:     "pending",
		ContactIDs: processable,
		BatchSize:  s.BatchSize,
		Progress:   models.JobProgress{Total: len(processable)},
		Results:    []models.EnrichmentResult{},
	}
	if err := s.DB.Create(&job).Error; err != nil {
		return nil, nil, fmt.Errorf("failed to create enrichment job: %w", err)
	}

	s.Logger.WithFields(logrus.Fields{
		"job_id":   job.ID,
		"user_id":  userID,
		"eligible": len(summary.Eligible),
		"linkedin": len(summary.LinkedInOnly),
		"skipped":  len(summary.AlreadyEnriched) + len(summary.NoSources) + len(summary.Processing),
	}).Info("bulk enrichment job created")

	return &job, &summary, nil
}

func (s *BulkContactEnrichmentService) inFlightContactIDs(userID uint) (map[uint]bool, error) {
	var jobs []models.BulkEnrichmentJob
	if err := s.DB.Where("user_id = ? AND status IN ?", userID, []string{"pending", "running"}).
		Find(&jobs).Error; err != nil {
		return nil, fmt.Errorf("failed to load in-flight jobs: %w", err)
	}
	inFlight := make(map[uint]bool)
	for _, job := range jobs {
		cursor := job.Progress.Cursor()
		for i, id := range job.ContactIDs {
			if i >= cursor {
				inFlight[id] = true
			}
		}
	}
	return inFlight, nil
}

// ProcessNextBatch is the resumable unit: it processes one slice of the job's
// contacts, persists progress, and hands off to the next invocation.
// Reaching it with an exhausted cursor is a no-op completion, which makes
// re-invocation idempotent.
func (s *BulkContactEnrichmentService) ProcessNextBatch(jobID uint) error {
	var job models.BulkEnrichmentJob
	if err := s.DB.First(&job, jobID).Error; err != nil {
		return fmt.Errorf("failed to load job %d: %w", jobID, err)
	}

	switch job.Status {
	case "cancelled", "completed", "failed":
		s.Logger.WithField("job_id", job.ID).Infof("skipping %s job", job.Status)
		return nil
	case "pending":
		now := time.Now()
		job.Status = "running"
		job.StartedAt = &now
		if err := s.DB.Model(&job).Updates(map[string]interface{}{
			"status":     "running",
			"started_at": now,
		}).Error; err != nil {
			return fmt.Errorf("failed to start job: %w", err)
		}
		s.notify(job.UserID, "enrichment_started", "Enrichment started",
			fmt.Sprintf("Enriching %d contacts", job.Progress.Total), job.ID)
	}

	cursor := job.Progress.Cursor()
	if cursor >= len(job.ContactIDs) {
		return s.completeJob(&job)
	}

	end := cursor + job.BatchSize
	if end > len(job.ContactIDs) {
		end = len(job.ContactIDs)
	}
	batch := job.ContactIDs[cursor:end]

	completedBefore := job.Progress.Completed
	if err := s.processBatch(&job, batch); err != nil {
		s.failJob(&job, err)
		return err
	}
	if delta := job.Progress.Completed - completedBefore; delta > 0 && s.Track != nil {
		s.Track(job.UserID, delta)
	}

	job.Progress.CurrentBatch++
	if err := s.DB.Model(&job).Updates(map[string]interface{}{
		"progress": job.Progress,
		"results":  job.Results,
	}).Error; err != nil {
		return fmt.Errorf("failed to persist job progress: %w", err)
	}

	if job.Progress.Cursor() < len(job.ContactIDs) {
		// Fire-and-forget continuation so a single invocation never runs
		// longer than one batch. The cron re-drive is the safety net if
		// this call is lost.
		go s.triggerContinuation(job.ID)
		return nil
	}
	return s.completeJob(&job)
}

// processBatch enriches one slice sequentially. Source availability is
// re-checked per contact because it can change between job creation and
// processing. Per-contact failures are recorded and skipped; only
// infrastructure errors abort the batch.
func (s *BulkContactEnrichmentService) processBatch(job *models.BulkEnrichmentJob, batch []uint) error {
	for i, contactID := range batch {
		var contact models.Contact
		if err := s.DB.Where("user_id = ? AND id = ?", job.UserID, contactID).First(&contact).Error; err != nil {
			return fmt.Errorf("failed to load contact %d: %w", contactID, err)
		}

		result := s.enrichContact(&contact)
		if result.ScrapeStatus == "completed" {
			job.Progress.Completed++
			now := time.Now()
			if err := s.DB.Model(&contact).Updates(map[string]interface{}{
				"enrichment_data": contact.EnrichmentData,
				"enriched_at":     now,
			}).Error; err != nil {
				s.Logger.WithField("contact_id", contact.ID).Errorf("failed to persist enrichment: %v", err)
			}
		} else {
			job.Progress.Failed++
		}
		job.Results = upsertResult(job.Results, result)

		if i < len(batch)-1 && s.ContactDelay > 0 {
			time.Sleep(s.ContactDelay)
		}
	}
	return nil
}

// enrichContact selects website-based enrichment when a website or business
// email domain exists, otherwise falls back to the LinkedIn profile.
func (s *BulkContactEnrichmentService) enrichContact(contact *models.Contact) models.EnrichmentResult {
	result := models.EnrichmentResult{ContactID: contact.ID, EnrichedAt: time.Now()}

	domain := websiteDomain(contact)
	switch {
	case domain != "":
		result.Source = "website"
		data, err := s.enrichFromWebsite(domain)
		if err != nil {
			result.ScrapeStatus = "failed"
			result.Error = err.Error()
			result.Retryable = true
			return result
		}
		result.ScrapeStatus = "completed"
		result.Data = data
	case contact.LinkedInURL != "":
		result.Source = "linkedin"
		result.ScrapeStatus = "completed"
		result.Data = map[string]interface{}{
			"linkedin_url": contact.LinkedInURL,
			"profile_slug": linkedinSlug(contact.LinkedInURL),
		}
	default:
		result.ScrapeStatus = "failed"
		result.Error = "no enrichment sources available"
		result.Retryable = true
		return result
	}

	if contact.EnrichmentData == nil {
		contact.EnrichmentData = map[string]interface{}{}
	}
	for k, v := range result.Data {
		contact.EnrichmentData[k] = v
	}
	return result
}

// enrichFromWebsite combines a whois registrant lookup with a page fetch of
// the site root.
func (s *BulkContactEnrichmentService) enrichFromWebsite(domain string) (map[string]interface{}, error) {
	data := map[string]interface{}{"domain": domain}

	if raw, err := whois.Whois(domain); err == nil {
		data["whois_org"] = extractWhoisField(raw, "Registrant Organization")
		data["whois_country"] = extractWhoisField(raw, "Registrant Country")
	} else {
		s.Logger.Debugf("whois lookup failed for %s: %v", domain, err)
	}

	statusCode, body, err := s.HTTP.GetTimeout(nil, "https://"+domain, 15*time.Second)
	if err != nil {
		statusCode, body, err = s.HTTP.GetTimeout(nil, "http://"+domain, 15*time.Second)
	}
	if err != nil {
		return nil, fmt.Errorf("website fetch failed: %w", err)
	}
	if statusCode >= 400 {
		return nil, fmt.Errorf("website returned status %d", statusCode)
	}

	data["website"] = "https://" + domain
	if title := extractHTMLTitle(string(body)); title != "" {
		data["page_title"] = title
	}
	return data, nil
}

func (s *BulkContactEnrichmentService) completeJob(job *models.BulkEnrichmentJob) error {
	if job.Status == "completed" {
		return nil
	}
	now := time.Now()
	if err := s.DB.Model(job).Updates(map[string]interface{}{
		"status":       "completed",
		"completed_at": now,
		"progress":     job.Progress,
		"results":      job.Results,
	}).Error; err != nil {
		return fmt.Errorf("failed to complete job: %w", err)
	}
	job.Status = "completed"
	s.notify(job.UserID, "enrichment_completed", "Enrichment completed",
		fmt.Sprintf("Enriched %d contacts (%d failed)", job.Progress.Completed, job.Progress.Failed), job.ID)
	return nil
}

func (s *BulkContactEnrichmentService) failJob(job *models.BulkEnrichmentJob, cause error) {
	if err := s.DB.Model(job).Updates(map[string]interface{}{
		"status":   "failed",
		"error":    cause.Error(),
		"progress": job.Progress,
		"results":  job.Results,
	}).Error; err != nil {
		s.Logger.WithField("job_id", job.ID).Errorf("failed to mark job failed: %v", err)
	}
	s.notify(job.UserID, "enrichment_failed", "Enrichment failed", cause.Error(), job.ID)
}

// Cancel flags the job; the flag is checked at the next batch boundary, so
// in-flight work finishes its current batch.
func (s *BulkContactEnrichmentService) Cancel(userID, jobID uint) error {
	res := s.DB.Model(&models.BulkEnrichmentJob{}).
		Where("id = ? AND user_id = ? AND status IN ?", jobID, userID, []string{"pending", "running"}).
		Update("status", "cancelled")
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return errors.New("job not found or not cancellable")
	}
	return nil
}

func (s *BulkContactEnrichmentService) triggerContinuation(jobID uint) {
	payload, _ := json.Marshal(map[string]uint{"job_id": jobID})

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(s.ProcessURL)
	req.Header.SetMethod(fasthttp.MethodPost)
	req.Header.SetContentType("application/json")
	req.SetBody(payload)

	if err := s.HTTP.DoTimeout(req, resp, 30*time.Second); err != nil {
		s.Logger.WithField("job_id", jobID).Warnf("continuation call failed: %v", err)
	}
}

func (s *BulkContactEnrichmentService) notify(userID uint, notifType, title, message string, jobID uint) {
	n := models.Notification{
		UserID:  userID,
		Type:    notifType,
		Title:   title,
		Message: message,
		Data:    map[string]interface{}{"job_id": jobID},
	}
	if err := s.DB.Create(&n).Error; err != nil {
		s.Logger.WithField("user_id", userID).Errorf("failed to persist notification: %v", err)
		return
	}
	if s.Notify != nil {
		s.Notify(&n)
	}
}

func upsertResult(results []models.EnrichmentResult, result models.EnrichmentResult) []models.EnrichmentResult {
	for i := range results {
		if results[i].ContactID == result.ContactID {
			results[i] = result
			return results
		}
	}
	return append(results, result)
}

func websiteDomain(contact *models.Contact) string {
	if contact.Website != "" {
		return stripScheme(contact.Website)
	}
	if domain, ok := BusinessDomainFromEmail(contact.Email); ok {
		return domain
	}
	return ""
}

func stripScheme(website string) string {
	website = strings.TrimPrefix(website, "https://")
	website = strings.TrimPrefix(website, "http://")
	website = strings.TrimPrefix(website, "www.")
	if idx := strings.IndexByte(website, '/'); idx != -1 {
		website = website[:idx]
	}
	return strings.ToLower(strings.TrimSpace(website))
}

func linkedinSlug(url string) string {
	url = strings.TrimSuffix(url, "/")
	if idx := strings.LastIndexByte(url, '/'); idx != -1 {
		return url[idx+1:]
	}
	return url
}

func extractWhoisField(raw, field string) string {
	for _, line := range strings.Split(raw, "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), field+":") {
			return strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(line), field+":"))
		}
	}
	return ""
}

func extractHTMLTitle(html string) string {
	lower := strings.ToLower(html)
	start := strings.Index(lower, "<title")
	if start == -1 {
		return ""
	}
	open := strings.IndexByte(lower[start:], '>')
	if open == -1 {
		return ""
	}
	start += open + 1
	end := strings.Index(lower[start:], "</title>")
	if end == -1 {
		return ""
	}
	return strings.TrimSpace(html[start : start+end])
}
