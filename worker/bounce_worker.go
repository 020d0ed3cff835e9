package worker

import (
	"context"
	"fmt"
	"io"
	"regexp"
	"strings"
	"time"

	"reachly/models"

	"github.com/emersion/go-imap"
	imapclient "github.com/emersion/go-imap/client"
	"github.com/emersion/go-message/mail"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// BounceWorker polls each account's IMAP inbox for delivery status
// notifications and feeds them back into tracking records.
type BounceWorker struct {
	db       *gorm.DB
	logger   *logrus.Logger
	interval time.Duration
}

func NewBounceWorker(db *gorm.DB, logger *logrus.Logger, interval time.Duration) *BounceWorker {
	return &BounceWorker{db: db, logger: logger, interval: interval}
}

func (w *BounceWorker) Start(ctx context.Context) {
	time.Sleep(30 * time.Second)

	w.logger.Info("bounce worker started")

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("bounce worker shutting down")
			return
		case <-ticker.C:
			w.CheckAllAccounts()
		}
	}
}

// CheckAllAccounts scans every active account that has an IMAP inbox
// configured. Account failures are logged and do not stop the sweep.
func (w *BounceWorker) CheckAllAccounts() {
	var accounts []models.EmailAccount
	if err := w.db.Where("is_active = ? AND imap_host != ''", true).Find(&accounts).Error; err != nil {
		w.logger.Errorf("failed to load accounts for bounce check: %v", err)
		return
	}

	for i := range accounts {
		account := &accounts[i]
		if err := w.checkAccount(account); err != nil {
			w.logger.WithFields(logrus.Fields{
				"account_id": account.ID,
				"error":      err,
			}).Warn("bounce check failed")
		}
	}
}

func (w *BounceWorker) checkAccount(account *models.EmailAccount) error {
	addr := fmt.Sprintf("%s:%d", account.IMAPHost, account.IMAPPort)
	c, err := imapclient.DialTLS(addr, nil)
	if err != nil {
		return fmt.Errorf("imap dial: %w", err)
	}
	defer c.Logout()

	username := account.IMAPUsername
	if username == "" {
		username = account.FromEmail
	}
	if err := c.Login(username, account.IMAPPassword); err != nil {
		return fmt.Errorf("imap login: %w", err)
	}

	mailbox := account.IMAPMailbox
	if mailbox == "" {
		mailbox = "INBOX"
	}
	if _, err := c.Select(mailbox, true); err != nil {
		return fmt.Errorf("imap select %s: %w", mailbox, err)
	}

	criteria := imap.NewSearchCriteria()
	if account.LastBounceCheckAt != nil {
		criteria.Since = *account.LastBounceCheckAt
	} else {
		criteria.Since = time.Now().Add(-7 * 24 * time.Hour)
	}
	criteria.Or = [][2]*imap.SearchCriteria{{
		{Header: map[string][]string{"From": {"mailer-daemon"}}},
		{Header: map[string][]string{"Content-Type": {"delivery-status"}}},
	}}

	uids, err := c.Search(criteria)
	if err != nil {
		return fmt.Errorf("imap search: %w", err)
	}

	now := time.Now()
	if len(uids) > 0 {
		w.fetchAndRecord(c, account, uids)
	}
	return w.db.Model(account).Update("last_bounce_check_at", now).Error
}

func (w *BounceWorker) fetchAndRecord(c *imapclient.Client, account *models.EmailAccount, uids []uint32) {
	seqset := new(imap.SeqSet)
	seqset.AddNum(uids...)

	section := &imap.BodySectionName{}
	messages := make(chan *imap.Message, 10)
	done := make(chan error, 1)
	go func() {
		done <- c.Fetch(seqset, []imap.FetchItem{imap.FetchEnvelope, section.FetchItem()}, messages)
	}()

	for msg := range messages {
		body := msg.GetBody(section)
		if body == nil {
			continue
		}
		recipient, reason := parseBounceMessage(body)
		if recipient == "" {
			continue
		}
		w.recordBounce(account, recipient, reason)
	}
	if err := <-done; err != nil {
		w.logger.WithField("account_id", account.ID).Warnf("imap fetch: %v", err)
	}
}

var failedRecipientRe = regexp.MustCompile(`(?i)(?:Final-Recipient:\s*rfc822;\s*|X-Failed-Recipients:\s*)([^\s<>;,]+@[^\s<>;,]+)`)

// parseBounceMessage extracts the failed recipient and a diagnostic line
// from a DSN body. Returns an empty recipient when the message is not
// recognizably a bounce.
func parseBounceMessage(r io.Reader) (string, string) {
	mr, err := mail.CreateReader(r)
	var text strings.Builder
	if err == nil {
		for {
			part, err := mr.NextPart()
			if err != nil {
				break
			}
			raw, _ := io.ReadAll(part.Body)
			text.Write(raw)
			text.WriteByte('\n')
		}
	} else {
		raw, _ := io.ReadAll(r)
		text.Write(raw)
	}

	body := text.String()
	match := failedRecipientRe.FindStringSubmatch(body)
	if match == nil {
		return "", ""
	}

	reason := "recipient rejected"
	for _, line := range strings.Split(body, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(strings.ToLower(trimmed), "diagnostic-code:") {
			reason = strings.TrimSpace(trimmed[len("Diagnostic-Code:"):])
			break
		}
	}
	return strings.ToLower(match[1]), reason
}

// recordBounce flips the most recent delivered tracking record for the
// recipient to failed, adjusts the campaign counters and suppresses the
// contact from future sends.
func (w *BounceWorker) recordBounce(account *models.EmailAccount, recipient, reason string) {
	var tracking models.EmailTracking
	err := w.db.Where("email_account_id = ? AND LOWER(recipient) = ? AND status = ?",
		account.ID, recipient, "delivered").
		Order("created_at DESC").
		First(&tracking).Error
	if err != nil {
		return
	}

	now := time.Now()
	if err := w.db.Model(&tracking).Updates(map[string]interface{}{
		"status":        "failed",
		"bounced_at":    now,
		"bounce_reason": reason,
	}).Error; err != nil {
		w.logger.WithField("tracking_id", tracking.ID).Errorf("failed to record bounce: %v", err)
		return
	}

	w.db.Model(&models.Campaign{}).Where("id = ?", tracking.CampaignID).
		Updates(map[string]interface{}{
			"emails_bounced": gorm.Expr("emails_bounced + ?", 1),
			"emails_sent":    gorm.Expr("GREATEST(emails_sent - 1, 0)"),
		})
	w.db.Model(&models.Contact{}).Where("id = ?", tracking.ContactID).
		Update("is_bounced", true)

	w.logger.WithFields(logrus.Fields{
		"campaign_id": tracking.CampaignID,
		"recipient":   recipient,
	}).Info("bounce recorded")
}
