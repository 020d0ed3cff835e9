package utils

import (
	"context"
	"errors"
	"fmt"
	"net/smtp"
	"time"

	"reachly/models"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"gopkg.in/gomail.v2"
	"gorm.io/gorm"
)

// DispatchRequest is the contract between the campaign worker and the mail
// layer. TrackingID/PixelID come from the pending tracking record created
// before the send.
type DispatchRequest struct {
	To          string
	Subject     string
	Content     string
	Account     *models.EmailAccount
	SenderName  string
	TrackingID  string
	PixelID     string
	TrackOpens  bool
	TrackClicks bool
}

// DispatchResult reports the outcome of one send.
type DispatchResult struct {
	Status    string // sent, failed
	MessageID string
	Error     string
}

// EmailDispatcher sends campaign mail through the user's SMTP or Gmail OAuth
// account and injects open and click tracking into the body.
type EmailDispatcher struct {
	DB          *gorm.DB
	Logger      *logrus.Logger
	TrackingURL string

	google *oauth2.Config
}

func NewEmailDispatcher(db *gorm.DB, logger *logrus.Logger, trackingURL, googleClientID, googleClientSecret string) *EmailDispatcher {
	return &EmailDispatcher{
		DB:          db,
		Logger:      logger,
		TrackingURL: trackingURL,
		google: &oauth2.Config{
			ClientID:     googleClientID,
			ClientSecret: googleClientSecret,
			Endpoint:     google.Endpoint,
			Scopes:       []string{"https://mail.google.com/"},
		},
	}
}

// Send dispatches one message. Failures are returned in the result, not as an
// error, so the caller records them per recipient and moves on.
func (d *EmailDispatcher) Send(req DispatchRequest) DispatchResult {
	if req.Account == nil {
		return DispatchResult{Status: "failed", Error: "no email account configured"}
	}

	messageID := fmt.Sprintf("<%s@%s>", uuid.New().String(), domainOf(req.Account.FromEmail))

	body := d.renderBody(req)

	fromName := req.SenderName
	if fromName == "" {
		fromName = req.Account.FromName
	}

	m := gomail.NewMessage()
	m.SetHeader("From", fmt.Sprintf("%s <%s>", fromName, req.Account.FromEmail))
	m.SetHeader("To", req.To)
	m.SetHeader("Subject", req.Subject)
	m.SetHeader("Message-ID", messageID)
	m.SetBody("text/html", body)

	dialer, err := d.dialerFor(req.Account)
	if err != nil {
		d.Logger.WithFields(logrus.Fields{
			"account_id": req.Account.ID,
			"error":      err,
		}).Error("failed to prepare mail dialer")
		return DispatchResult{Status: "failed", Error: err.Error()}
	}

	if err := dialer.DialAndSend(m); err != nil {
		d.Logger.WithFields(logrus.Fields{
			"account_id": req.Account.ID,
			"recipient":  req.To,
			"error":      err,
		}).Error("send failed")
		return DispatchResult{Status: "failed", Error: err.Error()}
	}

	d.DB.Model(&models.EmailAccount{}).
		Where("id = ?", req.Account.ID).
		Updates(map[string]interface{}{
			"sent_today": gorm.Expr("sent_today + ?", 1),
			"total_sent": gorm.Expr("total_sent + ?", 1),
		})

	return DispatchResult{Status: "sent", MessageID: messageID}
}

// renderBody applies the campaign's tracking options to the message content.
// Links are rewritten before the pixel is added so the pixel's own URL is
// never routed through the click redirect.
func (d *EmailDispatcher) renderBody(req DispatchRequest) string {
	body := req.Content
	if req.TrackingID == "" {
		return body
	}
	if req.TrackClicks {
		body = InjectClickTracking(body, d.TrackingURL, req.TrackingID)
	}
	if req.TrackOpens {
		body = InjectTrackingPixel(body, d.TrackingURL, req.TrackingID, req.PixelID)
	}
	return body
}

func (d *EmailDispatcher) dialerFor(account *models.EmailAccount) (*gomail.Dialer, error) {
	switch account.ProviderType {
	case "gmail":
		token, err := d.refreshOAuthToken(account)
		if err != nil {
			return nil, fmt.Errorf("oauth token refresh failed: %w", err)
		}
		dialer := gomail.NewDialer("smtp.gmail.com", 587, account.FromEmail, "")
		dialer.Auth = &xoauth2Auth{username: account.FromEmail, token: token}
		return dialer, nil
	default:
		if account.SMTPHost == "" {
			return nil, errors.New("account has no SMTP host configured")
		}
		return gomail.NewDialer(account.SMTPHost, account.SMTPPort, account.SMTPUsername, account.SMTPPassword), nil
	}
}

// refreshOAuthToken exchanges the stored refresh token for a live access
// token and persists the rotated token when the provider returns one.
func (d *EmailDispatcher) refreshOAuthToken(account *models.EmailAccount) (string, error) {
	if account.OAuthToken != "" && time.Now().Before(account.OAuthExpiry.Add(-2*time.Minute)) {
		return account.OAuthToken, nil
	}
	if account.OAuthRefreshToken == "" {
		return "", errors.New("account has no OAuth refresh token")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	source := d.google.TokenSource(ctx, &oauth2.Token{RefreshToken: account.OAuthRefreshToken})
	token, err := source.Token()
	if err != nil {
		return "", err
	}

	updates := map[string]interface{}{
		"oauth_token":  token.AccessToken,
		"oauth_expiry": token.Expiry,
	}
	if token.RefreshToken != "" {
		updates["oauth_refresh_token"] = token.RefreshToken
	}
	if err := d.DB.Model(&models.EmailAccount{}).Where("id = ?", account.ID).Updates(updates).Error; err != nil {
		d.Logger.WithField("account_id", account.ID).Warnf("failed to persist refreshed token: %v", err)
	}

	account.OAuthToken = token.AccessToken
	account.OAuthExpiry = token.Expiry
	return token.AccessToken, nil
}

// xoauth2Auth implements SASL XOAUTH2 for Gmail SMTP.
type xoauth2Auth struct {
	username string
	token    string
}

func (a *xoauth2Auth) Start(_ *smtp.ServerInfo) (string, []byte, error) {
	resp := fmt.Sprintf("user=%s\x01auth=Bearer %s\x01\x01", a.username, a.token)
	return "XOAUTH2", []byte(resp), nil
}

func (a *xoauth2Auth) Next(fromServer []byte, more bool) ([]byte, error) {
	if more {
		// Server sent an error challenge; reply with an empty line so it
		// returns the final SMTP error.
		return []byte(""), nil
	}
	return nil, nil
}

func domainOf(email string) string {
	for i := len(email) - 1; i >= 0; i-- {
		if email[i] == '@' {
			return email[i+1:]
		}
	}
	return "localhost"
}
