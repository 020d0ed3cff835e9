package utils

import (
	"encoding/json"
	"strings"

	"reachly/models"
)

// PersonalizedEmail is a per-contact subject/content override, keyed by the
// contact's email address in the legacy campaign envelope.
type PersonalizedEmail struct {
	Subject string `json:"subject"`
	Content string `json:"content"`
}

// CampaignEnvelope is the structured blob older campaigns store in the
// description column: {description, sender_name, personalized_emails}.
type CampaignEnvelope struct {
	Description        string                       `json:"description"`
	SenderName         string                       `json:"sender_name"`
	PersonalizedEmails map[string]PersonalizedEmail `json:"personalized_emails"`
}

// DecodeCampaignEnvelope parses the description column defensively. Rows
// written before the envelope format carry a plain string; those decode into
// an envelope with only Description set.
func DecodeCampaignEnvelope(raw string) CampaignEnvelope {
	trimmed := strings.TrimSpace(raw)
	if !strings.HasPrefix(trimmed, "{") {
		return CampaignEnvelope{Description: raw}
	}
	var env CampaignEnvelope
	if err := json.Unmarshal([]byte(trimmed), &env); err != nil {
		return CampaignEnvelope{Description: raw}
	}
	return env
}

// PersonalizationVars builds the substitution map for one recipient.
func PersonalizationVars(contact *models.Contact, senderName string) map[string]string {
	return map[string]string{
		"first_name":   contact.FirstName,
		"last_name":    contact.LastName,
		"email":        contact.Email,
		"company":      contact.Company,
		"company_name": contact.Company,
		"sender_name":  senderName,
	}
}

// SubstituteVariables replaces {{name}} placeholders with their values.
// Rich-text editors entity-encode the braces, so the
// &#123;&#123;name&#125;&#125; form is substituted as well.
func SubstituteVariables(content string, vars map[string]string) string {
	for name, value := range vars {
		content = strings.ReplaceAll(content, "{{"+name+"}}", value)
		content = strings.ReplaceAll(content, "&#123;&#123;"+name+"&#125;&#125;", value)
	}
	return content
}

// ResolveEmailContent picks the subject/content for one recipient:
// explicit per-contact override, then the campaign's own subject/content,
// then the legacy envelope override. Variables are substituted last.
func ResolveEmailContent(campaign *models.Campaign, contact *models.Contact) (string, string) {
	env := DecodeCampaignEnvelope(campaign.Description)

	senderName := campaign.SenderName
	if senderName == "" {
		senderName = env.SenderName
	}

	subject := campaign.Subject
	content := campaign.HTMLContent

	if pe, ok := env.PersonalizedEmails[contact.Email]; ok {
		if pe.Subject != "" {
			subject = pe.Subject
		}
		if pe.Content != "" {
			content = pe.Content
		}
	}

	vars := PersonalizationVars(contact, senderName)
	return SubstituteVariables(subject, vars), SubstituteVariables(content, vars)
}
