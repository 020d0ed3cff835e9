package utils

import (
	"testing"

	"reachly/models"

	"github.com/stretchr/testify/assert"
)

func TestSubstituteVariables(t *testing.T) {
	vars := map[string]string{
		"first_name": "Ada",
		"company":    "Acme",
	}

	out := SubstituteVariables("Hi {{first_name}} from {{company}}", vars)
	assert.Equal(t, "Hi Ada from Acme", out)
}

func TestSubstituteVariablesEntityEncoded(t *testing.T) {
	// Rich-text editors encode the braces as HTML entities.
	vars := map[string]string{"first_name": "Ada"}

	out := SubstituteVariables("Hi &#123;&#123;first_name&#125;&#125;!", vars)
	assert.Equal(t, "Hi Ada!", out)
}

func TestSubstituteVariablesUnknownPlaceholderKept(t *testing.T) {
	out := SubstituteVariables("Hi {{nickname}}", map[string]string{"first_name": "Ada"})
	assert.Equal(t, "Hi {{nickname}}", out)
}

func TestDecodeCampaignEnvelopePlainString(t *testing.T) {
	env := DecodeCampaignEnvelope("Just a plain description")
	assert.Equal(t, "Just a plain description", env.Description)
	assert.Empty(t, env.PersonalizedEmails)
}

func TestDecodeCampaignEnvelopeMalformedJSON(t *testing.T) {
	raw := `{"description": "broken`
	env := DecodeCampaignEnvelope(raw)
	assert.Equal(t, raw, env.Description)
}

func TestDecodeCampaignEnvelopeStructured(t *testing.T) {
	raw := `{"description":"Q3 outreach","sender_name":"Sam","personalized_emails":{"ada@acme.com":{"subject":"Hello Ada","content":"<p>custom</p>"}}}`
	env := DecodeCampaignEnvelope(raw)

	assert.Equal(t, "Q3 outreach", env.Description)
	assert.Equal(t, "Sam", env.SenderName)
	assert.Equal(t, "Hello Ada", env.PersonalizedEmails["ada@acme.com"].Subject)
}

func TestResolveEmailContentOverrideWins(t *testing.T) {
	campaign := &models.Campaign{
		Subject:     "Default subject",
		HTMLContent: "<p>Default body</p>",
		Description: `{"personalized_emails":{"ada@acme.com":{"subject":"For {{first_name}}","content":"<p>Custom for {{company}}</p>"}}}`,
	}
	contact := &models.Contact{FirstName: "Ada", Email: "ada@acme.com", Company: "Acme"}

	subject, content := ResolveEmailContent(campaign, contact)
	assert.Equal(t, "For Ada", subject)
	assert.Equal(t, "<p>Custom for Acme</p>", content)
}

func TestResolveEmailContentFallsBackToCampaign(t *testing.T) {
	campaign := &models.Campaign{
		Subject:     "Hi {{first_name}}",
		HTMLContent: "<p>From {{sender_name}}</p>",
		SenderName:  "Sam",
		Description: `{"personalized_emails":{"other@acme.com":{"subject":"not for this contact"}}}`,
	}
	contact := &models.Contact{FirstName: "Ada", Email: "ada@acme.com"}

	subject, content := ResolveEmailContent(campaign, contact)
	assert.Equal(t, "Hi Ada", subject)
	assert.Equal(t, "<p>From Sam</p>", content)
}

func TestResolveEmailContentSenderNameFromEnvelope(t *testing.T) {
	campaign := &models.Campaign{
		Subject:     "Greetings",
		HTMLContent: "<p>Best, {{sender_name}}</p>",
		Description: `{"sender_name":"Legacy Sender"}`,
	}
	contact := &models.Contact{Email: "ada@acme.com"}

	_, content := ResolveEmailContent(campaign, contact)
	assert.Equal(t, "<p>Best, Legacy Sender</p>", content)
}
