package utils

import (
	"fmt"
	"regexp"
	"strings"

	"sendloop/models"
)

// placeholderPattern matches {{variable}} tokens, with optional inner
// whitespace.
var placeholderPattern = regexp.MustCompile(`\{\{\s*([a-zA-Z0-9_]+)\s*\}\}`)

// TemplateRenderer substitutes contact fields into message bodies.
// Built-in variables are name, phone and first_name; anything else is
// looked up in the contact's extra fields. An unknown variable is an
// error, not an empty substitution: a half-rendered message reaching a
// real phone is worse than a recorded failure.
type TemplateRenderer struct{}

func NewTemplateRenderer() *TemplateRenderer {
	return &TemplateRenderer{}
}

func (t *TemplateRenderer) Render(body string, contact *models.Contact, campaign *models.Campaign) (string, error) {
	var missing []string
	rendered := placeholderPattern.ReplaceAllStringFunc(body, func(token string) string {
		name := placeholderPattern.FindStringSubmatch(token)[1]
		value, ok := t.lookup(name, contact, campaign)
		if !ok {
			missing = append(missing, name)
			return token
		}
		return value
	})
	if len(missing) > 0 {
		return "", fmt.Errorf("unknown template variables: %s", strings.Join(missing, ", "))
	}
	return rendered, nil
}

func (t *TemplateRenderer) lookup(name string, contact *models.Contact, campaign *models.Campaign) (string, bool) {
	switch name {
	case "name":
		return contact.Name, true
	case "first_name":
		if first, _, found := strings.Cut(contact.Name, " "); found {
			return first, true
		}
		return contact.Name, true
	case "phone", "phone_number":
		return contact.PhoneNumber, true
	case "campaign":
		return campaign.Name, true
	}
	if contact.Extra != nil {
		if value, ok := contact.Extra[name]; ok {
			return value, true
		}
	}
	return "", false
}

// ExtractVariables lists the distinct placeholder names in a body, in
// first-appearance order. Used to validate variants against a contact
// list at campaign creation time.
func ExtractVariables(body string) []string {
	seen := make(map[string]bool)
	var names []string
	for _, m := range placeholderPattern.FindAllStringSubmatch(body, -1) {
		if !seen[m[1]] {
			seen[m[1]] = true
			names = append(names, m[1])
		}
	}
	return names
}
