package session

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"text/template"

	"github.com/lexiqai/salon-voice-gateway/internal/dialog"
)

// Prompt names the kind of reply a turn calls for.
type Prompt string

const (
	PromptGreeting       Prompt = "greeting"
	PromptAskDetails     Prompt = "ask_details"
	PromptConfirmBooking Prompt = "confirm_booking"
	PromptBooked         Prompt = "booked"
	PromptChangeDetails  Prompt = "change_details"
	PromptCancel         Prompt = "cancel"
	PromptPricing        Prompt = "pricing"
	PromptHours          Prompt = "hours"
	PromptGeneral        Prompt = "general"
	PromptClarify        Prompt = "clarify"
	PromptUnavailable    Prompt = "unavailable"
	PromptHandoff        Prompt = "handoff"
	PromptUrgent         Prompt = "urgent"
)

// Responder turns a prompt and the caller's details into reply text.
type Responder interface {
	Respond(ctx context.Context, p Prompt, info dialog.CallInfo) string
}

// DefaultTemplates are the built-in reply texts. Templates see a
// dialog.CallInfo plus the salon name as .Salon.
var DefaultTemplates = map[Prompt]string{
	PromptGreeting:       "Thanks for calling {{.Salon}}. How can I help you today?",
	PromptAskDetails:     "Sure. {{if not .Service}}Which service would you like{{else}}When would you like to come in for your {{.Service}}{{end}}?",
	PromptConfirmBooking: "So that's a {{.Service}} {{.RequestedTime}}{{if .CustomerName}} for {{.CustomerName}}{{end}}. Shall I book that?",
	PromptBooked:         "You're all set. We'll see you {{.RequestedTime}}. Goodbye!",
	PromptChangeDetails:  "No problem. What would you like to change?",
	PromptCancel:         "I can help with that. What day was your appointment?",
	PromptPricing:        "Prices depend on the stylist and service. I can have someone text you our price list.",
	PromptHours:          "We're open Tuesday through Saturday, nine to seven.",
	PromptGeneral:        "Happy to help. Would you like to book an appointment?",
	PromptClarify:        "Sorry, I didn't quite catch that. Could you say it again?",
	PromptUnavailable:    "Sorry, I'm having trouble hearing you. Could you repeat that?",
	PromptHandoff:        "Let me connect you with someone from the salon. One moment please.",
	PromptUrgent:         "I'm connecting you with a staff member right away.",
}

// TemplateResponder renders replies from text/template strings.
type TemplateResponder struct {
	salon     string
	templates map[Prompt]*template.Template
}

// NewTemplateResponder parses templates, falling back to DefaultTemplates
// for any prompt the overrides leave out.
func NewTemplateResponder(salon string, overrides map[Prompt]string) (*TemplateResponder, error) {
	r := &TemplateResponder{salon: salon, templates: make(map[Prompt]*template.Template)}
	for p, text := range DefaultTemplates {
		if o, ok := overrides[p]; ok {
			text = o
		}
		t, err := template.New(string(p)).Option("missingkey=zero").Parse(text)
		if err != nil {
			return nil, fmt.Errorf("parse %s template: %w", p, err)
		}
		r.templates[p] = t
	}
	return r, nil
}

type templateData struct {
	dialog.CallInfo
	Salon string
}

// Respond implements Responder. Render failures fall back to the clarify text.
func (r *TemplateResponder) Respond(_ context.Context, p Prompt, info dialog.CallInfo) string {
	t, ok := r.templates[p]
	if !ok {
		t = r.templates[PromptClarify]
	}
	var buf bytes.Buffer
	if err := t.Execute(&buf, templateData{CallInfo: info, Salon: r.salon}); err != nil {
		return DefaultTemplates[PromptClarify]
	}
	return strings.Join(strings.Fields(buf.String()), " ")
}

var (
	affirmatives = []string{"yes", "yeah", "yep", "yup", "sure", "correct", "right", "perfect", "sounds good", "please do", "go ahead", "that works", "book it", "confirm"}
	negatives    = []string{"no", "nope", "not", "wrong", "change", "actually", "wait", "instead"}
)

// confirmation classifies an answer to a yes/no question. It returns
// (true, true) for yes, (false, true) for no and (false, false) otherwise.
func confirmation(text string) (yes, decided bool) {
	words := " " + strings.Join(strings.Fields(strings.ToLower(stripPunct(text))), " ") + " "
	for _, n := range negatives {
		if strings.Contains(words, " "+n+" ") {
			return false, true
		}
	}
	for _, a := range affirmatives {
		if strings.Contains(words, " "+a+" ") {
			return true, true
		}
	}
	return false, false
}

func stripPunct(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '.', ',', '!', '?', ';', ':', '"':
			return ' '
		}
		return r
	}, s)
}
