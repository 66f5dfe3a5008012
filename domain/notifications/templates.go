package notifications

import (
	"fmt"

	"github.com/aymerick/raymond"

	"github.com/emergent-company/tether/domain/relationships"
)

// Message is a rendered notification ready for an out-of-band channel.
type Message struct {
	Subject string
	Text    string
}

type messageTemplate struct {
	subject *raymond.Template
	text    *raymond.Template
}

// Templates renders notifications with Handlebars. Values are inserted with
// triple braces since the output is plain text.
type Templates struct {
	byEvent map[string]messageTemplate
}

var defaultTemplates = map[string][2]string{
	relationships.EventRequestReceived: {
		"{{{actorName}}} wants to connect on Tether",
		"Hi {{{recipientName}}},\n\n" +
			"{{{actorName}}} sent you a friend request." +
			"{{#if message}}\n\n\"{{{message}}}\"{{/if}}\n\n" +
			"Open Tether to accept or decline.\n",
	},
	relationships.EventRequestAccepted: {
		"{{{actorName}}} accepted your friend request",
		"Hi {{{recipientName}}},\n\n" +
			"{{{actorName}}} accepted your friend request. You are now connected.\n",
	},
}

// NewTemplates parses the built-in templates.
func NewTemplates() (*Templates, error) {
	t := &Templates{byEvent: make(map[string]messageTemplate, len(defaultTemplates))}
	for event, src := range defaultTemplates {
		subject, err := raymond.Parse(src[0])
		if err != nil {
			return nil, fmt.Errorf("parse %s subject: %w", event, err)
		}
		text, err := raymond.Parse(src[1])
		if err != nil {
			return nil, fmt.Errorf("parse %s text: %w", event, err)
		}
		t.byEvent[event] = messageTemplate{subject: subject, text: text}
	}
	return t, nil
}

// Has reports whether event has a template.
func (t *Templates) Has(event string) bool {
	_, ok := t.byEvent[event]
	return ok
}

// Render fills the template for event with data.
func (t *Templates) Render(event string, data map[string]any) (Message, error) {
	tpl, ok := t.byEvent[event]
	if !ok {
		return Message{}, fmt.Errorf("no template for event %q", event)
	}
	subject, err := tpl.subject.Exec(data)
	if err != nil {
		return Message{}, fmt.Errorf("render %s subject: %w", event, err)
	}
	text, err := tpl.text.Exec(data)
	if err != nil {
		return Message{}, fmt.Errorf("render %s text: %w", event, err)
	}
	return Message{Subject: subject, Text: text}, nil
}
