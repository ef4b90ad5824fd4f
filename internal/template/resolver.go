package template

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"
	"unicode/utf8"

	"go.uber.org/multierr"

	"github.com/example/clinical-notify/internal/event"
	"github.com/example/clinical-notify/internal/notifylog"
)

// SMSLimit is the hard ceiling on an SMS body, in runes.
const SMSLimit = 320

// NotProvided replaces optional values missing from the payload.
const NotProvided = "not provided"

const ellipsis = "…"

type Key struct {
	Kind    event.Kind
	Channel notifylog.Channel
}

func (k Key) String() string {
	return string(k.Kind) + "/" + string(k.Channel)
}

// Spec is the source of one (kind, channel) template. SMS templates use
// Clauses ordered from most to least essential; e-mail uses Subject and Text;
// in-app uses Text as its one-sentence summary.
type Spec struct {
	Subject string
	Text    string
	Clauses []string
}

type Set map[Key]Spec

type Rendered struct {
	Subject string
	Text    string
	Summary string
	Data    map[string]string
}

type compiled struct {
	subject *template.Template
	text    *template.Template
	clauses []*template.Template
}

type Resolver struct {
	templates map[Key]compiled
}

// NewResolver compiles every template and fails unless each kind has a
// template for each channel.
func NewResolver(set Set) (*Resolver, error) {
	var errs error
	for _, kind := range event.Kinds {
		for _, ch := range notifylog.Channels {
			if _, ok := set[Key{Kind: kind, Channel: ch}]; !ok {
				errs = multierr.Append(errs, fmt.Errorf("missing template %s/%s", kind, ch))
			}
		}
	}

	r := &Resolver{templates: make(map[Key]compiled, len(set))}
	for key, spec := range set {
		c, err := compile(key, spec)
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		r.templates[key] = c
	}
	if errs != nil {
		return nil, errs
	}
	return r, nil
}

func MustDefault() *Resolver {
	r, err := NewResolver(Default())
	if err != nil {
		panic(fmt.Sprintf("default templates: %v", err))
	}
	return r
}

func compile(key Key, spec Spec) (compiled, error) {
	var c compiled
	var err error
	switch key.Channel {
	case notifylog.ChannelSMS:
		if len(spec.Clauses) == 0 {
			return c, fmt.Errorf("template %s: sms needs at least one clause", key)
		}
		for i, clause := range spec.Clauses {
			t, err := parse(fmt.Sprintf("%s#%d", key, i), clause)
			if err != nil {
				return c, err
			}
			c.clauses = append(c.clauses, t)
		}
	case notifylog.ChannelEmail:
		if spec.Subject == "" || spec.Text == "" {
			return c, fmt.Errorf("template %s: email needs subject and text", key)
		}
		if c.subject, err = parse(key.String()+"#subject", spec.Subject); err != nil {
			return c, err
		}
		if c.text, err = parse(key.String(), spec.Text); err != nil {
			return c, err
		}
	case notifylog.ChannelInApp:
		if spec.Text == "" {
			return c, fmt.Errorf("template %s: in-app needs text", key)
		}
		if c.text, err = parse(key.String(), spec.Text); err != nil {
			return c, err
		}
	default:
		return c, fmt.Errorf("template %s: unknown channel", key)
	}
	return c, nil
}

func parse(name, src string) (*template.Template, error) {
	t, err := template.New(name).Funcs(funcs).Parse(src)
	if err != nil {
		return nil, fmt.Errorf("template %s: %w", name, err)
	}
	return t, nil
}

// Resolve renders the message for one channel. It performs no I/O.
func (r *Resolver) Resolve(kind event.Kind, channel notifylog.Channel, e event.NotificationEvent) (Rendered, error) {
	key := Key{Kind: kind, Channel: channel}
	c, ok := r.templates[key]
	if !ok {
		return Rendered{}, fmt.Errorf("no template registered for %s", key)
	}
	v := newView(e)

	switch channel {
	case notifylog.ChannelSMS:
		parts := make([]string, 0, len(c.clauses))
		for _, t := range c.clauses {
			s, err := execute(t, v)
			if err != nil {
				return Rendered{}, err
			}
			if s = strings.Join(strings.Fields(s), " "); s != "" {
				parts = append(parts, s)
			}
		}
		text := fitSMS(parts, SMSLimit)
		return Rendered{Text: text, Summary: text}, nil

	case notifylog.ChannelEmail:
		subject, err := execute(c.subject, v)
		if err != nil {
			return Rendered{}, err
		}
		body, err := execute(c.text, v)
		if err != nil {
			return Rendered{}, err
		}
		return Rendered{Subject: subject, Text: body, Summary: subject}, nil

	default:
		text, err := execute(c.text, v)
		if err != nil {
			return Rendered{}, err
		}
		text = strings.Join(strings.Fields(text), " ")
		return Rendered{Text: text, Summary: text, Data: e.Payload.Clone()}, nil
	}
}

func execute(t *template.Template, v view) (string, error) {
	var buf bytes.Buffer
	if err := t.Execute(&buf, v); err != nil {
		return "", fmt.Errorf("execute %s: %w", t.Name(), err)
	}
	return strings.TrimSpace(buf.String()), nil
}

// fitSMS joins clauses and drops trailing ones until the text fits. A first
// clause that is too long on its own is cut and ends with an ellipsis.
func fitSMS(clauses []string, limit int) string {
	for n := len(clauses); n > 0; n-- {
		text := strings.Join(clauses[:n], " ")
		if utf8.RuneCountInString(text) <= limit {
			return text
		}
	}
	if len(clauses) == 0 {
		return ""
	}
	runes := []rune(clauses[0])
	cut := limit - utf8.RuneCountInString(ellipsis)
	return strings.TrimRight(string(runes[:cut]), " ") + ellipsis
}
