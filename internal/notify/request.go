package notify

import (
	"encoding/json"
	"io"

	"github.com/example/clinical-notify/internal/apperr"
	"github.com/example/clinical-notify/internal/event"
	"github.com/example/clinical-notify/internal/notifylog"
)

// Request is the wire form of a notification accepted over HTTP and Kafka:
// the event fields plus optional per-call options.
type Request struct {
	event.NotificationEvent
	Options RequestOptions `json:"options"`
}

type RequestOptions struct {
	Disable      []notifylog.Channel `json:"disable,omitempty"`
	SkipDocument bool                `json:"skip_document,omitempty"`
}

// DecodeRequest reads one JSON request. Malformed JSON is an invalid event.
func DecodeRequest(r io.Reader) (Request, error) {
	var req Request
	if err := json.NewDecoder(r).Decode(&req); err != nil {
		return Request{}, apperr.Wrap(apperr.CodeInvalidEvent, err, "malformed request body")
	}
	return req, nil
}

// Resolve converts wire options into Options, rejecting unknown channels and
// attempts to disable in-app delivery.
func (o RequestOptions) Resolve() (Options, error) {
	opts := Options{SkipDocument: o.SkipDocument}
	for _, ch := range o.Disable {
		switch ch {
		case notifylog.ChannelSMS, notifylog.ChannelEmail:
			if opts.Disable == nil {
				opts.Disable = make(map[notifylog.Channel]bool, len(o.Disable))
			}
			opts.Disable[ch] = true
		case notifylog.ChannelInApp:
			return Options{}, apperr.InvalidEvent("in_app delivery cannot be disabled")
		default:
			return Options{}, apperr.InvalidEvent("unknown channel %q in options.disable", ch)
		}
	}
	return opts, nil
}
