package telephony

import (
	"net/url"
	"strconv"

	"callcenter-engine/internal/domain"
)

// StatusCallback is one normalized provider status delivery. Field names
// follow the provider's form keys (CallSid, CallStatus, ...), mapped to our
// vocabulary at the dispatch layer.
type StatusCallback struct {
	ProviderCallID string
	AccountID      string
	From           string
	To             string
	CallStatus     string
	Direction      string
	Duration       int
	RecordingURL   string
	Digits         string
	SpeechResult   string
}

// ParseStatusCallback validates the form fields of a status callback
// delivery. Malformed payloads fail fast with a validation error; the event
// is dropped by the caller.
func ParseStatusCallback(form url.Values) (StatusCallback, error) {
	cb := StatusCallback{
		ProviderCallID: form.Get("CallSid"),
		AccountID:      form.Get("AccountSid"),
		From:           form.Get("From"),
		To:             form.Get("To"),
		CallStatus:     form.Get("CallStatus"),
		Direction:      form.Get("Direction"),
		RecordingURL:   form.Get("RecordingUrl"),
		Digits:         form.Get("Digits"),
		SpeechResult:   form.Get("SpeechResult"),
	}
	if cb.ProviderCallID == "" {
		return StatusCallback{}, domain.E(domain.CodeValidation, "status callback missing CallSid")
	}
	if cb.CallStatus == "" {
		return StatusCallback{}, domain.E(domain.CodeValidation, "status callback missing CallStatus")
	}
	if d := form.Get("CallDuration"); d != "" {
		n, err := strconv.Atoi(d)
		if err != nil {
			return StatusCallback{}, domain.Errorf(domain.CodeValidation, "bad CallDuration %q", d)
		}
		cb.Duration = n
	}
	return cb, nil
}

// InboundCall is a new incoming call announcement, delivered before the
// first status callback.
type InboundCall struct {
	ProviderCallID string
	AccountID      string
	From           string
	To             string
}

func ParseInboundCall(form url.Values) (InboundCall, error) {
	in := InboundCall{
		ProviderCallID: form.Get("CallSid"),
		AccountID:      form.Get("AccountSid"),
		From:           form.Get("From"),
		To:             form.Get("To"),
	}
	if in.ProviderCallID == "" {
		return InboundCall{}, domain.E(domain.CodeValidation, "inbound call missing CallSid")
	}
	if in.From == "" || in.To == "" {
		return InboundCall{}, domain.E(domain.CodeValidation, "inbound call missing From/To")
	}
	return in, nil
}
