// Package audit records business events for Contestare.
//
// Events are typed structs serialized as JSONL lines. The Logger writes
// events asynchronously via a buffered channel and background drain goroutine.
// An optional RingBuffer keeps the most recent events in memory for the debug
// endpoints.
package audit

import (
	"encoding/json"
	"time"
)

// Level defines event severity for filtering.
type Level string

const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

// Kind identifies the category of an event.
// Dot-delimited: "<subsystem>.<action>".
type Kind string

const (
	KindRegister    Kind = "auth.register"
	KindLogin       Kind = "auth.login"
	KindLoginFailed Kind = "auth.login_failed"
	KindLogout      Kind = "auth.logout"
	KindRateLimited Kind = "auth.rate_limited"

	KindInfractionCreate  Kind = "infraction.create"
	KindInfractionAnalyze Kind = "infraction.analyze"
	KindInfractionContest Kind = "infraction.contest"

	KindContractPurchase Kind = "contract.purchase"
	KindContractDownload Kind = "contract.download"

	KindPaymentApproved Kind = "payment.approved"
	KindPaymentRejected Kind = "payment.rejected"

	KindSubscriptionActivate Kind = "subscription.activate"
	KindSubscriptionCancel   Kind = "subscription.cancel"
	KindSubscriptionExpire   Kind = "subscription.expire"

	KindHTTPRequest Kind = "http.request"

	KindStartup  Kind = "sys.startup"
	KindShutdown Kind = "sys.shutdown"
	KindError    Kind = "sys.error"
)

// Event is one audit record. Every field except Kind and Time is optional.
type Event struct {
	Time       time.Time      `json:"t"`
	Level      Level          `json:"level,omitempty"`
	Kind       Kind           `json:"kind"`
	Comp       string         `json:"comp,omitempty"` // "auth", "contest", "catalog", "payment", "api"
	InstanceID string         `json:"instance_id,omitempty"`
	UserID     int64          `json:"user_id,omitempty"`
	Ref        int64          `json:"ref,omitempty"` // id of the infraction, contract or payment
	Amount     float64        `json:"amount,omitempty"`
	Score      int            `json:"score,omitempty"`
	Dur        time.Duration  `json:"-"`
	DurMs      float64        `json:"dur_ms,omitempty"`
	Err        string         `json:"err,omitempty"`
	Msg        string         `json:"msg,omitempty"`
	Extra      map[string]any `json:"extra,omitempty"`
}

// MarshalJSON converts Dur to DurMs.
func (e Event) MarshalJSON() ([]byte, error) {
	type Alias Event
	a := struct {
		Alias
	}{Alias: Alias(e)}
	if e.Dur > 0 {
		a.DurMs = float64(e.Dur) / float64(time.Millisecond)
	}
	return json.Marshal(a)
}
