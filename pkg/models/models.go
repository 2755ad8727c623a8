// Package models holds the generic event shapes exchanged between the
// deliberation core and platform adapters. The core never depends on a
// specific platform's wire format; adapters translate to and from these.
package models

import "time"

// InboundEvent is a candidate contribution arriving from any channel:
// a direct API request or a third-party adapter webhook.
type InboundEvent struct {
	Body          string    `json:"body"`
	SourceChannel string    `json:"source_channel"`
	Sender        string    `json:"sender"`
	ReceivedAt    time.Time `json:"received_at"`
}

// OutboundMessage is a persisted contribution on its way out to a
// delivery channel.
type OutboundMessage struct {
	Body          string `json:"body"`
	TargetChannel string `json:"target_channel"`
	Pseudonym     string `json:"pseudonym,omitempty"`
}
