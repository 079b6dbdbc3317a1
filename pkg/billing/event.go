package billing

import "time"

// VerifiedEvent is a webhook payload whose signature has been checked.
// Payload holds the provider's event object as raw JSON.
type VerifiedEvent struct {
	ID      string
	Type    string
	Created time.Time
	Payload []byte
}
