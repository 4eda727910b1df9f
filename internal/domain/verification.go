package domain

import "time"

// PendingVerification is an outstanding proof-of-ownership challenge. The
// requester proves control of the Roblox account by placing Code in the
// account's profile description.
type PendingVerification struct {
	Username    string // lowercased registry key
	RequesterID string
	Code        string
	IssuedAt    time.Time
}

// Age returns how long the challenge has been outstanding at now.
func (p PendingVerification) Age(now time.Time) time.Duration {
	return now.Sub(p.IssuedAt)
}
