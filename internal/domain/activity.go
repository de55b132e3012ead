package domain

import "time"

// ActivityTypeRower is the Concept2 result type tracked by the campaign
const ActivityTypeRower = "rower"

// Activity is a single workout in the ledger, keyed by the Concept2 result id
type Activity struct {
	ID         int64     `json:"id"`
	ExternalID string    `json:"external_id"`
	AccountID  int64     `json:"account_id"`
	Meters     int64     `json:"meters"`
	Date       time.Time `json:"date"`
	Type       string    `json:"type"`
	Verified   bool      `json:"verified"`
}

// ActivityRecord carries the fields written by a ledger upsert
type ActivityRecord struct {
	AccountID  int64
	ExternalID string
	Meters     int64
	Date       time.Time
	Type       string
	Verified   bool
}
