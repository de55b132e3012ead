package concept2

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rowpledge/internal/domain"
)

// ID is a Concept2 identifier. The logbook emits ids as JSON numbers while
// webhooks and some proxies send strings, so both are accepted.
type ID string

// UnmarshalJSON accepts a JSON string or number
func (id *ID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = ID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("concept2 id must be a string or number: %w", err)
	}
	*id = ID(n.String())
	return nil
}

func (id ID) String() string {
	return string(id)
}

// Result is a logbook workout as returned by the results endpoint and carried
// in result-added webhooks
type Result struct {
	ID       ID     `json:"id" validate:"required"`
	UserID   ID     `json:"user_id" validate:"required"`
	Date     string `json:"date" validate:"required"`
	Distance int64  `json:"distance" validate:"required,gt=0"`
	Time     int64  `json:"time" validate:"required"`
	Type     string `json:"type"`
	Verified bool   `json:"verified"`
}

// User is the authenticated logbook user
type User struct {
	ID       ID     `json:"id"`
	Username string `json:"username"`
}

type resultsPage struct {
	Data []Result `json:"data"`
	Meta struct {
		Pagination struct {
			Total       int `json:"total"`
			Count       int `json:"count"`
			PerPage     int `json:"per_page"`
			CurrentPage int `json:"current_page"`
			TotalPages  int `json:"total_pages"`
		} `json:"pagination"`
	} `json:"meta"`
}

// userEnvelope handles both a bare user object and one wrapped in "data"
type userEnvelope struct {
	User
	Data *User `json:"data"`
}

var dateLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	domain.DayLayout,
}

// ParseDate parses a logbook date. Values without an offset are read in loc.
func ParseDate(value string, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.UTC
	}
	value = strings.TrimSpace(value)
	for _, layout := range dateLayouts {
		if t, err := time.ParseInLocation(layout, value, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised date %q", value)
}

// Record converts the result into a ledger write for the given account
func (r *Result) Record(accountID int64, loc *time.Location) (domain.ActivityRecord, error) {
	date, err := ParseDate(r.Date, loc)
	if err != nil {
		return domain.ActivityRecord{}, err
	}
	resultType := r.Type
	if resultType == "" {
		resultType = domain.ActivityTypeRower
	}
	return domain.ActivityRecord{
		AccountID:  accountID,
		ExternalID: r.ID.String(),
		Meters:     r.Distance,
		Date:       date,
		Type:       resultType,
		Verified:   r.Verified,
	}, nil
}
