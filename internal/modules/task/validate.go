// README: Field validation and the validUntil derivation.
package task

import (
	"strconv"
	"strings"
	"time"

	"shinua/internal/config"
	"shinua/internal/phone"
)

// ValidationError reports a field-level problem the caller can correct and
// resubmit.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Field + ": " + e.Message
}

// Validate checks a task before persisting it. isNew relaxes nothing here;
// it only drives the conditional requester/image rules.
func Validate(t *Task, site config.Site, isNew bool) error {
	if strings.TrimSpace(t.Title) == "" {
		return &ValidationError{Field: "title", Message: "שדה חובה"}
	}
	if t.EventDate.IsZero() || t.EventDate.Year() < 2018 {
		return &ValidationError{Field: "eventDate", Message: "תאריך שגוי"}
	}
	// Addresses validate through the paired geocode result, not the text.
	if !t.AddressApiResult.Resolved() {
		return &ValidationError{Field: "address", Message: "כתובת לא נמצאה"}
	}
	if !t.ToAddressApiResult.Resolved() {
		return &ValidationError{Field: "toAddress", Message: "כתובת לא נמצאה"}
	}
	for _, f := range []struct{ name, value string }{
		{"phone1", t.Phone1},
		{"phone2", t.Phone2},
		{"toPhone1", t.ToPhone1},
		{"toPhone2", t.ToPhone2},
		{"requesterPhone1", t.RequesterPhone1},
	} {
		if f.value != "" && !phone.Valid(f.value) {
			return &ValidationError{Field: f.name, Message: "טלפון לא תקין"}
		}
	}
	if t.Phone1 == "" {
		return &ValidationError{Field: "phone1", Message: "שדה חובה"}
	}
	if site.UseFillerInfo && isNew && t.RequesterPhone1 == "" {
		return &ValidationError{Field: "requesterPhone1", Message: "שדה חובה"}
	}
	if site.ImageIsMandatory && isNew && t.ImageID == "" {
		return &ValidationError{Field: "imageId", Message: "אנא העלה תמונה"}
	}
	return nil
}

// CalcValidUntil derives the relevance deadline:
// eventDate at midnight + start time + relevantHours, minus a fixed 3-hour
// offset. The -3 is a hardcoded timezone correction carried over as-is, not
// a live timezone lookup.
func CalcValidUntil(eventDate time.Time, startTime string, relevantHours int) time.Time {
	hours, minutes := parseStartTime(startTime)
	base := time.Date(eventDate.Year(), eventDate.Month(), eventDate.Day(), 0, 0, 0, 0, eventDate.Location())
	return base.Add(time.Duration(hours+relevantHours-3)*time.Hour + time.Duration(minutes)*time.Minute)
}

func parseStartTime(s string) (hours, minutes int) {
	if len(s) >= 5 {
		hours, _ = strconv.Atoi(s[0:2])
		minutes, _ = strconv.Atoi(s[3:5])
	}
	return hours, minutes
}
