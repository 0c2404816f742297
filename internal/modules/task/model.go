// README: Task aggregate (one transport request) and the status-change ledger entry.
package task

import (
	"fmt"
	"time"

	"shinua/internal/geo"
	"shinua/internal/types"
)

type Task struct {
	ID types.ID
	// ExternalID is the human-visible sequential identifier, assigned once
	// from task_seq on first insert and immutable afterwards.
	ExternalID  string
	Title       string
	Description string
	Category    string
	Urgency     Urgency

	TaskStatus       Status
	StatusChangeDate time.Time
	StatusNotes      string

	EventDate     time.Time
	StartTime     string // "HH:MM"
	RelevantHours int
	// ValidUntil is derived from EventDate/StartTime/RelevantHours; never
	// user-editable.
	ValidUntil time.Time

	Address            string
	AddressApiResult   *geo.Result
	ToAddress          string
	ToAddressApiResult *geo.Result

	Phone1                     string
	Phone1Description          string
	Phone2                     string
	Phone2Description          string
	ToPhone1                   string
	ToPhone1Description        string
	ToPhone2                   string
	ToPhone2Description        string
	RequesterPhone1            string
	RequesterPhone1Description string

	ImageID          string
	InternalComments string

	// DriverID is empty iff no driver is attached. Only protocol operations
	// set or clear it.
	DriverID                string
	CreateUserID            string
	ResponsibleDispatcherID string

	CreatedAt time.Time
}

// ShortDescription is the one-line summary used in messages and fan-out
// events: category, title, origin and destination cities, external id.
func (t *Task) ShortDescription() string {
	prefix := ""
	if t.Category != "" {
		prefix = t.Category + ": "
	}
	return fmt.Sprintf("%s%s מ%s ל%s (%s)",
		prefix,
		t.Title,
		geo.City(t.AddressApiResult, t.Address),
		geo.City(t.ToAddressApiResult, t.ToAddress),
		t.ExternalID,
	)
}

// StatusChange is one immutable ledger entry; entries are append-only and
// never updated or deleted.
type StatusChange struct {
	ID          types.ID
	TaskID      types.ID
	What        string
	EventStatus Status
	Notes       string
	// DriverID is the driver attached to the task at the moment of the
	// change, not necessarily the actor.
	DriverID     string
	CreateUserID string
	CreatedAt    time.Time
}

// Ledger action labels. The hourly claim rate limit counts entries by
// ActionAssigned, so these literals are load-bearing.
const (
	ActionCreated          = "יצירה"
	ActionAssigned         = "שוייך לנהג"
	ActionDriverCancelled  = "נהג ביטל שיוך"
	ActionReturnedToDriver = "מוקדן החזיר לנהג"
	ActionReturnedToActive = "מוקדן החזיר לפעיל"
	ActionDraftApproved    = "טיוטה אושרה"
	ActionMarkedDraft      = "סמן כטיוטא"
	ActionClickedByMistake = "עדכון סטטוס נלחץ בטעות"

	NoteByDispatcher = "על ידי מוקדן"
)
