// README: Task status vocabulary and the assignment state machine edges.
package task

type Status string

const (
	StatusDraft        Status = "draft"
	StatusActive       Status = "active"
	StatusAssigned     Status = "assigned"
	StatusCompleted    Status = "completed"
	StatusNotRelevant  Status = "notRelevant"
	StatusOtherProblem Status = "otherProblem"
)

var statusCaptions = map[Status]string{
	StatusDraft:        "טיוטא",
	StatusActive:       "פתוח לרישום",
	StatusAssigned:     "שוייך לנהג",
	StatusCompleted:    "הסתיים בהצלחה",
	StatusNotRelevant:  "לא רלוונטי",
	StatusOtherProblem: "בעיה אחרת",
}

var statusColors = map[Status]string{
	StatusDraft:        "gray",
	StatusActive:       "blue",
	StatusAssigned:     "orange",
	StatusCompleted:    "green",
	StatusNotRelevant:  "red",
	StatusOtherProblem: "red",
}

func (s Status) Caption() string {
	if c, ok := statusCaptions[s]; ok {
		return c
	}
	return string(s)
}

func (s Status) Color() string {
	if c, ok := statusColors[s]; ok {
		return c
	}
	return "gray"
}

// OpenStatuses are the statuses a task can hold while still in play.
var OpenStatuses = []Status{StatusActive, StatusAssigned, StatusOtherProblem}

// TerminalStatuses are the resolved statuses.
var TerminalStatuses = []Status{StatusCompleted, StatusNotRelevant}

// IsTerminal reports whether the status is resolved.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusNotRelevant
}

// DriverAttached reports whether a task in this status carries a driver.
func (s Status) DriverAttached() bool {
	switch s {
	case StatusAssigned, StatusCompleted, StatusNotRelevant, StatusOtherProblem:
		return true
	}
	return false
}

// AllowedTransitions represents the assignment state flow as code. Edges out
// of terminal statuses are dispatcher overrides; assigned -> assigned exists
// only for the status-click undo.
var AllowedTransitions = map[Status][]Status{
	StatusDraft:        {StatusActive, StatusNotRelevant},
	StatusActive:       {StatusAssigned, StatusDraft, StatusNotRelevant},
	StatusAssigned:     {StatusCompleted, StatusNotRelevant, StatusOtherProblem, StatusActive, StatusAssigned, StatusDraft},
	StatusOtherProblem: {StatusAssigned, StatusActive, StatusNotRelevant, StatusDraft},
	StatusCompleted:    {StatusAssigned, StatusActive, StatusDraft},
	StatusNotRelevant:  {StatusAssigned, StatusActive, StatusDraft},
}

func CanTransition(from, to Status) bool {
	next, ok := AllowedTransitions[from]
	if !ok {
		return false
	}
	for _, s := range next {
		if s == to {
			return true
		}
	}
	return false
}

// Urgency grades a request. Captions are display-only.
type Urgency string

const (
	UrgencyNormal     Urgency = "normal"
	UrgencyUrgent     Urgency = "urgent"
	UrgencyVeryUrgent Urgency = "veryUrgent"
)

var urgencyCaptions = map[Urgency]string{
	UrgencyNormal:     "רגיל",
	UrgencyUrgent:     "דחוף",
	UrgencyVeryUrgent: "דחוף מאוד",
}

func (u Urgency) Caption() string {
	if c, ok := urgencyCaptions[u]; ok {
		return c
	}
	return string(u)
}
