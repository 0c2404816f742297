// README: Contact-field capability table and the gated contact projection.
package task

import (
	"shinua/internal/auth"
	"shinua/internal/phone"
)

// contactField describes one gated phone/name field so the view gate and
// the update merge treat every contact field uniformly.
type contactField struct {
	name string
	get  func(*Task) string
	set  func(*Task, string)
}

var contactFields = []contactField{
	{"phone1", func(t *Task) string { return t.Phone1 }, func(t *Task, v string) { t.Phone1 = v }},
	{"phone1Description", func(t *Task) string { return t.Phone1Description }, func(t *Task, v string) { t.Phone1Description = v }},
	{"phone2", func(t *Task) string { return t.Phone2 }, func(t *Task, v string) { t.Phone2 = v }},
	{"phone2Description", func(t *Task) string { return t.Phone2Description }, func(t *Task, v string) { t.Phone2Description = v }},
	{"toPhone1", func(t *Task) string { return t.ToPhone1 }, func(t *Task, v string) { t.ToPhone1 = v }},
	{"toPhone1Description", func(t *Task) string { return t.ToPhone1Description }, func(t *Task, v string) { t.ToPhone1Description = v }},
	{"toPhone2", func(t *Task) string { return t.ToPhone2 }, func(t *Task, v string) { t.ToPhone2 = v }},
	{"toPhone2Description", func(t *Task) string { return t.ToPhone2Description }, func(t *Task, v string) { t.ToPhone2Description = v }},
	{"requesterPhone1", func(t *Task) string { return t.RequesterPhone1 }, func(t *Task, v string) { t.RequesterPhone1 = v }},
	{"requesterPhone1Description", func(t *Task) string { return t.RequesterPhone1Description }, func(t *Task, v string) { t.RequesterPhone1Description = v }},
}

// CanViewContactInfo: dispatcher or trainee always; a trainee who created the
// task; the currently assigned driver; and anyone on a not-yet-persisted
// record (the anonymous-submission bootstrap case).
func CanViewContactInfo(a auth.Context, t *Task, isNew bool) bool {
	if isNew {
		return true
	}
	if !a.Authenticated() {
		return false
	}
	if a.Privileged() {
		return true
	}
	if t.CreateUserID == a.UserID && a.Trainee {
		return true
	}
	return t.DriverID == a.UserID
}

// CanEditContactInfo matches CanViewContactInfo minus the assigned-driver
// read-only extension.
func CanEditContactInfo(a auth.Context, t *Task, isNew bool) bool {
	if isNew {
		return true
	}
	if !a.Authenticated() {
		return false
	}
	if a.Privileged() {
		return true
	}
	return t.CreateUserID == a.UserID && a.Trainee
}

// RedactContactInfo blanks every gated field on a copy handed to a viewer
// who fails the capability check.
func RedactContactInfo(a auth.Context, t *Task) {
	if CanViewContactInfo(a, t, false) {
		return
	}
	for _, f := range contactFields {
		f.set(t, "")
	}
}

// ContactInfo builds the origin/destination phone projection. Viewers who
// fail the gate get empty lists, not an error.
func ContactInfo(a auth.Context, t *Task) phone.ContactInfo {
	if !a.Dispatcher && t.DriverID != a.UserID {
		return phone.ContactInfo{
			Origin: []phone.ContactPhone{},
			Target: []phone.ContactPhone{},
		}
	}
	return phone.ContactInfo{
		Origin: []phone.ContactPhone{
			{Phone: t.Phone1, FormattedPhone: phone.Format(t.Phone1), Name: t.Phone1Description},
			{Phone: t.Phone2, FormattedPhone: phone.Format(t.Phone2), Name: t.Phone2Description},
		},
		Target: []phone.ContactPhone{
			{Phone: t.ToPhone1, FormattedPhone: phone.Format(t.ToPhone1), Name: t.ToPhone1Description},
			{Phone: t.ToPhone2, FormattedPhone: phone.Format(t.ToPhone2), Name: t.ToPhone2Description},
		},
	}
}
