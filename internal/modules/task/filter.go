// README: Role-based row visibility, expressed as a SQL predicate.
package task

import (
	"time"

	sq "github.com/Masterminds/squirrel"

	"shinua/internal/auth"
)

// recentlyResolvedWindow keeps a driver's just-resolved tasks visible to
// them briefly after resolution.
const recentlyResolvedWindow = 24 * time.Hour

// VisibilityFilter returns the predicate restricting which task rows the
// actor may query. Dispatchers are unrestricted; trainees additionally see
// their own drafts; everyone else gets the active-task view.
func VisibilityFilter(a auth.Context, now time.Time) sq.Sqlizer {
	if a.Dispatcher {
		return sq.Expr("TRUE")
	}
	active := activeTasksFilter(a, now)
	if a.Trainee {
		return sq.Or{
			sq.And{
				sq.Eq{"task_status": string(StatusDraft)},
				sq.Eq{"create_user_id": a.UserID},
			},
			active,
		}
	}
	return active
}

// Visible is the in-memory mirror of VisibilityFilter, used when loading a
// single row.
func Visible(a auth.Context, t *Task, now time.Time) bool {
	if a.Dispatcher {
		return true
	}
	if a.Trainee && t.TaskStatus == StatusDraft && t.CreateUserID == a.UserID {
		return true
	}
	if t.TaskStatus == StatusDraft {
		return false
	}
	if t.TaskStatus == StatusActive {
		return true
	}
	if t.DriverID != a.UserID {
		return false
	}
	return t.TaskStatus == StatusAssigned || !t.StatusChangeDate.Before(now.Add(-recentlyResolvedWindow))
}

// activeTasksFilter: not a draft, and either open for claiming, assigned to
// the caller, or resolved for the caller within the last 24 hours.
func activeTasksFilter(a auth.Context, now time.Time) sq.Sqlizer {
	cutoff := now.Add(-recentlyResolvedWindow)
	return sq.And{
		sq.NotEq{"task_status": string(StatusDraft)},
		sq.Or{
			sq.Eq{"task_status": string(StatusActive)},
			sq.And{
				sq.Eq{"driver_id": a.UserID},
				sq.Eq{"task_status": string(StatusAssigned)},
			},
			sq.And{
				sq.Eq{"driver_id": a.UserID},
				sq.GtOrEq{"status_change_date": cutoff},
			},
		},
	}
}
