// README: Volunteer/dispatcher user record; the core only reads role flags.
package user

import (
	"time"

	"shinua/internal/types"
)

type User struct {
	ID         types.ID
	Phone      string
	Name       string
	Dispatcher bool
	Trainee    bool
	Admin      bool
	Deleted    bool
	CreatedAt  time.Time
}
