// README: Explicit actor context (id + role flags) threaded through protocol operations.
package auth

// Context identifies the acting user and their role flags. A zero Context
// means the request is anonymous.
type Context struct {
	UserID     string
	Phone      string
	Name       string
	Dispatcher bool
	Trainee    bool
	Admin      bool
}

func (c Context) Authenticated() bool { return c.UserID != "" }

// Privileged reports whether the actor holds the dispatcher or trainee role,
// the roles allowed to see and edit contact details on any task.
func (c Context) Privileged() bool { return c.Dispatcher || c.Trainee }
