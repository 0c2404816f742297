// README: Shared ID value type used across modules.
package types

import "github.com/google/uuid"

// ID is an opaque, globally unique record identifier.
type ID string

func NewID() ID {
	return ID(uuid.NewString())
}

func (id ID) String() string { return string(id) }
