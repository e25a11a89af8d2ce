package models

import "time"

// Side identifies which data source holds a version of an entity.
type Side int

const (
	SideLocal Side = iota
	SideRemote
)

func (s Side) String() string {
	if s == SideLocal {
		return "local"
	}
	return "remote"
}

// Conflict records diverging local and remote versions of the same identity,
// produced only under bidirectional sync. A conflict is never left
// unresolved: the configured strategy picks exactly one authoritative
// version, which is written back to the losing side.
type Conflict struct {
	EntityType     string
	ID             string
	Local          *Entity
	Remote         *Entity
	LocalModified  time.Time
	RemoteModified time.Time
}
