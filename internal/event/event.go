// Package event defines the small vocabulary shared between monitors,
// operators and the engine, kept separate so none of those packages need
// to import each other just to see this type.
package event

// Code identifies the kind of filesystem change a monitor observed.
type Code int

const (
	New Code = iota
	Modified
	Deleted
)

func (c Code) String() string {
	switch c {
	case New:
		return "NEW"
	case Modified:
		return "MODIFIED"
	case Deleted:
		return "DELETED"
	default:
		return "UNKNOWN"
	}
}

// Parse recovers a Code from its String form, round-tripping the driver's
// string-typed Event.Code back into the engine's enum.
func Parse(s string) (Code, bool) {
	switch s {
	case "NEW":
		return New, true
	case "MODIFIED":
		return Modified, true
	case "DELETED":
		return Deleted, true
	default:
		return 0, false
	}
}
