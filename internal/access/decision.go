// Package access evaluates per-operation access decisions against the
// membership graph. Resolution is stateless, never errors and never
// mutates: ambiguous cases degrade to Neutral so other voters in the host
// system keep the final say.
package access

// Decision is the three-valued outcome of an access check.
type Decision int

const (
	// Neutral defers to other access voters in the host system.
	Neutral Decision = iota
	// Allowed grants access and wins immediately.
	Allowed
	// Forbidden denies access; returned only in strict configurations.
	Forbidden
)

func (d Decision) String() string {
	switch d {
	case Allowed:
		return "allowed"
	case Forbidden:
		return "forbidden"
	default:
		return "neutral"
	}
}

// Operations the engine distinguishes. View is never gated here.
const (
	OpView   = "view"
	OpUpdate = "update"
	OpDelete = "delete"
)

// Account is the narrow capability view of the acting user.
type Account interface {
	ID() string
	HasPermission(permission string) bool
}
