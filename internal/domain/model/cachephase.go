package model

// CachePhase is the lifecycle phase of the repository cache.
type CachePhase int

const (
	// PhaseEmpty is the initial phase; nothing has been fetched yet.
	PhaseEmpty CachePhase = iota
	// PhasePopulating means a bulk refresh is in flight.
	PhasePopulating
	// PhasePopulated means entries hold a complete snapshot.
	PhasePopulated
	// PhaseInvalidated means entries were discarded by a purge or a failed refresh.
	PhaseInvalidated
)

// String returns a human-readable name for the phase.
func (p CachePhase) String() string {
	switch p {
	case PhaseEmpty:
		return "empty"
	case PhasePopulating:
		return "populating"
	case PhasePopulated:
		return "populated"
	case PhaseInvalidated:
		return "invalidated"
	default:
		return "unknown"
	}
}
