package models

import "fmt"

// Mode selects how operations are routed between the remote API and the
// local store. The zero value means "no preference" and defers to the next
// level of configuration (per-call override, per-type setting, global
// default, in that order).
type Mode int

const (
	ModeUnset Mode = iota
	// ModeRemoteOnly reads and writes go to the remote API (reads cached).
	ModeRemoteOnly
	// ModeLocalOnly reads and writes go to the local store.
	ModeLocalOnly
	// ModeLocalFirst reads consult the local store and fall back to the
	// remote API on a miss; writes touch only the local store.
	ModeLocalFirst
	// ModeRemoteFirst reads go remote (cached) and persist results into
	// the local store; writes go remote then mirror locally. A remote
	// failure falls back to a local read.
	ModeRemoteFirst
	// ModeBidirectional reads pick whichever side is fresher by its
	// last-modified timestamp; writes go to both sides and divergence is
	// resolved by the sync reconciler.
	ModeBidirectional
)

var modeNames = map[Mode]string{
	ModeUnset:         "",
	ModeRemoteOnly:    "remote_only",
	ModeLocalOnly:     "local_only",
	ModeLocalFirst:    "local_first",
	ModeRemoteFirst:   "remote_first",
	ModeBidirectional: "bidirectional",
}

func (m Mode) String() string {
	if name, ok := modeNames[m]; ok {
		return name
	}
	return fmt.Sprintf("mode(%d)", int(m))
}

// ParseMode parses a configuration string into a Mode.
func ParseMode(s string) (Mode, error) {
	for m, name := range modeNames {
		if name == s && m != ModeUnset {
			return m, nil
		}
	}
	return ModeUnset, fmt.Errorf("unknown hybrid mode %q", s)
}

// UsesRemote reports whether the mode ever touches the remote API.
func (m Mode) UsesRemote() bool {
	return m == ModeRemoteOnly || m == ModeLocalFirst || m == ModeRemoteFirst || m == ModeBidirectional
}

// UsesLocal reports whether the mode ever touches the local store.
func (m Mode) UsesLocal() bool {
	return m != ModeRemoteOnly && m != ModeUnset
}
