package domain

import "maps"

// VersionVector maps each participant to the highest contiguous seq known.
// A missing entry means nothing has been seen from that participant.
type VersionVector map[ParticipantID]uint64

func (v VersionVector) Get(p ParticipantID) uint64 {
	return v[p]
}

// Covers reports whether the event id is already accounted for.
func (v VersionVector) Covers(id EventID) bool {
	return id.Seq <= v[id.Participant]
}

func (v VersionVector) Clone() VersionVector {
	if v == nil {
		return VersionVector{}
	}
	return maps.Clone(v)
}

// Observe raises the entry for p to seq if it is higher.
func (v VersionVector) Observe(p ParticipantID, seq uint64) {
	if seq > v[p] {
		v[p] = seq
	}
}

// Ahead reports whether v knows of at least one event other does not.
func (v VersionVector) Ahead(other VersionVector) bool {
	for p, seq := range v {
		if seq > other[p] {
			return true
		}
	}
	return false
}
