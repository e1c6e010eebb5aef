package ibc

import "fmt"

// Height is an IBC revision height as defined in ICS-2.
// Chains without revisioned upgrades (Axon, CKB) always use revision number 0.
type Height struct {
	RevisionNumber uint64
	RevisionHeight uint64
}

// NewHeight returns a height with an explicit revision number.
func NewHeight(revisionNumber, revisionHeight uint64) Height {
	return Height{RevisionNumber: revisionNumber, RevisionHeight: revisionHeight}
}

// HeightFromBlockNumber returns a revision-0 height for chains that
// identify blocks with a bare number.
func HeightFromBlockNumber(number uint64) Height {
	return Height{RevisionHeight: number}
}

func (h Height) IsZero() bool {
	return h.RevisionNumber == 0 && h.RevisionHeight == 0
}

// Compare returns -1, 0, or 1 ordering first by revision number,
// then by revision height.
func (h Height) Compare(other Height) int {
	switch {
	case h.RevisionNumber < other.RevisionNumber:
		return -1
	case h.RevisionNumber > other.RevisionNumber:
		return 1
	case h.RevisionHeight < other.RevisionHeight:
		return -1
	case h.RevisionHeight > other.RevisionHeight:
		return 1
	}
	return 0
}

func (h Height) LT(other Height) bool { return h.Compare(other) < 0 }
func (h Height) GT(other Height) bool { return h.Compare(other) > 0 }

func (h Height) String() string {
	return fmt.Sprintf("%d-%d", h.RevisionNumber, h.RevisionHeight)
}
