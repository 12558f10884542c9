package shared

import (
	"golang.org/x/exp/slices"
)

// Member is one registered participant as seen by the ledger.
type Member struct {
	WorkerInfo
	Stake  float64
	Permit bool
}

// Snapshot is the membership of the network at a given block.
type Snapshot struct {
	Block   uint64
	Members []Member
	index   map[string]int
}

func NewSnapshot(block uint64, members []Member) *Snapshot {
	s := &Snapshot{
		Block:   block,
		Members: members,
		index:   make(map[string]int, len(members)),
	}
	for i, m := range members {
		s.index[m.Identity] = i
	}
	return s
}

// Lookup finds a member by its identity.
func (s *Snapshot) Lookup(identity string) (Member, bool) {
	if s == nil {
		return Member{}, false
	}
	i, ok := s.index[identity]
	if !ok {
		return Member{}, false
	}
	return s.Members[i], true
}

// Identities returns the identities of all members, sorted.
func (s *Snapshot) Identities() []string {
	if s == nil {
		return nil
	}
	ids := make([]string, 0, len(s.Members))
	for _, m := range s.Members {
		ids = append(ids, m.Identity)
	}
	slices.Sort(ids)
	return ids
}

// Serving returns members advertising an address, excluding the given identity.
func (s *Snapshot) Serving(exclude string) []WorkerInfo {
	if s == nil {
		return nil
	}
	workers := make([]WorkerInfo, 0, len(s.Members))
	for _, m := range s.Members {
		if m.Address == "" || m.Identity == exclude {
			continue
		}
		workers = append(workers, m.WorkerInfo)
	}
	return workers
}

func (s *Snapshot) Len() int {
	if s == nil {
		return 0
	}
	return len(s.Members)
}
