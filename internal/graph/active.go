package graph

import "sort"

// activeSet indexes enabled synapses with O(1) insert and swap-remove.
type activeSet struct {
	ids []SynapseID
	pos map[SynapseID]int
}

func (s *activeSet) add(id SynapseID) {
	if s.pos == nil {
		s.pos = make(map[SynapseID]int)
	}
	if _, ok := s.pos[id]; ok {
		return
	}
	s.pos[id] = len(s.ids)
	s.ids = append(s.ids, id)
}

func (s *activeSet) remove(id SynapseID) bool {
	i, ok := s.pos[id]
	if !ok {
		return false
	}
	last := len(s.ids) - 1
	moved := s.ids[last]
	s.ids[i] = moved
	s.pos[moved] = i
	s.ids = s.ids[:last]
	delete(s.pos, id)
	return true
}

func (s *activeSet) contains(id SynapseID) bool {
	_, ok := s.pos[id]
	return ok
}

func (s *activeSet) len() int { return len(s.ids) }

func (s *activeSet) sorted() []SynapseID {
	out := append([]SynapseID(nil), s.ids...)
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
