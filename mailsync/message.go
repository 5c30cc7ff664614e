// GoMailFW
// Copyright (C) 2016 The GoMailFW Authors
//
// This program is free software; you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation; either version 2 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License along
// with this program; if not, write to the Free Software Foundation, Inc.,
// 51 Franklin Street, Fifth Floor, Boston, MA 02110-1301 USA.

package mailsync

import (
	"sort"
	"strings"
)

// Flags is the set of per-message flags (seen, answered, flagged, ...).
// Flag names are opaque to the engine; only set equality and union matter.
type Flags map[string]bool

func NewFlags(flags ...string) Flags {
	f := make(Flags)
	for _, name := range flags {
		if name != "" {
			f[name] = true
		}
	}
	return f
}

// ParseFlags parses the serialized form produced by String: flag names
// joined by spaces. Unknown names are kept as-is.
func ParseFlags(s string) Flags {
	return NewFlags(strings.Fields(s)...)
}

func (f Flags) Has(name string) bool {
	return f[name]
}

func (f Flags) Add(name string) {
	if name != "" {
		f[name] = true
	}
}

func (f Flags) Remove(name string) {
	delete(f, name)
}

func (f Flags) Union(other Flags) Flags {
	u := f.Clone()
	for name := range other {
		u[name] = true
	}
	return u
}

func (f Flags) Equal(other Flags) bool {
	if len(f) != len(other) {
		return false
	}
	for name := range f {
		if !other[name] {
			return false
		}
	}
	return true
}

func (f Flags) Clone() Flags {
	c := make(Flags, len(f))
	for name := range f {
		c[name] = true
	}
	return c
}

// String returns the flag names sorted and joined by spaces. Two equal sets
// always serialize identically, so the result is usable as a map key and in
// the sync status db.
func (f Flags) String() string {
	names := make([]string, 0, len(f))
	for name := range f {
		names = append(names, name)
	}
	sort.Strings(names)
	return strings.Join(names, " ")
}

// Message is one immutable-body message as seen through a driver. The UID is
// only meaningful inside the repository that assigned it; BodyHash is the
// stable cross-repository identity.
type Message struct {
	UID      uint32
	BodyHash string
	Flags    Flags
	Size     int64
	Body     []byte
}

// MessageSet indexes messages by UID and by body hash. The hash index backs
// cross-repository correlation of messages the uid map doesn't know yet.
type MessageSet struct {
	byUID  map[uint32]*Message
	byHash map[string]*Message
}

func NewMessageSet() *MessageSet {
	return &MessageSet{
		byUID:  make(map[uint32]*Message),
		byHash: make(map[string]*Message),
	}
}

func (s *MessageSet) Add(m *Message) {
	s.byUID[m.UID] = m
	if m.BodyHash != "" {
		s.byHash[m.BodyHash] = m
	}
}

func (s *MessageSet) Remove(uid uint32) {
	m, ok := s.byUID[uid]
	if !ok {
		return
	}
	delete(s.byUID, uid)
	if m.BodyHash != "" && s.byHash[m.BodyHash] == m {
		delete(s.byHash, m.BodyHash)
	}
}

func (s *MessageSet) Get(uid uint32) (*Message, bool) {
	m, ok := s.byUID[uid]
	return m, ok
}

func (s *MessageSet) GetByHash(hash string) (*Message, bool) {
	m, ok := s.byHash[hash]
	return m, ok
}

func (s *MessageSet) Contains(uid uint32) bool {
	_, ok := s.byUID[uid]
	return ok
}

func (s *MessageSet) Len() int {
	return len(s.byUID)
}

// Minus returns the messages whose body hash has no counterpart in other.
func (s *MessageSet) Minus(other *MessageSet) *MessageSet {
	out := NewMessageSet()
	for _, m := range s.byUID {
		if _, ok := other.byHash[m.BodyHash]; !ok {
			out.Add(m)
		}
	}
	return out
}

// Intersect returns the messages whose body hash exists in other too.
func (s *MessageSet) Intersect(other *MessageSet) *MessageSet {
	out := NewMessageSet()
	for _, m := range s.byUID {
		if _, ok := other.byHash[m.BodyHash]; ok {
			out.Add(m)
		}
	}
	return out
}

// UIDs returns the member uids in ascending order so every engine pass
// visits messages deterministically.
func (s *MessageSet) UIDs() []uint32 {
	uids := make([]uint32, 0, len(s.byUID))
	for uid := range s.byUID {
		uids = append(uids, uid)
	}
	sort.Sort(Uint32Slice(uids))
	return uids
}

type Uint32Slice []uint32

func (p Uint32Slice) Len() int           { return len(p) }
func (p Uint32Slice) Less(i, j int) bool { return p[i] < p[j] }
func (p Uint32Slice) Swap(i, j int)      { p[i], p[j] = p[j], p[i] }
