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
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"

	"github.com/mailfw/gomailfw/errors"
	"github.com/mailfw/gomailfw/log"
)

// MapEntry pairs one message across the two repositories of an account. The
// per-side generation records the last sync pass that saw that side's flags,
// it is what arbitrates flag conflicts under the "newer" policy.
type MapEntry struct {
	UIDLeft  uint32 `db:"uidleft"`
	UIDRight uint32 `db:"uidright"`
	Flags    string `db:"flags"`
	LeftGen  int64  `db:"leftgen"`
	RightGen int64  `db:"rightgen"`
}

// UIDMap is the in-memory uid correspondence for one account. The engine
// mutates a clone and persists it in one shot when the pass completes.
type UIDMap struct {
	Generation int64

	byLeft  map[uint32]*MapEntry
	byRight map[uint32]*MapEntry
}

func NewUIDMap() *UIDMap {
	return &UIDMap{
		byLeft:  make(map[uint32]*MapEntry),
		byRight: make(map[uint32]*MapEntry),
	}
}

func (m *UIDMap) Set(e *MapEntry) {
	if old, ok := m.byLeft[e.UIDLeft]; ok {
		delete(m.byRight, old.UIDRight)
	}
	if old, ok := m.byRight[e.UIDRight]; ok {
		delete(m.byLeft, old.UIDLeft)
	}
	m.byLeft[e.UIDLeft] = e
	m.byRight[e.UIDRight] = e
}

func (m *UIDMap) Remove(e *MapEntry) {
	delete(m.byLeft, e.UIDLeft)
	delete(m.byRight, e.UIDRight)
}

func (m *UIDMap) ByLeft(uid uint32) (*MapEntry, bool) {
	e, ok := m.byLeft[uid]
	return e, ok
}

func (m *UIDMap) ByRight(uid uint32) (*MapEntry, bool) {
	e, ok := m.byRight[uid]
	return e, ok
}

func (m *UIDMap) Len() int {
	return len(m.byLeft)
}

// Entries returns the entries ordered by left uid.
func (m *UIDMap) Entries() []*MapEntry {
	uids := make([]uint32, 0, len(m.byLeft))
	for uid := range m.byLeft {
		uids = append(uids, uid)
	}
	sort.Sort(Uint32Slice(uids))
	entries := make([]*MapEntry, 0, len(uids))
	for _, uid := range uids {
		entries = append(entries, m.byLeft[uid])
	}
	return entries
}

func (m *UIDMap) Clone() *UIDMap {
	c := NewUIDMap()
	c.Generation = m.Generation
	for _, e := range m.byLeft {
		ecopy := *e
		c.Set(&ecopy)
	}
	return c
}

const uidmapSchema = `
create table if not exists uidmap (
	uidleft integer not null,
	uidright integer not null,
	flags text not null,
	leftgen integer not null,
	rightgen integer not null,
	primary key (uidleft, uidright)
);
create table if not exists meta (
	key text primary key,
	value text not null
);`

// UIDMapStore persists an account's uid map in a sqlite database under the
// metadata directory. Save replaces the whole map in one transaction, so a
// crash mid-persist leaves the previous generation intact.
type UIDMapStore struct {
	db     *sqlx.DB
	logger *log.Logger
	e      *errors.Error
}

func NewUIDMapStore(metadatadir string, account string, loglevel string) (s *UIDMapStore, err error) {
	logprefix := fmt.Sprintf("uidmap: %s", account)
	logger := log.GetLogger(logprefix, loglevel)
	e := errors.New(logprefix)

	dir := filepath.Join(metadatadir, "uidmaps")
	if err = os.MkdirAll(dir, 0777); err != nil {
		return nil, e.E(err)
	}

	dbpath := filepath.Join(dir, account+".db")
	db, err := sqlx.Open("sqlite3", dbpath)
	if err != nil {
		return nil, e.E(err)
	}

	if _, err = db.Exec(uidmapSchema); err != nil {
		db.Close()
		return nil, e.E(err)
	}

	return &UIDMapStore{db: db, logger: logger, e: e}, nil
}

func (s *UIDMapStore) Close() error {
	return s.db.Close()
}

func (s *UIDMapStore) Load(ctx context.Context) (m *UIDMap, err error) {
	m = NewUIDMap()

	var entries []MapEntry
	err = s.db.SelectContext(ctx, &entries, "select uidleft, uidright, flags, leftgen, rightgen from uidmap")
	if err != nil {
		return nil, s.e.E(err)
	}
	for i := range entries {
		m.Set(&entries[i])
	}

	var gen string
	err = s.db.GetContext(ctx, &gen, "select value from meta where key = 'generation'")
	if err == nil {
		m.Generation, _ = strconv.ParseInt(gen, 10, 64)
	}
	return m, nil
}

func (s *UIDMapStore) Save(ctx context.Context, m *UIDMap) (err error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return s.e.E(err)
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, "delete from uidmap"); err != nil {
		return s.e.E(err)
	}

	stmt, err := tx.PreparexContext(ctx, "insert into uidmap(uidleft, uidright, flags, leftgen, rightgen) values (?, ?, ?, ?, ?)")
	if err != nil {
		return s.e.E(err)
	}
	defer stmt.Close()

	for _, e := range m.Entries() {
		if _, err = stmt.ExecContext(ctx, e.UIDLeft, e.UIDRight, e.Flags, e.LeftGen, e.RightGen); err != nil {
			return s.e.E(err)
		}
	}

	_, err = tx.ExecContext(ctx, "insert or replace into meta(key, value) values ('generation', ?)",
		strconv.FormatInt(m.Generation, 10))
	if err != nil {
		return s.e.E(err)
	}

	if err = tx.Commit(); err != nil {
		return s.e.E(err)
	}
	return nil
}
