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
	"os"
	"path/filepath"
	"testing"

	"github.com/mailfw/gomailfw/config"
)

func setupMaildirDriver(t *testing.T) *MaildirDriver {
	t.Helper()
	d := NewMaildirDriver("maildirtest", filepath.Join(t.TempDir(), "mail"))
	if err := d.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}
	return d
}

func countMaildirMessages(t *testing.T, d *MaildirDriver, expected int) {
	t.Helper()
	uids, err := d.ListUIDs(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(uids) != expected {
		t.Fatalf("Wrong number of messages: %d, expected: %d", len(uids), expected)
	}
}

func dropFile(t *testing.T, d *MaildirDriver, subdir string, name string, body string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(d.path, subdir, name), []byte(body), 0666); err != nil {
		t.Fatal(err)
	}
}

func TestMaildirSplitFilename(t *testing.T) {
	d := setupMaildirDriver(t)

	exfilename := "1397565555_19.22053.localhost.localdomain,u=19,f=35745cb548222dd3d38d87c3deb395c2"
	filename, flags, err := d.splitFilename(exfilename + ":2,ST")
	if err != nil {
		t.Fatal(err)
	}
	if filename != exfilename {
		t.Fatalf("Expected filename %q, found %q", exfilename, filename)
	}
	if !flags.Equal(NewFlags("S", "T")) {
		t.Fatalf("Wrong flags: %q", flags)
	}

	if _, _, err = d.splitFilename("abcdefghijklmnopqrstuvwxyz:123456OA"); err == nil {
		t.Fatal("Expected error for info without the 2, prefix")
	}
	if _, _, err = d.splitFilename("abcdefghijklmnopqrstuvwxyz"); err == nil {
		t.Fatal("Expected error for filename without separator")
	}
}

func TestMaildirAddFetch(t *testing.T) {
	d := setupMaildirDriver(t)
	ctx := context.Background()

	uid, err := d.Add(ctx, &Message{Body: []byte("a message body"), Flags: NewFlags("S")})
	if err != nil {
		t.Fatal(err)
	}
	countMaildirMessages(t, d, 1)

	m, err := d.Fetch(ctx, uid)
	if err != nil {
		t.Fatal(err)
	}
	if string(m.Body) != "a message body" {
		t.Fatalf("Wrong body: %q", m.Body)
	}
	if m.BodyHash != HashBody([]byte("a message body")) {
		t.Fatalf("Wrong body hash: %s", m.BodyHash)
	}
	if !m.Flags.Equal(NewFlags("S")) {
		t.Fatalf("Wrong flags: %q", m.Flags)
	}

	// No tmp leftovers after delivery.
	entries, err := os.ReadDir(filepath.Join(d.path, "tmp"))
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Fatalf("tmp not empty: %d entries", len(entries))
	}
}

func TestMaildirDelete(t *testing.T) {
	d := setupMaildirDriver(t)
	ctx := context.Background()

	uid, err := d.Add(ctx, &Message{Body: []byte("doomed"), Flags: NewFlags()})
	if err != nil {
		t.Fatal(err)
	}
	if err := d.Delete(ctx, uid); err != nil {
		t.Fatal(err)
	}
	countMaildirMessages(t, d, 0)

	// Deleting an absent uid succeeds.
	if err := d.Delete(ctx, 100000); err != nil {
		t.Fatal(err)
	}
}

func TestMaildirSetFlags(t *testing.T) {
	d := setupMaildirDriver(t)
	ctx := context.Background()

	uid, err := d.Add(ctx, &Message{Body: []byte("message"), Flags: NewFlags()})
	if err != nil {
		t.Fatal(err)
	}
	if err := d.SetFlags(ctx, uid, NewFlags("S", "R")); err != nil {
		t.Fatal(err)
	}

	m, err := d.Fetch(ctx, uid)
	if err != nil {
		t.Fatal(err)
	}
	if !m.Flags.Equal(NewFlags("S", "R")) {
		t.Fatalf("Wrong flags: %q", m.Flags)
	}

	// Flags survive a rescan: they live in the filename.
	countMaildirMessages(t, d, 1)
	m, err = d.Fetch(ctx, uid)
	if err != nil {
		t.Fatal(err)
	}
	if !m.Flags.Equal(NewFlags("S", "R")) {
		t.Fatalf("Flags lost after rescan: %q", m.Flags)
	}
}

func TestMaildirAdoptsForeignMessages(t *testing.T) {
	d := setupMaildirDriver(t)

	// A file delivered by another agent, without a uid token.
	dropFile(t, d, "cur", "file02:2,S", "delivered elsewhere")
	// A file carrying a token from a different mailbox.
	dropFile(t, d, "cur",
		"1397565555_19.22053.localhost.localdomain,u=19,f=thisisnotourtoken:2,ST", "foreign token")
	// A freshly delivered message in new, no info part yet.
	dropFile(t, d, "new", "file03withoutinfoseparator", "fresh")
	// Garbage info in new is skipped, not adopted.
	dropFile(t, d, "new", "file04:wrongwrong", "garbage")

	countMaildirMessages(t, d, 3)

	// Adoption is stable: the uids assigned on the first scan survive.
	uids1, err := d.ListUIDs(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	uids2, err := d.ListUIDs(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(uids1) != len(uids2) {
		t.Fatalf("uids changed between scans: %v vs %v", uids1, uids2)
	}
	seen := make(map[uint32]bool)
	for _, uid := range uids1 {
		seen[uid] = true
	}
	for _, uid := range uids2 {
		if !seen[uid] {
			t.Fatalf("uid %d appeared after rescan: %v vs %v", uid, uids1, uids2)
		}
	}
}

func TestMaildirUIDsPersistAcrossReconnect(t *testing.T) {
	d := setupMaildirDriver(t)
	ctx := context.Background()

	uid, err := d.Add(ctx, &Message{Body: []byte("message"), Flags: NewFlags("S")})
	if err != nil {
		t.Fatal(err)
	}
	if err := d.Close(); err != nil {
		t.Fatal(err)
	}

	// A new driver instance over the same directory reads the same token
	// and sees the same uid.
	d2 := NewMaildirDriver("maildirtest", d.path)
	if err := d2.Connect(ctx); err != nil {
		t.Fatal(err)
	}
	uids, err := d2.ListUIDs(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(uids) != 1 || uids[0] != uid {
		t.Fatalf("Expected uid %d, found: %v", uid, uids)
	}
}

func TestMaildirSyncsWithMemory(t *testing.T) {
	// End to end: a maildir on the left, memory on the right.
	d := setupMaildirDriver(t)
	ctx := context.Background()
	if _, err := d.Add(ctx, &Message{Body: []byte("hello"), Flags: NewFlags("S")}); err != nil {
		t.Fatal(err)
	}

	f := newEngineFixture(t, nil)
	f.left = NewRepositoryFromDriver("maildir", d, 1, testLogger())
	globalconf := &config.Config{LogLevel: "error", FlagsPolicy: "newer", ErrorThreshold: config.DefaultErrorThreshold}
	accountconf := &config.AccountConfig{Name: "test", Left: "maildir", Right: "right"}
	f.engine = NewSyncEngine(globalconf, accountconf, f.left, f.right, f.store, false)

	report, err := f.engine.Sync(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if report.RightAdded != 1 {
		t.Fatalf("Expected 1 message copied, got %d", report.RightAdded)
	}
	for _, m := range f.rightdrv.Snapshot() {
		if string(m.Body) != "hello" {
			t.Fatalf("Wrong body: %q", m.Body)
		}
		if !m.Flags.Equal(NewFlags("S")) {
			t.Fatalf("Wrong flags: %q", m.Flags)
		}
	}
}
