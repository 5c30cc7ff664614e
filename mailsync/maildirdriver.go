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
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/satori/go.uuid"

	"github.com/mailfw/gomailfw/errors"
)

func init() {
	RegisterDriver("Maildir", func(name string, conf map[string]interface{}) (Driver, error) {
		path, _ := conf["path"].(string)
		if path == "" {
			return nil, fmt.Errorf("Maildir driver %s: path option is empty", name)
		}
		return NewMaildirDriver(name, path), nil
	})
}

const maildirInfoSeparator = ':'

var maildirUIDRe = regexp.MustCompile(`,u=(\d+),f=([A-Za-z0-9-]+)`)

// MaildirDriver serves a single maildir (cur/new/tmp). Message uids are
// embedded in the filenames as ",u=<uid>,f=<mailbox token>"; files without
// our token are adopted on scan by renaming them with a fresh uid. The
// token, generated once and kept in the maildir, stops uids assigned by
// another mailbox from being trusted here.
type MaildirDriver struct {
	name string
	path string

	mu          sync.Mutex
	connected   bool
	mailboxUID  string
	messages    map[uint32]*maildirMessage
	nextUID     uint32
	lastTime    int64
	lastTimeSeq uint32
}

type maildirMessage struct {
	filename string // base name, without separator and info
	subdir   string // cur or new
	flags    Flags
}

func NewMaildirDriver(name string, path string) *MaildirDriver {
	return &MaildirDriver{
		name:     name,
		path:     path,
		messages: make(map[uint32]*maildirMessage),
		nextUID:  1,
	}
}

func (d *MaildirDriver) Connect(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	for _, sub := range []string{"cur", "new", "tmp"} {
		if err := os.MkdirAll(filepath.Join(d.path, sub), 0777); err != nil {
			return errors.Connectionf("maildir %s: %s", d.name, err)
		}
	}
	if err := d.loadMailboxUID(); err != nil {
		return errors.Connectionf("maildir %s: %s", d.name, err)
	}
	d.connected = true
	return nil
}

// loadMailboxUID reads the mailbox token, generating and persisting it on
// first use.
func (d *MaildirDriver) loadMailboxUID() error {
	tokenpath := filepath.Join(d.path, ".gomailfw-uid")
	data, err := os.ReadFile(tokenpath)
	if err == nil {
		d.mailboxUID = strings.TrimSpace(string(data))
		if d.mailboxUID != "" {
			return nil
		}
	} else if !os.IsNotExist(err) {
		return err
	}

	d.mailboxUID = strings.Replace(uuid.NewV4().String(), "-", "", -1)
	return os.WriteFile(tokenpath, []byte(d.mailboxUID+"\n"), 0666)
}

func (d *MaildirDriver) checkConnected() error {
	if !d.connected {
		return fmt.Errorf("maildir %s: not connected", d.name)
	}
	return nil
}

func (d *MaildirDriver) getTimeSeq() (int64, uint32) {
	curtime := time.Now().Unix()
	if curtime == d.lastTime {
		d.lastTimeSeq++
	} else {
		d.lastTime = curtime
		d.lastTimeSeq = 0
	}
	return curtime, d.lastTimeSeq
}

func (d *MaildirDriver) generateFilename(uid uint32) (string, error) {
	t, seq := d.getTimeSeq()
	hostname, err := os.Hostname()
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%d_%d.%d.%s,u=%d,f=%s", t, seq, os.Getpid(), hostname, uid, d.mailboxUID), nil
}

// flagsToInfo serializes a flag set as the maildir info suffix. Flag names
// are the maildir single-letter codes, sorted for a stable filename.
func flagsToInfo(flags Flags) string {
	names := make([]string, 0, len(flags))
	for name := range flags {
		names = append(names, name)
	}
	sort.Strings(names)
	return "2," + strings.Join(names, "")
}

func infoToFlags(info string) (Flags, error) {
	if !strings.HasPrefix(info, "2,") {
		return nil, fmt.Errorf("wrong info format: %q", info)
	}
	flags := NewFlags()
	for _, r := range strings.TrimPrefix(info, "2,") {
		flags.Add(string(r))
	}
	return flags, nil
}

func (d *MaildirDriver) splitFilename(fullname string) (base string, flags Flags, err error) {
	idx := strings.IndexRune(fullname, maildirInfoSeparator)
	if idx < 0 {
		return "", nil, fmt.Errorf("wrong filename format: %q", fullname)
	}
	flags, err = infoToFlags(fullname[idx+1:])
	if err != nil {
		return "", nil, err
	}
	return fullname[:idx], flags, nil
}

func (d *MaildirDriver) fullPath(m *maildirMessage) string {
	return filepath.Join(d.path, m.subdir, m.filename+string(maildirInfoSeparator)+flagsToInfo(m.flags))
}

// scan rebuilds the message table from the filesystem. Files carrying a
// foreign or missing uid token are renamed in place with a fresh uid; a uid
// appearing twice is a contract violation surfaced to the engine.
func (d *MaildirDriver) scan() error {
	d.messages = make(map[uint32]*maildirMessage)
	d.nextUID = 1

	type adoption struct {
		subdir   string
		fullname string
		flags    Flags
	}
	var adoptions []adoption

	for _, sub := range []string{"cur", "new"} {
		entries, err := os.ReadDir(filepath.Join(d.path, sub))
		if err != nil {
			return err
		}
		for _, entry := range entries {
			fullname := entry.Name()
			base, flags, err := d.splitFilename(fullname)
			if err != nil {
				if sub != "new" || strings.ContainsRune(fullname, maildirInfoSeparator) {
					continue
				}
				// A freshly delivered message has no info yet.
				base, flags = fullname, NewFlags()
			}

			match := maildirUIDRe.FindStringSubmatch(base)
			if match == nil || match[2] != d.mailboxUID {
				adoptions = append(adoptions, adoption{sub, fullname, flags})
				continue
			}

			uid64, _ := strconv.ParseUint(match[1], 10, 32)
			uid := uint32(uid64)
			if _, dup := d.messages[uid]; dup {
				return errors.Integrityf("maildir %s: uid %d found twice", d.name, uid)
			}
			d.messages[uid] = &maildirMessage{filename: base, subdir: sub, flags: flags}
			if uid >= d.nextUID {
				d.nextUID = uid + 1
			}
		}
	}

	for _, a := range adoptions {
		if err := d.adopt(a.subdir, a.fullname, a.flags); err != nil {
			return err
		}
	}
	return nil
}

func (d *MaildirDriver) adopt(subdir string, fullname string, flags Flags) error {
	uid := d.nextUID
	d.nextUID++

	newbase, err := d.generateFilename(uid)
	if err != nil {
		return err
	}
	m := &maildirMessage{filename: newbase, subdir: "cur", flags: flags}
	oldpath := filepath.Join(d.path, subdir, fullname)
	if err := os.Rename(oldpath, d.fullPath(m)); err != nil {
		return err
	}
	d.messages[uid] = m
	return nil
}

func (d *MaildirDriver) ListUIDs(ctx context.Context) ([]uint32, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.checkConnected(); err != nil {
		return nil, err
	}
	if err := d.scan(); err != nil {
		return nil, err
	}
	uids := make([]uint32, 0, len(d.messages))
	for uid := range d.messages {
		uids = append(uids, uid)
	}
	return uids, nil
}

func (d *MaildirDriver) Fetch(ctx context.Context, uid uint32) (*Message, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.checkConnected(); err != nil {
		return nil, err
	}
	m, ok := d.messages[uid]
	if !ok {
		return nil, fmt.Errorf("maildir %s: no message with uid %d", d.name, uid)
	}
	body, err := os.ReadFile(d.fullPath(m))
	if err != nil {
		return nil, err
	}
	return &Message{
		UID:      uid,
		BodyHash: HashBody(body),
		Flags:    m.flags.Clone(),
		Size:     int64(len(body)),
		Body:     body,
	}, nil
}

func (d *MaildirDriver) Add(ctx context.Context, msg *Message) (uint32, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.checkConnected(); err != nil {
		return 0, err
	}

	uid := d.nextUID
	d.nextUID++

	base, err := d.generateFilename(uid)
	if err != nil {
		return 0, errors.Writef("maildir %s: %s", d.name, err)
	}
	m := &maildirMessage{filename: base, subdir: "cur", flags: msg.Flags.Clone()}

	// Deliver through tmp so a partially written file never shows up in
	// cur.
	tmppath := filepath.Join(d.path, "tmp", base)
	if err := os.WriteFile(tmppath, msg.Body, 0666); err != nil {
		if errors.Is(err, syscall.ENOSPC) || errors.Is(err, syscall.EDQUOT) {
			return 0, errors.Quotaf("maildir %s: %s", d.name, err)
		}
		return 0, errors.Writef("maildir %s: %s", d.name, err)
	}
	if err := os.Rename(tmppath, d.fullPath(m)); err != nil {
		os.Remove(tmppath)
		return 0, errors.Writef("maildir %s: %s", d.name, err)
	}

	d.messages[uid] = m
	return uid, nil
}

func (d *MaildirDriver) Delete(ctx context.Context, uid uint32) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.checkConnected(); err != nil {
		return err
	}
	m, ok := d.messages[uid]
	if !ok {
		return nil
	}
	if err := os.Remove(d.fullPath(m)); err != nil && !os.IsNotExist(err) {
		return err
	}
	delete(d.messages, uid)
	return nil
}

func (d *MaildirDriver) SetFlags(ctx context.Context, uid uint32, flags Flags) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.checkConnected(); err != nil {
		return err
	}
	m, ok := d.messages[uid]
	if !ok {
		return fmt.Errorf("maildir %s: no message with uid %d", d.name, uid)
	}

	oldpath := d.fullPath(m)
	updated := &maildirMessage{filename: m.filename, subdir: m.subdir, flags: flags.Clone()}
	if err := os.Rename(oldpath, d.fullPath(updated)); err != nil {
		return err
	}
	d.messages[uid] = updated
	return nil
}

func (d *MaildirDriver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.connected = false
	return nil
}
