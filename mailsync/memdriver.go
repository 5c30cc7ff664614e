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
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
)

func init() {
	RegisterDriver("Memory", func(name string, conf map[string]interface{}) (Driver, error) {
		return NewMemoryDriver(name), nil
	})
}

// MemoryDriver keeps a mailbox in process memory. It backs tests and serves
// as the reference implementation of the driver contract.
type MemoryDriver struct {
	name string

	mu        sync.Mutex
	connected bool
	nextUID   uint32
	messages  map[uint32]*Message
}

func NewMemoryDriver(name string) *MemoryDriver {
	return &MemoryDriver{
		name:     name,
		nextUID:  1,
		messages: make(map[uint32]*Message),
	}
}

// HashBody returns the canonical body hash every driver must report for a
// given body.
func HashBody(body []byte) string {
	h := sha256.Sum256(body)
	return hex.EncodeToString(h[:])
}

// Seed stores a message without requiring a connection. Test setup helper.
func (d *MemoryDriver) Seed(body []byte, flags Flags) uint32 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.store(body, flags)
}

func (d *MemoryDriver) store(body []byte, flags Flags) uint32 {
	uid := d.nextUID
	d.nextUID++
	bodycopy := make([]byte, len(body))
	copy(bodycopy, body)
	d.messages[uid] = &Message{
		UID:      uid,
		BodyHash: HashBody(bodycopy),
		Flags:    flags.Clone(),
		Size:     int64(len(bodycopy)),
		Body:     bodycopy,
	}
	return uid
}

func (d *MemoryDriver) Connect(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.connected = true
	return nil
}

func (d *MemoryDriver) checkConnected() error {
	if !d.connected {
		return fmt.Errorf("driver %s: not connected", d.name)
	}
	return nil
}

func (d *MemoryDriver) ListUIDs(ctx context.Context) ([]uint32, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.checkConnected(); err != nil {
		return nil, err
	}
	uids := make([]uint32, 0, len(d.messages))
	for uid := range d.messages {
		uids = append(uids, uid)
	}
	return uids, nil
}

func (d *MemoryDriver) Fetch(ctx context.Context, uid uint32) (*Message, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.checkConnected(); err != nil {
		return nil, err
	}
	m, ok := d.messages[uid]
	if !ok {
		return nil, fmt.Errorf("driver %s: no message with uid %d", d.name, uid)
	}
	c := *m
	c.Flags = m.Flags.Clone()
	return &c, nil
}

func (d *MemoryDriver) Add(ctx context.Context, m *Message) (uint32, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.checkConnected(); err != nil {
		return 0, err
	}
	return d.store(m.Body, m.Flags), nil
}

func (d *MemoryDriver) Delete(ctx context.Context, uid uint32) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.checkConnected(); err != nil {
		return err
	}
	delete(d.messages, uid)
	return nil
}

func (d *MemoryDriver) SetFlags(ctx context.Context, uid uint32, flags Flags) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.checkConnected(); err != nil {
		return err
	}
	m, ok := d.messages[uid]
	if !ok {
		return fmt.Errorf("driver %s: no message with uid %d", d.name, uid)
	}
	m.Flags = flags.Clone()
	return nil
}

func (d *MemoryDriver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.connected = false
	return nil
}

// Snapshot returns a copy of the live messages keyed by uid. Test helper.
func (d *MemoryDriver) Snapshot() map[uint32]*Message {
	d.mu.Lock()
	defer d.mu.Unlock()
	snap := make(map[uint32]*Message, len(d.messages))
	for uid, m := range d.messages {
		c := *m
		c.Flags = m.Flags.Clone()
		snap[uid] = &c
	}
	return snap
}
