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
	"sync"
)

// Driver is the uniform access contract every mail backend implements. The
// engine talks only to this interface and to nothing below it.
//
// Contract, beyond the signatures:
//   - UIDs are unique per live message within the driver, stable for the
//     message's lifetime, and never reused for a different body.
//   - Delete is idempotent: deleting an absent UID succeeds.
//   - Mutations are atomic per message; there are no cross-message
//     transactions.
//   - All operations honor ctx cancellation.
type Driver interface {
	Connect(ctx context.Context) error
	ListUIDs(ctx context.Context) ([]uint32, error)
	Fetch(ctx context.Context, uid uint32) (*Message, error)
	Add(ctx context.Context, m *Message) (uint32, error)
	Delete(ctx context.Context, uid uint32) error
	SetFlags(ctx context.Context, uid uint32, flags Flags) error
	Close() error
}

// DriverFactory builds a driver for one repository. conf is the repository's
// opaque configuration block.
type DriverFactory func(name string, conf map[string]interface{}) (Driver, error)

var (
	driversMu sync.RWMutex
	drivers   = make(map[string]DriverFactory)
)

// RegisterDriver makes a driver type available under its configuration name.
// Usually called from an init function of the implementing package.
func RegisterDriver(drivertype string, factory DriverFactory) {
	driversMu.Lock()
	defer driversMu.Unlock()
	if _, dup := drivers[drivertype]; dup {
		panic(fmt.Sprintf("driver %q registered twice", drivertype))
	}
	drivers[drivertype] = factory
}

func NewDriver(drivertype string, name string, conf map[string]interface{}) (Driver, error) {
	driversMu.RLock()
	factory, ok := drivers[drivertype]
	driversMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("Unknown driver type: \"%s\"", drivertype)
	}
	return factory(name, conf)
}
