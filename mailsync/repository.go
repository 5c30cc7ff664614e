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
	"time"

	"github.com/mailfw/gomailfw/config"
	"github.com/mailfw/gomailfw/errors"
	"github.com/mailfw/gomailfw/log"
)

const defaultAcquireTimeout = 30 * time.Second

// Repository is a named message endpoint: a driver wrapped by its controller
// chain plus a bounded pool of connection slots. Repositories are shared
// between account tasks, the slot pool is what keeps concurrent tasks from
// overrunning the backend.
type Repository struct {
	name           string
	driver         Driver
	maxconnections int
	slots          chan struct{}
	acquiretimeout time.Duration
	logger         *log.Logger
}

func NewRepository(globalconfig *config.Config, repoconfig *config.RepositoryConfig) (r *Repository, err error) {
	logprefix := fmt.Sprintf("repository: %s", repoconfig.Name)
	logger := log.GetLoggerC(logprefix, globalconfig.LogLevel, globalconfig.DebugCategories)

	driver, err := NewDriver(repoconfig.Driver, repoconfig.Name, repoconfig.Conf)
	if err != nil {
		return nil, err
	}

	chain, err := BuildChain(driver, repoconfig.Name, repoconfig.Controllers, logger)
	if err != nil {
		return nil, err
	}

	return newRepository(repoconfig.Name, chain, repoconfig.MaxConnections(), logger), nil
}

// NewRepositoryFromDriver builds a repository around an existing driver,
// bypassing the registries. Used by tests.
func NewRepositoryFromDriver(name string, driver Driver, maxconnections int, logger *log.Logger) *Repository {
	return newRepository(name, driver, maxconnections, logger)
}

func newRepository(name string, driver Driver, maxconnections int, logger *log.Logger) *Repository {
	if maxconnections < 1 {
		maxconnections = 1
	}
	r := &Repository{
		name:           name,
		driver:         driver,
		maxconnections: maxconnections,
		slots:          make(chan struct{}, maxconnections),
		acquiretimeout: defaultAcquireTimeout,
		logger:         logger,
	}
	for i := 0; i < maxconnections; i++ {
		r.slots <- struct{}{}
	}
	return r
}

func (r *Repository) Name() string {
	return r.name
}

func (r *Repository) Driver() Driver {
	return r.driver
}

func (r *Repository) MaxConnections() int {
	return r.maxconnections
}

func (r *Repository) Close() error {
	return r.driver.Close()
}

// SetAcquireTimeout bounds the wait in Acquire. Mainly for tests.
func (r *Repository) SetAcquireTimeout(d time.Duration) {
	r.acquiretimeout = d
}

// Acquire takes a connection slot, waiting up to the acquire timeout. The
// returned release function gives the slot back and is safe to call once.
func (r *Repository) Acquire(ctx context.Context) (release func(), err error) {
	select {
	case <-r.slots:
		return func() { r.slots <- struct{}{} }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(r.acquiretimeout):
		return nil, errors.ResourceExhaustedf("repository %s: no connection slot available after %s", r.name, r.acquiretimeout)
	}
}
