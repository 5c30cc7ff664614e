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
	"sort"
	"sync"

	"github.com/mailfw/gomailfw/config"
	"github.com/mailfw/gomailfw/errors"
	"github.com/mailfw/gomailfw/log"
)

// AccountResult is the outcome of one account task.
type AccountResult struct {
	Account string
	Report  *SyncReport
	Err     error
}

// Scheduler runs the configured account tasks over a bounded worker pool.
// Repositories are instantiated once and shared between every account that
// references them.
type Scheduler struct {
	globalconfig *config.Config
	accounts     []*config.AccountConfig
	repositories map[string]*Repository
	dryrun       bool
	logger       *log.Logger
	e            *errors.Error
}

func NewScheduler(globalconfig *config.Config, accounts []*config.AccountConfig, dryrun bool) (s *Scheduler, err error) {
	logger := log.GetLoggerC("scheduler", globalconfig.LogLevel, globalconfig.DebugCategories)
	e := errors.New("scheduler")

	repositories := make(map[string]*Repository)
	for _, repoconf := range globalconfig.Repositories {
		repo, err := NewRepository(globalconfig, repoconf)
		if err != nil {
			return nil, e.E(err)
		}
		repositories[repoconf.Name] = repo
	}

	for _, accountconf := range accounts {
		if _, ok := repositories[accountconf.Left]; !ok {
			return nil, e.E(fmt.Errorf("Missing repository definition for: \"%s\"", accountconf.Left))
		}
		if _, ok := repositories[accountconf.Right]; !ok {
			return nil, e.E(fmt.Errorf("Missing repository definition for: \"%s\"", accountconf.Right))
		}
	}

	return &Scheduler{
		globalconfig: globalconfig,
		accounts:     accounts,
		repositories: repositories,
		dryrun:       dryrun,
		logger:       logger,
		e:            e,
	}, nil
}

func (s *Scheduler) Repository(name string) *Repository {
	return s.repositories[name]
}

// workerCount clamps the configured parallelism: at least one worker, never
// more than there are accounts, and a non-positive setting means one worker
// per account.
func (s *Scheduler) workerCount() int {
	n := s.globalconfig.MaxSyncAccounts
	if n <= 0 || n > len(s.accounts) {
		n = len(s.accounts)
	}
	if n < 1 {
		n = 1
	}
	return n
}

// Run syncs every account and returns one result per account, ordered by
// account name. Accounts are dispatched fifo in configuration order; a
// failed or panicking task never takes down its siblings.
func (s *Scheduler) Run(ctx context.Context) []AccountResult {
	defer func() {
		for _, repo := range s.repositories {
			repo.Close()
		}
	}()

	queue := make(chan *config.AccountConfig, len(s.accounts))
	for _, accountconf := range s.accounts {
		queue <- accountconf
	}
	close(queue)

	results := make(chan AccountResult, len(s.accounts))
	var wg sync.WaitGroup

	workers := s.workerCount()
	s.logger.Infof("syncing %d accounts with %d workers", len(s.accounts), workers)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for accountconf := range queue {
				if ctx.Err() != nil {
					results <- AccountResult{Account: accountconf.Name, Err: ctx.Err()}
					continue
				}
				results <- s.runAccount(ctx, accountconf)
			}
		}()
	}

	wg.Wait()
	close(results)

	all := make([]AccountResult, 0, len(s.accounts))
	for r := range results {
		all = append(all, r)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].Account < all[j].Account })
	return all
}

func (s *Scheduler) runAccount(ctx context.Context, accountconf *config.AccountConfig) (result AccountResult) {
	result.Account = accountconf.Name

	defer func() {
		if p := recover(); p != nil {
			result.Err = fmt.Errorf("account %s: sync panicked: %v", accountconf.Name, p)
			s.logger.Errorf("%s", result.Err)
		}
	}()

	store, err := NewUIDMapStore(s.globalconfig.Metadatadir, accountconf.Name, s.globalconfig.LogLevel)
	if err != nil {
		result.Err = err
		return result
	}
	defer store.Close()

	engine := NewSyncEngine(s.globalconfig, accountconf,
		s.repositories[accountconf.Left], s.repositories[accountconf.Right], store, s.dryrun)

	result.Report, result.Err = engine.Sync(ctx)
	if result.Err != nil {
		s.logger.Errorf("sync of account %s failed: %s", accountconf.Name, result.Err)
	}
	return result
}

// List prints the configured accounts and repositories.
func (s *Scheduler) List() {
	names := make([]string, 0, len(s.repositories))
	for name := range s.repositories {
		names = append(names, name)
	}
	sort.Strings(names)

	fmt.Printf("Repositories:\n")
	for _, name := range names {
		repo := s.repositories[name]
		fmt.Printf("\t%s (max connections: %d)\n", name, repo.MaxConnections())
	}

	fmt.Printf("Accounts:\n")
	for _, accountconf := range s.accounts {
		fmt.Printf("\t%s: %s <-> %s\n", accountconf.Name, accountconf.Left, accountconf.Right)
	}
}
