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

package hook

import (
	"sync"
	"time"

	"github.com/mailfw/gomailfw/errors"
	"github.com/mailfw/gomailfw/log"
)

// Context is handed to every hook. The hook must call Ended within the
// runner's timeout; a hook that never signals is reported as timed out but
// cannot stall or corrupt the sync exit path.
type Context struct {
	done chan struct{}
	once sync.Once
}

func newContext() *Context {
	return &Context{done: make(chan struct{})}
}

// Ended signals hook completion. Safe to call more than once.
func (c *Context) Ended() {
	c.once.Do(func() { close(c.done) })
}

type PreHook func(hc *Context, accounts []string, options map[string]string)

type PostHook func(hc *Context)

type ExceptionHook func(hc *Context, cause error)

// Runner executes lifecycle hooks with an enforced per-hook timeout. Each
// hook runs in its own goroutine; the runner only waits on the completion
// signal, so a stuck hook leaks a goroutine instead of blocking shutdown.
type Runner struct {
	timeout time.Duration
	logger  *log.Logger
}

func NewRunner(timeout time.Duration, logger *log.Logger) *Runner {
	return &Runner{timeout: timeout, logger: logger}
}

func (r *Runner) RunPre(h PreHook, accounts []string, options map[string]string) error {
	if h == nil {
		return nil
	}
	return r.wait("preHook", func(hc *Context) { h(hc, accounts, options) })
}

func (r *Runner) RunPost(h PostHook) error {
	if h == nil {
		return nil
	}
	return r.wait("postHook", func(hc *Context) { h(hc) })
}

func (r *Runner) RunException(h ExceptionHook, cause error) error {
	if h == nil {
		return nil
	}
	return r.wait("exceptionHook", func(hc *Context) { h(hc, cause) })
}

func (r *Runner) wait(name string, run func(hc *Context)) error {
	hc := newContext()

	go func() {
		defer func() {
			if p := recover(); p != nil {
				r.logger.Errorf("%s panicked: %v", name, p)
				hc.Ended()
			}
		}()
		run(hc)
	}()

	select {
	case <-hc.done:
		r.logger.DebugCf("hooks", "%s ended", name)
		return nil
	case <-time.After(r.timeout):
		return &errors.HookTimeout{Hook: name}
	}
}

// Command adapts a shell command line into a hook body: it runs the command
// and signals the context when it exits. Used by the configuration layer to
// express hooks declaratively.
func Command(logger *log.Logger, runcmd func() error) func(hc *Context) {
	return func(hc *Context) {
		defer hc.Ended()
		if err := runcmd(); err != nil {
			logger.Errorf("hook command failed: %s", err)
		}
	}
}
