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
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/mailfw/gomailfw/errors"
	"github.com/mailfw/gomailfw/log"
)

func init() {
	RegisterController("trace", newTraceController)
	RegisterController("retry", newRetryController)
	RegisterController("throttle", newThrottleController)
	RegisterController("fault", newFaultController)
	RegisterController("fake", newFakeController)
}

func confInt(conf map[string]interface{}, key string, fallback int) int {
	if conf == nil {
		return fallback
	}
	switch n := conf[key].(type) {
	case int64:
		return int(n)
	case int:
		return n
	}
	return fallback
}

func confDuration(conf map[string]interface{}, key string, fallback time.Duration) time.Duration {
	if conf == nil {
		return fallback
	}
	if s, ok := conf[key].(string); ok {
		if d, err := time.ParseDuration(s); err == nil {
			return d
		}
	}
	return fallback
}

// traceController logs every operation crossing it under the "controllers"
// debug category.
type traceController struct {
	inner    Driver
	reponame string
	logger   *log.Logger
}

func newTraceController(inner Driver, reponame string, conf map[string]interface{}, logger *log.Logger) (Driver, error) {
	return &traceController{inner: inner, reponame: reponame, logger: logger}, nil
}

func (c *traceController) Connect(ctx context.Context) error {
	c.logger.DebugCf("controllers", "%s: Connect", c.reponame)
	return c.inner.Connect(ctx)
}

func (c *traceController) ListUIDs(ctx context.Context) ([]uint32, error) {
	uids, err := c.inner.ListUIDs(ctx)
	c.logger.DebugCf("controllers", "%s: ListUIDs -> %d uids, err: %v", c.reponame, len(uids), err)
	return uids, err
}

func (c *traceController) Fetch(ctx context.Context, uid uint32) (*Message, error) {
	c.logger.DebugCf("controllers", "%s: Fetch %d", c.reponame, uid)
	return c.inner.Fetch(ctx, uid)
}

func (c *traceController) Add(ctx context.Context, m *Message) (uint32, error) {
	uid, err := c.inner.Add(ctx, m)
	c.logger.DebugCf("controllers", "%s: Add hash %.12s -> uid %d, err: %v", c.reponame, m.BodyHash, uid, err)
	return uid, err
}

func (c *traceController) Delete(ctx context.Context, uid uint32) error {
	c.logger.DebugCf("controllers", "%s: Delete %d", c.reponame, uid)
	return c.inner.Delete(ctx, uid)
}

func (c *traceController) SetFlags(ctx context.Context, uid uint32, flags Flags) error {
	c.logger.DebugCf("controllers", "%s: SetFlags %d \"%s\"", c.reponame, uid, flags)
	return c.inner.SetFlags(ctx, uid, flags)
}

func (c *traceController) Close() error {
	c.logger.DebugCf("controllers", "%s: Close", c.reponame)
	return c.inner.Close()
}

// retryController retries operations failing with a connection error.
// Mutations are retried too: Delete is idempotent and Add on a backend that
// accepted the first attempt returns the already stored uid, so replays are
// safe under the driver contract.
type retryController struct {
	inner      Driver
	reponame   string
	logger     *log.Logger
	maxretries int
	interval   time.Duration
}

func newRetryController(inner Driver, reponame string, conf map[string]interface{}, logger *log.Logger) (Driver, error) {
	return &retryController{
		inner:      inner,
		reponame:   reponame,
		logger:     logger,
		maxretries: confInt(conf, "maxretries", 3),
		interval:   confDuration(conf, "interval", 100*time.Millisecond),
	}, nil
}

func (c *retryController) retry(ctx context.Context, op string, f func() error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.interval
	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(c.maxretries)), ctx)

	return backoff.Retry(func() error {
		err := f()
		if err == nil {
			return nil
		}
		if !errors.IsConnection(err) {
			return backoff.Permanent(err)
		}
		c.logger.Warnf("%s: %s failed, retrying: %s", c.reponame, op, err)
		return err
	}, policy)
}

func (c *retryController) Connect(ctx context.Context) error {
	return c.retry(ctx, "Connect", func() error { return c.inner.Connect(ctx) })
}

func (c *retryController) ListUIDs(ctx context.Context) (uids []uint32, err error) {
	err = c.retry(ctx, "ListUIDs", func() error {
		uids, err = c.inner.ListUIDs(ctx)
		return err
	})
	return uids, err
}

func (c *retryController) Fetch(ctx context.Context, uid uint32) (m *Message, err error) {
	err = c.retry(ctx, "Fetch", func() error {
		m, err = c.inner.Fetch(ctx, uid)
		return err
	})
	return m, err
}

func (c *retryController) Add(ctx context.Context, msg *Message) (uid uint32, err error) {
	err = c.retry(ctx, "Add", func() error {
		uid, err = c.inner.Add(ctx, msg)
		return err
	})
	return uid, err
}

func (c *retryController) Delete(ctx context.Context, uid uint32) error {
	return c.retry(ctx, "Delete", func() error { return c.inner.Delete(ctx, uid) })
}

func (c *retryController) SetFlags(ctx context.Context, uid uint32, flags Flags) error {
	return c.retry(ctx, "SetFlags", func() error { return c.inner.SetFlags(ctx, uid, flags) })
}

func (c *retryController) Close() error {
	return c.inner.Close()
}

// throttleController enforces a minimum interval between operations, for
// backends with rate limits.
type throttleController struct {
	inner    Driver
	interval time.Duration

	mu   sync.Mutex
	last time.Time
}

func newThrottleController(inner Driver, reponame string, conf map[string]interface{}, logger *log.Logger) (Driver, error) {
	return &throttleController{
		inner:    inner,
		interval: confDuration(conf, "interval", 0),
	}, nil
}

func (c *throttleController) wait(ctx context.Context) error {
	c.mu.Lock()
	now := time.Now()
	next := c.last.Add(c.interval)
	if next.After(now) {
		c.mu.Unlock()
		select {
		case <-time.After(next.Sub(now)):
		case <-ctx.Done():
			return ctx.Err()
		}
		c.mu.Lock()
	}
	c.last = time.Now()
	c.mu.Unlock()
	return nil
}

func (c *throttleController) Connect(ctx context.Context) error {
	if err := c.wait(ctx); err != nil {
		return err
	}
	return c.inner.Connect(ctx)
}

func (c *throttleController) ListUIDs(ctx context.Context) ([]uint32, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	return c.inner.ListUIDs(ctx)
}

func (c *throttleController) Fetch(ctx context.Context, uid uint32) (*Message, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	return c.inner.Fetch(ctx, uid)
}

func (c *throttleController) Add(ctx context.Context, m *Message) (uint32, error) {
	if err := c.wait(ctx); err != nil {
		return 0, err
	}
	return c.inner.Add(ctx, m)
}

func (c *throttleController) Delete(ctx context.Context, uid uint32) error {
	if err := c.wait(ctx); err != nil {
		return err
	}
	return c.inner.Delete(ctx, uid)
}

func (c *throttleController) SetFlags(ctx context.Context, uid uint32, flags Flags) error {
	if err := c.wait(ctx); err != nil {
		return err
	}
	return c.inner.SetFlags(ctx, uid, flags)
}

func (c *throttleController) Close() error {
	return c.inner.Close()
}

// faultController fails the first N operations of each kind with a
// connection error, then passes through. Fault injection for tests and
// recovery drills.
type faultController struct {
	inner Driver
	n     int

	mu     sync.Mutex
	counts map[string]int
}

func newFaultController(inner Driver, reponame string, conf map[string]interface{}, logger *log.Logger) (Driver, error) {
	return &faultController{
		inner:  inner,
		n:      confInt(conf, "failures", 1),
		counts: make(map[string]int),
	}, nil
}

func (c *faultController) fail(op string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.counts[op] < c.n {
		c.counts[op]++
		return errors.Connectionf("injected %s failure %d", op, c.counts[op])
	}
	return nil
}

func (c *faultController) Connect(ctx context.Context) error {
	if err := c.fail("Connect"); err != nil {
		return err
	}
	return c.inner.Connect(ctx)
}

func (c *faultController) ListUIDs(ctx context.Context) ([]uint32, error) {
	if err := c.fail("ListUIDs"); err != nil {
		return nil, err
	}
	return c.inner.ListUIDs(ctx)
}

func (c *faultController) Fetch(ctx context.Context, uid uint32) (*Message, error) {
	if err := c.fail("Fetch"); err != nil {
		return nil, err
	}
	return c.inner.Fetch(ctx, uid)
}

func (c *faultController) Add(ctx context.Context, m *Message) (uint32, error) {
	if err := c.fail("Add"); err != nil {
		return 0, err
	}
	return c.inner.Add(ctx, m)
}

func (c *faultController) Delete(ctx context.Context, uid uint32) error {
	if err := c.fail("Delete"); err != nil {
		return err
	}
	return c.inner.Delete(ctx, uid)
}

func (c *faultController) SetFlags(ctx context.Context, uid uint32, flags Flags) error {
	if err := c.fail("SetFlags"); err != nil {
		return err
	}
	return c.inner.SetFlags(ctx, uid, flags)
}

func (c *faultController) Close() error {
	return c.inner.Close()
}

// fakeController cuts the chain: every operation succeeds against an
// in-memory mailbox and the real backend is never touched. Lets a
// configuration be exercised end to end before pointing it at live mail.
func newFakeController(inner Driver, reponame string, conf map[string]interface{}, logger *log.Logger) (Driver, error) {
	logger.Warnf("%s: fake controller active, backend will not be touched", reponame)
	return NewMemoryDriver(reponame + "-fake"), nil
}
