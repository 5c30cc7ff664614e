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
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mailfw/gomailfw/errors"
	"github.com/mailfw/gomailfw/log"
)

func testRunner(timeout time.Duration) *Runner {
	return NewRunner(timeout, log.GetLogger("hook test", "error"))
}

func TestRunPre(t *testing.T) {
	r := testRunner(time.Second)

	var gotAccounts []string
	err := r.RunPre(func(hc *Context, accounts []string, options map[string]string) {
		gotAccounts = accounts
		hc.Ended()
	}, []string{"personal", "work"}, map[string]string{"dryrun": "false"})

	require.NoError(t, err)
	assert.Equal(t, []string{"personal", "work"}, gotAccounts)
}

func TestNilHooksAreNoops(t *testing.T) {
	r := testRunner(time.Millisecond)
	assert.NoError(t, r.RunPre(nil, nil, nil))
	assert.NoError(t, r.RunPost(nil))
	assert.NoError(t, r.RunException(nil, nil))
}

func TestHookTimeout(t *testing.T) {
	r := testRunner(20 * time.Millisecond)

	stuck := make(chan struct{})
	defer close(stuck)

	err := r.RunPost(func(hc *Context) {
		<-stuck // never calls hc.Ended()
	})
	require.Error(t, err)
	assert.True(t, errors.IsHookTimeout(err))
}

func TestExceptionHookReceivesCause(t *testing.T) {
	r := testRunner(time.Second)

	cause := fmt.Errorf("account personal failed")
	var got error
	err := r.RunException(func(hc *Context, err error) {
		got = err
		hc.Ended()
	}, cause)

	require.NoError(t, err)
	assert.Equal(t, cause, got)
}

func TestPanickingHookDoesNotTimeout(t *testing.T) {
	r := testRunner(time.Second)

	err := r.RunPost(func(hc *Context) {
		panic("hook bug")
	})
	// A panicking hook ends the context from the recover path; the caller
	// sees a clean return, not a timeout.
	assert.NoError(t, err)
}

func TestEndedIsIdempotent(t *testing.T) {
	r := testRunner(time.Second)

	err := r.RunPost(func(hc *Context) {
		hc.Ended()
		hc.Ended()
	})
	assert.NoError(t, err)
}
