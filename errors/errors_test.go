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

package errors

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPrefixWrapping(t *testing.T) {
	e := New("engine account1")

	err := fmt.Errorf("boom")
	wrapped := e.E(err)
	assert.Equal(t, "[engine account1] boom", wrapped.Error())

	// Wrapping twice with the same Error must not stack prefixes.
	rewrapped := e.E(wrapped)
	assert.Equal(t, "[engine account1] boom", rewrapped.Error())

	// A different Error instance adds its own prefix.
	e2 := New("scheduler")
	assert.Equal(t, "[scheduler] [engine account1] boom", e2.E(wrapped).Error())

	assert.Nil(t, e.E(nil))
}

func TestTaxonomySurvivesPrefixWrapping(t *testing.T) {
	e := New("repository left")

	err := e.E(Connectionf("dial tcp: refused"))
	assert.True(t, IsConnection(err))
	assert.False(t, IsWrite(err))

	err = e.E(Writef("message %d rejected", 42))
	assert.True(t, IsWrite(err))

	err = e.E(Quotaf("mailbox full"))
	assert.True(t, IsQuota(err))
	// A quota refusal is still a refused mutation as far as the engine's
	// per-message accounting goes, but the types stay distinct.
	assert.False(t, IsWrite(err))

	err = e.E(Integrityf("duplicate uid %d", 7))
	assert.True(t, IsIntegrity(err))

	err = e.E(ResourceExhaustedf("no free connection after %s", "30s"))
	assert.True(t, IsResourceExhausted(err))

	err = e.E(&HookTimeout{Hook: "preHook"})
	assert.True(t, IsHookTimeout(err))
}
