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
	"testing"

	"github.com/mailfw/gomailfw/config"
)

func TestRegexpFromPattern(t *testing.T) {
	rp, err := RegexpFromPattern("/work.*/")
	if err != nil {
		t.Fatal(err)
	}
	if !rp.Match("work-eu") || rp.Match("personal") {
		t.Fatal("wrong matches for /work.*/")
	}

	rp, err = RegexpFromPattern("!/work.*/")
	if err != nil {
		t.Fatal(err)
	}
	if rp.Match("work-eu") || !rp.Match("personal") {
		t.Fatal("wrong matches for !/work.*/")
	}

	for _, bad := range []string{"work", "/work", "work/", "/(/"} {
		if _, err := RegexpFromPattern(bad); err == nil {
			t.Fatalf("Expected error for pattern %q", bad)
		}
	}
}

func TestSelectAccounts(t *testing.T) {
	accounts := []*config.AccountConfig{
		{Name: "personal"},
		{Name: "work-eu"},
		{Name: "work-us"},
	}

	selected, err := SelectAccounts(accounts, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(selected) != 3 {
		t.Fatalf("nil selectors must keep all accounts, got %d", len(selected))
	}

	selected, err = SelectAccounts(accounts, []string{"personal"})
	if err != nil {
		t.Fatal(err)
	}
	if len(selected) != 1 || selected[0].Name != "personal" {
		t.Fatalf("wrong selection: %v", selected)
	}

	selected, err = SelectAccounts(accounts, []string{"/^work-/"})
	if err != nil {
		t.Fatal(err)
	}
	if len(selected) != 2 {
		t.Fatalf("expected 2 work accounts, got %d", len(selected))
	}

	if _, err = SelectAccounts(accounts, []string{"/(/"}); err == nil {
		t.Fatal("Expected error for broken pattern")
	}
}
