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
	"fmt"
	"regexp"
	"strings"

	"github.com/mailfw/gomailfw/config"
)

// RegexpPattern is a "/re/" or "!/re/" selector: the leading "!" negates
// the match.
type RegexpPattern struct {
	not bool
	re  *regexp.Regexp
}

func RegexpFromPattern(pattern string) (rp *RegexpPattern, err error) {
	if !strings.HasPrefix(pattern, "/") && !strings.HasPrefix(pattern, "!/") {
		return nil, fmt.Errorf("pattern doesn't start with \"/\" or \"!/\"")
	}
	if !strings.HasSuffix(pattern, "/") {
		return nil, fmt.Errorf("pattern doesn't end with \"/\"")
	}

	res := pattern
	not := false
	if strings.HasPrefix(res, "!") {
		not = true
		res = strings.TrimPrefix(res, "!")
	}
	res = strings.TrimPrefix(res, "/")
	res = strings.TrimSuffix(res, "/")

	re, err := regexp.Compile(res)
	if err != nil {
		return nil, fmt.Errorf("wrong regexp \"%s\": %s", res, err)
	}

	return &RegexpPattern{not: not, re: re}, nil
}

func (rp *RegexpPattern) Match(s string) bool {
	return rp.re.MatchString(s) != rp.not
}

// SelectAccounts filters the configured accounts by selectors: a selector
// is either an exact account name or a "/re/" ("!/re/") pattern. A nil
// selector list keeps every account; configuration order is preserved.
func SelectAccounts(accounts []*config.AccountConfig, selectors []string) ([]*config.AccountConfig, error) {
	if selectors == nil {
		return accounts, nil
	}

	names := make(map[string]bool)
	var patterns []*RegexpPattern
	for _, sel := range selectors {
		if strings.HasPrefix(sel, "/") || strings.HasPrefix(sel, "!/") {
			rp, err := RegexpFromPattern(sel)
			if err != nil {
				return nil, err
			}
			patterns = append(patterns, rp)
			continue
		}
		names[sel] = true
	}

	selected := make([]*config.AccountConfig, 0, len(accounts))
	for _, accountconf := range accounts {
		if names[accountconf.Name] {
			selected = append(selected, accountconf)
			continue
		}
		for _, rp := range patterns {
			if rp.Match(accountconf.Name) {
				selected = append(selected, accountconf)
				break
			}
		}
	}
	return selected, nil
}
