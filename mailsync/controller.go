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
	"sync"

	"github.com/mailfw/gomailfw/config"
	"github.com/mailfw/gomailfw/log"
)

// Controllers are drivers wrapping an inner driver. A controller may
// observe, rewrite, or veto any operation before it reaches the backend;
// the engine cannot tell a bare driver from a wrapped one.
type ControllerFactory func(inner Driver, reponame string, conf map[string]interface{}, logger *log.Logger) (Driver, error)

var (
	controllersMu sync.RWMutex
	controllers   = make(map[string]ControllerFactory)
)

func RegisterController(name string, factory ControllerFactory) {
	controllersMu.Lock()
	defer controllersMu.Unlock()
	if _, dup := controllers[name]; dup {
		panic(fmt.Sprintf("controller %q registered twice", name))
	}
	controllers[name] = factory
}

func NewController(name string, inner Driver, reponame string, conf map[string]interface{}, logger *log.Logger) (Driver, error) {
	controllersMu.RLock()
	factory, ok := controllers[name]
	controllersMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("Unknown controller: \"%s\"", name)
	}
	return factory(inner, reponame, conf, logger)
}

// BuildChain wraps driver with the configured controllers. The first entry
// in the configuration list is the outermost wrapper, so wrapping proceeds
// from the last entry inwards.
func BuildChain(driver Driver, reponame string, ctrlconfs []*config.ControllerConfig, logger *log.Logger) (Driver, error) {
	d := driver
	for i := len(ctrlconfs) - 1; i >= 0; i-- {
		cc := ctrlconfs[i]
		wrapped, err := NewController(cc.Name, d, reponame, cc.Conf, logger)
		if err != nil {
			return nil, err
		}
		d = wrapped
	}
	return d, nil
}
