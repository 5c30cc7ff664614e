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

package config

import (
	"fmt"
	"os/user"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Config is the resolved configuration object the engine consumes. The
// declarative front-end producing it is external to the core; this package
// is its stand-in, turning a toml file into validated structs.
type Config struct {
	Accounts     []*AccountConfig    `toml:"account"`
	Repositories []*RepositoryConfig `toml:"repository"`

	Metadatadir     string
	LogLevel        string
	DebugCategories []string
	MaxSyncAccounts int
	FlagsPolicy     string
	ErrorThreshold  int

	PreHook       string
	PostHook      string
	ExceptionHook string
	HookTimeout   duration
}

type AccountConfig struct {
	Name  string
	Left  string
	Right string
}

// RepositoryConfig binds a named repository to a driver and an ordered
// controller chain. Conf is opaque to the core except for max_connections.
type RepositoryConfig struct {
	Name        string
	Driver      string
	Controllers []*ControllerConfig `toml:"controller"`
	Conf        map[string]interface{}
}

type ControllerConfig struct {
	Name string
	Conf map[string]interface{}
}

// MaxConnections reads the only conf key the core interprets. Missing or
// malformed values fall back to 1.
func (r *RepositoryConfig) MaxConnections() int {
	v, ok := r.Conf["max_connections"]
	if !ok {
		return 1
	}
	switch n := v.(type) {
	case int64:
		if n > 0 {
			return int(n)
		}
	case int:
		if n > 0 {
			return n
		}
	}
	return 1
}

type duration struct {
	time.Duration
}

func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

const (
	DefaultHookTimeout    = 10 * time.Second
	DefaultErrorThreshold = 10
)

func ParseConfig(conffilepath string) (conf *Config, err error) {
	u, err := user.Current()
	if err != nil {
		return nil, err
	}

	conf = &Config{
		Metadatadir:    filepath.Join(u.HomeDir, ".gomailfw"),
		LogLevel:       "info",
		FlagsPolicy:    "newer",
		ErrorThreshold: DefaultErrorThreshold,
		HookTimeout:    duration{DefaultHookTimeout},
	}

	_, err = toml.DecodeFile(conffilepath, conf)
	if err != nil {
		return nil, err
	}

	// MaxSyncAccounts <= 0 means one worker per account; resolved by the
	// scheduler since the account count lives there.
	return conf, nil
}

func VerifyConfig(config *Config) (err error) {
	validloglevels := []string{"critical", "error", "warn", "info", "debug"}
	if !StringInSlice(config.LogLevel, validloglevels) {
		return fmt.Errorf("Wrong log level: \"%s\". Valid levels are: %s", config.LogLevel, validloglevels)
	}

	validpolicies := []string{"newer", "union"}
	if !StringInSlice(config.FlagsPolicy, validpolicies) {
		return fmt.Errorf("Wrong flags policy: \"%s\". Valid policies are: %s", config.FlagsPolicy, validpolicies)
	}

	if config.ErrorThreshold < 0 {
		return fmt.Errorf("errorthreshold must be >= 0")
	}

	if config.HookTimeout.Duration <= 0 {
		return fmt.Errorf("hooktimeout must be positive")
	}

	repos := make(map[string]bool)
	for _, repoconf := range config.Repositories {
		if err = VerifyRepositoryConfig(repoconf); err != nil {
			return err
		}
		if repos[repoconf.Name] {
			return fmt.Errorf("Duplicate repository definition: \"%s\"", repoconf.Name)
		}
		repos[repoconf.Name] = true
	}

	accounts := make(map[string]bool)
	for _, accountconf := range config.Accounts {
		if err = VerifyAccountConfig(accountconf, repos); err != nil {
			return err
		}
		if accounts[accountconf.Name] {
			return fmt.Errorf("Duplicate account definition: \"%s\"", accountconf.Name)
		}
		accounts[accountconf.Name] = true
	}
	return nil
}

func VerifyRepositoryConfig(config *RepositoryConfig) (err error) {
	if config.Name == "" {
		return fmt.Errorf("Repository name is empty")
	}
	errprefix := fmt.Sprintf("[Repository: %s] ", config.Name)
	if config.Driver == "" {
		return fmt.Errorf(errprefix + "driver option is empty")
	}
	for _, ctrlconf := range config.Controllers {
		if ctrlconf.Name == "" {
			return fmt.Errorf(errprefix + "controller name is empty")
		}
	}
	return nil
}

func VerifyAccountConfig(config *AccountConfig, repos map[string]bool) (err error) {
	if config.Name == "" {
		return fmt.Errorf("Account name is empty")
	}
	errprefix := fmt.Sprintf("[Account: %s] ", config.Name)

	if config.Left == "" || config.Right == "" {
		return fmt.Errorf(errprefix + "an account pairs exactly two repositories (left and right)")
	}
	if config.Left == config.Right {
		return fmt.Errorf(errprefix + "left and right reference the same repository")
	}
	if !repos[config.Left] {
		return fmt.Errorf(errprefix+"Missing repository definition for: \"%s\"", config.Left)
	}
	if !repos[config.Right] {
		return fmt.Errorf(errprefix+"Missing repository definition for: \"%s\"", config.Right)
	}
	return nil
}

func StringInSlice(a string, list []string) bool {
	for _, b := range list {
		if b == a {
			return true
		}
	}
	return false
}
