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

package main

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"os/user"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/jessevdk/go-flags"

	"github.com/mailfw/gomailfw/config"
	"github.com/mailfw/gomailfw/hook"
	"github.com/mailfw/gomailfw/log"
	"github.com/mailfw/gomailfw/mailsync"
)

const (
	exitOK             = 0
	exitUnhandledError = 3
	exitAccountErrors  = 10
)

var opts struct {
	Configfile  string   `short:"c" long:"config" description:"Config file location. Default: ~/.gomailfwrc"`
	Debug       bool     `short:"d" long:"debug" description:"Enable full debug logs. Overrides log levels in configuration file"`
	DryRun      bool     `short:"n" long:"dryrun" description:"Do not execute sync actions but just log what will be done"`
	List        bool     `short:"l" long:"list" description:"List accounts and repositories and then exit"`
	AccountList []string `short:"a" long:"account" description:"Limit the sync to the specified accounts. Use this option multiple times to specify multiple accounts."`
	MaxAccounts int      `short:"m" long:"maxaccounts" description:"Override the maximum number of accounts synced concurrently"`
}

func main() {
	os.Exit(safeRun())
}

func safeRun() (status int) {
	defer func() {
		if p := recover(); p != nil {
			fmt.Fprintf(os.Stderr, "panic: %v\n", p)
			status = exitUnhandledError
		}
	}()
	return run()
}

func run() int {
	logger := log.GetLogger("main", "info")
	u, err := user.Current()
	if err != nil {
		logger.Errorf("Cannot determine current user")
		return 1
	}

	var parser = flags.NewParser(&opts, flags.Default)

	if _, err := parser.Parse(); err != nil {
		return 1
	}

	if opts.Configfile == "" {
		opts.Configfile = filepath.Join(u.HomeDir, ".gomailfwrc")
	}

	globalconfig, err := config.ParseConfig(opts.Configfile)
	if err != nil {
		logger.Errorf("Error parsing config file: %s", err)
		return 1
	}

	err = config.VerifyConfig(globalconfig)
	if err != nil {
		logger.Errorf("Error parsing config file: %s", err)
		return 1
	}

	if opts.Debug {
		globalconfig.LogLevel = "debug"
		globalconfig.DebugCategories = []string{"engine", "controllers", "hooks"}
	}
	if opts.MaxAccounts != 0 {
		globalconfig.MaxSyncAccounts = opts.MaxAccounts
	}

	if err := os.MkdirAll(globalconfig.Metadatadir, 0777); err != nil {
		logger.Errorf("Error: %s", err)
		return 1
	}

	accounts, err := mailsync.SelectAccounts(globalconfig.Accounts, opts.AccountList)
	if err != nil {
		logger.Errorf("Error: %s", err)
		return 1
	}
	if len(accounts) == 0 {
		logger.Errorf("No accounts to sync")
		return 1
	}

	scheduler, err := mailsync.NewScheduler(globalconfig, accounts, opts.DryRun)
	if err != nil {
		logger.Errorf("Error: %s", err)
		return 1
	}

	if opts.List {
		scheduler.List()
		return exitOK
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	hooklogger := log.GetLoggerC("hooks", globalconfig.LogLevel, globalconfig.DebugCategories)
	runner := hook.NewRunner(globalconfig.HookTimeout.Duration, hooklogger)

	accountnames := make([]string, 0, len(accounts))
	for _, a := range accounts {
		accountnames = append(accountnames, a.Name)
	}

	// Hook failures, timeouts included, are logged but never change the
	// exit status of the sync itself.
	prehook := commandHook(globalconfig.PreHook, hooklogger, map[string]string{
		"GOMAILFW_DRYRUN":   strconv.FormatBool(opts.DryRun),
		"GOMAILFW_ACCOUNTS": strings.Join(accountnames, ","),
	})
	if prehook != nil {
		err := runner.RunPre(func(hc *hook.Context, accounts []string, options map[string]string) {
			prehook(hc)
		}, accountnames, nil)
		if err != nil {
			logger.Errorf("preHook: %s", err)
		}
	}

	results := scheduler.Run(ctx)

	status := exitOK
	var firsterr error
	for _, result := range results {
		if result.Err != nil {
			status = exitAccountErrors
			if firsterr == nil {
				firsterr = result.Err
			}
			logger.Errorf("Account %s: %s", result.Account, result.Err)
		} else if result.Report != nil && len(result.Report.MessageErrors) > 0 {
			logger.Warnf("Account %s finished with %d message errors", result.Account, len(result.Report.MessageErrors))
		}
	}

	if firsterr != nil {
		if h := commandHook(globalconfig.ExceptionHook, hooklogger, nil); h != nil {
			err := runner.RunException(func(hc *hook.Context, cause error) {
				h(hc)
			}, firsterr)
			if err != nil {
				logger.Errorf("exceptionHook: %s", err)
			}
		}
	} else {
		if h := commandHook(globalconfig.PostHook, hooklogger, nil); h != nil {
			if err := runner.RunPost(func(hc *hook.Context) { h(hc) }); err != nil {
				logger.Errorf("postHook: %s", err)
			}
		}
	}

	return status
}

// commandHook turns a configured command line into a hook body. The command
// runs through the shell so config entries can use arguments and pipes.
func commandHook(cmdline string, logger *log.Logger, env map[string]string) func(hc *hook.Context) {
	if cmdline == "" {
		return nil
	}
	return hook.Command(logger, func() error {
		cmd := exec.Command("/bin/sh", "-c", cmdline)
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr
		cmd.Env = os.Environ()
		for k, v := range env {
			cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%s", k, v))
		}
		return cmd.Run()
	})
}
