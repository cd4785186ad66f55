// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Command http-interface-charm is the hook entry point of a charm which
// serves http to every application related on one endpoint.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/juju/clock"
	"github.com/juju/errors"
	"github.com/juju/gnuflag"
	"github.com/juju/loggo/v2"

	"github.com/juju/http-interface/hook"
	"github.com/juju/http-interface/httpinterface"
	"github.com/juju/http-interface/internal/hookenv"
	"github.com/juju/http-interface/internal/storage"
	"github.com/juju/http-interface/lifecycle"
)

var logger = loggo.GetLogger("juju.http-interface.charm")

const (
	storeSQLite = "sqlite"
	storeYAML   = "yaml"

	observerName = "charm"
)

type options struct {
	relation  string
	hosts     []string
	port      int
	store     string
	statePath string
	logConfig string
}

func parseOptions(args []string) (options, error) {
	var (
		opts  options
		hosts string
	)
	f := gnuflag.NewFlagSet("http-interface-charm", gnuflag.ContinueOnError)
	f.SetOutput(io.Discard)
	f.StringVar(&opts.relation, "relation", "website", "endpoint http clients relate to")
	f.StringVar(&hosts, "hosts", "", "comma separated hostnames to publish; defaults to the unit's ingress address")
	f.IntVar(&opts.port, "port", 80, "port to publish")
	f.StringVar(&opts.store, "store", storeSQLite, "state store, sqlite or yaml")
	f.StringVar(&opts.statePath, "state-path", "", "state store location; defaults to a file in the charm directory")
	f.StringVar(&opts.logConfig, "log-config", "<root>=INFO", "logging configuration")
	if err := f.Parse(true, args); err != nil {
		return options{}, errors.Trace(err)
	}
	if f.NArg() > 0 {
		return options{}, errors.NotValidf("arguments %q", f.Args())
	}
	for _, host := range strings.Split(hosts, ",") {
		if host = strings.TrimSpace(host); host != "" {
			opts.hosts = append(opts.hosts, host)
		}
	}
	if opts.port < 1 || opts.port > 65535 {
		return options{}, errors.NotValidf("port %d", opts.port)
	}
	switch opts.store {
	case storeSQLite, storeYAML:
	default:
		return options{}, errors.NotValidf("store %q", opts.store)
	}
	return opts, nil
}

func openStore(ctx context.Context, opts options, env hookenv.Environment, clk clock.Clock) (storage.Store, error) {
	path := opts.statePath
	if path == "" {
		if env.CharmDir == "" {
			return nil, errors.NotValidf("empty state path outside a charm directory")
		}
		name := ".http-interface.db"
		if opts.store == storeYAML {
			name = ".http-interface.yaml"
		}
		path = filepath.Join(env.CharmDir, name)
	}
	if opts.store == storeYAML {
		store, err := storage.OpenFileStore(path, clk)
		return store, errors.Trace(err)
	}
	store, err := storage.OpenSQLiteStore(ctx, path, clk)
	return store, errors.Trace(err)
}

// run handles a single hook invocation.
func run(ctx context.Context, opts options, env hookenv.Environment, runner hookenv.Runner, clk clock.Clock) (err error) {
	info, err := env.HookInfo()
	if errors.Is(err, errors.NotSupported) {
		// Other hooks still get deferred events re-delivered.
		logger.Debugf("no handler for hook %q", env.HookName)
		info = hook.Info{}
	} else if err != nil {
		return errors.Trace(err)
	}

	store, err := openStore(ctx, opts, env, clk)
	if err != nil {
		return errors.Trace(err)
	}
	defer func() {
		if closeErr := store.Close(); err == nil {
			err = errors.Trace(closeErr)
		}
	}()

	model := hookenv.NewModel(runner, env.UnitName)
	dispatcher := lifecycle.NewDispatcher()
	server, err := httpinterface.NewHTTPServer(ctx, httpinterface.Config{
		Source:       dispatcher,
		Model:        model,
		Store:        store,
		RelationName: opts.relation,
		Clock:        clk,
	})
	if err != nil {
		return errors.Trace(err)
	}
	serve := func(client *httpinterface.Client) error {
		hosts := opts.hosts
		if len(hosts) == 0 {
			hosts = []string{client.IngressAddress()}
		}
		return errors.Trace(client.Serve(hosts, opts.port))
	}
	err = server.Observe(observerName, func(_ context.Context, ev *httpinterface.NewClientEvent) error {
		return serve(ev.Client)
	})
	if err != nil {
		return errors.Trace(err)
	}
	if err := server.ReemitDeferred(ctx); err != nil {
		return errors.Trace(err)
	}

	switch info.Kind {
	case hook.ConfigChanged, hook.UpgradeCharm:
		// Settings may have changed; republish to every client.
		clients, err := server.Clients()
		if err != nil {
			return errors.Trace(err)
		}
		for _, client := range clients {
			if err := serve(client); err != nil {
				return errors.Trace(err)
			}
		}
		return nil
	case hook.RelationJoined, hook.RelationDeparted:
		if info.RelationName != opts.relation {
			return nil
		}
		ev, err := lifecycle.EventFromHook(model, info)
		if err != nil {
			return errors.Trace(err)
		}
		return errors.Trace(dispatcher.Dispatch(ctx, ev))
	}
	return nil
}

// Main runs the hook named by the environment and returns the process
// exit code.
func Main(args []string) int {
	runner := hookenv.NewToolRunner(nil)
	if _, err := loggo.ReplaceDefaultWriter(hookenv.NewLogWriter(runner, os.Stderr)); err != nil {
		fmt.Fprintf(os.Stderr, "cannot set up logging: %v\n", err)
		return 1
	}
	opts, err := parseOptions(args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 2
	}
	if err := loggo.ConfigureLoggers(opts.logConfig); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 2
	}
	env, err := hookenv.EnvironmentFromOS()
	if err != nil {
		logger.Errorf("%v", err)
		return 1
	}
	if err := run(context.Background(), opts, env, runner, clock.WallClock); err != nil {
		logger.Errorf("%s hook failed: %v", env.HookName, errors.ErrorStack(err))
		return 1
	}
	return 0
}

func main() {
	os.Exit(Main(os.Args[1:]))
}
