// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package httpinterface implements the serving side of the "http" relation
// interface: it tracks which remote applications have been related,
// notifies the charm once per new client application, and publishes the
// hostnames and ports the clients should connect to.
package httpinterface

import (
	"context"
	"strings"

	"github.com/juju/clock"
	"github.com/juju/collections/set"
	"github.com/juju/errors"
	"github.com/juju/loggo/v2"
	"github.com/kr/pretty"

	"github.com/juju/http-interface/core/relation"
	"github.com/juju/http-interface/internal/storage"
	"github.com/juju/http-interface/lifecycle"
)

var logger = loggo.GetLogger("juju.http-interface")

// Config holds the dependencies of an HTTPServer.
type Config struct {
	// Source delivers the relation lifecycle events.
	Source lifecycle.Source

	// Model gives access to the relations of the local unit.
	Model relation.Model

	// Store persists the server's state and pending events.
	Store storage.Store

	// RelationName is the endpoint clients relate to.
	RelationName string

	Clock clock.Clock
}

// Validate returns an error if the config cannot be used to create an
// HTTPServer.
func (config Config) Validate() error {
	if config.Source == nil {
		return errors.NotValidf("nil Source")
	}
	if config.Model == nil {
		return errors.NotValidf("nil Model")
	}
	if config.Store == nil {
		return errors.NotValidf("nil Store")
	}
	if config.Clock == nil {
		return errors.NotValidf("nil Clock")
	}
	if err := relation.ValidateEndpointName(config.RelationName); err != nil {
		return errors.Trace(err)
	}
	return nil
}

type observer struct {
	name    string
	handler NewClientHandler
}

// HTTPServer observes the relations bound to one endpoint on behalf of
// the serving charm.
type HTTPServer struct {
	model        relation.Model
	store        storage.Store
	clock        clock.Clock
	relationName string

	state     *serverState
	observers []observer
}

// NewHTTPServer loads the server's durable state and starts observing
// units joining and departing relations on config.RelationName.
func NewHTTPServer(ctx context.Context, config Config) (*HTTPServer, error) {
	if err := config.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	st, err := loadState(ctx, config.Store, stateHandle(config.RelationName))
	if err != nil {
		return nil, errors.Trace(err)
	}
	if logger.IsTraceEnabled() {
		logger.Tracef("loaded %q state: %# v", config.RelationName, pretty.Formatter(st.seen.SortedValues()))
	}
	s := &HTTPServer{
		model:        config.Model,
		store:        config.Store,
		clock:        config.Clock,
		relationName: config.RelationName,
		state:        st,
	}
	config.Source.ObserveJoined(config.RelationName, s.onJoined)
	config.Source.ObserveDeparted(config.RelationName, s.onDeparted)
	return s, nil
}

// RelationName returns the endpoint the server observes.
func (s *HTTPServer) RelationName() string {
	return s.relationName
}

// Observe registers handler to be told about new clients. The name
// identifies the observer across restarts, so that events it has not
// finished handling are re-delivered to it by ReemitDeferred.
func (s *HTTPServer) Observe(name string, handler NewClientHandler) error {
	if name == "" {
		return errors.NotValidf("empty observer name")
	}
	if handler == nil {
		return errors.NotValidf("nil handler for observer %q", name)
	}
	for _, obs := range s.observers {
		if obs.name == name {
			return errors.AlreadyExistsf("observer %q", name)
		}
	}
	s.observers = append(s.observers, observer{name: name, handler: handler})
	return nil
}

// Clients returns a Client for every relation currently bound to the
// server's endpoint.
func (s *HTTPServer) Clients() ([]*Client, error) {
	rels, err := s.model.Relations(s.relationName)
	if err != nil {
		return nil, errors.Trace(err)
	}
	clients := make([]*Client, 0, len(rels))
	for _, rel := range rels {
		client, err := NewClient(rel, s.model.LocalUnit())
		if err != nil {
			return nil, errors.Trace(err)
		}
		clients = append(clients, client)
	}
	return clients, nil
}

// SeenApplications returns the remote applications the server has
// emitted NewClient events for, sorted by name.
func (s *HTTPServer) SeenApplications() []string {
	return s.state.seen.SortedValues()
}

func (s *HTTPServer) onJoined(ctx context.Context, ev lifecycle.Event) error {
	app := ev.RemoteApplication
	if s.state.seen.Contains(app) {
		logger.Tracef("application %q already seen on relation %v", app, ev.Relation.Key())
		return nil
	}
	client, err := NewClient(ev.Relation, s.model.LocalUnit())
	if err != nil {
		return errors.Trace(err)
	}
	s.state.seen.Add(app)
	if err := s.state.save(ctx, s.store, stateHandle(s.relationName)); err != nil {
		s.state.seen.Remove(app)
		return errors.Trace(err)
	}
	logger.Infof("new client application %q on relation %v", app, ev.Relation.Key())
	return errors.Trace(s.emit(ctx, client))
}

// onDeparted replaces the seen applications with those still related.
func (s *HTTPServer) onDeparted(ctx context.Context, ev lifecycle.Event) error {
	rels, err := s.model.Relations(s.relationName)
	if err != nil {
		return errors.Trace(err)
	}
	current := set.NewStrings()
	for _, rel := range rels {
		current.Add(rel.RemoteApplication())
	}
	if dropped := s.state.seen.Difference(current); !dropped.IsEmpty() {
		logger.Debugf("no longer tracking %v after %q departed relation %v",
			dropped.SortedValues(), ev.RemoteApplication, ev.Relation.Key())
	}
	previous := s.state.seen
	s.state.seen = current
	if err := s.state.save(ctx, s.store, stateHandle(s.relationName)); err != nil {
		s.state.seen = previous
		return errors.Trace(err)
	}
	return nil
}

// emit persists a NewClient event for every observer, then delivers it.
func (s *HTTPServer) emit(ctx context.Context, client *Client) error {
	if len(s.observers) == 0 {
		logger.Debugf("no observers for new client on relation %v", client.Relation().Key())
		return nil
	}
	path := newClientEventPath(client.Relation().Key())
	data, err := encodeSnapshot((&NewClientEvent{Client: client}).Snapshot())
	if err != nil {
		return errors.Trace(err)
	}
	if err := s.store.SaveSnapshot(ctx, path, data); err != nil {
		return errors.Trace(err)
	}
	now := s.clock.Now()
	for _, obs := range s.observers {
		notice := storage.Notice{EventPath: path, ObserverPath: obs.name, Emitted: now}
		if err := s.store.SaveNotice(ctx, notice); err != nil {
			return errors.Trace(err)
		}
	}
	return errors.Trace(s.deliver(ctx, path, client, s.observers))
}

// deliver calls each observer in turn. Notices of observers which
// return without deferring are dropped; the snapshot goes once no
// notice refers to it.
func (s *HTTPServer) deliver(ctx context.Context, path string, client *Client, observers []observer) error {
	for _, obs := range observers {
		ev := &NewClientEvent{Client: client}
		if err := obs.handler(ctx, ev); err != nil {
			return errors.Annotatef(err, "observer %q handling new client on relation %v", obs.name, client.Relation().Key())
		}
		if ev.Deferred() {
			logger.Debugf("observer %q deferred new client on relation %v", obs.name, client.Relation().Key())
			continue
		}
		if err := s.store.DropNotice(ctx, storage.Notice{EventPath: path, ObserverPath: obs.name}); err != nil {
			return errors.Trace(err)
		}
	}
	return errors.Trace(s.dropSnapshotIfDone(ctx, path))
}

func (s *HTTPServer) dropSnapshotIfDone(ctx context.Context, path string) error {
	notices, err := s.store.Notices(ctx)
	if err != nil {
		return errors.Trace(err)
	}
	for _, n := range notices {
		if n.EventPath == path {
			return nil
		}
	}
	return errors.Trace(s.store.DropSnapshot(ctx, path))
}

// ReemitDeferred re-delivers NewClient events that were deferred, or
// whose delivery was interrupted, to the observers that still have to
// handle them. Events for relations which no longer exist are discarded.
func (s *HTTPServer) ReemitDeferred(ctx context.Context) error {
	notices, err := s.store.Notices(ctx)
	if err != nil {
		return errors.Trace(err)
	}
	prefix := newClientEventPrefix(s.relationName) + "["
	var paths []string
	pending := make(map[string][]storage.Notice)
	for _, n := range notices {
		if !strings.HasPrefix(n.EventPath, prefix) {
			continue
		}
		if _, ok := pending[n.EventPath]; !ok {
			paths = append(paths, n.EventPath)
		}
		pending[n.EventPath] = append(pending[n.EventPath], n)
	}
	for _, path := range paths {
		if err := s.reemit(ctx, path, pending[path]); err != nil {
			return errors.Trace(err)
		}
	}
	return nil
}

func (s *HTTPServer) reemit(ctx context.Context, path string, notices []storage.Notice) error {
	data, err := s.store.LoadSnapshot(ctx, path)
	if errors.Is(err, errors.NotFound) {
		logger.Warningf("discarding notices for %q without snapshot", path)
		return errors.Trace(s.discard(ctx, path, notices))
	} else if err != nil {
		return errors.Trace(err)
	}
	snapshot, err := decodeSnapshot(data)
	if err != nil {
		return errors.Annotatef(err, "decoding %q", path)
	}
	rel, err := restoreRelation(s.model, snapshot)
	if errors.Is(err, errors.NotFound) {
		logger.Warningf("discarding %q: %v", path, err)
		return errors.Trace(s.discard(ctx, path, notices))
	} else if err != nil {
		return errors.Annotatef(err, "restoring %q", path)
	}
	client, err := NewClient(rel, s.model.LocalUnit())
	if errors.Is(err, errors.NotFound) {
		// The relation is still bound; try again on a later hook.
		logger.Warningf("keeping %q: %v", path, err)
		return nil
	} else if err != nil {
		return errors.Annotatef(err, "restoring %q", path)
	}

	var observers []observer
	for _, n := range notices {
		obs, ok := s.observer(n.ObserverPath)
		if !ok {
			logger.Debugf("observer %q for %q not registered", n.ObserverPath, path)
			continue
		}
		logger.Debugf("re-emitting %q to %q, first emitted %v", path, obs.name, n.Emitted)
		observers = append(observers, obs)
	}
	if len(observers) == 0 {
		return nil
	}
	return errors.Trace(s.deliver(ctx, path, client, observers))
}

func (s *HTTPServer) discard(ctx context.Context, path string, notices []storage.Notice) error {
	for _, n := range notices {
		if err := s.store.DropNotice(ctx, n); err != nil {
			return errors.Trace(err)
		}
	}
	return errors.Trace(s.store.DropSnapshot(ctx, path))
}

func (s *HTTPServer) observer(name string) (observer, bool) {
	for _, obs := range s.observers {
		if obs.name == name {
			return obs, true
		}
	}
	return observer{}, false
}
