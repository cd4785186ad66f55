// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package lifecycle delivers relation lifecycle events from the host
// runtime to the objects observing them.
package lifecycle

import (
	"context"

	"github.com/juju/errors"
	"github.com/juju/loggo/v2"

	"github.com/juju/http-interface/core/relation"
	"github.com/juju/http-interface/hook"
)

var logger = loggo.GetLogger("juju.http-interface.lifecycle")

// Event describes a relation joining or departing.
type Event struct {
	Kind     hook.Kind
	Relation relation.Relation

	// RemoteUnit is empty for application level events.
	RemoteUnit string

	RemoteApplication string
}

// Handler reacts to a lifecycle event.
type Handler func(ctx context.Context, event Event) error

// Source is the host runtime's lifecycle signal source, as seen by
// objects which want to observe relations bound to a named endpoint.
type Source interface {
	// ObserveJoined registers h to be called whenever a unit or
	// application joins a relation bound to relationName.
	ObserveJoined(relationName string, h Handler)

	// ObserveDeparted registers h to be called whenever a unit or
	// application departs a relation bound to relationName.
	ObserveDeparted(relationName string, h Handler)
}

type observerKey struct {
	kind         hook.Kind
	relationName string
}

// Dispatcher is a Source which delivers events synchronously, one at a
// time, in the order handlers were registered.
type Dispatcher struct {
	handlers map[observerKey][]Handler
}

var _ Source = (*Dispatcher)(nil)

// NewDispatcher returns a Dispatcher with no observers.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{
		handlers: make(map[observerKey][]Handler),
	}
}

// ObserveJoined is part of the Source interface.
func (d *Dispatcher) ObserveJoined(relationName string, h Handler) {
	d.observe(hook.RelationJoined, relationName, h)
}

// ObserveDeparted is part of the Source interface.
func (d *Dispatcher) ObserveDeparted(relationName string, h Handler) {
	d.observe(hook.RelationDeparted, relationName, h)
}

func (d *Dispatcher) observe(kind hook.Kind, relationName string, h Handler) {
	key := observerKey{kind: kind, relationName: relationName}
	d.handlers[key] = append(d.handlers[key], h)
}

// Dispatch delivers the event to every handler observing its kind and
// relation. The first handler error stops delivery and is returned.
func (d *Dispatcher) Dispatch(ctx context.Context, event Event) error {
	if event.Relation == nil {
		return errors.NotValidf("%q event without relation", event.Kind)
	}
	key := observerKey{kind: event.Kind, relationName: event.Relation.Name()}
	handlers := d.handlers[key]
	if len(handlers) == 0 {
		logger.Debugf("no observers for %q on relation %v", event.Kind, event.Relation.Key())
		return nil
	}
	if event.RemoteApplication == "" {
		return errors.NotValidf("%q event without remote application", event.Kind)
	}
	for _, h := range handlers {
		if err := h(ctx, event); err != nil {
			return errors.Annotatef(err, "handling %q on relation %v", event.Kind, event.Relation.Key())
		}
	}
	return nil
}

// EventFromHook builds the lifecycle event for a relation hook, looking
// the relation up in the model.
func EventFromHook(model relation.Model, info hook.Info) (Event, error) {
	if err := info.Validate(); err != nil {
		return Event{}, errors.Trace(err)
	}
	if !info.Kind.IsRelation() {
		return Event{}, errors.NotValidf("non-relation hook %q", info.Kind)
	}
	rel, err := model.Relation(info.RelationKey())
	if err != nil {
		return Event{}, errors.Trace(err)
	}
	remoteApp := info.RemoteApplication
	if remoteApp == "" {
		remoteApp = rel.RemoteApplication()
	}
	return Event{
		Kind:              info.Kind,
		Relation:          rel,
		RemoteUnit:        info.RemoteUnit,
		RemoteApplication: remoteApp,
	}, nil
}
