// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package httpinterface

import (
	"context"
	"fmt"

	"github.com/juju/errors"
	"github.com/juju/schema"
	"gopkg.in/yaml.v2"

	"github.com/juju/http-interface/core/relation"
)

const (
	snapshotRelationName = "relation_name"
	snapshotRelationID   = "relation_id"
)

var snapshotChecker = schema.StrictFieldMap(
	schema.Fields{
		snapshotRelationName: schema.String(),
		snapshotRelationID:   schema.ForceInt(),
	},
	nil,
)

// NewClientHandler is called when a remote application is related for
// the first time.
type NewClientHandler func(ctx context.Context, event *NewClientEvent) error

// NewClientEvent notifies an observer of a new client application.
type NewClientEvent struct {
	// Client is the new client.
	Client *Client

	deferred bool
}

// Defer asks for the event to be delivered again to the same observer
// the next time deferred events are re-emitted.
func (ev *NewClientEvent) Defer() {
	ev.deferred = true
}

// Deferred reports whether Defer was called.
func (ev *NewClientEvent) Deferred() bool {
	return ev.deferred
}

// Snapshot returns the data needed to restore the event after a
// restart: the name and id of the client's relation.
func (ev *NewClientEvent) Snapshot() map[string]interface{} {
	key := ev.Client.Relation().Key()
	return map[string]interface{}{
		snapshotRelationName: key.Name,
		snapshotRelationID:   key.ID,
	}
}

// RestoreNewClientEvent rebuilds an event from a snapshot, looking the
// relation up in model. If the relation has gone the error satisfies
// errors.NotFound.
func RestoreNewClientEvent(model relation.Model, snapshot map[string]interface{}) (*NewClientEvent, error) {
	rel, err := restoreRelation(model, snapshot)
	if err != nil {
		return nil, errors.Trace(err)
	}
	client, err := NewClient(rel, model.LocalUnit())
	if err != nil {
		return nil, errors.Trace(err)
	}
	return &NewClientEvent{Client: client}, nil
}

func restoreRelation(model relation.Model, snapshot map[string]interface{}) (relation.Relation, error) {
	key, err := snapshotKey(snapshot)
	if err != nil {
		return nil, errors.Trace(err)
	}
	rel, err := model.Relation(key)
	return rel, errors.Trace(err)
}

func snapshotKey(snapshot map[string]interface{}) (relation.Key, error) {
	coerced, err := snapshotChecker.Coerce(snapshot, nil)
	if err != nil {
		return relation.Key{}, errors.NotValidf("new client snapshot: %v", err)
	}
	fields := coerced.(map[string]interface{})
	return relation.Key{
		Name: fields[snapshotRelationName].(string),
		ID:   fields[snapshotRelationID].(int),
	}, nil
}

func encodeSnapshot(snapshot map[string]interface{}) ([]byte, error) {
	data, err := yaml.Marshal(snapshot)
	return data, errors.Trace(err)
}

func decodeSnapshot(data []byte) (map[string]interface{}, error) {
	snapshot := make(map[string]interface{})
	if err := yaml.Unmarshal(data, &snapshot); err != nil {
		return nil, errors.Trace(err)
	}
	return snapshot, nil
}

func newClientEventPrefix(relationName string) string {
	return "HTTPServer[" + relationName + "]/on/new_client"
}

// newClientEventPath names the persisted event for a relation. At most
// one NewClient event is pending per relation.
func newClientEventPath(key relation.Key) string {
	return fmt.Sprintf("%s[%d]", newClientEventPrefix(key.Name), key.ID)
}
