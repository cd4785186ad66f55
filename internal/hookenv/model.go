// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package hookenv

import (
	"encoding/json"
	"sort"

	"github.com/juju/errors"

	"github.com/juju/http-interface/core/relation"
)

// Model is a relation.Model backed by the relation hook tools.
type Model struct {
	runner Runner
	unit   string
}

var _ relation.Model = (*Model)(nil)

// NewModel returns a Model for the local unit which reads and writes
// relations through runner.
func NewModel(runner Runner, unit string) *Model {
	return &Model{runner: runner, unit: unit}
}

// LocalUnit implements relation.Model.
func (m *Model) LocalUnit() string {
	return m.unit
}

// Relations implements relation.Model.
func (m *Model) Relations(name string) ([]relation.Relation, error) {
	if err := relation.ValidateEndpointName(name); err != nil {
		return nil, errors.Trace(err)
	}
	var ids []string
	if err := m.runJSON(&ids, "relation-ids", "--format=json", name); err != nil {
		return nil, errors.Trace(err)
	}
	keys := make([]relation.Key, 0, len(ids))
	for _, id := range ids {
		key, err := relation.ParseKey(id)
		if err != nil {
			return nil, errors.Trace(err)
		}
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		return keys[i].ID < keys[j].ID
	})
	rels := make([]relation.Relation, 0, len(keys))
	for _, key := range keys {
		rel, err := m.newRelation(key)
		if err != nil {
			return nil, errors.Trace(err)
		}
		rels = append(rels, rel)
	}
	return rels, nil
}

// Relation implements relation.Model.
func (m *Model) Relation(key relation.Key) (relation.Relation, error) {
	rels, err := m.Relations(key.Name)
	if err != nil {
		return nil, errors.Trace(err)
	}
	for _, rel := range rels {
		if rel.Key() == key {
			return rel, nil
		}
	}
	return nil, errors.NotFoundf("relation %v", key)
}

func (m *Model) newRelation(key relation.Key) (*toolRelation, error) {
	var app string
	if err := m.runJSON(&app, "relation-list", "--format=json", "--app", "-r", key.String()); err != nil {
		return nil, errors.Annotatef(err, "reading remote application of relation %v", key)
	}
	return &toolRelation{model: m, key: key, remoteApp: app}, nil
}

func (m *Model) runJSON(out interface{}, tool string, args ...string) error {
	stdout, err := m.runner.Run(tool, args...)
	if err != nil {
		return errors.Trace(err)
	}
	if err := json.Unmarshal(stdout, out); err != nil {
		return errors.Annotatef(err, "parsing %s output", tool)
	}
	return nil
}

type toolRelation struct {
	model     *Model
	key       relation.Key
	remoteApp string
}

func (r *toolRelation) Id() int                   { return r.key.ID }
func (r *toolRelation) Name() string              { return r.key.Name }
func (r *toolRelation) Key() relation.Key         { return r.key }
func (r *toolRelation) RemoteApplication() string { return r.remoteApp }
func (r *toolRelation) Data() relation.DataBag    { return toolDataBag{r} }

type toolDataBag struct {
	rel *toolRelation
}

// Get implements relation.DataBag.
func (b toolDataBag) Get(unit, key string) (string, bool, error) {
	var value *string
	err := b.rel.model.runJSON(&value, "relation-get", "--format=json", "-r", b.rel.key.String(), key, unit)
	if err != nil {
		return "", false, errors.Annotatef(err, "reading %q for %q on relation %v", key, unit, b.rel.key)
	}
	if value == nil {
		return "", false, nil
	}
	return *value, true, nil
}

// Set implements relation.DataBag. Only the local unit's settings can
// be written.
func (b toolDataBag) Set(unit, key, value string) error {
	if unit != b.rel.model.unit {
		return errors.NotSupportedf("setting data for unit %q", unit)
	}
	_, err := b.rel.model.runner.Run("relation-set", "-r", b.rel.key.String(), key+"="+value)
	return errors.Annotatef(err, "writing %q on relation %v", key, b.rel.key)
}

