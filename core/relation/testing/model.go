// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package testing

import (
	"sort"

	"github.com/juju/errors"
	"github.com/juju/testing"

	"github.com/juju/http-interface/core/relation"
)

// Settings holds the relation settings for a single unit.
type Settings map[string]string

// Model is a test double for relation.Model.
type Model struct {
	Stub *testing.Stub

	Unit string
	rels map[relation.Key]*Relation
}

var _ relation.Model = (*Model)(nil)

// NewModel returns an empty model for the named local unit.
func NewModel(unit string, stub *testing.Stub) *Model {
	if stub == nil {
		stub = &testing.Stub{}
	}
	return &Model{
		Stub: stub,
		Unit: unit,
		rels: make(map[relation.Key]*Relation),
	}
}

// AddRelation binds a new relation to the model. The local unit's
// settings start out holding the supplied values.
func (m *Model) AddRelation(name string, id int, remoteApp string, local Settings) *Relation {
	rel := &Relation{
		stub:      m.Stub,
		key:       relation.Key{Name: name, ID: id},
		remoteApp: remoteApp,
		bag:       &DataBag{stub: m.Stub, settings: make(map[string]Settings)},
	}
	if local != nil {
		rel.bag.SetSettings(m.Unit, local)
	}
	m.rels[rel.key] = rel
	return rel
}

// RemoveRelation drops the relation from the model.
func (m *Model) RemoveRelation(key relation.Key) {
	delete(m.rels, key)
}

// LocalUnit implements relation.Model.
func (m *Model) LocalUnit() string {
	return m.Unit
}

// Relations implements relation.Model.
func (m *Model) Relations(name string) ([]relation.Relation, error) {
	m.Stub.AddCall("Relations", name)
	if err := m.Stub.NextErr(); err != nil {
		return nil, err
	}
	var found []*Relation
	for key, rel := range m.rels {
		if key.Name == name {
			found = append(found, rel)
		}
	}
	sort.Slice(found, func(i, j int) bool {
		return found[i].key.ID < found[j].key.ID
	})
	result := make([]relation.Relation, len(found))
	for i, rel := range found {
		result[i] = rel
	}
	return result, nil
}

// Relation implements relation.Model.
func (m *Model) Relation(key relation.Key) (relation.Relation, error) {
	m.Stub.AddCall("Relation", key)
	if err := m.Stub.NextErr(); err != nil {
		return nil, err
	}
	rel, ok := m.rels[key]
	if !ok {
		return nil, errors.NotFoundf("relation %v", key)
	}
	return rel, nil
}

// Relation is a test double for relation.Relation.
type Relation struct {
	stub      *testing.Stub
	key       relation.Key
	remoteApp string
	bag       *DataBag
}

// Id implements relation.Relation.
func (r *Relation) Id() int {
	return r.key.ID
}

// Name implements relation.Relation.
func (r *Relation) Name() string {
	return r.key.Name
}

// Key implements relation.Relation.
func (r *Relation) Key() relation.Key {
	return r.key
}

// RemoteApplication implements relation.Relation.
func (r *Relation) RemoteApplication() string {
	return r.remoteApp
}

// Data implements relation.Relation.
func (r *Relation) Data() relation.DataBag {
	return r.bag
}

// Bag returns the concrete data bag for inspection.
func (r *Relation) Bag() *DataBag {
	return r.bag
}

// DataBag is a test double for relation.DataBag.
type DataBag struct {
	stub     *testing.Stub
	settings map[string]Settings
}

// SetSettings replaces all settings for the unit.
func (b *DataBag) SetSettings(unit string, settings Settings) {
	copied := make(Settings, len(settings))
	for k, v := range settings {
		copied[k] = v
	}
	b.settings[unit] = copied
}

// Settings returns the settings held for the unit.
func (b *DataBag) Settings(unit string) Settings {
	return b.settings[unit]
}

// Get implements relation.DataBag.
func (b *DataBag) Get(unit, key string) (string, bool, error) {
	b.stub.AddCall("Get", unit, key)
	if err := b.stub.NextErr(); err != nil {
		return "", false, err
	}
	value, ok := b.settings[unit][key]
	return value, ok, nil
}

// Set implements relation.DataBag.
func (b *DataBag) Set(unit, key, value string) error {
	b.stub.AddCall("Set", unit, key, value)
	if err := b.stub.NextErr(); err != nil {
		return err
	}
	if b.settings[unit] == nil {
		b.settings[unit] = make(Settings)
	}
	b.settings[unit][key] = value
	return nil
}
