// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package relation holds the minimal view of a charm's relations needed
// to publish data to remote applications: relation identities, per-unit
// data bags, and the model that enumerates them.
package relation

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/juju/errors"
	"github.com/juju/names/v5"
)

var validEndpoint = regexp.MustCompile("^" + names.RelationSnippet + "$")

// ValidateEndpointName returns an error if name cannot be a relation
// endpoint name in charm metadata.
func ValidateEndpointName(name string) error {
	if !validEndpoint.MatchString(name) {
		return errors.NotValidf("relation name %q", name)
	}
	return nil
}

// Key identifies a single relation instance bound to a named endpoint.
type Key struct {
	Name string
	ID   int
}

// String returns the key in the "name:id" form used by the hook tools.
func (k Key) String() string {
	return fmt.Sprintf("%s:%d", k.Name, k.ID)
}

// ParseKey parses a relation id of the form "name:id".
func ParseKey(s string) (Key, error) {
	name, idStr, ok := strings.Cut(s, ":")
	if !ok {
		return Key{}, errors.NotValidf("relation id %q", s)
	}
	if err := ValidateEndpointName(name); err != nil {
		return Key{}, errors.Annotatef(err, "relation id %q", s)
	}
	id, err := strconv.Atoi(idStr)
	if err != nil || id < 0 {
		return Key{}, errors.NotValidf("relation id %q", s)
	}
	return Key{Name: name, ID: id}, nil
}

// DataBag is the key/value settings store of a relation, partitioned by
// unit name.
type DataBag interface {
	// Get returns the value stored for key in the unit's settings.
	// ok is false when the key is not set.
	Get(unit, key string) (value string, ok bool, err error)

	// Set stores value for key in the unit's settings.
	Set(unit, key, value string) error
}

// Relation is one instance of a relation between the local application
// and a remote one.
type Relation interface {
	// Id returns the integer id of the relation.
	Id() int

	// Name returns the local endpoint name the relation is bound to.
	Name() string

	// Key returns the relation's name and id.
	Key() Key

	// RemoteApplication returns the name of the application on the
	// other side of the relation.
	RemoteApplication() string

	// Data returns the relation's settings.
	Data() DataBag
}

// Model exposes the relations visible to the local unit.
type Model interface {
	// LocalUnit returns the name of the unit this code runs as.
	LocalUnit() string

	// Relations returns every relation currently bound to the named
	// endpoint, ordered by id. It returns an empty slice, not an error,
	// when there are none.
	Relations(name string) ([]Relation, error)

	// Relation returns the relation with the given key, or an error
	// satisfying errors.NotFound if it no longer exists.
	Relation(key Key) (Relation, error)
}
