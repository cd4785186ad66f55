// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package hook defines the charm hooks an http interface charm reacts to.
package hook

import (
	"strings"

	"github.com/juju/errors"

	"github.com/juju/http-interface/core/relation"
)

// Kind enumerates the different kinds of hooks that exist.
type Kind string

const (
	Install       Kind = "install"
	Start         Kind = "start"
	ConfigChanged Kind = "config-changed"
	UpgradeCharm  Kind = "upgrade-charm"
	Stop          Kind = "stop"

	RelationCreated  Kind = "relation-created"
	RelationJoined   Kind = "relation-joined"
	RelationChanged  Kind = "relation-changed"
	RelationDeparted Kind = "relation-departed"
	RelationBroken   Kind = "relation-broken"
)

var unitKinds = []Kind{Install, Start, ConfigChanged, UpgradeCharm, Stop}

// Relation hook kinds ordered so that suffix matching in ParseHookName
// is unambiguous.
var relationKinds = []Kind{RelationCreated, RelationJoined, RelationChanged, RelationDeparted, RelationBroken}

// IsRelation returns whether the Kind represents a relation hook.
func (kind Kind) IsRelation() bool {
	switch kind {
	case RelationCreated, RelationJoined, RelationChanged, RelationDeparted, RelationBroken:
		return true
	}
	return false
}

// Info holds details of a hook invocation. Not all fields are relevant
// to all Kind values.
type Info struct {
	Kind Kind `yaml:"kind"`

	// RelationName is the local endpoint of the relation. It is only
	// set when Kind indicates a relation hook.
	RelationName string `yaml:"relation-name,omitempty"`

	// RelationId identifies the relation associated with the hook. It is
	// only set when Kind indicates a relation hook.
	RelationId int `yaml:"relation-id,omitempty"`

	// RemoteUnit is the name of the unit that triggered the hook. It is
	// empty for application level relation events.
	RemoteUnit string `yaml:"remote-unit,omitempty"`

	// RemoteApplication is the name of the application on the other
	// side of the relation.
	RemoteApplication string `yaml:"remote-application,omitempty"`
}

// RelationKey returns the key of the relation the hook fired for.
func (hi Info) RelationKey() relation.Key {
	return relation.Key{Name: hi.RelationName, ID: hi.RelationId}
}

// Validate returns an error if the info is not valid.
func (hi Info) Validate() error {
	switch hi.Kind {
	case RelationJoined, RelationChanged, RelationDeparted:
		if hi.RemoteUnit == "" && hi.RemoteApplication == "" {
			return errors.NotValidf("%q hook without remote unit or application", hi.Kind)
		}
		fallthrough
	case RelationCreated, RelationBroken:
		if err := relation.ValidateEndpointName(hi.RelationName); err != nil {
			return errors.Annotatef(err, "%q hook", hi.Kind)
		}
		return nil
	case Install, Start, ConfigChanged, UpgradeCharm, Stop:
		return nil
	}
	return errors.NotValidf("hook kind %q", hi.Kind)
}

// ParseHookName splits a hook name such as "website-relation-joined"
// into its kind and, for relation hooks, the relation endpoint name.
func ParseHookName(name string) (Kind, string, error) {
	for _, kind := range unitKinds {
		if name == string(kind) {
			return kind, "", nil
		}
	}
	for _, kind := range relationKinds {
		suffix := "-" + string(kind)
		if !strings.HasSuffix(name, suffix) {
			continue
		}
		relName := strings.TrimSuffix(name, suffix)
		if err := relation.ValidateEndpointName(relName); err != nil {
			return "", "", errors.Annotatef(err, "hook %q", name)
		}
		return kind, relName, nil
	}
	return "", "", errors.NotSupportedf("hook %q", name)
}
