// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package httpinterface

import (
	"context"

	"github.com/juju/collections/set"
	"github.com/juju/errors"
	"github.com/juju/schema"
	"gopkg.in/yaml.v2"

	"github.com/juju/http-interface/internal/storage"
)

const stateVersion = 1

var stateChecker = schema.StrictFieldMap(
	schema.Fields{
		"version":           schema.ForceInt(),
		"seen-applications": schema.List(schema.String()),
	},
	schema.Defaults{
		"seen-applications": schema.Omit,
	},
)

// serverState is the durable record of an HTTPServer.
type serverState struct {
	// seen holds the remote applications a NewClient event has been
	// emitted for.
	seen set.Strings
}

type stateDoc struct {
	Version          int      `yaml:"version"`
	SeenApplications []string `yaml:"seen-applications,omitempty"`
}

func newServerState() *serverState {
	return &serverState{seen: set.NewStrings()}
}

func stateHandle(relationName string) string {
	return "HTTPServer[" + relationName + "]/state"
}

// loadState reads the record stored under handle. A missing record is an
// empty state.
func loadState(ctx context.Context, store storage.Store, handle string) (*serverState, error) {
	data, err := store.LoadSnapshot(ctx, handle)
	if errors.Is(err, errors.NotFound) {
		return newServerState(), nil
	} else if err != nil {
		return nil, errors.Trace(err)
	}
	st, err := parseState(data)
	return st, errors.Annotatef(err, "loading %q", handle)
}

func parseState(data []byte) (*serverState, error) {
	raw := make(map[string]interface{})
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, errors.Trace(err)
	}
	coerced, err := stateChecker.Coerce(raw, nil)
	if err != nil {
		return nil, errors.NotValidf("state record: %v", err)
	}
	fields := coerced.(map[string]interface{})
	if version := fields["version"].(int); version != stateVersion {
		return nil, errors.NotSupportedf("state record version %d", version)
	}
	st := newServerState()
	if seen, ok := fields["seen-applications"].([]interface{}); ok {
		for _, app := range seen {
			st.seen.Add(app.(string))
		}
	}
	return st, nil
}

// save writes the record under handle.
func (st *serverState) save(ctx context.Context, store storage.Store, handle string) error {
	data, err := yaml.Marshal(stateDoc{
		Version:          stateVersion,
		SeenApplications: st.seen.SortedValues(),
	})
	if err != nil {
		return errors.Trace(err)
	}
	return errors.Annotatef(store.SaveSnapshot(ctx, handle, data), "saving %q", handle)
}
