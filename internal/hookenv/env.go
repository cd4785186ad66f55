// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package hookenv connects the http interface to a running unit agent:
// it reads the hook environment and talks to the agent through the hook
// tools on $PATH.
package hookenv

import (
	"os"
	"path"
	"strings"

	"github.com/juju/errors"
	"github.com/juju/loggo/v2"
	"github.com/juju/names/v5"
	"github.com/juju/schema"

	"github.com/juju/http-interface/core/relation"
	"github.com/juju/http-interface/hook"
)

var logger = loggo.GetLogger("juju.http-interface.hookenv")

const (
	envUnitName     = "JUJU_UNIT_NAME"
	envHookName     = "JUJU_HOOK_NAME"
	envDispatchPath = "JUJU_DISPATCH_PATH"
	envRelation     = "JUJU_RELATION"
	envRelationID   = "JUJU_RELATION_ID"
	envRemoteUnit   = "JUJU_REMOTE_UNIT"
	envRemoteApp    = "JUJU_REMOTE_APP"
	envCharmDir     = "JUJU_CHARM_DIR"
)

var envChecker = schema.FieldMap(
	schema.Fields{
		envUnitName:     schema.String(),
		envHookName:     schema.String(),
		envDispatchPath: schema.String(),
		envRelation:     schema.String(),
		envRelationID:   schema.String(),
		envRemoteUnit:   schema.String(),
		envRemoteApp:    schema.String(),
		envCharmDir:     schema.String(),
	},
	schema.Defaults{
		envHookName:     "",
		envDispatchPath: "",
		envRelation:     "",
		envRelationID:   "",
		envRemoteUnit:   "",
		envRemoteApp:    "",
		envCharmDir:     "",
	},
)

// Environment is the context the unit agent passes to a hook.
type Environment struct {
	UnitName string
	HookName string
	CharmDir string

	// Relation is only set for relation hooks.
	Relation          relation.Key
	RemoteUnit        string
	RemoteApplication string
}

// EnvironmentFromOS reads the hook environment of the current process.
func EnvironmentFromOS() (Environment, error) {
	return ParseEnvironment(os.Environ())
}

// ParseEnvironment reads the hook environment from a list of
// "key=value" strings.
func ParseEnvironment(environ []string) (Environment, error) {
	raw := make(map[string]interface{})
	for _, kv := range environ {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || !strings.HasPrefix(k, "JUJU_") {
			continue
		}
		raw[k] = v
	}
	coerced, err := envChecker.Coerce(raw, nil)
	if err != nil {
		return Environment{}, errors.NotValidf("hook environment: %v", err)
	}
	fields := coerced.(map[string]interface{})

	env := Environment{
		UnitName:          fields[envUnitName].(string),
		HookName:          fields[envHookName].(string),
		CharmDir:          fields[envCharmDir].(string),
		RemoteUnit:        fields[envRemoteUnit].(string),
		RemoteApplication: fields[envRemoteApp].(string),
	}
	if !names.IsValidUnit(env.UnitName) {
		return Environment{}, errors.NotValidf("unit name %q", env.UnitName)
	}
	// JUJU_DISPATCH_PATH is set by newer agents, "hooks/<hook-name>".
	if dispatch := fields[envDispatchPath].(string); env.HookName == "" && dispatch != "" {
		env.HookName = path.Base(dispatch)
	}
	if env.HookName == "" {
		return Environment{}, errors.NotValidf("hook environment without %s or %s", envHookName, envDispatchPath)
	}

	if id := fields[envRelationID].(string); id != "" {
		key, err := relation.ParseKey(id)
		if err != nil {
			return Environment{}, errors.Trace(err)
		}
		if name := fields[envRelation].(string); name != "" && name != key.Name {
			return Environment{}, errors.NotValidf("%s %q for %s %q", envRelation, name, envRelationID, id)
		}
		env.Relation = key
	}
	if env.RemoteUnit != "" {
		if !names.IsValidUnit(env.RemoteUnit) {
			return Environment{}, errors.NotValidf("remote unit name %q", env.RemoteUnit)
		}
		if env.RemoteApplication == "" {
			app, err := names.UnitApplication(env.RemoteUnit)
			if err != nil {
				return Environment{}, errors.Trace(err)
			}
			env.RemoteApplication = app
		}
	}
	return env, nil
}

// HookInfo describes the hook being run.
func (env Environment) HookInfo() (hook.Info, error) {
	kind, relName, err := hook.ParseHookName(env.HookName)
	if err != nil {
		return hook.Info{}, errors.Trace(err)
	}
	info := hook.Info{Kind: kind}
	if kind.IsRelation() {
		if env.Relation.Name == "" {
			return hook.Info{}, errors.NotValidf("%q hook without %s", env.HookName, envRelationID)
		}
		if env.Relation.Name != relName {
			return hook.Info{}, errors.NotValidf("%q hook for relation %v", env.HookName, env.Relation)
		}
		info.RelationName = env.Relation.Name
		info.RelationId = env.Relation.ID
		info.RemoteUnit = env.RemoteUnit
		info.RemoteApplication = env.RemoteApplication
	}
	if err := info.Validate(); err != nil {
		return hook.Info{}, errors.Trace(err)
	}
	logger.Debugf("running %q hook", env.HookName)
	return info, nil
}
