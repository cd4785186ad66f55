// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package httpinterface

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/juju/errors"

	"github.com/juju/http-interface/core/relation"
)

// Endpoint is an address at which the serving application accepts HTTP
// requests.
type Endpoint struct {
	Hostname string `json:"hostname"`
	Port     int    `json:"port"`
}

// Endpoints pairs each host with port, preserving the order of hosts.
func Endpoints(hosts []string, port int) []Endpoint {
	endpoints := make([]Endpoint, 0, len(hosts))
	for _, host := range hosts {
		endpoints = append(endpoints, Endpoint{Hostname: host, Port: port})
	}
	return endpoints
}

// EncodeEndpoints renders endpoints in the form published under the
// extended_data key. No endpoints encode as an empty JSON array.
// Hostnames are written as given, without HTML escaping.
func EncodeEndpoints(endpoints []Endpoint) (string, error) {
	if endpoints == nil {
		endpoints = []Endpoint{}
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(endpoints); err != nil {
		return "", errors.Trace(err)
	}
	return strings.TrimSuffix(buf.String(), "\n"), nil
}

// ParseEndpoints decodes a published extended_data value.
func ParseEndpoints(data string) ([]Endpoint, error) {
	var endpoints []Endpoint
	if err := json.Unmarshal([]byte(data), &endpoints); err != nil {
		return nil, errors.NotValidf("extended data %q", data)
	}
	for _, ep := range endpoints {
		if ep.Hostname == "" {
			return nil, errors.NotValidf("endpoint without hostname in %q", data)
		}
		if ep.Port <= 0 || ep.Port > 65535 {
			return nil, errors.NotValidf("port %d for %q", ep.Port, ep.Hostname)
		}
	}
	if endpoints == nil {
		endpoints = []Endpoint{}
	}
	return endpoints, nil
}

// ReadEndpoints returns the endpoints the given unit of the serving
// application published on the relation. This is the view a client
// application has of the data written by Client.Serve.
func ReadEndpoints(rel relation.Relation, unit string) ([]Endpoint, error) {
	data, ok, err := rel.Data().Get(unit, ExtendedDataKey)
	if err != nil {
		return nil, errors.Annotatef(err, "reading %s for %q on relation %v", ExtendedDataKey, unit, rel.Key())
	}
	if !ok {
		return nil, errors.NotFoundf("%s for %q on relation %v", ExtendedDataKey, unit, rel.Key())
	}
	endpoints, err := ParseEndpoints(data)
	return endpoints, errors.Trace(err)
}
