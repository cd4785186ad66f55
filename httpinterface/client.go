// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package httpinterface

import (
	"github.com/juju/errors"

	"github.com/juju/http-interface/core/relation"
)

const (
	// IngressAddressKey is the relation settings key under which the
	// runtime records the address a unit advertises on the relation.
	IngressAddressKey = "ingress-address"

	// ExtendedDataKey is the relation settings key under which the served
	// endpoints are published.
	ExtendedDataKey = "extended_data"
)

// Client is a remote application on the other side of an http relation,
// as seen from a unit of the serving application.
type Client struct {
	relation       relation.Relation
	unit           string
	ingressAddress string
}

// NewClient returns the Client for rel, reading the local unit's ingress
// address from the relation settings. If the address has not been set
// the error satisfies errors.NotFound.
func NewClient(rel relation.Relation, localUnit string) (*Client, error) {
	addr, ok, err := rel.Data().Get(localUnit, IngressAddressKey)
	if err != nil {
		return nil, errors.Annotatef(err, "reading %s for %q on relation %v", IngressAddressKey, localUnit, rel.Key())
	}
	if !ok {
		return nil, errors.NotFoundf("%s for %q on relation %v", IngressAddressKey, localUnit, rel.Key())
	}
	return &Client{
		relation:       rel,
		unit:           localUnit,
		ingressAddress: addr,
	}, nil
}

// IngressAddress returns the address the local unit advertises on the
// client's relation.
func (c *Client) IngressAddress() string {
	return c.ingressAddress
}

// Relation returns the relation the client is reached through.
func (c *Client) Relation() relation.Relation {
	return c.relation
}

// Serve publishes one endpoint per host, all on port, to the client.
// Calling it again replaces whatever was published before.
func (c *Client) Serve(hosts []string, port int) error {
	data, err := EncodeEndpoints(Endpoints(hosts, port))
	if err != nil {
		return errors.Trace(err)
	}
	if err := c.relation.Data().Set(c.unit, ExtendedDataKey, data); err != nil {
		return errors.Annotatef(err, "publishing endpoints on relation %v", c.relation.Key())
	}
	return nil
}
