// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package httpinterface_test

import (
	"context"
	"path/filepath"
	"time"

	"github.com/juju/clock/testclock"
	"github.com/juju/errors"
	"github.com/juju/testing"
	jc "github.com/juju/testing/checkers"
	gc "gopkg.in/check.v1"

	"github.com/juju/http-interface/core/relation"
	relationtesting "github.com/juju/http-interface/core/relation/testing"
	"github.com/juju/http-interface/hook"
	"github.com/juju/http-interface/httpinterface"
	"github.com/juju/http-interface/internal/storage"
	"github.com/juju/http-interface/lifecycle"
)

type serverSuite struct {
	testing.IsolationSuite

	clock      *testclock.Clock
	model      *relationtesting.Model
	store      storage.Store
	dispatcher *lifecycle.Dispatcher
}

var _ = gc.Suite(&serverSuite{})

func (s *serverSuite) SetUpTest(c *gc.C) {
	s.IsolationSuite.SetUpTest(c)
	s.clock = testclock.NewClock(time.Date(2026, 10, 17, 9, 0, 0, 0, time.UTC))
	s.model = relationtesting.NewModel("webapp/0", nil)
	s.store = storage.NewMemoryStore()
	s.dispatcher = lifecycle.NewDispatcher()
}

func (s *serverSuite) config() httpinterface.Config {
	return httpinterface.Config{
		Source:       s.dispatcher,
		Model:        s.model,
		Store:        s.store,
		RelationName: "website",
		Clock:        s.clock,
	}
}

func (s *serverSuite) newServer(c *gc.C) *httpinterface.HTTPServer {
	server, err := httpinterface.NewHTTPServer(context.Background(), s.config())
	c.Assert(err, jc.ErrorIsNil)
	return server
}

func (s *serverSuite) addRelation(id int, app string) *relationtesting.Relation {
	return s.model.AddRelation("website", id, app, relationtesting.Settings{
		"ingress-address": "10.0.0.5",
	})
}

func (s *serverSuite) dispatch(c *gc.C, kind hook.Kind, rel relation.Relation, unit string) error {
	ev := lifecycle.Event{
		Kind:              kind,
		Relation:          rel,
		RemoteUnit:        unit,
		RemoteApplication: rel.RemoteApplication(),
	}
	return s.dispatcher.Dispatch(context.Background(), ev)
}

func (s *serverSuite) join(c *gc.C, rel relation.Relation, unit string) {
	c.Assert(s.dispatch(c, hook.RelationJoined, rel, unit), jc.ErrorIsNil)
}

// recorder collects the relation keys of delivered events.
type recorder struct {
	keys      []relation.Key
	deferring bool
	err       error
}

func (r *recorder) handle(_ context.Context, ev *httpinterface.NewClientEvent) error {
	if r.err != nil {
		return r.err
	}
	r.keys = append(r.keys, ev.Client.Relation().Key())
	if r.deferring {
		ev.Defer()
	}
	return nil
}

func (s *serverSuite) notices(c *gc.C) []storage.Notice {
	notices, err := s.store.Notices(context.Background())
	c.Assert(err, jc.ErrorIsNil)
	return notices
}

func (s *serverSuite) TestConfigValidate(c *gc.C) {
	for i, test := range []struct {
		mutate func(*httpinterface.Config)
		err    string
	}{{
		mutate: func(cfg *httpinterface.Config) { cfg.Source = nil },
		err:    "nil Source not valid",
	}, {
		mutate: func(cfg *httpinterface.Config) { cfg.Model = nil },
		err:    "nil Model not valid",
	}, {
		mutate: func(cfg *httpinterface.Config) { cfg.Store = nil },
		err:    "nil Store not valid",
	}, {
		mutate: func(cfg *httpinterface.Config) { cfg.Clock = nil },
		err:    "nil Clock not valid",
	}, {
		mutate: func(cfg *httpinterface.Config) { cfg.RelationName = "" },
		err:    `relation name "" not valid`,
	}, {
		mutate: func(cfg *httpinterface.Config) { cfg.RelationName = "Web Site" },
		err:    `relation name "Web Site" not valid`,
	}} {
		c.Logf("test %d: %s", i, test.err)
		cfg := s.config()
		test.mutate(&cfg)
		err := cfg.Validate()
		c.Check(err, jc.Satisfies, errors.IsNotValid)
		c.Check(err, gc.ErrorMatches, test.err)

		_, err = httpinterface.NewHTTPServer(context.Background(), cfg)
		c.Check(err, gc.ErrorMatches, test.err)
	}
}

func (s *serverSuite) TestRelationName(c *gc.C) {
	c.Assert(s.newServer(c).RelationName(), gc.Equals, "website")
}

func (s *serverSuite) TestObserveInvalid(c *gc.C) {
	server := s.newServer(c)
	rec := &recorder{}
	err := server.Observe("", rec.handle)
	c.Check(err, jc.Satisfies, errors.IsNotValid)
	err = server.Observe("charm", nil)
	c.Check(err, jc.Satisfies, errors.IsNotValid)

	c.Assert(server.Observe("charm", rec.handle), jc.ErrorIsNil)
	err = server.Observe("charm", rec.handle)
	c.Check(err, jc.Satisfies, errors.IsAlreadyExists)
}

func (s *serverSuite) TestClientsEmpty(c *gc.C) {
	clients, err := s.newServer(c).Clients()
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(clients, gc.HasLen, 0)
}

func (s *serverSuite) TestClients(c *gc.C) {
	s.addRelation(2, "nginx")
	s.addRelation(1, "haproxy")
	s.model.AddRelation("metrics", 3, "prometheus", relationtesting.Settings{
		"ingress-address": "10.0.0.5",
	})

	clients, err := s.newServer(c).Clients()
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(clients, gc.HasLen, 2)
	c.Check(clients[0].Relation().Key(), gc.Equals, relation.Key{Name: "website", ID: 1})
	c.Check(clients[1].Relation().Key(), gc.Equals, relation.Key{Name: "website", ID: 2})
	for _, client := range clients {
		c.Check(client.IngressAddress(), gc.Equals, "10.0.0.5")
	}
}

func (s *serverSuite) TestClientsModelError(c *gc.C) {
	server := s.newServer(c)
	s.model.Stub.SetErrors(errors.New("relation-ids failed"))
	_, err := server.Clients()
	c.Assert(err, gc.ErrorMatches, "relation-ids failed")
}

func (s *serverSuite) TestNewClientOncePerApplication(c *gc.C) {
	server := s.newServer(c)
	rec := &recorder{}
	c.Assert(server.Observe("charm", rec.handle), jc.ErrorIsNil)
	haproxy := s.addRelation(1, "haproxy")

	s.join(c, haproxy, "haproxy/0")
	s.join(c, haproxy, "haproxy/1")
	s.join(c, haproxy, "haproxy/0")

	c.Assert(rec.keys, jc.DeepEquals, []relation.Key{{Name: "website", ID: 1}})
	c.Assert(server.SeenApplications(), jc.DeepEquals, []string{"haproxy"})
	c.Assert(s.notices(c), gc.HasLen, 0)
}

func (s *serverSuite) TestNewClientPerDistinctApplication(c *gc.C) {
	server := s.newServer(c)
	rec := &recorder{}
	c.Assert(server.Observe("charm", rec.handle), jc.ErrorIsNil)
	haproxy := s.addRelation(1, "haproxy")
	nginx := s.addRelation(2, "nginx")

	s.join(c, nginx, "nginx/0")
	s.join(c, haproxy, "haproxy/0")

	c.Assert(rec.keys, jc.DeepEquals, []relation.Key{
		{Name: "website", ID: 2},
		{Name: "website", ID: 1},
	})
	c.Assert(server.SeenApplications(), jc.DeepEquals, []string{"haproxy", "nginx"})
}

func (s *serverSuite) TestObserversCalledInOrder(c *gc.C) {
	server := s.newServer(c)
	var calls []string
	for _, name := range []string{"charm", "metrics"} {
		name := name
		err := server.Observe(name, func(context.Context, *httpinterface.NewClientEvent) error {
			calls = append(calls, name)
			return nil
		})
		c.Assert(err, jc.ErrorIsNil)
	}
	s.join(c, s.addRelation(1, "haproxy"), "haproxy/0")
	c.Assert(calls, jc.DeepEquals, []string{"charm", "metrics"})
}

func (s *serverSuite) TestJoinWithoutObserversRecordsApplication(c *gc.C) {
	server := s.newServer(c)
	s.join(c, s.addRelation(1, "haproxy"), "haproxy/0")
	c.Assert(server.SeenApplications(), jc.DeepEquals, []string{"haproxy"})
	c.Assert(s.notices(c), gc.HasLen, 0)
}

func (s *serverSuite) TestJoinOtherRelationIgnored(c *gc.C) {
	server := s.newServer(c)
	rec := &recorder{}
	c.Assert(server.Observe("charm", rec.handle), jc.ErrorIsNil)
	rel := s.model.AddRelation("metrics", 1, "prometheus", nil)

	s.join(c, rel, "prometheus/0")
	c.Assert(rec.keys, gc.HasLen, 0)
	c.Assert(server.SeenApplications(), gc.HasLen, 0)
}

func (s *serverSuite) TestJoinMissingIngressAddress(c *gc.C) {
	server := s.newServer(c)
	rec := &recorder{}
	c.Assert(server.Observe("charm", rec.handle), jc.ErrorIsNil)
	rel := s.model.AddRelation("website", 1, "haproxy", nil)

	err := s.dispatch(c, hook.RelationJoined, rel, "haproxy/0")
	c.Assert(err, jc.Satisfies, errors.IsNotFound)
	c.Assert(rec.keys, gc.HasLen, 0)
	c.Assert(server.SeenApplications(), gc.HasLen, 0)

	// Once the address shows up the application is reported.
	rel.Bag().SetSettings("webapp/0", relationtesting.Settings{"ingress-address": "10.0.0.5"})
	s.join(c, rel, "haproxy/0")
	c.Assert(rec.keys, gc.HasLen, 1)
}

func (s *serverSuite) TestDepartedRecomputesSeen(c *gc.C) {
	server := s.newServer(c)
	rec := &recorder{}
	c.Assert(server.Observe("charm", rec.handle), jc.ErrorIsNil)
	haproxy := s.addRelation(1, "haproxy")
	nginx := s.addRelation(2, "nginx")
	s.join(c, haproxy, "haproxy/0")
	s.join(c, nginx, "nginx/0")

	s.model.RemoveRelation(nginx.Key())
	err := s.dispatch(c, hook.RelationDeparted, nginx, "nginx/0")
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(server.SeenApplications(), jc.DeepEquals, []string{"haproxy"})

	// A later relation to the same application is a new client again.
	nginx = s.addRelation(5, "nginx")
	s.join(c, nginx, "nginx/0")
	c.Assert(rec.keys, jc.DeepEquals, []relation.Key{
		{Name: "website", ID: 1},
		{Name: "website", ID: 2},
		{Name: "website", ID: 5},
	})
}

func (s *serverSuite) TestDepartedUnitKeepsRelatedApplication(c *gc.C) {
	server := s.newServer(c)
	haproxy := s.addRelation(1, "haproxy")
	s.join(c, haproxy, "haproxy/0")
	s.join(c, haproxy, "haproxy/1")

	err := s.dispatch(c, hook.RelationDeparted, haproxy, "haproxy/1")
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(server.SeenApplications(), jc.DeepEquals, []string{"haproxy"})
}

func (s *serverSuite) TestDepartedAddsCurrentlyRelated(c *gc.C) {
	server := s.newServer(c)
	haproxy := s.addRelation(1, "haproxy")
	s.addRelation(2, "nginx")

	// nginx never joined; the recompute still records it.
	err := s.dispatch(c, hook.RelationDeparted, haproxy, "haproxy/0")
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(server.SeenApplications(), jc.DeepEquals, []string{"haproxy", "nginx"})
}

func (s *serverSuite) TestDepartedModelError(c *gc.C) {
	server := s.newServer(c)
	haproxy := s.addRelation(1, "haproxy")
	s.join(c, haproxy, "haproxy/0")

	s.model.Stub.SetErrors(errors.New("relation-ids failed"))
	err := s.dispatch(c, hook.RelationDeparted, haproxy, "haproxy/0")
	c.Assert(err, gc.ErrorMatches, `handling "relation-departed" on relation website:1: relation-ids failed`)
	c.Assert(server.SeenApplications(), jc.DeepEquals, []string{"haproxy"})
}

func (s *serverSuite) TestStateSharedAcrossInstances(c *gc.C) {
	first := s.newServer(c)
	haproxy := s.addRelation(1, "haproxy")
	s.join(c, haproxy, "haproxy/0")
	c.Assert(first.SeenApplications(), jc.DeepEquals, []string{"haproxy"})

	// A later hook invocation builds a fresh server over the same store.
	s.dispatcher = lifecycle.NewDispatcher()
	second := s.newServer(c)
	c.Assert(second.SeenApplications(), jc.DeepEquals, []string{"haproxy"})

	rec := &recorder{}
	c.Assert(second.Observe("charm", rec.handle), jc.ErrorIsNil)
	s.join(c, haproxy, "haproxy/1")
	c.Assert(rec.keys, gc.HasLen, 0)
}

func (s *serverSuite) TestInvalidStateRecord(c *gc.C) {
	ctx := context.Background()
	err := s.store.SaveSnapshot(ctx, "HTTPServer[website]/state", []byte("version: 1\nbogus: x\n"))
	c.Assert(err, jc.ErrorIsNil)
	_, err = httpinterface.NewHTTPServer(ctx, s.config())
	c.Assert(err, jc.Satisfies, errors.IsNotValid)

	err = s.store.SaveSnapshot(ctx, "HTTPServer[website]/state", []byte("version: 2\n"))
	c.Assert(err, jc.ErrorIsNil)
	_, err = httpinterface.NewHTTPServer(ctx, s.config())
	c.Assert(err, jc.Satisfies, errors.IsNotSupported)
}

func (s *serverSuite) TestDeferredEventReemitted(c *gc.C) {
	server := s.newServer(c)
	rec := &recorder{deferring: true}
	c.Assert(server.Observe("charm", rec.handle), jc.ErrorIsNil)
	haproxy := s.addRelation(1, "haproxy")
	s.join(c, haproxy, "haproxy/0")

	notices := s.notices(c)
	c.Assert(notices, gc.HasLen, 1)
	c.Check(notices[0].EventPath, gc.Equals, "HTTPServer[website]/on/new_client[1]")
	c.Check(notices[0].ObserverPath, gc.Equals, "charm")
	c.Check(notices[0].Emitted.Equal(s.clock.Now()), jc.IsTrue)

	// Still deferring: the notice stays.
	c.Assert(server.ReemitDeferred(context.Background()), jc.ErrorIsNil)
	c.Assert(s.notices(c), gc.HasLen, 1)

	rec.deferring = false
	c.Assert(server.ReemitDeferred(context.Background()), jc.ErrorIsNil)
	c.Assert(s.notices(c), gc.HasLen, 0)
	_, err := s.store.LoadSnapshot(context.Background(), "HTTPServer[website]/on/new_client[1]")
	c.Assert(err, jc.Satisfies, errors.IsNotFound)

	c.Assert(rec.keys, jc.DeepEquals, []relation.Key{
		{Name: "website", ID: 1},
		{Name: "website", ID: 1},
		{Name: "website", ID: 1},
	})
}

func (s *serverSuite) TestReemitOnlyToDeferringObserver(c *gc.C) {
	server := s.newServer(c)
	charm := &recorder{deferring: true}
	metrics := &recorder{}
	c.Assert(server.Observe("charm", charm.handle), jc.ErrorIsNil)
	c.Assert(server.Observe("metrics", metrics.handle), jc.ErrorIsNil)
	s.join(c, s.addRelation(1, "haproxy"), "haproxy/0")

	charm.deferring = false
	c.Assert(server.ReemitDeferred(context.Background()), jc.ErrorIsNil)
	c.Assert(charm.keys, gc.HasLen, 2)
	c.Assert(metrics.keys, gc.HasLen, 1)
}

func (s *serverSuite) TestObserverErrorKeepsNotice(c *gc.C) {
	server := s.newServer(c)
	rec := &recorder{err: errors.New("boom")}
	c.Assert(server.Observe("charm", rec.handle), jc.ErrorIsNil)
	haproxy := s.addRelation(1, "haproxy")

	err := s.dispatch(c, hook.RelationJoined, haproxy, "haproxy/0")
	c.Assert(err, gc.ErrorMatches, `handling "relation-joined" on relation website:1: observer "charm" handling new client on relation website:1: boom`)
	c.Assert(server.SeenApplications(), jc.DeepEquals, []string{"haproxy"})
	c.Assert(s.notices(c), gc.HasLen, 1)

	rec.err = nil
	c.Assert(server.ReemitDeferred(context.Background()), jc.ErrorIsNil)
	c.Assert(rec.keys, gc.HasLen, 1)
	c.Assert(s.notices(c), gc.HasLen, 0)
}

func (s *serverSuite) TestReemitDiscardsGoneRelation(c *gc.C) {
	server := s.newServer(c)
	rec := &recorder{deferring: true}
	c.Assert(server.Observe("charm", rec.handle), jc.ErrorIsNil)
	haproxy := s.addRelation(1, "haproxy")
	s.join(c, haproxy, "haproxy/0")

	s.model.RemoveRelation(haproxy.Key())
	c.Assert(server.ReemitDeferred(context.Background()), jc.ErrorIsNil)
	c.Assert(rec.keys, gc.HasLen, 1)
	c.Assert(s.notices(c), gc.HasLen, 0)
	_, err := s.store.LoadSnapshot(context.Background(), "HTTPServer[website]/on/new_client[1]")
	c.Assert(err, jc.Satisfies, errors.IsNotFound)
}

func (s *serverSuite) TestReemitKeepsEventWithoutIngressAddress(c *gc.C) {
	server := s.newServer(c)
	rec := &recorder{deferring: true}
	c.Assert(server.Observe("charm", rec.handle), jc.ErrorIsNil)
	haproxy := s.addRelation(1, "haproxy")
	s.join(c, haproxy, "haproxy/0")
	s.join(c, s.addRelation(2, "squid"), "squid/0")
	c.Assert(s.notices(c), gc.HasLen, 2)

	haproxy.Bag().SetSettings("webapp/0", relationtesting.Settings{})
	rec.deferring = false
	rec.keys = nil
	c.Assert(server.ReemitDeferred(context.Background()), jc.ErrorIsNil)
	c.Assert(rec.keys, jc.DeepEquals, []relation.Key{{Name: "website", ID: 2}})

	notices := s.notices(c)
	c.Assert(notices, gc.HasLen, 1)
	c.Assert(notices[0].EventPath, gc.Equals, "HTTPServer[website]/on/new_client[1]")
	_, err := s.store.LoadSnapshot(context.Background(), "HTTPServer[website]/on/new_client[1]")
	c.Assert(err, jc.ErrorIsNil)

	// Once the address is back the event is delivered.
	haproxy.Bag().SetSettings("webapp/0", relationtesting.Settings{"ingress-address": "10.0.0.5"})
	c.Assert(server.ReemitDeferred(context.Background()), jc.ErrorIsNil)
	c.Assert(rec.keys, jc.DeepEquals, []relation.Key{{Name: "website", ID: 2}, {Name: "website", ID: 1}})
	c.Assert(s.notices(c), gc.HasLen, 0)
}

func (s *serverSuite) TestReemitIgnoresOtherEndpoints(c *gc.C) {
	ctx := context.Background()
	other := storage.Notice{EventPath: "HTTPServer[website-admin]/on/new_client[4]", ObserverPath: "charm"}
	c.Assert(s.store.SaveNotice(ctx, other), jc.ErrorIsNil)

	server := s.newServer(c)
	rec := &recorder{}
	c.Assert(server.Observe("charm", rec.handle), jc.ErrorIsNil)
	c.Assert(server.ReemitDeferred(ctx), jc.ErrorIsNil)
	c.Assert(rec.keys, gc.HasLen, 0)
	c.Assert(s.notices(c), gc.HasLen, 1)
}

func (s *serverSuite) TestReemitWithoutSnapshotDiscards(c *gc.C) {
	ctx := context.Background()
	orphan := storage.Notice{EventPath: "HTTPServer[website]/on/new_client[4]", ObserverPath: "charm"}
	c.Assert(s.store.SaveNotice(ctx, orphan), jc.ErrorIsNil)

	server := s.newServer(c)
	rec := &recorder{}
	c.Assert(server.Observe("charm", rec.handle), jc.ErrorIsNil)
	c.Assert(server.ReemitDeferred(ctx), jc.ErrorIsNil)
	c.Assert(rec.keys, gc.HasLen, 0)
	c.Assert(s.notices(c), gc.HasLen, 0)
}

func (s *serverSuite) TestReemitUnregisteredObserverKeepsNotice(c *gc.C) {
	server := s.newServer(c)
	rec := &recorder{deferring: true}
	c.Assert(server.Observe("charm", rec.handle), jc.ErrorIsNil)
	s.join(c, s.addRelation(1, "haproxy"), "haproxy/0")

	s.dispatcher = lifecycle.NewDispatcher()
	restarted := s.newServer(c)
	c.Assert(restarted.ReemitDeferred(context.Background()), jc.ErrorIsNil)
	c.Assert(s.notices(c), gc.HasLen, 1)
}

func (s *serverSuite) TestRestoreNewClientEvent(c *gc.C) {
	haproxy := s.addRelation(1, "haproxy")
	client, err := httpinterface.NewClient(haproxy, "webapp/0")
	c.Assert(err, jc.ErrorIsNil)

	snapshot := (&httpinterface.NewClientEvent{Client: client}).Snapshot()
	c.Assert(snapshot, jc.DeepEquals, map[string]interface{}{
		"relation_name": "website",
		"relation_id":   1,
	})

	ev, err := httpinterface.RestoreNewClientEvent(s.model, snapshot)
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(ev.Client.Relation().Key(), gc.Equals, haproxy.Key())
	c.Assert(ev.Client.IngressAddress(), gc.Equals, "10.0.0.5")
	c.Assert(ev.Deferred(), jc.IsFalse)
}

func (s *serverSuite) TestRestoreNewClientEventErrors(c *gc.C) {
	_, err := httpinterface.RestoreNewClientEvent(s.model, map[string]interface{}{
		"relation_name": "website",
		"relation_id":   9,
	})
	c.Check(err, jc.Satisfies, errors.IsNotFound)

	_, err = httpinterface.RestoreNewClientEvent(s.model, map[string]interface{}{
		"relation_name": "website",
	})
	c.Check(err, jc.Satisfies, errors.IsNotValid)
}

type fileBackedServerSuite struct {
	testing.IsolationSuite
}

var _ = gc.Suite(&fileBackedServerSuite{})

func (s *fileBackedServerSuite) TestNewClientDelivered(c *gc.C) {
	ctx := context.Background()
	clk := testclock.NewClock(time.Date(2026, 10, 17, 9, 0, 0, 0, time.UTC))
	store, err := storage.OpenFileStore(filepath.Join(c.MkDir(), "state.yaml"), clk)
	c.Assert(err, jc.ErrorIsNil)
	model := relationtesting.NewModel("webapp/0", nil)
	haproxy := model.AddRelation("website", 1, "haproxy", relationtesting.Settings{
		"ingress-address": "10.0.0.5",
	})
	dispatcher := lifecycle.NewDispatcher()
	server, err := httpinterface.NewHTTPServer(ctx, httpinterface.Config{
		Source:       dispatcher,
		Model:        model,
		Store:        store,
		RelationName: "website",
		Clock:        clk,
	})
	c.Assert(err, jc.ErrorIsNil)
	rec := &recorder{}
	c.Assert(server.Observe("charm", rec.handle), jc.ErrorIsNil)

	err = dispatcher.Dispatch(ctx, lifecycle.Event{
		Kind:              hook.RelationJoined,
		Relation:          haproxy,
		RemoteUnit:        "haproxy/0",
		RemoteApplication: "haproxy",
	})
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(rec.keys, jc.DeepEquals, []relation.Key{{Name: "website", ID: 1}})
	notices, err := store.Notices(ctx)
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(notices, gc.HasLen, 0)
}

func (s *fileBackedServerSuite) TestDeferredSurvivesRestart(c *gc.C) {
	ctx := context.Background()
	clk := testclock.NewClock(time.Date(2026, 10, 17, 9, 0, 0, 0, time.UTC))
	path := filepath.Join(c.MkDir(), "state.yaml")
	model := relationtesting.NewModel("webapp/0", nil)
	haproxy := model.AddRelation("website", 1, "haproxy", relationtesting.Settings{
		"ingress-address": "10.0.0.5",
	})

	start := func(rec *recorder) (*httpinterface.HTTPServer, *lifecycle.Dispatcher) {
		store, err := storage.OpenFileStore(path, clk)
		c.Assert(err, jc.ErrorIsNil)
		s.AddCleanup(func(c *gc.C) { c.Check(store.Close(), jc.ErrorIsNil) })
		dispatcher := lifecycle.NewDispatcher()
		server, err := httpinterface.NewHTTPServer(ctx, httpinterface.Config{
			Source:       dispatcher,
			Model:        model,
			Store:        store,
			RelationName: "website",
			Clock:        clk,
		})
		c.Assert(err, jc.ErrorIsNil)
		c.Assert(server.Observe("charm", rec.handle), jc.ErrorIsNil)
		return server, dispatcher
	}

	first := &recorder{deferring: true}
	_, dispatcher := start(first)
	err := dispatcher.Dispatch(ctx, lifecycle.Event{
		Kind:              hook.RelationJoined,
		Relation:          haproxy,
		RemoteUnit:        "haproxy/0",
		RemoteApplication: "haproxy",
	})
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(first.keys, gc.HasLen, 1)

	second := &recorder{}
	server, _ := start(second)
	c.Assert(server.SeenApplications(), jc.DeepEquals, []string{"haproxy"})
	c.Assert(server.ReemitDeferred(ctx), jc.ErrorIsNil)
	c.Assert(second.keys, jc.DeepEquals, []relation.Key{{Name: "website", ID: 1}})

	third := &recorder{}
	server, _ = start(third)
	c.Assert(server.ReemitDeferred(ctx), jc.ErrorIsNil)
	c.Assert(third.keys, gc.HasLen, 0)
}
