package cmd

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/aimaestro/meshhost/internal/aggregator"
	"github.com/aimaestro/meshhost/internal/config"
	"github.com/aimaestro/meshhost/internal/eventbus"
	"github.com/aimaestro/meshhost/internal/hostsconfig"
	"github.com/aimaestro/meshhost/internal/meeting"
	"github.com/aimaestro/meshhost/internal/messages"
	"github.com/aimaestro/meshhost/internal/meshclient"
	"github.com/aimaestro/meshhost/internal/metrics"
	"github.com/aimaestro/meshhost/internal/peermesh"
	"github.com/aimaestro/meshhost/internal/propagation"
	"github.com/aimaestro/meshhost/internal/ratelimit"
	"github.com/aimaestro/meshhost/internal/registry"
	"github.com/aimaestro/meshhost/internal/relay"
	"github.com/aimaestro/meshhost/internal/router"
	"github.com/aimaestro/meshhost/internal/session"
	"github.com/aimaestro/meshhost/internal/statusstream"
	"github.com/aimaestro/meshhost/internal/tmux"
	"github.com/aimaestro/meshhost/internal/webhook"
	"github.com/aimaestro/meshhost/internal/webhttp"
)

// app bundles every long-lived service a meshhost process needs,
// assembled once from the loaded config and used by the serve and status
// commands. The hosts, agents and keys subcommands open the stores they
// need directly instead.
type app struct {
	cfg config.Config

	agents   *registry.Registry
	keys     *registry.KeyStore
	hosts    *hostsconfig.Store
	relayQ   *relay.Queue
	msgs     *messages.Store
	meetings *meeting.Store
	webhooks *webhook.Store
	guard    *propagation.Guard
	bus      *eventbus.Bus
	sessions *session.Supervisor
	metricsR *metrics.Registry
	client   *meshclient.Client

	router     *router.Router
	aggregator *aggregator.Aggregator
	mesh       *peermesh.Driver
	dispatcher *webhook.Dispatcher
	statusHub  *statusstream.Hub
}

// newApp wires every store and service together from cfg, following the
// Router's own Deps-struct convention throughout.
func newApp(cfg config.Config) (*app, error) {
	agents, err := registry.New(cfg.Server.DataDir)
	if err != nil {
		return nil, err
	}
	meetings, err := meeting.New(cfg.Server.DataDir)
	if err != nil {
		return nil, err
	}
	webhooks, err := webhook.New(cfg.Server.DataDir)
	if err != nil {
		return nil, err
	}
	guard, err := propagation.New(cfg.Server.DataDir)
	if err != nil {
		return nil, err
	}

	keys := registry.NewKeyStore(cfg.Server.DataDir)
	hosts := hostsconfig.NewStore(cfg.Server.DataDir)
	relayQ := relay.New(cfg.Server.DataDir)
	msgs := messages.New(cfg.Server.DataDir)
	bus := eventbus.New()
	sessions := session.New(&tmux.Tmux{}, cfg.Server.DataDir, bus)
	metricsR := metrics.NewRegistry(prometheus.DefaultRegisterer)
	client := meshclient.New(http.DefaultTransport)

	routeLimit := ratelimit.New(cfg.RateLimits.RoutePerMinute, time.Minute)
	federationLimit := ratelimit.New(cfg.RateLimits.FederationPerMinute, time.Minute)

	rtr := router.New(router.Deps{
		DataDir:         cfg.Server.DataDir,
		Agents:          agents,
		Keys:            keys,
		Hosts:           hosts,
		Relay:           relayQ,
		Messages:        msgs,
		Sessions:        sessions,
		Peers:           client,
		Bus:             bus,
		Metrics:         metricsR,
		RouteLimit:      routeLimit,
		FederationLimit: federationLimit,
	})

	agg := aggregator.New(agents, client, hosts)
	mesh := peermesh.New(hosts, client)
	dispatcher := webhook.NewDispatcher(webhooks)
	statusHub := statusstream.NewHub(bus)

	return &app{
		cfg: cfg, agents: agents, keys: keys, hosts: hosts, relayQ: relayQ,
		msgs: msgs, meetings: meetings, webhooks: webhooks, guard: guard, bus: bus,
		sessions: sessions, metricsR: metricsR, client: client,
		router: rtr, aggregator: agg, mesh: mesh, dispatcher: dispatcher, statusHub: statusHub,
	}, nil
}

// webServer builds the HTTP surface over the app's services.
func (a *app) webServer() *webhttp.Server {
	return webhttp.New(webhttp.Deps{
		Router: a.router, Aggregator: a.aggregator, Agents: a.agents, Keys: a.keys,
		Hosts: a.hosts, Messages: a.msgs, Meetings: a.meetings, Webhooks: a.webhooks,
		Dispatcher: a.dispatcher, Sessions: a.sessions, StatusHub: a.statusHub,
		Mesh: a.mesh, Bus: a.bus, Propagation: a.guard,
	})
}
