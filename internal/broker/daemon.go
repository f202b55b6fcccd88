// Copyright 2025 Arion Yau
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package broker

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"disgb/internal/admin"
	"disgb/internal/area"
	"disgb/internal/communicator"
	"disgb/internal/distribution"
	"disgb/internal/logger"
	"disgb/internal/message"
	"disgb/internal/metrics"
	"disgb/internal/server"
	"disgb/internal/spatial"
)

const healthCheckInterval = 30 * time.Second

// Option customises a daemon
type Option func(*Daemon)

// WithHandler replaces the default handler for envelopes received from peers
func WithHandler(h server.Handler) Option {
	return func(d *Daemon) {
		d.handler = h
	}
}

// Daemon wires the area table, the communicator pool, the peer listener and the admin API
// of one broker
type Daemon struct {
	config     *Config
	configPath string
	logger     zerolog.Logger

	areas     *area.Manager
	registry  *prometheus.Registry
	metrics   *metrics.Metrics
	pool      *communicator.Pool
	forwarder *communicator.Forwarder
	publisher *Publisher
	handler   server.Handler
	listener  *server.Listener
	adminAPI  *admin.Server

	logicMutex sync.Mutex
	logics     map[string]*distribution.Logic

	running   bool
	startedAt time.Time
	mutex     sync.RWMutex
	ctx       context.Context
	cancel    context.CancelFunc
}

// NewDaemon loads the area table and builds every component without opening sockets.
// A broken area descriptor is returned as *area.ConfigError.
func NewDaemon(config *Config, configPath string, options ...Option) (*Daemon, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	d := &Daemon{
		config:     config,
		configPath: configPath,
		logger:     logger.GetLogger("broker").With().Str("broker_id", config.Broker.ID).Logger(),
		registry:   prometheus.NewRegistry(),
		logics:     make(map[string]*distribution.Logic),
	}
	for _, option := range options {
		option(d)
	}

	areasFile := config.ResolveAreasFile(configPath)
	areas, err := area.LoadFile(areasFile, config.Broker.ID, area.WithLookupCache(config.AreaCacheSize))
	if err != nil {
		return nil, fmt.Errorf("failed to load areas from %s: %w", areasFile, err)
	}
	own, ok := areas.OwnBrokerInfo()
	if !ok {
		return nil, fmt.Errorf("broker %s has no entry in %s: %w", config.Broker.ID, areasFile, area.ErrOwnAreaMissing)
	}
	d.areas = areas

	d.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	d.metrics = metrics.New(d.registry)

	d.pool, err = communicator.NewPool(
		config.Broker.ID,
		config.Communicators,
		areas.OtherBrokers(),
		d.logicFactory(),
		communicator.WithMetrics(d.metrics),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create communicator pool: %w", err)
	}

	if d.handler == nil {
		d.handler = &areaHandler{areas: areas, logger: d.logger}
	}
	bind := config.Listener.Bind
	if bind == "" {
		bind = fmt.Sprintf("tcp://*:%d", own.Port)
	}
	d.listener = server.NewListener(bind, d.handler, server.WithMetrics(d.metrics))

	if config.Admin.Address != "" {
		var tokens *admin.TokenService
		if config.Admin.TokenSecret != "" {
			tokens = admin.NewTokenService(config.Admin.TokenSecret, config.Broker.ID, config.Admin.TokenExpiry)
		}
		d.adminAPI = admin.NewServer(config.Admin.Address, d, d.registry, tokens)
	}

	return d, nil
}

func (d *Daemon) logicFactory() communicator.LogicFactory {
	factory := distribution.Factory(d.config.Distribution, distribution.WithMetrics(d.metrics))
	return func(identity string) communicator.DistributionLogic {
		logic := factory(identity).(*distribution.Logic)
		d.logicMutex.Lock()
		d.logics[identity] = logic
		d.logicMutex.Unlock()
		return logic
	}
}

// Start opens every component and returns once they run. Components already started are
// stopped again when a later one fails.
func (d *Daemon) Start() error {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	if d.running {
		return fmt.Errorf("daemon is already running")
	}

	d.logger.Info().
		Int("communicators", d.config.Communicators).
		Int("peers", len(d.areas.OtherBrokers())).
		Msg("Starting broker daemon")

	if err := d.pool.Start(); err != nil {
		return fmt.Errorf("failed to start communicators: %w", err)
	}

	forwarder, err := communicator.NewForwarder(d.pool.Endpoints(), communicator.WithMetrics(d.metrics))
	if err != nil {
		d.stopPool()
		return fmt.Errorf("failed to create forwarder: %w", err)
	}
	d.forwarder = forwarder
	d.publisher = NewPublisher(d.areas, forwarder, d.logger)

	if err := d.listener.Start(); err != nil {
		d.closeForwarder()
		d.stopPool()
		return fmt.Errorf("failed to start listener: %w", err)
	}

	if d.adminAPI != nil {
		if err := d.adminAPI.Start(); err != nil {
			d.stopListener()
			d.closeForwarder()
			d.stopPool()
			return fmt.Errorf("failed to start admin API: %w", err)
		}
	}

	d.ctx, d.cancel = context.WithCancel(context.Background())
	d.running = true
	d.startedAt = time.Now()
	go d.startHealthCheck(d.ctx)

	d.logger.Info().
		Str("listener", d.listener.Endpoint()).
		Strs("communicators", d.pool.Endpoints()).
		Msg("Broker daemon started successfully")
	return nil
}

// Run starts the daemon and blocks until SIGINT, SIGTERM or Stop
func (d *Daemon) Run() error {
	if err := d.Start(); err != nil {
		return err
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	d.mutex.RLock()
	ctx := d.ctx
	d.mutex.RUnlock()

	select {
	case sig := <-sigChan:
		d.logger.Info().
			Str("signal", sig.String()).
			Msg("Received shutdown signal")
	case <-ctx.Done():
		d.logger.Info().Msg("Context cancelled")
	}
	return d.Stop()
}

// Stop shuts the components down in reverse start order
func (d *Daemon) Stop() error {
	d.mutex.Lock()
	if !d.running {
		d.mutex.Unlock()
		return nil
	}
	d.running = false
	d.cancel()
	d.mutex.Unlock()

	d.logger.Info().Msg("Stopping broker daemon")

	g := new(errgroup.Group)
	if d.adminAPI != nil {
		g.Go(func() error {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return d.adminAPI.Stop(ctx)
		})
	}
	g.Go(d.listener.Stop)
	err := g.Wait()
	if err != nil {
		d.logger.Error().Err(err).Msg("Error stopping network services")
	}

	d.closeForwarder()
	if poolErr := d.pool.Stop(); poolErr != nil {
		d.logger.Error().Err(poolErr).Msg("Error stopping communicators")
		if err == nil {
			err = poolErr
		}
	}

	d.logger.Info().Msg("Broker daemon stopped")
	return err
}

func (d *Daemon) stopPool() {
	if err := d.pool.Stop(); err != nil {
		d.logger.Error().Err(err).Msg("Error stopping communicators")
	}
}

func (d *Daemon) stopListener() {
	if err := d.listener.Stop(); err != nil {
		d.logger.Error().Err(err).Msg("Error stopping listener")
	}
}

func (d *Daemon) closeForwarder() {
	if d.forwarder == nil {
		return
	}
	if err := d.forwarder.Close(); err != nil {
		d.logger.Error().Err(err).Msg("Error closing forwarder")
	}
}

// startHealthCheck logs a periodic summary of the communicators
func (d *Daemon) startHealthCheck(ctx context.Context) {
	ticker := time.NewTicker(healthCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			status := d.Status()
			var processed uint64
			for _, s := range status.Communicators {
				processed += s.Processed
			}
			var inFlight int64
			for _, n := range status.InFlight {
				inFlight += n
			}
			d.logger.Debug().
				Uint64("processed", processed).
				Int64("in_flight", inFlight).
				Uint64("received", d.listener.ReceivedEnvelopes()).
				Msg("Health check")
		}
	}
}

// Status implements admin.Backend
func (d *Daemon) Status() admin.Status {
	d.mutex.RLock()
	running := d.running
	startedAt := d.startedAt
	d.mutex.RUnlock()

	status := admin.Status{
		BrokerID:      d.config.Broker.ID,
		Running:       running,
		StartedAt:     startedAt,
		Listener:      d.listener.Endpoint(),
		Communicators: d.pool.Stats(),
		InFlight:      make(map[string]int64),
		Breakers:      make(map[string]string),
	}

	d.logicMutex.Lock()
	names := make([]string, 0, len(d.logics))
	for name := range d.logics {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		logic := d.logics[name]
		for peer, n := range logic.InFlightByPeer() {
			status.InFlight[peer] += n
		}
		for peer, state := range logic.BreakerStates() {
			status.Breakers[name+"/"+peer] = state
		}
	}
	d.logicMutex.Unlock()

	return status
}

// Areas implements admin.Backend
func (d *Daemon) Areas() *area.Manager {
	return d.areas
}

// SetOwnArea implements admin.Backend
func (d *Daemon) SetOwnArea(a area.BrokerArea) error {
	if err := d.areas.SetOwnArea(a); err != nil {
		return err
	}
	d.metrics.OwnAreaUpdates.Inc()
	return nil
}

// Publish implements admin.Backend
func (d *Daemon) Publish(p message.PublishPayload, publisher *spatial.Location) ([]string, error) {
	d.mutex.RLock()
	running, pub := d.running, d.publisher
	d.mutex.RUnlock()

	if !running {
		return nil, fmt.Errorf("broker daemon is not running")
	}
	return pub.Publish(p, publisher)
}

// Registry exposes the metrics registry of the daemon
func (d *Daemon) Registry() *prometheus.Registry {
	return d.registry
}

// Metrics exposes the collectors of the daemon
func (d *Daemon) Metrics() *metrics.Metrics {
	return d.metrics
}

// Listener exposes the peer listener
func (d *Daemon) Listener() *server.Listener {
	return d.listener
}
