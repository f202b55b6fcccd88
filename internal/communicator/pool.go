package communicator

import (
	"fmt"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"disgb/internal/area"
)

// Stats is a point-in-time view of one communicator
type Stats struct {
	Identity  string `json:"identity"`
	Endpoint  string `json:"endpoint"`
	Processed uint64 `json:"processed"`
}

// Pool runs K independent communicators of the same broker. Instances share nothing but the
// read-only peer list.
type Pool struct {
	brokerID      string
	communicators []*Communicator
	logger        zerolog.Logger
}

// NewPool creates size communicators indexed 1..size, each with its own DistributionLogic
func NewPool(brokerID string, size int, peers []area.BrokerInfo, factory LogicFactory, options ...Option) (*Pool, error) {
	if size < 1 {
		return nil, fmt.Errorf("pool size must be >= 1, got %d", size)
	}
	if factory == nil {
		return nil, fmt.Errorf("logic factory is required")
	}

	opts := newOptions(options...)
	p := &Pool{
		brokerID:      brokerID,
		communicators: make([]*Communicator, 0, size),
		logger:        opts.Logger,
	}

	for n := 1; n <= size; n++ {
		identity := Identity(brokerID, n)
		c, err := New(Config{BrokerID: brokerID, Index: n, Peers: peers}, factory(identity), options...)
		if err != nil {
			return nil, fmt.Errorf("failed to create communicator %s: %w", identity, err)
		}
		p.communicators = append(p.communicators, c)
	}

	return p, nil
}

// Start starts every communicator. If one fails, the ones already running are stopped.
func (p *Pool) Start() error {
	for _, c := range p.communicators {
		if err := c.Start(); err != nil {
			if stopErr := p.Stop(); stopErr != nil {
				p.logger.Error().Err(stopErr).Msg("Error stopping partially started pool")
			}
			return fmt.Errorf("failed to start communicator %s: %w", c.Identity(), err)
		}
	}

	p.logger.Info().
		Str("broker_id", p.brokerID).
		Int("size", len(p.communicators)).
		Msg("Communicator pool started")
	return nil
}

// Stop terminates all communicators concurrently and waits for them
func (p *Pool) Stop() error {
	var g errgroup.Group
	for _, c := range p.communicators {
		g.Go(c.Stop)
	}
	return g.Wait()
}

// Endpoints returns the inbound endpoints in index order
func (p *Pool) Endpoints() []string {
	endpoints := make([]string, len(p.communicators))
	for i, c := range p.communicators {
		endpoints[i] = c.Endpoint()
	}
	return endpoints
}

func (p *Pool) Communicators() []*Communicator {
	return append([]*Communicator(nil), p.communicators...)
}

func (p *Pool) Stats() []Stats {
	stats := make([]Stats, len(p.communicators))
	for i, c := range p.communicators {
		stats[i] = Stats{
			Identity:  c.Identity(),
			Endpoint:  c.Endpoint(),
			Processed: c.ProcessedMessages(),
		}
	}
	return stats
}
