package monitor

import (
	"context"
	"errors"
	"fmt"

	"github.com/cuemby/dnsrest/pkg/events"
	"github.com/cuemby/dnsrest/pkg/log"
	"github.com/cuemby/dnsrest/pkg/metrics"
	"github.com/cuemby/dnsrest/pkg/types"
)

// ErrStreamClosed is returned by Serve when the event stream ends while the
// monitor is still wanted
var ErrStreamClosed = errors.New("monitor: event stream closed")

// Source produces containers and their lifecycle events
type Source interface {
	Running(ctx context.Context) ([]types.Container, error)
	Subscribe(ctx context.Context) (<-chan *events.Event, <-chan error)
}

// Registry is the part of the registry the monitor drives
type Registry interface {
	Activate(c types.Container)
	Deactivate(c types.Container)
	Active() []types.Container
}

// Config holds optional monitor collaborators
type Config struct {
	Broker *events.Broker          // receives every applied event
	Health *metrics.HealthChecker // reports the monitor component
}

// Monitor activates and deactivates containers as their tasks start and exit
type Monitor struct {
	source   Source
	registry Registry
	broker   *events.Broker
	health   *metrics.HealthChecker
}

// NewMonitor creates a new monitor
func NewMonitor(source Source, registry Registry, config *Config) *Monitor {
	if config == nil {
		config = &Config{}
	}
	return &Monitor{
		source:   source,
		registry: registry,
		broker:   config.Broker,
		health:   config.Health,
	}
}

// Serve subscribes to the event stream, activates every running container,
// deactivates active containers that are no longer running, then applies
// events until ctx is done. Any stream failure is returned so a
// supervisor can restart the monitor.
func (m *Monitor) Serve(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Subscribe before listing so no start between the two is missed
	stream, errs := m.source.Subscribe(ctx)

	running, err := m.source.Running(ctx)
	if err != nil {
		m.setHealth(false, err.Error())
		return fmt.Errorf("failed to list running containers: %w", err)
	}
	alive := make(map[string]bool, len(running))
	for _, c := range running {
		if c.Running {
			alive[c.ID] = true
		}
		m.apply(events.New(events.EventContainerStart, c))
	}

	// Containers that exited while the monitor was down never send a die
	stale := 0
	for _, c := range m.registry.Active() {
		if !alive[c.ID] {
			m.apply(events.New(events.EventContainerDie, c))
			stale++
		}
	}

	log.Logger.Info().
		Str("component", "monitor").
		Int("containers", len(alive)).
		Int("stale", stale).
		Msg("monitor bootstrapped")
	m.setHealth(true, "")

	for {
		select {
		case <-ctx.Done():
			return nil
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			if err != nil {
				m.setHealth(false, err.Error())
				return err
			}
		case e, ok := <-stream:
			if !ok {
				if ctx.Err() != nil {
					return nil
				}
				m.setHealth(false, ErrStreamClosed.Error())
				return ErrStreamClosed
			}
			m.apply(e)
		}
	}
}

func (m *Monitor) apply(e *events.Event) {
	logger := log.WithContainer(e.Container.ID)

	switch e.Type {
	case events.EventContainerStart:
		if !e.Container.Running {
			return
		}
		logger.Debug().
			Str("component", "monitor").
			Str("container", e.Container.String()).
			Str("address", e.Container.Addr).
			Msg("container started")
		m.registry.Activate(e.Container)
	case events.EventContainerDie:
		logger.Debug().
			Str("component", "monitor").
			Msg("container died")
		m.registry.Deactivate(e.Container)
	default:
		return
	}

	metrics.LifecycleEventsTotal.WithLabelValues(string(e.Type)).Inc()
	if m.broker != nil {
		m.broker.Publish(e)
	}
}

func (m *Monitor) setHealth(healthy bool, message string) {
	if m.health != nil {
		m.health.UpdateComponent(metrics.ComponentMonitor, healthy, message)
	}
}

// String names the monitor for supervisor logs
func (m *Monitor) String() string {
	return "monitor"
}
