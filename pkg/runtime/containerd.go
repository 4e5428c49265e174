package runtime

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/containerd/containerd"
	apievents "github.com/containerd/containerd/api/events"
	ctrdevents "github.com/containerd/containerd/events"
	"github.com/containerd/containerd/namespaces"
	"github.com/containerd/typeurl/v2"
	"github.com/cuemby/dnsrest/pkg/events"
	"github.com/cuemby/dnsrest/pkg/log"
	"github.com/cuemby/dnsrest/pkg/types"
	specs "github.com/opencontainers/runtime-spec/specs-go"
)

const (
	// DefaultNamespace is the containerd namespace nerdctl uses
	DefaultNamespace = "default"

	// DefaultSocketPath is the default containerd socket
	DefaultSocketPath = "/run/containerd/containerd.sock"

	// DefaultNameLabel holds the container name set by nerdctl
	DefaultNameLabel = "nerdctl/name"

	// DefaultAddressLabel holds the container address
	DefaultAddressLabel = "dnsrest.address"

	topicTaskStart = "/tasks/start"
	topicTaskExit  = "/tasks/exit"
)

var invalidNameChars = regexp.MustCompile(`[^\w.-]`)

// Config holds containerd source configuration
type Config struct {
	SocketPath   string // default: /run/containerd/containerd.sock
	Namespace    string // default: default
	NameLabel    string // default: nerdctl/name
	AddressLabel string // default: dnsrest.address
}

// ContainerdSource reads running containers and task lifecycle events from containerd
type ContainerdSource struct {
	client       *containerd.Client
	namespace    string
	nameLabel    string
	addressLabel string
}

// NewContainerdSource connects to containerd
func NewContainerdSource(config *Config) (*ContainerdSource, error) {
	if config == nil {
		config = &Config{}
	}
	cfg := *config
	if cfg.SocketPath == "" {
		cfg.SocketPath = DefaultSocketPath
	}
	if cfg.Namespace == "" {
		cfg.Namespace = DefaultNamespace
	}
	if cfg.NameLabel == "" {
		cfg.NameLabel = DefaultNameLabel
	}
	if cfg.AddressLabel == "" {
		cfg.AddressLabel = DefaultAddressLabel
	}

	client, err := containerd.New(cfg.SocketPath, containerd.WithDefaultNamespace(cfg.Namespace))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to containerd: %w", err)
	}

	return &ContainerdSource{
		client:       client,
		namespace:    cfg.Namespace,
		nameLabel:    cfg.NameLabel,
		addressLabel: cfg.AddressLabel,
	}, nil
}

// Close closes the containerd client connection
func (s *ContainerdSource) Close() error {
	if s.client != nil {
		return s.client.Close()
	}
	return nil
}

// Running returns every container in the namespace whose task is running
func (s *ContainerdSource) Running(ctx context.Context) ([]types.Container, error) {
	ctx = namespaces.WithNamespace(ctx, s.namespace)

	list, err := s.client.Containers(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list containers: %w", err)
	}

	running := make([]types.Container, 0, len(list))
	for _, c := range list {
		rec, err := s.inspect(ctx, c)
		if err != nil {
			log.Logger.Warn().
				Err(err).
				Str("component", "runtime").
				Str("container_id", c.ID()).
				Msg("failed to inspect container")
			continue
		}
		if rec.Running {
			running = append(running, rec)
		}
	}
	return running, nil
}

// Subscribe streams container start and die events. Both channels are closed
// when ctx is done or the containerd stream fails; a failure is sent on the
// error channel first.
func (s *ContainerdSource) Subscribe(ctx context.Context) (<-chan *events.Event, <-chan error) {
	ctx = namespaces.WithNamespace(ctx, s.namespace)

	out := make(chan *events.Event)
	errs := make(chan error, 1)

	envelopes, subErrs := s.client.Subscribe(ctx,
		fmt.Sprintf(`topic==%q`, topicTaskStart),
		fmt.Sprintf(`topic==%q`, topicTaskExit),
	)

	go func() {
		defer close(out)
		defer close(errs)

		for {
			select {
			case <-ctx.Done():
				return
			case err, ok := <-subErrs:
				if ok && err != nil && ctx.Err() == nil {
					errs <- fmt.Errorf("containerd event stream: %w", err)
				}
				return
			case env, ok := <-envelopes:
				if !ok {
					return
				}
				if env.Namespace != "" && env.Namespace != s.namespace {
					continue
				}
				typ, id, ok := decodeEnvelope(env)
				if !ok {
					continue
				}

				event := events.New(typ, s.lookup(ctx, typ, id))
				select {
				case out <- event:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out, errs
}

// lookup inspects the container behind an event. A container that already
// disappeared is reported by id only, which is enough to deactivate it.
func (s *ContainerdSource) lookup(ctx context.Context, typ events.EventType, id string) types.Container {
	fallback := types.Container{ID: id, Running: typ == events.EventContainerStart}

	c, err := s.client.LoadContainer(ctx, id)
	if err != nil {
		logger := log.WithContainer(id)
		logger.Debug().
			Err(err).
			Str("component", "runtime").
			Msg("failed to load container for event")
		return fallback
	}

	rec, err := s.inspect(ctx, c)
	if err != nil {
		logger := log.WithContainer(id)
		logger.Debug().
			Err(err).
			Str("component", "runtime").
			Msg("failed to inspect container for event")
		return fallback
	}
	if typ == events.EventContainerStart {
		rec.Running = true
	}
	return rec
}

func (s *ContainerdSource) inspect(ctx context.Context, c containerd.Container) (types.Container, error) {
	info, err := c.Info(ctx, containerd.WithoutRefreshedMetadata)
	if err != nil {
		return types.Container{}, fmt.Errorf("failed to get container info: %w", err)
	}

	var spec *specs.Spec
	if sp, err := c.Spec(ctx); err == nil {
		spec = sp
	}

	running := false
	if task, err := c.Task(ctx, nil); err == nil {
		if status, err := task.Status(ctx); err == nil {
			running = status.Status == containerd.Running
		}
	}

	return s.containerFrom(c.ID(), info.Labels, spec, running), nil
}

// containerFrom builds a registry container from containerd metadata
func (s *ContainerdSource) containerFrom(id string, labels map[string]string, spec *specs.Spec, running bool) types.Container {
	name := SanitizeName(labels[s.nameLabel])
	if name == "" && spec != nil {
		name = SanitizeName(spec.Hostname)
	}
	if name == "" {
		name = id
	}

	return types.Container{
		ID:      id,
		Name:    name,
		Running: running,
		Addr:    strings.TrimSpace(labels[s.addressLabel]),
	}
}

// decodeEnvelope maps a task event to a lifecycle event. Exits of exec
// processes are ignored; only the init process ends a container.
func decodeEnvelope(env *ctrdevents.Envelope) (events.EventType, string, bool) {
	if env == nil || env.Event == nil {
		return "", "", false
	}

	v, err := typeurl.UnmarshalAny(env.Event)
	if err != nil {
		log.Logger.Debug().
			Err(err).
			Str("component", "runtime").
			Str("topic", env.Topic).
			Msg("failed to decode containerd event")
		return "", "", false
	}

	switch e := v.(type) {
	case *apievents.TaskStart:
		return events.EventContainerStart, e.ContainerID, e.ContainerID != ""
	case *apievents.TaskExit:
		if e.ID != "" && e.ID != e.ContainerID {
			return "", "", false
		}
		return events.EventContainerDie, e.ContainerID, e.ContainerID != ""
	default:
		return "", "", false
	}
}

// SanitizeName strips characters that cannot appear in a domain label and
// any trailing dot
func SanitizeName(name string) string {
	return strings.TrimRight(invalidNameChars.ReplaceAllString(name, ""), ".")
}
