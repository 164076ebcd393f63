package discovery

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/hashicorp/consul/api"
	"go.uber.org/zap"
)

var ErrNoInstances = errors.New("no healthy instances")

// Resolver turns a service name into a base URL such as http://10.0.0.1:8080.
type Resolver interface {
	Resolve(ctx context.Context, service string) (string, error)
}

// StaticResolver serves fixed URLs, mostly from configuration.
type StaticResolver map[string]string

func (r StaticResolver) Resolve(ctx context.Context, service string) (string, error) {
	url, ok := r[service]
	if !ok || url == "" {
		return "", fmt.Errorf("%w: %s", ErrNoInstances, service)
	}
	return strings.TrimRight(url, "/"), nil
}

// WithScheme rewrites every http:// or https:// URL to the given scheme.
func (r StaticResolver) WithScheme(scheme string) StaticResolver {
	out := make(StaticResolver, len(r))
	for name, url := range r {
		if rest, ok := strings.CutPrefix(url, "http://"); ok {
			url = scheme + "://" + rest
		} else if rest, ok := strings.CutPrefix(url, "https://"); ok {
			url = scheme + "://" + rest
		}
		out[name] = url
	}
	return out
}

type ConsulClient struct {
	client   *api.Client
	scheme   string
	fallback Resolver
	next     atomic.Uint64
	logger   *zap.Logger
}

type ServiceConfig struct {
	Name string
	ID   string
	Port int
	Tags []string
}

// NewConsulClient connects to the agent at address. scheme is the one
// instances serve on, http when empty. Lookups that find no healthy
// instance fall back to fallback when it is set.
func NewConsulClient(address, scheme string, fallback Resolver, logger *zap.Logger) (*ConsulClient, error) {
	if scheme == "" {
		scheme = "http"
	}

	config := api.DefaultConfig()
	config.Address = address

	client, err := api.NewClient(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create consul client: %w", err)
	}

	if _, err := client.Agent().Self(); err != nil {
		return nil, fmt.Errorf("failed to connect to Consul: %w", err)
	}

	logger.Info("Connected to Consul", zap.String("address", address), zap.String("scheme", scheme))
	return &ConsulClient{client: client, scheme: scheme, fallback: fallback, logger: logger}, nil
}

// Resolve picks healthy instances round robin.
func (c *ConsulClient) Resolve(ctx context.Context, service string) (string, error) {
	entries, _, err := c.client.Health().Service(service, "", true, (&api.QueryOptions{}).WithContext(ctx))
	if err == nil && len(entries) > 0 {
		entry := entries[c.next.Add(1)%uint64(len(entries))]
		address := entry.Service.Address
		if address == "" {
			address = entry.Node.Address
		}
		return fmt.Sprintf("%s://%s:%d", c.scheme, address, entry.Service.Port), nil
	}

	if err != nil {
		c.logger.Warn("Consul lookup failed", zap.String("service", service), zap.Error(err))
	}
	if c.fallback != nil {
		return c.fallback.Resolve(ctx, service)
	}
	if err != nil {
		return "", fmt.Errorf("failed to query service %s: %w", service, err)
	}
	return "", fmt.Errorf("%w: %s", ErrNoInstances, service)
}

// Register registers this instance with an HTTP health check on /health.
// Under https the agent holds no client certificate, so the check is a
// plain TCP connect instead.
func (c *ConsulClient) Register(cfg ServiceConfig) error {
	hostIP := outboundIP()

	check := &api.AgentServiceCheck{
		Interval:                       "10s",
		Timeout:                        "5s",
		DeregisterCriticalServiceAfter: "30s",
	}
	if c.scheme == "https" {
		check.TCP = net.JoinHostPort(hostIP, strconv.Itoa(cfg.Port))
	} else {
		check.HTTP = fmt.Sprintf("http://%s:%d/health", hostIP, cfg.Port)
	}

	registration := &api.AgentServiceRegistration{
		ID:      cfg.ID,
		Name:    cfg.Name,
		Port:    cfg.Port,
		Address: hostIP,
		Tags:    cfg.Tags,
		Check:   check,
	}

	if err := c.client.Agent().ServiceRegister(registration); err != nil {
		return fmt.Errorf("failed to register service: %w", err)
	}

	c.logger.Info("Registered service",
		zap.String("service", cfg.Name),
		zap.String("id", cfg.ID),
		zap.String("address", hostIP),
		zap.Int("port", cfg.Port))
	return nil
}

func (c *ConsulClient) Deregister(serviceID string) error {
	if err := c.client.Agent().ServiceDeregister(serviceID); err != nil {
		return fmt.Errorf("failed to deregister service: %w", err)
	}
	c.logger.Info("Deregistered service", zap.String("id", serviceID))
	return nil
}

// outboundIP is the address other hosts reach this one on. UDP dial sends
// no packets.
func outboundIP() string {
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return "127.0.0.1"
	}
	defer conn.Close()

	return conn.LocalAddr().(*net.UDPAddr).IP.String()
}
