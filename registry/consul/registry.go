package consul

import (
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"time"

	consulapi "github.com/hashicorp/consul/api"
	conf "github.com/webitel/cdr-exporter/config"
	"github.com/webitel/cdr-exporter/internal/errors"
	"github.com/webitel/cdr-exporter/registry"
)

type ConsulRegistry struct {
	registrationConfig *consulapi.AgentServiceRegistration
	client             *consulapi.Client
	stop               chan struct{}
	stopOnce           sync.Once
	checkId            string
}

// NewConsulRegistry creates a new Consul registry instance for the HTTP
// endpoint in config.PublicAddress.
func NewConsulRegistry(config *conf.ConsulConfig, version string) (*ConsulRegistry, error) {
	if config.Id == "" {
		return nil, errors.Internal(
			"service id is empty! (set it by '--id' flag)",
			errors.WithID("consul.registry.new_consul.check_args.service_id"),
		)
	}
	ip, port, err := net.SplitHostPort(config.PublicAddress)
	if err != nil {
		return nil, errors.Internal(
			"unable to parse address",
			errors.WithCause(err),
			errors.WithID("consul.registry.new_consul.parse_address.error"),
		)
	}
	parsedPort, err := strconv.Atoi(port)
	if err != nil {
		return nil, errors.Internal(
			"unable to parse port",
			errors.WithCause(err),
			errors.WithID("consul.registry.new_consul.parse_port.error"),
		)
	}

	consulConfig := consulapi.DefaultConfig()
	consulConfig.Address = config.Address
	client, err := consulapi.NewClient(consulConfig)
	if err != nil {
		return nil, errors.Internal(
			err.Error(),
			errors.WithID("consul.registry.new_consul_registry.consulapi_creation.error"),
		)
	}

	return &ConsulRegistry{
		client: client,
		registrationConfig: &consulapi.AgentServiceRegistration{
			ID:      config.Id,
			Name:    registry.ServiceName,
			Tags:    []string{"http"},
			Meta:    map[string]string{"version": version},
			Port:    parsedPort,
			Address: ip,
			Check: &consulapi.AgentServiceCheck{
				DeregisterCriticalServiceAfter: registry.DeregisterCriticalServiceAfter.String(),
				TTL:                            registry.CheckInterval.String(),
			},
		},
		stop: make(chan struct{}),
	}, nil
}

// Register registers the service with Consul and starts the TTL check-in.
func (c *ConsulRegistry) Register() error {
	err := c.client.Agent().ServiceRegister(c.registrationConfig)
	if err != nil {
		return errors.Internal(
			err.Error(),
			errors.WithID("consul.registry.consul.register.error"),
		)
	}
	checks, err := c.client.Agent().Checks()
	if err != nil {
		return errors.Internal(
			err.Error(),
			errors.WithID("consul.registry.consul.register.get_checks.error"),
		)
	}

	var serviceCheck *consulapi.AgentCheck
	for _, check := range checks {
		if check.ServiceID == c.registrationConfig.ID {
			serviceCheck = check
		}
	}
	if serviceCheck == nil {
		return errors.Internal(
			"service check not found",
			errors.WithID("consul.registry.consul.register.error"),
		)
	}
	c.checkId = serviceCheck.CheckID
	go c.runServiceCheck()
	return nil
}

func (c *ConsulRegistry) Deregister() error {
	c.stopOnce.Do(func() { close(c.stop) })
	err := c.client.Agent().ServiceDeregister(c.registrationConfig.ID)
	if err != nil {
		return errors.Internal(
			err.Error(),
			errors.WithID("consul.registry.consul.deregister.error"),
		)
	}
	slog.Info("cdr_exporter.consul.deregistered", slog.String("id", c.registrationConfig.ID))
	return nil
}

func (c *ConsulRegistry) doUpdateTTL() error {
	err := c.client.Agent().UpdateTTL(c.checkId, "success", "pass")
	if err != nil {
		slog.Error("cdr_exporter.consul.check_in_failed", slog.String("error", fmtConsulLog(err.Error())))
		return err
	}
	return nil // [OK]
}

func (c *ConsulRegistry) runServiceCheck() {
	if err := c.doUpdateTTL(); err == nil {
		slog.Info("cdr_exporter.consul.registered", slog.String("id", c.registrationConfig.ID))
	}
	defer slog.Info("cdr_exporter.consul.checker_stopped")

	ticker := time.NewTicker(registry.CheckInterval / 2)
	defer ticker.Stop()
	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			_ = c.doUpdateTTL()
		}
	}
}

func fmtConsulLog(s string) string {
	return fmt.Sprintf("consul: %s", s)
}
