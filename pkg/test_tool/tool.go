package testtool

import (
	"context"
	"fmt"
	"net"

	"github.com/docker/go-connections/nat"
	"github.com/testcontainers/testcontainers-go"
)

// Container a started test container and the mapped address of its first exposed port
type Container struct {
	testcontainers.Container
	Host string
	Port string
}

// Endpoint host:port of the first exposed port
func (c *Container) Endpoint() string {
	return net.JoinHostPort(c.Host, c.Port)
}

// SetupContainer 通用函式來啟動測試容器，ExposedPorts[0] 會被對應出來
func SetupContainer(ctx context.Context, req testcontainers.ContainerRequest) (*Container, error) {
	if len(req.ExposedPorts) == 0 {
		return nil, fmt.Errorf("container %s exposes no port", req.Image)
	}
	// "9000/tcp" 或 "9000"
	proto, port := nat.SplitProtoPort(req.ExposedPorts[0])
	natPort, err := nat.NewPort(proto, port)
	if err != nil {
		return nil, err
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		return nil, err
	}

	host, err := container.Host(ctx)
	if err != nil {
		container.Terminate(ctx)
		return nil, err
	}
	mapped, err := container.MappedPort(ctx, natPort)
	if err != nil {
		container.Terminate(ctx)
		return nil, err
	}

	return &Container{Container: container, Host: host, Port: mapped.Port()}, nil
}
