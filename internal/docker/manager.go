package docker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
	"github.com/docker/go-connections/nat"

	"seekbot/internal/logger"
	"seekbot/pkg/models"
)

const (
	SlskdImage    = "slskd/slskd:latest"
	ContainerName = "seekbot-slskd"

	webPort    nat.Port = "5030/tcp"
	listenPort nat.Port = "50300/tcp"

	// Paths inside the container.
	containerDownloads = "/downloads"
	containerMusic     = "/music"
	containerApp       = "/app"
)

// ErrNotFound is returned when the slskd container does not exist.
var ErrNotFound = errors.New("slskd container not found")

type Manager struct {
	client *client.Client
}

func NewManager() (*Manager, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create Docker client: %w", err)
	}

	return &Manager{client: cli}, nil
}

func (m *Manager) Close() error {
	return m.client.Close()
}

func (m *Manager) pullImage(ctx context.Context, imageName string) error {
	reader, err := m.client.ImagePull(ctx, imageName, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("failed to pull image %s: %w", imageName, err)
	}
	defer reader.Close()

	// Must read the response stream completely
	_, err = io.Copy(io.Discard, reader)
	if err != nil {
		return fmt.Errorf("failed to read pull response for %s: %w", imageName, err)
	}

	return nil
}

func (m *Manager) findContainer(ctx context.Context) (string, error) {
	containers, err := m.client.ContainerList(ctx, container.ListOptions{All: true})
	if err != nil {
		return "", err
	}

	for _, c := range containers {
		for _, name := range c.Names {
			if strings.TrimPrefix(name, "/") == ContainerName {
				return c.ID, nil
			}
		}
	}

	return "", ErrNotFound
}

// EnsureSlskd starts the slskd container, creating it first when needed.
func (m *Manager) EnsureSlskd(ctx context.Context, cfg *models.Config) (string, error) {
	containerID, err := m.findContainer(ctx)
	switch {
	case errors.Is(err, ErrNotFound):
		containerID, err = m.createSlskd(ctx, cfg)
		if err != nil {
			return "", err
		}
	case err != nil:
		return "", fmt.Errorf("failed to list containers: %w", err)
	default:
		inspect, err := m.client.ContainerInspect(ctx, containerID)
		if err != nil {
			return "", fmt.Errorf("failed to inspect %s: %w", ContainerName, err)
		}
		if inspect.State != nil && inspect.State.Running {
			logger.Info("Container %s is already running", ContainerName)
			return containerID, nil
		}
	}

	err = m.client.ContainerStart(ctx, containerID, container.StartOptions{})
	logger.LogDockerOperation("start", ContainerName, err)
	if err != nil {
		return "", fmt.Errorf("failed to start slskd container: %w", err)
	}
	return containerID, nil
}

func (m *Manager) createSlskd(ctx context.Context, cfg *models.Config) (string, error) {
	containerConfig, hostConfig, err := slskdContainerSpec(cfg)
	if err != nil {
		return "", err
	}

	for _, dir := range []string{cfg.Slskd.DownloadsDir, cfg.DownloadDir, slskdAppDir(cfg)} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return "", fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}

	logger.Info("Pulling %s...", SlskdImage)
	if err := m.pullImage(ctx, SlskdImage); err != nil {
		return "", err
	}

	resp, err := m.client.ContainerCreate(ctx, containerConfig, hostConfig, nil, nil, ContainerName)
	logger.LogDockerOperation("create", ContainerName, err)
	if err != nil {
		return "", fmt.Errorf("failed to create slskd container: %w", err)
	}
	for _, warning := range resp.Warnings {
		logger.Warn("Docker: %s", warning)
	}

	return resp.ID, nil
}

// StopSlskd stops and removes the slskd container. Downloads and slskd's
// own state live in bind mounts and survive.
func (m *Manager) StopSlskd(ctx context.Context) error {
	containerID, err := m.findContainer(ctx)
	if err != nil {
		return err
	}

	timeout := 30
	err = m.client.ContainerStop(ctx, containerID, container.StopOptions{Timeout: &timeout})
	logger.LogDockerOperation("stop", ContainerName, err)
	if err != nil {
		logger.Warn("Failed to stop container %s: %v", ContainerName, err)
	}

	err = m.client.ContainerRemove(ctx, containerID, container.RemoveOptions{Force: true})
	logger.LogDockerOperation("remove", ContainerName, err)
	if err != nil {
		return fmt.Errorf("failed to remove %s: %w", ContainerName, err)
	}
	return nil
}

// SlskdStatus returns "running", "stopped" or "not found".
func (m *Manager) SlskdStatus(ctx context.Context) (string, error) {
	containerID, err := m.findContainer(ctx)
	if errors.Is(err, ErrNotFound) {
		return "not found", nil
	}
	if err != nil {
		return "error", err
	}

	inspect, err := m.client.ContainerInspect(ctx, containerID)
	if err != nil {
		return "error", err
	}

	if inspect.State == nil || !inspect.State.Running {
		return "stopped", nil
	}
	return "running", nil
}

// GetSlskdPort returns the host port slskd's web API is published on.
func (m *Manager) GetSlskdPort(ctx context.Context) (string, error) {
	containerID, err := m.findContainer(ctx)
	if err != nil {
		return "", err
	}

	inspect, err := m.client.ContainerInspect(ctx, containerID)
	if err != nil {
		return "", fmt.Errorf("failed to inspect %s: %w", ContainerName, err)
	}
	if inspect.NetworkSettings == nil {
		return "", fmt.Errorf("container %s has no network settings", ContainerName)
	}

	return publishedPort(inspect.NetworkSettings.Ports, webPort)
}

func publishedPort(ports nat.PortMap, port nat.Port) (string, error) {
	for _, binding := range ports[port] {
		if binding.HostPort != "" {
			return binding.HostPort, nil
		}
	}
	return "", fmt.Errorf("port %s is not published", port)
}

func slskdAppDir(cfg *models.Config) string {
	return filepath.Join(cfg.WorkingDir, "slskd")
}

// slskdContainerSpec builds the container for cfg. The web API is published
// on the port of the configured slskd URL so the bot can reach it.
func slskdContainerSpec(cfg *models.Config) (*container.Config, *container.HostConfig, error) {
	if cfg.Soulseek.Username == "" || cfg.Soulseek.Password == "" {
		return nil, nil, fmt.Errorf("soulseek credentials are required (SLSK_USER / SLSK_PASS)")
	}
	if cfg.Slskd.DownloadsDir == "" {
		return nil, nil, fmt.Errorf("slskd downloads directory is required")
	}

	hostWebPort := webPort.Port()
	if u, err := url.Parse(cfg.Slskd.URL); err == nil && u.Port() != "" {
		hostWebPort = u.Port()
	}

	env := []string{
		"SLSKD_REMOTE_CONFIGURATION=true",
		"SLSKD_NO_HTTPS=true",
		"SLSKD_DOWNLOADS_DIR=" + containerDownloads,
		"SLSKD_SHARED_DIR=" + containerMusic,
		"SLSKD_SLSK_USERNAME=" + cfg.Soulseek.Username,
		"SLSKD_SLSK_PASSWORD=" + cfg.Soulseek.Password,
		"SLSKD_SLSK_LISTEN_PORT=" + listenPort.Port(),
		"SLSKD_SLSK_CONNECTION_TIMEOUT=30000",
		"SLSKD_SLSK_INACTIVITY_TIMEOUT=300000",
	}
	if cfg.Slskd.Username != "" && cfg.Slskd.Password != "" {
		env = append(env,
			"SLSKD_USERNAME="+cfg.Slskd.Username,
			"SLSKD_PASSWORD="+cfg.Slskd.Password,
		)
	}

	containerConfig := &container.Config{
		Image: SlskdImage,
		ExposedPorts: nat.PortSet{
			webPort:    struct{}{},
			listenPort: struct{}{},
		},
		Env: env,
	}

	hostConfig := &container.HostConfig{
		PortBindings: nat.PortMap{
			webPort:    []nat.PortBinding{{HostIP: "127.0.0.1", HostPort: hostWebPort}},
			listenPort: []nat.PortBinding{{HostPort: listenPort.Port()}},
		},
		Binds: []string{
			cfg.Slskd.DownloadsDir + ":" + containerDownloads,
			cfg.DownloadDir + ":" + containerMusic + ":ro",
			slskdAppDir(cfg) + ":" + containerApp,
		},
		RestartPolicy: container.RestartPolicy{Name: container.RestartPolicyUnlessStopped},
	}

	return containerConfig, hostConfig, nil
}
