package container

import (
	"bytes"
	"context"
	"io"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
)

type DockerFactory struct {
	cli *client.Client
	ctx context.Context
	mu  sync.Mutex
}

func InitDockerFactory() (*DockerFactory, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, err
	}
	return &DockerFactory{cli: cli, ctx: context.Background()}, nil
}

func (f *DockerFactory) Create(image string, opts *ContainerOptions) (ContainerID, error) {
	if !f.HasImage(image) {
		log.Printf("Pulling image: %s", image)
		if err := f.PullImage(image); err != nil {
			// a stale local copy may still serve us; Create below
			// fails if there is none
			log.Printf("Could not pull image %s: %v", image, err)
		}
	}

	contResources := container.Resources{Memory: opts.MemoryMB * 1048576} // convert to bytes
	if opts.CPUQuota > 0.0 {
		contResources.CPUPeriod = 50000 // 50ms
		contResources.CPUQuota = (int64)(50000.0 * opts.CPUQuota)
	}

	resp, err := f.cli.ContainerCreate(f.ctx, &container.Config{
		Image: image,
		Cmd:   opts.Cmd,
		Env:   opts.Env,
		Tty:   false,
	}, &container.HostConfig{Resources: contResources}, nil, nil, "")
	if err != nil {
		return "", err
	}

	return resp.ID, nil
}

func (f *DockerFactory) Start(contID ContainerID) error {
	return f.cli.ContainerStart(f.ctx, contID, types.ContainerStartOptions{})
}

func (f *DockerFactory) Wait(contID ContainerID, timeout time.Duration) (int, error) {
	ctx := f.ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(f.ctx, timeout)
		defer cancel()
	}

	statusCh, errCh := f.cli.ContainerWait(ctx, contID, container.WaitConditionNotRunning)
	select {
	case err := <-errCh:
		if err != nil {
			if ctx.Err() != nil {
				return -1, TimeoutError{}
			}
			return -1, err
		}
		return -1, nil
	case status := <-statusCh:
		return int(status.StatusCode), nil
	}
}

func (f *DockerFactory) Destroy(contID ContainerID) error {
	// force set to true causes running container to be killed (and then
	// removed)
	return f.cli.ContainerRemove(f.ctx, contID, types.ContainerRemoveOptions{Force: true})
}

func (f *DockerFactory) HasImage(image string) bool {
	f.mu.Lock()
	list, err := f.cli.ImageList(context.TODO(), types.ImageListOptions{})
	f.mu.Unlock()
	if err != nil {
		log.Printf("image list error: %v", err)
		return false
	}
	for _, summary := range list {
		if len(summary.RepoTags) > 0 && strings.HasPrefix(summary.RepoTags[0], image) {
			return true
		}
	}
	return false
}

func (f *DockerFactory) PullImage(image string) error {
	pullResp, err := f.cli.ImagePull(f.ctx, image, types.ImagePullOptions{})
	if err != nil {
		return err
	}
	defer pullResp.Close()
	// draining the stream is what actually waits for the pull
	io.Copy(io.Discard, pullResp)
	log.Printf("Pulled image: %s", image)
	return nil
}

func (f *DockerFactory) GetLog(contID ContainerID) (string, error) {
	logsReader, err := f.cli.ContainerLogs(f.ctx, contID, types.ContainerLogsOptions{
		ShowStdout: true,
		ShowStderr: true,
	})
	if err != nil {
		return "", err
	}
	defer logsReader.Close()

	var buf bytes.Buffer
	if _, err = io.Copy(&buf, logsReader); err != nil {
		return "", err
	}
	return buf.String(), nil
}
