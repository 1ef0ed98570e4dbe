package container

import "time"

// A Factory creates and manages containers on the local node.
type Factory interface {
	Create(image string, opts *ContainerOptions) (ContainerID, error)
	Start(ContainerID) error
	// Wait blocks until the container exits or the timeout elapses and
	// returns its exit code. A zero timeout waits forever.
	Wait(id ContainerID, timeout time.Duration) (int, error)
	Destroy(ContainerID) error
	HasImage(string) bool
	PullImage(string) error
	GetLog(id ContainerID) (string, error)
}

// ContainerOptions contains options for container creation.
type ContainerOptions struct {
	Cmd       []string
	Env       []string
	MemoryMB  int64
	CPUQuota  float64
	StorageMB int64
}

type ContainerID = string

// TimeoutError is returned by Wait when the budget elapses first.
type TimeoutError struct{}

func (TimeoutError) Error() string { return "container did not exit within the timeout" }

// DownloadImage pulls an image unless a local copy exists.
func DownloadImage(f Factory, image string) error {
	if !f.HasImage(image) {
		return f.PullImage(image)
	}
	return nil
}
