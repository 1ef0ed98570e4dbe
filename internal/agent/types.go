package agent

import "github.com/hivegrid/hivegrid/internal/node"

// RunRequest asks a node agent to execute a container synchronously.
// When InstanceID is set, the agent restarts the referenced pre-created
// (warm) container instead of creating a fresh one.
type RunRequest struct {
	InstanceID string                  `json:"instanceId,omitempty"`
	ImageRef   string                  `json:"imageRef"`
	Command    []string                `json:"command,omitempty"`
	Env        map[string]string       `json:"env,omitempty"`
	Input      string                  `json:"input,omitempty"`
	Resources  node.ContainerResources `json:"resources"`
	TimeoutSec int                     `json:"timeoutSec,omitempty"`
}

type RunResponse struct {
	InstanceID  string  `json:"instanceId"`
	Output      string  `json:"output"`
	ExitCode    int     `json:"exitCode"`
	DurationSec float64 `json:"durationSec"`
}

// SpawnRequest asks a node agent to pre-create an idle container so a
// later execution can start warm.
type SpawnRequest struct {
	ImageRef  string                  `json:"imageRef"`
	Resources node.ContainerResources `json:"resources"`
}

type SpawnResponse struct {
	InstanceID string `json:"instanceId"`
}
