package agent

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/hivegrid/hivegrid/internal/node"
	"github.com/hivegrid/hivegrid/utils"
)

var ErrNodeUnreachable = errors.New("node agent is unreachable")
var ErrRunFailed = errors.New("container execution failed on the node")

// Client is the outbound side of the node-agent protocol. A node is
// assumed reachable at its registered endpoint; the agent's internals are
// its own business.
type Client struct {
	http *http.Client
}

func NewClient() *Client {
	return &Client{http: &http.Client{}}
}

// Run dispatches a container execution and blocks until the agent
// reports completion or the timeout budget (plus a network margin)
// elapses on our side.
func (c *Client) Run(endpoint string, req *RunRequest) (*RunResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}

	httpClient := c.http
	if req.TimeoutSec > 0 {
		httpClient = &http.Client{Timeout: time.Duration(req.TimeoutSec)*time.Second + 30*time.Second}
	}

	resp, err := httpClient.Post(endpoint+"/agent/run", "application/json", bytes.NewBuffer(body))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNodeUnreachable, err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: %s (%s)", ErrRunFailed, resp.Status, string(raw))
	}

	var out RunResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("could not parse agent response: %v", err)
	}
	return &out, nil
}

// Spawn pre-creates an idle container. Implements warmpool.Spawner.
func (c *Client) Spawn(endpoint, imageRef string, res node.ContainerResources) (node.Instance, error) {
	body, err := json.Marshal(SpawnRequest{ImageRef: imageRef, Resources: res})
	if err != nil {
		return node.Instance{}, err
	}

	resp, err := utils.PostJsonWithRetries(endpoint+"/agent/spawn", body, 3)
	if err != nil {
		return node.Instance{}, fmt.Errorf("%w: %v", ErrNodeUnreachable, err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return node.Instance{}, fmt.Errorf("spawn failed: %s (%s)", resp.Status, string(raw))
	}

	var out SpawnResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return node.Instance{}, fmt.Errorf("could not parse agent response: %v", err)
	}
	return node.Instance{ID: out.InstanceID, ImageRef: imageRef, StartedAt: time.Now()}, nil
}

// Terminate stops and removes a container. Implements warmpool.Terminator.
func (c *Client) Terminate(endpoint, instanceID string) error {
	req, err := http.NewRequest(http.MethodDelete,
		fmt.Sprintf("%s/agent/containers/%s", endpoint, instanceID), nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrNodeUnreachable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNotFound {
		return fmt.Errorf("terminate failed: %s", resp.Status)
	}
	return nil
}
