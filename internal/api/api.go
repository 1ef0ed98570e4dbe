package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/hivegrid/hivegrid/internal/executor"
	"github.com/hivegrid/hivegrid/internal/imagecache"
	"github.com/hivegrid/hivegrid/internal/node"
	"github.com/hivegrid/hivegrid/internal/scheduler"
	"github.com/hivegrid/hivegrid/internal/warmpool"
	"github.com/labstack/echo/v4"
)

// OwnerHeader carries the caller's on-chain address. Every execution is
// scoped to it.
const OwnerHeader = "X-Owner-Address"

// API holds the coordinator's components and exposes them as echo
// handlers.
type API struct {
	Exec  *executor.Executor
	Sched *scheduler.Scheduler
	Cache *imagecache.Cache
	Pool  *warmpool.Manager
}

type errorResponse struct {
	Error string `json:"error"`
}

// httpError maps component sentinel errors onto HTTP statuses.
func httpError(c echo.Context, err error) error {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, executor.ErrInvalidRequest):
		status = http.StatusBadRequest
	case errors.Is(err, executor.ErrNotFound), errors.Is(err, scheduler.ErrNodeNotFound):
		status = http.StatusNotFound
	case errors.Is(err, executor.ErrUnauthorized):
		status = http.StatusForbidden
	case errors.Is(err, executor.ErrTooLate):
		status = http.StatusConflict
	case errors.Is(err, scheduler.ErrNoCapacity), errors.Is(err, scheduler.ErrInsufficientCapacity):
		status = http.StatusTooManyRequests
	}
	return c.JSON(status, errorResponse{Error: err.Error()})
}

func owner(c echo.Context) (string, bool) {
	addr := c.Request().Header.Get(OwnerHeader)
	return addr, addr != ""
}

// ExecuteContainer handles a container execution request. Blocks until
// the execution reaches a terminal state.
func (a *API) ExecuteContainer(c echo.Context) error {
	addr, ok := owner(c)
	if !ok {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "missing " + OwnerHeader + " header"})
	}

	var req executor.ExecutionRequest
	if err := json.NewDecoder(c.Request().Body).Decode(&req); err != nil {
		log.Printf("Could not parse execution request: %v", err)
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid request body"})
	}

	result, err := a.Exec.ExecuteContainer(req, addr)
	if err != nil {
		return httpError(c, err)
	}
	return c.JSON(http.StatusOK, result)
}

// ListExecutions returns the caller's retained execution results.
func (a *API) ListExecutions(c echo.Context) error {
	addr, ok := owner(c)
	if !ok {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "missing " + OwnerHeader + " header"})
	}
	return c.JSON(http.StatusOK, a.Exec.ListExecutions(addr))
}

// GetExecution returns one execution: the live record while in flight,
// the terminal result afterwards.
func (a *API) GetExecution(c echo.Context) error {
	addr, ok := owner(c)
	if !ok {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "missing " + OwnerHeader + " header"})
	}
	id := c.Param("id")

	if ex, err := a.Exec.GetExecution(id, addr); err == nil {
		return c.JSON(http.StatusOK, &ex)
	} else if errors.Is(err, executor.ErrUnauthorized) {
		return httpError(c, err)
	}

	result, err := a.Exec.GetExecutionResult(id, addr)
	if err != nil {
		return httpError(c, err)
	}
	return c.JSON(http.StatusOK, result)
}

// CancelExecution requests cancellation of an in-flight execution.
func (a *API) CancelExecution(c echo.Context) error {
	addr, ok := owner(c)
	if !ok {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "missing " + OwnerHeader + " header"})
	}
	if err := a.Exec.CancelExecution(c.Param("id"), addr); err != nil {
		return httpError(c, err)
	}
	return c.JSON(http.StatusAccepted, map[string]string{"status": "cancelling"})
}

// EstimateCost quotes a request without executing it.
func (a *API) EstimateCost(c echo.Context) error {
	var req executor.ExecutionRequest
	if err := json.NewDecoder(c.Request().Body).Decode(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid request body"})
	}
	estimate, err := a.Exec.EstimateCost(req)
	if err != nil {
		return httpError(c, err)
	}
	return c.JSON(http.StatusOK, estimate)
}

// GetPools returns a snapshot of every warm pool.
func (a *API) GetPools(c echo.Context) error {
	return c.JSON(http.StatusOK, a.Pool.GetAllPoolStats())
}

type prewarmBody struct {
	Images   []string           `json:"images"`
	Priority imagecache.Priority `json:"priority,omitempty"`
}

// Prewarm enqueues images for background warm pool growth.
func (a *API) Prewarm(c echo.Context) error {
	var body prewarmBody
	if err := json.NewDecoder(c.Request().Body).Decode(&body); err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid request body"})
	}
	if len(body.Images) == 0 {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "images is required"})
	}
	if body.Priority == "" {
		body.Priority = imagecache.PriorityNormal
	}
	a.Cache.QueuePrewarm(body.Images, body.Priority)
	return c.JSON(http.StatusAccepted, map[string]int{"queued": len(body.Images)})
}

// GetCacheStats returns the image cache statistics.
func (a *API) GetCacheStats(c echo.Context) error {
	return c.JSON(http.StatusOK, a.Cache.Stats())
}

// GetDeduplication returns the layer sharing analysis.
func (a *API) GetDeduplication(c echo.Context) error {
	return c.JSON(http.StatusOK, a.Cache.AnalyzeDeduplication())
}

// GetNodes returns every registered node.
func (a *API) GetNodes(c echo.Context) error {
	return c.JSON(http.StatusOK, a.Sched.GetAllNodes())
}

// RegisterNode handles node self-registration.
func (a *API) RegisterNode(c echo.Context) error {
	var n node.ComputeNode
	if err := json.NewDecoder(c.Request().Body).Decode(&n); err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid request body"})
	}
	if n.ID == "" || n.Endpoint == "" {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "nodeId and endpoint are required"})
	}
	a.Sched.RegisterNode(&n)
	log.Printf("Registered node %s at %s", n.ID, n.Endpoint)
	return c.JSON(http.StatusCreated, map[string]string{"nodeId": n.ID})
}

// GetSchedulerStats returns scheduler-wide counters and capacity totals.
func (a *API) GetSchedulerStats(c echo.Context) error {
	return c.JSON(http.StatusOK, a.Sched.Stats())
}

// GetStatus reports the coordinator's aggregate health.
func (a *API) GetStatus(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]interface{}{
		"executor":  a.Exec.Stats(),
		"scheduler": a.Sched.Stats(),
		"cache":     a.Cache.Stats(),
	})
}
