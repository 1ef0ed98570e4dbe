package agent

import (
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/hivegrid/hivegrid/internal/container"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

// Server is the per-node daemon that actually drives the container
// runtime. The coordinator talks to it through Client.
type Server struct {
	factory container.Factory
}

func NewServer(factory container.Factory) *Server {
	return &Server{factory: factory}
}

// Start registers the agent routes and serves until shutdown.
func (s *Server) Start(e *echo.Echo, port int) error {
	e.Use(middleware.Recover())
	e.HideBanner = true

	e.POST("/agent/run", s.runContainer)
	e.POST("/agent/spawn", s.spawnContainer)
	e.DELETE("/agent/containers/:id", s.destroyContainer)

	return e.Start(fmt.Sprintf(":%d", port))
}

func (s *Server) runContainer(c echo.Context) error {
	var req RunRequest
	if err := c.Bind(&req); err != nil {
		return c.String(http.StatusBadRequest, err.Error())
	}

	contID := req.InstanceID
	if contID == "" {
		var err error
		contID, err = s.factory.Create(req.ImageRef, buildOptions(&req))
		if err != nil {
			log.Printf("Failed container creation: %v", err)
			return c.String(http.StatusInternalServerError, err.Error())
		}
	}

	start := time.Now()
	if err := s.factory.Start(contID); err != nil {
		s.factory.Destroy(contID)
		return c.String(http.StatusInternalServerError, err.Error())
	}

	exitCode, err := s.factory.Wait(contID, time.Duration(req.TimeoutSec)*time.Second)
	if err != nil {
		// a timed out container is torn down, never reused
		s.factory.Destroy(contID)
		if _, ok := err.(container.TimeoutError); ok {
			return c.String(http.StatusGatewayTimeout, err.Error())
		}
		return c.String(http.StatusInternalServerError, err.Error())
	}

	output, logErr := s.factory.GetLog(contID)
	if logErr != nil {
		log.Printf("Could not fetch logs for %s: %v", contID, logErr)
	}

	return c.JSON(http.StatusOK, RunResponse{
		InstanceID:  contID,
		Output:      output,
		ExitCode:    exitCode,
		DurationSec: time.Since(start).Seconds(),
	})
}

func (s *Server) spawnContainer(c echo.Context) error {
	var req SpawnRequest
	if err := c.Bind(&req); err != nil {
		return c.String(http.StatusBadRequest, err.Error())
	}

	if err := container.DownloadImage(s.factory, req.ImageRef); err != nil {
		return c.String(http.StatusInternalServerError, err.Error())
	}

	contID, err := s.factory.Create(req.ImageRef, &container.ContainerOptions{
		MemoryMB:  req.Resources.MemoryMB,
		CPUQuota:  req.Resources.CPUCores,
		StorageMB: req.Resources.StorageMB,
	})
	if err != nil {
		return c.String(http.StatusInternalServerError, err.Error())
	}

	log.Printf("Spawned idle container %s for %s", contID, req.ImageRef)
	return c.JSON(http.StatusOK, SpawnResponse{InstanceID: contID})
}

func (s *Server) destroyContainer(c echo.Context) error {
	id := c.Param("id")
	if err := s.factory.Destroy(id); err != nil {
		return c.String(http.StatusNotFound, err.Error())
	}
	return c.NoContent(http.StatusOK)
}

func buildOptions(req *RunRequest) *container.ContainerOptions {
	opts := &container.ContainerOptions{
		Cmd:       req.Command,
		MemoryMB:  req.Resources.MemoryMB,
		CPUQuota:  req.Resources.CPUCores,
		StorageMB: req.Resources.StorageMB,
	}
	for k, v := range req.Env {
		opts.Env = append(opts.Env, fmt.Sprintf("%s=%s", k, v))
	}
	if req.Input != "" {
		opts.Env = append(opts.Env, "HIVEGRID_INPUT="+req.Input)
	}
	return opts
}
