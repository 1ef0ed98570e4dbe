package api

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/hivegrid/hivegrid/internal/config"
	"github.com/hivegrid/hivegrid/internal/registration"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

// StartAPIServer registers the coordinator routes and blocks serving
// them.
func StartAPIServer(e *echo.Echo, a *API) {
	e.Use(middleware.Recover())

	// Routes
	e.POST("/containers/execute", a.ExecuteContainer)
	e.GET("/containers/executions", a.ListExecutions)
	e.GET("/containers/executions/:id", a.GetExecution)
	e.POST("/containers/executions/:id/cancel", a.CancelExecution)
	e.POST("/containers/estimate", a.EstimateCost)
	e.GET("/containers/pools", a.GetPools)
	e.POST("/containers/warm", a.Prewarm)
	e.GET("/containers/cache", a.GetCacheStats)
	e.GET("/containers/cache/deduplication", a.GetDeduplication)
	e.GET("/containers/nodes", a.GetNodes)
	e.POST("/containers/nodes", a.RegisterNode)
	e.GET("/containers/scheduler", a.GetSchedulerStats)
	e.GET("/status", a.GetStatus)

	portNumber := config.GetInt(config.API_PORT, 1323)
	e.HideBanner = true

	if err := e.Start(fmt.Sprintf(":%d", portNumber)); err != nil && !errors.Is(err, http.ErrServerClosed) {
		e.Logger.Fatal("shutting down the server")
	}
}

// RegisterTerminationHandler drains pools, releases their reservations
// and deregisters from etcd before the process exits.
func RegisterTerminationHandler(r *registration.Registry, e *echo.Echo, a *API) {
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt)

	go func() {
		sig := <-c
		fmt.Printf("Got %s signal. Terminating...\n", sig)

		a.Pool.StopPrewarmDriver()
		a.Pool.StopCooldownManager()
		a.Pool.DrainAll()
		a.Sched.StopReservationJanitor()

		if r != nil {
			if err := r.Deregister(); err != nil {
				log.Println(err)
			}
		}

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := e.Shutdown(ctx); err != nil {
			e.Logger.Fatal(err)
		}

		os.Exit(0)
	}()
}
