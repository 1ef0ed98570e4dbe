package main

import (
	"fmt"
	"log"
	"os"
	"time"

	"github.com/hivegrid/hivegrid/internal/agent"
	"github.com/hivegrid/hivegrid/internal/api"
	"github.com/hivegrid/hivegrid/internal/config"
	"github.com/hivegrid/hivegrid/internal/executor"
	"github.com/hivegrid/hivegrid/internal/imagecache"
	"github.com/hivegrid/hivegrid/internal/metrics"
	"github.com/hivegrid/hivegrid/internal/node"
	"github.com/hivegrid/hivegrid/internal/registration"
	"github.com/hivegrid/hivegrid/internal/scheduler"
	"github.com/hivegrid/hivegrid/internal/warmpool"
	"github.com/hivegrid/hivegrid/utils"
	"github.com/labstack/echo/v4"
)

func main() {
	configFileName := ""
	if len(os.Args) > 1 {
		configFileName = os.Args[1]
	}
	config.ReadConfiguration(configFileName)

	sched := scheduler.NewScheduler()
	sweep := time.Duration(config.GetInt(config.RESERVATION_SWEEP_INTERVAL, 10)) * time.Second
	sched.StartReservationJanitor(sweep)

	cache := imagecache.NewCache(
		config.GetInt64(config.CACHE_MAX_SIZE, imagecache.DefaultMaxSize),
		config.GetFloat(config.CACHE_EVICTION_THRESHOLD, imagecache.DefaultEvictionThreshold))

	agentClient := agent.NewClient()

	cooldown := time.Duration(config.GetInt(config.POOL_COOLDOWN, 120)) * time.Second
	pool := warmpool.NewManager(sched, agentClient, cooldown)
	pool.StartCooldownManager(time.Duration(config.GetInt(config.POOL_SWEEP_INTERVAL, 15)) * time.Second)
	pool.StartPrewarmDriver(cache, agentClient, defaultPrewarmShape(), 5*time.Second)

	exec := executor.NewExecutor(sched, pool, cache, agentClient, executor.Options{
		Pricing:         executor.PricingFromConfig(),
		ReservationTTL:  time.Duration(config.GetInt(config.RESERVATION_TTL_MS, 300000)) * time.Millisecond,
		DefaultTimeout:  time.Duration(config.GetInt(config.EXECUTION_DEFAULT_TIMEOUT, 300)) * time.Second,
		HistoryCapacity: config.GetInt(config.HISTORY_CAPACITY, 1000),
		ColdStartWindow: config.GetInt(config.COLDSTART_WINDOW, 100),
		Sink:            publishResult,
	})

	// register to etcd so peer coordinators can see this one; compute
	// nodes live under the plain area, coordinators under their own prefix
	area := config.GetString(config.REGISTRY_AREA, "default")
	registry := &registration.Registry{Area: "coordinators/" + area}
	if err := registry.RegisterToEtcd(coordinatorUrl()); err != nil {
		log.Fatal(err)
	}

	// monitor the compute nodes registered under the area
	nodeRegistry := &registration.Registry{Area: area}
	if err := registration.InitMonitoring(nodeRegistry, sched); err != nil {
		log.Fatal(err)
	}

	go metrics.Init()

	e := echo.New()
	a := &api.API{Exec: exec, Sched: sched, Cache: cache, Pool: pool}
	api.RegisterTerminationHandler(registry, e, a)
	api.StartAPIServer(e, a)
}

func publishResult(result *executor.ExecutionResult) {
	if err := registration.PublishResult(result.ExecutionID, result); err != nil {
		log.Printf("Could not publish result %s: %v", result.ExecutionID, err)
	}
}

// defaultPrewarmShape is the resource shape prewarmed instances are
// created with when a queued request does not carry one.
func defaultPrewarmShape() node.ContainerResources {
	return node.ContainerResources{
		CPUCores: config.GetFloat("pool.prewarm.cpu", 1.0),
		MemoryMB: config.GetInt64("pool.prewarm.memory", 256),
	}
}

func coordinatorUrl() string {
	ip, err := utils.GetOutboundIp()
	host := "127.0.0.1"
	if err == nil {
		host = ip.String()
	}
	return fmt.Sprintf("http://%s:%d", config.GetString(config.API_IP, host), config.GetInt(config.API_PORT, 1323))
}
