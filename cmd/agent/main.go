package main

import (
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/hivegrid/hivegrid/internal/config"
	"github.com/hivegrid/hivegrid/internal/container"
	"github.com/hivegrid/hivegrid/internal/node"
	"github.com/hivegrid/hivegrid/internal/registration"
	"github.com/hivegrid/hivegrid/utils"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/lithammer/shortuuid"

	"github.com/hivegrid/hivegrid/internal/agent"
)

func main() {
	configFileName := ""
	if len(os.Args) > 1 {
		configFileName = os.Args[1]
	}
	config.ReadConfiguration(configFileName)

	factory, err := container.InitDockerFactory()
	if err != nil {
		log.Fatal(err)
	}

	nodeID := config.GetString(config.NODE_ID, "")
	if nodeID == "" {
		nodeID = "node-" + shortuuid.New()
	}
	agentUrl := advertisedUrl()

	// announce this node to the coordinators in the area
	registry := &registration.Registry{Area: config.GetString(config.REGISTRY_AREA, "default")}
	if err := registry.RegisterToEtcd(agentUrl); err != nil {
		log.Fatal(err)
	}

	go registration.UDPStatusServer(statusProvider(nodeID, agentUrl))

	e := echo.New()
	e.Use(middleware.Recover())
	e.HideBanner = true

	server := agent.NewServer(factory)
	if err := server.Start(e, config.GetInt(config.AGENT_PORT, 1324)); err != nil {
		log.Fatal(err)
	}
}

// statusProvider builds the probe reply from the advertised capacity.
// Availability bookkeeping lives on the coordinator; the agent reports
// its configured totals.
func statusProvider(nodeID, agentUrl string) registration.StatusProvider {
	cpu := config.GetFloat(config.NODE_CPU, 4.0)
	memoryMB := config.GetInt64(config.NODE_MEMORY_MB, 8192)
	storageMB := config.GetInt64(config.NODE_STORAGE_MB, 51200)

	var capabilities []string
	if raw := config.GetString(config.NODE_CAPABILITIES, ""); raw != "" {
		capabilities = strings.Split(raw, ",")
	}

	return func() (*registration.StatusInformation, error) {
		return &registration.StatusInformation{
			NodeID:   nodeID,
			Url:      config.GetString(config.NODE_ADDRESS, ""),
			AgentUrl: agentUrl,
			Region:   config.GetString(config.NODE_REGION, "default"),
			Zone:     config.GetString(config.NODE_ZONE, ""),
			Resources: node.Resources{
				TotalCPU:           cpu,
				AvailableCPU:       cpu,
				TotalMemoryMB:      memoryMB,
				AvailableMemoryMB:  memoryMB,
				TotalStorageMB:     storageMB,
				AvailableStorageMB: storageMB,
			},
			Capabilities: capabilities,
		}, nil
	}
}

func advertisedUrl() string {
	ip, err := utils.GetOutboundIp()
	host := "127.0.0.1"
	if err == nil {
		host = ip.String()
	}
	return fmt.Sprintf("http://%s:%d", config.GetString(config.API_IP, host), config.GetInt(config.AGENT_PORT, 1324))
}
