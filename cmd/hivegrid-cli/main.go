package main

import (
	"github.com/hivegrid/hivegrid/internal/cli"
	"github.com/hivegrid/hivegrid/internal/config"
)

func main() {
	config.ReadConfiguration("")

	cli.ServerConfig.Host = "127.0.0.1"
	cli.ServerConfig.Port = config.GetInt(config.API_PORT, 1323)

	cli.Init()
}
