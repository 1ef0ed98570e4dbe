package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// RemoteServerConf points the CLI at a coordinator.
type RemoteServerConf struct {
	Host string
	Port int
}

var ServerConfig RemoteServerConf

var rootCmd = &cobra.Command{
	Use:   "hivegrid-cli",
	Short: "CLI utility for HiveGrid",
	Long:  `CLI utility to interact with a HiveGrid container execution coordinator.`,
}

var executeCmd = &cobra.Command{
	Use:   "execute",
	Short: "Executes a container image",
	Run:   execute,
}

var estimateCmd = &cobra.Command{
	Use:   "estimate",
	Short: "Estimates the cost of an execution without running it",
	Run:   estimate,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Shows the coordinator status",
	Run:   status,
}

var poolsCmd = &cobra.Command{
	Use:   "pools",
	Short: "Shows warm pool statistics",
	Run:   pools,
}

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Shows image cache statistics and layer sharing",
	Run:   cacheStats,
}

var nodesCmd = &cobra.Command{
	Use:   "nodes",
	Short: "Lists registered compute nodes",
	Run:   nodes,
}

var imageRef, ownerAddress, gpuType, region, mode string
var command, envVars []string
var cpuCores float64
var memoryMB, storageMB int64
var gpuCount, timeoutSec int
var verbose, dedup bool

func Init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().StringVarP(&ServerConfig.Host, "host", "H", ServerConfig.Host, "remote HiveGrid host")
	rootCmd.PersistentFlags().IntVarP(&ServerConfig.Port, "port", "P", ServerConfig.Port, "remote HiveGrid port")
	rootCmd.PersistentFlags().StringVarP(&ownerAddress, "owner", "o", "", "owner address for scoped requests")

	for _, cmd := range []*cobra.Command{executeCmd, estimateCmd} {
		cmd.Flags().StringVarP(&imageRef, "image", "i", "", "container image reference")
		cmd.Flags().Float64VarP(&cpuCores, "cpu", "c", 1.0, "requested CPU cores")
		cmd.Flags().Int64VarP(&memoryMB, "memory", "m", 128, "requested memory in MB")
		cmd.Flags().Int64VarP(&storageMB, "storage", "s", 0, "requested storage in MB")
		cmd.Flags().StringVarP(&gpuType, "gpu-type", "", "", "requested GPU type (optional)")
		cmd.Flags().IntVarP(&gpuCount, "gpu-count", "", 0, "requested GPU count")
		cmd.Flags().IntVarP(&timeoutSec, "timeout", "t", 0, "execution timeout in seconds")
		cmd.Flags().StringVarP(&region, "region", "r", "", "preferred region (optional)")
		cmd.Flags().StringVarP(&mode, "mode", "", "ephemeral", "execution mode: ephemeral or dedicated")
	}
	executeCmd.Flags().StringSliceVarP(&command, "cmd", "", nil, "container command")
	executeCmd.Flags().StringSliceVarP(&envVars, "env", "e", nil, "environment variable: <name>=<value>")

	cacheCmd.Flags().BoolVarP(&dedup, "dedup", "d", false, "show the layer sharing analysis")

	rootCmd.AddCommand(executeCmd)
	rootCmd.AddCommand(estimateCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(poolsCmd)
	rootCmd.AddCommand(cacheCmd)
	rootCmd.AddCommand(nodesCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
