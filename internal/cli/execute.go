package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/hivegrid/hivegrid/internal/api"
	"github.com/hivegrid/hivegrid/internal/executor"
	"github.com/hivegrid/hivegrid/internal/node"
	"github.com/hivegrid/hivegrid/utils"
	"github.com/spf13/cobra"
)

func serverUrl(path string) string {
	return fmt.Sprintf("http://%s:%d%s", ServerConfig.Host, ServerConfig.Port, path)
}

// postOwned sends a JSON body with the owner address header set.
func postOwned(path string, body []byte) (*http.Response, error) {
	req, err := http.NewRequest(http.MethodPost, serverUrl(path), bytes.NewBuffer(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(api.OwnerHeader, ownerAddress)
	return http.DefaultClient.Do(req)
}

func buildRequest(cmd *cobra.Command) (*executor.ExecutionRequest, bool) {
	if len(imageRef) < 1 {
		fmt.Printf("Invalid image reference.\n")
		cmd.Help()
		return nil, false
	}

	env := make(map[string]string)
	for _, rawVar := range envVars {
		tokens := strings.SplitN(rawVar, "=", 2)
		if len(tokens) < 2 {
			cmd.Help()
			return nil, false
		}
		env[tokens[0]] = tokens[1]
	}

	return &executor.ExecutionRequest{
		ImageRef: imageRef,
		Command:  command,
		Env:      env,
		Resources: node.ContainerResources{
			CPUCores:  cpuCores,
			MemoryMB:  memoryMB,
			StorageMB: storageMB,
			GPUType:   gpuType,
			GPUCount:  gpuCount,
		},
		Mode:            executor.Mode(mode),
		TimeoutSec:      timeoutSec,
		PreferredRegion: region,
	}, true
}

func execute(cmd *cobra.Command, args []string) {
	request, ok := buildRequest(cmd)
	if !ok {
		return
	}
	if ownerAddress == "" {
		fmt.Printf("An owner address is required (--owner).\n")
		return
	}

	body, err := json.Marshal(request)
	if err != nil {
		cmd.Help()
		return
	}

	resp, err := postOwned("/containers/execute", body)
	if err != nil {
		fmt.Printf("Execution failed: %v", err)
		os.Exit(2)
	}
	defer resp.Body.Close()

	if verbose {
		utils.PrintJsonResponse(resp.Body)
		return
	}

	// terse output: status, exit code and the container output only
	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		fmt.Printf("Could not read response: %v", err)
		os.Exit(2)
	}
	status := utils.JsonExtractStringOrDefault(payload, "status", "unknown")
	exitCode := utils.JsonExtractIntOrDefault(payload, "exitCode", -1)
	output := utils.JsonExtractStringOrDefault(payload, "output", "")
	fmt.Printf("Status: %s (exit code %d)\n%s\n", status, exitCode, output)
}

func estimate(cmd *cobra.Command, args []string) {
	request, ok := buildRequest(cmd)
	if !ok {
		return
	}

	body, err := json.Marshal(request)
	if err != nil {
		cmd.Help()
		return
	}

	resp, err := utils.PostJson(serverUrl("/containers/estimate"), body)
	if err != nil {
		fmt.Printf("Estimate failed: %v", err)
		os.Exit(2)
	}
	utils.PrintJsonResponse(resp.Body)
}
