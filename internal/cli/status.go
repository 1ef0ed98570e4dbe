package cli

import (
	"fmt"
	"net/http"
	"os"

	"github.com/hivegrid/hivegrid/utils"
	"github.com/spf13/cobra"
)

func getAndPrint(path string) {
	resp, err := http.Get(serverUrl(path))
	if err != nil {
		fmt.Printf("Request failed: %v", err)
		os.Exit(2)
	}
	utils.PrintJsonResponse(resp.Body)
}

func status(cmd *cobra.Command, args []string) {
	getAndPrint("/status")
}

func pools(cmd *cobra.Command, args []string) {
	getAndPrint("/containers/pools")
}

func cacheStats(cmd *cobra.Command, args []string) {
	if dedup {
		getAndPrint("/containers/cache/deduplication")
		return
	}
	getAndPrint("/containers/cache")
}

func nodes(cmd *cobra.Command, args []string) {
	getAndPrint("/containers/nodes")
}
