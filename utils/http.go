package utils

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"
)

func PostJson(url string, body []byte) (*http.Response, error) {
	resp, err := http.Post(url, "application/json", bytes.NewBuffer(body))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return resp, fmt.Errorf("server response: %v", resp.Status)
	}
	return resp, nil
}

// PostJsonWithRetries retries a POST a few times with a fixed backoff.
// Transient agent unreachability right after a container start is common.
func PostJsonWithRetries(url string, body []byte, maxRetries int) (*http.Response, error) {
	const backoff = 300 * time.Millisecond

	var err error
	for retry := 1; retry <= maxRetries; retry++ {
		var resp *http.Response
		resp, err = http.Post(url, "application/json", bytes.NewBuffer(body))
		if err == nil {
			return resp, nil
		}
		time.Sleep(backoff)
	}

	return nil, err
}

func PrintJsonResponse(resp io.ReadCloser) {
	defer resp.Close()
	body, _ := io.ReadAll(resp)

	// print indented JSON
	var out bytes.Buffer
	json.Indent(&out, body, "", "\t")
	out.WriteTo(os.Stdout)
}
