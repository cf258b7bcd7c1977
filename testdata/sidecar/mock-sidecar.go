// mock-sidecar is a test helper binary that plays a browser-automation
// sidecar over newline-delimited JSON-RPC 2.0 on stdio.
//
//go:build ignore

package main

import (
	"bufio"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
)

type request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int64           `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

type response struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      int64       `json:"id"`
	Result  interface{} `json:"result,omitempty"`
	Error   interface{} `json:"error,omitempty"`
}

func main() {
	fmt.Fprintln(os.Stderr, "mock-sidecar: browser ready")

	url := "about:blank"
	scanner := bufio.NewScanner(os.Stdin)
	out := bufio.NewWriter(os.Stdout)
	for scanner.Scan() {
		var req request
		if err := json.Unmarshal(scanner.Bytes(), &req); err != nil {
			continue
		}

		resp := response{JSONRPC: "2.0", ID: req.ID}
		var params map[string]interface{}
		json.Unmarshal(req.Params, &params)

		switch req.Method {
		case "navigate":
			url, _ = params["url"].(string)
			resp.Result = map[string]interface{}{}
		case "currentUrl":
			resp.Result = map[string]string{"url": url}
		case "act":
			resp.Result = map[string]interface{}{"success": true, "message": params["instruction"]}
		case "extract":
			resp.Result = params["instruction"]
		case "screenshot":
			resp.Result = map[string]string{"data": base64.StdEncoding.EncodeToString([]byte{0x89, 'P', 'N', 'G'})}
		case "close":
			resp.Result = map[string]interface{}{}
		default:
			resp.Error = map[string]interface{}{
				"code":    -32601,
				"message": fmt.Sprintf("method %q not found", req.Method),
			}
		}

		data, _ := json.Marshal(resp)
		fmt.Fprintf(out, "%s\n", data)
		out.Flush()

		if req.Method == "close" {
			return
		}
	}
}
