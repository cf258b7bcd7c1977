package providers

import (
	"bufio"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ormasoftchile/blueprint/pkg/kernel/provider"
)

// fakeSidecar answers JSON-RPC requests on the far side of two pipes.
type fakeSidecar struct {
	mu      sync.Mutex
	methods []string
	url     string
	hang    bool // never answer "act"
}

func (f *fakeSidecar) serve(r io.Reader, w io.WriteCloser) {
	defer w.Close()
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		var req struct {
			ID     int64           `json:"id"`
			Method string          `json:"method"`
			Params json.RawMessage `json:"params"`
		}
		if err := json.Unmarshal(sc.Bytes(), &req); err != nil {
			continue
		}
		f.mu.Lock()
		f.methods = append(f.methods, req.Method)
		f.mu.Unlock()

		// A notification first, which the client must skip.
		fmt.Fprintln(w, `{"jsonrpc":"2.0","method":"log","params":{"msg":"working"}}`)

		var result any
		var rpcErr string
		switch req.Method {
		case MethodNavigate:
			var p navigateParams
			_ = json.Unmarshal(req.Params, &p)
			if strings.Contains(p.URL, "bad") {
				rpcErr = `{"code":"NAV_FAILED","message":"net::ERR_NAME_NOT_RESOLVED"}`
			}
			f.url = p.URL
			result = map[string]any{}
		case MethodAct:
			if f.hang {
				continue
			}
			var p map[string]string
			_ = json.Unmarshal(req.Params, &p)
			result = map[string]any{"success": !strings.Contains(p["instruction"], "missing"), "message": "did " + p["instruction"]}
		case MethodExtract:
			result = map[string]any{"total": 42}
		case MethodScreenshot:
			result = map[string]string{"data": base64.StdEncoding.EncodeToString([]byte("PNG"))}
		case MethodCurrentURL:
			result = map[string]string{"url": f.url}
		case MethodClose:
			result = map[string]any{}
		default:
			rpcErr = `{"code":-32601,"message":"unknown method"}`
		}

		if rpcErr != "" {
			fmt.Fprintf(w, `{"jsonrpc":"2.0","id":%d,"error":%s}`+"\n", req.ID, rpcErr)
			continue
		}
		data, _ := json.Marshal(result)
		// String ids are accepted too.
		fmt.Fprintf(w, `{"jsonrpc":"2.0","id":"%d","result":%s}`+"\n", req.ID, data)
		if req.Method == MethodClose {
			return
		}
	}
}

func newFake(t *testing.T, f *fakeSidecar) *SidecarProvider {
	t.Helper()
	clientR, serverW := io.Pipe()
	serverR, clientW := io.Pipe()
	go f.serve(serverR, serverW)
	return NewStreamProvider(clientR, clientW)
}

func TestSidecar_Operations(t *testing.T) {
	f := &fakeSidecar{}
	p := newFake(t, f)
	ctx := context.Background()

	if err := p.Navigate(ctx, "https://shop.test/", provider.NavigateOptions{WaitUntil: "load"}); err != nil {
		t.Fatalf("Navigate: %v", err)
	}
	url, err := p.CurrentURL(ctx)
	if err != nil || url != "https://shop.test/" {
		t.Errorf("CurrentURL = %q, %v", url, err)
	}

	res, err := p.Act(ctx, "Click on buy")
	if err != nil || !res.Success || res.Message != "did Click on buy" {
		t.Errorf("Act = %+v, %v", res, err)
	}
	res, err = p.Act(ctx, "Click on missing")
	if err != nil || res.Success {
		t.Errorf("Act(missing) = %+v, %v", res, err)
	}

	data, err := p.Extract(ctx, "the total", map[string]any{"type": "object"})
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if m, ok := data.(map[string]any); !ok || m["total"] != float64(42) {
		t.Errorf("Extract = %#v", data)
	}

	img, err := p.Screenshot(ctx, provider.ScreenshotOptions{FullPage: true})
	if err != nil || string(img) != "PNG" {
		t.Errorf("Screenshot = %q, %v", img, err)
	}

	if err := p.Close(ctx); err != nil {
		t.Errorf("Close: %v", err)
	}
	if err := p.Close(ctx); err != nil {
		t.Errorf("second Close: %v", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if n := strings.Count(strings.Join(f.methods, ","), MethodClose); n != 1 {
		t.Errorf("close sent %d times, want 1", n)
	}
}

func TestSidecar_RPCError(t *testing.T) {
	p := newFake(t, &fakeSidecar{})
	defer p.Close(context.Background())

	err := p.Navigate(context.Background(), "https://bad.test", provider.NavigateOptions{})
	var rpcErr *RPCError
	if !errors.As(err, &rpcErr) {
		t.Fatalf("err = %v, want *RPCError", err)
	}
	if rpcErr.CodeText != "NAV_FAILED" {
		t.Errorf("code = %q", rpcErr.CodeText)
	}
	if !strings.Contains(err.Error(), "ERR_NAME_NOT_RESOLVED") {
		t.Errorf("message = %q", err.Error())
	}
}

func TestSidecar_ContextCancel(t *testing.T) {
	p := newFake(t, &fakeSidecar{hang: true})
	defer p.Close(context.Background())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := p.Act(ctx, "anything"); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want deadline exceeded", err)
	}

	// The connection stays usable after an abandoned call.
	if _, err := p.CurrentURL(context.Background()); err != nil {
		t.Errorf("CurrentURL after cancel: %v", err)
	}
}

func TestSidecar_PeerGone(t *testing.T) {
	clientR, serverW := io.Pipe()
	_, clientW := io.Pipe()
	p := NewStreamProvider(clientR, clientW)
	serverW.Close()

	<-p.conn.done
	if _, err := p.CurrentURL(context.Background()); !errors.Is(err, ErrConnClosed) {
		t.Errorf("err = %v, want ErrConnClosed", err)
	}
}

func TestRPCErrorCodes(t *testing.T) {
	tests := []struct {
		raw      string
		code     int
		codeText string
	}{
		{`{"code":-32000,"message":"x"}`, -32000, "-32000"},
		{`{"code":"42","message":"x"}`, 42, "42"},
		{`{"code":"E_TIMEOUT","message":"x"}`, 0, "E_TIMEOUT"},
	}
	for _, tt := range tests {
		var e RPCError
		if err := json.Unmarshal([]byte(tt.raw), &e); err != nil {
			t.Fatalf("%s: %v", tt.raw, err)
		}
		if e.Code != tt.code || e.CodeText != tt.codeText {
			t.Errorf("%s: got (%d, %q), want (%d, %q)", tt.raw, e.Code, e.CodeText, tt.code, tt.codeText)
		}
	}
	var e RPCError
	if err := json.Unmarshal([]byte(`{"code":[1],"message":"x"}`), &e); err == nil {
		t.Error("array code should fail")
	}
}
