// Package serve exposes blueprint execution to other processes: an HTTP
// endpoint implementing the delegated-execution contract, and a
// newline-delimited JSON-RPC server on stdio for editor integrations.
package serve

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"

	"go.uber.org/zap"

	"github.com/ormasoftchile/blueprint/pkg/kernel/engine"
	"github.com/ormasoftchile/blueprint/pkg/kernel/executor"
	"github.com/ormasoftchile/blueprint/pkg/kernel/mode"
	"github.com/ormasoftchile/blueprint/pkg/kernel/schema"
	"github.com/ormasoftchile/blueprint/pkg/kernel/validate"
)

// RunFunc executes one run synchronously. mode.Selector.RunDirect fits.
type RunFunc func(ctx context.Context, req mode.Request) *engine.RunResult

// Message is a JSON-RPC 2.0 message (request or notification).
type Message struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      *int            `json:"id,omitempty"` // nil for notifications
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// RPCError is a JSON-RPC error.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// JSON-RPC error codes.
const (
	codeParseError     = -32700
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeInternalError  = -32603
)

// BlueprintParams names a blueprint either by file path or inline.
type BlueprintParams struct {
	Path      string            `json:"path,omitempty"`
	Blueprint *schema.Blueprint `json:"blueprint,omitempty"`
}

// ExecuteParams are the parameters for blueprint/execute.
type ExecuteParams struct {
	BlueprintParams
	RunID     string         `json:"runId,omitempty"`
	Variables map[string]any `json:"variables,omitempty"`
}

// RunnerFactory builds the run function for one execution, wiring obs
// into the engine so step events can be streamed.
type RunnerFactory func(obs engine.Observer) RunFunc

// Server is the stdio JSON-RPC server.
type Server struct {
	reader io.Reader
	writer io.Writer
	mu     sync.Mutex
	runner RunnerFactory
	log    *zap.SugaredLogger
	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a server reading from stdin and writing to stdout.
func New(runner RunnerFactory, log *zap.SugaredLogger) *Server {
	return NewWithIO(os.Stdin, os.Stdout, runner, log)
}

// NewWithIO creates a server over arbitrary streams.
func NewWithIO(r io.Reader, w io.Writer, runner RunnerFactory, log *zap.SugaredLogger) *Server {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{reader: r, writer: w, runner: runner, log: log, ctx: ctx, cancel: cancel}
}

// Run reads messages until EOF or shutdown and dispatches them in order.
func (s *Server) Run() error {
	defer s.cancel()

	scanner := bufio.NewScanner(s.reader)
	scanner.Buffer(make([]byte, 0, 1024*1024), 4*1024*1024)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var msg Message
		if err := json.Unmarshal(line, &msg); err != nil {
			s.sendError(nil, codeParseError, fmt.Sprintf("parse error: %v", err))
			continue
		}

		s.dispatch(&msg)
		if s.ctx.Err() != nil {
			return nil
		}
	}
	return scanner.Err()
}

func (s *Server) dispatch(msg *Message) {
	switch msg.Method {
	case "blueprint/validate":
		s.handleValidate(msg)
	case "blueprint/execute":
		s.handleExecute(msg)
	case "shutdown":
		s.sendResult(msg.ID, map[string]string{"status": "shutting down"})
		s.cancel()
	default:
		s.sendError(msg.ID, codeMethodNotFound, fmt.Sprintf("unknown method: %s", msg.Method))
	}
}

func (p BlueprintParams) load() (*schema.Blueprint, []*validate.ValidationError, error) {
	switch {
	case p.Blueprint != nil:
		return p.Blueprint, validate.ValidateBlueprint(p.Blueprint), nil
	case p.Path != "":
		bp, errs := validate.ValidateFile(p.Path)
		return bp, errs, nil
	default:
		return nil, nil, fmt.Errorf("path or blueprint is required")
	}
}

func (s *Server) handleValidate(msg *Message) {
	var params BlueprintParams
	if err := json.Unmarshal(msg.Params, &params); err != nil {
		s.sendError(msg.ID, codeInvalidParams, err.Error())
		return
	}
	_, errs, err := params.load()
	if err != nil {
		s.sendError(msg.ID, codeInvalidParams, err.Error())
		return
	}
	if errs == nil {
		errs = []*validate.ValidationError{}
	}
	s.sendResult(msg.ID, map[string]any{
		"valid":  !validate.HasErrors(errs),
		"errors": errs,
	})
}

func (s *Server) handleExecute(msg *Message) {
	var params ExecuteParams
	if err := json.Unmarshal(msg.Params, &params); err != nil {
		s.sendError(msg.ID, codeInvalidParams, err.Error())
		return
	}
	bp, errs, err := params.load()
	if err != nil {
		s.sendError(msg.ID, codeInvalidParams, err.Error())
		return
	}
	// Only an unloadable blueprint is refused; content errors fail at
	// their step during the run.
	if bp == nil {
		s.sendError(msg.ID, codeInvalidParams, validate.Errors(errs)[0].Error())
		return
	}
	if params.RunID != "" && !mode.ValidRunID(params.RunID) {
		s.sendError(msg.ID, codeInvalidParams, mode.ErrInvalidRunID.Error())
		return
	}
	if s.runner == nil {
		s.sendError(msg.ID, codeInternalError, "no runner configured")
		return
	}

	run := s.runner(&eventObserver{s: s, runID: params.RunID})
	s.log.Infow("execute", "blueprint", bp.Name, "run_id", params.RunID)
	result := run(s.ctx, mode.Request{RunID: params.RunID, Blueprint: bp, Vars: params.Variables})
	s.sendResult(msg.ID, result)
}

// eventObserver streams step transitions as notifications.
type eventObserver struct {
	s     *Server
	runID string
}

func (o *eventObserver) StepStarted(tile schema.Tile, index int) {
	o.s.sendEvent("event/stepStarted", map[string]any{
		"runId": o.runID,
		"index": index,
		"id":    tile.ID,
		"type":  tile.Type,
		"label": tile.Label,
	})
}

func (o *eventObserver) StepFinished(result executor.StepResult) {
	o.s.sendEvent("event/stepFinished", map[string]any{
		"runId":  o.runID,
		"result": result,
	})
}

// --- Message sending ---

func (s *Server) sendResult(id *int, result any) {
	data, _ := json.Marshal(result)
	s.send(&Message{JSONRPC: "2.0", ID: id, Result: data})
}

func (s *Server) sendError(id *int, code int, message string) {
	s.send(&Message{JSONRPC: "2.0", ID: id, Error: &RPCError{Code: code, Message: message}})
}

func (s *Server) sendEvent(method string, params any) {
	data, _ := json.Marshal(params)
	s.send(&Message{JSONRPC: "2.0", Method: method, Params: data})
}

func (s *Server) send(msg *Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, _ := json.Marshal(msg)
	fmt.Fprintf(s.writer, "%s\n", data)
}
