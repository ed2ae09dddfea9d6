package cln

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"runtime/debug"
	"sync"
)

const (
	// OptionString declares a string valued plugin option.
	OptionString = "string"

	// OptionInt declares an integer valued plugin option.
	OptionInt = "int"
)

const (
	// rpcCodeMethodError is the catch-all code lightningd tooling uses
	// for method failures that carry no more specific code.
	rpcCodeMethodError = -32600

	// rpcCodeMethodNotFound signals a call to a method the plugin never
	// registered.
	rpcCodeMethodNotFound = -32601

	// rpcCodeInvalidParams signals malformed or missing call parameters.
	rpcCodeInvalidParams = -32602
)

// RPCCoder is implemented by errors that carry their own JSON-RPC error
// code. Handler errors implementing it are sent to lightningd verbatim
// instead of being wrapped in the generic processing failure.
type RPCCoder interface {
	error

	// RPCCode returns the JSON-RPC error code for this failure.
	RPCCode() int
}

// Handler processes a single plugin RPC call. The raw params are exactly as
// lightningd delivered them, either a positional array or a named object.
type Handler func(ctx context.Context, params json.RawMessage) (interface{},
	error)

// Option declares a configuration option that lightningd accepts on the
// plugin's behalf and reports back during init.
type Option struct {
	Name        string      `json:"name"`
	Type        string      `json:"type"`
	Default     interface{} `json:"default,omitempty"`
	Description string      `json:"description"`
}

// Method declares an RPC method the plugin adds to lightningd's command
// surface.
type Method struct {
	Name            string  `json:"name"`
	Usage           string  `json:"usage"`
	Description     string  `json:"description"`
	LongDescription string  `json:"long_description,omitempty"`
	Handler         Handler `json:"-"`
}

// InitConfiguration is the node configuration lightningd shares during init.
type InitConfiguration struct {
	LightningDir string `json:"lightning-dir"`
	RPCFile      string `json:"rpc-file"`
	Network      string `json:"network"`
	Startup      bool   `json:"startup"`
}

// InitMessage is the payload of the init call that completes the handshake.
type InitMessage struct {
	Options       map[string]json.RawMessage `json:"options"`
	Configuration InitConfiguration          `json:"configuration"`
}

// SocketPath returns the path of the lightning-rpc socket announced by
// lightningd.
func (m *InitMessage) SocketPath() string {
	return filepath.Join(m.Configuration.LightningDir,
		m.Configuration.RPCFile)
}

// StringOption returns the value of a string option delivered with init. The
// second return value reports whether lightningd supplied the option at all.
func (m *InitMessage) StringOption(name string) (string, bool) {
	raw, ok := m.Options[name]
	if !ok || string(raw) == "null" {
		return "", false
	}

	var value string
	if err := json.Unmarshal(raw, &value); err != nil {
		return "", false
	}

	return value, true
}

// IntOption returns the value of an integer option delivered with init.
func (m *InitMessage) IntOption(name string) (int64, bool) {
	raw, ok := m.Options[name]
	if !ok || string(raw) == "null" {
		return 0, false
	}

	var value int64
	if err := json.Unmarshal(raw, &value); err != nil {
		return 0, false
	}

	return value, true
}

// inboundRequest is a request frame as read from lightningd. The id is kept
// raw so string ids survive the round trip untouched.
type inboundRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
}

// manifest is the getmanifest response describing the plugin to lightningd.
type manifest struct {
	Options       []*Option `json:"options"`
	RPCMethods    []*Method `json:"rpcmethods"`
	Subscriptions []string  `json:"subscriptions"`
	Dynamic       bool      `json:"dynamic"`
	NonNumericIDs bool      `json:"nonnumericids"`
}

// Plugin hosts the lightningd side of the plugin wire protocol: it answers
// the getmanifest and init handshake, then dispatches calls to registered
// methods. Requests are processed one at a time in arrival order, matching
// how lightningd drives a synchronous plugin.
type Plugin struct {
	options []*Option
	methods map[string]*Method

	onInit     func(*InitMessage) error
	onShutdown func()

	in *json.Decoder

	// outMtx serializes response frames and log notifications on the
	// shared output stream.
	outMtx sync.Mutex
	out    io.Writer

	initDone     bool
	shutdownOnce sync.Once
}

// NewPlugin creates a plugin host speaking the lightningd wire protocol on
// the given streams, normally stdin and stdout.
func NewPlugin(in io.Reader, out io.Writer) *Plugin {
	return &Plugin{
		options: make([]*Option, 0),
		methods: make(map[string]*Method),
		in:      json.NewDecoder(in),
		out:     out,
	}
}

// RegisterOption adds an option to the manifest announced to lightningd.
// All registrations must happen before Run.
func (p *Plugin) RegisterOption(opt *Option) {
	p.options = append(p.options, opt)
}

// RegisterMethod adds an RPC method to the manifest announced to lightningd.
// All registrations must happen before Run.
func (p *Plugin) RegisterMethod(method *Method) {
	p.methods[method.Name] = method
}

// OnInit installs the callback invoked when lightningd completes the
// handshake. Returning an error disables the plugin gracefully instead of
// failing lightningd's startup.
func (p *Plugin) OnInit(fn func(*InitMessage) error) {
	p.onInit = fn
}

// OnShutdown installs the callback invoked when lightningd tells the plugin
// to exit, either via the shutdown notification or by closing our input
// stream.
func (p *Plugin) OnShutdown(fn func()) {
	p.onShutdown = fn
}

// Run serves the plugin protocol until the input stream closes. lightningd
// owns the process lifetime, so a closed stream means we are expected to
// exit.
func (p *Plugin) Run(ctx context.Context) error {
	for {
		var req inboundRequest
		err := p.in.Decode(&req)
		switch {
		case errors.Is(err, io.EOF):
			log.Infof("Plugin input stream closed by lightningd")
			p.shutdown()
			return nil

		case err != nil:
			// A frame we cannot decode desyncs the stream, there
			// is no way to recover the protocol from here.
			p.shutdown()
			return fmt.Errorf("unable to decode plugin "+
				"request: %w", err)
		}

		p.dispatch(ctx, &req)
	}
}

// Notify sends a notification frame to lightningd.
func (p *Plugin) Notify(method string, params interface{}) error {
	frame := struct {
		JSONRPC string      `json:"jsonrpc"`
		Method  string      `json:"method"`
		Params  interface{} `json:"params"`
	}{
		JSONRPC: "2.0",
		Method:  method,
		Params:  params,
	}

	return p.writeFrame(&frame)
}

// Log forwards a log line to lightningd, which merges it into its own log
// under the plugin's name.
func (p *Plugin) Log(level, message string) error {
	params := struct {
		Level   string `json:"level"`
		Message string `json:"message"`
	}{
		Level:   level,
		Message: message,
	}

	return p.Notify("log", params)
}

// dispatch routes a single request frame. Frames without an id are
// notifications and never produce a reply.
func (p *Plugin) dispatch(ctx context.Context, req *inboundRequest) {
	if len(req.ID) == 0 || string(req.ID) == "null" {
		if req.Method == "shutdown" {
			log.Infof("Received shutdown notification from " +
				"lightningd")
			p.shutdown()
		}
		return
	}

	switch req.Method {
	case "getmanifest":
		p.handleGetManifest(req.ID)

	case "init":
		p.handleInit(req.ID, req.Params)

	default:
		p.handleMethod(ctx, req)
	}
}

func (p *Plugin) handleGetManifest(id json.RawMessage) {
	log.Debugf("Answering getmanifest with %d option(s) and %d "+
		"method(s)", len(p.options), len(p.methods))

	methods := make([]*Method, 0, len(p.methods))
	for _, method := range p.methods {
		methods = append(methods, method)
	}

	p.sendResult(id, &manifest{
		Options:       p.options,
		RPCMethods:    methods,
		Subscriptions: []string{"shutdown"},
		Dynamic:       true,
		NonNumericIDs: true,
	})
}

func (p *Plugin) handleInit(id json.RawMessage, params json.RawMessage) {
	var msg InitMessage
	if err := json.Unmarshal(params, &msg); err != nil {
		p.sendRPCError(id, &RPCError{
			Code: rpcCodeInvalidParams,
			Message: fmt.Sprintf("unable to decode init "+
				"payload: %v", err),
		})
		return
	}

	log.Infof("Initializing for network=%v, lightning-dir=%v",
		msg.Configuration.Network, msg.Configuration.LightningDir)

	if p.onInit != nil {
		if err := p.onInit(&msg); err != nil {
			log.Errorf("Plugin initialization failed: %v", err)

			// Disabling ourselves keeps lightningd running
			// without the plugin rather than aborting its
			// startup.
			p.sendResult(id, struct {
				Disable string `json:"disable"`
			}{
				Disable: err.Error(),
			})
			return
		}
	}

	p.initDone = true
	p.sendResult(id, struct{}{})
}

func (p *Plugin) handleMethod(ctx context.Context, req *inboundRequest) {
	method, ok := p.methods[req.Method]
	if !ok {
		p.sendRPCError(req.ID, &RPCError{
			Code:    rpcCodeMethodNotFound,
			Message: fmt.Sprintf("unknown method %q", req.Method),
		})
		return
	}

	if !p.initDone {
		p.sendRPCError(req.ID, &RPCError{
			Code:    rpcCodeMethodError,
			Message: "plugin not yet initialized",
		})
		return
	}

	log.Debugf("Dispatching %v call", req.Method)

	result, err := p.invoke(ctx, method, req.Params)
	if err != nil {
		p.sendMethodError(req.ID, req.Method, err)
		return
	}

	p.sendResult(req.ID, result)
}

// invoke runs a method handler, converting a panic into a plain error so a
// single bad request cannot take the whole plugin down with it.
func (p *Plugin) invoke(ctx context.Context, method *Method,
	params json.RawMessage) (result interface{}, err error) {

	defer func() {
		if r := recover(); r != nil {
			log.Criticalf("Method %v panicked: %v\n%s",
				method.Name, r, debug.Stack())
			err = fmt.Errorf("internal error: %v", r)
		}
	}()

	return method.Handler(ctx, params)
}

// sendMethodError maps a handler error onto the wire. Errors that know their
// own code pass through unchanged, anything else becomes the generic
// processing failure.
func (p *Plugin) sendMethodError(id json.RawMessage, method string,
	err error) {

	var (
		rpcErr *RPCError
		coder  RPCCoder
	)
	switch {
	case errors.As(err, &rpcErr):

	case errors.As(err, &coder):
		rpcErr = &RPCError{
			Code:    coder.RPCCode(),
			Message: coder.Error(),
		}

	default:
		rpcErr = &RPCError{
			Code: rpcCodeMethodError,
			Message: fmt.Sprintf("Error while processing %s: %v",
				method, err),
		}
	}

	log.Errorf("Method %v failed with code=%d: %v", method, rpcErr.Code,
		rpcErr.Message)

	p.sendRPCError(id, rpcErr)
}

func (p *Plugin) sendResult(id json.RawMessage, result interface{}) {
	frame := struct {
		JSONRPC string          `json:"jsonrpc"`
		ID      json.RawMessage `json:"id"`
		Result  interface{}     `json:"result"`
	}{
		JSONRPC: "2.0",
		ID:      id,
		Result:  result,
	}

	if err := p.writeFrame(&frame); err != nil {
		log.Errorf("Unable to send result: %v", err)
	}
}

func (p *Plugin) sendRPCError(id json.RawMessage, rpcErr *RPCError) {
	frame := struct {
		JSONRPC string          `json:"jsonrpc"`
		ID      json.RawMessage `json:"id"`
		Error   *RPCError       `json:"error"`
	}{
		JSONRPC: "2.0",
		ID:      id,
		Error:   rpcErr,
	}

	if err := p.writeFrame(&frame); err != nil {
		log.Errorf("Unable to send error response: %v", err)
	}
}

// writeFrame marshals a frame and writes it followed by the blank line
// terminator lightningd's stream parser expects.
func (p *Plugin) writeFrame(frame interface{}) error {
	payload, err := json.Marshal(frame)
	if err != nil {
		return fmt.Errorf("unable to marshal frame: %w", err)
	}

	payload = append(payload, '\n', '\n')

	p.outMtx.Lock()
	defer p.outMtx.Unlock()

	_, err = p.out.Write(payload)
	return err
}

func (p *Plugin) shutdown() {
	p.shutdownOnce.Do(func() {
		if p.onShutdown != nil {
			p.onShutdown()
		}
	})
}
