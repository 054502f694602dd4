package server

import (
	"context"
	"encoding/json"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/ajitpratap0/mcp-runtime-go/pkg/config"
	mcperrors "github.com/ajitpratap0/mcp-runtime-go/pkg/errors"
	"github.com/ajitpratap0/mcp-runtime-go/pkg/logging"
	"github.com/ajitpratap0/mcp-runtime-go/pkg/observability"
	"github.com/ajitpratap0/mcp-runtime-go/pkg/pagination"
	"github.com/ajitpratap0/mcp-runtime-go/pkg/protocol"
	"github.com/ajitpratap0/mcp-runtime-go/pkg/utils"
)

// Router answers client requests by method. It is the RequestHandler
// installed on the server transport and is safe for concurrent use.
type Router struct {
	cfg     config.ServerConfig
	logger  logging.Logger
	metrics observability.MetricsProvider
	tracing *observability.TracingProvider

	tools      ToolsProvider
	resources  ResourcesProvider
	prompts    PromptsProvider
	completion CompletionProvider

	subscriptions *SubscriptionManager

	mu         sync.RWMutex
	logLevel   protocol.LogLevel
	clientInfo *protocol.Implementation

	inflightMu  sync.Mutex
	inflightSeq uint64
	// peer/id -> cancel funcs; a reused id keeps every earlier call cancellable
	inflight map[string]map[uint64]context.CancelFunc

	initialized atomic.Bool
}

// NewRouter builds a standalone router
func NewRouter(opts ...Option) *Router {
	return newRouter(buildOptions(opts))
}

func newRouter(o *options) *Router {
	return &Router{
		cfg:           o.cfg,
		logger:        o.logger.WithFields(logging.String("component", "router")),
		metrics:       o.metrics,
		tracing:       o.tracing,
		tools:         o.tools,
		resources:     o.resources,
		prompts:       o.prompts,
		completion:    o.completion,
		subscriptions: NewSubscriptionManager(o.logger),
		logLevel:      protocol.LogLevelInfo,
		inflight:      make(map[string]map[uint64]context.CancelFunc),
	}
}

// Capabilities describes what the installed providers support
func (r *Router) Capabilities() protocol.ServerCapabilities {
	caps := protocol.ServerCapabilities{Logging: &struct{}{}}
	if r.tools != nil {
		_, dynamic := r.tools.(changeNotifier)
		caps.Tools = &protocol.ListChangedCapability{ListChanged: dynamic}
	}
	if r.resources != nil {
		_, dynamic := r.resources.(changeNotifier)
		caps.Resources = &protocol.ResourcesCapability{Subscribe: true, ListChanged: dynamic}
	}
	if r.prompts != nil {
		_, dynamic := r.prompts.(changeNotifier)
		caps.Prompts = &protocol.ListChangedCapability{ListChanged: dynamic}
	}
	if r.completion != nil {
		caps.Completions = &struct{}{}
	}
	return caps
}

// LogLevel is the minimum level set by logging/setLevel, info by default
func (r *Router) LogLevel() protocol.LogLevel {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.logLevel
}

// ClientInfo returns the implementation announced by the last initialize
func (r *Router) ClientInfo() *protocol.Implementation {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.clientInfo
}

// Initialized reports whether a client has sent notifications/initialized
func (r *Router) Initialized() bool {
	return r.initialized.Load()
}

func (r *Router) Subscriptions() *SubscriptionManager {
	return r.subscriptions
}

// HandleRequest never panics and always answers with the request id
func (r *Router) HandleRequest(ctx context.Context, req *protocol.Request) (resp *protocol.Response) {
	start := time.Now()
	ctx, span := r.tracing.StartSpan(ctx, req.Method, trace.SpanKindServer,
		attribute.String("mcp.request.id", protocol.IDKey(req.ID)),
	)
	defer span.End()
	logger := r.logger.WithContext(ctx)

	var err error
	defer func() {
		if rec := recover(); rec != nil {
			logger.Error("provider panicked",
				logging.String("method", req.Method),
				logging.Any("panic", rec),
				logging.String("stack", string(debug.Stack())),
			)
			err = mcperrors.Internal(fmt.Errorf("panic: %v", rec))
			resp = mcperrors.ToResponse(err, req.ID)
		}
		if err != nil {
			r.tracing.RecordError(ctx, err)
			r.metrics.RecordError(ctx, mcperrors.KindOf(err).String())
		}
		r.metrics.RecordIncomingRequest(ctx, req.Method, observability.StatusOf(err), time.Since(start))
	}()

	if err = validateEnvelope(req); err != nil {
		return mcperrors.ToResponse(err, req.ID)
	}

	ctx, done := r.track(ctx, req.ID)
	defer done()

	result, err := r.dispatch(ctx, req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil && !isContextKind(err) {
			err = mcperrors.FromContext(ctxErr, req.Method, r.cfg.RequestTimeout)
		}
		logger.WithError(err).Debug("request failed", logging.String("method", req.Method))
		return mcperrors.ToResponse(err, req.ID)
	}

	resp, encErr := protocol.NewResponse(req.ID, result)
	if encErr != nil {
		err = mcperrors.Internal(encErr)
		return mcperrors.ToResponse(err, req.ID)
	}
	return resp
}

func isContextKind(err error) bool {
	k := mcperrors.KindOf(err)
	return k == mcperrors.KindRequestTimeout || k == mcperrors.KindCancelled
}

func validateEnvelope(req *protocol.Request) error {
	if req.JSONRPC != protocol.JSONRPCVersion {
		return mcperrors.ProtocolViolation("unsupported jsonrpc version %q", req.JSONRPC)
	}
	if req.Method == "" {
		return mcperrors.ProtocolViolation("request has no method")
	}
	return nil
}

// track registers the request for notifications/cancelled and applies the
// per-request timeout. Ids are scoped by peer.
func (r *Router) track(ctx context.Context, id interface{}) (context.Context, func()) {
	var cancel context.CancelFunc
	if r.cfg.RequestTimeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, r.cfg.RequestTimeout)
	} else {
		ctx, cancel = context.WithCancel(ctx)
	}
	key := inflightKey(ctx, id)

	r.inflightMu.Lock()
	r.inflightSeq++
	seq := r.inflightSeq
	calls := r.inflight[key]
	if calls == nil {
		calls = make(map[uint64]context.CancelFunc)
		r.inflight[key] = calls
	}
	calls[seq] = cancel
	r.inflightMu.Unlock()

	return ctx, func() {
		r.inflightMu.Lock()
		delete(calls, seq)
		if len(calls) == 0 {
			delete(r.inflight, key)
		}
		r.inflightMu.Unlock()
		cancel()
	}
}

func inflightKey(ctx context.Context, id interface{}) string {
	return logging.PeerIDFromContext(ctx) + "/" + protocol.IDKey(id)
}

// InFlight returns the number of requests being handled
func (r *Router) InFlight() int {
	r.inflightMu.Lock()
	defer r.inflightMu.Unlock()
	n := 0
	for _, calls := range r.inflight {
		n += len(calls)
	}
	return n
}

func (r *Router) dispatch(ctx context.Context, req *protocol.Request) (interface{}, error) {
	switch req.Method {
	case protocol.MethodInitialize:
		return r.handleInitialize(req)
	case protocol.MethodPing:
		return protocol.PingResult{}, nil

	case protocol.MethodListTools:
		if r.tools == nil {
			break
		}
		return r.handleListTools(ctx, req)
	case protocol.MethodCallTool:
		if r.tools == nil {
			break
		}
		return r.handleCallTool(ctx, req)

	case protocol.MethodListResources:
		if r.resources == nil {
			break
		}
		return r.handleListResources(ctx, req)
	case protocol.MethodListResourceTemplates:
		if r.resources == nil {
			break
		}
		return r.handleListResourceTemplates(ctx, req)
	case protocol.MethodReadResource:
		if r.resources == nil {
			break
		}
		return r.handleReadResource(ctx, req)
	case protocol.MethodSubscribeResource, protocol.MethodUnsubscribeResource:
		if r.resources == nil {
			break
		}
		return r.handleSubscription(req)

	case protocol.MethodListPrompts:
		if r.prompts == nil {
			break
		}
		return r.handleListPrompts(ctx, req)
	case protocol.MethodGetPrompt:
		if r.prompts == nil {
			break
		}
		return r.handleGetPrompt(ctx, req)

	case protocol.MethodSetLogLevel:
		return r.handleSetLogLevel(req)
	case protocol.MethodComplete:
		if r.completion == nil {
			break
		}
		return r.handleComplete(ctx, req)
	}
	return nil, mcperrors.MethodNotFound(req.Method)
}

func decodeParams(req *protocol.Request, v interface{}) error {
	if len(req.Params) == 0 || string(req.Params) == "null" {
		return nil
	}
	if err := json.Unmarshal(req.Params, v); err != nil {
		return mcperrors.InvalidParams("invalid params for %s: %v", req.Method, err)
	}
	return nil
}

func paginate[T any](items []T, cursor string, pageSize int) ([]T, string, error) {
	page, next, err := pagination.Paginate(items, cursor, pageSize)
	if err != nil {
		return nil, "", mcperrors.InvalidParams("%v", err)
	}
	return page, next, nil
}

func (r *Router) handleInitialize(req *protocol.Request) (interface{}, error) {
	var params protocol.InitializeParams
	if err := decodeParams(req, &params); err != nil {
		return nil, err
	}
	if params.ProtocolVersion == "" {
		return nil, mcperrors.InvalidParams("protocolVersion is required")
	}

	r.mu.Lock()
	info := params.ClientInfo
	r.clientInfo = &info
	r.mu.Unlock()

	r.logger.Info("client initializing",
		logging.String("client", params.ClientInfo.Name),
		logging.String("client_version", params.ClientInfo.Version),
		logging.String("protocol_version", params.ProtocolVersion),
	)
	return protocol.InitializeResult{
		ProtocolVersion: protocol.ProtocolRevision,
		Capabilities:    r.Capabilities(),
		ServerInfo:      protocol.Implementation{Name: r.cfg.Name, Version: r.cfg.Version},
		Instructions:    r.cfg.Instructions,
	}, nil
}

func (r *Router) handleListTools(ctx context.Context, req *protocol.Request) (interface{}, error) {
	var params protocol.PaginatedParams
	if err := decodeParams(req, &params); err != nil {
		return nil, err
	}
	tools, err := r.tools.ListTools(ctx)
	if err != nil {
		return nil, err
	}
	page, next, err := paginate(tools, params.Cursor, r.cfg.PageSize)
	if err != nil {
		return nil, err
	}
	return protocol.ListToolsResult{Tools: page, NextCursor: next}, nil
}

func (r *Router) handleCallTool(ctx context.Context, req *protocol.Request) (interface{}, error) {
	var params protocol.CallToolParams
	if err := decodeParams(req, &params); err != nil {
		return nil, err
	}
	if params.Name == "" {
		return nil, mcperrors.InvalidParams("tool name is required")
	}

	if r.cfg.ValidateRequests {
		if lookup, ok := r.tools.(toolLookup); ok {
			tool, found := lookup.Tool(params.Name)
			if !found {
				return nil, mcperrors.ToolNotFound(params.Name)
			}
			if err := utils.ValidateRequired(params.Arguments, tool.InputSchema); err != nil {
				return nil, mcperrors.InvalidParams("%s: %v", params.Name, err)
			}
		}
	}
	if params.Meta != nil && params.Meta.ProgressToken != nil {
		ctx = context.WithValue(ctx, progressTokenKey{}, params.Meta.ProgressToken)
	}
	return r.tools.CallTool(ctx, params.Name, params.Arguments)
}

type progressTokenKey struct{}

// ProgressToken returns the token a tools/call asked progress to be reported
// under. Tools pass it to Server.SendProgress.
func ProgressToken(ctx context.Context) (interface{}, bool) {
	token := ctx.Value(progressTokenKey{})
	return token, token != nil
}

func (r *Router) handleListResources(ctx context.Context, req *protocol.Request) (interface{}, error) {
	var params protocol.PaginatedParams
	if err := decodeParams(req, &params); err != nil {
		return nil, err
	}
	resources, err := r.resources.ListResources(ctx)
	if err != nil {
		return nil, err
	}
	page, next, err := paginate(resources, params.Cursor, r.cfg.PageSize)
	if err != nil {
		return nil, err
	}
	return protocol.ListResourcesResult{Resources: page, NextCursor: next}, nil
}

func (r *Router) handleListResourceTemplates(ctx context.Context, req *protocol.Request) (interface{}, error) {
	var params protocol.PaginatedParams
	if err := decodeParams(req, &params); err != nil {
		return nil, err
	}
	templates, err := r.resources.ListResourceTemplates(ctx)
	if err != nil {
		return nil, err
	}
	page, next, err := paginate(templates, params.Cursor, r.cfg.PageSize)
	if err != nil {
		return nil, err
	}
	return protocol.ListResourceTemplatesResult{ResourceTemplates: page, NextCursor: next}, nil
}

func (r *Router) handleReadResource(ctx context.Context, req *protocol.Request) (interface{}, error) {
	var params protocol.ReadResourceParams
	if err := decodeParams(req, &params); err != nil {
		return nil, err
	}
	if params.URI == "" {
		return nil, mcperrors.InvalidParams("uri is required")
	}
	return r.resources.ReadResource(ctx, params.URI)
}

func (r *Router) handleSubscription(req *protocol.Request) (interface{}, error) {
	var params protocol.SubscribeParams
	if err := decodeParams(req, &params); err != nil {
		return nil, err
	}
	if params.URI == "" {
		return nil, mcperrors.InvalidParams("uri is required")
	}
	if req.Method == protocol.MethodSubscribeResource {
		r.subscriptions.Subscribe(params.URI)
	} else {
		r.subscriptions.Unsubscribe(params.URI)
	}
	return protocol.EmptyResult{}, nil
}

func (r *Router) handleListPrompts(ctx context.Context, req *protocol.Request) (interface{}, error) {
	var params protocol.PaginatedParams
	if err := decodeParams(req, &params); err != nil {
		return nil, err
	}
	prompts, err := r.prompts.ListPrompts(ctx)
	if err != nil {
		return nil, err
	}
	page, next, err := paginate(prompts, params.Cursor, r.cfg.PageSize)
	if err != nil {
		return nil, err
	}
	return protocol.ListPromptsResult{Prompts: page, NextCursor: next}, nil
}

func (r *Router) handleGetPrompt(ctx context.Context, req *protocol.Request) (interface{}, error) {
	var params protocol.GetPromptParams
	if err := decodeParams(req, &params); err != nil {
		return nil, err
	}
	if params.Name == "" {
		return nil, mcperrors.InvalidParams("prompt name is required")
	}
	return r.prompts.GetPrompt(ctx, params.Name, params.Arguments)
}

func (r *Router) handleSetLogLevel(req *protocol.Request) (interface{}, error) {
	var params protocol.SetLevelParams
	if err := decodeParams(req, &params); err != nil {
		return nil, err
	}
	if !params.Level.Valid() {
		return nil, mcperrors.InvalidParams("unknown log level %q", params.Level)
	}
	r.mu.Lock()
	r.logLevel = params.Level
	r.mu.Unlock()
	return protocol.EmptyResult{}, nil
}

func (r *Router) handleComplete(ctx context.Context, req *protocol.Request) (interface{}, error) {
	var params protocol.CompleteParams
	if err := decodeParams(req, &params); err != nil {
		return nil, err
	}
	switch params.Ref.Type {
	case "ref/prompt", "ref/resource":
	default:
		return nil, mcperrors.InvalidParams("unsupported completion ref type %q", params.Ref.Type)
	}
	return r.completion.Complete(ctx, &params)
}

// HandleNotification accepts notifications/initialized and
// notifications/cancelled; everything else is ignored.
func (r *Router) HandleNotification(ctx context.Context, n *protocol.Notification) error {
	r.metrics.RecordNotification(ctx, n.Method, observability.DirectionInbound)

	switch n.Method {
	case protocol.MethodInitialized:
		r.initialized.Store(true)
		r.logger.Debug("client initialized")
	case protocol.MethodCancelled:
		var params protocol.CancelledParams
		if err := n.DecodeParams(&params); err != nil {
			return mcperrors.InvalidParams("invalid cancel params: %v", err)
		}
		key := inflightKey(ctx, params.RequestID)
		r.inflightMu.Lock()
		cancels := make([]context.CancelFunc, 0, len(r.inflight[key]))
		for _, cancel := range r.inflight[key] {
			cancels = append(cancels, cancel)
		}
		r.inflightMu.Unlock()
		for _, cancel := range cancels {
			cancel()
		}
		if len(cancels) > 0 {
			r.logger.Debug("request cancelled",
				logging.String("request_id", protocol.IDKey(params.RequestID)),
				logging.String("reason", params.Reason),
				logging.Int("calls", len(cancels)),
			)
		}
	default:
		r.logger.Debug("ignoring notification", logging.String("method", n.Method))
	}
	return nil
}
