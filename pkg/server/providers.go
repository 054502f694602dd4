package server

import (
	"context"
	"encoding/json"
	"sort"
	"sync"

	mcperrors "github.com/ajitpratap0/mcp-runtime-go/pkg/errors"
	"github.com/ajitpratap0/mcp-runtime-go/pkg/protocol"
	"github.com/ajitpratap0/mcp-runtime-go/pkg/utils"
)

// ToolsProvider serves tools/list and tools/call
type ToolsProvider interface {
	// ListTools returns every tool in a stable order
	ListTools(ctx context.Context) ([]protocol.Tool, error)

	// CallTool runs the named tool. An unknown name is ToolNotFound.
	CallTool(ctx context.Context, name string, args json.RawMessage) (*protocol.CallToolResult, error)
}

// ResourcesProvider serves resources/list, resources/templates/list and resources/read
type ResourcesProvider interface {
	ListResources(ctx context.Context) ([]protocol.Resource, error)
	ListResourceTemplates(ctx context.Context) ([]protocol.ResourceTemplate, error)

	// ReadResource returns the contents of uri. An unknown uri is ResourceNotFound.
	ReadResource(ctx context.Context, uri string) (*protocol.ReadResourceResult, error)
}

// PromptsProvider serves prompts/list and prompts/get
type PromptsProvider interface {
	ListPrompts(ctx context.Context) ([]protocol.Prompt, error)
	GetPrompt(ctx context.Context, name string, args map[string]string) (*protocol.GetPromptResult, error)
}

// CompletionProvider serves completion/complete
type CompletionProvider interface {
	Complete(ctx context.Context, params *protocol.CompleteParams) (*protocol.CompleteResult, error)
}

// toolLookup is implemented by providers that can describe a single tool,
// letting the router check arguments against its input schema.
type toolLookup interface {
	Tool(name string) (protocol.Tool, bool)
}

// changeNotifier is implemented by providers whose catalog can change at runtime
type changeNotifier interface {
	OnChange(fn func())
}

// catalog is the keyed, RWMutex guarded store behind the in-memory providers
type catalog[T any] struct {
	mu       sync.RWMutex
	items    map[string]T
	onChange func()
}

func newCatalog[T any]() *catalog[T] {
	return &catalog[T]{items: make(map[string]T)}
}

func (c *catalog[T]) put(key string, item T) {
	c.mu.Lock()
	c.items[key] = item
	hook := c.onChange
	c.mu.Unlock()
	if hook != nil {
		hook()
	}
}

func (c *catalog[T]) remove(key string) bool {
	c.mu.Lock()
	_, ok := c.items[key]
	delete(c.items, key)
	hook := c.onChange
	c.mu.Unlock()
	if ok && hook != nil {
		hook()
	}
	return ok
}

// update applies fn to the item under key. The hook fires when fn reports a change.
func (c *catalog[T]) update(key string, fn func(*T) bool) (found bool) {
	c.mu.Lock()
	item, ok := c.items[key]
	changed := false
	if ok {
		changed = fn(&item)
		c.items[key] = item
	}
	hook := c.onChange
	c.mu.Unlock()
	if changed && hook != nil {
		hook()
	}
	return ok
}

func (c *catalog[T]) get(key string) (T, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	item, ok := c.items[key]
	return item, ok
}

func (c *catalog[T]) len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

// sorted returns the items ordered by key so that pagination is stable
func (c *catalog[T]) sorted() []T {
	c.mu.RLock()
	keys := make([]string, 0, len(c.items))
	for k := range c.items {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]T, 0, len(keys))
	for _, k := range keys {
		out = append(out, c.items[k])
	}
	c.mu.RUnlock()
	return out
}

func (c *catalog[T]) setOnChange(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onChange = fn
}

// ToolFunc implements a tool. args is the raw arguments object.
type ToolFunc func(ctx context.Context, args json.RawMessage) (*protocol.CallToolResult, error)

type registeredTool struct {
	tool     protocol.Tool
	fn       ToolFunc
	disabled bool
}

// InMemoryTools is a ToolsProvider backed by a map
type InMemoryTools struct {
	catalog *catalog[registeredTool]
}

func NewInMemoryTools() *InMemoryTools {
	return &InMemoryTools{catalog: newCatalog[registeredTool]()}
}

// Register adds or replaces a tool
func (p *InMemoryTools) Register(tool protocol.Tool, fn ToolFunc) {
	p.catalog.put(tool.Name, registeredTool{tool: tool, fn: fn})
}

// Remove deletes a tool and reports whether it existed
func (p *InMemoryTools) Remove(name string) bool {
	return p.catalog.remove(name)
}

// Enable makes a disabled tool callable and listed again. It reports
// whether the tool exists.
func (p *InMemoryTools) Enable(name string) bool {
	return p.setDisabled(name, false)
}

// Disable hides a tool from tools/list and makes tools/call answer
// ToolNotFound until it is enabled. It reports whether the tool exists.
func (p *InMemoryTools) Disable(name string) bool {
	return p.setDisabled(name, true)
}

func (p *InMemoryTools) setDisabled(name string, disabled bool) bool {
	return p.catalog.update(name, func(rt *registeredTool) bool {
		if rt.disabled == disabled {
			return false
		}
		rt.disabled = disabled
		return true
	})
}

// Enabled reports whether name is registered and enabled
func (p *InMemoryTools) Enabled(name string) bool {
	rt, ok := p.catalog.get(name)
	return ok && !rt.disabled
}

// Tool describes an enabled tool
func (p *InMemoryTools) Tool(name string) (protocol.Tool, bool) {
	rt, ok := p.catalog.get(name)
	if !ok || rt.disabled {
		return protocol.Tool{}, false
	}
	return rt.tool, true
}

// Len counts registered tools, disabled ones included
func (p *InMemoryTools) Len() int { return p.catalog.len() }

// OnChange sets the hook called after every Register, successful Remove and
// Enable or Disable that changes a tool
func (p *InMemoryTools) OnChange(fn func()) { p.catalog.setOnChange(fn) }

func (p *InMemoryTools) ListTools(context.Context) ([]protocol.Tool, error) {
	registered := p.catalog.sorted()
	tools := make([]protocol.Tool, 0, len(registered))
	for _, rt := range registered {
		if !rt.disabled {
			tools = append(tools, rt.tool)
		}
	}
	return tools, nil
}

func (p *InMemoryTools) CallTool(ctx context.Context, name string, args json.RawMessage) (*protocol.CallToolResult, error) {
	rt, ok := p.catalog.get(name)
	if !ok || rt.disabled {
		return nil, mcperrors.ToolNotFound(name)
	}
	return rt.fn(ctx, args)
}

// AddTool registers a tool whose input schema is reflected from In. The
// arguments are decoded into In before fn runs; a decoding failure is
// InvalidParams.
func AddTool[In any](p *InMemoryTools, name, description string, fn func(ctx context.Context, in In) (*protocol.CallToolResult, error)) error {
	schema, err := utils.SchemaFor[In]()
	if err != nil {
		return mcperrors.Internal(err)
	}
	p.Register(protocol.Tool{Name: name, Description: description, InputSchema: schema},
		func(ctx context.Context, args json.RawMessage) (*protocol.CallToolResult, error) {
			var in In
			if len(args) > 0 && string(args) != "null" {
				if err := json.Unmarshal(args, &in); err != nil {
					return nil, mcperrors.InvalidParams("invalid arguments for %s: %v", name, err)
				}
			}
			return fn(ctx, in)
		})
	return nil
}

// ReadFunc produces the contents of a resource
type ReadFunc func(ctx context.Context, uri string) (*protocol.ReadResourceResult, error)

type registeredResource struct {
	resource protocol.Resource
	read     ReadFunc
}

// InMemoryResources is a ResourcesProvider backed by maps keyed by uri
type InMemoryResources struct {
	resources *catalog[registeredResource]
	templates *catalog[protocol.ResourceTemplate]
}

func NewInMemoryResources() *InMemoryResources {
	return &InMemoryResources{
		resources: newCatalog[registeredResource](),
		templates: newCatalog[protocol.ResourceTemplate](),
	}
}

// Register adds or replaces a resource read through read
func (p *InMemoryResources) Register(res protocol.Resource, read ReadFunc) {
	p.resources.put(res.URI, registeredResource{resource: res, read: read})
}

// RegisterText adds a resource with fixed text contents
func (p *InMemoryResources) RegisterText(res protocol.Resource, text string) {
	p.Register(res, func(_ context.Context, uri string) (*protocol.ReadResourceResult, error) {
		return &protocol.ReadResourceResult{Contents: []protocol.ResourceContents{{
			URI:      uri,
			MimeType: res.MimeType,
			Text:     text,
		}}}, nil
	})
}

func (p *InMemoryResources) RegisterTemplate(t protocol.ResourceTemplate) {
	p.templates.put(t.URITemplate, t)
}

func (p *InMemoryResources) Remove(uri string) bool {
	return p.resources.remove(uri)
}

func (p *InMemoryResources) RemoveTemplate(uriTemplate string) bool {
	return p.templates.remove(uriTemplate)
}

func (p *InMemoryResources) Len() int { return p.resources.len() }

// OnChange sets the hook called when resources or templates change
func (p *InMemoryResources) OnChange(fn func()) {
	p.resources.setOnChange(fn)
	p.templates.setOnChange(fn)
}

func (p *InMemoryResources) ListResources(context.Context) ([]protocol.Resource, error) {
	registered := p.resources.sorted()
	out := make([]protocol.Resource, len(registered))
	for i, r := range registered {
		out[i] = r.resource
	}
	return out, nil
}

func (p *InMemoryResources) ListResourceTemplates(context.Context) ([]protocol.ResourceTemplate, error) {
	return p.templates.sorted(), nil
}

func (p *InMemoryResources) ReadResource(ctx context.Context, uri string) (*protocol.ReadResourceResult, error) {
	r, ok := p.resources.get(uri)
	if !ok {
		return nil, mcperrors.ResourceNotFound(uri)
	}
	return r.read(ctx, uri)
}

// PromptFunc renders a prompt from its arguments
type PromptFunc func(ctx context.Context, args map[string]string) (*protocol.GetPromptResult, error)

type registeredPrompt struct {
	prompt protocol.Prompt
	render PromptFunc
}

// InMemoryPrompts is a PromptsProvider backed by a map
type InMemoryPrompts struct {
	catalog *catalog[registeredPrompt]
}

func NewInMemoryPrompts() *InMemoryPrompts {
	return &InMemoryPrompts{catalog: newCatalog[registeredPrompt]()}
}

func (p *InMemoryPrompts) Register(prompt protocol.Prompt, render PromptFunc) {
	p.catalog.put(prompt.Name, registeredPrompt{prompt: prompt, render: render})
}

func (p *InMemoryPrompts) Remove(name string) bool {
	return p.catalog.remove(name)
}

func (p *InMemoryPrompts) Len() int { return p.catalog.len() }

func (p *InMemoryPrompts) OnChange(fn func()) { p.catalog.setOnChange(fn) }

func (p *InMemoryPrompts) ListPrompts(context.Context) ([]protocol.Prompt, error) {
	registered := p.catalog.sorted()
	out := make([]protocol.Prompt, len(registered))
	for i, r := range registered {
		out[i] = r.prompt
	}
	return out, nil
}

// GetPrompt renders the named prompt. Missing required arguments are InvalidParams.
func (p *InMemoryPrompts) GetPrompt(ctx context.Context, name string, args map[string]string) (*protocol.GetPromptResult, error) {
	r, ok := p.catalog.get(name)
	if !ok {
		return nil, mcperrors.PromptNotFound(name)
	}
	for _, arg := range r.prompt.Arguments {
		if _, present := args[arg.Name]; arg.Required && !present {
			return nil, mcperrors.InvalidParams("prompt %s requires argument %q", name, arg.Name)
		}
	}
	return r.render(ctx, args)
}

// CompletionFunc adapts a function to CompletionProvider
type CompletionFunc func(ctx context.Context, params *protocol.CompleteParams) (*protocol.CompleteResult, error)

func (f CompletionFunc) Complete(ctx context.Context, params *protocol.CompleteParams) (*protocol.CompleteResult, error) {
	return f(ctx, params)
}
