package mcp

import (
	"github.com/ajitpratap0/mcp-runtime-go/pkg/client"
	"github.com/ajitpratap0/mcp-runtime-go/pkg/protocol"
	"github.com/ajitpratap0/mcp-runtime-go/pkg/server"
	"github.com/ajitpratap0/mcp-runtime-go/pkg/session"
	"github.com/ajitpratap0/mcp-runtime-go/pkg/transport"
)

// Version of the runtime
const Version = "0.1.0"

// ProtocolRevision is the MCP revision announced in initialize
const ProtocolRevision = protocol.ProtocolRevision

// These exports provide direct access to the core components
var (
	NewClient  = client.New
	NewSession = session.New

	NewServer = server.New
	NewRouter = server.NewRouter

	// NewTransport dials a client transport of the configured type
	NewTransport = transport.New

	// NewServerTransport builds a server transport of the configured type
	NewServerTransport = transport.NewServer

	NewStdioTransport = transport.NewStdioTransport
	NewHTTPTransport  = transport.NewHTTPTransport
	DialWebSocket     = transport.DialWebSocket
)

// Providers
var (
	NewInMemoryTools     = server.NewInMemoryTools
	NewInMemoryResources = server.NewInMemoryResources
	NewInMemoryPrompts   = server.NewInMemoryPrompts
)

// Server options
var (
	WithServerConfig  = server.WithConfig
	WithServerName    = server.WithName
	WithServerVersion = server.WithVersion
	WithTools         = server.WithTools
	WithResources     = server.WithResources
	WithPrompts       = server.WithPrompts
	WithCompletion    = server.WithCompletion
	WithBroker        = server.WithBroker
)

// Client options
var (
	WithClientInfo       = client.WithClientInfo
	WithTransportFactory = client.WithTransportFactory
	WithHandler          = client.WithHandler
)
