// Package protocol defines the JSON-RPC 2.0 envelope and the MCP payload
// shapes that the session runtime needs.
//
// The envelope types (Request, Response, Notification, Error) are in
// jsonrpc.go together with Classify, which sorts a raw inbound frame into
// request, response, notification or batch. IDKey gives request ids a
// canonical form so correlation tables can key on them.
//
// Method names live in mcp.go. Payload records in types.go are limited to
// what the client and server runtime read or produce; they are not a full
// schema of the protocol.
package protocol
