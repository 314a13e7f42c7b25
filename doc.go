// Package webx provides an A2A-native web extraction agent host.
//
// webx pairs an OpenRouter-backed language model with MCP-launched
// extraction tools and a persistent memory layer, and serves the result
// over the A2A (Agent-to-Agent) protocol: JSON-RPC over HTTP, with an
// optional gRPC listener.
//
// # Quick Start
//
// Install webx:
//
//	go install github.com/lsvishaal/web-extraction-agent/cmd/webx@latest
//
// Create the default configuration document and start the server:
//
//	export OPENROUTER_API_KEY=sk-or-...
//	webx config init
//	webx serve
//
// The agent card is served at /.well-known/agent-card.json and the
// JSON-RPC endpoint at /agents/web-extraction-agent. The agent
// initializes lazily on the first request: tool subprocesses are
// launched then, not at startup.
//
// # Using as Go Library
//
// Import specific packages:
//
//	import (
//	    "github.com/lsvishaal/web-extraction-agent/pkg/app"
//	    "github.com/lsvishaal/web-extraction-agent/pkg/config"
//	    "github.com/lsvishaal/web-extraction-agent/pkg/server"
//	)
//
// # Key Features
//
//   - **A2A Protocol**: Industry-standard agent communication
//   - **MCP Tools**: Extraction toolsets launched as stdio subprocesses
//   - **Persistent Memory**: Remote mem0 or an embedded local store
//   - **Runtime Configuration**: JSON document with a capability-gated
//     tool catalog, editable while the server runs
//   - **Document Extraction**: PDF, DOCX and XLSX parsing on the host
//   - **Task Persistence**: Optional SQL-backed A2A task storage
//   - **Directory Publication**: One-command registration on the bindu
//     directory
//
// # Architecture
//
// webx hosts a single public agent behind an A2A server:
//
//	Client → A2A Server → Application Context → Agent → Model + Tools
//
// All communication uses the A2A protocol, ensuring interoperability
// with other A2A-compliant systems.
//
// # License
//
// AGPL-3.0 - See LICENSE.md for details.
package webx
