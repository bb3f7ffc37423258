package mcp

import (
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// KnownTypes lists all valid type names.
var KnownTypes = []string{"analysis", "label", "product", "history", "profile"}

// toolEntry pairs a tool definition with a handler factory.
type toolEntry struct {
	def     mcp.Tool
	handler func(*Handlers) server.ToolHandlerFunc
}

// toolRegistry maps tool names to their definitions and handler factories.
var toolRegistry = map[string]toolEntry{
	"analysis_start": {
		def:     analysisStartToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleAnalysisStart },
	},
	"analysis_follow_up": {
		def:     analysisFollowUpToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleAnalysisFollowUp },
	},
	"analysis_reset": {
		def:     analysisResetToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleAnalysisReset },
	},
	"analysis_get": {
		def:     analysisGetToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleAnalysisGet },
	},
	"label_extract": {
		def:     labelExtractToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleLabelExtract },
	},
	"product_search": {
		def:     productSearchToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleProductSearch },
	},
	"history_list": {
		def:     historyListToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleHistoryList },
	},
	"history_star": {
		def:     historyStarToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleHistoryStar },
	},
	"history_delete": {
		def:     historyDeleteToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleHistoryDelete },
	},
	"profile_list": {
		def:     profileListToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleProfileList },
	},
	"profile_create": {
		def:     profileCreateToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleProfileCreate },
	},
	"profile_activate": {
		def:     profileActivateToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleProfileActivate },
	},
	"profile_delete": {
		def:     profileDeleteToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleProfileDelete },
	},
}

// AllToolNames returns a list of all valid tool names.
func AllToolNames() []string {
	names := make([]string, 0, len(toolRegistry))
	for name := range toolRegistry {
		names = append(names, name)
	}
	return names
}

// ValidateDisabledTools returns a list of unknown tool names from the given list.
func ValidateDisabledTools(names []string) []string {
	unknown := make([]string, 0)
	for _, name := range names {
		if _, ok := toolRegistry[name]; !ok {
			unknown = append(unknown, name)
		}
	}
	return unknown
}

// ValidateDisabledTypes returns a list of unknown type names from the given list.
func ValidateDisabledTypes(names []string) []string {
	known := make(map[string]bool, len(KnownTypes))
	for _, t := range KnownTypes {
		known[t] = true
	}

	unknown := make([]string, 0)
	for _, name := range names {
		if !known[name] {
			unknown = append(unknown, name)
		}
	}
	return unknown
}

// GetTypeForTool extracts the type name from a tool name.
// Tool names follow the pattern "type_action" (e.g., "history_star" → "history").
func GetTypeForTool(toolName string) string {
	if idx := strings.Index(toolName, "_"); idx > 0 {
		return toolName[:idx]
	}
	return ""
}

// ExpandTypesToTools returns all tool names belonging to the given types.
func ExpandTypesToTools(types []string) []string {
	if len(types) == 0 {
		return nil
	}

	typeSet := make(map[string]bool, len(types))
	for _, t := range types {
		typeSet[t] = true
	}

	tools := make([]string, 0)
	for name := range toolRegistry {
		if typeSet[GetTypeForTool(name)] {
			tools = append(tools, name)
		}
	}
	return tools
}

// NewServer creates a new MCP server with Morsel tools registered.
// Tools listed in cfg.DisabledTools or belonging to cfg.DisabledTypes
// are excluded from registration.
func NewServer(h *Handlers, version string) *server.MCPServer {
	s := server.NewMCPServer(
		"morsel",
		version,
		server.WithToolCapabilities(true),
		server.WithRecovery(),
	)

	// Build set of disabled tools: first expand types, then add individual tools
	disabled := make(map[string]bool)
	for _, tool := range ExpandTypesToTools(h.cfg.DisabledTypes) {
		disabled[tool] = true
	}
	for _, name := range h.cfg.DisabledTools {
		disabled[name] = true
	}

	for name, entry := range toolRegistry {
		if disabled[name] {
			continue
		}
		s.AddTool(entry.def, entry.handler(h))
	}

	return s
}

// Run starts the MCP server using stdio transport.
func Run(h *Handlers, version string) error {
	return server.ServeStdio(NewServer(h, version))
}
