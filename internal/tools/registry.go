package tools

import (
	"context"
	"sort"

	"github.com/sirupsen/logrus"

	"github.com/brandon/mailkan/internal/config"
	"github.com/brandon/mailkan/internal/kanban"
)

// Registry manages MCP tools
type Registry struct {
	config  *config.Config
	logger  *logrus.Logger
	service *kanban.Service
	tools   map[string]Tool
}

// Tool represents an MCP tool
type Tool interface {
	Name() string
	Description() string
	InputSchema() map[string]interface{}
	Execute(ctx context.Context, params map[string]interface{}) (interface{}, error)
}

// NewRegistry creates a new tool registry
func NewRegistry(cfg *config.Config, service *kanban.Service, logger *logrus.Logger) *Registry {
	reg := &Registry{
		config:  cfg,
		logger:  logger,
		service: service,
		tools:   make(map[string]Tool),
	}

	reg.registerTools()

	return reg
}

// registerTools registers all available tools
func (r *Registry) registerTools() {
	columns := r.service.Columns().Names()

	toolList := []Tool{
		&FetchAllTool{service: r.service},
		&FetchFolderTool{service: r.service, columns: columns},
		&SyncBoardTool{service: r.service},
		&MoveTool{service: r.service, columns: columns},
		&DeleteTool{service: r.service, columns: columns},
		&ArchiveTool{service: r.service},
		&BoardTool{service: r.service, columns: columns},
		&StatsTool{service: r.service},
		&SearchTool{service: r.service, defaultLimit: r.config.SearchResultLimit},
		&CacheStatusTool{service: r.service},
		&CacheClearTool{service: r.service},
		&CacheInvalidateTool{service: r.service},
		&TestConnectionTool{service: r.service},
		&EnsureFoldersTool{service: r.service},
	}

	for _, tool := range toolList {
		r.tools[tool.Name()] = tool
		r.logger.WithField("tool", tool.Name()).Debug("Registered tool")
	}

	r.logger.WithField("count", len(r.tools)).Info("Registered tools")
}

// GetTool returns a tool by name
func (r *Registry) GetTool(name string) (Tool, bool) {
	tool, exists := r.tools[name]
	return tool, exists
}

// ListTools returns all registered tools sorted by name
func (r *Registry) ListTools() []Tool {
	tools := make([]Tool, 0, len(r.tools))
	for _, tool := range r.tools {
		tools = append(tools, tool)
	}
	sort.Slice(tools, func(i, j int) bool { return tools[i].Name() < tools[j].Name() })
	return tools
}

// GetToolDefinitions returns tool definitions for MCP
func (r *Registry) GetToolDefinitions() []map[string]interface{} {
	tools := r.ListTools()
	definitions := make([]map[string]interface{}, 0, len(tools))
	for _, tool := range tools {
		definitions = append(definitions, map[string]interface{}{
			"name":        tool.Name(),
			"description": tool.Description(),
			"inputSchema": tool.InputSchema(),
		})
	}
	return definitions
}
