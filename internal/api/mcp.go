package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/openadcp/salesagent/internal/adcp"
	"github.com/openadcp/salesagent/internal/auth"
	"github.com/openadcp/salesagent/internal/inventory"
	"github.com/openadcp/salesagent/internal/lifecycle"
	"github.com/openadcp/salesagent/internal/observability"
	"github.com/openadcp/salesagent/internal/workflow"
)

// Version is injected from build metadata.
var Version = "dev"

// MCPServer exposes the sales agent tools over the MCP streamable HTTP
// transport. Discovery tools (get_products, list_authorized_properties)
// accept unauthenticated calls; everything else requires a principal token.
type MCPServer struct {
	server  *mcp.Server
	handler http.Handler

	resolver  *auth.Resolver
	engine    *lifecycle.Engine
	inventory *inventory.Engine
	tasks     *workflow.Service
	metrics   observability.MetricsRegistry
}

// NewMCPServer wires the tool surface. Task tools are registered only in
// unified mode, where buyers and publisher ops share one endpoint.
func NewMCPServer(resolver *auth.Resolver, engine *lifecycle.Engine, inv *inventory.Engine,
	tasks *workflow.Service, metrics observability.MetricsRegistry, unifiedMode bool) *MCPServer {

	s := &MCPServer{
		server: mcp.NewServer(&mcp.Implementation{
			Name:    "adcp-sales-agent",
			Version: Version,
		}, nil),
		resolver:  resolver,
		engine:    engine,
		inventory: inv,
		tasks:     tasks,
		metrics:   metrics,
	}
	s.registerTools(unifiedMode)
	s.handler = mcp.NewStreamableHTTPHandler(func(_ *http.Request) *mcp.Server {
		return s.server
	}, nil)
	return s
}

// Handler returns the HTTP transport handler mounted at /mcp.
func (s *MCPServer) Handler() http.Handler {
	return s.handler
}

type getTaskInput struct {
	TaskID string `json:"task_id" jsonschema:"workflow task identifier"`
}

type syncInventoryInput struct {
	Mode            string   `json:"mode,omitempty" jsonschema:"full, incremental, or selective (default full)"`
	Types           []string `json:"types,omitempty" jsonschema:"inventory types, required for selective mode"`
	MaxValuesPerKey int      `json:"max_values_per_key,omitempty" jsonschema:"eagerly pull up to this many values per custom targeting key"`
}

func (s *MCPServer) registerTools(unifiedMode bool) {
	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "get_products",
		Description: "Discover available advertising products, optionally filtered by brief and format",
	}, s.handleGetProducts)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "list_authorized_properties",
		Description: "List the publisher properties this agent is authorized to sell",
	}, s.handleListAuthorizedProperties)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "create_media_buy",
		Description: "Create a media buy from selected products with flight dates and budgets",
	}, s.handleCreateMediaBuy)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "update_media_buy",
		Description: "Update an existing media buy: pause, resume, reschedule, or rebudget",
	}, s.handleUpdateMediaBuy)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "sync_creatives",
		Description: "Upsert creatives into the library and assign them to packages",
	}, s.handleSyncCreatives)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "list_creatives",
		Description: "Page through the creative library with filtering and sorting",
	}, s.handleListCreatives)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "get_media_buy_delivery",
		Description: "Report delivered impressions and spend for media buys",
	}, s.handleGetMediaBuyDelivery)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "sync_inventory",
		Description: "Discover ad server inventory (ad units, placements, targeting) into the local store",
	}, s.handleSyncInventory)

	if !unifiedMode {
		return
	}

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "list_tasks",
		Description: "List human workflow tasks such as pending media buy approvals",
	}, s.handleListTasks)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "get_task",
		Description: "Get one workflow task by id",
	}, s.handleGetTask)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "complete_task",
		Description: "Resolve a workflow task (approve, reject, complete, fail)",
	}, s.handleCompleteTask)
}

func (s *MCPServer) handleGetProducts(ctx context.Context, _ *mcp.CallToolRequest, input adcp.GetProductsRequest) (*mcp.CallToolResult, any, error) {
	start := time.Now()
	rc, aerr := s.resolver.Resolve(ctx, "get_products", false)
	if aerr != nil {
		return s.errorResult("get_products", start, aerr)
	}
	resp, aerr := s.engine.GetProducts(ctx, rc, &input)
	if aerr != nil {
		return s.errorResult("get_products", start, aerr)
	}
	return s.successResult("get_products", start, resp)
}

func (s *MCPServer) handleListAuthorizedProperties(ctx context.Context, _ *mcp.CallToolRequest, input adcp.ListAuthorizedPropertiesRequest) (*mcp.CallToolResult, any, error) {
	start := time.Now()
	rc, aerr := s.resolver.Resolve(ctx, "list_authorized_properties", false)
	if aerr != nil {
		return s.errorResult("list_authorized_properties", start, aerr)
	}
	resp, aerr := s.engine.ListAuthorizedProperties(ctx, rc, &input)
	if aerr != nil {
		return s.errorResult("list_authorized_properties", start, aerr)
	}
	return s.successResult("list_authorized_properties", start, resp)
}

func (s *MCPServer) handleCreateMediaBuy(ctx context.Context, _ *mcp.CallToolRequest, input adcp.CreateMediaBuyRequest) (*mcp.CallToolResult, any, error) {
	start := time.Now()
	rc, aerr := s.resolver.Resolve(ctx, "create_media_buy", true)
	if aerr != nil {
		return s.errorResult("create_media_buy", start, aerr)
	}
	switch result := s.engine.CreateMediaBuy(ctx, rc, &input).(type) {
	case adcp.CreateMediaBuyError:
		return s.failedResult("create_media_buy", start, result)
	default:
		return s.successResult("create_media_buy", start, result)
	}
}

func (s *MCPServer) handleUpdateMediaBuy(ctx context.Context, _ *mcp.CallToolRequest, input adcp.UpdateMediaBuyRequest) (*mcp.CallToolResult, any, error) {
	start := time.Now()
	rc, aerr := s.resolver.Resolve(ctx, "update_media_buy", true)
	if aerr != nil {
		return s.errorResult("update_media_buy", start, aerr)
	}
	switch result := s.engine.UpdateMediaBuy(ctx, rc, &input).(type) {
	case adcp.UpdateMediaBuyError:
		return s.failedResult("update_media_buy", start, result)
	default:
		return s.successResult("update_media_buy", start, result)
	}
}

func (s *MCPServer) handleSyncCreatives(ctx context.Context, _ *mcp.CallToolRequest, input adcp.SyncCreativesRequest) (*mcp.CallToolResult, any, error) {
	start := time.Now()
	rc, aerr := s.resolver.Resolve(ctx, "sync_creatives", true)
	if aerr != nil {
		return s.errorResult("sync_creatives", start, aerr)
	}
	resp, aerr := s.engine.SyncCreatives(ctx, rc, &input)
	if aerr != nil {
		return s.errorResult("sync_creatives", start, aerr)
	}
	return s.successResult("sync_creatives", start, resp)
}

func (s *MCPServer) handleListCreatives(ctx context.Context, _ *mcp.CallToolRequest, input adcp.ListCreativesRequest) (*mcp.CallToolResult, any, error) {
	start := time.Now()
	rc, aerr := s.resolver.Resolve(ctx, "list_creatives", true)
	if aerr != nil {
		return s.errorResult("list_creatives", start, aerr)
	}
	resp, aerr := s.engine.ListCreatives(ctx, rc, &input)
	if aerr != nil {
		return s.errorResult("list_creatives", start, aerr)
	}
	return s.successResult("list_creatives", start, resp)
}

func (s *MCPServer) handleGetMediaBuyDelivery(ctx context.Context, _ *mcp.CallToolRequest, input adcp.GetMediaBuyDeliveryRequest) (*mcp.CallToolResult, any, error) {
	start := time.Now()
	rc, aerr := s.resolver.Resolve(ctx, "get_media_buy_delivery", true)
	if aerr != nil {
		return s.errorResult("get_media_buy_delivery", start, aerr)
	}
	resp, aerr := s.engine.GetMediaBuyDelivery(ctx, rc, &input)
	if aerr != nil {
		return s.errorResult("get_media_buy_delivery", start, aerr)
	}
	return s.successResult("get_media_buy_delivery", start, resp)
}

func (s *MCPServer) handleSyncInventory(ctx context.Context, _ *mcp.CallToolRequest, input syncInventoryInput) (*mcp.CallToolResult, any, error) {
	start := time.Now()
	rc, aerr := s.resolver.Resolve(ctx, "sync_inventory", true)
	if aerr != nil {
		return s.errorResult("sync_inventory", start, aerr)
	}
	resp, aerr := s.inventory.Sync(ctx, rc.Tenant, &inventory.Request{
		Mode:            input.Mode,
		Types:           input.Types,
		MaxValuesPerKey: input.MaxValuesPerKey,
	})
	if aerr != nil {
		return s.errorResult("sync_inventory", start, aerr)
	}
	return s.successResult("sync_inventory", start, resp)
}

func (s *MCPServer) handleListTasks(ctx context.Context, _ *mcp.CallToolRequest, input workflow.ListTasksRequest) (*mcp.CallToolResult, any, error) {
	start := time.Now()
	rc, aerr := s.resolver.Resolve(ctx, "list_tasks", true)
	if aerr != nil {
		return s.errorResult("list_tasks", start, aerr)
	}
	resp, aerr := s.tasks.ListTasks(ctx, rc, &input)
	if aerr != nil {
		return s.errorResult("list_tasks", start, aerr)
	}
	return s.successResult("list_tasks", start, resp)
}

func (s *MCPServer) handleGetTask(ctx context.Context, _ *mcp.CallToolRequest, input getTaskInput) (*mcp.CallToolResult, any, error) {
	start := time.Now()
	rc, aerr := s.resolver.Resolve(ctx, "get_task", true)
	if aerr != nil {
		return s.errorResult("get_task", start, aerr)
	}
	task, aerr := s.tasks.GetTask(ctx, rc, input.TaskID)
	if aerr != nil {
		return s.errorResult("get_task", start, aerr)
	}
	return s.successResult("get_task", start, task)
}

func (s *MCPServer) handleCompleteTask(ctx context.Context, _ *mcp.CallToolRequest, input workflow.CompleteTaskRequest) (*mcp.CallToolResult, any, error) {
	start := time.Now()
	rc, aerr := s.resolver.Resolve(ctx, "complete_task", true)
	if aerr != nil {
		return s.errorResult("complete_task", start, aerr)
	}
	task, aerr := s.tasks.CompleteTask(ctx, rc, &input)
	if aerr != nil {
		return s.errorResult("complete_task", start, aerr)
	}
	return s.successResult("complete_task", start, task)
}

func (s *MCPServer) successResult(tool string, start time.Time, v any) (*mcp.CallToolResult, any, error) {
	s.observe(tool, start, "success")
	return jsonToolResult(v, false)
}

// failedResult renders the error arm of a lifecycle result union. The failure
// is tool output, not a transport error.
func (s *MCPServer) failedResult(tool string, start time.Time, v any) (*mcp.CallToolResult, any, error) {
	s.observe(tool, start, "error")
	return jsonToolResult(v, true)
}

func (s *MCPServer) errorResult(tool string, start time.Time, aerr *adcp.Error) (*mcp.CallToolResult, any, error) {
	s.observe(tool, start, aerr.Code)
	zap.L().Debug("tool call rejected",
		zap.String("tool", tool),
		zap.String("code", aerr.Code),
		zap.String("message", aerr.Message))
	return jsonToolResult(map[string]any{"errors": []adcp.Error{*aerr}}, true)
}

func (s *MCPServer) observe(tool string, start time.Time, outcome string) {
	if s.metrics == nil {
		return
	}
	s.metrics.IncrementToolRequests(tool, outcome)
	s.metrics.RecordToolLatency(tool, time.Since(start))
}

func jsonToolResult(v any, isError bool) (*mcp.CallToolResult, any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, nil, err
	}
	return &mcp.CallToolResult{
		IsError: isError,
		Content: []mcp.Content{&mcp.TextContent{Text: string(data)}},
	}, nil, nil
}
