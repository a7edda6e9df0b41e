package mcpadapter

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kirillkom/symptom-assistant/internal/core/domain"
	"github.com/kirillkom/symptom-assistant/internal/core/ports"
)

const (
	serverName    = "symptom-assistant"
	serverVersion = "1.0.0"
)

// OwnerResolver extracts the authenticated principal from a request context.
type OwnerResolver func(ctx context.Context) string

type Tools struct {
	submitter ports.AnalysisSubmitter
	processor ports.AnalysisProcessor
	reader    ports.AnalysisReader
	chat      ports.ChatService
	owner     OwnerResolver
}

func NewTools(
	submitter ports.AnalysisSubmitter,
	processor ports.AnalysisProcessor,
	reader ports.AnalysisReader,
	chat ports.ChatService,
	owner OwnerResolver,
) *Tools {
	if owner == nil {
		owner = func(context.Context) string { return "" }
	}
	return &Tools{submitter: submitter, processor: processor, reader: reader, chat: chat, owner: owner}
}

// MCPServer registers every tool on a fresh MCP server.
func (t *Tools) MCPServer() *server.MCPServer {
	s := server.NewMCPServer(serverName, serverVersion, server.WithToolCapabilities(false))

	s.AddTool(mcp.NewTool("submit_analysis",
		mcp.WithDescription("Submit symptoms for analysis. The record is stored as pending and enriched asynchronously."),
		mcp.WithArray("symptoms", mcp.Required(), mcp.Description("Symptoms in the order they were noticed"),
			mcp.Items(map[string]any{"type": "string"})),
		mcp.WithString("description", mcp.Description("Free-text description of the complaint")),
		mcp.WithString("age", mcp.Description("Patient age")),
		mcp.WithString("weight", mcp.Description("Patient weight")),
		mcp.WithString("gender", mcp.Description("Patient gender")),
		mcp.WithString("allergies", mcp.Description("Known allergies")),
		mcp.WithString("medications", mcp.Description("Current medications")),
	), t.submitAnalysis)

	s.AddTool(mcp.NewTool("get_analysis",
		mcp.WithDescription("Fetch one analysis with its result once enrichment is complete."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Analysis id")),
	), t.getAnalysis)

	s.AddTool(mcp.NewTool("enrich_analysis",
		mcp.WithDescription("Run enrichment now for a failed analysis, or a pending one whose queued run has stalled."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Analysis id")),
	), t.enrichAnalysis)

	s.AddTool(mcp.NewTool("medical_chat",
		mcp.WithDescription("Ask the medical assistant a question. Always returns a reply."),
		mcp.WithString("message", mcp.Required(), mcp.Description("User message")),
		mcp.WithString("language", mcp.Description("Reply language"), mcp.Enum(domain.ChatLanguages...)),
		mcp.WithArray("history", mcp.Description("Previous turns as {role, content} objects"),
			mcp.Items(map[string]any{
				"type":       "object",
				"properties": map[string]any{
					"role":    map[string]any{"type": "string"},
					"content": map[string]any{"type": "string"},
				},
			})),
	), t.medicalChat)

	return s
}

// HTTPHandler serves the tools over streamable HTTP. Tool calls run with the
// request context, so the principal attached by the router reaches them.
func (t *Tools) HTTPHandler() http.Handler {
	return server.NewStreamableHTTPServer(t.MCPServer(), server.WithStateLess(true))
}

func (t *Tools) submitAnalysis(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	result, err := t.submitter.Submit(ctx, domain.SubmitAnalysisRequest{
		OwnerID:  t.owner(ctx),
		Symptoms: req.GetStringSlice("symptoms", nil),
		PatientDetails: domain.PatientDetails{
			Description: req.GetString("description", ""),
			Age:         req.GetString("age", ""),
			Weight:      req.GetString("weight", ""),
			Gender:      req.GetString("gender", ""),
			Allergies:   req.GetString("allergies", ""),
			Medications: req.GetString("medications", ""),
		},
	})
	if err != nil {
		return toolError("submit_analysis", err), nil
	}
	return jsonResult(result)
}

func (t *Tools) getAnalysis(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	record, err := t.reader.Get(ctx, t.owner(ctx), id)
	if err != nil {
		return toolError("get_analysis", err), nil
	}
	return jsonResult(record)
}

func (t *Tools) enrichAnalysis(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	record, err := t.processor.ProcessForOwner(ctx, t.owner(ctx), id)
	if err != nil {
		return toolError("enrich_analysis", err), nil
	}
	return jsonResult(record)
}

func (t *Tools) medicalChat(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	message, err := req.RequireString("message")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	reply, err := t.chat.Reply(ctx, domain.ChatRequest{
		OwnerID:  t.owner(ctx),
		Message:  message,
		History:  historyArgument(req.GetArguments()["history"]),
		Language: req.GetString("language", ""),
	})
	if err != nil {
		return toolError("medical_chat", err), nil
	}
	return jsonResult(reply)
}

func historyArgument(raw any) []domain.ChatTurn {
	items, ok := raw.([]any)
	if !ok {
		return nil
	}
	turns := make([]domain.ChatTurn, 0, len(items))
	for _, item := range items {
		obj, ok := item.(map[string]any)
		if !ok {
			continue
		}
		role, _ := obj["role"].(string)
		content, _ := obj["content"].(string)
		turns = append(turns, domain.ChatTurn{Role: role, Content: content})
	}
	return turns
}

func toolError(tool string, err error) *mcp.CallToolResult {
	if !domain.IsKind(err, domain.ErrValidation) && !domain.IsKind(err, domain.ErrNotFound) {
		slog.Warn("mcp_tool_failed", "tool", tool, "error", err)
	}
	return mcp.NewToolResultError(err.Error())
}

func jsonResult(payload any) (*mcp.CallToolResult, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode tool result: %w", err)
	}
	return mcp.NewToolResultText(string(raw)), nil
}
