// Package mcp exposes read-only copdesk tools over the Model Context
// Protocol so LLM clients can inspect readiness, versions, and the audit
// trail. Every mutation stays behind the authenticated HTTP API.
package mcp

import (
	"context"
	"encoding/json"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/larkspur/copdesk/internal/cop"
	"github.com/larkspur/copdesk/internal/db"
)

// NewServer creates an MCPServer with the copdesk inspection tools
// registered.
func NewServer(database *db.DB) *server.MCPServer {
	srv := server.NewMCPServer(
		"copdesk",
		"0.1.0",
		server.WithToolCapabilities(true),
	)

	registerGetCandidate(srv, database)
	registerListCandidates(srv, database)
	registerCandidateReadiness(srv, database)
	registerListVersions(srv, database)
	registerGetVersion(srv, database)
	registerAuditTrail(srv, database)

	return srv
}

// --- get_candidate ---

func registerGetCandidate(srv *server.MCPServer, database *db.DB) {
	schema, _ := json.Marshal(map[string]any{
		"type": "object",
		"properties": map[string]any{
			"candidate_id": map[string]string{"type": "string", "description": "Candidate ID to retrieve"},
		},
		"required": []string{"candidate_id"},
	})
	tool := mcp.NewToolWithRawSchema("get_candidate", "Retrieve a COP candidate with its verifications, conflicts, and overrides", schema)

	srv.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := req.GetArguments()
		c, err := database.GetCandidate(stringArg(args, "candidate_id"))
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return jsonResult(c)
	})
}

// --- list_candidates ---

func registerListCandidates(srv *server.MCPServer, database *db.DB) {
	schema, _ := json.Marshal(map[string]any{
		"type": "object",
		"properties": map[string]any{
			"status": map[string]string{"type": "string", "description": "Optional lifecycle filter: active, published, merged"},
			"limit":  map[string]any{"type": "integer", "description": "Max results", "default": 20},
		},
	})
	tool := mcp.NewToolWithRawSchema("list_candidates", "List COP candidates, most recently updated first", schema)

	srv.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := req.GetArguments()
		list, err := database.ListCandidates(stringArg(args, "status"), intArg(args, "limit", 20))
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return jsonResult(map[string]any{"candidates": list, "count": len(list)})
	})
}

// --- candidate_readiness ---

func registerCandidateReadiness(srv *server.MCPServer, database *db.DB) {
	schema, _ := json.Marshal(map[string]any{
		"type": "object",
		"properties": map[string]any{
			"candidate_id": map[string]string{"type": "string", "description": "Candidate ID to evaluate"},
		},
		"required": []string{"candidate_id"},
	})
	tool := mcp.NewToolWithRawSchema("candidate_readiness", "Evaluate a candidate's readiness state, missing fields, blocking issues, and recommended next action", schema)

	srv.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := req.GetArguments()
		c, err := database.GetCandidate(stringArg(args, "candidate_id"))
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return jsonResult(cop.EvaluateReadiness(c))
	})
}

// --- list_versions ---

func registerListVersions(srv *server.MCPServer, database *db.DB) {
	schema, _ := json.Marshal(map[string]any{
		"type": "object",
		"properties": map[string]any{
			"limit": map[string]any{"type": "integer", "description": "Max results", "default": 20},
		},
	})
	tool := mcp.NewToolWithRawSchema("list_versions", "List published COP update versions, newest first", schema)

	srv.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := req.GetArguments()
		versions, err := database.ListVersions(intArg(args, "limit", 20))
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return jsonResult(map[string]any{"versions": versions, "count": len(versions)})
	})
}

// --- get_version ---

func registerGetVersion(srv *server.MCPServer, database *db.DB) {
	schema, _ := json.Marshal(map[string]any{
		"type": "object",
		"properties": map[string]any{
			"version_id": map[string]string{"type": "string", "description": "Version ID to retrieve"},
		},
		"required": []string{"version_id"},
	})
	tool := mcp.NewToolWithRawSchema("get_version", "Retrieve a published version with its frozen candidate snapshots", schema)

	srv.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := req.GetArguments()
		v, err := database.GetVersion(stringArg(args, "version_id"))
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return jsonResult(v)
	})
}

// --- audit_trail ---

func registerAuditTrail(srv *server.MCPServer, database *db.DB) {
	schema, _ := json.Marshal(map[string]any{
		"type": "object",
		"properties": map[string]any{
			"entity_type": map[string]string{"type": "string", "description": "One of: cop_candidate, conflict, override, version"},
			"entity_id":   map[string]string{"type": "string", "description": "Entity ID"},
			"limit":       map[string]any{"type": "integer", "description": "Max entries", "default": 100},
		},
		"required": []string{"entity_type", "entity_id"},
	})
	tool := mcp.NewToolWithRawSchema("audit_trail", "Retrieve an entity's audit history in chronological order", schema)

	srv.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := req.GetArguments()
		entries, err := database.AuditTrail(stringArg(args, "entity_type"), stringArg(args, "entity_id"), intArg(args, "limit", 100))
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return jsonResult(map[string]any{"entries": entries, "count": len(entries)})
	})
}

// --- helpers ---

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

func stringArg(args map[string]any, key string) string {
	v, _ := args[key].(string)
	return v
}

func intArg(args map[string]any, key string, def int) int {
	switch v := args[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	case json.Number:
		n, _ := v.Int64()
		return int(n)
	default:
		return def
	}
}
