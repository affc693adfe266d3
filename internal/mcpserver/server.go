// Package mcpserver exposes stored analyses to MCP clients as read-only tools.
package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/sirupsen/logrus"

	"github.com/codebuildervaibhav/speech-insights/internal/analysis"
	"github.com/codebuildervaibhav/speech-insights/internal/storage"
	"github.com/codebuildervaibhav/speech-insights/internal/types"
)

// Lister pages through audio records.
type Lister interface {
	List(ctx context.Context, f storage.ListFilter) ([]types.AudioRecord, int, error)
}

// Server answers tool calls from the analysis reader.
type Server struct {
	reader  *analysis.Reader
	records Lister
	log     *logrus.Entry
}

// New creates a tool server.
func New(reader *analysis.Reader, records Lister, log *logrus.Entry) *Server {
	return &Server{
		reader:  reader,
		records: records,
		log:     log.WithField("module", "mcp"),
	}
}

// MCPServer builds an MCP server with every tool registered.
func (s *Server) MCPServer(version string) *server.MCPServer {
	srv := server.NewMCPServer("speech-insights", version,
		server.WithToolCapabilities(false),
		server.WithRecovery(),
	)

	srv.AddTool(mcp.NewTool("get_full_analysis",
		mcp.WithDescription("Return an audio record with every stage result produced so far: transcript, sentiment, entities and summary."),
		mcp.WithNumber("audio_id", mcp.Required(), mcp.Description("ID of the audio record")),
	), s.handleFullAnalysis)

	srv.AddTool(mcp.NewTool("get_stage_result",
		mcp.WithDescription("Return one stage of an analysis together with its state: available, not_ready, stage_failed or pipeline_failed."),
		mcp.WithNumber("audio_id", mcp.Required(), mcp.Description("ID of the audio record")),
		mcp.WithString("stage", mcp.Required(),
			mcp.Enum(string(types.StageTranscription), string(types.StageSentiment), string(types.StageEntity), string(types.StageSummary)),
			mcp.Description("Stage to read")),
		mcp.WithString("label", mcp.Description("Entity label filter such as PERSON or ORG; entity stage only")),
	), s.handleStageResult)

	srv.AddTool(mcp.NewTool("list_recordings",
		mcp.WithDescription("List audio records, newest first."),
		mcp.WithString("status",
			mcp.Enum(string(types.StatusPending), string(types.StatusProcessing), string(types.StatusCompleted), string(types.StatusFailed)),
			mcp.Description("Only records in this status")),
		mcp.WithNumber("limit", mcp.Description("Maximum records to return, 1 to 200 (default 20)")),
	), s.handleListRecordings)

	return srv
}

func (s *Server) handleFullAnalysis(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, errResult := audioID(req)
	if errResult != nil {
		return errResult, nil
	}
	view, err := s.reader.GetFullAnalysis(ctx, id)
	if err != nil {
		return s.failure(id, err), nil
	}
	return jsonResult(view)
}

func (s *Server) handleStageResult(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, errResult := audioID(req)
	if errResult != nil {
		return errResult, nil
	}
	kind := types.StageKind(req.GetString("stage", ""))

	var (
		view any
		err  error
	)
	switch kind {
	case types.StageTranscription:
		view, err = s.reader.GetTranscript(ctx, id)
	case types.StageSentiment:
		view, err = s.reader.GetSentiment(ctx, id)
	case types.StageEntity:
		view, err = s.reader.GetEntities(ctx, id, req.GetString("label", ""))
	case types.StageSummary:
		view, err = s.reader.GetSummary(ctx, id)
	default:
		return mcp.NewToolResultError(fmt.Sprintf("unknown stage %q", kind)), nil
	}
	if err != nil {
		return s.failure(id, err), nil
	}
	return jsonResult(view)
}

func (s *Server) handleListRecordings(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	status := types.Status(req.GetString("status", ""))
	if status != "" && !status.Valid() {
		return mcp.NewToolResultError(fmt.Sprintf("unknown status %q", status)), nil
	}
	limit := req.GetInt("limit", 20)
	if limit < 1 || limit > 200 {
		return mcp.NewToolResultError("limit must be between 1 and 200"), nil
	}

	records, total, err := s.records.List(ctx, storage.ListFilter{Status: status, Limit: limit})
	if err != nil {
		s.log.WithError(err).Error("list_recordings failed")
		return mcp.NewToolResultErrorFromErr("list recordings", err), nil
	}
	return jsonResult(map[string]any{
		"items": records,
		"total": total,
	})
}

func (s *Server) failure(id int64, err error) *mcp.CallToolResult {
	if errors.Is(err, types.ErrNotFound) {
		return mcp.NewToolResultError(fmt.Sprintf("audio record %d not found", id))
	}
	s.log.WithError(err).WithField("audio_id", id).Error("tool call failed")
	return mcp.NewToolResultErrorFromErr("read analysis", err)
}

func audioID(req mcp.CallToolRequest) (int64, *mcp.CallToolResult) {
	raw, err := req.RequireFloat("audio_id")
	if err != nil {
		return 0, mcp.NewToolResultError(err.Error())
	}
	id := int64(raw)
	if id <= 0 || float64(id) != raw {
		return 0, mcp.NewToolResultError("audio_id must be a positive integer")
	}
	return id, nil
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode result: %w", err)
	}
	return mcp.NewToolResultText(string(data)), nil
}
