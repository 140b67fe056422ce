// Package mcpserver exposes the coordinator as MCP tools so an agent host can
// drive a pipeline without the HTTP bridge.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kingrea/overture/internal/eventbridge"
	"github.com/kingrea/overture/internal/logging"
	"github.com/kingrea/overture/internal/pipeline"
	"github.com/kingrea/overture/internal/recovery"
)

const serverName = "overture"

// Server registers pipeline tools on an MCP server.
type Server struct {
	mcpServer *server.MCPServer
	coord     *pipeline.Coordinator
	recoverer *recovery.Recoverer
	processor *eventbridge.Processor
	logger    logging.Logger
	clock     func() time.Time

	mu sync.Mutex
}

// New builds the tool server. version is reported to MCP clients.
func New(coord *pipeline.Coordinator, recoverer *recovery.Recoverer, version string, logger logging.Logger) *Server {
	if logger == nil {
		logger = logging.NewNop()
	}
	s := &Server{
		mcpServer: server.NewMCPServer(serverName, version, server.WithToolCapabilities(true)),
		coord:     coord,
		recoverer: recoverer,
		processor: eventbridge.NewProcessor(coord, recoverer),
		logger:    logger,
		clock:     time.Now,
	}
	s.registerTools()
	return s
}

// MCPServer returns the underlying server.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcpServer
}

// ServeStdio blocks serving MCP over stdin/stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcpServer)
}

func (s *Server) registerTools() {
	sessionArg := mcp.WithString("session_id", mcp.Required(), mcp.Description("Pipeline session id (ses-YYYYMMDD-HHMMSS-xxxxxxxx)"))
	stringList := mcp.Items(map[string]any{"type": "string"})

	s.mcpServer.AddTool(
		mcp.NewTool("pipeline_init",
			mcp.WithDescription("Create a pipeline record for an ordered list of steps"),
			mcp.WithArray("steps", mcp.Required(), stringList, mcp.Description("Step names in execution order")),
			mcp.WithString("goal", mcp.Description("What the pipeline should achieve")),
			mcp.WithString("context", mcp.Description("Background for every step")),
			mcp.WithString("workflow_id", mcp.Description("Workflow id; the configured default when empty")),
		),
		s.forward(eventbridge.TypePipelineInit),
	)
	s.mcpServer.AddTool(
		mcp.NewTool("pipeline_dispatch",
			mcp.WithDescription("Write a delegation envelope for a step and return the message for its persona"),
			sessionArg,
			mcp.WithNumber("step_index", mcp.Required(), mcp.Description("1-based step position")),
			mcp.WithString("step_name", mcp.Required(), mcp.Description("Step name used for routing")),
			mcp.WithString("task", mcp.Description("Task for the persona")),
			mcp.WithString("context", mcp.Description("Context for the persona")),
			mcp.WithArray("constraints", stringList, mcp.Description("Constraints for the persona")),
		),
		s.forward(eventbridge.TypeStepDispatch),
	)
	s.mcpServer.AddTool(
		mcp.NewTool("pipeline_outcome",
			mcp.WithDescription("Approve or reject a returned envelope"),
			sessionArg,
			mcp.WithString("decision", mcp.Required(), mcp.Enum("approve", "reject")),
			mcp.WithString("reference_id", mcp.Required(), mcp.Description("Envelope reference being reviewed")),
			mcp.WithString("reviewer", mcp.Description("Who made the decision")),
			mcp.WithString("note", mcp.Description("Reviewer note; sent to the worker on rejection")),
		),
		s.forward(eventbridge.TypeStepOutcome),
	)
	s.mcpServer.AddTool(
		mcp.NewTool("pipeline_failure",
			mcp.WithDescription("Escalate a failed step with retry, skip or abort; the action is suggested from the envelope when omitted"),
			sessionArg,
			mcp.WithNumber("step_index", mcp.Required()),
			mcp.WithString("step_name", mcp.Required()),
			mcp.WithString("action", mcp.Enum("retry", "skip", "abort")),
			mcp.WithString("reference_id", mcp.Description("Envelope the failure was observed on")),
			mcp.WithString("failure_notes"),
			mcp.WithString("task"),
			mcp.WithString("context"),
		),
		s.forward(eventbridge.TypeStepFailure),
	)
	s.mcpServer.AddTool(
		mcp.NewTool("pipeline_status",
			mcp.WithDescription("Return the current pipeline record and its resume summary"),
			sessionArg,
		),
		s.handleStatus,
	)
	s.mcpServer.AddTool(
		mcp.NewTool("pipeline_resume",
			mcp.WithDescription("Re-anchor on the pipeline record named by a resume summary"),
			sessionArg,
			mcp.WithString("workflow_id", mcp.Required()),
			mcp.WithString("current_step", mcp.Required()),
		),
		s.forward(eventbridge.TypeSessionResume),
	)
	s.mcpServer.AddTool(
		mcp.NewTool("pipeline_recover",
			mcp.WithDescription("Reconcile a pipeline record with its envelopes after a crash"),
			sessionArg,
		),
		s.forward(eventbridge.TypeSessionRecover),
	)
	s.mcpServer.AddTool(
		mcp.NewTool("pipeline_latest",
			mcp.WithDescription("Find the most recently updated active pipeline"),
		),
		s.handleLatest,
	)
}

// forward converts tool arguments into a bridge event and runs it through the
// shared processor.
func (s *Server) forward(eventType string) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args, ok := request.Params.Arguments.(map[string]any)
		if !ok {
			return mcp.NewToolResultError("Invalid arguments type"), nil
		}
		payload := make(map[string]any, len(args))
		for key, value := range args {
			payload[key] = value
		}
		sessionID, _ := payload["session_id"].(string)
		delete(payload, "session_id")
		raw, err := json.Marshal(payload)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("Invalid arguments: %v", err)), nil
		}
		evt := eventbridge.Event{
			EventID:    uuid.NewString(),
			Type:       eventType,
			ClientTime: s.clock().UTC(),
			SessionID:  sessionID,
			Payload:    raw,
		}
		evt.Normalize()
		if err := evt.Validate(); err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		evt.StampServerTime(s.clock())

		s.mu.Lock()
		result, err := s.processor.HandleEvent(evt)
		s.mu.Unlock()
		if err != nil {
			s.logger.Warn("tool failed", "tool", eventType, "session", sessionID, "error", err)
			return mcp.NewToolResultError(strings.TrimPrefix(err.Error(), "eventbridge: ")), nil
		}
		return jsonResult(result)
	}
}

func (s *Server) handleStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]any)
	if !ok {
		return mcp.NewToolResultError("Invalid arguments type"), nil
	}
	sessionID, _ := args["session_id"].(string)
	if strings.TrimSpace(sessionID) == "" {
		return mcp.NewToolResultError("Missing required parameter: session_id"), nil
	}
	rec, err := s.coord.Status(sessionID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to read pipeline: %v", err)), nil
	}
	summary, err := pipeline.SummaryOf(rec).Encode()
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	steps := make([]map[string]string, 0, len(rec.Steps))
	for _, step := range rec.Steps {
		steps = append(steps, map[string]string{"label": step.Label, "persona": step.Persona, "status": string(step.Status)})
	}
	return jsonResult(map[string]any{
		"record":  eventbridge.ViewOf(rec),
		"steps":   steps,
		"summary": string(summary),
	})
}

func (s *Server) handleLatest(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	report, err := s.recoverer.ResumeLatestActive()
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to scan sessions: %v", err)), nil
	}
	if report == nil {
		return mcp.NewToolResultText(`{"status":"none"}`), nil
	}
	return jsonResult(map[string]any{
		"status": string(report.Status),
		"record": eventbridge.ViewOf(report.Record),
	})
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to encode result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}
