package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/brandon/mailkan/internal/email"
	"github.com/brandon/mailkan/internal/tools"
)

// JSON-RPC error codes
const (
	codeParseError     = -32700
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeInternalError  = -32603
)

// Server represents the MCP server
type Server struct {
	name    string
	version string
	logger  *logrus.Logger
	tools   *tools.Registry
	in      io.Reader
	out     io.Writer
}

// NewServer creates a new MCP server instance on stdio
func NewServer(name, version string, registry *tools.Registry, logger *logrus.Logger) *Server {
	return &Server{
		name:    name,
		version: version,
		logger:  logger,
		tools:   registry,
		in:      os.Stdin,
		out:     os.Stdout,
	}
}

// SetIO replaces the stdio transport
func (s *Server) SetIO(in io.Reader, out io.Writer) {
	s.in = in
	s.out = out
}

// Run serves requests until the input is closed or ctx is cancelled
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info("Starting MCP server with stdio transport")

	decoder := json.NewDecoder(s.in)
	encoder := json.NewEncoder(s.out)

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		var req map[string]interface{}
		if err := decoder.Decode(&req); err != nil {
			if err == io.EOF {
				return nil
			}
			s.logger.WithError(err).Error("Failed to decode request")
			if err := encoder.Encode(errorResponse(nil, codeParseError, "Parse error")); err != nil {
				return fmt.Errorf("failed to encode response: %w", err)
			}
			// the decoder cannot resync after a syntax error
			return nil
		}

		// notifications carry no id and get no response
		if _, hasID := req["id"]; !hasID {
			continue
		}

		resp := s.handleRequest(ctx, req)
		if err := encoder.Encode(resp); err != nil {
			s.logger.WithError(err).Error("Failed to encode response")
			continue
		}
	}
}

// handleRequest processes an MCP request
func (s *Server) handleRequest(ctx context.Context, req map[string]interface{}) map[string]interface{} {
	method, _ := req["method"].(string)
	id := req["id"]

	switch method {
	case "initialize":
		return resultResponse(id, map[string]interface{}{
			"protocolVersion": "2024-11-05",
			"capabilities": map[string]interface{}{
				"tools": map[string]interface{}{},
			},
			"serverInfo": map[string]interface{}{
				"name":    s.name,
				"version": s.version,
			},
		})

	case "ping":
		return resultResponse(id, map[string]interface{}{})

	case "tools/list":
		return resultResponse(id, map[string]interface{}{
			"tools": s.tools.GetToolDefinitions(),
		})

	case "tools/call":
		params, _ := req["params"].(map[string]interface{})
		toolName, _ := params["name"].(string)
		arguments, _ := params["arguments"].(map[string]interface{})
		if arguments == nil {
			arguments = map[string]interface{}{}
		}

		tool, exists := s.tools.GetTool(toolName)
		if !exists {
			return errorResponse(id, codeMethodNotFound, fmt.Sprintf("Tool not found: %s", toolName))
		}

		logger := s.logger.WithField("tool", toolName)
		result, err := tool.Execute(ctx, arguments)
		if err != nil {
			if email.IsValidationError(err) {
				logger.WithError(err).Warn("Rejected tool call")
				return errorResponse(id, codeInvalidParams, err.Error())
			}
			logger.WithError(err).Error("Tool call failed")
			return errorResponseWithData(id, codeInternalError, email.UserMessage(err), err.Error())
		}

		resultJSON, err := json.Marshal(result)
		if err != nil {
			resultJSON = []byte(fmt.Sprintf("%v", result))
		}

		return resultResponse(id, map[string]interface{}{
			"content": []map[string]interface{}{
				{
					"type": "text",
					"text": string(resultJSON),
				},
			},
		})
	}

	return errorResponse(id, codeMethodNotFound, fmt.Sprintf("Method not found: %s", method))
}

func resultResponse(id interface{}, result interface{}) map[string]interface{} {
	return map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      id,
		"result":  result,
	}
}

func errorResponse(id interface{}, code int, message string) map[string]interface{} {
	return map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      id,
		"error": map[string]interface{}{
			"code":    code,
			"message": message,
		},
	}
}

func errorResponseWithData(id interface{}, code int, message, detail string) map[string]interface{} {
	resp := errorResponse(id, code, message)
	resp["error"].(map[string]interface{})["data"] = map[string]interface{}{"detail": detail}
	return resp
}
