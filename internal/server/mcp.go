package server

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/UpperMoon0/Echo/internal/recognizer"
)

// JSON-RPC 2.0 error codes used by the embedded MCP endpoint
const (
	rpcParseError     = -32700
	rpcInvalidRequest = -32600
	rpcMethodNotFound = -32601
	rpcInternalError  = -32603
)

// mcpProtocolVersion is the MCP protocol revision this server speaks
const mcpProtocolVersion = "2024-11-05"

// rpcRequest is an incoming JSON-RPC 2.0 request
type rpcRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
}

// rpcResponse is an outgoing JSON-RPC 2.0 response
type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Result  interface{}     `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// toolCallParams are the parameters of a tools/call request
type toolCallParams struct {
	Name      string `json:"name"`
	Arguments struct {
		AudioData string `json:"audio_data"`
		Language  string `json:"language"`
		ModelSize string `json:"model_size"`
	} `json:"arguments"`
}

// speechToTextToolSchema describes the speech_to_text tool for tools/list
var speechToTextToolSchema = map[string]interface{}{
	"name":        "speech_to_text",
	"description": "Convert speech audio to text using Whisper. Supports multiple languages and works offline. Provide clear audio for best results.",
	"inputSchema": map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"audio_data": map[string]interface{}{
				"type":        "string",
				"description": "Base64 encoded audio data",
				"format":      "byte",
			},
			"language": map[string]interface{}{
				"type":        "string",
				"description": "Language code for transcription (e.g., en, fr, es). Auto-detect if not specified",
				"default":     "auto",
			},
			"model_size": map[string]interface{}{
				"type":        "string",
				"description": "Whisper model size: tiny, base, small, medium, large",
				"enum":        []string{"tiny", "base", "small", "medium", "large"},
				"default":     "base",
			},
		},
		"required": []string{"audio_data"},
	},
}

// handleMCP implements POST /v1/mcp: a single JSON-RPC message per HTTP
// request, the embedded MCP transport.
func (s *Server) handleMCP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxUploadSize))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "failed to read request body")
		return
	}

	var req rpcRequest
	if err := json.Unmarshal(body, &req); err != nil {
		s.writeJSON(w, http.StatusOK, rpcResponse{
			JSONRPC: "2.0",
			Error:   &rpcError{Code: rpcParseError, Message: "Parse error"},
		})
		return
	}

	if req.JSONRPC != "2.0" || req.Method == "" {
		s.writeJSON(w, http.StatusOK, rpcResponse{
			JSONRPC: "2.0",
			ID:      req.ID,
			Error:   &rpcError{Code: rpcInvalidRequest, Message: "Not a valid JSON-RPC message"},
		})
		return
	}

	s.writeJSON(w, http.StatusOK, s.dispatchRPC(r.Context(), &req))
}

// dispatchRPC routes a JSON-RPC request to its method handler
func (s *Server) dispatchRPC(ctx context.Context, req *rpcRequest) rpcResponse {
	switch req.Method {
	case "initialize":
		return rpcResponse{
			JSONRPC: "2.0",
			ID:      req.ID,
			Result: map[string]interface{}{
				"protocolVersion": mcpProtocolVersion,
				"capabilities": map[string]interface{}{
					"tools": map[string]interface{}{},
				},
				"serverInfo": map[string]interface{}{
					"name":    "echo-mcp",
					"version": "1.0.0",
				},
			},
		}

	case "tools/list":
		return rpcResponse{
			JSONRPC: "2.0",
			ID:      req.ID,
			Result: map[string]interface{}{
				"tools": []interface{}{speechToTextToolSchema},
			},
		}

	case "tools/call":
		return s.handleToolCall(ctx, req)

	default:
		return rpcResponse{
			JSONRPC: "2.0",
			ID:      req.ID,
			Error:   &rpcError{Code: rpcMethodNotFound, Message: fmt.Sprintf("Method not found: %s", req.Method)},
		}
	}
}

// handleToolCall executes the speech_to_text tool
func (s *Server) handleToolCall(ctx context.Context, req *rpcRequest) rpcResponse {
	internalError := func(msg string) rpcResponse {
		return rpcResponse{
			JSONRPC: "2.0",
			ID:      req.ID,
			Error:   &rpcError{Code: rpcInternalError, Message: msg},
		}
	}

	var params toolCallParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return internalError(fmt.Sprintf("invalid tool call parameters: %v", err))
	}

	if params.Name != "speech_to_text" {
		return internalError(fmt.Sprintf("Unknown tool: %s", params.Name))
	}

	if params.Arguments.AudioData == "" {
		return internalError("audio_data parameter is required")
	}

	data, err := base64.StdEncoding.DecodeString(params.Arguments.AudioData)
	if err != nil {
		return internalError(fmt.Sprintf("invalid base64 audio data: %v", err))
	}

	language := params.Arguments.Language
	if language == "" {
		language = recognizer.LanguageAuto
	}
	model := params.Arguments.ModelSize
	if model == "" {
		model = s.config.Recognizer.Model
	}

	result, err := s.transcriber.TranscribeFile(ctx, "audio.wav", data, language, model)
	if err != nil {
		return internalError(err.Error())
	}

	resultJSON, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return internalError(err.Error())
	}

	return rpcResponse{
		JSONRPC: "2.0",
		ID:      req.ID,
		Result: map[string]interface{}{
			"content": []interface{}{
				map[string]interface{}{
					"type": "text",
					"text": string(resultJSON),
				},
			},
		},
	}
}
