package server

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/UpperMoon0/Echo/internal/recognizer"
)

func postRPC(t *testing.T, s *Server, body string) rpcResponse {
	t.Helper()

	req := httptest.NewRequest(http.MethodPost, "/v1/mcp", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	rec := serve(s, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp rpcResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to parse JSON-RPC response: %v", err)
	}

	return resp
}

func TestMCPInitialize(t *testing.T) {
	s := newTestServer(t, &fakeTranscriber{})

	resp := postRPC(t, s, `{"jsonrpc": "2.0", "id": 1, "method": "initialize"}`)

	if resp.Error != nil {
		t.Fatalf("Expected no error, got %v", resp.Error)
	}

	result, ok := resp.Result.(map[string]interface{})
	if !ok {
		t.Fatalf("Expected object result, got %T", resp.Result)
	}

	if result["protocolVersion"] != "2024-11-05" {
		t.Errorf("Expected protocol version 2024-11-05, got %v", result["protocolVersion"])
	}

	serverInfo, ok := result["serverInfo"].(map[string]interface{})
	if !ok {
		t.Fatal("Expected serverInfo object")
	}

	if serverInfo["name"] != "echo-mcp" {
		t.Errorf("Expected server name echo-mcp, got %v", serverInfo["name"])
	}

	if serverInfo["version"] != "1.0.0" {
		t.Errorf("Expected server version 1.0.0, got %v", serverInfo["version"])
	}
}

func TestMCPToolsList(t *testing.T) {
	s := newTestServer(t, &fakeTranscriber{})

	resp := postRPC(t, s, `{"jsonrpc": "2.0", "id": 2, "method": "tools/list"}`)

	if resp.Error != nil {
		t.Fatalf("Expected no error, got %v", resp.Error)
	}

	result, ok := resp.Result.(map[string]interface{})
	if !ok {
		t.Fatalf("Expected object result, got %T", resp.Result)
	}

	tools, ok := result["tools"].([]interface{})
	if !ok || len(tools) != 1 {
		t.Fatalf("Expected exactly 1 tool, got %v", result["tools"])
	}

	tool, ok := tools[0].(map[string]interface{})
	if !ok {
		t.Fatal("Expected tool object")
	}

	if tool["name"] != "speech_to_text" {
		t.Errorf("Expected tool speech_to_text, got %v", tool["name"])
	}

	schema, ok := tool["inputSchema"].(map[string]interface{})
	if !ok {
		t.Fatal("Expected inputSchema object")
	}

	required, ok := schema["required"].([]interface{})
	if !ok || len(required) != 1 || required[0] != "audio_data" {
		t.Errorf("Expected required [audio_data], got %v", schema["required"])
	}
}

func TestMCPToolsCall(t *testing.T) {
	transcriber := &fakeTranscriber{
		result: recognizer.Result{Text: "spoken words", Language: "en", Confidence: 0.9},
	}
	s := newTestServer(t, transcriber)

	audio := base64.StdEncoding.EncodeToString([]byte("fake wav bytes"))
	body := `{"jsonrpc": "2.0", "id": 3, "method": "tools/call", "params": {"name": "speech_to_text", "arguments": {"audio_data": "` + audio + `", "language": "en", "model_size": "small"}}}`

	resp := postRPC(t, s, body)

	if resp.Error != nil {
		t.Fatalf("Expected no error, got %v", resp.Error)
	}

	result, ok := resp.Result.(map[string]interface{})
	if !ok {
		t.Fatalf("Expected object result, got %T", resp.Result)
	}

	content, ok := result["content"].([]interface{})
	if !ok || len(content) != 1 {
		t.Fatalf("Expected 1 content item, got %v", result["content"])
	}

	item, ok := content[0].(map[string]interface{})
	if !ok || item["type"] != "text" {
		t.Fatalf("Expected text content item, got %v", content[0])
	}

	var inner recognizer.Result
	if err := json.Unmarshal([]byte(item["text"].(string)), &inner); err != nil {
		t.Fatalf("Content text is not valid JSON: %v", err)
	}

	if inner.Text != "spoken words" {
		t.Errorf("Expected transcription 'spoken words', got %q", inner.Text)
	}

	if transcriber.lastLanguage != "en" {
		t.Errorf("Expected language en passed through, got %s", transcriber.lastLanguage)
	}

	if transcriber.lastModel != "small" {
		t.Errorf("Expected model small passed through, got %s", transcriber.lastModel)
	}

	if string(transcriber.lastData) != "fake wav bytes" {
		t.Error("Expected decoded audio bytes passed through")
	}
}

func TestMCPToolsCallMissingAudio(t *testing.T) {
	s := newTestServer(t, &fakeTranscriber{})

	resp := postRPC(t, s, `{"jsonrpc": "2.0", "id": 4, "method": "tools/call", "params": {"name": "speech_to_text", "arguments": {}}}`)

	if resp.Error == nil {
		t.Fatal("Expected error for missing audio_data")
	}

	if resp.Error.Code != rpcInternalError {
		t.Errorf("Expected error code %d, got %d", rpcInternalError, resp.Error.Code)
	}
}

func TestMCPToolsCallUnknownTool(t *testing.T) {
	s := newTestServer(t, &fakeTranscriber{})

	resp := postRPC(t, s, `{"jsonrpc": "2.0", "id": 5, "method": "tools/call", "params": {"name": "text_to_speech", "arguments": {"audio_data": "eA=="}}}`)

	if resp.Error == nil {
		t.Fatal("Expected error for unknown tool")
	}

	if resp.Error.Code != rpcInternalError {
		t.Errorf("Expected error code %d, got %d", rpcInternalError, resp.Error.Code)
	}
}

func TestMCPMethodNotFound(t *testing.T) {
	s := newTestServer(t, &fakeTranscriber{})

	resp := postRPC(t, s, `{"jsonrpc": "2.0", "id": 6, "method": "resources/list"}`)

	if resp.Error == nil {
		t.Fatal("Expected error for unknown method")
	}

	if resp.Error.Code != rpcMethodNotFound {
		t.Errorf("Expected error code %d, got %d", rpcMethodNotFound, resp.Error.Code)
	}
}

func TestMCPParseError(t *testing.T) {
	s := newTestServer(t, &fakeTranscriber{})

	resp := postRPC(t, s, `{not json`)

	if resp.Error == nil {
		t.Fatal("Expected parse error")
	}

	if resp.Error.Code != rpcParseError {
		t.Errorf("Expected error code %d, got %d", rpcParseError, resp.Error.Code)
	}
}

func TestMCPInvalidRequest(t *testing.T) {
	s := newTestServer(t, &fakeTranscriber{})

	resp := postRPC(t, s, `{"id": 7, "method": "initialize"}`)

	if resp.Error == nil {
		t.Fatal("Expected invalid request error for missing jsonrpc field")
	}

	if resp.Error.Code != rpcInvalidRequest {
		t.Errorf("Expected error code %d, got %d", rpcInvalidRequest, resp.Error.Code)
	}
}
