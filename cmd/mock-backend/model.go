package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync/atomic"
)

const workflowProgram = `import asyncio
import aiohttp
import json
import os

CAPABILITY_URL = os.environ.get("FLOWGEN_CAPABILITY_URL", "")
CAPABILITY_TOKEN = os.environ.get("FLOWGEN_CAPABILITY_TOKEN", "")


async def search(query: str) -> dict:
    headers = {"Authorization": f"Bearer {CAPABILITY_TOKEN}"}
    async with aiohttp.ClientSession() as session:
        async with session.post(f"{CAPABILITY_URL}/v1/document-search",
                                json={"query": query}, headers=headers) as resp:
            return await resp.json()


async def execute_workflow(user_input: str) -> str:
    if CAPABILITY_URL and user_input.startswith("search:"):
        found = await search(user_input[len("search:"):].strip())
        return json.dumps(found)
    await asyncio.sleep(0)
    return f"Processed: {user_input}"
`

const invalidProgram = `import asyncio
import aiohttp

def run(user_input):
    return user_input
`

// invalidTrigger in a user message selects invalidProgram.
const invalidTrigger = "invalid-program"

var completionSeq atomic.Int64

func programFor(userText string) string {
	code := workflowProgram
	if strings.Contains(userText, invalidTrigger) {
		code = invalidProgram
	}
	return "```python\n" + code + "```"
}

// --- Anthropic Messages API ---

type messagesRequest struct {
	Model     string `json:"model"`
	MaxTokens int    `json:"max_tokens"`
	System    string `json:"system"`
	Messages  []struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"messages"`
}

type messagesResponse struct {
	ID         string         `json:"id"`
	Type       string         `json:"type"`
	Role       string         `json:"role"`
	Model      string         `json:"model"`
	Content    []contentBlock `json:"content"`
	StopReason string         `json:"stop_reason"`
	Usage      struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

type contentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

func handleMessages(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get("x-api-key") == "" {
		writeJSON(w, http.StatusUnauthorized, map[string]any{
			"type":  "error",
			"error": map[string]string{"type": "authentication_error", "message": "x-api-key header is required"},
		})
		return
	}
	var req messagesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.Messages) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"type":  "error",
			"error": map[string]string{"type": "invalid_request_error", "message": "messages are required"},
		})
		return
	}

	text := programFor(req.Messages[len(req.Messages)-1].Content)
	resp := messagesResponse{
		ID:         fmt.Sprintf("msg_mock_%d", completionSeq.Add(1)),
		Type:       "message",
		Role:       "assistant",
		Model:      req.Model,
		Content:    []contentBlock{{Type: "text", Text: text}},
		StopReason: "end_turn",
	}
	resp.Usage.InputTokens = len(req.System) / 4
	resp.Usage.OutputTokens = len(text) / 4
	writeJSON(w, http.StatusOK, resp)
}

// --- Chat Completions API ---

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
	Stream   bool          `json:"stream"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type chatResponse struct {
	ID      string       `json:"id"`
	Object  string       `json:"object"`
	Model   string       `json:"model"`
	Choices []chatChoice `json:"choices"`
	Usage   chatUsage    `json:"usage"`
}

type chatChoice struct {
	Index        int         `json:"index"`
	Message      chatMessage `json:"message"`
	FinishReason string      `json:"finish_reason"`
}

type chatUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

func handleChatCompletions(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.Messages) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"error": map[string]string{"message": "invalid request", "type": "invalid_request_error"},
		})
		return
	}
	if req.Stream {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"error": map[string]string{"message": "streaming is not supported", "type": "invalid_request_error"},
		})
		return
	}

	last, _ := req.Messages[len(req.Messages)-1].Content.(string)
	text := programFor(last)
	writeJSON(w, http.StatusOK, chatResponse{
		ID:     fmt.Sprintf("chatcmpl-mock-%d", completionSeq.Add(1)),
		Object: "chat.completion",
		Model:  req.Model,
		Choices: []chatChoice{{
			Message:      chatMessage{Role: "assistant", Content: text},
			FinishReason: "stop",
		}},
		Usage: chatUsage{CompletionTokens: len(text) / 4, TotalTokens: len(text) / 4},
	})
}

func handleModels(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"object": "list",
		"data": []map[string]any{
			{"id": "mock-model", "object": "model", "owned_by": "mock"},
		},
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
