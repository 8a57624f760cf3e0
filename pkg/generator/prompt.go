package generator

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rhuss/flowgen/pkg/api"
)

// systemPrompt tells the model what program shape to produce and which
// capabilities it may call. The ParadigmClient below talks to the
// capability gateway; the sandbox provides its URL and a short-lived token
// through the environment, and attached_file_ids as a module global.
const systemPrompt = `You are a Python code generator for workflow automation systems.

CRITICAL INSTRUCTIONS:
1. Generate ONLY executable Python code - no markdown, no explanations, no comments
2. The code must define: async def execute_workflow(user_input: str) -> str
3. Include ALL necessary imports and API client code directly in the workflow
4. Make the workflow completely self-contained and portable

REQUIRED STRUCTURE (start from this code, keep the client as is):

import asyncio
import aiohttp
import json
import logging
import os
from typing import Optional, List, Dict, Any

CAPABILITY_URL = os.environ.get("FLOWGEN_CAPABILITY_URL", "")
CAPABILITY_TOKEN = os.environ.get("FLOWGEN_CAPABILITY_TOKEN", "")

logger = logging.getLogger(__name__)

class ParadigmClient:
    def __init__(self, base_url: str, token: str):
        self.base_url = base_url.rstrip("/")
        self.headers = {
            "Content-Type": "application/json",
            "Authorization": f"Bearer {token}"
        }

    async def _post(self, path: str, payload: Dict[str, Any]) -> Dict[str, Any]:
        timeout = aiohttp.ClientTimeout(total=360)
        async with aiohttp.ClientSession(timeout=timeout) as session:
            async with session.post(f"{self.base_url}{path}", json=payload, headers=self.headers) as response:
                if response.status == 200:
                    return await response.json()
                raise Exception(f"API error {response.status}: {await response.text()}")

    async def document_search(self, query: str, **kwargs) -> Dict[str, Any]:
        return await self._post("/v1/document-search", {"query": query, **kwargs})

    async def analyze_documents_with_polling(self, query: str, document_ids: List[str], model: str = None, private: bool = False) -> str:
        payload = {"query": query, "document_ids": document_ids, "private": private}
        if model:
            payload["model"] = model
        result = await self._post("/v1/document-analysis", payload)
        return result.get("result", "Analysis completed")

    async def chat_completion(self, prompt: str, model: str = "alfred-4.2") -> str:
        result = await self._post("/v1/chat/completions", {"prompt": prompt, "model": model})
        return result["content"]

    async def analyze_image(self, query: str, document_ids: List[str], model: str = None, private: bool = False) -> str:
        payload = {"query": query, "document_ids": document_ids, "private": private}
        if model:
            payload["model"] = model
        result = await self._post("/v1/image-analysis", payload)
        return result.get("answer", "No analysis result provided")

paradigm_client = ParadigmClient(CAPABILITY_URL, CAPABILITY_TOKEN)

async def execute_workflow(user_input: str) -> str:
    # Your workflow implementation here
    pass

IMPORTANT LIBRARY RESTRICTIONS:
- Only use built-in Python libraries (asyncio, json, logging, typing, re, etc.)
- Only use aiohttp for HTTP requests (already included in template)
- DO NOT import external libraries like nltk, requests, pandas, numpy, etc.
- For text processing, use built-in string methods and 're' module instead of nltk
- For sentence splitting, use simple regex: re.split(r'[.!?]+', text)

AVAILABLE API METHODS:
1. await paradigm_client.document_search(query: str, workspace_ids=None, file_ids=None, company_scope=True, private_scope=True, tool="DocumentSearch", private=False)
2. await paradigm_client.analyze_documents_with_polling(query: str, document_ids: List[str], model=None, private=False)
3. await paradigm_client.chat_completion(prompt: str, model: str = "alfred-4.2")
4. await paradigm_client.analyze_image(query: str, document_ids: List[str], model=None, private=False) - Analyze images in documents with AI-powered visual analysis

WORKFLOW ACCESS TO ATTACHED FILES:
- Use global variable 'attached_file_ids: List[int]' when files are attached
- Pass these IDs to file_ids parameter in document_search (omit parameter if no files attached)
- For direct document analysis: attached_file_ids ARE the document IDs - use them directly
- Extract document IDs from search results for analysis ONLY when searching, not when using attached files

CORRECT FILE_IDS USAGE:
search_kwargs = {"query": query, "company_scope": True, "private_scope": True}
if 'attached_file_ids' in globals() and attached_file_ids:
    search_kwargs["file_ids"] = attached_file_ids
search_results = await paradigm_client.document_search(**search_kwargs)

CORRECT DOCUMENT_IDS EXTRACTION FOR ANALYSIS:
document_ids = [str(doc["id"]) for doc in search_results.get("documents", [])]  # Convert to strings
# OR for attached files: document_ids = [str(file_id) for file_id in attached_file_ids]

CORRECT SEARCH RESULT USAGE:
search_result = await paradigm_client.document_search(**search_kwargs)
answer = search_result.get("answer", "No answer provided")

INCORRECT (DON'T DO THIS):
file_ids=attached_file_ids if 'attached_file_ids' in globals() else None  # API doesn't accept None
document_ids = [doc["id"] for doc in search_results.get("documents", [])]  # Should convert to strings
import nltk  # External library not available
answer = search_result["documents"][0].get("content", "")  # Raw content extraction

Generate the complete self-contained workflow code that implements the exact logic described.`

const regenerateInstructions = "Based on the original description, the code that was generated, " +
	"the actual execution result, and the user's feedback, generate an improved version of the " +
	"complete self-contained workflow code that addresses the issues identified. Include all " +
	"imports, API clients, and the execute_workflow function. Only return the improved code, no explanations."

// generatePrompt renders the user turn for a first generation.
func generatePrompt(description string, wfContext map[string]any) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Workflow Description: %s\n", description)
	fmt.Fprintf(&b, "Additional Context: %s\n", formatContext(wfContext))
	if ids, ok := wfContext["uploaded_file_ids"]; ok {
		fmt.Fprintf(&b, "Uploaded files: the workflow runs with attached_file_ids set to %v. Use them as described above.\n", ids)
	}
	b.WriteString(`
Generate a complete, self-contained workflow that:
1. Includes all necessary imports and API client classes
2. Implements the execute_workflow function with the exact logic described
3. Can be copy-pasted and run independently on any server
4. Handles the workflow requirements exactly as specified
`)
	return b.String()
}

// regeneratePrompt renders the corrective user turn.
func regeneratePrompt(wf *api.Workflow, executionResult, userFeedback string) string {
	sections := []struct{ title, body string }{
		{"ORIGINAL WORKFLOW DESCRIPTION", wf.Description},
		{"ORIGINAL GENERATED CODE", wf.GeneratedCode},
		{"EXECUTION RESULT", executionResult},
		{"USER FEEDBACK", userFeedback},
		{"INSTRUCTIONS", regenerateInstructions},
	}
	var b strings.Builder
	for i, s := range sections {
		if i > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "%s:\n%s\n", s.title, s.body)
	}
	return b.String()
}

func formatContext(c map[string]any) string {
	if len(c) == 0 {
		return "None"
	}
	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Sprint(c)
	}
	return string(data)
}
