package generator

import "testing"

func TestClean(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{
			name: "plain code is trimmed",
			raw:  "\n\nimport asyncio\nasync def execute_workflow(x):\n    return x\n\n",
			want: "import asyncio\nasync def execute_workflow(x):\n    return x",
		},
		{
			name: "python fence",
			raw:  "Here you go:\n```python\nimport asyncio\n```\nEnjoy.",
			want: "import asyncio",
		},
		{
			name: "python fence preferred over earlier fence",
			raw:  "```bash\npip install aiohttp\n```\nThen:\n```py\nimport aiohttp\n```\n",
			want: "import aiohttp",
		},
		{
			name: "first untagged fence when no python fence",
			raw:  "```\nx = 1\n```\n```\ny = 2\n```\n",
			want: "x = 1",
		},
		{
			name: "unclosed fence runs to end",
			raw:  "```python3\nimport asyncio\nx = 1\n",
			want: "import asyncio\nx = 1",
		},
		{
			name: "crlf fences",
			raw:  "```python\r\nx = 1\r\n```\r\n",
			want: "x = 1",
		},
		{
			name: "fence markers inside strings are kept",
			raw:  "```python\ns = \"```json\"\n```\n",
			want: "s = \"```json\"",
		},
		{
			name: "sync entry point made async",
			raw:  "import asyncio\ndef execute_workflow(user_input):\n    return user_input\n",
			want: "import asyncio\nasync def execute_workflow(user_input):\n    return user_input",
		},
		{
			name: "async entry point left alone",
			raw:  "async def execute_workflow(x):\n    pass\ndef execute_workflow_helper(x):\n    pass",
			want: "async def execute_workflow(x):\n    pass\ndef execute_workflow_helper(x):\n    pass",
		},
		{
			name: "nested def not rewritten",
			raw:  "class A:\n    def execute_workflow(self):\n        pass",
			want: "class A:\n    def execute_workflow(self):\n        pass",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Clean(tt.raw); got != tt.want {
				t.Errorf("Clean() = %q, want %q", got, tt.want)
			}
		})
	}
}
