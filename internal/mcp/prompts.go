package mcp

import (
	"context"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

const todoWorkflowPromptName = "todo_workflow"

func registerPrompts(mcpServer *mcp.Server) {
	for _, prompt := range PromptDefinitions() {
		mcpServer.AddPrompt(prompt, promptHandler())
	}
}

// PromptDefinitions returns MCP prompt definitions.
func PromptDefinitions() []*mcp.Prompt {
	return []*mcp.Prompt{
		{
			Name:        todoWorkflowPromptName,
			Title:       "Todo list workflow",
			Description: promptDescription,
		},
	}
}

const promptDescription = "Brief guidance for reading and changing the user's todo lists."

const promptText = "The user keeps todo lists that are shared live across their devices. " +
	"Call list_lists first to find list ids, then list_items to see what is open. " +
	"Use create_item to add, complete_item to check off (completed=false reopens), edit_item to reword and delete_item to remove. " +
	"Every change shows up on the user's other devices immediately and is recorded in list_history, so prefer completing over deleting when the user is done with something."

func promptHandler() mcp.PromptHandler {
	return func(_ context.Context, _ *mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
		return &mcp.GetPromptResult{
			Description: promptDescription,
			Messages: []*mcp.PromptMessage{
				{
					Role:    mcp.Role("user"),
					Content: &mcp.TextContent{Text: promptText},
				},
			},
		}, nil
	}
}
