package mcp

import "github.com/modelcontextprotocol/go-sdk/mcp"

const (
	toolListLists    = "list_lists"
	toolListItems    = "list_items"
	toolCreateList   = "create_list"
	toolCreateItem   = "create_item"
	toolCompleteItem = "complete_item"
	toolEditItem     = "edit_item"
	toolDeleteItem   = "delete_item"
	toolListHistory  = "list_history"
)

func idProperty(description string) map[string]any {
	return map[string]any{
		"type":        "integer",
		"minimum":     1,
		"description": description,
	}
}

// ToolDefinitions returns the todo tool definitions.
func ToolDefinitions() []*mcp.Tool {
	return []*mcp.Tool{
		{
			Name:        toolListLists,
			Description: "List every todo list with its id, name, icon, item sort and item counts (total_items, completed_items), in the user's chosen list order.",
			InputSchema: map[string]any{
				"type":       "object",
				"properties": map[string]any{},
			},
		},
		{
			Name:        toolListItems,
			Description: "List the items of one list. Active items come first in the list's sort order. Completed items are omitted unless include_completed is true.",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"list_id": idProperty("The list to read"),
					"include_completed": map[string]any{
						"type":        "boolean",
						"description": "Also return completed items (default false)",
					},
				},
				"required": []string{"list_id"},
			},
		},
		{
			Name:        toolCreateList,
			Description: "Create a new list. The list appears on every connected device immediately.",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"name": map[string]any{
						"type":        "string",
						"description": "The list name (required, non-blank)",
					},
					"icon": map[string]any{
						"type":        "string",
						"description": "Optional icon key, lowercase letters, digits, '-' or '_' (default \"list\")",
					},
				},
				"required": []string{"name"},
			},
		},
		{
			Name:        toolCreateItem,
			Description: "Add an item to a list. Identical text is allowed; every call creates a new item. Returns the item and the list's updated counts.",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"list_id": idProperty("The list to add to"),
					"text": map[string]any{
						"type":        "string",
						"description": "The item text (required, non-blank)",
					},
				},
				"required": []string{"list_id", "text"},
			},
		},
		{
			Name:        toolCompleteItem,
			Description: "Mark an item completed, or pass completed=false to mark it active again. Setting the state it already has is a no-op.",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"id": idProperty("The item to update"),
					"completed": map[string]any{
						"type":        "boolean",
						"description": "Target state (default true)",
					},
				},
				"required": []string{"id"},
			},
		},
		{
			Name:        toolEditItem,
			Description: "Replace an item's text. The change is recorded in the list's history as \"old → new\".",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"id": idProperty("The item to edit"),
					"text": map[string]any{
						"type":        "string",
						"description": "The new text (required, non-blank)",
					},
				},
				"required": []string{"id", "text"},
			},
		},
		{
			Name:        toolDeleteItem,
			Description: "Delete an item permanently. Its history stays. Returns the deleted item so it can be recreated.",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"id": idProperty("The item to delete"),
				},
				"required": []string{"id"},
			},
		},
		{
			Name:        toolListHistory,
			Description: "Read a list's change history, oldest first. Each entry has an action (item_created, item_completed, item_uncompleted, item_deleted, item_edited, list_created), the item text at the time, whether it came from an undo, and the item's current state when it still exists.",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"list_id": idProperty("The list whose history to read"),
					"limit": map[string]any{
						"type":        "integer",
						"minimum":     1,
						"maximum":     1000,
						"description": "Return only the newest N entries (default 100)",
					},
				},
				"required": []string{"list_id"},
			},
		},
	}
}
