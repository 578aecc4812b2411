package worker

// Tool schemas for structured generation. The analyst shape is validated
// again after decoding because providers do not all enforce it.

const (
	analystTool     = "save_memo"
	recommenderTool = "recommend_memos"

	minBullets = 1
	maxBullets = 3
)

var analystSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"title": map[string]any{"type": "string"},
		"bullets": map[string]any{
			"type":     "array",
			"items":    map[string]any{"type": "string"},
			"minItems": minBullets,
			"maxItems": maxBullets,
		},
		"category": map[string]any{"type": "string"},
		"tags":     map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
	},
	"required":             []string{"title", "bullets", "category", "tags"},
	"additionalProperties": false,
}

var recommenderSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"categories": map[string]any{
			"type": "array",
			"items": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"category":  map[string]any{"type": "string"},
					"emoji":     map[string]any{"type": "string"},
					"one_liner": map[string]any{"type": "string"},
					"items": map[string]any{
						"type": "array",
						"items": map[string]any{
							"type": "object",
							"properties": map[string]any{
								"memo_id": map[string]any{"type": "string"},
								"title":   map[string]any{"type": "string"},
								"preview": map[string]any{"type": "string"},
								"hook":    map[string]any{"type": "string"},
								"reason":  map[string]any{"type": "string"},
								"tags":    map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
							},
							"required":             []string{"memo_id", "title", "preview", "hook", "reason", "tags"},
							"additionalProperties": false,
						},
					},
				},
				"required":             []string{"category", "emoji", "one_liner", "items"},
				"additionalProperties": false,
			},
		},
	},
	"required":             []string{"categories"},
	"additionalProperties": false,
}
