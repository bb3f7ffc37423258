package mcp

import "github.com/mark3labs/mcp-go/mcp"

var analysisStartToolDef = mcp.NewTool("analysis_start",
	mcp.WithDescription("Analyze a product's ingredient list and return a pass/caution/avoid verdict. "+
		"Replaces any current analysis. Give either ingredients or a product to look up."),
	mcp.WithString("ingredients", mcp.Description("Ingredient list text, verbatim from the label")),
	mcp.WithString("product_name", mcp.Description("Product name, if known")),
	mcp.WithString("product", mcp.Description("Look up a catalog product by name or brand instead of passing ingredients")),
	mcp.WithString("profile_id", mcp.Description("Dietary profile to apply (default: the active profile)")),
	mcp.WithBoolean("no_profile", mcp.Description("Analyze without any dietary profile")),
)

var analysisFollowUpToolDef = mcp.NewTool("analysis_follow_up",
	mcp.WithDescription("Ask a follow-up question about the product from the current analysis."),
	mcp.WithString("message", mcp.Required(), mcp.Description("The question")),
	mcp.WithString("profile_id", mcp.Description("Dietary profile to apply (default: the active profile)")),
	mcp.WithBoolean("no_profile", mcp.Description("Answer without any dietary profile")),
)

var analysisResetToolDef = mcp.NewTool("analysis_reset",
	mcp.WithDescription("Discard the current analysis and its conversation."),
)

var analysisGetToolDef = mcp.NewTool("analysis_get",
	mcp.WithDescription("Return the controller state and the current analysis with its conversation, if any."),
)

var labelExtractToolDef = mcp.NewTool("label_extract",
	mcp.WithDescription("Read the ingredient list from a product label photo."),
	mcp.WithString("image", mcp.Required(), mcp.Description("Base64 image data or a data: URL")),
)

var productSearchToolDef = mcp.NewTool("product_search",
	mcp.WithDescription("Search the built-in product catalog by name or brand."),
	mcp.WithString("query", mcp.Description("Case-insensitive name or brand fragment (empty lists all)")),
)

var historyListToolDef = mcp.NewTool("history_list",
	mcp.WithDescription("List saved analyses, newest first."),
	mcp.WithBoolean("starred_only", mcp.Description("Only starred analyses")),
	mcp.WithNumber("limit", mcp.Description("Max items (default 20, max 100)")),
	mcp.WithNumber("offset", mcp.Description("Items to skip")),
)

var historyStarToolDef = mcp.NewTool("history_star",
	mcp.WithDescription("Star or unstar a saved analysis. Toggles when starred is omitted."),
	mcp.WithString("id", mcp.Required(), mcp.Description("History item ID")),
	mcp.WithBoolean("starred", mcp.Description("Explicit starred value")),
)

var historyDeleteToolDef = mcp.NewTool("history_delete",
	mcp.WithDescription("Permanently delete a saved analysis."),
	mcp.WithString("id", mcp.Required(), mcp.Description("History item ID")),
)

var profileListToolDef = mcp.NewTool("profile_list",
	mcp.WithDescription("List dietary profiles and which one is active."),
)

var profileCreateToolDef = mcp.NewTool("profile_create",
	mcp.WithDescription("Create a dietary profile."),
	mcp.WithString("name", mcp.Required(), mcp.Description("Profile name (max 100 chars)")),
	mcp.WithArray("restrictions", mcp.WithStringItems(), mcp.Description("e.g. vegan, halal")),
	mcp.WithArray("allergies", mcp.WithStringItems(), mcp.Description("e.g. peanuts, milk")),
	mcp.WithArray("preferences", mcp.WithStringItems(), mcp.Description("e.g. low sugar")),
	mcp.WithBoolean("activate", mcp.Description("Make this the active profile")),
)

var profileActivateToolDef = mcp.NewTool("profile_activate",
	mcp.WithDescription("Make a profile the single active profile."),
	mcp.WithString("id", mcp.Required(), mcp.Description("Profile ID")),
)

var profileDeleteToolDef = mcp.NewTool("profile_delete",
	mcp.WithDescription("Permanently delete a profile."),
	mcp.WithString("id", mcp.Required(), mcp.Description("Profile ID")),
)
