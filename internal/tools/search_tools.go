package tools

import "github.com/nugget/sagaforge/internal/search"

// RegisterSearchTool adds search_internet backed by mgr.
func RegisterSearchTool(r *Registry, mgr *search.Manager, confirm bool) {
	r.Register(&Tool{
		Name:                 "search_internet",
		Description:          search.ToolDescription,
		Parameters:           search.ToolParameters(),
		RequiresConfirmation: confirm,
		Handler:              search.ToolHandler(mgr),
	})
}
