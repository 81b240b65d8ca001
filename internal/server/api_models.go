package server

import "github.com/raysh454/perfsandbox/internal/tools"

// StartRunRequest is the body of POST /runs.
type StartRunRequest struct {
	URL      string   `json:"url" example:"https://example.com"`
	Tools    []string `json:"tools" example:"LH,PSI"`
	Headless *bool    `json:"headless,omitempty" example:"true"`
}

// ToolResponse is one catalog entry of GET /tools.
type ToolResponse struct {
	Code        string `json:"code" example:"LH"`
	Name        string `json:"name" example:"Lighthouse"`
	Description string `json:"description"`
	URL         string `json:"url" example:"https://developers.google.com/web/tools/lighthouse"`
	Logo        string `json:"logo,omitempty"`
	Primary     bool   `json:"primary"`
	Runnable    bool   `json:"runnable"`
}

func toolResponse(info tools.Info, runnable bool) ToolResponse {
	return ToolResponse{
		Code:        info.Code,
		Name:        info.Name,
		Description: info.Description,
		URL:         info.URL,
		Logo:        info.Logo,
		Primary:     info.Primary,
		Runnable:    runnable,
	}
}

// ErrorResponse is a uniform error payload returned by the API.
type ErrorResponse struct {
	Error string `json:"error" example:"not found"`
}
