// Package catalog describes the hub's public endpoint surface. The manifest
// is embedded at build time and served verbatim to front-ends; the overview
// summarises it together with runtime stats.
package catalog

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"runtime"
	"time"
)

//go:embed manifest.json
var embedded []byte

// Param documents one query or body parameter of an endpoint.
type Param struct {
	Name        string `json:"name"`
	Required    bool   `json:"required"`
	Description string `json:"description,omitempty"`
}

// Endpoint is one entry in the manifest.
type Endpoint struct {
	Name        string  `json:"name"`
	Path        string  `json:"path"`
	Method      string  `json:"method"`
	Description string  `json:"description,omitempty"`
	Status      string  `json:"status"`
	Params      []Param `json:"params,omitempty"`
}

// Category groups related endpoints.
type Category struct {
	Name  string     `json:"name"`
	Items []Endpoint `json:"items"`
}

// Manifest is the full endpoint catalog.
type Manifest struct {
	Version    string     `json:"version"`
	Categories []Category `json:"categories"`
}

// Load parses the embedded manifest.
func Load() (*Manifest, error) {
	return Parse(embedded)
}

// Parse parses manifest data from JSON bytes.
func Parse(data []byte) (*Manifest, error) {
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parsing manifest: %w", err)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// Validate checks that the manifest has the shape front-ends expect.
func (m *Manifest) Validate() error {
	if len(m.Categories) == 0 {
		return fmt.Errorf("manifest: categories missing")
	}
	for _, c := range m.Categories {
		if c.Name == "" {
			return fmt.Errorf("manifest: category without a name")
		}
		for _, e := range c.Items {
			if e.Path == "" {
				return fmt.Errorf("manifest: endpoint %q in %q has no path", e.Name, c.Name)
			}
			if e.Method == "" {
				return fmt.Errorf("manifest: endpoint %s has no method", e.Path)
			}
		}
	}
	return nil
}

// Find returns the endpoint registered at path, or nil.
func (m *Manifest) Find(path string) *Endpoint {
	for _, c := range m.Categories {
		for i := range c.Items {
			if c.Items[i].Path == path {
				return &c.Items[i]
			}
		}
	}
	return nil
}

// Endpoints returns all endpoints across categories.
func (m *Manifest) Endpoints() []Endpoint {
	var all []Endpoint
	for _, c := range m.Categories {
		all = append(all, c.Items...)
	}
	return all
}

// EndpointStats summarises endpoint readiness.
type EndpointStats struct {
	Total    int `json:"total"`
	Active   int `json:"active"`
	Inactive int `json:"inactive"`
}

// SystemInfo reports the serving process.
type SystemInfo struct {
	Go       string `json:"go"`
	Platform string `json:"platform"`
	MemoryMB int    `json:"memory_mb"`
}

// Overview is the aggregate served at the overview endpoint.
type Overview struct {
	Status    string        `json:"status"`
	Version   string        `json:"version"`
	Uptime    string        `json:"uptime"`
	Endpoints EndpointStats `json:"endpoints"`
	System    SystemInfo    `json:"system"`
	Meta      struct {
		Source      string    `json:"source"`
		GeneratedAt time.Time `json:"generated_at"`
	} `json:"meta"`
}

// BuildOverview computes the overview from the manifest and process state.
func (m *Manifest) BuildOverview(uptime time.Duration) Overview {
	stats := EndpointStats{}
	for _, e := range m.Endpoints() {
		stats.Total++
		if e.Status == "ready" {
			stats.Active++
		}
	}
	stats.Inactive = stats.Total - stats.Active

	status := "live"
	if stats.Active < stats.Total {
		status = "degraded"
	}

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	o := Overview{
		Status:  status,
		Version: m.Version,
		Uptime:  fmt.Sprintf("%ds", int(uptime.Seconds())),
		Endpoints: EndpointStats{
			Total:    stats.Total,
			Active:   stats.Active,
			Inactive: stats.Inactive,
		},
		System: SystemInfo{
			Go:       runtime.Version(),
			Platform: runtime.GOOS,
			MemoryMB: int(mem.Sys / 1024 / 1024),
		},
	}
	o.Meta.Source = "runtime"
	o.Meta.GeneratedAt = time.Now().UTC()
	return o
}
