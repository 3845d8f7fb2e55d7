package erp

import (
	"context"
	"fmt"

	"github.com/nexuscore/assistant/internal/mcpsession"
	"github.com/nexuscore/assistant/internal/tools"
)

// QueryOptions mirrors the D365-style object/tab query shape: named
// records are fetched by object name (never by label), per the external
// system's convention.
type QueryOptions struct {
	ObjectName string            `json:"object_name"`
	Filters    map[string]string `json:"filters,omitempty"`
	Limit      int               `json:"limit,omitempty"`
}

// Record is a single ERP object instance returned by a query.
type Record map[string]any

// QueryRecords fetches records for an object, honoring the external
// system's page-size ceiling.
func (c *Client) QueryRecords(ctx context.Context, opts QueryOptions) ([]Record, error) {
	limit := opts.Limit
	if limit <= 0 || limit > 25 {
		limit = 25
	}
	query := BuildQuery(map[string]string{
		"object": opts.ObjectName,
		"limit":  fmt.Sprintf("%d", limit),
	})

	var result struct {
		Records []Record `json:"records"`
		Limited bool     `json:"limit_hit"`
	}
	if err := c.Do(ctx, "GET", "/api/records?"+query, nil, &result); err != nil {
		return nil, err
	}
	return result.Records, nil
}

// UpdateRecord applies a field update to a single object instance.
func (c *Client) UpdateRecord(ctx context.Context, objectName, recordID string, fields map[string]any) (Record, error) {
	var result Record
	path := fmt.Sprintf("/api/records/%s/%s", objectName, recordID)
	if err := c.Do(ctx, "PATCH", path, fields, &result); err != nil {
		return nil, err
	}
	return result, nil
}

// Registrar binds a Client as stateful tool descriptors in the tool
// registry, merging the caller's MCP session kwargs (chat/user/form
// context) into every call per the session kwargs contract.
type Registrar struct {
	Client   *Client
	Sessions *mcpsession.Manager
	ChatID   string
	Server   string
}

// RegisterQueryTool registers "erp_query_records" as a decorator-sourced,
// stateful tool descriptor.
func (r *Registrar) RegisterQueryTool(registry *tools.Registry) {
	registry.RegisterDecorator(tools.Descriptor{
		Name:        "erp_query_records",
		Description: "Query ERP object records by name with optional filters.",
		Tags:        []string{"erp", "read"},
		Run: func(ctx context.Context, args map[string]any) (string, error) {
			objectName, _ := args["object_name"].(string)
			if objectName == "" {
				return "", fmt.Errorf("erp_query_records: object_name is required")
			}
			records, err := r.Client.QueryRecords(ctx, QueryOptions{ObjectName: objectName})
			if err != nil {
				return "", err
			}
			return fmt.Sprintf("%d record(s) for %s", len(records), objectName), nil
		},
	})
}
