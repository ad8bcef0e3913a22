// Copyright 2024-2026 Aiku AI

package bridge

import (
	"context"
	"fmt"
)

// callFunc issues one Web API request.
type callFunc func(ctx context.Context, method string, args map[string]any) (map[string]any, error)

// fetchAll pages through a cursor-paginated list method, concatenating
// response[resultField] across pages in page order. It stops when the
// response carries no next_cursor. Any page failure aborts the whole fetch
// and discards partial results: callers must treat a failure as total.
//
// The page count is bounded only by the server's own pagination; a server
// that always returns a cursor loops until ctx cancels. That is an
// external-trust assumption, not mitigated here.
func fetchAll(ctx context.Context, call callFunc, method, resultField string, base map[string]any) ([]any, error) {
	var items []any
	cursor := ""
	for {
		args := make(map[string]any, len(base)+1)
		for key, value := range base {
			args[key] = value
		}
		if cursor != "" {
			args["cursor"] = cursor
		}
		resp, err := call(ctx, method, args)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", method, err)
		}
		page, _ := resp[resultField].([]any)
		items = append(items, page...)
		cursor = nextCursor(resp)
		if cursor == "" {
			return items, nil
		}
	}
}

// nextCursor extracts response_metadata.next_cursor; empty when absent.
func nextCursor(resp map[string]any) string {
	meta, _ := resp["response_metadata"].(map[string]any)
	if meta == nil {
		return ""
	}
	cursor, _ := meta["next_cursor"].(string)
	return cursor
}
