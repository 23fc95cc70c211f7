package notion

import (
	"context"
	"net/http"
	"net/url"
)

const (
	pageSize     = 100
	maxTreeDepth = 8
)

// QueryDatabase fetches one page of results and returns the cursor of the
// next page, or "" when there is none.
func (c *Client) QueryDatabase(ctx context.Context, databaseID string, q Query) ([]Page, string, error) {
	if q.PageSize == 0 {
		q.PageSize = pageSize
	}
	var out pageList
	if err := c.Do(ctx, http.MethodPost, "/databases/"+url.PathEscape(databaseID)+"/query", q, &out); err != nil {
		return nil, "", err
	}
	if !out.HasMore || out.NextCursor == nil {
		return out.Results, "", nil
	}
	return out.Results, *out.NextCursor, nil
}

// QueryAll follows pagination until the database is exhausted.
func (c *Client) QueryAll(ctx context.Context, databaseID string, q Query) ([]Page, error) {
	var all []Page
	for {
		pages, next, err := c.QueryDatabase(ctx, databaseID, q)
		if err != nil {
			return nil, err
		}
		all = append(all, pages...)
		if next == "" {
			return all, nil
		}
		q.StartCursor = next
	}
}

// Page retrieves a single record.
func (c *Client) Page(ctx context.Context, id string) (Page, error) {
	var out Page
	if err := c.Do(ctx, http.MethodGet, "/pages/"+url.PathEscape(id), nil, &out); err != nil {
		return Page{}, err
	}
	return out, nil
}

// Blocks returns the direct children of a block or page.
func (c *Client) Blocks(ctx context.Context, id string) ([]Block, error) {
	var all []Block
	cursor := ""
	for {
		q := url.Values{}
		q.Set("page_size", "100")
		if cursor != "" {
			q.Set("start_cursor", cursor)
		}
		var out blockList
		path := "/blocks/" + url.PathEscape(id) + "/children?" + q.Encode()
		if err := c.Do(ctx, http.MethodGet, path, nil, &out); err != nil {
			return nil, err
		}
		all = append(all, out.Results...)
		if !out.HasMore || out.NextCursor == nil {
			return all, nil
		}
		cursor = *out.NextCursor
	}
}

// BlockTree returns the children of id with nested blocks filled in, up to a
// fixed depth.
func (c *Client) BlockTree(ctx context.Context, id string) ([]Block, error) {
	return c.blockTree(ctx, id, 1)
}

func (c *Client) blockTree(ctx context.Context, id string, depth int) ([]Block, error) {
	blocks, err := c.Blocks(ctx, id)
	if err != nil {
		return nil, err
	}
	if depth >= maxTreeDepth {
		return blocks, nil
	}
	for i := range blocks {
		if !blocks[i].HasChildren {
			continue
		}
		children, err := c.blockTree(ctx, blocks[i].ID, depth+1)
		if err != nil {
			return nil, err
		}
		blocks[i].Children = children
	}
	return blocks, nil
}
