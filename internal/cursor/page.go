package cursor

// Page is the paginated result envelope returned by list tools. NextCursor is
// present only when the upstream returned a full page; its absence is the
// only end-of-data signal. A full final page therefore yields one extra empty
// request, which is accepted.
type Page[T any] struct {
	Items      []T    `json:"items"`
	Count      int    `json:"count"`
	NextCursor string `json:"nextCursor,omitempty"`
}

// NewPage builds a Page for items fetched at pos. Items beyond the page size
// are dropped.
func NewPage[T any](c *Codec, pos Position, items []T) (Page[T], error) {
	if len(items) > pos.PageSize {
		items = items[:pos.PageSize]
	}
	if items == nil {
		items = []T{}
	}
	page := Page[T]{Items: items, Count: len(items)}
	if len(items) == pos.PageSize {
		next, err := c.Encode(pos.Offset+len(items), pos.PageSize)
		if err != nil {
			return Page[T]{}, err
		}
		page.NextCursor = next
	}
	return page, nil
}
