package arangodoc

// Pagination describes the page window of a query result, shaped for
// pagination UI components.
type Pagination struct {
	// Page is the current 1-based page.
	Page int `json:"page"`

	// PerPage is the page size.
	PerPage int `json:"per_page"`

	// Count is the number of items on this page.
	Count int `json:"count"`

	// Size is the total number of matching items.
	Size int `json:"size"`

	// TotalPages is the number of pages at this page size.
	TotalPages int `json:"total_pages"`

	HasPrev  bool `json:"has_prev"`
	PrevPage int  `json:"prev_page,omitempty"`
	HasNext  bool `json:"has_next"`
	NextPage int  `json:"next_page,omitempty"`

	// PageShowingStart and PageShowingEnd are the 1-based positions of the
	// first and last items on this page ("showing 11 to 20").
	PageShowingStart int `json:"page_showing_start"`
	PageShowingEnd   int `json:"page_showing_end"`
}

// NewPagination computes the page window for a result set of size items,
// of which count are on the current page.
func NewPagination(size, count, page, perPage int) Pagination {
	if perPage < 1 {
		perPage = 10
	}

	totalPages := (size + perPage - 1) / perPage

	if page < 1 {
		page = 1
	} else if page > totalPages && totalPages > 0 {
		page = totalPages
	}

	hasPrev := page > 1 && page <= totalPages
	hasNext := page < totalPages

	offset := 0
	if page > 1 {
		offset = (page - 1) * perPage
	}

	start := offset + 1
	end := offset + count

	if totalPages == 0 {
		start, end = 0, 0
	}

	p := Pagination{
		Page:             page,
		PerPage:          perPage,
		Count:            count,
		Size:             size,
		TotalPages:       totalPages,
		HasPrev:          hasPrev,
		HasNext:          hasNext,
		PageShowingStart: start,
		PageShowingEnd:   end,
	}

	if hasPrev {
		p.PrevPage = page - 1
	}

	if hasNext {
		p.NextPage = page + 1
	}

	return p
}

// DataMapper converts a raw result document before it is yielded.
type DataMapper func(map[string]any) any

// QueryResult holds a materialized query result with its pagination state.
type QueryResult struct {
	docs   []map[string]any
	mapper DataMapper

	// Count is the number of documents in this batch.
	Count int

	// TotalCount is the unpaginated match count (the engine's fullCount).
	TotalCount int

	// Pagination is the page window computed from TotalCount.
	Pagination Pagination
}

func newQueryResult(docs []map[string]any, totalCount, page, perPage int, mapper DataMapper) *QueryResult {
	if mapper == nil {
		mapper = func(doc map[string]any) any { return doc }
	}

	return &QueryResult{
		docs:       docs,
		mapper:     mapper,
		Count:      len(docs),
		TotalCount: totalCount,
		Pagination: NewPagination(totalCount, len(docs), page, perPage),
	}
}

// Len returns the unpaginated match count.
func (r *QueryResult) Len() int {
	return r.TotalCount
}

// All iterates the batch, passing each document through the data mapper.
func (r *QueryResult) All(yield func(any) bool) {
	for _, doc := range r.docs {
		if !yield(r.mapper(doc)) {
			return
		}
	}
}

// Docs returns the raw batch documents.
func (r *QueryResult) Docs() []map[string]any {
	return r.docs
}
