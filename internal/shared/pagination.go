package shared

// Page describes one offset window of a listing.
type Page struct {
	Limit   int  `json:"limit"`
	Offset  int  `json:"offset"`
	Total   int  `json:"total"`
	HasMore bool `json:"has_more"`
}

// NewPage computes listing metadata. A non-positive limit falls back to 20.
func NewPage(limit, offset, total int) Page {
	if limit <= 0 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	return Page{Limit: limit, Offset: offset, Total: total, HasMore: offset+limit < total}
}
