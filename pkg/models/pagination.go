package models

// Pagination describes one page of a larger result set.
// StartItem and EndItem are 1-based inclusive bounds, both 0 for an empty set.
type Pagination struct {
	Page      int  `json:"page"`
	PerPage   int  `json:"per_page"`
	Pages     int  `json:"pages"`
	Total     int  `json:"total"`
	HasPrev   bool `json:"has_prev"`
	HasNext   bool `json:"has_next"`
	PrevNum   int  `json:"prev_num"`
	NextNum   int  `json:"next_num"`
	StartItem int  `json:"start_item"`
	EndItem   int  `json:"end_item"`
}

// NewPagination builds the pagination block for page (clamped to >= 1).
func NewPagination(page, perPage, total int) Pagination {
	if page < 1 {
		page = 1
	}
	if perPage < 1 {
		perPage = 1
	}
	if total < 0 {
		total = 0
	}

	p := Pagination{
		Page:    page,
		PerPage: perPage,
		Total:   total,
		Pages:   (total + perPage - 1) / perPage,
		HasPrev: page > 1,
		HasNext: page*perPage < total,
		PrevNum: page - 1,
		NextNum: page + 1,
	}
	if total > 0 {
		p.StartItem = (page-1)*perPage + 1
		p.EndItem = min(page*perPage, total)
		if p.StartItem > total {
			// Past the last page
			p.StartItem, p.EndItem = 0, 0
		}
	}
	return p
}

// Offset is the number of rows to skip for this page.
func (p Pagination) Offset() int {
	return (p.Page - 1) * p.PerPage
}
