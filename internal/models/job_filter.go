package models

// JobFilter represents filter parameters for querying generation job history
type JobFilter struct {
	Kind     string `form:"kind"`   // frame, sequence
	Status   string `form:"status"` // pending, running, succeeded, failed, canceled
	Page     int    `form:"page"`
	PageSize int    `form:"pageSize"`
}

// Normalize clamps paging to sane values and returns limit and offset
func (f JobFilter) Normalize() (limit, offset int) {
	page, size := f.Page, f.PageSize
	if page < 1 {
		page = 1
	}
	if size <= 0 {
		size = 50
	}
	if size > 500 {
		size = 500
	}
	return size, (page - 1) * size
}
