package catalog

import "math"

// Page describes a single page of a list query: a 0-based page number
// and a strictly-positive page size. A zero Size means "unbounded",
// saturating to the maximum representable page.
type Page struct {
	Number int
	Size   int
}

// Unbounded is the default Page: the first (and only) page, sized to
// return every row.
var Unbounded = Page{Number: 0, Size: math.MaxInt32}

func (p Page) normalized() Page {
	if p.Size <= 0 {
		p.Size = math.MaxInt32
	}
	if p.Number < 0 {
		p.Number = 0
	}
	return p
}

func (p Page) offset() int {
	p = p.normalized()
	if p.Size >= math.MaxInt32/2 {
		return 0
	}
	return p.Number * p.Size
}

func (p Page) limit() int {
	return p.normalized().Size
}
