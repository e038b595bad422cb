package common

import "sort"

// FileSizeHistogram tracks the distribution of data file sizes in a table.
// Boundaries are inclusive lower bounds, sorted ascending, first boundary 0.
type FileSizeHistogram struct {
	SortedBinBoundaries []int64 `json:"sortedBinBoundaries"`
	FileCounts          []int64 `json:"fileCounts"`
	TotalBytes          []int64 `json:"totalBytes"`
}

var defaultBinBoundaries = []int64{
	0,
	8 * 1024,
	32 * 1024,
	128 * 1024,
	1 * 1024 * 1024,
	8 * 1024 * 1024,
	32 * 1024 * 1024,
	128 * 1024 * 1024,
	256 * 1024 * 1024,
	512 * 1024 * 1024,
	1024 * 1024 * 1024,
}

func DefaultFileSizeHistogram() *FileSizeHistogram {
	bins := make([]int64, len(defaultBinBoundaries))
	copy(bins, defaultBinBoundaries)
	return &FileSizeHistogram{
		SortedBinBoundaries: bins,
		FileCounts:          make([]int64, len(bins)),
		TotalBytes:          make([]int64, len(bins)),
	}
}

func (h *FileSizeHistogram) Clone() *FileSizeHistogram {
	clone := &FileSizeHistogram{
		SortedBinBoundaries: append([]int64(nil), h.SortedBinBoundaries...),
		FileCounts:          append([]int64(nil), h.FileCounts...),
		TotalBytes:          append([]int64(nil), h.TotalBytes...),
	}
	return clone
}

func (h *FileSizeHistogram) binOf(size int64) int {
	idx := sort.Search(len(h.SortedBinBoundaries), func(i int) bool {
		return h.SortedBinBoundaries[i] > size
	})
	return idx - 1
}

func (h *FileSizeHistogram) Insert(size int64) {
	if bin := h.binOf(size); bin >= 0 {
		h.FileCounts[bin]++
		h.TotalBytes[bin] += size
	}
}

// Remove decrements the bin holding size. Underflows are clamped to zero, a
// removed file may have been inserted before the histogram existed.
func (h *FileSizeHistogram) Remove(size int64) {
	bin := h.binOf(size)
	if bin < 0 {
		return
	}
	if h.FileCounts[bin] > 0 {
		h.FileCounts[bin]--
	}
	if h.TotalBytes[bin] >= size {
		h.TotalBytes[bin] -= size
	} else {
		h.TotalBytes[bin] = 0
	}
}
