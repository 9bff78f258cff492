package scan

import "sort"

// BuildQueue returns the PENDING scans, most severe first. Scans of equal
// rank keep their input order.
func BuildQueue(scans []*Scan) []*Scan {
	queue := make([]*Scan, 0, len(scans))
	for _, s := range scans {
		if s.Status == StatusPending {
			queue = append(queue, s)
		}
	}
	sort.SliceStable(queue, func(i, j int) bool {
		return queue[i].Grade().QueueRank() < queue[j].Grade().QueueRank()
	})
	return queue
}
