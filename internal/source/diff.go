package source

import "xsnotifier/internal/host"

// Differ remembers the previous snapshot and reports arrivals.
//
// The first snapshot is a baseline and yields nothing. Afterwards a record
// is new when its id was absent from the immediately preceding snapshot, so
// an id that disappears for one poll and comes back counts again.
type Differ struct {
	prev     map[host.ID]struct{}
	baseline bool
}

// Next records snap as the latest snapshot and returns its new records in
// snapshot order.
func (d *Differ) Next(snap []host.Record) []host.Record {
	cur := make(map[host.ID]struct{}, len(snap))
	var fresh []host.Record
	for _, rec := range snap {
		if _, dup := cur[rec.ID]; dup {
			continue
		}
		cur[rec.ID] = struct{}{}
		if !d.baseline {
			continue
		}
		if _, seen := d.prev[rec.ID]; !seen {
			fresh = append(fresh, rec)
		}
	}
	d.prev = cur
	d.baseline = true
	return fresh
}
