// Package index provides bitmap indexes over network link ids.
package index

import (
	"sort"

	"github.com/RoaringBitmap/roaring"
)

// LinkGroups maps group names (a bridge, a tunnel) to sets of link ids.
// It is read-only after construction and safe for concurrent use.
type LinkGroups struct {
	names  []string
	groups []*roaring.Bitmap
	all    *roaring.Bitmap
}

// NewLinkGroups builds the index. Group order is sorted by name.
func NewLinkGroups(groups map[string][]uint32) *LinkGroups {
	g := &LinkGroups{all: roaring.New()}
	for name := range groups {
		g.names = append(g.names, name)
	}
	sort.Strings(g.names)

	for _, name := range g.names {
		bm := roaring.BitmapOf(groups[name]...)
		bm.RunOptimize()
		g.groups = append(g.groups, bm)
		g.all.Or(bm)
	}
	g.all.RunOptimize()
	return g
}

// Names returns the group names in index order.
func (g *LinkGroups) Names() []string {
	return g.names
}

// Len returns the number of distinct links across all groups.
func (g *LinkGroups) Len() uint64 {
	return g.all.GetCardinality()
}

// Crosses reports whether any of links belongs to some group.
func (g *LinkGroups) Crosses(links []uint32) bool {
	for _, l := range links {
		if g.all.Contains(l) {
			return true
		}
	}
	return false
}

// Matching returns the names of the groups that links touch.
func (g *LinkGroups) Matching(links []uint32) []string {
	if len(links) == 0 || !g.Crosses(links) {
		return nil
	}
	path := roaring.BitmapOf(links...)
	var out []string
	for i, bm := range g.groups {
		if bm.Intersects(path) {
			out = append(out, g.names[i])
		}
	}
	return out
}
