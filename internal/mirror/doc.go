// Package mirror defines the domain types shared by the sync, extraction,
// aggregation and notification subsystems, along with the store and source
// interfaces they are wired through.
//
// Two stores back the mirror. The object store holds one JSON document per
// source page under "{sourceId}.json" plus the aggregated on-this-day index;
// each page document carries an "updated" metadata field so freshness can be
// checked without downloading the body. The relational store holds page rows
// keyed by source id, the derived temporal cross references, and the three
// classification tables consulted by the notifier.
package mirror
