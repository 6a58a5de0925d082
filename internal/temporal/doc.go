// Package temporal derives "on this day" cross references from day pages
// and aggregates them into the single index artifact.
package temporal
