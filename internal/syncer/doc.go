// Package syncer mirrors the source corpus into the object and relational
// stores. The Workflow lists recently updated pages against a cutoff and
// spawns one batch instance per fixed-size slice; the BatchExecutor runs a
// batch in checkpointed sub-steps, refetching only pages whose stored copy
// is older than the listing reports.
package syncer
