// Package workflow implements durable, checkpointed step execution.
//
// A workflow is a plain function that receives its input and a Steps
// capability. Each named step runs at most once to completion per instance:
// its JSON-encoded result is written to a StepLog keyed by
// (instanceID, stepName) before the next step starts. When an instance is
// re-run after a crash, completed steps return their recorded result without
// executing, and execution resumes at the first step that never finished. A
// step that was interrupted mid-flight runs again from the top, so step
// bodies must be safe to repeat.
//
// Steps inside one instance run strictly sequentially. Failed step bodies
// are retried under a RetryPolicy; once the policy gives up, the error
// propagates and the whole instance fails, leaving the log intact for a
// later resume.
package workflow
