// Package runs implements the run aggregate: enrollment of cases into
// ordered slots, closing and reopening, and the append-only result log.
//
// Lifecycle:
//   - open -> closed (CloseRun) -> open (ReopenRun)
//
// Closing refreshes every slot snapshot once, each slot in its own commit.
// Repeated close or reopen calls are no-ops that return the current run.
//
// Results:
//   - SubmitResult serializes on the (run, case) pair. The same operator
//     resubmitting within the correction window overwrites their latest entry
//     instead of appending a new one.
//   - Closed runs reject submissions, deletions and resets with ErrRunClosed.
//
// Auditing:
//   - Every successful mutation emits exactly one audit event.
//   - Audit failures are logged and never fail the mutation.
package runs
