/*
Package job implements the execution engine behind the agent: submitted shell
commands run as asynchronous jobs whose status and output live in an in-memory
registry until they expire.

A submission returns a job ID immediately; the command runs in its own
goroutine, appending each output line to the registry as the process produces
it. Readers poll the registry for status, the joined result, or a live tail of
the output, and can request cancellation of a running job. Terminal jobs are
retained for a TTL and then evicted lazily on the next submission or listing.

The deny-list applied before execution is advisory defense-in-depth against a
handful of known-destructive invocations. It is trivially bypassable and is not
a security boundary; access control is expected to happen in front of the
agent.

Job state is process-memory-resident only. Nothing survives an agent restart.
*/
package job
