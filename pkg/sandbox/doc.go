// Package sandbox runs one generated program per job in a fresh, disposable
// isolate and reports what the program returned or raised.
//
// Every runtime uses the same harness: the program is written to
// workflow.py, the input to input.json, and the harness writes
// output/result.json. The isolate receives an explicit environment; nothing
// is inherited from the host. Runtimes:
//
//   - LocalRunner: a python3 subprocess in its own process group, killed as
//     a group on cancellation, with an optional RSS watchdog; it shares the
//     host's file system, so it is for development and already isolated hosts
//   - DockerRunner: a throw-away container with memory and PID limits
//   - RemoteRunner: a sandbox server (see Server) reached through an
//     Acquirer, such as a static URL or a Kubernetes SandboxClaim
//
// Run returns an error only for infrastructure failures. A program that
// raises is reported through Outcome.Err. When ctx is done, Run returns
// ctx.Err() promptly and the isolate is torn down.
package sandbox
