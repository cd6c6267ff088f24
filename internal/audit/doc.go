// Package audit keeps the append-only trail of broker messages.
//
// Every inbound and outbound message produces one Record, whether it was
// processed, deduplicated, rejected or could not be classified at all
// (Unknown). Callers write through Recorder, which never fails: a lost
// audit line must not stop message processing.
package audit
