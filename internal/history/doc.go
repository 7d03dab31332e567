// Package history keeps a journal of what the bridge has seen on the mesh:
// devices (with their MAC and last RSSI), entities (with their platform and
// last state) and the delivery reports for frames sent to devices.
//
// Store performs the SQL. Recorder sits in front of it with a bounded
// queue and a single worker goroutine so the bridge event loop never waits
// on disk I/O; when the queue is full new records are dropped and counted.
//
// The schema lives in the top-level migrations package.
package history
