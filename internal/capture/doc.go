// Package capture implements resilient frame acquisition from an RTSP
// camera stream.
//
// A StreamCapture runs two cooperating goroutines around a replaceable
// decoder session: an acquisition loop that drains the decoder at a
// fixed cadence and counts consecutive failures, and a materialization
// loop that decodes and publishes frames into a single overwrite-always
// slot. Consumers read the newest frame from the slot; there is no
// queue and no backpressure.
//
// Failures escalate in stages. Consecutive grab failures or a stalled
// materialization trigger a reconnect with exponential backoff, limited
// by a rolling-window budget. An external watchdog may force full
// stop/start restarts against a second budget. Exhausting either budget
// halts the subsystem permanently; a halted subsystem refuses to start
// again and must be recovered by a process supervisor.
package capture
