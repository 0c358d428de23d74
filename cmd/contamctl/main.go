// contamctl inspects and drives a contamd session from the command line.
//
// Usage:
//
//	contamctl inspect data/sessions/session_1/snapshots/3000.snap.zst
//	contamctl verify data/sessions/session_1/snapshots/3000.snap.zst
//	contamctl snapshots --db data/sessions/session_1/index/session.sqlite
//	contamctl audit data/sessions/session_1
//	contamctl tuning check configs/tuning.yaml
//	contamctl send --url ws://127.0.0.1:8080/v1/ws ops.json
package main

func main() {
	Execute()
}
