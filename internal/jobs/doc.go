// Package jobs implements background jobs for the Sect API.
//
// Jobs run independently of HTTP request handling on their own ticker and
// share a small lifecycle:
//
//	pruner := jobs.NewDailyStatPruner(jobs.DailyStatPrunerConfig{Store: store})
//	pruner.Start()
//	defer pruner.Stop()
//
// RunOnce performs a single pass synchronously and is what tests and the
// operator CLI call. Jobs log their failures and keep running.
package jobs
