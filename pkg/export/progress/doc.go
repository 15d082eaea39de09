// Package progress holds the in-memory progress snapshots of export jobs and
// fans updates out to real-time subscribers.
//
// The tracker is a fast read path and a push channel; the job store remains
// the source of truth. Snapshots of terminal jobs are retired by Sweep after
// the configured retention window, which also ends their subscriptions.
//
// Example:
//
//	tracker := progress.NewTracker(progress.DefaultConfig())
//	go tracker.Run(ctx)
//
//	tracker.Subscribe(jobID, connID, func(id string, s export.Snapshot) error {
//	    return conn.Send(id, s)
//	})
//	tracker.Update(jobID, export.Snapshot{Status: export.StatusProcessing, Progress: 10})
package progress
