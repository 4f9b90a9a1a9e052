// Package housekeeping runs periodic maintenance on a cron schedule.
//
// The role cache does not expire entries on its own; the sweep registered
// with AddSweep calls EvictExpired so memory held by users who stopped
// making requests is released.
package housekeeping
