// Package scheduler registers named cron/interval jobs and triggers them on
// robfig/cron. A job that is still running when its next trigger fires is
// skipped, and panics are recovered and logged.
package scheduler
