// Package jobs turns configured commands into queue tasks on a schedule.
//
// Schedules are cron expressions (robfig/cron, with optional seconds and
// descriptors) or fixed intervals. Each trigger pushes the job onto the
// task queue at the job's priority; the queue decides when it runs.
package jobs
