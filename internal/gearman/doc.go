// Package gearman is the job-level API on top of internal/client.
//
// Client submits jobs (foreground, background, three priorities), follows
// foreground jobs through their WORK_* notifications and queries job status.
// Worker announces functions, grabs assignments, sleeps until woken by NOOP
// and reports progress and results.
//
// Notifications are routed by job handle. A WORK_* frame can arrive before
// Submit has seen JOB_CREATED's handle; such frames are held until the job
// is claimed.
package gearman
