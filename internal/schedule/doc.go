// Package schedule is kcommit's commit scheduling engine.
//
// # Overview
//
// For every onboarded user the engine lays down a daily plan: a random
// number of commit fires spread across the business-hours window
// (09:00-21:00 in the configured timezone), plus one recurring midnight
// trigger that replans the next day. Commit fires are one-shot timers;
// the midnight trigger is a cron entry. Job ids are deterministic and
// human readable ("<user>_<repo>_<i>" for fires, "<user>_daily_scheduler"
// for the trigger) so replanning can upsert instead of duplicating.
//
// # Execution
//
// The engine is trigger-only: when a timer or cron entry fires it enqueues
// a task into the task engine, which runs it on its own worker slot. A hung
// commit call therefore never blocks other users' fires.
//
// # Persistence and recovery
//
// Pending jobs are mirrored into the job store. On startup Restore re-arms
// unfired jobs, re-derives every user's midnight trigger from the user
// list, and replans today when a restart swallowed the midnight run. If
// restore itself fails, the job store is cleared and restore retried once;
// after that the service degrades to an empty schedule rather than
// crashing.
package schedule
