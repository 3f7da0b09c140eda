package storage

// Package storage persists kcommit's state: user automation targets,
// recorded commits, and the pending job rows the scheduler re-arms on
// restart.
//
// Two tiers are supported, selected explicitly via config:
//   - "sqlite": durable; pending jobs survive a restart
//   - "memory": volatile; pending jobs are lost on restart and the
//     scheduler replans from the user list
//
// There is no runtime capability probe or silent fallback between tiers.
