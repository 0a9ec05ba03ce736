// Package panelconf reads and rewrites 1pctl, the shell script in which the
// panel keeps its host configuration as KEY=value assignments.
//
// Lines that are not top-level assignments are kept byte for byte, so the
// script part of the file survives a rewrite untouched.
package panelconf
