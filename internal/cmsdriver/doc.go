// Package cmsdriver converts a RelVal's resolved steps into the driver
// command line and the per-step job dictionary consumed by the submission
// system.
//
// Step i (1-based) of a RelVal always writes file:<RelValID>_step<i>.root and
// its configuration to <RelValID>_<i>_cfg.py. A chained step reads the file of
// the step right before it, which is the only way steps reference each other.
// Tokens are emitted in a fixed order, so identical RelVal content always
// yields byte-identical commands.
package cmsdriver
