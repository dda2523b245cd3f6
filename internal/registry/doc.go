// Package registry owns the catalog of step templates that partially
// specified steps are resolved against.
//
// The catalog is declared in HCL. Each `campaign` block carries the software
// environment shared by every step of that campaign (release, architecture,
// global tag, era) and a set of named `template` blocks describing the
// default processing of one step type:
//
//	campaign "2025_RelVal" {
//	  release    = "CMSSW_14_0_0"
//	  scram_arch = "el8_amd64_gcc12"
//	  global_tag = "140X_mcRun3_2024_realistic_v1"
//	  era        = "Run3_2024"
//
//	  resources {
//	    cpu_cores = 8
//	    memory    = 16000
//	  }
//
//	  template "GEN-SIM" {
//	    sequence      = "GEN,SIM"
//	    datatier      = "GEN-SIM"
//	    event_content = "RAWSIM"
//	    events        = 100
//	  }
//	}
//
// The Registry publishes immutable Catalog snapshots. A reload parses the
// files into a brand-new Catalog and swaps the pointer, so a caller that took
// a snapshot keeps resolving every step of one RelVal against the same
// catalog version even if a reload happens halfway through.
package registry
