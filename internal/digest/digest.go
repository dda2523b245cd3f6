// SPDX-License-Identifier: MIT
// Copyright (c) 2025 Vladyslav Kazantsev

// Package digest computes the content hash that pins a RelVal's cached driver
// command to the inputs it was built from.
//
// Inputs are serialized with CBOR Core Deterministic Encoding (RFC 8949
// §4.2), so the same logical content always produces the same bytes, and then
// hashed with BLAKE3 in derive-key mode under a fixed context string. Only
// fields that reach the command line or the job dictionary take part:
// history, notes, status and workflow records can change freely without
// making a cached command stale.
package digest

import (
	"encoding/hex"
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"github.com/specialistvlad/relvalgo/internal/model"
	"github.com/zeebo/blake3"
)

// hashContext separates command hashes from any other BLAKE3 use.
const hashContext = "relvalgo 2025 relval command inputs v1"

var encMode cbor.EncMode

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("digest: CBOR encoder initialization failed: " + err.Error())
	}
}

// commandInputs is the hashed projection of a RelVal.
type commandInputs struct {
	ID       string       `cbor:"1,keyasint"`
	CPUCores int          `cbor:"2,keyasint"`
	MemoryMB int          `cbor:"3,keyasint"`
	Steps    []stepInputs `cbor:"4,keyasint"`
}

type stepInputs struct {
	Name         string `cbor:"1,keyasint"`
	Dataset      string `cbor:"2,keyasint,omitempty"`
	Fragment     string `cbor:"3,keyasint,omitempty"`
	Chain        bool   `cbor:"4,keyasint,omitempty"`
	GlobalTag    string `cbor:"5,keyasint,omitempty"`
	Sequence     string `cbor:"6,keyasint,omitempty"`
	Era          string `cbor:"7,keyasint,omitempty"`
	Datatier     string `cbor:"8,keyasint,omitempty"`
	EventContent string `cbor:"9,keyasint,omitempty"`
	ScramArch    string `cbor:"10,keyasint,omitempty"`
	Release      string `cbor:"11,keyasint,omitempty"`
	Events       int    `cbor:"12,keyasint,omitempty"`
	Arguments    string `cbor:"13,keyasint,omitempty"`
}

// Encode returns the canonical CBOR encoding of the command inputs of r.
func Encode(r *model.RelVal) ([]byte, error) {
	in := commandInputs{
		ID:       r.ID,
		CPUCores: r.CPUCores,
		MemoryMB: r.MemoryMB,
		Steps:    make([]stepInputs, len(r.Steps)),
	}
	for i, s := range r.Steps {
		in.Steps[i] = stepInputs{
			Name:         s.Name,
			Dataset:      s.Input.Dataset,
			Fragment:     s.Input.Fragment,
			Chain:        s.Input.Chain,
			GlobalTag:    s.GlobalTag,
			Sequence:     s.Sequence,
			Era:          s.Era,
			Datatier:     s.Datatier,
			EventContent: s.EventContent,
			ScramArch:    s.ScramArch,
			Release:      s.Release,
			Events:       s.Events,
			Arguments:    s.Arguments,
		}
	}
	data, err := encMode.Marshal(in)
	if err != nil {
		return nil, fmt.Errorf("encoding command inputs of %s: %w", r.ID, err)
	}
	return data, nil
}

// RelVal returns the hex-encoded content hash of the command inputs of r.
func RelVal(r *model.RelVal) (string, error) {
	data, err := Encode(r)
	if err != nil {
		return "", err
	}
	hasher := blake3.NewDeriveKey(hashContext)
	hasher.Write(data)
	return hex.EncodeToString(hasher.Sum(nil)), nil
}
