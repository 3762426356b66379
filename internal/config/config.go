// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package config loads and validates the flat JSON parset that describes
// array layout, correlator modes, the baseline map, rank roles and the
// task pipeline for one ingestd process.
package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"github.com/radiotel/ingestd/internal/ccalog"
	"github.com/radiotel/ingestd/pkg/collective"
	"github.com/radiotel/ingestd/pkg/ingesterr"
	"github.com/radiotel/ingestd/pkg/natsconn"
)

// Antenna is one element of the array as described by the parset.
type Antenna struct {
	Name     string     `json:"name"`
	ITRF     [3]float64 `json:"itrf"`
	Diameter float64    `json:"diameter"`
	Mount    string     `json:"mount"`
}

// CorrelatorMode describes one named correlator configuration: channel
// spacing, channel count, the Stokes products it emits, the integration
// interval and any constant frequency offset.
type CorrelatorMode struct {
	ChannelWidth float64  `json:"channelWidth"`
	NChan        int      `json:"nChan"`
	Stokes       []string `json:"stokes"`
	Interval     float64  `json:"interval"`
	FreqOffset   float64  `json:"freqOffset"`
}

// BaselineMapConfig picks the baseline map construction mode: "standard"
// generates the closed-form ADE map, "explicit" takes a literal product
// list.
type BaselineMapConfig struct {
	Mode     string                `json:"mode"`
	Standard *StandardMapConfig    `json:"standard,omitempty"`
	Explicit []ExplicitMapProduct  `json:"explicit,omitempty"`
}

type StandardMapConfig struct {
	NAntenna int `json:"nAntenna"`
}

type ExplicitMapProduct struct {
	ID     int    `json:"id"`
	Ant1   int    `json:"ant1"`
	Ant2   int    `json:"ant2"`
	Stokes string `json:"stokes"`
}

// TaskDescriptor names one pipeline stage: Kind picks the factory entry,
// Name is an operator-facing label used in logs, Parameters is the raw
// per-task section of the parset (unmarshalled by the task's own
// constructor).
type TaskDescriptor struct {
	Name       string          `json:"name"`
	Kind       string          `json:"kind"`
	Parameters json.RawMessage `json:"parameters"`
}

// MergedSourceConfig holds MergedSource.{beamoffsets_origin,baduvw_maxcycles}.
type MergedSourceConfig struct {
	BeamOffsetsOrigin string `json:"beamoffsets_origin"`
	BadUVWMaxCycles   int    `json:"baduvw_maxcycles"`
}

// VisSourceConfig configures the UDP datagram receiver.
type VisSourceConfig struct {
	Listen          string `json:"listen"`
	BufferCapacity  int    `json:"bufferCapacity"`
}

// MetadataSourceConfig configures the low-rate metadata subscription.
type MetadataSourceConfig struct {
	Topic string `json:"topic"`
}

// Config is the immutable, parsed snapshot every task receives a
// reference to: rank, nprocs, receiverId, nReceivingProcs, antenna
// list, feed offsets, correlator modes, baseline map, task descriptors,
// rank roles.
type Config struct {
	ArrayName string `json:"array.name"`
	SBID      int    `json:"sbid"`

	Rank   int `json:"-"`
	NProcs int `json:"-"`

	ServiceRanks []int `json:"service_ranks"`

	Antennas        []Antenna                 `json:"antennas"`
	FeedOffsets     [][2]float64               `json:"feedOffsets,omitempty"`
	CorrelatorModes map[string]CorrelatorMode  `json:"correlatorModes"`
	BaselineMap     BaselineMapConfig          `json:"baselineMap"`
	Tasks           []TaskDescriptor           `json:"tasks"`

	MergedSource   MergedSourceConfig   `json:"mergedSource"`
	VisSource      VisSourceConfig      `json:"visSource"`
	MetadataSource MetadataSourceConfig `json:"metadataSource"`

	NATS natsconn.Config `json:"nats"`

	StatusAddr string `json:"statusAddr"`
	GopsAddr   string `json:"gopsAddr"`

	// World is the all-rank communicator ChannelMergeTask and
	// BeamScatterTask split into sub-communicators. It is wired in by
	// the command after Load, once the NATS connection is up; it is
	// never populated from the parset itself.
	World collective.Communicator `json:"-"`

	// receiverID and nReceivingProcs are derived by classify, not read
	// from the parset directly.
	receiverID      int
	nReceivingProcs int
}

// ReceiverID returns this rank's 0-based index among receiving ranks, or
// -1 if the rank is a service rank.
func (c *Config) ReceiverID() int { return c.receiverID }

// NReceivingProcs returns the total number of receiving ranks.
func (c *Config) NReceivingProcs() int { return c.nReceivingProcs }

// IsServiceRank reports whether this rank has no datagram input of its own.
func (c *Config) IsServiceRank() bool { return c.receiverID < 0 }

// Load reads, schema-validates and parses the parset at path, then
// classifies ranks. rank and nprocs come from the command line, not the
// parset, since they vary per process of one static config.
func Load(path string, rank, nprocs int) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, ingesterr.Wrap(ingesterr.ConfigInvalid, "config", err)
	}

	if err := Validate(bytes.NewReader(raw)); err != nil {
		return nil, ingesterr.Wrap(ingesterr.ConfigInvalid, "config", err)
	}

	var cfg Config
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return nil, ingesterr.Wrap(ingesterr.ConfigInvalid, "config", err)
	}

	cfg.Rank = rank
	cfg.NProcs = nprocs

	if err := cfg.classify(); err != nil {
		return nil, err
	}

	ccalog.Infof("config: loaded %s, rank %d/%d, receiverId %d", path, rank, nprocs, cfg.receiverID)
	return &cfg, nil
}

// classify runs the rank classification algorithm: service ranks are
// excluded from the receiver-id counter; receiver id of the i-th
// non-service rank is the count of non-service ranks with index < i.
func (c *Config) classify() error {
	seen := make(map[int]bool, len(c.ServiceRanks))
	for _, r := range c.ServiceRanks {
		if r < 0 {
			return ingesterr.New(ingesterr.ConfigInvalid, "config", fmt.Sprintf("negative service rank entry %d", r))
		}
		if seen[r] {
			return ingesterr.New(ingesterr.ConfigInvalid, "config", fmt.Sprintf("duplicate service rank entry %d", r))
		}
		seen[r] = true
	}

	isService := make([]bool, c.NProcs)
	for r := range seen {
		if r < c.NProcs {
			isService[r] = true
		}
	}

	receiverID := -1
	count := 0
	for i := 0; i < c.NProcs; i++ {
		if isService[i] {
			continue
		}
		if i == c.Rank {
			receiverID = count
		}
		count++
	}

	c.receiverID = receiverID
	c.nReceivingProcs = count
	return nil
}

// SortedCorrelatorModeNames returns mode names in deterministic order, for
// logging and for any component that iterates all modes.
func (c *Config) SortedCorrelatorModeNames() []string {
	names := make([]string, 0, len(c.CorrelatorModes))
	for n := range c.CorrelatorModes {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
