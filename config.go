package raft

import (
	"fmt"
	"io"
	"net"
	"os"
	"time"

	"github.com/raftbus/raft/cluster"
	"gopkg.in/yaml.v3"
)

// Config is the on-disk, YAML-formatted configuration for a node. It
// covers every option named in spec.md §6 plus the deployment details
// (listen/gossip addresses, store paths) Options itself has no opinion
// about.
type Config struct {
	MemberID string `yaml:"memberId"`

	ListenAddr string   `yaml:"listenAddr"`
	GossipAddr string   `yaml:"gossipAddr"`
	GossipPort uint16   `yaml:"gossipPort"`
	JoinAddrs  []string `yaml:"joinAddrs"`

	LogStorePath string `yaml:"logStorePath"`
	SnapshotDir  string `yaml:"snapshotDir"`

	// Durations are strings on the wire ("150ms", "2s") and parsed in
	// Options: yaml.v3 has no built-in support for decoding a scalar string
	// into time.Duration, unlike encoding/json's text-unmarshaler handling.
	ElectionTimeoutMin string `yaml:"electionTimeoutMin"`
	ElectionTimeoutMax string `yaml:"electionTimeoutMax"`
	HeartbeatInterval  string `yaml:"heartbeatInterval"`
	RaftRPCTimeout     string `yaml:"raftRpcTimeout"`

	AllowedNetworks []string `yaml:"allowedNetworks"`

	BufferingEnabled   bool   `yaml:"bufferingEnabled"`
	BufferingThreshold int    `yaml:"bufferingThreshold"`
	BufferingDir       string `yaml:"bufferingDir"`

	DuplicateDetectorCapacity int    `yaml:"duplicateDetectorCapacity"`
	DuplicateRetention        string `yaml:"duplicateRetention"`

	ForwardApply bool `yaml:"forwardApply"`
}

// applyDuration parses s and, if non-empty, overwrites dst. Left untouched
// when s is empty so the caller's default survives.
func applyDuration(s string, dst *time.Duration) error {
	if s == "" {
		return nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*dst = d
	return nil
}

// LoadConfig reads and parses a YAML configuration file.
func LoadConfig(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("raft: opening config %s: %w", path, err)
	}
	defer f.Close()
	return ParseConfig(f)
}

// ParseConfig decodes Config from r.
func ParseConfig(r io.Reader) (*Config, error) {
	var c Config
	dec := yaml.NewDecoder(r)
	if err := dec.Decode(&c); err != nil {
		return nil, fmt.Errorf("raft: decoding config: %w", err)
	}
	return &c, nil
}

// Options converts the declarative Config into the Options struct the
// core actually consumes, parsing the CIDR strings in AllowedNetworks
// into the net.IPNet values the RPC Dispatcher's ACL check requires.
func (c *Config) Options() (Options, error) {
	opts := DefaultOptions()

	if err := applyDuration(c.ElectionTimeoutMin, &opts.MinElectionTimeout); err != nil {
		return Options{}, fmt.Errorf("raft: electionTimeoutMin: %w", err)
	}
	if err := applyDuration(c.ElectionTimeoutMax, &opts.MaxElectionTimeout); err != nil {
		return Options{}, fmt.Errorf("raft: electionTimeoutMax: %w", err)
	}
	if err := applyDuration(c.HeartbeatInterval, &opts.HeartbeatInterval); err != nil {
		return Options{}, fmt.Errorf("raft: heartbeatInterval: %w", err)
	}
	if err := applyDuration(c.RaftRPCTimeout, &opts.RaftRPCTimeout); err != nil {
		return Options{}, fmt.Errorf("raft: raftRpcTimeout: %w", err)
	}
	if err := applyDuration(c.DuplicateRetention, &opts.DuplicateRetention); err != nil {
		return Options{}, fmt.Errorf("raft: duplicateRetention: %w", err)
	}
	if c.DuplicateDetectorCapacity > 0 {
		opts.DuplicateDetectorCapacity = c.DuplicateDetectorCapacity
	}
	opts.ForwardApply = c.ForwardApply
	opts.Buffering = BufferingOptions{
		Enabled:   c.BufferingEnabled,
		Threshold: c.BufferingThreshold,
		Dir:       c.BufferingDir,
	}

	for _, cidr := range c.AllowedNetworks {
		_, network, err := net.ParseCIDR(cidr)
		if err != nil {
			return Options{}, fmt.Errorf("raft: invalid allowedNetworks entry %q: %w", cidr, err)
		}
		opts.AllowedNetworks = append(opts.AllowedNetworks, network)
	}

	if c.MemberID != "" {
		id, err := cluster.ParseNodeID(c.MemberID)
		if err != nil {
			return Options{}, err
		}
		opts.MemberID = id
	}

	return opts, nil
}
