// Package config loads the auditor's single YAML configuration file and
// validates the block-range parameters spec.md §6/§8 describe.
package config

import (
	"fmt"
	"os"
	"runtime"

	"gopkg.in/yaml.v3"
)

// DataStorage holds the file-system paths spec.md §6 names under
// data_storage.
type DataStorage struct {
	DataDirectory               string `yaml:"data_directory"`
	LogsDirectory               string `yaml:"logs_directory"`
	LogFilename                 string `yaml:"log_filename"`
	SimulationOutputDirectory   string `yaml:"simulation_output_directory"`
	DatabaseFile                string `yaml:"database_file"`
}

// BundleSimulation controls the selector/simulator stage.
type BundleSimulation struct {
	SimulationEnabled     bool   `yaml:"simulation_enabled"`
	MaxSelectedBundles    int    `yaml:"max_selected_bundles"`
	SimulationOutputFile  string `yaml:"simulation_output_file"`
}

// RateLimitHandling configures the shared RPC rate gate and retry policy.
type RateLimitHandling struct {
	CallsPerMinute       int     `yaml:"calls_per_minute"`
	MaxRetries           int     `yaml:"max_retries"`
	InitialDelaySeconds  float64 `yaml:"initial_delay_seconds"`
	ExponentialBackoff   bool    `yaml:"exponential_backoff"`
	EnableRetry          bool    `yaml:"enable_retry"`
}

// PerformanceTuning configures worker pool width.
type PerformanceTuning struct {
	UseMultiprocessing bool   `yaml:"use_multiprocessing"`
	MaxProcesses       string `yaml:"max_processes"` // integer literal or "auto"
}

// ResolvedMaxProcesses interprets MaxProcesses, resolving "auto" to the host
// core count the way the Python source resolves cpu_count().
func (p PerformanceTuning) ResolvedMaxProcesses() int {
	if p.MaxProcesses == "" || p.MaxProcesses == "auto" {
		return runtime.NumCPU()
	}
	var n int
	if _, err := fmt.Sscanf(p.MaxProcesses, "%d", &n); err != nil || n <= 0 {
		return runtime.NumCPU()
	}
	return n
}

// BlockRange is either a literal "all" or a parsed integer; NumBlocksToProcess
// in the YAML file is one of the two.
type BlockRange struct {
	All   bool
	Count int
}

// UnmarshalYAML accepts either the string literal "all" or an integer.
func (b *BlockRange) UnmarshalYAML(value *yaml.Node) error {
	var asString string
	if err := value.Decode(&asString); err == nil {
		if asString == "all" {
			b.All = true
			return nil
		}
	}
	var asInt int
	if err := value.Decode(&asInt); err != nil {
		return fmt.Errorf("config: num_blocks_to_process must be an integer or \"all\": %w", err)
	}
	b.Count = asInt
	return nil
}

// Config is the root of the single YAML configuration file.
type Config struct {
	DataStorage       DataStorage       `yaml:"data_storage"`
	StartBlock        uint64            `yaml:"start_block"`
	EndBlock          uint64            `yaml:"end_block"`
	NumBlocksToProcess BlockRange       `yaml:"num_blocks_to_process"`
	StartBlockOffset  uint64            `yaml:"start_block_offset"`
	BundleSimulation  BundleSimulation  `yaml:"bundle_simulation"`
	RateLimitHandling RateLimitHandling `yaml:"rate_limit_handling"`
	PerformanceTuning PerformanceTuning `yaml:"performance_tuning"`
	PollingRateSeconds   float64        `yaml:"polling_rate_seconds"`
	BlockDelaySeconds    float64        `yaml:"block_delay_seconds"`
	ValidateSQL          bool           `yaml:"validate_sql"`
	AbortOnEmptyFirstQuery bool         `yaml:"abort_on_empty_first_query"`
	MaxCombinationCardinality int       `yaml:"max_combination_cardinality"`

	// Query identifiers for the analytics endpoint.
	BundleQueryID        string `yaml:"bundle_query_id"`
	GatherToStartQueryID string `yaml:"gather_to_start_query_id"`

	// VendoredQueriesDirectory holds one "<query_id>.sql" file per query the
	// analytics client submits — the "locally vendored SQL text" the SQL
	// guard compares the remote query against (spec.md §4.2).
	VendoredQueriesDirectory string `yaml:"vendored_queries_directory"`
}

// Load reads and parses the YAML configuration file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}
	if cfg.MaxCombinationCardinality == 0 {
		cfg.MaxCombinationCardinality = 16 // Design Notes §9 default.
	}
	if cfg.VendoredQueriesDirectory == "" {
		cfg.VendoredQueriesDirectory = "queries"
	}
	return &cfg, nil
}

// ValidateBlockRange enforces the fatal boundary spec.md §6/§8 names:
// start_block > end_block must abort the process with exit code 1. Callers
// resolving start_block_offset/num_blocks_to_process via ResolvedRange
// should validate the resolved values instead, since those are what the
// pipeline actually runs against.
func (c *Config) ValidateBlockRange() error {
	if c.StartBlock > c.EndBlock {
		return fmt.Errorf("config: start_block (%d) is greater than end_block (%d)", c.StartBlock, c.EndBlock)
	}
	return nil
}

// ResolvedRange applies start_block_offset and num_blocks_to_process
// (spec.md §6, "block-range control") on top of the configured
// start_block/end_block, the way original_source/src/test.py derives its
// working range from the chain head: start_block_offset shifts the start
// back from the current chain head, and num_blocks_to_process bounds the
// count of blocks processed from that start unless it is "all", in which
// case the configured end_block is used as-is. latestBlock is only
// consulted when start_block_offset is non-zero; callers that never set it
// may pass 0.
func (c *Config) ResolvedRange(latestBlock uint64) (start, end uint64) {
	start = c.StartBlock
	if c.StartBlockOffset > 0 {
		if c.StartBlockOffset > latestBlock {
			start = 0
		} else {
			start = latestBlock - c.StartBlockOffset
		}
	}

	end = c.EndBlock
	if !c.NumBlocksToProcess.All && c.NumBlocksToProcess.Count > 0 {
		end = start + uint64(c.NumBlocksToProcess.Count) - 1
	}

	return start, end
}
