// Package config describes a simulation: the memory geometry, the TLB, the
// scheduler, and the processes to run.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.yaml.in/yaml/v3"

	"github.com/KoderuNoKo/Operating-System/cpu"
	"github.com/KoderuNoKo/Operating-System/mem/vm/tlb"
)

// ErrInvalidConfig is returned for configurations that cannot be simulated.
var ErrInvalidConfig = errors.New("invalid config")

// ProcessConfig describes one process. The program is either given inline or
// read from File, relative to the directory of the configuration.
type ProcessConfig struct {
	Name     string   `yaml:"name"`
	Start    uint64   `yaml:"start"`
	Priority int      `yaml:"priority"`
	Program  []string `yaml:"program,omitempty"`
	File     string   `yaml:"file,omitempty"`
}

// Config is the complete description of a simulation.
type Config struct {
	Log2PageSize  uint64 `yaml:"log2_page_size"`
	RAMSize       uint64 `yaml:"ram_size"`
	SwapSize      uint64 `yaml:"swap_size"`
	VirtualLimit  uint64 `yaml:"virtual_limit"`
	TLBSize       uint64 `yaml:"tlb_size"`
	Mapping       string `yaml:"mapping"`
	Ways          int    `yaml:"ways"`
	TimeSlice     int    `yaml:"time_slice"`
	QueueCapacity int    `yaml:"queue_capacity"`

	Trace       bool   `yaml:"trace"`
	DumpMemory  bool   `yaml:"dump_memory"`
	Record      string `yaml:"record,omitempty"`
	MonitorPort int    `yaml:"monitor_port,omitempty"`

	Processes []ProcessConfig `yaml:"processes"`

	baseDir string
}

// DefaultConfig returns the configuration used for every field a file leaves out.
func DefaultConfig() Config {
	return Config{
		Log2PageSize:  8,
		RAMSize:       1 << 20,
		SwapSize:      1 << 24,
		VirtualLimit:  1 << 22,
		TLBSize:       256,
		Mapping:       tlb.DirectMapped.String(),
		Ways:          4,
		TimeSlice:     2,
		QueueCapacity: 10,
	}
}

// Load reads a YAML configuration file on top of the defaults.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}

	c, err := Parse(data)
	if err != nil {
		return Config{}, fmt.Errorf("%s: %w", path, err)
	}

	c.baseDir = filepath.Dir(path)

	return c, nil
}

// Parse decodes a YAML configuration on top of the defaults.
func Parse(data []byte) (Config, error) {
	c := DefaultConfig()

	err := yaml.Unmarshal(data, &c)
	if err != nil {
		return Config{}, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	return c, nil
}

// Marshal encodes the configuration as YAML.
func (c Config) Marshal() ([]byte, error) {
	return yaml.Marshal(c)
}

// MappingPolicy returns the TLB mapping policy named by the configuration.
func (c Config) MappingPolicy() (tlb.MappingPolicy, error) {
	return tlb.ParseMappingPolicy(c.Mapping)
}

// Validate checks that the configuration can be simulated.
func (c Config) Validate() error {
	var problems []string

	if c.Log2PageSize == 0 || c.Log2PageSize > 20 {
		problems = append(problems,
			fmt.Sprintf("page size 2^%d not supported", c.Log2PageSize))
	}

	pageSize := uint64(1) << c.Log2PageSize
	if c.RAMSize < pageSize {
		problems = append(problems, "ram_size smaller than a page")
	}

	if c.TLBSize < tlb.LineSize || c.TLBSize%tlb.LineSize != 0 {
		problems = append(problems,
			fmt.Sprintf("tlb_size must be a multiple of %d", tlb.LineSize))
	}

	policy, err := c.MappingPolicy()
	if err != nil {
		problems = append(problems, err.Error())
	}

	numLines := c.TLBSize / tlb.LineSize
	if err == nil && policy == tlb.SetAssociative &&
		(c.Ways <= 0 || numLines%uint64(c.Ways) != 0) {
		problems = append(problems,
			fmt.Sprintf("%d lines cannot be split into %d ways",
				numLines, c.Ways))
	}

	if c.TimeSlice <= 0 {
		problems = append(problems, "time_slice must be positive")
	}

	for i, p := range c.Processes {
		if len(p.Program) > 0 && p.File != "" {
			problems = append(problems,
				fmt.Sprintf("process %d has both program and file", i))
		}
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidConfig,
			strings.Join(problems, "; "))
	}

	return nil
}

// Instructions decodes the program of a process.
func (c Config) Instructions(p ProcessConfig) ([]cpu.Instruction, error) {
	if p.File == "" {
		return cpu.ParseProgram(strings.NewReader(
			strings.Join(p.Program, "\n")))
	}

	path := p.File
	if !filepath.IsAbs(path) {
		path = filepath.Join(c.baseDir, path)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	return cpu.ParseProgram(f)
}
