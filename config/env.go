package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Environment variables that override the configuration.
const (
	EnvTLBSize     = "TLBSIM_TLB_SIZE"
	EnvMapping     = "TLBSIM_MAPPING"
	EnvWays        = "TLBSIM_WAYS"
	EnvTrace       = "TLBSIM_TRACE"
	EnvRecord      = "TLBSIM_RECORD"
	EnvMonitorPort = "TLBSIM_MONITOR_PORT"
)

// ApplyEnv overrides the configuration with TLBSIM_* variables. Variables
// are read from the given .env files first; the process environment wins
// over the files. Missing files are skipped.
func (c *Config) ApplyEnv(files ...string) error {
	vars := make(map[string]string)

	for _, file := range files {
		values, err := godotenv.Read(file)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}

		if err != nil {
			return fmt.Errorf("%s: %w", file, err)
		}

		for k, v := range values {
			vars[k] = v
		}
	}

	lookup := func(key string) (string, bool) {
		if v, ok := os.LookupEnv(key); ok {
			return v, true
		}

		v, ok := vars[key]

		return v, ok
	}

	return c.applyVars(lookup)
}

func (c *Config) applyVars(lookup func(string) (string, bool)) error {
	if v, ok := lookup(EnvTLBSize); ok {
		n, err := strconv.ParseUint(v, 0, 64)
		if err != nil {
			return envError(EnvTLBSize, v)
		}

		c.TLBSize = n
	}

	if v, ok := lookup(EnvMapping); ok {
		c.Mapping = v
	}

	if v, ok := lookup(EnvWays); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return envError(EnvWays, v)
		}

		c.Ways = n
	}

	if v, ok := lookup(EnvTrace); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return envError(EnvTrace, v)
		}

		c.Trace = b
	}

	if v, ok := lookup(EnvRecord); ok {
		c.Record = v
	}

	if v, ok := lookup(EnvMonitorPort); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return envError(EnvMonitorPort, v)
		}

		c.MonitorPort = n
	}

	return nil
}

func envError(key, value string) error {
	return fmt.Errorf("%w: %s=%q", ErrInvalidConfig, key, value)
}
