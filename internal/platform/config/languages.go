package config

import (
	"fmt"
	"math"
	"os"

	"gopkg.in/yaml.v3"
)

// Language adjusts a problem's limits for one sandbox language id.
// Slow runtimes (JVM, Python) usually get a time multiplier above 1.
type Language struct {
	ID             int     `yaml:"id"`
	Name           string  `yaml:"name"`
	TimeMultiplier float64 `yaml:"time_multiplier"`
	ExtraMemoryKb  int     `yaml:"extra_memory_kb"`
}

type languagesFile struct {
	Languages []Language `yaml:"languages"`
}

// LoadLanguages reads the YAML language table.
//
//	languages:
//	  - id: 62
//	    name: Java
//	    time_multiplier: 2
//	    extra_memory_kb: 65536
func LoadLanguages(path string) (map[int]Language, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read languages file: %w", err)
	}
	return ParseLanguages(data)
}

func ParseLanguages(data []byte) (map[int]Language, error) {
	var f languagesFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse languages file: %w", err)
	}
	out := make(map[int]Language, len(f.Languages))
	for _, l := range f.Languages {
		if l.ID <= 0 {
			return nil, fmt.Errorf("language %q: id must be positive", l.Name)
		}
		if l.TimeMultiplier < 0 || l.ExtraMemoryKb < 0 {
			return nil, fmt.Errorf("language %d: adjustments must not be negative", l.ID)
		}
		if _, dup := out[l.ID]; dup {
			return nil, fmt.Errorf("language %d listed twice", l.ID)
		}
		out[l.ID] = l
	}
	return out, nil
}

// LimitsFor returns the CPU time (seconds) and memory (KB) sent to the sandbox.
// Zero problem limits fall back to the configured defaults.
func (s SandboxConfig) LimitsFor(languageID, timeLimitMs, memoryLimitKb int) (float64, int) {
	cpu := s.DefaultCPUTimeSec
	if timeLimitMs > 0 {
		cpu = float64(timeLimitMs) / 1000
	}
	mem := s.DefaultMemoryLimit
	if memoryLimitKb > 0 {
		mem = memoryLimitKb
	}
	if l, ok := s.Languages[languageID]; ok {
		if l.TimeMultiplier > 0 {
			cpu *= l.TimeMultiplier
		}
		mem += l.ExtraMemoryKb
	}
	return math.Round(cpu*1000) / 1000, mem
}
