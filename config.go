// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package op

import (
	"bytes"
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
	"github.com/sirupsen/logrus"
)

// Config is the file form of the producer and consumer options.
//
//	[op]
//	timeout = "30s"   # or "none"
//	log_level = "info"
type Config struct {
	// Timeout is the producer call timeout.
	Timeout Timeout `toml:"timeout"`
	// LogLevel is a logrus level name.
	LogLevel string `toml:"log_level"`
}

type tomlConfig struct {
	Op struct{ Config } `toml:"op"`
}

// DefaultConfig returns the configuration used when no file is given.
func DefaultConfig() *Config {
	return &Config{
		Timeout:  NoTimeout,
		LogLevel: logrus.InfoLevel.String(),
	}
}

// UpdateFromFile overrides c with the values present in the file at path.
// Keys missing from the file keep their current value.
func (c *Config) UpdateFromFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	t := new(tomlConfig)
	t.Op.Config = *c
	if _, err := toml.Decode(string(data), t); err != nil {
		return fmt.Errorf("op: decode config %s: %w", path, err)
	}
	*c = t.Op.Config
	return nil
}

// ToFile writes c to path in TOML.
func (c *Config) ToFile(path string) error {
	var w bytes.Buffer
	t := new(tomlConfig)
	t.Op.Config = *c
	if err := toml.NewEncoder(&w).Encode(t); err != nil {
		return err
	}
	return os.WriteFile(path, w.Bytes(), 0o644)
}

// Options returns the options described by c. The logger is a new logrus
// logger at LogLevel.
func (c *Config) Options() ([]Option, error) {
	if err := c.Timeout.validate(); err != nil {
		return nil, err
	}
	level, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("op: config: %w", err)
	}
	l := logrus.New()
	l.SetLevel(level)
	return []Option{
		WithLogger(logrus.NewEntry(l)),
		WithTimeout(c.Timeout),
	}, nil
}
