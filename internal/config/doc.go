// Package config provides YAML configuration loading and validation
// for the Echo speech-to-text service.
package config
