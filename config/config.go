// Package config reads the run configuration from environment inputs.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/bitrise-io/go-steputils/v2/stepconf"
	"github.com/bitrise-io/go-utils/v2/env"
	"github.com/bitrise-io/resumable-upload-bench/loadtest"
	"github.com/bitrise-io/resumable-upload-bench/upload"
	"github.com/docker/go-units"
)

const defaultMaxDuration = 30 * time.Second

// Inputs are the raw values as they arrive in the environment.
type Inputs struct {
	Endpoint                      string `env:"endpoint,required"`
	UploadLength                  string `env:"upload_length,required"`
	RequestPayloadSize            string `env:"request_payload_size,required"`
	CreationWithData              bool   `env:"creation_with_data"`
	RetrieveOffsetBetweenRequests bool   `env:"retrieve_offset_between_requests"`
	VirtualUsers                  int    `env:"virtual_users,required"`
	UploadsPerVirtualUser         int    `env:"uploads_per_virtual_user,required"`
	MaxDuration                   string `env:"max_duration"`
	IterationTimeout              string `env:"iteration_timeout"`
	Dialect                       string `env:"dialect,opt[stable,interop-draft]"`
	RequestsPerSecond             int    `env:"requests_per_second"`
	MetricsAddress                string `env:"metrics_address"`
	Analytics                     bool   `env:"analytics"`
	ExportOutputs                 bool   `env:"export_outputs"`
	Verbose                       bool   `env:"verbose"`
}

// Config is the validated configuration of a run.
type Config struct {
	Options           loadtest.Options
	RequestsPerSecond int
	MetricsAddress    string
	Analytics         bool
	ExportOutputs     bool
	Verbose           bool
}

// Load parses and validates the inputs found in envRepo.
func Load(envRepo env.Repository) (Config, error) {
	var input Inputs
	if err := stepconf.NewInputParser(envRepo).Parse(&input); err != nil {
		return Config{}, fmt.Errorf("failed to parse inputs: %w", err)
	}
	stepconf.Print(input)

	return input.Config()
}

// Config converts the raw inputs, rejecting values no run can be started with.
func (i Inputs) Config() (Config, error) {
	uploadLength, err := units.RAMInBytes(i.UploadLength)
	if err != nil {
		return Config{}, fmt.Errorf("invalid upload_length: %w", err)
	}
	requestPayloadSize, err := units.RAMInBytes(i.RequestPayloadSize)
	if err != nil {
		return Config{}, fmt.Errorf("invalid request_payload_size: %w", err)
	}
	maxDuration, err := parseDuration(i.MaxDuration, defaultMaxDuration)
	if err != nil {
		return Config{}, fmt.Errorf("invalid max_duration: %w", err)
	}
	iterationTimeout, err := parseDuration(i.IterationTimeout, 0)
	if err != nil {
		return Config{}, fmt.Errorf("invalid iteration_timeout: %w", err)
	}
	dialect, err := upload.ParseDialect(i.Dialect)
	if err != nil {
		return Config{}, err
	}
	if i.RequestsPerSecond < 0 {
		return Config{}, fmt.Errorf("requests_per_second must not be negative, got %d", i.RequestsPerSecond)
	}

	options := loadtest.Options{
		Endpoint:                      i.Endpoint,
		Dialect:                       dialect,
		UploadLength:                  uploadLength,
		RequestPayloadSize:            requestPayloadSize,
		CreationWithData:              i.CreationWithData,
		RetrieveOffsetBetweenRequests: i.RetrieveOffsetBetweenRequests,
		VirtualUsers:                  i.VirtualUsers,
		UploadsPerVirtualUser:         i.UploadsPerVirtualUser,
		MaxDuration:                   maxDuration,
		IterationTimeout:              iterationTimeout,
	}
	if err := options.Validate(); err != nil {
		return Config{}, err
	}

	return Config{
		Options:           options,
		RequestsPerSecond: i.RequestsPerSecond,
		MetricsAddress:    i.MetricsAddress,
		Analytics:         i.Analytics,
		ExportOutputs:     i.ExportOutputs,
		Verbose:           i.Verbose,
	}, nil
}

func parseDuration(s string, fallback time.Duration) (time.Duration, error) {
	if s == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, errors.New("duration must not be negative")
	}
	return d, nil
}
