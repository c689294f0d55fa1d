// Package config assembles the process's runtime knobs: the pflag-bound
// process flags (HTTP bind address, default TTL, log mode, namespace) and
// the environment-variable driven image-registry contract spec.md §6
// requires (REGISTRY, REPOSITORY, IMPLEMENTATION and, for ECR, the AWS
// quartet).
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/pflag"
)

const (
	flagBindAddr    = "bind-address"
	flagDefaultTTL  = "default-ttl"
	flagNamespace   = "namespace"
	flagZapDevel    = "zap-devel"
	defaultBindAddr = ":8080"
	defaultTTL      = 30 * time.Minute
)

// Implementation names the backing image-registry implementation, per
// spec.md §6.
type Implementation string

const (
	ImplementationECR      Implementation = "ECR"
	ImplementationMinikube Implementation = "Minikube"
)

// RuntimeConfig holds the process-level flags that are not part of the
// leased-pod contract itself, in the style of the teacher's split between
// ControllerConfig and RuntimeConfig.
type RuntimeConfig struct {
	// BindAddr is the address the HTTP server listens on.
	BindAddr string
	// DefaultTTL is used for /deploy requests that omit a ttl.
	DefaultTTL time.Duration
	// Namespace is the tenant namespace the Pod Manager operates in.
	Namespace string
	// ZapDevel switches the logger to zap.NewDevelopment, for
	// human-readable console output during local runs.
	ZapDevel bool
}

// BindFlags binds the command-line flags to the fields in cfg.
func (cfg *RuntimeConfig) BindFlags(fs *pflag.FlagSet) {
	fs.StringVar(&cfg.BindAddr, flagBindAddr, defaultBindAddr, "Address the HTTP API listens on")
	fs.DurationVar(&cfg.DefaultTTL, flagDefaultTTL, defaultTTL, "Default lease TTL when /deploy omits one")
	fs.StringVar(&cfg.Namespace, flagNamespace, "default", "Tenant namespace to watch and deploy pods in")
	fs.BoolVar(&cfg.ZapDevel, flagZapDevel, false, "Use a human-readable development logger instead of the production JSON logger")
}

// RegistryConfig is the image-registry contract spec.md §6 specifies as
// environment variables. It is consumed by the out-of-scope image-registry
// collaborator; the Pod Manager core only loads and validates it at
// startup so misconfiguration fails fast.
type RegistryConfig struct {
	Registry       string
	Repository     string
	Implementation Implementation

	AWSRegion          string
	AWSAccessKeyID     string
	AWSSecretAccessKey string
	AWSUsername        string
}

// LoadRegistryConfigFromEnv reads and validates the environment-variable
// contract. Empty is treated as unset, per spec.md §6.
func LoadRegistryConfigFromEnv() (RegistryConfig, error) {
	cfg := RegistryConfig{
		Registry:       os.Getenv("REGISTRY"),
		Repository:     os.Getenv("REPOSITORY"),
		Implementation: Implementation(os.Getenv("IMPLEMENTATION")),
	}

	if cfg.Registry == "" {
		return RegistryConfig{}, errors.New("REGISTRY must be set")
	}
	if cfg.Repository == "" {
		return RegistryConfig{}, errors.New("REPOSITORY must be set")
	}

	switch cfg.Implementation {
	case ImplementationECR:
		cfg.AWSRegion = os.Getenv("AWS_REGION")
		cfg.AWSAccessKeyID = os.Getenv("AWS_ACCESS_KEY_ID")
		cfg.AWSSecretAccessKey = os.Getenv("AWS_SECRET_ACCESS_KEY")
		cfg.AWSUsername = os.Getenv("AWS_USERNAME")
		for _, v := range []struct{ name, value string }{
			{"AWS_REGION", cfg.AWSRegion},
			{"AWS_ACCESS_KEY_ID", cfg.AWSAccessKeyID},
			{"AWS_SECRET_ACCESS_KEY", cfg.AWSSecretAccessKey},
			{"AWS_USERNAME", cfg.AWSUsername},
		} {
			if v.value == "" {
				return RegistryConfig{}, errors.Errorf("%s must be set when IMPLEMENTATION=ECR", v.name)
			}
		}
	case ImplementationMinikube:
		// No additional variables required.
	default:
		return RegistryConfig{}, fmt.Errorf("IMPLEMENTATION must be %q or %q, got %q", ImplementationECR, ImplementationMinikube, cfg.Implementation)
	}

	return cfg, nil
}
