// Package qdrant stores and searches repository chunks in Qdrant over gRPC.
package qdrant

import (
	"context"
	"fmt"
	"time"

	"github.com/qdrant/go-client/qdrant"
	"github.com/sanvibhowmick/forge/internal/config"
)

// Client is the subset of Qdrant the retrieval memory needs.
type Client interface {
	Health(ctx context.Context) error
	CollectionExists(ctx context.Context, name string) (bool, error)
	CreateCollection(ctx context.Context, name string, vectorSize uint64) error
	Upsert(ctx context.Context, collection string, points []*Point) error
	Search(ctx context.Context, collection string, vector []float32, limit uint64) ([]*ScoredPoint, error)
	Close() error
}

// Point is one stored vector with its payload.
type Point struct {
	ID      string
	Vector  []float32
	Payload map[string]interface{}
}

// ScoredPoint is a search hit.
type ScoredPoint struct {
	Point
	Score float32
}

// ClientConfig configures the gRPC connection. Port is the gRPC port
// (6334), not the REST port.
type ClientConfig struct {
	Host           string
	Port           int
	UseTLS         bool
	APIKey         string
	MaxMessageSize int
	RequestTimeout time.Duration
	RetryAttempts  uint
	Distance       qdrant.Distance
}

// DefaultClientConfig targets a local Qdrant.
func DefaultClientConfig() *ClientConfig {
	return &ClientConfig{
		Host:           "localhost",
		Port:           6334,
		MaxMessageSize: 50 * 1024 * 1024,
		RequestTimeout: 30 * time.Second,
		RetryAttempts:  3,
		Distance:       qdrant.Distance_Cosine,
	}
}

// FromSettings maps the file configuration onto a ClientConfig.
func FromSettings(s config.QdrantConfig) *ClientConfig {
	cfg := &ClientConfig{
		Host:   s.Host,
		Port:   s.Port,
		UseTLS: s.UseTLS,
		APIKey: s.APIKey.Value(),
	}
	cfg.ApplyDefaults()
	return cfg
}

// ApplyDefaults fills unset fields.
func (c *ClientConfig) ApplyDefaults() {
	d := DefaultClientConfig()
	if c.Host == "" {
		c.Host = d.Host
	}
	if c.Port == 0 {
		c.Port = d.Port
	}
	if c.MaxMessageSize == 0 {
		c.MaxMessageSize = d.MaxMessageSize
	}
	if c.RequestTimeout == 0 {
		c.RequestTimeout = d.RequestTimeout
	}
	if c.RetryAttempts == 0 {
		c.RetryAttempts = d.RetryAttempts
	}
	if c.Distance == qdrant.Distance_UnknownDistance {
		c.Distance = d.Distance
	}
}

// Validate checks the connection settings.
func (c *ClientConfig) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("host is required")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port: %d (must be 1-65535)", c.Port)
	}
	if c.MaxMessageSize <= 0 {
		return fmt.Errorf("invalid max message size: %d (must be > 0)", c.MaxMessageSize)
	}
	return nil
}
