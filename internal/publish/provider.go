// Package publish uploads finished exports to a destination.
package publish

import (
	"context"
	"fmt"
	"io"
)

// Provider is a destination for exported files. Keys use forward slashes.
type Provider interface {
	Put(ctx context.Context, key string, body io.ReadSeeker, contentType string) error
	Exists(ctx context.Context, key string) (bool, error)
}

// Settings selects and configures a provider.
type Settings struct {
	Provider string // "local" or "s3"
	LocalDir string
	Bucket   string
	Endpoint string
	Region   string
	KeyID    string
	AppKey   string
}

// New builds the provider named by s.Provider.
func New(s Settings) (Provider, error) {
	switch s.Provider {
	case "local":
		if s.LocalDir == "" {
			return nil, fmt.Errorf("local publisher needs a directory")
		}
		return NewLocalProvider(s.LocalDir), nil
	case "s3":
		if s.Bucket == "" {
			return nil, fmt.Errorf("s3 publisher needs a bucket")
		}
		return NewS3Provider(s), nil
	}
	return nil, fmt.Errorf("unknown publish provider %q", s.Provider)
}
