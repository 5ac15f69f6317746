// Package persist provides the backup file sinks: destinations a
// serialized backup envelope can be written to, read back from, and
// shared out of. Two backends are included, a filesystem sink over an
// abstract filesystem and an S3-compatible object store sink.
package persist

import (
	"encoding/json"
	"fmt"

	"github.com/absfs/absfs"

	"github.com/DavidPeltz/pinvault"
)

// SinkType identifies a sink backend.
type SinkType string

const (
	SinkTypeFileSystem SinkType = "filesystem"
	SinkTypeS3         SinkType = "s3"
)

// SinkConfig selects and configures a sink backend.
type SinkConfig struct {
	Type   SinkType               `json:"type"`
	Config map[string]interface{} `json:"config"`
}

// S3Config holds the connection settings for an S3-compatible backend.
type S3Config struct {
	Endpoint        string `json:"endpoint"`
	AccessKeyID     string `json:"access_key_id"`
	SecretAccessKey string `json:"secret_access_key"`
	UseSSL          bool   `json:"use_ssl"`
	Region          string `json:"region"`
	Bucket          string `json:"bucket"`
	KeyPrefix       string `json:"key_prefix"`
}

// NewSink factory function to create sink backends
func NewSink(config SinkConfig) (pinvault.FileSink, error) {
	switch config.Type {
	case SinkTypeFileSystem:
		fs, ok := config.Config["fs"].(absfs.FileSystem)
		if !ok {
			return nil, fmt.Errorf("filesystem sink requires 'fs' in config")
		}
		basePath, ok := config.Config["base_path"].(string)
		if !ok {
			return nil, fmt.Errorf("filesystem sink requires 'base_path' in config")
		}
		return NewFileSystemSink(fs, basePath)

	case SinkTypeS3:
		return NewS3SinkFromConfig(config)

	default:
		return nil, fmt.Errorf("unsupported sink type: %s", config.Type)
	}
}

// NewS3SinkFromConfig initializes an S3Sink from a generic SinkConfig.
func NewS3SinkFromConfig(config SinkConfig) (*S3Sink, error) {
	if config.Type != SinkTypeS3 {
		return nil, fmt.Errorf("invalid sink type for S3: %s", config.Type)
	}

	configBytes, err := json.Marshal(config.Config)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal config: %w", err)
	}

	var s3Config S3Config
	if err = json.Unmarshal(configBytes, &s3Config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal S3 config: %w", err)
	}

	return NewS3Sink(s3Config)
}
