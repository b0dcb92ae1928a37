package cmd

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// Static errors for configuration validation
var (
	ErrDatabaseHostRequired     = errors.New("database host or URI is required")
	ErrDatabaseNameRequired     = errors.New("database name is required")
	ErrDatabasePortInvalid      = errors.New("database port must be between 1 and 65535")
	ErrCollectionRequired       = errors.New("collection name is required")
	ErrCollectionInvalid        = errors.New("collection name is invalid: must be 1-120 characters and contain no '$' or null characters")
	ErrFieldRequired            = errors.New("partition field is required")
	ErrFieldInvalid             = errors.New("partition field is invalid: must start with a letter or underscore, and contain only letters, numbers, underscores and dots")
	ErrOutputDirRequired        = errors.New("output directory is required")
	ErrInputDirRequired         = errors.New("input directory is required")
	ErrBatchSizeInvalid         = errors.New("batch size must be between 1 and 100000")
	ErrMaxDocsPerRangeInvalid   = errors.New("max docs per range must be at least 1")
	ErrCompressionInvalid       = errors.New("compression must be one of: zstd, lz4, gzip, none")
	ErrCompressionLevelInvalid  = errors.New("compression level must be between 1 and 22 (zstd), 1-9 (lz4/gzip)")
	ErrUnitKeyFilterInvalid     = errors.New("unit key filter entries must match YYYY-MM or YYYY-MM-partN")
	ErrS3BucketRequired         = errors.New("S3 bucket is required when an S3 endpoint is configured")
	ErrS3AccessKeyRequired      = errors.New("S3 access key is required when an S3 endpoint is configured")
	ErrS3SecretKeyRequired      = errors.New("S3 secret key is required when an S3 endpoint is configured")
)

// Run modes
const (
	ModeDump    = "dump"
	ModeRestore = "restore"
	ModeClean   = "clean"
)

type Config struct {
	Debug     bool
	LogFormat string
	DryRun    bool
	Mode      string

	Database DatabaseConfig
	S3       S3Config

	Collection string
	Field      string

	// dump
	OutputDir        string
	BatchSize        int
	Compression      string
	CompressionLevel int
	MaxDocsPerRange  int64

	// restore
	InputDir          string
	TargetDB          string
	DropBeforeRestore bool

	// restore + clean unit-key filter
	Units []string

	// clean
	RequireConfirmation bool
}

type DatabaseConfig struct {
	URI        string
	Host       string
	Port       int
	User       string
	Password   string
	Name       string
	AuthSource string
}

type S3Config struct {
	Endpoint  string
	Bucket    string
	AccessKey string
	SecretKey string
	Region    string
	Prefix    string
}

// validFieldPath matches a dotted document path used as the partition field
var validFieldPath = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_.]*$`)

func isValidCollectionName(name string) bool {
	if name == "" || len(name) > 120 {
		return false
	}
	return !strings.ContainsAny(name, "$\x00")
}

func isValidCompression(compression string) bool {
	validCompressions := map[string]bool{
		"zstd": true,
		"lz4":  true,
		"gzip": true,
		"none": true,
	}
	return validCompressions[compression]
}

func isValidCompressionLevel(compression string, level int) bool {
	switch compression {
	case "zstd":
		return level >= 1 && level <= 22
	case "lz4", "gzip":
		return level >= 1 && level <= 9
	case "none":
		return level == 0
	default:
		return false
	}
}

func (c *Config) Validate() error {
	// Validate database configuration; a full URI supersedes host/port
	if c.Database.URI == "" {
		if c.Database.Host == "" {
			return ErrDatabaseHostRequired
		}
		if c.Database.Port < 1 || c.Database.Port > 65535 {
			return fmt.Errorf("%w, got %d", ErrDatabasePortInvalid, c.Database.Port)
		}
	}
	// The database name doubles as the artifact name prefix, so every mode
	// needs it even when no connection is made
	if c.Database.Name == "" {
		return ErrDatabaseNameRequired
	}

	if c.Collection == "" {
		return ErrCollectionRequired
	}
	if !isValidCollectionName(c.Collection) {
		return fmt.Errorf("%w: '%s'", ErrCollectionInvalid, c.Collection)
	}

	switch c.Mode {
	case ModeDump:
		if c.Field == "" {
			return ErrFieldRequired
		}
		if !validFieldPath.MatchString(c.Field) {
			return fmt.Errorf("%w: '%s'", ErrFieldInvalid, c.Field)
		}
		if c.OutputDir == "" {
			return ErrOutputDirRequired
		}
		if c.BatchSize < 1 || c.BatchSize > 100000 {
			return fmt.Errorf("%w, got %d", ErrBatchSizeInvalid, c.BatchSize)
		}
		if c.MaxDocsPerRange < 1 {
			return fmt.Errorf("%w, got %d", ErrMaxDocsPerRangeInvalid, c.MaxDocsPerRange)
		}
		if !isValidCompression(c.Compression) {
			return fmt.Errorf("%w: '%s'", ErrCompressionInvalid, c.Compression)
		}
		if !isValidCompressionLevel(c.Compression, c.CompressionLevel) {
			return fmt.Errorf("%w for compression %s: got %d", ErrCompressionLevelInvalid, c.Compression, c.CompressionLevel)
		}

		// S3 upload is optional; when an endpoint is set the rest follows
		if c.S3.Endpoint != "" {
			if c.S3.Bucket == "" {
				return ErrS3BucketRequired
			}
			if c.S3.AccessKey == "" {
				return ErrS3AccessKeyRequired
			}
			if c.S3.SecretKey == "" {
				return ErrS3SecretKeyRequired
			}
		}

	case ModeRestore:
		if c.InputDir == "" {
			return ErrInputDirRequired
		}
		// Restore batches inserts on the same knob as dump
		if c.BatchSize < 1 || c.BatchSize > 100000 {
			return fmt.Errorf("%w, got %d", ErrBatchSizeInvalid, c.BatchSize)
		}

	case ModeClean:
		if c.OutputDir == "" {
			return ErrOutputDirRequired
		}
	}

	for _, key := range c.Units {
		if !IsValidUnitKey(key) {
			return fmt.Errorf("%w: '%s'", ErrUnitKeyFilterInvalid, key)
		}
	}

	return nil
}
