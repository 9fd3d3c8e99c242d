package storage

import (
	"os"
	"strconv"
	"strings"

	apperrors "mysql-porter/internal/errors"
)

// ProviderType identifies an object store backend
type ProviderType string

const (
	ProviderLocal ProviderType = "local"
	ProviderS3    ProviderType = "s3"
	ProviderGCS   ProviderType = "gcs"
	ProviderAzure ProviderType = "azure"
)

// Scheme returns the reference scheme used for objects of this provider.
func (p ProviderType) Scheme() string {
	switch p {
	case ProviderGCS:
		return "gs"
	case ProviderLocal:
		return "file"
	default:
		return string(p)
	}
}

// Config selects and configures one bucket on one provider
type Config struct {
	Provider ProviderType `mapstructure:"provider" yaml:"provider"`
	Bucket   string       `mapstructure:"bucket" yaml:"bucket"`
	// Prefix is prepended to keys of exported dumps.
	Prefix string `mapstructure:"prefix" yaml:"prefix,omitempty"`
	// PublicURL overrides the base of public links.
	PublicURL string `mapstructure:"public_url" yaml:"public_url,omitempty"`

	Local *LocalConfig `mapstructure:"local" yaml:"local,omitempty"`
	S3    *S3Config    `mapstructure:"s3" yaml:"s3,omitempty"`
	GCS   *GCSConfig   `mapstructure:"gcs" yaml:"gcs,omitempty"`
	Azure *AzureConfig `mapstructure:"azure" yaml:"azure,omitempty"`
}

// LocalConfig for a directory acting as a bucket. Bucket is a subdirectory of BasePath.
type LocalConfig struct {
	BasePath string `mapstructure:"base_path" yaml:"base_path"`
}

// S3Config for Amazon S3 and S3-compatible stores
type S3Config struct {
	Region    string `mapstructure:"region" yaml:"region"`
	AccessKey string `mapstructure:"access_key" yaml:"access_key"`
	SecretKey string `mapstructure:"secret_key" yaml:"secret_key"`
	// Endpoint points at an S3-compatible service instead of AWS.
	Endpoint       string `mapstructure:"endpoint" yaml:"endpoint,omitempty"`
	ForcePathStyle bool   `mapstructure:"force_path_style" yaml:"force_path_style,omitempty"`
}

// GCSConfig for Google Cloud Storage
type GCSConfig struct {
	CredentialsPath string `mapstructure:"credentials_path" yaml:"credentials_path"`
	ProjectID       string `mapstructure:"project_id" yaml:"project_id,omitempty"`
	Endpoint        string `mapstructure:"endpoint" yaml:"endpoint,omitempty"`
}

// AzureConfig for Azure Blob Storage. Bucket is the container name.
type AzureConfig struct {
	AccountName string `mapstructure:"account_name" yaml:"account_name"`
	AccountKey  string `mapstructure:"account_key" yaml:"account_key"`
	Endpoint    string `mapstructure:"endpoint" yaml:"endpoint,omitempty"`
}

// SetDefaults sets default values for storage configuration
func (c *Config) SetDefaults() {
	if c.Provider == "" {
		c.Provider = ProviderLocal
	}
	c.Provider = ProviderType(strings.ToLower(string(c.Provider)))

	switch c.Provider {
	case ProviderLocal:
		if c.Local == nil {
			c.Local = &LocalConfig{}
		}
		if c.Local.BasePath == "" {
			c.Local.BasePath = "./storage"
		}
	case ProviderS3:
		if c.S3 == nil {
			c.S3 = &S3Config{}
		}
		if c.S3.Region == "" {
			c.S3.Region = "us-east-1"
		}
	case ProviderGCS:
		if c.GCS == nil {
			c.GCS = &GCSConfig{}
		}
		if c.GCS.CredentialsPath == "" {
			c.GCS.CredentialsPath = os.Getenv("GOOGLE_APPLICATION_CREDENTIALS")
		}
	case ProviderAzure:
		if c.Azure == nil {
			c.Azure = &AzureConfig{}
		}
	}
}

// LoadFromEnvironment overrides fields from variables named <prefix>_PROVIDER,
// <prefix>_BUCKET, <prefix>_ACCESS_KEY and so on.
func (c *Config) LoadFromEnvironment(prefix string) {
	env := func(name string) string {
		return os.Getenv(prefix + "_" + name)
	}

	if val := env("PROVIDER"); val != "" {
		c.Provider = ProviderType(strings.ToLower(val))
	}
	if val := env("BUCKET"); val != "" {
		c.Bucket = val
	}
	if val := env("PREFIX"); val != "" {
		c.Prefix = val
	}
	if val := env("PUBLIC_URL"); val != "" {
		c.PublicURL = val
	}

	c.SetDefaults()
	switch c.Provider {
	case ProviderLocal:
		if val := env("BASE_PATH"); val != "" {
			c.Local.BasePath = val
		}
	case ProviderS3:
		if val := env("REGION"); val != "" {
			c.S3.Region = val
		}
		if val := env("ACCESS_KEY"); val != "" {
			c.S3.AccessKey = val
		}
		if val := env("SECRET_KEY"); val != "" {
			c.S3.SecretKey = val
		}
		if val := env("ENDPOINT"); val != "" {
			c.S3.Endpoint = val
		}
		if val := env("FORCE_PATH_STYLE"); val != "" {
			if parsed, err := strconv.ParseBool(val); err == nil {
				c.S3.ForcePathStyle = parsed
			}
		}
	case ProviderGCS:
		if val := env("CREDENTIALS_PATH"); val != "" {
			c.GCS.CredentialsPath = val
		}
		if val := env("PROJECT_ID"); val != "" {
			c.GCS.ProjectID = val
		}
		if val := env("ENDPOINT"); val != "" {
			c.GCS.Endpoint = val
		}
	case ProviderAzure:
		if val := env("ACCOUNT_NAME"); val != "" {
			c.Azure.AccountName = val
		}
		if val := env("ACCOUNT_KEY"); val != "" {
			c.Azure.AccountKey = val
		}
		if val := env("ENDPOINT"); val != "" {
			c.Azure.Endpoint = val
		}
	}
}

// Validate validates the storage configuration
func (c *Config) Validate() error {
	var errors apperrors.ValidationErrors

	if c.Bucket == "" {
		errors.Add("bucket", "bucket name is required", c.Bucket)
	}

	switch c.Provider {
	case ProviderLocal:
		if c.Local == nil || c.Local.BasePath == "" {
			errors.Add("local.base_path", "local base path is required", nil)
		}
		if strings.ContainsAny(c.Bucket, `/\`) || c.Bucket == ".." {
			errors.Add("bucket", "local bucket must be a plain directory name", c.Bucket)
		}
	case ProviderS3:
		if c.S3 == nil {
			errors.Add("s3", "S3 storage configuration is required", nil)
			break
		}
		if c.S3.Region == "" {
			errors.Add("s3.region", "S3 region is required", c.S3.Region)
		}
		if (c.S3.AccessKey == "") != (c.S3.SecretKey == "") {
			errors.Add("s3.secret_key", "S3 access key and secret key must be set together", nil)
		}
	case ProviderGCS:
		if c.GCS == nil {
			errors.Add("gcs", "GCS storage configuration is required", nil)
		}
	case ProviderAzure:
		if c.Azure == nil {
			errors.Add("azure", "Azure storage configuration is required", nil)
			break
		}
		if c.Azure.AccountName == "" {
			errors.Add("azure.account_name", "Azure account name is required", c.Azure.AccountName)
		}
		if c.Azure.AccountKey == "" {
			errors.Add("azure.account_key", "Azure account key is required", nil)
		}
	default:
		errors.Add("provider", "invalid storage provider type", c.Provider)
	}

	return errors.Err()
}
