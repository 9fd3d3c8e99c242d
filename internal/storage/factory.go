package storage

import (
	"context"
	"fmt"
	"strings"

	apperrors "mysql-porter/internal/errors"
)

// Factory creates providers from configuration
type Factory struct{}

// NewFactory creates a new provider factory
func NewFactory() *Factory {
	return &Factory{}
}

// Create validates config and builds the matching provider
func (f *Factory) Create(ctx context.Context, config Config) (Provider, error) {
	config.SetDefaults()
	if err := config.Validate(); err != nil {
		return nil, apperrors.NewAppError(apperrors.ErrorTypeValidation, "invalid storage configuration", err)
	}

	switch config.Provider {
	case ProviderLocal:
		return NewLocalStore(config.Bucket, config.Local, config.PublicURL)
	case ProviderS3:
		return NewS3Store(config.Bucket, config.S3, config.PublicURL)
	case ProviderGCS:
		return NewGCSStore(ctx, config.Bucket, config.GCS, config.PublicURL)
	case ProviderAzure:
		return NewAzureStore(config.Bucket, config.Azure, config.PublicURL)
	default:
		return nil, apperrors.NewAppError(apperrors.ErrorTypeValidation, fmt.Sprintf("unsupported storage provider: %s", config.Provider), nil)
	}
}

// ForReference builds a provider for the bucket named by ref, reusing the
// credentials of base. The reference scheme must match the configured provider.
func (f *Factory) ForReference(ctx context.Context, base Config, ref Reference) (Provider, error) {
	provider, err := providerForScheme(ref.Scheme)
	if err != nil {
		return nil, err
	}
	if base.Provider == "" {
		base.Provider = provider
	}
	if base.Provider != provider {
		return nil, apperrors.NewAppError(apperrors.ErrorTypeValidation,
			fmt.Sprintf("object reference %s needs a %s provider but %s is configured", ref, provider, base.Provider), nil)
	}
	base.Bucket = ref.Bucket
	return f.Create(ctx, base)
}

// SupportedProviders lists the provider types this build can create
func (f *Factory) SupportedProviders() []ProviderType {
	return []ProviderType{ProviderLocal, ProviderS3, ProviderGCS, ProviderAzure}
}

func providerForScheme(scheme string) (ProviderType, error) {
	switch strings.ToLower(scheme) {
	case "s3":
		return ProviderS3, nil
	case "gs", "gcs":
		return ProviderGCS, nil
	case "azure":
		return ProviderAzure, nil
	case "file":
		return ProviderLocal, nil
	}
	return "", apperrors.NewAppError(apperrors.ErrorTypeValidation, fmt.Sprintf("unsupported object reference scheme %q", scheme), nil)
}
