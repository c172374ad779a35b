package provider

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/Skryldev/image-uploader/config"
	"github.com/Skryldev/image-uploader/core"
	apperrors "github.com/Skryldev/image-uploader/errors"
)

// FromConfig builds one provider.  timeout bounds HTTP round trips; the
// orchestrator applies its own per-attempt deadline on top.
func FromConfig(ctx context.Context, pc config.ProviderConfig, timeout time.Duration) (core.Provider, error) {
	switch pc.Kind {
	case config.ProviderHTTP:
		var client *http.Client
		if timeout > 0 {
			client = &http.Client{Timeout: timeout}
		}
		return NewHTTPForm(HTTPFormConfig{
			Name:      pc.Name,
			Endpoint:  pc.Endpoint,
			FileField: pc.FileField,
			Fields:    pc.Fields,
			Headers:   pc.Headers,
			URLPath:   pc.URLPath,
			RateLimit: pc.RateLimit,
			Burst:     pc.Burst,
			Client:    client,
		})
	case config.ProviderLocal:
		return NewLocal(pc.Name, pc.Dir, pc.BaseURL, 0)
	case config.ProviderS3:
		return NewS3(ctx, S3Config{
			Name:            pc.Name,
			Bucket:          pc.Bucket,
			Region:          pc.Region,
			Endpoint:        pc.Endpoint,
			Prefix:          pc.Prefix,
			AccessKeyID:     pc.AccessKeyID,
			SecretAccessKey: pc.SecretAccessKey,
			UsePathStyle:    pc.UsePathStyle,
			PublicURL:       pc.PublicURL,
		})
	}
	return nil, apperrors.New(apperrors.CategoryConfig, "provider",
		fmt.Errorf("provider %q: unknown kind %q", pc.Name, pc.Kind))
}

// BuildSet builds every configured provider, keeping declaration order.
func BuildSet(ctx context.Context, pcs []config.ProviderConfig, timeout time.Duration) (*core.ProviderSet, error) {
	providers := make([]core.Provider, 0, len(pcs))
	for _, pc := range pcs {
		p, err := FromConfig(ctx, pc, timeout)
		if err != nil {
			return nil, err
		}
		providers = append(providers, p)
	}
	return core.NewProviderSet(providers...)
}
