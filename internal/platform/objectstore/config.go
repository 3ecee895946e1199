package objectstore

import (
	"errors"
	"fmt"
	"strings"

	"github.com/quickrail-labs/quickrail-go/internal/platform/env"
)

type Config struct {
	Endpoint    string
	AccessKey   string
	SecretKey   string
	Region      string
	UseSSL      bool
	BucketMedia string
	// MediaPrefix is the key prefix of a case's media; "{case_id}" is replaced.
	MediaPrefix string
}

func ConfigFromEnv() (Config, error) {
	useSSL, err := env.Bool("RUNENGINE_MINIO_USE_SSL", false)
	if err != nil {
		return Config{}, err
	}
	cfg := Config{
		Endpoint:    env.String("RUNENGINE_MINIO_ENDPOINT", "localhost:9000"),
		AccessKey:   env.String("RUNENGINE_MINIO_ACCESS_KEY", "quickrail"),
		SecretKey:   env.String("RUNENGINE_MINIO_SECRET_KEY", "quickrailminio"),
		Region:      env.String("RUNENGINE_MINIO_REGION", "us-east-1"),
		UseSSL:      useSSL,
		BucketMedia: env.String("RUNENGINE_MINIO_BUCKET_MEDIA", "case-media"),
		MediaPrefix: env.String("RUNENGINE_MINIO_MEDIA_PREFIX", "cases/{case_id}/media/"),
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.Endpoint) == "" {
		return errors.New("endpoint is required")
	}
	if strings.Contains(c.Endpoint, "://") {
		return fmt.Errorf("endpoint must not include scheme: %q", c.Endpoint)
	}
	if strings.TrimSpace(c.AccessKey) == "" {
		return errors.New("access key is required")
	}
	if strings.TrimSpace(c.SecretKey) == "" {
		return errors.New("secret key is required")
	}
	if strings.TrimSpace(c.Region) == "" {
		return errors.New("region is required")
	}
	if strings.TrimSpace(c.BucketMedia) == "" {
		return errors.New("media bucket is required")
	}
	if !strings.Contains(c.MediaPrefix, "{case_id}") {
		return fmt.Errorf("media prefix must contain {case_id}: %q", c.MediaPrefix)
	}
	return nil
}

func (c Config) mediaPrefix(caseID string) string {
	return strings.ReplaceAll(c.MediaPrefix, "{case_id}", caseID)
}
