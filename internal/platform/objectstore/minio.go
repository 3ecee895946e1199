package objectstore

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"path"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"golang.org/x/sync/errgroup"
)

func NewMinIOClient(cfg Config) (*minio.Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return minio.New(cfg.Endpoint, &minio.Options{
		Creds:     credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure:    cfg.UseSSL,
		Region:    cfg.Region,
		Transport: newTransport(),
	})
}

func CheckBucket(ctx context.Context, client *minio.Client, cfg Config) error {
	exists, err := client.BucketExists(ctx, cfg.BucketMedia)
	if err != nil {
		return fmt.Errorf("media bucket exists: %w", err)
	}
	if !exists {
		return fmt.Errorf("media bucket missing: %s", cfg.BucketMedia)
	}
	return nil
}

type objectLister interface {
	ListObjects(ctx context.Context, bucket string, opts minio.ListObjectsOptions) <-chan minio.ObjectInfo
}

// MediaLister reads attachment file names of cases from the media bucket.
type MediaLister struct {
	client      objectLister
	cfg         Config
	concurrency int
}

func NewMediaLister(client objectLister, cfg Config) *MediaLister {
	if client == nil {
		return nil
	}
	return &MediaLister{client: client, cfg: cfg, concurrency: 8}
}

// MediaNames lists object base names under each case's media prefix, sorted.
// Cases without media are absent from the result.
func (l *MediaLister) MediaNames(ctx context.Context, caseIDs []string) (map[string][]string, error) {
	if l == nil || l.client == nil {
		return nil, fmt.Errorf("media lister not initialized")
	}
	out := make(map[string][]string, len(caseIDs))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(l.concurrency)
	for _, caseID := range caseIDs {
		caseID := strings.TrimSpace(caseID)
		if caseID == "" {
			continue
		}
		g.Go(func() error {
			names, err := l.list(gctx, caseID)
			if err != nil {
				return fmt.Errorf("list media for case %s: %w", caseID, err)
			}
			if len(names) == 0 {
				return nil
			}
			mu.Lock()
			out[caseID] = names
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func (l *MediaLister) list(ctx context.Context, caseID string) ([]string, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var names []string
	for obj := range l.client.ListObjects(ctx, l.cfg.BucketMedia, minio.ListObjectsOptions{
		Prefix:    l.cfg.mediaPrefix(caseID),
		Recursive: true,
	}) {
		if obj.Err != nil {
			return nil, obj.Err
		}
		if strings.HasSuffix(obj.Key, "/") {
			continue
		}
		names = append(names, path.Base(obj.Key))
	}
	sort.Strings(names)
	return names, nil
}

func newTransport() *http.Transport {
	dialer := &net.Dialer{
		Timeout:   5 * time.Second,
		KeepAlive: 30 * time.Second,
	}
	return &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   5 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
}
