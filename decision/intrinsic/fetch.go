package intrinsic

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/gacybercenter/openstack-top-graph/pkg/platform"
)

// Fetcher retrieves the text behind a get_file uri.
type Fetcher interface {
	Fetch(ctx context.Context, uri string) (string, error)
}

// FetcherFunc adapts a function to the Fetcher interface.
type FetcherFunc func(ctx context.Context, uri string) (string, error)

func (f FetcherFunc) Fetch(ctx context.Context, uri string) (string, error) {
	return f(ctx, uri)
}

var errNoFetcher = errors.New("no fetcher configured")

// =============================================================================
// HTTP
// =============================================================================

// HTTPFetcher fetches http and https uris with retry.
type HTTPFetcher struct {
	Client *platform.HTTPClient
}

func (f *HTTPFetcher) Fetch(ctx context.Context, uri string) (string, error) {
	if f.Client == nil {
		return "", errNoFetcher
	}
	return f.Client.GetText(ctx, uri)
}

// =============================================================================
// LOCAL FILES
// =============================================================================

// FileFetcher reads file:// uris and bare paths. Relative paths resolve
// against BaseDir, and when BaseDir is set nothing outside it is read,
// including through symlinks.
type FileFetcher struct {
	BaseDir string
}

var errOutsideBaseDir = errors.New("path is outside the base directory")

func (f *FileFetcher) Fetch(ctx context.Context, uri string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	path := uri
	if strings.HasPrefix(uri, "file:") {
		u, err := url.Parse(uri)
		if err != nil {
			return "", fmt.Errorf("invalid file uri: %w", err)
		}
		path = u.Path
		if path == "" {
			path = u.Opaque
		}
	}
	path, err := f.confine(path)
	if err != nil {
		return "", err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func (f *FileFetcher) confine(path string) (string, error) {
	if f.BaseDir == "" {
		return path, nil
	}
	base, err := filepath.Abs(f.BaseDir)
	if err != nil {
		return "", err
	}
	if !filepath.IsAbs(path) {
		path = filepath.Join(base, path)
	}
	path = filepath.Clean(path)
	if err := within(base, path); err != nil {
		return "", err
	}

	realBase, err := filepath.EvalSymlinks(base)
	if err != nil {
		return "", err
	}
	realPath, err := filepath.EvalSymlinks(path)
	if err != nil {
		return "", err
	}
	if err := within(realBase, realPath); err != nil {
		return "", err
	}
	return realPath, nil
}

func within(base, path string) error {
	rel, err := filepath.Rel(base, path)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return fmt.Errorf("%w: %s", errOutsideBaseDir, path)
	}
	return nil
}

// =============================================================================
// S3
// =============================================================================

// S3API is the subset of the S3 client used by S3Fetcher.
type S3API interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3Fetcher reads s3://bucket/key uris. When Client is nil a client is built
// on first use from the default AWS credential chain.
type S3Fetcher struct {
	Client S3API
	Region string

	once    sync.Once
	initErr error
}

func (f *S3Fetcher) client(ctx context.Context) (S3API, error) {
	f.once.Do(func() {
		if f.Client != nil {
			return
		}
		var opts []func(*awsconfig.LoadOptions) error
		if f.Region != "" {
			opts = append(opts, awsconfig.WithRegion(f.Region))
		}
		cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
		if err != nil {
			f.initErr = fmt.Errorf("failed to load aws config: %w", err)
			return
		}
		f.Client = s3.NewFromConfig(cfg)
	})
	return f.Client, f.initErr
}

func (f *S3Fetcher) Fetch(ctx context.Context, uri string) (string, error) {
	u, err := url.Parse(uri)
	if err != nil || u.Scheme != "s3" {
		return "", fmt.Errorf("invalid s3 uri %q", uri)
	}
	bucket := u.Host
	key := strings.TrimPrefix(u.Path, "/")
	if bucket == "" || key == "" {
		return "", fmt.Errorf("s3 uri %q needs a bucket and a key", uri)
	}

	client, err := f.client(ctx)
	if err != nil {
		return "", err
	}

	out, err := client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return "", fmt.Errorf("failed to get s3 object: %w", err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(io.LimitReader(out.Body, platform.DefaultMaxBody))
	if err != nil {
		return "", fmt.Errorf("failed to read s3 object: %w", err)
	}
	return string(data), nil
}

// =============================================================================
// ROUTING
// =============================================================================

// SchemeFetcher routes a uri to a fetcher by scheme. Uris without a scheme
// go to File. When Allowed is non-nil only the schemes it lists are served.
type SchemeFetcher struct {
	HTTP Fetcher
	File Fetcher
	S3   Fetcher

	Allowed map[string]bool
}

// NewSchemeFetcher wires the default fetchers.
func NewSchemeFetcher(client *platform.HTTPClient, baseDir, region string) *SchemeFetcher {
	return &SchemeFetcher{
		HTTP: &HTTPFetcher{Client: client},
		File: &FileFetcher{BaseDir: baseDir},
		S3:   &S3Fetcher{Region: region},
	}
}

// Allow restricts f to the given schemes. No schemes disables every fetch.
func (f *SchemeFetcher) Allow(schemes ...string) *SchemeFetcher {
	f.Allowed = make(map[string]bool, len(schemes))
	for _, s := range schemes {
		if s = strings.ToLower(strings.TrimSpace(s)); s != "" {
			f.Allowed[s] = true
		}
	}
	return f
}

func (f *SchemeFetcher) Fetch(ctx context.Context, uri string) (string, error) {
	scheme := uriScheme(uri)
	if f.Allowed != nil {
		name := scheme
		if name == "" {
			name = "file"
		}
		if !f.Allowed[name] {
			return "", fmt.Errorf("get_file scheme %q is not allowed", name)
		}
	}

	var target Fetcher
	switch scheme {
	case "http", "https":
		target = f.HTTP
	case "s3":
		target = f.S3
	case "file", "":
		target = f.File
	default:
		return "", fmt.Errorf("unsupported uri scheme %q", scheme)
	}
	if target == nil {
		return "", errNoFetcher
	}
	return target.Fetch(ctx, uri)
}

func uriScheme(uri string) string {
	i := strings.Index(uri, "://")
	if i <= 0 {
		if strings.HasPrefix(uri, "file:") {
			return "file"
		}
		return ""
	}
	return strings.ToLower(uri[:i])
}
