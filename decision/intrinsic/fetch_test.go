package intrinsic

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gacybercenter/openstack-top-graph/pkg/platform"
)

func TestFileFetcher(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "boot.sh"), []byte("echo boot"), 0o600))

	f := &FileFetcher{BaseDir: dir}
	ctx := context.Background()

	text, err := f.Fetch(ctx, "boot.sh")
	require.NoError(t, err)
	assert.Equal(t, "echo boot", text)

	text, err = f.Fetch(ctx, "file://"+filepath.Join(dir, "boot.sh"))
	require.NoError(t, err)
	assert.Equal(t, "echo boot", text)

	_, err = f.Fetch(ctx, "nope.sh")
	assert.Error(t, err)
}

func TestFileFetcherStaysInBaseDir(t *testing.T) {
	root := t.TempDir()
	base := filepath.Join(root, "templates")
	require.NoError(t, os.MkdirAll(filepath.Join(base, "scripts"), 0o700))
	require.NoError(t, os.WriteFile(filepath.Join(root, "secret.txt"), []byte("hunter2"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(base, "scripts", "ok.sh"), []byte("ok"), 0o600))
	require.NoError(t, os.Symlink(filepath.Join(root, "secret.txt"), filepath.Join(base, "link.txt")))

	f := &FileFetcher{BaseDir: base}
	ctx := context.Background()

	text, err := f.Fetch(ctx, "scripts/../scripts/ok.sh")
	require.NoError(t, err)
	assert.Equal(t, "ok", text)

	for _, uri := range []string{
		"../secret.txt",
		"scripts/../../secret.txt",
		filepath.Join(root, "secret.txt"),
		"file://" + filepath.Join(root, "secret.txt"),
		"link.txt",
	} {
		_, err := f.Fetch(ctx, uri)
		assert.ErrorIs(t, err, errOutsideBaseDir, uri)
	}
}

func TestHTTPFetcher(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/scripts/init.sh" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte("#!/bin/bash"))
	}))
	defer srv.Close()

	f := &HTTPFetcher{Client: platform.NewHTTPClient(0, 5*time.Second)}
	text, err := f.Fetch(context.Background(), srv.URL+"/scripts/init.sh")
	require.NoError(t, err)
	assert.Equal(t, "#!/bin/bash", text)

	_, err = f.Fetch(context.Background(), srv.URL+"/other")
	assert.Error(t, err)
}

type fakeS3 struct {
	bucket, key string
	body        string
	err         error
}

func (f *fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.bucket = aws.ToString(in.Bucket)
	f.key = aws.ToString(in.Key)
	if f.err != nil {
		return nil, f.err
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(strings.NewReader(f.body))}, nil
}

func TestS3Fetcher(t *testing.T) {
	fake := &fakeS3{body: "packages: [nginx]"}
	f := &S3Fetcher{Client: fake}

	text, err := f.Fetch(context.Background(), "s3://heat-files/cloud-init/web.yaml")
	require.NoError(t, err)
	assert.Equal(t, "packages: [nginx]", text)
	assert.Equal(t, "heat-files", fake.bucket)
	assert.Equal(t, "cloud-init/web.yaml", fake.key)

	_, err = f.Fetch(context.Background(), "s3://bucket-only")
	assert.Error(t, err)

	fake.err = errors.New("access denied")
	_, err = f.Fetch(context.Background(), "s3://heat-files/x")
	assert.ErrorContains(t, err, "access denied")
}

func TestSchemeFetcherRouting(t *testing.T) {
	tag := func(name string) Fetcher {
		return FetcherFunc(func(_ context.Context, uri string) (string, error) {
			return name + ":" + uri, nil
		})
	}
	f := &SchemeFetcher{HTTP: tag("http"), File: tag("file"), S3: tag("s3")}
	ctx := context.Background()

	tests := []struct {
		uri  string
		want string
	}{
		{"https://example.com/a", "http:https://example.com/a"},
		{"HTTP://example.com/a", "http:HTTP://example.com/a"},
		{"s3://b/k", "s3:s3://b/k"},
		{"file:///tmp/a", "file:file:///tmp/a"},
		{"scripts/a.sh", "file:scripts/a.sh"},
	}
	for _, tt := range tests {
		got, err := f.Fetch(ctx, tt.uri)
		require.NoError(t, err, tt.uri)
		assert.Equal(t, tt.want, got)
	}

	_, err := f.Fetch(ctx, "ftp://example.com/a")
	assert.ErrorContains(t, err, "unsupported uri scheme")

	_, err = (&SchemeFetcher{}).Fetch(ctx, "https://example.com")
	assert.ErrorIs(t, err, errNoFetcher)
}

func TestSchemeFetcherAllowList(t *testing.T) {
	called := false
	ok := FetcherFunc(func(_ context.Context, uri string) (string, error) {
		called = true
		return uri, nil
	})
	ctx := context.Background()

	f := (&SchemeFetcher{HTTP: ok, File: ok, S3: ok}).Allow("file")
	_, err := f.Fetch(ctx, "scripts/a.sh")
	require.NoError(t, err)
	assert.True(t, called)

	called = false
	for _, uri := range []string{"http://169.254.169.254/latest/meta-data", "s3://bucket/key"} {
		_, err := f.Fetch(ctx, uri)
		assert.ErrorContains(t, err, "not allowed", uri)
	}
	assert.False(t, called)

	none := (&SchemeFetcher{HTTP: ok, File: ok, S3: ok}).Allow()
	_, err = none.Fetch(ctx, "file:///etc/hostname")
	assert.ErrorContains(t, err, `scheme "file" is not allowed`)
	assert.False(t, called)
}
