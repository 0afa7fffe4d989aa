package insituutil

import (
	"context"
	"io/ioutil"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func helperLog(t *testing.T) chan string {
	outChan := make(chan string)
	go func() {
		for {
			msg := <-outChan
			t.Logf(msg)
		}
	}()
	return outChan
}

func TestMaybeDownloadLocal(t *testing.T) {
	ctx := context.Background()
	if k := maybeDownload(ctx, "/dev/null", helperLog(t)); k != "/dev/null" {
		t.Error("Expected /dev/null, got ", k)
	}
}

func TestMaybeDownloadLocal2(t *testing.T) {
	ctx := context.Background()
	if k := maybeDownload(ctx, "/blah/test/", helperLog(t)); k != "/blah/test/" {
		t.Error("Expected /blah/test/, got ", k)
	}
}

func TestMaybeDownloadRemoteFail(t *testing.T) {
	ctx := context.Background()
	if k := maybeDownload(ctx, "http://blah/test/", helperLog(t)); k != "http://blah/test/" {
		t.Error("Expected http://blah/test/, got ", k)
	}
}

func TestMaybeDownloadRemote(t *testing.T) {
	dir, err := ioutil.TempDir("", "insituutil")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(dir)
	if err := ioutil.WriteFile(filepath.Join(dir, "catalog.toml"), []byte("[Products]\n"), 0644); err != nil {
		t.Fatal(err)
	}
	srv := httptest.NewServer(http.FileServer(http.Dir(dir)))
	defer srv.Close()
	ctx := context.Background()
	k := maybeDownload(ctx, srv.URL+"/catalog.toml", helperLog(t))
	if !strings.HasSuffix(k, "catalog.toml") || k == srv.URL+"/catalog.toml" {
		t.Error("Expected tempDir/catalog.toml, got ", k)
	}
	b, err := ioutil.ReadFile(k)
	if err != nil {
		t.Fatal(err)
	}
	if string(b) != "[Products]\n" {
		t.Errorf("downloaded content: %q", b)
	}
}

func TestIsBlob(t *testing.T) {
	for path, want := range map[string]bool{
		"gs://bucket/obj.nc":   true,
		"s3://bucket/obj.nc":   true,
		"file://dir/obj.nc":    true,
		"http://host/obj.nc":   false,
		"/local/path/obj.nc":   false,
		"relative/path/obj.nc": false,
	} {
		if have := IsBlob(path); have != want {
			t.Errorf("IsBlob(%q): want %v but have %v", path, want, have)
		}
	}
}

func TestOpenBucketInvalid(t *testing.T) {
	_, err := OpenBucket(context.Background(), "ftp://bucket")
	if err == nil {
		t.Fatal("expected an error for an ftp bucket")
	}
	if want := "insituutil.OpenBucket: invalid provider ftp"; err.Error() != want {
		t.Errorf("want %q but have %q", want, err.Error())
	}
}
