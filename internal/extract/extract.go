// Package extract acquires the sales extract and returns a local CSV path.
//
// Sources, in priority order:
//   - SourceFile: a local CSV, used as is
//   - SourceURL: a CSV, a zip archive, or an HTML index page linking to one
//   - the Kaggle dataset download API (basic auth with KAGGLE_USERNAME/KAGGLE_KEY)
//
// Downloads land under <DataDir>/raw. Archives are unpacked there and the
// largest *.csv underneath is chosen.
package extract

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"salesdw/internal/logging"
	"salesdw/internal/metrics"
)

// DefaultKaggleAPI is the Kaggle public API root.
const DefaultKaggleAPI = "https://www.kaggle.com/api/v1"

var (
	// ErrMissingCredentials is returned before any network call when a Kaggle
	// download is needed but KAGGLE_USERNAME or KAGGLE_KEY is empty.
	ErrMissingCredentials = errors.New("kaggle credentials not found: set KAGGLE_USERNAME and KAGGLE_KEY (for example in .env)")

	// ErrNoCSV means the extracted directory holds no *.csv file.
	ErrNoCSV = errors.New("no csv files found")
)

// Config selects and parameterizes the source.
type Config struct {
	Dataset  string
	Username string
	Key      string

	SourceURL  string
	SourceFile string

	DataDir string

	// KaggleAPI overrides DefaultKaggleAPI.
	KaggleAPI string
}

// Extractor fetches the source file.
type Extractor struct {
	cfg    Config
	client *http.Client
	log    logging.Logger
}

// New returns an Extractor. A nil client gets a client with a 5 minute
// timeout.
func New(cfg Config, client *http.Client, log logging.Logger) *Extractor {
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Minute}
	}
	if log == nil {
		log = logging.Nop()
	}
	if cfg.KaggleAPI == "" {
		cfg.KaggleAPI = DefaultKaggleAPI
	}
	return &Extractor{cfg: cfg, client: client, log: log}
}

// RawDir is where downloads and unpacked archives are written.
func (e *Extractor) RawDir() string {
	return filepath.Join(e.cfg.DataDir, "raw")
}

// Extract returns the path of the CSV to load.
//
// Errors:
//   - ErrMissingCredentials for a Kaggle download without credentials
//   - ErrNoCSV when nothing usable was found
//   - HTTP status errors (non-2xx) and I/O errors, wrapped
func (e *Extractor) Extract(ctx context.Context) (string, error) {
	if p := strings.TrimSpace(e.cfg.SourceFile); p != "" {
		st, err := os.Stat(p)
		if err != nil {
			return "", fmt.Errorf("source file: %w", err)
		}
		if st.IsDir() {
			return FindLargestCSV(p)
		}
		e.log.Infof("using local source file %s", p)
		return p, nil
	}

	if err := os.MkdirAll(e.RawDir(), 0o755); err != nil {
		return "", fmt.Errorf("create raw dir: %w", err)
	}

	if u := strings.TrimSpace(e.cfg.SourceURL); u != "" {
		return e.fromURL(ctx, u)
	}
	return e.fromKaggle(ctx)
}

func (e *Extractor) fromKaggle(ctx context.Context) (string, error) {
	if strings.TrimSpace(e.cfg.Username) == "" || strings.TrimSpace(e.cfg.Key) == "" {
		return "", ErrMissingCredentials
	}
	slug := strings.Trim(strings.TrimSpace(e.cfg.Dataset), "/")
	if strings.Count(slug, "/") != 1 {
		return "", fmt.Errorf("kaggle dataset %q: want owner/name", e.cfg.Dataset)
	}

	u := strings.TrimRight(e.cfg.KaggleAPI, "/") + "/datasets/download/" + slug
	dest := filepath.Join(e.RawDir(), path.Base(slug)+".zip")

	e.log.Infof("downloading kaggle dataset %s", slug)
	if _, err := e.download(ctx, u, dest, true); err != nil {
		if errors.Is(err, errUnauthorized) {
			return "", fmt.Errorf("kaggle: authentication failed; verify KAGGLE_USERNAME/KAGGLE_KEY: %w", err)
		}
		return "", fmt.Errorf("kaggle: %w", err)
	}

	if err := Unzip(dest, e.RawDir()); err != nil {
		return "", err
	}
	e.log.Infof("dataset extracted to %s", e.RawDir())
	return e.pick()
}

// fromURL downloads u. An HTML response is treated as an index page and the
// first link to a .csv or .zip is followed once.
func (e *Extractor) fromURL(ctx context.Context, u string) (string, error) {
	for hop := 0; hop < 2; hop++ {
		name := path.Base(urlPath(u))
		if name == "" || name == "." || name == "/" {
			name = "source"
		}
		dest := filepath.Join(e.RawDir(), name)

		ct, err := e.download(ctx, u, dest, false)
		if err != nil {
			return "", fmt.Errorf("source url: %w", err)
		}

		kind, err := sniff(dest, ct)
		if err != nil {
			return "", err
		}
		switch kind {
		case kindZip:
			if err := Unzip(dest, e.RawDir()); err != nil {
				return "", err
			}
			return e.pick()
		case kindHTML:
			page, err := os.ReadFile(dest)
			if err != nil {
				return "", err
			}
			_ = os.Remove(dest)
			next, err := ResolveDataLink(u, page)
			if err != nil {
				return "", err
			}
			e.log.Infof("index page %s links to %s", u, next)
			u = next
		default:
			if !strings.EqualFold(filepath.Ext(dest), ".csv") {
				renamed := dest + ".csv"
				if err := os.Rename(dest, renamed); err != nil {
					return "", err
				}
				dest = renamed
			}
			e.log.Infof("using CSV file %s", dest)
			return dest, nil
		}
	}
	return "", fmt.Errorf("source url: index page did not lead to a data file")
}

func (e *Extractor) pick() (string, error) {
	p, err := FindLargestCSV(e.RawDir())
	if err != nil {
		return "", err
	}
	e.log.Infof("using CSV file %s", p)
	return p, nil
}

var errUnauthorized = errors.New("unauthorized")

// download GETs u into dest atomically and returns the response content type.
func (e *Extractor) download(ctx context.Context, u, dest string, auth bool) (string, error) {
	start := time.Now()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return "", err
	}
	if auth {
		req.SetBasicAuth(strings.TrimSpace(e.cfg.Username), strings.TrimSpace(e.cfg.Key))
	}
	req.Header.Set("User-Agent", "salesdw/1")

	resp, err := e.client.Do(req)
	if err != nil {
		metrics.RecordHTTP(0, err, time.Since(start), 0)
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		n, _ := io.Copy(io.Discard, resp.Body)
		metrics.RecordHTTP(resp.StatusCode, nil, time.Since(start), n)
		if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
			return "", fmt.Errorf("GET %s: %s: %w", u, resp.Status, errUnauthorized)
		}
		return "", fmt.Errorf("GET %s: %s", u, resp.Status)
	}

	n, err := writeBodyToFile(dest, resp.Body)
	metrics.RecordHTTP(resp.StatusCode, err, time.Since(start), n)
	if err != nil {
		return "", fmt.Errorf("write %s: %w", dest, err)
	}
	e.log.Infof("downloaded %s bytes=%d", u, n)
	return resp.Header.Get("Content-Type"), nil
}

// writeBodyToFile writes r to outputPath through a temp file in the same
// directory and renames it into place. Returns the number of bytes written.
func writeBodyToFile(outputPath string, r io.Reader) (int64, error) {
	tmp, err := os.CreateTemp(filepath.Dir(outputPath), ".download-*")
	if err != nil {
		return 0, err
	}
	tmpName := tmp.Name()

	n, copyErr := io.Copy(tmp, r)
	closeErr := tmp.Close()

	if copyErr != nil {
		_ = os.Remove(tmpName)
		return n, copyErr
	}
	if closeErr != nil {
		_ = os.Remove(tmpName)
		return n, closeErr
	}
	if err := os.Rename(tmpName, outputPath); err != nil {
		_ = os.Remove(tmpName)
		return n, err
	}
	return n, nil
}

type contentKind int

const (
	kindCSV contentKind = iota
	kindZip
	kindHTML
)

// sniff classifies a downloaded file by magic bytes, falling back to the
// declared content type for HTML.
func sniff(p, contentType string) (contentKind, error) {
	f, err := os.Open(p)
	if err != nil {
		return kindCSV, err
	}
	defer f.Close()

	head := make([]byte, 512)
	n, _ := io.ReadFull(f, head)
	head = head[:n]

	if bytes.HasPrefix(head, []byte("PK\x03\x04")) {
		return kindZip, nil
	}
	if strings.Contains(strings.ToLower(contentType), "html") {
		return kindHTML, nil
	}
	trimmed := bytes.ToLower(bytes.TrimSpace(head))
	if bytes.HasPrefix(trimmed, []byte("<!doctype html")) || bytes.HasPrefix(trimmed, []byte("<html")) {
		return kindHTML, nil
	}
	return kindCSV, nil
}

func urlPath(u string) string {
	pu, err := url.Parse(u)
	if err != nil {
		return u
	}
	return pu.Path
}
