package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/aiidateam/renku2-aiida-integration/internal/constants"
	bterrors "github.com/aiidateam/renku2-aiida-integration/internal/errors"
	"github.com/aiidateam/renku2-aiida-integration/internal/locator"
)

const (
	defaultMaxTries      = 3
	defaultRetryInterval = 250 * time.Millisecond
	maxRecordBytes       = 4 << 20
	recordsAPIPath       = "/api/records"
)

// FetcherConfig configures a Fetcher. Zero values select defaults.
type FetcherConfig struct {
	// BaseURL overrides the records API root. Defaults to <locator host>/api/records.
	BaseURL string

	// Timeout bounds the whole fetch including retries.
	Timeout time.Duration

	MaxTries      uint
	RetryInterval time.Duration
	HTTPClient    *http.Client
	Logger        *slog.Logger
}

// Fetcher resolves valid locators against the remote catalog.
type Fetcher struct {
	baseURL       string
	timeout       time.Duration
	maxTries      uint
	retryInterval time.Duration
	client        *http.Client
	logger        *slog.Logger
}

// NewFetcher creates a Fetcher.
func NewFetcher(cfg FetcherConfig) *Fetcher {
	f := &Fetcher{
		baseURL:       strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
		timeout:       cfg.Timeout,
		maxTries:      cfg.MaxTries,
		retryInterval: cfg.RetryInterval,
		client:        cfg.HTTPClient,
		logger:        cfg.Logger,
	}
	if f.timeout <= 0 {
		f.timeout = constants.CatalogTimeout
	}
	if f.maxTries == 0 {
		f.maxTries = defaultMaxTries
	}
	if f.retryInterval <= 0 {
		f.retryInterval = defaultRetryInterval
	}
	if f.client == nil {
		f.client = &http.Client{}
	}
	if f.logger == nil {
		f.logger = slog.Default()
	}
	return f
}

// Fetch returns catalog metadata for loc. It never fails: any catalog problem
// yields DegradedMetadata, which callers recognise by its empty title.
func (f *Fetcher) Fetch(ctx context.Context, loc locator.Locator) Metadata {
	degraded := DegradedMetadata(loc)
	if !loc.IsValid() {
		return degraded
	}

	rec, err := f.fetchRecord(ctx, loc)
	if err != nil {
		f.logger.Warn("catalog fetch failed, using degraded metadata",
			"record_id", loc.RecordID,
			"error", err,
			"hint", bterrors.HintOf(err),
		)
		return degraded
	}

	md := degraded
	md.Title = rec.title()
	md.DOI = rec.doi()
	md.MCAEntry = rec.entry()
	return md
}

// RecordURL returns the catalog endpoint queried for loc.
func (f *Fetcher) RecordURL(loc locator.Locator) (string, error) {
	base := f.baseURL
	if base == "" {
		host := loc.Host()
		if host == "" {
			return "", fmt.Errorf("locator %q has no host and no catalog base URL is configured", loc.Normalized)
		}
		base = host + recordsAPIPath
	}
	return base + "/" + url.PathEscape(loc.RecordID), nil
}

func (f *Fetcher) fetchRecord(ctx context.Context, loc locator.Locator) (catalogRecord, error) {
	wrap := func(err error) error {
		return bterrors.Wrap(err, bterrors.KindMetadataFetchFailed,
			"the notebook will show the archive file name only; re-run bootstrap once the catalog is reachable")
	}

	endpoint, err := f.RecordURL(loc)
	if err != nil {
		return catalogRecord{}, wrap(err)
	}

	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = f.retryInterval
	policy.MaxInterval = f.timeout / 2

	operation := func() (catalogRecord, error) {
		return f.fetchOnce(ctx, endpoint)
	}
	notify := func(err error, next time.Duration) {
		f.logger.Debug("catalog request failed, retrying", "url", endpoint, "error", err, "backoff", next)
	}

	rec, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(policy),
		backoff.WithMaxTries(f.maxTries),
		backoff.WithMaxElapsedTime(f.timeout),
		backoff.WithNotify(notify),
	)
	if err != nil {
		return catalogRecord{}, wrap(fmt.Errorf("fetch %s: %w", endpoint, err))
	}
	return rec, nil
}

func (f *Fetcher) fetchOnce(ctx context.Context, endpoint string) (catalogRecord, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return catalogRecord{}, backoff.Permanent(fmt.Errorf("build request: %w", err))
	}
	req.Header.Set("Accept", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		return catalogRecord{}, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxRecordBytes))
	if err != nil {
		return catalogRecord{}, fmt.Errorf("read response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= http.StatusInternalServerError:
		return catalogRecord{}, fmt.Errorf("catalog returned %s", resp.Status)
	case resp.StatusCode != http.StatusOK:
		return catalogRecord{}, backoff.Permanent(fmt.Errorf("catalog returned %s", resp.Status))
	}

	if err := validateRecord(body); err != nil {
		return catalogRecord{}, backoff.Permanent(err)
	}
	var rec catalogRecord
	if err := json.Unmarshal(body, &rec); err != nil {
		return catalogRecord{}, backoff.Permanent(fmt.Errorf("decode record: %w", err))
	}
	return rec, nil
}

// catalogRecord accepts both flat and InvenioRDM shaped responses.
type catalogRecord struct {
	ID       json.RawMessage `json:"id"`
	Title    string          `json:"title"`
	DOI      string          `json:"doi"`
	MCAEntry json.RawMessage `json:"mca_entry"`
	Metadata struct {
		Title       string          `json:"title"`
		DOI         string          `json:"doi"`
		MCAEntry    json.RawMessage `json:"mca_entry"`
		Identifiers []struct {
			Scheme     string `json:"scheme"`
			Identifier string `json:"identifier"`
		} `json:"identifiers"`
	} `json:"metadata"`
	PIDs struct {
		DOI struct {
			Identifier string `json:"identifier"`
		} `json:"doi"`
	} `json:"pids"`
}

func (r catalogRecord) title() string {
	return firstNonEmpty(r.Title, r.Metadata.Title)
}

// doi prefers a "doi" entry of metadata.identifiers over the other fields.
func (r catalogRecord) doi() string {
	var listed string
	for _, id := range r.Metadata.Identifiers {
		if strings.EqualFold(strings.TrimSpace(id.Scheme), "doi") && strings.TrimSpace(id.Identifier) != "" {
			listed = id.Identifier
			break
		}
	}
	return firstNonEmpty(listed, r.DOI, r.Metadata.DOI, r.PIDs.DOI.Identifier)
}

func (r catalogRecord) entry() string {
	return firstNonEmpty(rawScalar(r.MCAEntry), rawScalar(r.Metadata.MCAEntry), rawScalar(r.ID))
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

// rawScalar renders a JSON string or number as text.
func rawScalar(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String()
	}
	return ""
}
