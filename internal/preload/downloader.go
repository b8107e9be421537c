package preload

import (
	"context"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"time"
)

const (
	defaultMaxConcurrentDownloads = 5
	defaultDownloadAttempts       = 4
	defaultBackoffBase            = 200 * time.Millisecond
	defaultBackoffCap             = 3 * time.Second

	// Assets are speech clips; anything bigger is a pipeline bug.
	maxAssetBytes = 32 << 20
)

// Downloader fetches asset blobs through expiring signed URLs.
//
// Concurrency is bounded by a fixed-size semaphore to respect the object
// store's rate limits no matter how many preloads run at once. Transient
// failures (network errors, 5xx) are retried with exponential backoff plus
// jitter; 4xx responses are fatal because a signed URL does not get better
// with retries.
type Downloader struct {
	http        *http.Client
	sem         chan struct{}
	maxAttempts int
	backoffBase time.Duration
	backoffCap  time.Duration

	sleep  func(ctx context.Context, d time.Duration) error
	jitter func(d time.Duration) time.Duration
}

func NewDownloader(maxConcurrent int) *Downloader {
	if maxConcurrent <= 0 {
		maxConcurrent = defaultMaxConcurrentDownloads
	}
	return &Downloader{
		http:        &http.Client{Timeout: 30 * time.Second},
		sem:         make(chan struct{}, maxConcurrent),
		maxAttempts: defaultDownloadAttempts,
		backoffBase: defaultBackoffBase,
		backoffCap:  defaultBackoffCap,
		sleep: func(ctx context.Context, d time.Duration) error {
			t := time.NewTimer(d)
			defer t.Stop()
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-t.C:
				return nil
			}
		},
		jitter: func(d time.Duration) time.Duration {
			if d <= 0 {
				return 0
			}
			return time.Duration(rand.Int63n(int64(d)/2 + 1))
		},
	}
}

// Fetch downloads one blob, holding a semaphore slot for the duration.
func (d *Downloader) Fetch(ctx context.Context, url string) ([]byte, error) {
	select {
	case d.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	defer func() { <-d.sem }()

	var lastErr error
	for attempt := 1; attempt <= d.maxAttempts; attempt++ {
		data, retryable, err := d.fetchOnce(ctx, url)
		if err == nil {
			return data, nil
		}
		lastErr = err
		if !retryable || attempt == d.maxAttempts {
			break
		}
		delay := d.backoffBase << (attempt - 1)
		if delay > d.backoffCap {
			delay = d.backoffCap
		}
		delay += d.jitter(delay)
		if err := d.sleep(ctx, delay); err != nil {
			return nil, err
		}
	}
	return nil, lastErr
}

func (d *Downloader) fetchOnce(ctx context.Context, url string) (data []byte, retryable bool, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, false, err
	}
	resp, err := d.http.Do(req)
	if err != nil {
		return nil, true, fmt.Errorf("preload: download: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return nil, true, fmt.Errorf("preload: download failed with status %d", resp.StatusCode)
	}
	if resp.StatusCode >= 400 {
		return nil, false, fmt.Errorf("preload: download failed with status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxAssetBytes))
	if err != nil {
		return nil, true, fmt.Errorf("preload: download body: %w", err)
	}
	return body, false, nil
}
