package model

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"
)

// HTTPFetcher downloads model files over HTTP with progress derived from
// the response content length.
type HTTPFetcher struct {
	client *http.Client
}

// NewHTTPFetcher creates a fetcher with a long-lived HTTP client suitable
// for multi-gigabyte transfers.
func NewHTTPFetcher(timeout time.Duration) *HTTPFetcher {
	return &HTTPFetcher{
		client: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        10,
				MaxIdleConnsPerHost: 2,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
}

// Fetch implements Fetcher. The file is written to a temporary path and
// renamed into place only after the full transfer succeeds.
func (f *HTTPFetcher) Fetch(ctx context.Context, desc Descriptor, dest string, progress func(percent int)) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, desc.URL, nil)
	if err != nil {
		return fmt.Errorf("failed to create download request: %w", err)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return fmt.Errorf("download request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("download failed with HTTP status %d", resp.StatusCode)
	}

	total := resp.ContentLength
	if total <= 0 {
		total = desc.SizeBytes
	}

	tmp := dest + ".partial"
	file, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", tmp, err)
	}

	var written int64
	buf := make([]byte, 256*1024)

	for {
		if err := ctx.Err(); err != nil {
			file.Close()
			os.Remove(tmp)
			return err
		}

		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			if _, writeErr := file.Write(buf[:n]); writeErr != nil {
				file.Close()
				os.Remove(tmp)
				return fmt.Errorf("failed to write %s: %w", tmp, writeErr)
			}

			written += int64(n)
			if total > 0 && progress != nil {
				percent := int(written * 100 / total)
				if percent > 99 {
					percent = 99 // 100 is reserved for the completed rename
				}
				progress(percent)
			}
		}

		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			file.Close()
			os.Remove(tmp)
			return fmt.Errorf("download read failed: %w", readErr)
		}
	}

	if err := file.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to close %s: %w", tmp, err)
	}

	if err := os.Rename(tmp, dest); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to move model into place: %w", err)
	}

	return nil
}

// StagedFetcher simulates a download as a fixed number of timed stages and
// writes a small placeholder file. It backs development setups without
// network access and the registry tests.
type StagedFetcher struct {
	Stages int
	Delay  time.Duration
}

// Fetch implements Fetcher.
func (f *StagedFetcher) Fetch(ctx context.Context, desc Descriptor, dest string, progress func(percent int)) error {
	stages := f.Stages
	if stages <= 0 {
		stages = 10
	}

	for i := 1; i <= stages; i++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(f.Delay):
		}

		if progress != nil {
			percent := i * 100 / stages
			if percent > 99 {
				percent = 99
			}
			progress(percent)
		}
	}

	if err := os.WriteFile(dest, []byte(desc.ID), 0o644); err != nil {
		return fmt.Errorf("failed to write placeholder model: %w", err)
	}

	return nil
}
