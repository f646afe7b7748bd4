// Package attach downloads image attachments under hard resource limits.
// The ingestor is a resource-exhaustion guard: declared content lengths are
// untrustworthy, so the body is streamed and aborted the instant the running
// total exceeds the byte cap.
package attach

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/pingpal-io/pingpal/pkg/logger"
)

const maxRedirects = 3

// Descriptor is an attachment as reported by the chat platform.
type Descriptor struct {
	URL         string
	ContentType string // declared by the platform, may be wrong
	Size        int64  // declared, untrustworthy
}

// Image is a successfully ingested attachment.
type Image struct {
	Data     []byte
	MimeType string
}

// Ingestor downloads attachments with per-item byte, redirect, and time caps.
type Ingestor struct {
	client   *http.Client
	maxBytes int64
	timeout  time.Duration
}

// NewIngestor builds an Ingestor. client may be nil for a default client
// with the redirect cap applied.
func NewIngestor(client *http.Client, maxBytes int64, timeout time.Duration) *Ingestor {
	if client == nil {
		client = &http.Client{}
	}
	// Preserve any injected transport but always own the redirect policy.
	client.CheckRedirect = func(req *http.Request, via []*http.Request) error {
		if len(via) >= maxRedirects {
			return fmt.Errorf("stopped after %d redirects", maxRedirects)
		}
		return nil
	}
	return &Ingestor{client: client, maxBytes: maxBytes, timeout: timeout}
}

// Ingest downloads every image attachment in descs. Attachments that are not
// images, fail to download, or violate limits are skipped and logged
// individually; one bad attachment never aborts the others.
func (in *Ingestor) Ingest(ctx context.Context, descs []Descriptor) []Image {
	var out []Image
	for _, d := range descs {
		img, err := in.ingestOne(ctx, d)
		if err != nil {
			logger.WarnCF("attach", "Attachment skipped", map[string]interface{}{
				"url":   d.URL,
				"error": err.Error(),
			})
			continue
		}
		out = append(out, img)
	}
	return out
}

func (in *Ingestor) ingestOne(ctx context.Context, d Descriptor) (Image, error) {
	if !strings.HasPrefix(d.ContentType, "image/") {
		return Image{}, fmt.Errorf("not an image: declared type %q", d.ContentType)
	}
	if d.Size > in.maxBytes {
		return Image{}, fmt.Errorf("declared size %d exceeds cap %d", d.Size, in.maxBytes)
	}

	dlCtx, cancel := context.WithTimeout(ctx, in.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(dlCtx, http.MethodGet, d.URL, nil)
	if err != nil {
		return Image{}, err
	}
	resp, err := in.client.Do(req)
	if err != nil {
		return Image{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Image{}, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	mimeType := resp.Header.Get("Content-Type")
	if mimeType == "" {
		mimeType = d.ContentType
	}
	if !strings.HasPrefix(mimeType, "image/") {
		return Image{}, fmt.Errorf("resolved type %q is not an image", mimeType)
	}
	if resp.ContentLength > in.maxBytes {
		return Image{}, fmt.Errorf("content-length %d exceeds cap %d", resp.ContentLength, in.maxBytes)
	}

	data, err := readCapped(resp.Body, in.maxBytes)
	if err != nil {
		return Image{}, err
	}
	if idx := strings.IndexByte(mimeType, ';'); idx >= 0 {
		mimeType = strings.TrimSpace(mimeType[:idx])
	}
	return Image{Data: data, MimeType: mimeType}, nil
}

// readCapped reads r fully, aborting as soon as the running total exceeds cap.
func readCapped(r io.Reader, limit int64) ([]byte, error) {
	buf := make([]byte, 0, 32*1024)
	chunk := make([]byte, 32*1024)
	var total int64
	for {
		n, err := r.Read(chunk)
		if n > 0 {
			total += int64(n)
			if total > limit {
				return nil, fmt.Errorf("body exceeds byte cap %d mid-stream", limit)
			}
			buf = append(buf, chunk[:n]...)
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return buf, nil
			}
			return nil, err
		}
	}
}
