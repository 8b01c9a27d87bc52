package services

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"
	"time"

	"userphone/models"

	"github.com/gabriel-vasile/mimetype"
)

const maxAssetBytes = 25 << 20

// AssetFetcher downloads attachment and sticker binaries for re-upload.
type AssetFetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

type HTTPAssetFetcher struct {
	client *http.Client
}

func NewHTTPAssetFetcher(timeout time.Duration) *HTTPAssetFetcher {
	return &HTTPAssetFetcher{client: &http.Client{Timeout: timeout}}
}

func (f *HTTPAssetFetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch asset: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch asset: unexpected status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxAssetBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read asset: %w", err)
	}
	if len(data) > maxAssetBytes {
		return nil, fmt.Errorf("asset larger than %d bytes", maxAssetBytes)
	}
	return data, nil
}

// stickerFile names the sticker by its declared format so animated GIFs stay
// GIFs; APNG keeps the .png extension clients animate.
func stickerFile(st models.Sticker, data []byte) models.File {
	detected := mimetype.Detect(data)

	var ext string
	switch st.Format {
	case models.StickerFormatGIF:
		ext = ".gif"
	case models.StickerFormatPNG, models.StickerFormatAPNG:
		ext = ".png"
	case models.StickerFormatLottie:
		ext = ".json"
	default:
		ext = detected.Extension()
	}
	if ext == "" {
		ext = ".png"
	}
	return models.File{Name: st.ID + ext, ContentType: detected.String(), Data: data}
}

func attachmentFile(att models.Attachment, data []byte) models.File {
	name := att.Filename
	contentType := att.ContentType

	if contentType == "" || path.Ext(name) == "" {
		detected := mimetype.Detect(data)
		if contentType == "" {
			contentType = detected.String()
		}
		if path.Ext(name) == "" {
			name = strings.TrimSuffix(name, ".") + detected.Extension()
		}
	}
	if name == "" {
		name = "attachment"
	}
	return models.File{Name: name, ContentType: contentType, Data: data}
}
