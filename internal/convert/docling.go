package convert

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// DoclingConverter posts files to a docling-serve instance.
type DoclingConverter struct {
	baseURL  string
	strategy Strategy
	client   *http.Client
}

func NewDoclingConverter(baseURL string, strategy Strategy) *DoclingConverter {
	return &DoclingConverter{
		baseURL:  strings.TrimRight(baseURL, "/"),
		strategy: strategy,
		client: &http.Client{
			Timeout:   10 * time.Minute,
			Transport: http.DefaultTransport.(*http.Transport).Clone(),
		},
	}
}

type doclingResponse struct {
	Status   string `json:"status"`
	Errors   []any  `json:"errors"`
	Document struct {
		MDContent string `json:"md_content"`
	} `json:"document"`
}

func (d *DoclingConverter) Convert(ctx context.Context, src Source) (*Conversion, error) {
	f, err := os.Open(src.Path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnreadable, err)
	}
	defer f.Close()

	name := src.Name
	if name == "" {
		name = filepath.Base(src.Path)
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("files", filepath.Base(name))
	if err != nil {
		return nil, err
	}
	if _, err := io.Copy(part, f); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnreadable, err)
	}
	_ = mw.WriteField("to_formats", "md")
	if d.strategy == StrategyVLM {
		_ = mw.WriteField("pipeline", "vlm")
	} else {
		_ = mw.WriteField("do_ocr", "false")
		_ = mw.WriteField("do_table_structure", "true")
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.baseURL+"/v1/convert/file", &body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConversion, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: docling returned %d", ErrConversion, resp.StatusCode)
	}

	var result doclingResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("%w: decode docling response: %w", ErrConversion, err)
	}
	if result.Status != "" && result.Status != "success" && result.Status != "partial_success" {
		return nil, fmt.Errorf("%w: docling status %s: %v", ErrConversion, result.Status, result.Errors)
	}

	// The keep-alive connection to docling-serve is per document.
	return NewConversion(result.Document.MDContent, d.client.CloseIdleConnections), nil
}

func (d *DoclingConverter) Close() error {
	d.client.CloseIdleConnections()
	return nil
}
