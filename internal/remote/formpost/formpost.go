// Package formpost submits file bytes to pre-signed multipart upload forms.
package formpost

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"

	"github.com/dmitrijs2005/medsync/internal/common"
	"github.com/dmitrijs2005/medsync/internal/remote"
)

// Poster implements remote.FileSubmitter over HTTP.
type Poster struct {
	client *http.Client
}

// New returns a Poster; a nil client means http.DefaultClient.
func New(client *http.Client) *Poster {
	if client == nil {
		client = http.DefaultClient
	}
	return &Poster{client: client}
}

// Submit posts form.Fields followed by the file part. Any 2xx status is
// success; 5xx maps to common.ErrUnavailable, other statuses to
// common.ErrRejected and transport failures to common.ErrNetwork.
func (p *Poster) Submit(ctx context.Context, form remote.UploadForm, data []byte) error {
	body, contentType, err := encode(form, data)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, form.URL, body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", common.ErrNetwork, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if resp.StatusCode >= 500 {
		return fmt.Errorf("%w: upload failed: %s; body: %s", common.ErrUnavailable, resp.Status, string(b))
	}
	return fmt.Errorf("%w: upload failed: %s; body: %s", common.ErrRejected, resp.Status, string(b))
}

func encode(form remote.UploadForm, data []byte) (*bytes.Buffer, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for k, v := range form.Fields {
		if err := w.WriteField(k, v); err != nil {
			return nil, "", err
		}
	}
	name := form.FileName
	if name == "" {
		name = "file"
	}
	part, err := w.CreateFormFile("file", name)
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(data); err != nil {
		return nil, "", err
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return &buf, w.FormDataContentType(), nil
}
