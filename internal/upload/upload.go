// Package upload sends new documents to the server: one create-batch call
// announces every document, then each file is posted to its upload form.
package upload

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/dmitrijs2005/medsync/internal/common"
	"github.com/dmitrijs2005/medsync/internal/fanout"
	"github.com/dmitrijs2005/medsync/internal/logging"
	"github.com/dmitrijs2005/medsync/internal/metrics"
	"github.com/dmitrijs2005/medsync/internal/remote"
)

// Item is one document to create. Ref identifies it in results.
type Item struct {
	Ref      string
	Paths    []string
	Metadata remote.RecordFields
	// Accepted, when set, runs once the server has assigned the document
	// id and before any file is submitted. An error fails the item.
	Accepted func(ctx context.Context, documentID string) error
}

// Result is the outcome of one Item.
type Result struct {
	Ref        string
	DocumentID string
	// ContentHash is the hex SHA-256 of the item's files in order.
	ContentHash string
	Err         error
}

type Manager struct {
	api     remote.RecordsAPI
	log     logging.Logger
	metrics *metrics.Metrics
	limit   int
	base    time.Duration
	retries uint64
	read    func(string) ([]byte, error)
}

type Option func(*Manager)

func WithLogger(l logging.Logger) Option { return func(m *Manager) { m.log = l } }

func WithMetrics(mt *metrics.Metrics) Option { return func(m *Manager) { m.metrics = mt } }

// WithConcurrency bounds concurrent form submissions.
func WithConcurrency(n int) Option { return func(m *Manager) { m.limit = n } }

// WithRetry sets the backoff base and the number of retries per form.
func WithRetry(base time.Duration, retries uint64) Option {
	return func(m *Manager) { m.base, m.retries = base, retries }
}

func New(api remote.RecordsAPI, opts ...Option) *Manager {
	m := &Manager{api: api, limit: 4, base: 250 * time.Millisecond, retries: 3, read: os.ReadFile}
	for _, opt := range opts {
		opt(m)
	}
	if m.log == nil {
		m.log = logging.Nop()
	}
	m.log = m.log.With("component", "upload")
	return m
}

type prepared struct {
	idx      int
	files    map[string][]byte
	order    []string
	accepted func(context.Context, string) error
}

type submission struct {
	idx  int
	form remote.UploadForm
	data []byte
}

// Upload creates every item in oid. Results keep input order; the error
// aggregates the failed items.
func (m *Manager) Upload(ctx context.Context, oid string, items []Item) ([]Result, error) {
	results := make([]Result, len(items))
	errs := make([]error, len(items))

	var batch []remote.BatchItem
	byRef := make(map[string]*prepared, len(items))
	for i, it := range items {
		results[i].Ref = it.Ref
		bi, p, hash, err := m.prepare(i, it)
		if err != nil {
			errs[i] = err
			continue
		}
		results[i].ContentHash = hash
		batch = append(batch, bi)
		byRef[it.Ref] = p
	}

	if len(batch) > 0 {
		m.create(ctx, oid, batch, byRef, results, errs)
	}

	for i := range results {
		results[i].Err = errs[i]
		if errs[i] != nil {
			results[i].DocumentID = ""
			m.log.Warn(ctx, "upload failed", "ref", results[i].Ref, "err", errs[i])
		}
	}
	return results, fanout.Collect("upload records", len(items), errs)
}

func (m *Manager) prepare(idx int, it Item) (remote.BatchItem, *prepared, string, error) {
	if len(it.Paths) == 0 {
		return remote.BatchItem{}, nil, "", common.Missing("record", it.Ref, "files")
	}
	p := &prepared{idx: idx, files: make(map[string][]byte, len(it.Paths)), accepted: it.Accepted}
	bi := remote.BatchItem{ClientRef: it.Ref, Metadata: it.Metadata}
	all := sha256.New()
	for _, path := range it.Paths {
		data, err := m.read(path)
		if err != nil {
			return remote.BatchItem{}, nil, "", fmt.Errorf("read %s: %w", path, err)
		}
		name := filepath.Base(path)
		sum := sha256.Sum256(data)
		all.Write(data)
		bi.Files = append(bi.Files, remote.UploadFile{
			Name:        name,
			ContentType: mime.TypeByExtension(filepath.Ext(name)),
			ContentHash: hex.EncodeToString(sum[:]),
			Size:        int64(len(data)),
		})
		p.files[name] = data
		p.order = append(p.order, name)
	}
	return bi, p, hex.EncodeToString(all.Sum(nil)), nil
}

func (m *Manager) create(ctx context.Context, oid string, batch []remote.BatchItem, byRef map[string]*prepared, results []Result, errs []error) {
	responses, err := m.api.CreateBatch(ctx, oid, batch)
	if err != nil {
		for _, p := range byRef {
			errs[p.idx] = fmt.Errorf("create batch: %w", err)
		}
		return
	}

	answered := make(map[string]bool, len(responses))
	var subs []submission
	for _, resp := range responses {
		p, ok := byRef[resp.ClientRef]
		if !ok || answered[resp.ClientRef] {
			continue
		}
		answered[resp.ClientRef] = true
		switch {
		case resp.ErrorDetails != "":
			errs[p.idx] = fmt.Errorf("%w: %s", common.ErrRejected, resp.ErrorDetails)
			continue
		case resp.DocumentID == "":
			errs[p.idx] = fmt.Errorf("%w: no document id", common.ErrRejected)
			continue
		}
		results[p.idx].DocumentID = resp.DocumentID
		if p.accepted != nil {
			if err := p.accepted(ctx, resp.DocumentID); err != nil {
				errs[p.idx] = fmt.Errorf("accept %s: %w", resp.DocumentID, err)
				continue
			}
		}
		for i, form := range resp.UploadForms {
			data, ok := p.files[form.FileName]
			if !ok && i < len(p.order) {
				data = p.files[p.order[i]]
			}
			subs = append(subs, submission{idx: p.idx, form: form, data: data})
		}
	}
	for ref, p := range byRef {
		if !answered[ref] {
			errs[p.idx] = fmt.Errorf("%w: missing batch response", common.ErrRejected)
		}
	}

	subErrs := make([]error, len(subs))
	_ = fanout.Each(ctx, "submit files", indexes(len(subs)), m.limit, func(ctx context.Context, i int) error {
		subErrs[i] = m.submit(ctx, subs[i])
		return subErrs[i]
	})
	for i, s := range subs {
		if subErrs[i] != nil && errs[s.idx] == nil {
			errs[s.idx] = subErrs[i]
		}
	}
}

func (m *Manager) submit(ctx context.Context, s submission) error {
	b := retry.WithMaxRetries(m.retries, retry.NewExponential(m.base))
	err := retry.Do(ctx, b, func(ctx context.Context) error {
		err := m.api.SubmitFile(ctx, s.form, s.data)
		if errors.Is(err, common.ErrNetwork) || errors.Is(err, common.ErrUnavailable) {
			m.log.Debug(ctx, "form submission failed, retrying", "file", s.form.FileName, "err", err)
			return retry.RetryableError(err)
		}
		return err
	})
	m.metrics.FileSubmitted(err)
	if err != nil {
		return fmt.Errorf("submit %s: %w", s.form.FileName, err)
	}
	return nil
}

func indexes(n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = i
	}
	return out
}
