package adapters

import (
	"context"

	"github.com/dmitrijs2005/medsync/internal/fanout"
	"github.com/dmitrijs2005/medsync/internal/logging"
	"github.com/dmitrijs2005/medsync/internal/models"
	"github.com/dmitrijs2005/medsync/internal/remote"
)

// Converter turns pages of server items into local models.
type Converter struct {
	thumbs Thumbnails
	log    logging.Logger
	limit  int
}

// NewConverter returns a Converter. thumbs may be nil to skip thumbnails;
// limit bounds concurrent conversions (<= 0 means unbounded).
func NewConverter(thumbs Thumbnails, log logging.Logger, limit int) *Converter {
	if log == nil {
		log = logging.Nop()
	}
	return &Converter{thumbs: thumbs, log: log.With("component", "adapters"), limit: limit}
}

// ConvertRecords converts every item concurrently and returns the whole
// batch in input order once all conversions finished. A failed thumbnail
// download leaves Thumbnail empty; it never drops the record.
func (c *Converter) ConvertRecords(ctx context.Context, items []remote.RecordItem) []*models.Record {
	out, _ := fanout.Map(ctx, items, c.limit, func(ctx context.Context, it remote.RecordItem) (*models.Record, error) {
		r := RecordFromRemote(it)
		if it.ThumbnailURL == "" || c.thumbs == nil {
			return r, nil
		}
		path, err := c.thumbs.Fetch(ctx, it.ThumbnailURL)
		if err != nil {
			c.log.Warn(ctx, "thumbnail download failed", "id", it.ID, "err", err)
			return r, nil
		}
		r.Thumbnail = path
		return r, nil
	})
	return out
}

func (c *Converter) ConvertCases(items []remote.CaseItem) []*models.Case {
	out := make([]*models.Case, 0, len(items))
	for _, it := range items {
		out = append(out, CaseFromRemote(it))
	}
	return out
}
