package sink

import (
	"context"
	"fmt"
	"strings"

	"github.com/Sternrassler/airtable-client/pkg/table"
	"github.com/olivere/elastic/v7"
)

// elasticBatchSize is the number of documents per bulk request.
const elasticBatchSize = 500

// ElasticSink bulk-indexes one document per row with the record id as
// document id.
type ElasticSink struct {
	client *elastic.Client
	index  string
	mode   Mode
}

// NewElasticSink connects to the cluster at url.
func NewElasticSink(url, index string, mode Mode) (*ElasticSink, error) {
	client, err := elastic.NewClient(
		elastic.SetURL(url),
		elastic.SetSniff(false),
		elastic.SetHealthcheck(false),
		elastic.SetMaxRetries(3),
	)
	if err != nil {
		return nil, fmt.Errorf("connect elasticsearch: %w", err)
	}
	return &ElasticSink{client: client, index: index, mode: mode}, nil
}

func (s *ElasticSink) Name() string { return "elastic" }

func (s *ElasticSink) Write(ctx context.Context, tbl *table.Table, meta Meta) (int, error) {
	if s.mode == ModeReplace {
		if _, err := s.client.DeleteIndex(s.index).Do(ctx); err != nil && !elastic.IsNotFound(err) {
			return 0, fmt.Errorf("delete index %s: %w", s.index, err)
		}
	}

	written := 0
	bs := elastic.NewBulkService(s.client).Index(s.index)
	for i, row := range tbl.Rows {
		doc := orderedRow(tbl, row)
		doc.Set(metaField, meta)
		id, _ := row[table.IDColumn].(string)
		bs.Add(elastic.NewBulkIndexRequest().Id(id).Doc(doc))

		if bs.NumberOfActions() >= elasticBatchSize || i == len(tbl.Rows)-1 {
			n, err := s.flush(ctx, bs)
			written += n
			if err != nil {
				return written, err
			}
		}
	}
	return written, nil
}

func (s *ElasticSink) flush(ctx context.Context, bs *elastic.BulkService) (int, error) {
	actions := bs.NumberOfActions()
	resp, err := bs.Refresh("true").Do(ctx)
	if err != nil {
		return 0, fmt.Errorf("bulk index: %w", err)
	}
	failed := resp.Failed()
	if len(failed) == 0 {
		return actions, nil
	}

	reasons := make([]string, 0, 3)
	for _, item := range failed {
		if len(reasons) == cap(reasons) {
			break
		}
		if item.Error != nil {
			reasons = append(reasons, fmt.Sprintf("%s: %s", item.Id, item.Error.Reason))
		}
	}
	return actions - len(failed), fmt.Errorf("bulk index: %d of %d documents failed (%s)",
		len(failed), actions, strings.Join(reasons, "; "))
}

func (s *ElasticSink) Close() error {
	s.client.Stop()
	return nil
}
