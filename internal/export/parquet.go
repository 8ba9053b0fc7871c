package export

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/parquet-go/parquet-go"

	"github.com/chatdb/chatdb/internal/query"
)

type ParquetEncodeResult struct {
	Data        []byte
	RecordCount int64
}

// parquetRow stores each result row as a JSON object keyed by column name,
// which keeps the file schema fixed whatever the generated query selects.
type parquetRow struct {
	RowIndex int64  `parquet:"row_index"`
	RowJSON  string `parquet:"row_json"`
}

func EncodeResultToParquet(result query.Result) (ParquetEncodeResult, error) {
	if result.Kind != query.KindRows {
		return ParquetEncodeResult{}, fmt.Errorf("result has no rows to encode")
	}

	records := result.Records()
	rows := make([]parquetRow, 0, len(records))
	for i, record := range records {
		payload, err := json.Marshal(record)
		if err != nil {
			return ParquetEncodeResult{}, fmt.Errorf("encode row %d: %w", i, err)
		}
		rows = append(rows, parquetRow{RowIndex: int64(i), RowJSON: string(payload)})
	}

	buf := bytes.NewBuffer(nil)
	writer := parquet.NewGenericWriter[parquetRow](buf)
	if len(rows) > 0 {
		if _, err := writer.Write(rows); err != nil {
			return ParquetEncodeResult{}, fmt.Errorf("write parquet rows: %w", err)
		}
	}
	if err := writer.Close(); err != nil {
		return ParquetEncodeResult{}, fmt.Errorf("close parquet writer: %w", err)
	}
	return ParquetEncodeResult{Data: buf.Bytes(), RecordCount: int64(len(rows))}, nil
}
