package remote

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/golang/snappy"

	domainSync "github.com/jbctechsolutions/focussync/internal/domain/sync"
)

const (
	recordPrefix = "records/"
	objectPrefix = "objects/"
	recordSuffix = ".rec"
)

// recordKey is records/<type>/<id>.rec.
func recordKey(t domainSync.EntityType, id string) string {
	return recordPrefix + string(t) + "/" + id + recordSuffix
}

// parseRecordKey splits a record key into its entity key.
func parseRecordKey(key string) (domainSync.EntityKey, bool) {
	rest, ok := strings.CutPrefix(key, recordPrefix)
	if !ok {
		return domainSync.EntityKey{}, false
	}
	rest, ok = strings.CutSuffix(rest, recordSuffix)
	if !ok {
		return domainSync.EntityKey{}, false
	}
	typ, id, ok := strings.Cut(rest, "/")
	if !ok || id == "" || !domainSync.EntityType(typ).IsValid() {
		return domainSync.EntityKey{}, false
	}
	return domainSync.EntityKey{Type: domainSync.EntityType(typ), ID: id}, true
}

func objectKey(key string) string {
	return objectPrefix + key
}

// encodeRecord serializes a record as snappy-compressed JSON.
func encodeRecord(rec *domainSync.RemoteRecord) ([]byte, error) {
	data, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("encode record %s: %w", rec.Key(), err)
	}
	return snappy.Encode(nil, data), nil
}

func decodeRecord(body []byte) (*domainSync.RemoteRecord, error) {
	data, err := snappy.Decode(nil, body)
	if err != nil {
		return nil, fmt.Errorf("decompress record: %w", err)
	}
	var rec domainSync.RemoteRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("decode record: %w", err)
	}
	return &rec, nil
}
