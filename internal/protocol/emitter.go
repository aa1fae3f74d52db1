package protocol

import (
	"encoding/json"
	"strconv"
	"strings"
)

// ProtocolAction is the first line of every Delta Sharing response body
// that carries table data (spec §4.7).
type ProtocolAction struct {
	MinReaderVersion int `json:"minReaderVersion"`
}

// Format names the storage format backing the table; this data plane
// only ever serves Parquet.
type Format struct {
	Provider string `json:"provider"`
}

// MetadataAction is the metaData line describing a table's schema and
// partitioning.
type MetadataAction struct {
	ID               string   `json:"id"`
	Format           Format   `json:"format"`
	SchemaString     string   `json:"schemaString"`
	PartitionColumns []string `json:"partitionColumns"`
}

// FileAction is one data file entry in a query response.
type FileAction struct {
	URL             string            `json:"url"`
	ID              string            `json:"id"`
	PartitionValues map[string]string `json:"partitionValues"`
	Size            int64             `json:"size"`
	Version         int64             `json:"version"`
}

const minReaderVersion = 1

// protocolLine renders the {"protocol": ...} action, present at the top
// of every metadata and query response (spec §4.7).
func protocolLine() (string, error) {
	return marshalLine(map[string]ProtocolAction{"protocol": {MinReaderVersion: minReaderVersion}})
}

// metadataLine renders the {"metaData": ...} action for a table, given
// its already-rendered schemaString.
func metadataLine(id, schemaString string, partitionColumns []string) (string, error) {
	if partitionColumns == nil {
		partitionColumns = []string{}
	}
	return marshalLine(map[string]MetadataAction{"metaData": {
		ID:               id,
		Format:           Format{Provider: "parquet"},
		SchemaString:     schemaString,
		PartitionColumns: partitionColumns,
	}})
}

// fileLine renders one {"file": ...} action for a materialized data file.
func fileLine(f FileAction) (string, error) {
	if f.PartitionValues == nil {
		f.PartitionValues = map[string]string{}
	}
	return marshalLine(map[string]FileAction{"file": f})
}

func marshalLine(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// MetadataResponse is the two-line NDJSON body the .../metadata endpoint
// returns: protocol, then metaData (spec §4.7, §6).
func MetadataResponse(tableID, schemaString string, partitionColumns []string) (string, error) {
	proto, err := protocolLine()
	if err != nil {
		return "", err
	}
	meta, err := metadataLine(tableID, schemaString, partitionColumns)
	if err != nil {
		return "", err
	}
	return joinLines(proto, meta), nil
}

// QueryResponse is the NDJSON body the .../query endpoint returns:
// protocol, metaData, then one file action per materialized result file
// (spec §4.7, §6 — typically a single file per query in this data
// plane, since each query materializes exactly one watermarked object).
func QueryResponse(tableID, schemaString string, partitionColumns []string, files []FileAction) (string, error) {
	proto, err := protocolLine()
	if err != nil {
		return "", err
	}
	meta, err := metadataLine(tableID, schemaString, partitionColumns)
	if err != nil {
		return "", err
	}
	lines := []string{proto, meta}
	for _, f := range files {
		line, err := fileLine(f)
		if err != nil {
			return "", err
		}
		lines = append(lines, line)
	}
	return joinLines(lines...), nil
}

func joinLines(lines ...string) string {
	return strings.Join(lines, "\n") + "\n"
}

// TableVersionHeader renders the delta-table-version header value every
// protocol response carries (spec §4.7, §6).
func TableVersionHeader(version int64) string {
	return strconv.FormatInt(version, 10)
}
