package manifest

// manifestEntrySchema is the Avro schema of a manifest entry. The partition
// tuple is stored as (field_id, value) pairs in single-value serialization
// so that the schema does not depend on the partition spec.
const manifestEntrySchema = `{
	"type": "record",
	"name": "manifest_entry",
	"fields": [
		{"name": "status", "type": "int"},
		{"name": "snapshot_id", "type": ["null", "long"], "default": null},
		{"name": "sequence_number", "type": ["null", "long"], "default": null},
		{"name": "file_sequence_number", "type": ["null", "long"], "default": null},
		{"name": "data_file", "type": {
			"type": "record",
			"name": "r2",
			"fields": [
				{"name": "content", "type": "int", "default": 0},
				{"name": "file_path", "type": "string"},
				{"name": "file_format", "type": "string"},
				{"name": "partition", "type": {"type": "array", "items": {
					"type": "record", "name": "r102",
					"fields": [
						{"name": "field_id", "type": "int"},
						{"name": "value", "type": ["null", "bytes"], "default": null}
					]
				}}},
				{"name": "record_count", "type": "long"},
				{"name": "file_size_in_bytes", "type": "long"},
				{"name": "column_sizes", "type": ["null", {"type": "array", "items": {
					"type": "record", "name": "k117_v118",
					"fields": [{"name": "key", "type": "int"}, {"name": "value", "type": "long"}]
				}}], "default": null},
				{"name": "value_counts", "type": ["null", {"type": "array", "items": {
					"type": "record", "name": "k119_v120",
					"fields": [{"name": "key", "type": "int"}, {"name": "value", "type": "long"}]
				}}], "default": null},
				{"name": "null_value_counts", "type": ["null", {"type": "array", "items": {
					"type": "record", "name": "k121_v122",
					"fields": [{"name": "key", "type": "int"}, {"name": "value", "type": "long"}]
				}}], "default": null},
				{"name": "nan_value_counts", "type": ["null", {"type": "array", "items": {
					"type": "record", "name": "k138_v139",
					"fields": [{"name": "key", "type": "int"}, {"name": "value", "type": "long"}]
				}}], "default": null},
				{"name": "lower_bounds", "type": ["null", {"type": "array", "items": {
					"type": "record", "name": "k126_v127",
					"fields": [{"name": "key", "type": "int"}, {"name": "value", "type": "bytes"}]
				}}], "default": null},
				{"name": "upper_bounds", "type": ["null", {"type": "array", "items": {
					"type": "record", "name": "k129_v130",
					"fields": [{"name": "key", "type": "int"}, {"name": "value", "type": "bytes"}]
				}}], "default": null},
				{"name": "equality_ids", "type": ["null", {"type": "array", "items": "int"}], "default": null},
				{"name": "sort_order_id", "type": ["null", "int"], "default": null},
				{"name": "bloom_filters", "type": ["null", {"type": "array", "items": {
					"type": "record", "name": "k150_v151",
					"fields": [{"name": "key", "type": "int"}, {"name": "value", "type": "bytes"}]
				}}], "default": null}
			]
		}}
	]
}`

// manifestListSchema is the Avro schema of a manifest list row.
const manifestListSchema = `{
	"type": "record",
	"name": "manifest_file",
	"fields": [
		{"name": "manifest_path", "type": "string"},
		{"name": "manifest_length", "type": "long"},
		{"name": "partition_spec_id", "type": "int"},
		{"name": "content", "type": "int", "default": 0},
		{"name": "sequence_number", "type": "long", "default": 0},
		{"name": "min_sequence_number", "type": "long", "default": 0},
		{"name": "added_snapshot_id", "type": "long"},
		{"name": "added_data_files_count", "type": "int"},
		{"name": "existing_data_files_count", "type": "int"},
		{"name": "deleted_data_files_count", "type": "int"},
		{"name": "added_rows_count", "type": "long"},
		{"name": "existing_rows_count", "type": "long"},
		{"name": "deleted_rows_count", "type": "long"},
		{"name": "partitions", "type": ["null", {"type": "array", "items": {
			"type": "record", "name": "r508",
			"fields": [
				{"name": "contains_null", "type": "boolean"},
				{"name": "contains_nan", "type": ["null", "boolean"], "default": null},
				{"name": "lower_bound", "type": ["null", "bytes"], "default": null},
				{"name": "upper_bound", "type": ["null", "bytes"], "default": null}
			]
		}}], "default": null}
	]
}`

type entryAvro struct {
	Status             int          `avro:"status"`
	SnapshotID         *int64       `avro:"snapshot_id"`
	SequenceNumber     *int64       `avro:"sequence_number"`
	FileSequenceNumber *int64       `avro:"file_sequence_number"`
	DataFile           dataFileAvro `avro:"data_file"`
}

type dataFileAvro struct {
	Content         int              `avro:"content"`
	FilePath        string           `avro:"file_path"`
	FileFormat      string           `avro:"file_format"`
	Partition       []partitionValue `avro:"partition"`
	RecordCount     int64            `avro:"record_count"`
	FileSizeBytes   int64            `avro:"file_size_in_bytes"`
	ColumnSizes     []intLongKV      `avro:"column_sizes"`
	ValueCounts     []intLongKV      `avro:"value_counts"`
	NullValueCounts []intLongKV      `avro:"null_value_counts"`
	NaNValueCounts  []intLongKV      `avro:"nan_value_counts"`
	LowerBounds     []intBytesKV     `avro:"lower_bounds"`
	UpperBounds     []intBytesKV     `avro:"upper_bounds"`
	EqualityIDs     []int            `avro:"equality_ids"`
	SortOrderID     *int             `avro:"sort_order_id"`
	BloomFilters    []intBytesKV     `avro:"bloom_filters"`
}

type partitionValue struct {
	FieldID int    `avro:"field_id"`
	Value   []byte `avro:"value"`
}

type intLongKV struct {
	Key   int   `avro:"key"`
	Value int64 `avro:"value"`
}

type intBytesKV struct {
	Key   int    `avro:"key"`
	Value []byte `avro:"value"`
}

type manifestFileAvro struct {
	Path               string        `avro:"manifest_path"`
	Length             int64         `avro:"manifest_length"`
	SpecID             int           `avro:"partition_spec_id"`
	Content            int           `avro:"content"`
	SequenceNumber     int64         `avro:"sequence_number"`
	MinSequenceNumber  int64         `avro:"min_sequence_number"`
	AddedSnapshotID    int64         `avro:"added_snapshot_id"`
	AddedFilesCount    int32         `avro:"added_data_files_count"`
	ExistingFilesCount int32         `avro:"existing_data_files_count"`
	DeletedFilesCount  int32         `avro:"deleted_data_files_count"`
	AddedRowsCount     int64         `avro:"added_rows_count"`
	ExistingRowsCount  int64         `avro:"existing_rows_count"`
	DeletedRowsCount   int64         `avro:"deleted_rows_count"`
	Partitions         []summaryAvro `avro:"partitions"`
}

type summaryAvro struct {
	ContainsNull bool   `avro:"contains_null"`
	ContainsNaN  *bool  `avro:"contains_nan"`
	LowerBound   []byte `avro:"lower_bound"`
	UpperBound   []byte `avro:"upper_bound"`
}

func mapToIntLongKV(m map[int]int64) []intLongKV {
	if len(m) == 0 {
		return nil
	}
	out := make([]intLongKV, 0, len(m))
	for k, v := range m {
		out = append(out, intLongKV{Key: k, Value: v})
	}
	return out
}

func mapToIntBytesKV(m map[int][]byte) []intBytesKV {
	if len(m) == 0 {
		return nil
	}
	out := make([]intBytesKV, 0, len(m))
	for k, v := range m {
		out = append(out, intBytesKV{Key: k, Value: v})
	}
	return out
}

func intLongKVToMap(kvs []intLongKV) map[int]int64 {
	if len(kvs) == 0 {
		return nil
	}
	out := make(map[int]int64, len(kvs))
	for _, kv := range kvs {
		out[kv.Key] = kv.Value
	}
	return out
}

func intBytesKVToMap(kvs []intBytesKV) map[int][]byte {
	if len(kvs) == 0 {
		return nil
	}
	out := make(map[int][]byte, len(kvs))
	for _, kv := range kvs {
		out[kv.Key] = kv.Value
	}
	return out
}
