package logging

// Standard field names for structured logging across the extractor.
const (
	FieldBatchID    = "batch_id"
	FieldItem       = "item"
	FieldSource     = "source"
	FieldWorker     = "worker"
	FieldErrorKind  = "error_kind"
	FieldError      = "error"
	FieldDurationMS = "duration_ms"
	FieldCount      = "count"
	FieldFormat     = "format"
	FieldPath       = "path"
	FieldStatus     = "status"
	FieldMethod     = "method"
	FieldAddress    = "address"
)
