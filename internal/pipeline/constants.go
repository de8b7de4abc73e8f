package pipeline

const (
	// DefaultModelName is the default Gemini model used for record extraction.
	DefaultModelName = "gemini-2.5-flash"

	// ParserType and ParserVersion are written to the audit trail.
	ParserType    = "GEMINI_TEXT"
	ParserVersion = "v1"

	// NoValidRecordsMessage is reported when the model returned nothing usable.
	NoValidRecordsMessage = "No valid bank records found in the statement"
)
