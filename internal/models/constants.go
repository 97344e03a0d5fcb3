package models

const (
	// ManifestSchemaVersion increments when chunk ids or stored metadata change
	ManifestSchemaVersion = 1

	FiscalYearRegex      = `20(\d{2})[_-](\d{2})`
	QueryFiscalYearRegex = `20(\d{2})-(\d{2})`

	NoInformationAnswer = "Information not available in the provided reports."

	// UnknownPage marks text whose page could not be recovered
	UnknownPage = 0

	// metadata keys stored alongside every vector
	MetaSource = "source"
	MetaPage   = "page"
	MetaIndex  = "index"
	MetaOffset = "offset"
)

var (
	AnswerPromptTemplate = `You are an expert assistant specializing in the annual reports of this collection.

Your responsibilities:
1. Answer questions ONLY using the provided context from the reports
2. Cite exact figures with proper units (₹ crore, ₹ lakh, etc.)
3. Be precise and factual - no speculation
4. If information is not available in the context, clearly state: "{{.fallback}}"
5. When several years are asked for, give the figures for each year separately and say which year is missing
6. Cite the source file and page number of every figure

Context from the reports:
{{.context}}

Question: {{.question}}

Answer:`
)
