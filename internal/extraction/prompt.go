package extraction

import (
	"bytes"
	"encoding/json"
	"strings"
)

const userPrompt = "Extract the receipt shown in this image."

// BuildInstructions renders the system instructions for schema. The schema
// is embedded pretty-printed; invalid JSON is embedded verbatim.
func BuildInstructions(schema string) string {
	pretty := schema
	var buf bytes.Buffer
	if err := json.Indent(&buf, []byte(strings.TrimSpace(schema)), "", "  "); err == nil {
		pretty = buf.String()
	}

	var b strings.Builder
	b.WriteString("You are a receipt parser. Read the receipt in the image and return its contents as JSON.\n\n")
	b.WriteString("Respond with a single JSON object and nothing else: no prose, no markdown.\n")
	b.WriteString("If the image contains a receipt, respond with {\"receipt\": <object>} where <object> follows this JSON schema:\n\n")
	b.WriteString(pretty)
	b.WriteString("\n\nIf the image does not contain a receipt, respond with {\"receipt\": null}.\n\n")
	b.WriteString("Rules:\n")
	b.WriteString("- Dates use YYYY-MM-DD and times use 24h HH:MM.\n")
	b.WriteString("- Currency is an ISO 4217 code; infer it from symbols or the merchant's country when not printed.\n")
	b.WriteString("- Amounts are numbers without currency symbols. Use 0 for lines that are absent.\n")
	b.WriteString("- Omit fields you cannot read instead of guessing.\n")
	b.WriteString("- If a return or exchange barcode is printed, copy its digits into returnInfo.returnBarcode.\n")
	return b.String()
}
