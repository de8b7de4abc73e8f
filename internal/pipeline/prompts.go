package pipeline

import "strings"

// systemPrompt fixes the output contract for the extraction model.
const systemPrompt = "You are a bank statement parser for a small-business ledger.\n\n" +
	"Task:\n" +
	"- Read the bank statement text supplied by the user.\n" +
	"- Extract EVERY transaction line.\n" +
	"- Output STRICT JSON only (no comments, no trailing commas, no extra text).\n\n" +
	"Output format:\n" +
	"A single JSON object with one key \"records\" holding an array of objects.\n" +
	"Each object must have these fields:\n" +
	"- \"date\": string, ISO format \"YYYY-MM-DD\"\n" +
	"- \"type\": \"money-in\" for credits/deposits, \"money-out\" for debits/withdrawals\n" +
	"- \"description\": string, the transaction narrative\n" +
	"- \"amount\": number, always positive; the sign is expressed by \"type\"\n" +
	"- \"beneficiary_name\": string or null, the counterparty if stated\n\n" +
	"Rules:\n" +
	"- Convert any date format to YYYY-MM-DD.\n" +
	"- If the statement has separate \"paid in\" / \"paid out\" columns, use them to choose \"type\".\n" +
	"- Words like credit, deposit, received mean money-in; debit, withdrawal, payment to mean money-out.\n" +
	"- Skip opening/closing balance lines and column headers.\n" +
	"- If no transactions are present, return {\"records\": []}.\n\n" +
	"Example input:\n" +
	"2025-01-15, Salary Payment, 5000.00, Employer Name, credit\n\n" +
	"Example output:\n" +
	"{\"records\": [{\"date\": \"2025-01-15\", \"type\": \"money-in\", \"description\": \"Salary Payment\", " +
	"\"amount\": 5000.00, \"beneficiary_name\": \"Employer Name\"}]}\n\n" +
	"Return ONLY valid raw JSON.\n" +
	"Do NOT wrap the response in code fences.\n" +
	"Output must begin with \"{\" and end with \"}\".\n"

func buildUserPrompt(text string) string {
	var b strings.Builder
	b.WriteString("Bank statement:\n\n")
	b.WriteString(text)
	return b.String()
}
