// Package ofx imports bank and credit card statements in OFX/QFX format as
// ledger entries.
package ofx

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/aclindsa/ofxgo"
	"github.com/google/uuid"
	"github.com/ledgerbeat/ostinato/internal/model"
)

// Parser implements OFX/QFX file parsing.
type Parser struct{}

// NewParser creates a new OFX parser.
func NewParser() *Parser {
	return &Parser{}
}

// preprocessOFX fixes common formatting issues in OFX files.
func (p *Parser) preprocessOFX(content string) string {
	// Trim any leading whitespace or blank lines before the header
	content = strings.TrimLeft(content, " \t\r\n")

	// Fix mixed-case SEVERITY values (should be INFO, WARN, or ERROR)
	severityRegex := regexp.MustCompile(`(?i)<SEVERITY>(Info|Warn|Error)</SEVERITY>`)
	content = severityRegex.ReplaceAllStringFunc(content, strings.ToUpper)

	// Fix opening tags missing their closing angle bracket, a common defect
	// in SGML-style exports
	tagFixRegex := regexp.MustCompile(`(?m)^(\s*<[A-Z][A-Z0-9._]*[A-Z0-9])$`)
	content = tagFixRegex.ReplaceAllString(content, "$1>")

	return content
}

// ParseFile parses an OFX/QFX file and returns the ledger entries it holds,
// stamped with the given owner. Kind is inferred from the amount's sign:
// debits become expenses, credits become income.
func (p *Parser) ParseFile(_ context.Context, reader io.Reader, ownerID string) ([]model.LedgerEntry, error) {
	content, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("failed to read OFX file: %w", err)
	}

	resp, err := ofxgo.ParseResponse(strings.NewReader(p.preprocessOFX(string(content))))
	if err != nil {
		return nil, fmt.Errorf("failed to parse OFX file: %w", err)
	}

	var entries []model.LedgerEntry
	var bankStmts, ccStmts int

	for _, msg := range resp.Bank {
		if stmt, ok := msg.(*ofxgo.StatementResponse); ok {
			bankStmts++
			entries = append(entries, p.convertList(stmt.BankTranList, string(stmt.BankAcctFrom.AcctID), ownerID)...)
		}
	}

	for _, msg := range resp.CreditCard {
		if stmt, ok := msg.(*ofxgo.CCStatementResponse); ok {
			ccStmts++
			entries = append(entries, p.convertList(stmt.BankTranList, string(stmt.CCAcctFrom.AcctID), ownerID)...)
		}
	}

	slog.Info("Parsed OFX file",
		"total_entries", len(entries),
		"bank_statements", bankStmts,
		"cc_statements", ccStmts)

	return entries, nil
}

// convertList converts one statement's transaction list.
func (p *Parser) convertList(list *ofxgo.TransactionList, accountID, ownerID string) []model.LedgerEntry {
	if list == nil {
		return nil
	}

	entries := make([]model.LedgerEntry, 0, len(list.Transactions))
	for _, ofxTx := range list.Transactions {
		entries = append(entries, p.convertTransaction(ofxTx, accountID, ownerID))
	}
	return entries
}

// convertTransaction converts an OFX transaction to a ledger entry.
func (p *Parser) convertTransaction(ofxTx ofxgo.Transaction, accountID, ownerID string) model.LedgerEntry {
	amount, _ := ofxTx.TrnAmt.Float64()
	kind := model.KindExpense
	if amount > 0 {
		kind = model.KindIncome
	}
	if amount < 0 {
		amount = -amount
	}

	id := string(ofxTx.FiTID)
	if id == "" {
		id = uuid.New().String()
	}

	entry := model.LedgerEntry{
		ID:          id,
		OwnerID:     ownerID,
		Kind:        kind,
		Amount:      amount,
		Description: p.cleanDescription(ofxTx),
		Date:        ofxTx.DtPosted.Time,
		CreatedAt:   time.Now().UTC(),
	}

	if ofxTx.Payee != nil && ofxTx.Payee.Name != "" {
		entry.Merchant = string(ofxTx.Payee.Name)
	}
	if memo := string(ofxTx.Memo); memo != "" && memo != entry.Description {
		entry.Notes = memo
	}
	if ofxTx.CheckNum != "" {
		entry.Notes = strings.TrimSpace(entry.Notes + " check #" + string(ofxTx.CheckNum))
	}
	if accountID != "" {
		entry.Tags = []string{"ofx", "acct:" + accountID}
	} else {
		entry.Tags = []string{"ofx"}
	}

	entry.Hash = entry.GenerateHash()
	return entry
}

// cleanDescription derives a stable description from the fields banks
// actually send. Statement exports bury the merchant under processor
// prefixes and purchase dates; left in place they would fragment the
// signatures the pattern detector clusters on.
func (p *Parser) cleanDescription(tx ofxgo.Transaction) string {
	// Prefer PAYEE when present, the cleanest name banks provide
	if tx.Payee != nil && tx.Payee.Name != "" {
		return string(tx.Payee.Name)
	}

	name := string(tx.Name)
	if tx.Memo != "" && isGenericDescription(name) {
		// Sometimes MEMO has the real merchant
		name = string(tx.Memo)
	}
	name = strings.TrimSpace(name)

	prefixes := []string{
		"POS PURCHASE ",
		"PURCHASE AUTHORIZED ON ",
		"DEBIT CARD PURCHASE ",
		"ACH DEBIT ",
		"CHECK CARD ",
		"VISA PURCHASE ",
		"MC PURCHASE ",
		"DEBIT PURCHASE ",
	}
	for _, prefix := range prefixes {
		if strings.HasPrefix(strings.ToUpper(name), prefix) {
			name = name[len(prefix):]
			break
		}
	}

	// Strip leading "MM/DD " purchase-date patterns
	if len(name) > 5 && name[2] == '/' && name[5] == ' ' {
		name = strings.TrimSpace(name[6:])
	}

	return name
}

// isGenericDescription checks if a transaction name is too generic to identify
// the merchant.
func isGenericDescription(name string) bool {
	generic := []string{
		"DEBIT",
		"CREDIT",
		"PURCHASE",
		"PAYMENT",
		"POS TRANSACTION",
		"CARD PURCHASE",
	}

	upperName := strings.ToUpper(name)
	for _, g := range generic {
		if upperName == g {
			return true
		}
	}
	return false
}

// GetAccounts extracts the unique account IDs present in the OFX file.
func (p *Parser) GetAccounts(_ context.Context, reader io.Reader) ([]string, error) {
	content, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("failed to read OFX file: %w", err)
	}

	resp, err := ofxgo.ParseResponse(strings.NewReader(p.preprocessOFX(string(content))))
	if err != nil {
		return nil, fmt.Errorf("failed to parse OFX file: %w", err)
	}

	accountMap := make(map[string]bool)
	for _, msg := range resp.Bank {
		if stmt, ok := msg.(*ofxgo.StatementResponse); ok && stmt.BankAcctFrom.AcctID != "" {
			accountMap[string(stmt.BankAcctFrom.AcctID)] = true
		}
	}
	for _, msg := range resp.CreditCard {
		if stmt, ok := msg.(*ofxgo.CCStatementResponse); ok && stmt.CCAcctFrom.AcctID != "" {
			accountMap[string(stmt.CCAcctFrom.AcctID)] = true
		}
	}

	accounts := make([]string, 0, len(accountMap))
	for acct := range accountMap {
		accounts = append(accounts, acct)
	}
	sort.Strings(accounts)
	return accounts, nil
}
