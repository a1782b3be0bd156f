package ofx

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/aclindsa/ofxgo"
	"github.com/ledgerbeat/ostinato/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Sample OFX data for testing.
const sampleBankOFX = `OFXHEADER:100
DATA:OFXSGML
VERSION:102
SECURITY:NONE
ENCODING:USASCII
CHARSET:1252
COMPRESSION:NONE
OLDFILEUID:NONE
NEWFILEUID:NONE

<OFX>
<SIGNONMSGSRSV1>
<SONRS>
<STATUS>
<CODE>0
<SEVERITY>INFO
</STATUS>
<DTSERVER>20240315120000[0:GMT]
<LANGUAGE>ENG
</SONRS>
</SIGNONMSGSRSV1>
<BANKMSGSRSV1>
<STMTTRNRS>
<TRNUID>1
<STATUS>
<CODE>0
<SEVERITY>INFO
</STATUS>
<STMTRS>
<CURDEF>USD
<BANKACCTFROM>
<BANKID>123456789
<ACCTID>1234567890
<ACCTTYPE>CHECKING
</BANKACCTFROM>
<BANKTRANLIST>
<DTSTART>20240101120000[0:GMT]
<DTEND>20240131120000[0:GMT]
<STMTTRN>
<TRNTYPE>DEBIT
<DTPOSTED>20240115120000[0:GMT]
<TRNAMT>-25.50
<FITID>2024011501
<NAME>STARBUCKS STORE #1234
</STMTTRN>
<STMTTRN>
<TRNTYPE>DEBIT
<DTPOSTED>20240120120000[0:GMT]
<TRNAMT>-125.00
<FITID>2024012001
<NAME>POS PURCHASE WHOLE FOODS
<MEMO>GROCERIES
</STMTTRN>
<STMTTRN>
<TRNTYPE>CHECK
<DTPOSTED>20240125120000[0:GMT]
<TRNAMT>-500.00
<FITID>2024012501
<CHECKNUM>1234
<NAME>CHECK #1234
</STMTTRN>
<STMTTRN>
<TRNTYPE>CREDIT
<DTPOSTED>20240131120000[0:GMT]
<TRNAMT>2500.00
<FITID>2024013101
<NAME>ACME PAYROLL
</STMTTRN>
</BANKTRANLIST>
<LEDGERBAL>
<BALAMT>1000.00
<DTASOF>20240131120000[0:GMT]
</LEDGERBAL>
</STMTRS>
</STMTTRNRS>
</BANKMSGSRSV1>
</OFX>`

const sampleCreditCardOFX = `OFXHEADER:100
DATA:OFXSGML
VERSION:102
SECURITY:NONE
ENCODING:USASCII
CHARSET:1252
COMPRESSION:NONE
OLDFILEUID:NONE
NEWFILEUID:NONE

<OFX>
<SIGNONMSGSRSV1>
<SONRS>
<STATUS>
<CODE>0
<SEVERITY>INFO
</STATUS>
<DTSERVER>20240315120000[0:GMT]
<LANGUAGE>ENG
</SONRS>
</SIGNONMSGSRSV1>
<CREDITCARDMSGSRSV1>
<CCSTMTTRNRS>
<TRNUID>1
<STATUS>
<CODE>0
<SEVERITY>INFO
</STATUS>
<CCSTMTRS>
<CURDEF>USD
<CCACCTFROM>
<ACCTID>4111111111111111
</CCACCTFROM>
<BANKTRANLIST>
<DTSTART>20240101120000[0:GMT]
<DTEND>20240131120000[0:GMT]
<STMTTRN>
<TRNTYPE>DEBIT
<DTPOSTED>20240110120000[0:GMT]
<TRNAMT>-45.99
<FITID>CC2024011001
<NAME>AMAZON.COM*RT4Y7HG2
</STMTTRN>
<STMTTRN>
<TRNTYPE>DEBIT
<DTPOSTED>20240115120000[0:GMT]
<TRNAMT>-15.00
<FITID>CC2024011501
<NAME>NETFLIX.COM
</STMTTRN>
</BANKTRANLIST>
<LEDGERBAL>
<BALAMT>-500.00
<DTASOF>20240131120000[0:GMT]
</LEDGERBAL>
</CCSTMTRS>
</CCSTMTTRNRS>
</CREDITCARDMSGSRSV1>
</OFX>`

func TestParseFile(t *testing.T) {
	tests := []struct {
		name          string
		ofxData       string
		expectedCount int
		expectedError bool
	}{
		{
			name:          "valid bank statement",
			ofxData:       sampleBankOFX,
			expectedCount: 4,
			expectedError: false,
		},
		{
			name:          "valid credit card statement",
			ofxData:       sampleCreditCardOFX,
			expectedCount: 2,
			expectedError: false,
		},
		{
			name:          "invalid OFX data",
			ofxData:       "not valid OFX",
			expectedCount: 0,
			expectedError: true,
		},
		{
			name:          "empty OFX",
			ofxData:       "",
			expectedCount: 0,
			expectedError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			parser := NewParser()
			reader := strings.NewReader(tt.ofxData)

			entries, err := parser.ParseFile(context.Background(), reader, "owner-1")

			if tt.expectedError {
				assert.Error(t, err)
			} else {
				require.NoError(t, err)
				assert.Len(t, entries, tt.expectedCount)
			}
		})
	}
}

func TestParseFile_BankStatement(t *testing.T) {
	parser := NewParser()
	reader := strings.NewReader(sampleBankOFX)

	entries, err := parser.ParseFile(context.Background(), reader, "owner-1")
	require.NoError(t, err)
	require.Len(t, entries, 4)

	starbucks := entries[0]
	assert.Equal(t, "2024011501", starbucks.ID)
	assert.Equal(t, "owner-1", starbucks.OwnerID)
	assert.Equal(t, "STARBUCKS STORE #1234", starbucks.Description)
	assert.Equal(t, 25.50, starbucks.Amount)
	assert.Equal(t, model.KindExpense, starbucks.Kind)
	assert.False(t, starbucks.IsRecurring)
	assert.NotEmpty(t, starbucks.Hash)
	assert.Contains(t, starbucks.Tags, "acct:1234567890")
	// Compare just the date components, ignoring timezone
	assert.Equal(t, 2024, starbucks.Date.Year())
	assert.Equal(t, time.January, starbucks.Date.Month())
	assert.Equal(t, 15, starbucks.Date.Day())

	groceries := entries[1]
	assert.Equal(t, "WHOLE FOODS", groceries.Description, "processor prefix must be stripped")
	assert.Equal(t, "GROCERIES", groceries.Notes)
	assert.Equal(t, 125.00, groceries.Amount)

	check := entries[2]
	assert.Equal(t, "CHECK #1234", check.Description)
	assert.Contains(t, check.Notes, "check #1234")
	assert.Equal(t, 500.00, check.Amount)

	payroll := entries[3]
	assert.Equal(t, "ACME PAYROLL", payroll.Description)
	assert.Equal(t, model.KindIncome, payroll.Kind, "positive amounts are income")
	assert.Equal(t, 2500.00, payroll.Amount)
}

func TestParseFile_CreditCardStatement(t *testing.T) {
	parser := NewParser()
	reader := strings.NewReader(sampleCreditCardOFX)

	entries, err := parser.ParseFile(context.Background(), reader, "owner-1")
	require.NoError(t, err)
	require.Len(t, entries, 2)

	amazon := entries[0]
	assert.Equal(t, "CC2024011001", amazon.ID)
	assert.Equal(t, "AMAZON.COM*RT4Y7HG2", amazon.Description)
	assert.Equal(t, 45.99, amazon.Amount)
	assert.Contains(t, amazon.Tags, "acct:4111111111111111")

	netflix := entries[1]
	assert.Equal(t, "CC2024011501", netflix.ID)
	assert.Equal(t, "NETFLIX.COM", netflix.Description)
	assert.Equal(t, 15.00, netflix.Amount)
}

func TestCleanDescription(t *testing.T) {
	parser := NewParser()

	tests := []struct {
		name     string
		txName   string
		memo     string
		expected string
	}{
		{
			name:     "remove POS prefix",
			txName:   "POS PURCHASE STARBUCKS",
			expected: "STARBUCKS",
		},
		{
			name:     "remove DEBIT CARD prefix",
			txName:   "DEBIT CARD PURCHASE WHOLE FOODS",
			expected: "WHOLE FOODS",
		},
		{
			name:     "keep clean name",
			txName:   "NETFLIX.COM",
			expected: "NETFLIX.COM",
		},
		{
			name:     "trim whitespace",
			txName:   "  AMAZON.COM  ",
			expected: "AMAZON.COM",
		},
		{
			name:     "strip leading purchase date",
			txName:   "01/15 TRADER JOES",
			expected: "TRADER JOES",
		},
		{
			name:     "memo replaces generic name",
			txName:   "DEBIT",
			memo:     "CITY OF PORTLAND WATER",
			expected: "CITY OF PORTLAND WATER",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tx := ofxgo.Transaction{
				Name: ofxgo.String(tt.txName),
				Memo: ofxgo.String(tt.memo),
			}
			assert.Equal(t, tt.expected, parser.cleanDescription(tx))
		})
	}
}

func TestConvertTransaction_PayeeWins(t *testing.T) {
	parser := NewParser()

	var amount ofxgo.Amount
	amount.SetFrac64(-1199, 100)
	tx := ofxgo.Transaction{
		FiTID:    ofxgo.String("fit-77"),
		Name:     ofxgo.String("POS PURCHASE 8811234"),
		TrnAmt:   amount,
		DtPosted: ofxgo.Date{Time: time.Date(2024, 2, 2, 0, 0, 0, 0, time.UTC)},
		Payee:    &ofxgo.Payee{Name: ofxgo.String("Spotify AB")},
	}

	entry := parser.convertTransaction(tx, "9999", "owner-1")
	assert.Equal(t, "Spotify AB", entry.Description)
	assert.Equal(t, "Spotify AB", entry.Merchant)
	assert.Equal(t, 11.99, entry.Amount)
	assert.Equal(t, model.KindExpense, entry.Kind)
	assert.Equal(t, entry.GenerateHash(), entry.Hash)
}

func TestGetAccounts(t *testing.T) {
	parser := NewParser()

	reader := strings.NewReader(sampleBankOFX)
	accounts, err := parser.GetAccounts(context.Background(), reader)
	require.NoError(t, err)
	assert.Equal(t, []string{"1234567890"}, accounts)

	reader = strings.NewReader(sampleCreditCardOFX)
	accounts, err = parser.GetAccounts(context.Background(), reader)
	require.NoError(t, err)
	assert.Equal(t, []string{"4111111111111111"}, accounts)
}
