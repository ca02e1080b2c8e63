package main

import (
	"encoding/json"
	"testing"

	"github.com/matchbook-labs/matchbook/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReceiptFileToModel(t *testing.T) {
	payload := `{
		"merchant": "Walmart",
		"amount": 42.50,
		"date": "2024-03-15",
		"category": "Groceries",
		"items": [{"description": "MILK", "amount": 3.99, "quantity": 1}],
		"tags": ["groceries"],
		"location": {"latitude": 37.77, "longitude": -122.42}
	}`

	var entry receiptFile
	require.NoError(t, json.Unmarshal([]byte(payload), &entry))

	receipt, err := entry.toModel()
	require.NoError(t, err)

	assert.NotEmpty(t, receipt.ID)
	assert.Equal(t, "Walmart", receipt.MerchantName)
	assert.Equal(t, model.StatusPending, receipt.Status)
	assert.Equal(t, 2024, receipt.Date.Year())
	require.Len(t, receipt.Items, 1)
	assert.Equal(t, "MILK", receipt.Items[0].Description)
	require.NotNil(t, receipt.Location)
	assert.InDelta(t, -122.42, receipt.Location.Longitude, 1e-9)
}

func TestTransactionFileToModel(t *testing.T) {
	entry := transactionFile{
		ID:          "t1",
		AccountID:   "acct-1",
		Date:        "2024-03-15T10:30:00Z",
		Description: "WALMART STORE 1234",
		Merchant:    "Walmart",
		Amount:      42.50,
	}

	txn, err := entry.toModel()
	require.NoError(t, err)

	assert.Equal(t, "t1", txn.ID)
	assert.NotEmpty(t, txn.Hash)
	assert.Equal(t, 10, txn.Date.Hour())
}

func TestParseDateRejectsGarbage(t *testing.T) {
	_, err := parseDate("15/03/2024")
	assert.Error(t, err)

	_, err = parseDate("")
	assert.Error(t, err)
}
