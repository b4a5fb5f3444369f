package database

import (
	"testing"

	"github.com/Rainnny7/LicenseServer/internal/ledger"
	"github.com/Rainnny7/LicenseServer/internal/ledger/ledgertest"
)

func TestLicenseLedger(t *testing.T) {
	ledgertest.Run(t, func(t *testing.T) ledger.UsageLedger {
		db := InitTestDB()
		t.Cleanup(func() { CleanTestDB(db) })
		return NewLicenseLedger(db)
	})
}
