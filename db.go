package main

import (
	"nfcescan/pkg/app"
	"nfcescan/pkg/store"
)

var receipts receiptStore

// initDB connects to DB_DSN and migrates the receipt tables unless
// DB_AUTO_MIGRATE is off. The service cannot run without a database.
func initDB() *store.Store {
	st, err := app.OpenStore(appCfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect postgres database")
	}
	receipts = st
	return st
}
