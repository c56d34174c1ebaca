// Package config provides application configuration from environment
// variables and the YAML plan/currency catalog.
//
// # Environment
//
// Server settings:
//
//	RATCHET_HOST="0.0.0.0"
//	RATCHET_PORT="8080"
//	RATCHET_HEALTH_PORT="9090"
//	RATCHET_READ_TIMEOUT="15s"
//	RATCHET_WRITE_TIMEOUT="15s"
//
// Store settings:
//
//	RATCHET_STORE_TYPE="sqlite"  # memory, sqlite, postgres
//	RATCHET_SQLITE_PATH="ratchet.db"
//	RATCHET_POSTGRES_URL="postgres://localhost/ratchet"
//	RATCHET_REDIS_URL="localhost:6379"
//
// Billing settings:
//
//	RATCHET_PLATFORM_ACCOUNT="platform"
//	RATCHET_CATALOG_PATH="catalog.yaml"
//	RATCHET_MAX_FAILED_PAYMENTS="3"
//	RATCHET_BATCH_SCHEDULE="@every 1m"
//	RATCHET_LEDGER_URL="http://settlement:8090"
//	RATCHET_LEDGER_TIMEOUT="10s"
//	RATCHET_WEBHOOK_URL=""
//	RATCHET_WEBHOOK_SECRET=""
//	RATCHET_AUDIT_PATH=""
//
// Observability settings:
//
//	RATCHET_LOG_LEVEL="info"  # debug, info, warn, error
//	RATCHET_METRICS_ENABLED="true"
//
// Bootstrap capability grants (comma separated identities):
//
//	RATCHET_ADMINS="root"
//	RATCHET_OPERATORS="billing-job"
//	RATCHET_SUBSCRIBERS=""
//
// # Catalog
//
// The catalog file declares currencies and plans:
//
//	currencies:
//	  USD:
//	    supported: true
//	    min_amount_cents: 100
//	    max_amount_cents: 1000000
//	    daily_cap: 100000
//	    global_daily_cap: unlimited
//	    fee_bps: 250
//	    fee_collector: platform-fees
//	plans:
//	  pro-monthly:
//	    name: Pro Monthly
//	    currency: USD
//	    price_cents: 2500
//	    cycle: monthly
//	    active: true
//
// Daily caps accept "unlimited", "blocked" or a non-negative integer, so a
// zero-valued cap is always an explicit choice. With watching enabled the
// catalog reloads on file changes and keeps the previous version when a
// reload fails to parse.
package config
