// Package ledger is the single source of truth for AI spend. It appends an
// entry per cost event, maintains flat per-day/month/skill/workflow totals in
// SQLite, and answers limit checks before further spend is authorized.
package ledger
