package app

import (
	"barstock/internal/core"
)

// MeResult is returned by Me.
type MeResult struct {
	User          *core.User          `json:"user"`
	EffectiveRole core.Role           `json:"effective_role"`
	Roles         map[int64]core.Role `json:"roles"`
	LocationIDs   []int64             `json:"location_ids"`
}

// SessionDetail is returned by GetSession.
type SessionDetail struct {
	Session      *core.InventorySession    `json:"session"`
	Lines        []core.SessionLine        `json:"lines"`
	Participants []core.SessionParticipant `json:"participants"`
	Watchers     int                       `json:"watchers"`
}

// CSVImportResult is returned by ImportSalesCSV.
type CSVImportResult struct {
	BatchID    string   `json:"batch_id"`
	Parsed     int      `json:"parsed"`
	Inserted   int      `json:"inserted"`
	Duplicates int      `json:"duplicates"`
	Rejected   int      `json:"rejected"`
	RowErrors  []string `json:"row_errors,omitempty"`
}

// CronRunResult summarizes a depletion pass across locations.
type CronRunResult struct {
	Locations      int `json:"locations"`
	LinesSeen      int `json:"lines_seen"`
	EntriesWritten int `json:"entries_written"`
	Unmapped       int `json:"unmapped"`
	Reversed       int `json:"reversed"`
	Failures       int `json:"failures"`
}

// EndOfDayResult summarizes an end-of-day pass.
type EndOfDayResult struct {
	LocationsMatched int `json:"locations_matched"`
	SessionsExpired  int `json:"sessions_expired"`
	ReconEntries     int `json:"recon_entries"`
}

// ImportRunResult summarizes a POS importer pass.
type ImportRunResult struct {
	Importers  int `json:"importers"`
	Locations  int `json:"locations"`
	Fetched    int `json:"fetched"`
	Inserted   int `json:"inserted"`
	Duplicates int `json:"duplicates"`
	Failures   int `json:"failures"`
}
