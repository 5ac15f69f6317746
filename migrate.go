package pinvault

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"
)

// payloadV15 is the canonical plaintext payload of the current format:
// an object keyed by record id.
type payloadV15 struct {
	Records map[string]Record `json:"records"`
}

// recordV12 is the oldest payload shape: records in an array, the grid
// as 40 plain numbers. -1 is an empty cell, 0-9 a visible digit and
// 10-19 a secret digit stored as value+10. There were no color tags yet.
type recordV12 struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Grid []int  `json:"grid"`
}

// cellV13 is the structured cell introduced by format 1.3 and kept by
// 1.4: single-letter keys, color as an index into the four-tag palette.
type cellV13 struct {
	Index  int  `json:"i"`
	Color  int  `json:"c"`
	Digit  *int `json:"d"`
	Secret bool `json:"s"`
}

// recordV13 is the 1.3 payload shape: still an array of records, cells
// now structured.
type recordV13 struct {
	ID    string    `json:"id"`
	Name  string    `json:"name"`
	Cells []cellV13 `json:"cells"`
}

// recordV14 is the 1.4 payload shape: records keyed by id (the id lives
// only in the key), Unix-second timestamps.
type recordV14 struct {
	Name    string    `json:"name"`
	Cells   []cellV13 `json:"cells"`
	Created int64     `json:"created"`
	Updated int64     `json:"updated"`
}

// Migrator upgrades decoded legacy payloads to the current record
// schema. Each step lifts exactly one format generation; steps chain
// until the payload reaches the current shape. A record that cannot be
// salvaged is skipped with a warning rather than failing the whole
// restore; only a migration that salvages nothing is an error.
type Migrator struct{}

// NewMigrator returns a migrator over the known format chain.
func NewMigrator() *Migrator {
	return &Migrator{}
}

// Migrate parses a decrypted payload in the declared format's shape and
// upgrades it to current records. fallback supplies timestamps for
// generations that did not record any. It returns the surviving records,
// the number of records present in the payload before migration, and
// one warning per skipped or repaired record.
func (m *Migrator) Migrate(payload []byte, declared FormatVersion, fallback time.Time) (map[string]Record, int, []string, error) {
	var (
		v13      []recordV13
		v14      map[string]recordV14
		total    int
		warnings []string
	)

	switch declared {
	case FormatV1_2:
		var v12 []recordV12
		if err := json.Unmarshal(payload, &v12); err != nil {
			return nil, 0, nil, fmt.Errorf("%w: unreadable 1.2 payload", ErrInvalidBackupOrPassword)
		}
		total = len(v12)
		v13, warnings = stepGridToCells(v12, warnings)
		fallthrough

	case FormatV1_3:
		if declared == FormatV1_3 {
			if err := json.Unmarshal(payload, &v13); err != nil {
				return nil, 0, nil, fmt.Errorf("%w: unreadable 1.3 payload", ErrInvalidBackupOrPassword)
			}
			total = len(v13)
		}
		v14, warnings = stepArrayToMap(v13, warnings)
		fallthrough

	case FormatV1_4:
		if declared == FormatV1_4 {
			if err := json.Unmarshal(payload, &v14); err != nil {
				return nil, 0, nil, fmt.Errorf("%w: unreadable 1.4 payload", ErrInvalidBackupOrPassword)
			}
			total = len(v14)
		}
		records, stepWarnings := stepToCurrent(v14, fallback)
		warnings = append(warnings, stepWarnings...)

		if total > 0 && len(records) == 0 {
			return nil, total, warnings, ErrNoRecoverableRecords
		}
		return records, total, warnings, nil

	case CurrentFormat:
		var current payloadV15
		if err := json.Unmarshal(payload, &current); err != nil {
			return nil, 0, nil, fmt.Errorf("%w: unreadable payload", ErrCorruptBackup)
		}
		records, stepWarnings := validateCurrent(current.Records)
		warnings = append(warnings, stepWarnings...)

		if len(current.Records) > 0 && len(records) == 0 {
			return nil, len(current.Records), warnings, ErrNoRecoverableRecords
		}
		return records, len(current.Records), warnings, nil

	default:
		return nil, 0, nil, fmt.Errorf("%w: %q", ErrUnsupportedVersion, declared)
	}
}

// stepGridToCells lifts 1.2 numeric grids into structured cells. Color
// tags did not exist yet; cells get the palette assigned round-robin by
// position, which matches how the original application rendered old
// imports.
func stepGridToCells(in []recordV12, warnings []string) ([]recordV13, []string) {
	out := make([]recordV13, 0, len(in))

	for _, rec := range in {
		if rec.ID == "" {
			warnings = append(warnings, fmt.Sprintf("skipped record %q: missing id", rec.Name))
			continue
		}
		if len(rec.Grid) != CellsPerRecord {
			warnings = append(warnings, fmt.Sprintf("skipped record %s: grid has %d cells, want %d", rec.ID, len(rec.Grid), CellsPerRecord))
			continue
		}

		cells := make([]cellV13, CellsPerRecord)
		ok := true
		for i, v := range rec.Grid {
			cells[i] = cellV13{Index: i, Color: i % len(colorTags)}
			switch {
			case v == -1:
				// empty cell
			case v >= 0 && v <= 9:
				d := v
				cells[i].Digit = &d
			case v >= 10 && v <= 19:
				d := v - 10
				cells[i].Digit = &d
				cells[i].Secret = true
			default:
				warnings = append(warnings, fmt.Sprintf("skipped record %s: grid value %d at cell %d out of range", rec.ID, v, i))
				ok = false
			}
			if !ok {
				break
			}
		}
		if !ok {
			continue
		}

		out = append(out, recordV13{ID: rec.ID, Name: rec.Name, Cells: cells})
	}
	return out, warnings
}

// stepArrayToMap lifts the 1.3 record array into the id-keyed map shape
// of 1.4. Records without an id, or whose id collides with an earlier
// record, are skipped.
func stepArrayToMap(in []recordV13, warnings []string) (map[string]recordV14, []string) {
	out := make(map[string]recordV14, len(in))

	for _, rec := range in {
		if rec.ID == "" {
			warnings = append(warnings, fmt.Sprintf("skipped record %q: missing id", rec.Name))
			continue
		}
		if _, dup := out[rec.ID]; dup {
			warnings = append(warnings, fmt.Sprintf("skipped record %s: duplicate id", rec.ID))
			continue
		}

		out[rec.ID] = recordV14{Name: rec.Name, Cells: rec.Cells}
	}
	return out, warnings
}

// stepToCurrent lifts 1.4-shaped records into current Records. fallback
// stands in for the timestamps generations before 1.4 never recorded.
func stepToCurrent(in map[string]recordV14, fallback time.Time) (map[string]Record, []string) {
	var warnings []string
	out := make(map[string]Record, len(in))

	for _, id := range sortedKeys(in) {
		rec := in[id]

		name := rec.Name
		if name == "" {
			warnings = append(warnings, fmt.Sprintf("skipped record %s: missing name", id))
			continue
		}
		if len(name) > 50 {
			warnings = append(warnings, fmt.Sprintf("record %s: name truncated to 50 characters", id))
			name = name[:50]
		}
		if len(rec.Cells) != CellsPerRecord {
			warnings = append(warnings, fmt.Sprintf("skipped record %s: %d cells, want %d", id, len(rec.Cells), CellsPerRecord))
			continue
		}

		cells := make([]Cell, CellsPerRecord)
		ok := true
		for i, c := range rec.Cells {
			if c.Color < 0 || c.Color >= len(colorTags) {
				warnings = append(warnings, fmt.Sprintf("skipped record %s: cell %d has color %d out of range", id, i, c.Color))
				ok = false
				break
			}
			if c.Digit != nil && (*c.Digit < 0 || *c.Digit > 9) {
				warnings = append(warnings, fmt.Sprintf("skipped record %s: cell %d has digit %d out of range", id, i, *c.Digit))
				ok = false
				break
			}

			cells[i] = Cell{Index: i, ColorTag: colorTags[c.Color]}
			if c.Digit != nil {
				d := *c.Digit
				cells[i].Digit = &d
				cells[i].IsSecretDigit = c.Secret
			} else if c.Secret {
				warnings = append(warnings, fmt.Sprintf("record %s: cleared secret flag on empty cell %d", id, i))
			}
		}
		if !ok {
			continue
		}

		created := fallback
		if rec.Created > 0 {
			created = time.Unix(rec.Created, 0).UTC()
		}
		updated := created
		if rec.Updated > 0 {
			updated = time.Unix(rec.Updated, 0).UTC()
		}
		if updated.Before(created) {
			updated = created
		}

		migrated := Record{
			ID:        id,
			Name:      name,
			Cells:     cells,
			CreatedAt: created,
			UpdatedAt: updated,
		}
		if err := migrated.Validate(); err != nil {
			warnings = append(warnings, fmt.Sprintf("skipped record %s: %v", id, err))
			continue
		}

		out[id] = migrated
	}
	return out, warnings
}

// validateCurrent screens records decoded from a current-format payload.
// The integrity tag has already been verified by this point, so failures
// here are rare; they are still skipped per record rather than aborting
// the restore.
func validateCurrent(in map[string]Record) (map[string]Record, []string) {
	var warnings []string
	out := make(map[string]Record, len(in))

	for _, id := range sortedKeys(in) {
		rec := in[id]
		if rec.ID != id {
			warnings = append(warnings, fmt.Sprintf("skipped record %s: id does not match payload key", id))
			continue
		}
		if err := rec.Validate(); err != nil {
			warnings = append(warnings, fmt.Sprintf("skipped record %s: %v", id, err))
			continue
		}
		out[id] = rec
	}
	return out, warnings
}

// sortedKeys returns map keys in ascending order, for deterministic
// iteration.
func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
