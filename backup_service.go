// Package pinvault implements versioned, password-encrypted backup and
// restore for a local note vault whose records are 40-cell grids.
//
// A backup is a self-describing envelope: a human-readable header line
// carrying the format version, followed by a JSON body with the key
// derivation parameters, an integrity tag, and the encrypted record
// payload. The current format (1.5) authenticates the envelope so a
// wrong password can be told apart from a damaged file; the three
// older formats are still fully restorable.
//
// The host application supplies the record store, the file sink, and
// an authorization gate; the Service orchestrates everything else.
package pinvault

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/DavidPeltz/pinvault/audit"
	"github.com/DavidPeltz/pinvault/internal/debug"
	"github.com/DavidPeltz/pinvault/internal/misc"
)

// RestorePolicy controls how restored records are merged into the
// store. The zero value is the safest policy: keep everything already
// in the store and only add records that do not exist yet.
type RestorePolicy struct {
	// ReplaceAll wipes the store before restoring, so afterwards the
	// store contains exactly the backup's records. When set,
	// OverwriteExisting is irrelevant.
	ReplaceAll bool

	// OverwriteExisting replaces records whose ID already exists in
	// the store. When false, existing records win and the backup copy
	// is skipped.
	OverwriteExisting bool
}

// RestoreFailure records a single record that could not be written to
// the store during a restore. Failures do not abort the restore.
type RestoreFailure struct {
	RecordID string
	Err      error
}

// RestoreResult summarizes what a restore did.
type RestoreResult struct {
	// RestoredCount is the number of records written to the store.
	RestoredCount int
	// SkippedCount is the number of records left alone because they
	// already existed and the policy did not allow overwriting.
	SkippedCount int
	// TotalInBackup is the number of records the backup declared,
	// including any that were skipped or failed to migrate.
	TotalInBackup int
	// Warnings carries per-record migration notices, such as a legacy
	// record that had to be dropped or a name that was truncated.
	Warnings []string
	// Failures lists records the store refused to accept.
	Failures []RestoreFailure
}

// BackupService is the host-facing surface of this package.
type BackupService interface {
	// CreateBackup encrypts the full record set under the password and
	// returns the envelope. It never writes anywhere.
	CreateBackup(ctx context.Context, password string) (*BackupEnvelope, error)

	// RestoreBackup decrypts the envelope and merges its records into
	// the store according to the policy.
	RestoreBackup(ctx context.Context, env *BackupEnvelope, password string, policy RestorePolicy) (*RestoreResult, error)

	// ExportBackup creates a backup and writes it through the file
	// sink, returning the path the sink stored it under.
	ExportBackup(ctx context.Context, password string) (string, error)

	// ImportBackup reads an envelope from the sink path and restores it.
	ImportBackup(ctx context.Context, path, password string, policy RestorePolicy) (*RestoreResult, error)

	// ImportPicked asks the sink to pick a backup file, then restores
	// it. Returns ErrCancelled if the user dismissed the picker.
	ImportPicked(ctx context.Context, password string, policy RestorePolicy) (*RestoreResult, error)

	// Close releases the service's resources, including the audit log.
	Close() error
}

// Service is the default BackupService implementation.
type Service struct {
	store RecordStore
	gate  AuthorizationGate
	sink  FileSink
	codec *Codec
	audit audit.Logger

	// mu serializes mutating operations so a restore never interleaves
	// with another restore's wipe phase.
	mu sync.Mutex
}

var _ BackupService = (*Service)(nil)

// NewService wires a backup service. The store is required. A nil gate
// allows every operation; a nil sink disables export and import. The
// audit destination comes from opts.Audit and defaults to no-op.
func NewService(store RecordStore, gate AuthorizationGate, sink FileSink, opts Options) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("record store is required")
	}
	if gate == nil {
		gate = AllowAllGate
	}

	codec, err := NewCodec(opts)
	if err != nil {
		return nil, err
	}

	logger, err := audit.NewLogger(opts.Audit)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize audit logger: %w", err)
	}

	return &Service{
		store: store,
		gate:  gate,
		sink:  sink,
		codec: codec,
		audit: logger,
	}, nil
}

// CreateBackup implements BackupService.
func (s *Service) CreateBackup(ctx context.Context, password string) (*BackupEnvelope, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !s.gate.Authorize("backup.create") {
		s.logAudit(audit.ActionBackupCreate, "", audit.OutcomeDenied, "authorization gate refused")
		return nil, ErrNotAuthorized
	}
	if password == "" {
		return nil, ErrPasswordRequired
	}

	records, err := s.store.GetAll()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageFailure, err)
	}
	if len(records) == 0 {
		return nil, ErrNoRecordsToBackup
	}

	env, err := s.codec.Encode(records, password)
	if err != nil {
		s.logAudit(audit.ActionBackupCreate, "", audit.OutcomeFailure, err.Error())
		return nil, err
	}

	s.logAudit(audit.ActionBackupCreate, env.BackupID, audit.OutcomeSuccess,
		fmt.Sprintf("%d records", env.RecordCount))
	return env, nil
}

// RestoreBackup implements BackupService.
func (s *Service) RestoreBackup(ctx context.Context, env *BackupEnvelope, password string, policy RestorePolicy) (*RestoreResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if env == nil {
		return nil, fmt.Errorf("%w: nil envelope", ErrCorruptBackup)
	}
	if !s.gate.Authorize("backup.restore") {
		s.logAudit(audit.ActionBackupRestore, env.BackupID, audit.OutcomeDenied, "authorization gate refused")
		return nil, ErrNotAuthorized
	}

	records, warnings, err := s.codec.Decode(env, password)
	if err != nil {
		s.logAudit(audit.ActionBackupRestore, env.BackupID, audit.OutcomeFailure, err.Error())
		return nil, err
	}

	// Key derivation above can be slow; honor a cancellation that
	// arrived while it ran before touching the store.
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	result, err := s.merge(records, env.RecordCount, warnings, policy)
	if err != nil {
		s.logAudit(audit.ActionBackupRestore, env.BackupID, audit.OutcomeFailure, err.Error())
		return nil, err
	}

	s.logAudit(audit.ActionBackupRestore, env.BackupID, audit.OutcomeSuccess,
		fmt.Sprintf("restored %d, skipped %d of %d", result.RestoredCount, result.SkippedCount, result.TotalInBackup))
	return result, nil
}

// merge applies the restore policy. Individual Put failures are
// collected, not fatal; a failure while reading or wiping the store is.
func (s *Service) merge(records map[string]Record, total int, warnings []string, policy RestorePolicy) (*RestoreResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	result := &RestoreResult{
		TotalInBackup: total,
		Warnings:      warnings,
	}

	existing, err := s.store.GetAll()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageFailure, err)
	}

	if policy.ReplaceAll {
		for _, id := range sortedKeys(existing) {
			if _, err := s.store.Delete(id); err != nil {
				return nil, fmt.Errorf("%w: failed to clear record %s: %v", ErrStorageFailure, id, err)
			}
		}
		existing = nil
	}

	for _, id := range sortedKeys(records) {
		if !policy.ReplaceAll {
			if _, found := existing[id]; found && !policy.OverwriteExisting {
				result.SkippedCount++
				continue
			}
		}
		if _, err := s.store.Put(records[id]); err != nil {
			result.Failures = append(result.Failures, RestoreFailure{RecordID: id, Err: err})
			continue
		}
		result.RestoredCount++
	}

	return result, nil
}

// ExportBackup implements BackupService.
func (s *Service) ExportBackup(ctx context.Context, password string) (string, error) {
	if s.sink == nil {
		return "", fmt.Errorf("no file sink configured")
	}

	env, err := s.CreateBackup(ctx, password)
	if err != nil {
		return "", err
	}

	data, err := MarshalEnvelope(env)
	if err != nil {
		return "", err
	}

	path, err := s.sink.Write(data)
	if err != nil {
		s.logAudit(audit.ActionBackupExport, env.BackupID, audit.OutcomeFailure, err.Error())
		return "", fmt.Errorf("%w: %v", ErrStorageFailure, err)
	}

	s.logAudit(audit.ActionBackupExport, env.BackupID, audit.OutcomeSuccess, path)
	return path, nil
}

// ImportBackup implements BackupService.
func (s *Service) ImportBackup(ctx context.Context, path, password string, policy RestorePolicy) (*RestoreResult, error) {
	if s.sink == nil {
		return nil, fmt.Errorf("no file sink configured")
	}

	data, err := s.sink.Read(path)
	if err != nil {
		s.logAudit(audit.ActionBackupImport, "", audit.OutcomeFailure, err.Error())
		if misc.IsNotFoundError(err) {
			return nil, fmt.Errorf("%w: backup file %s not found", ErrStorageFailure, path)
		}
		return nil, fmt.Errorf("%w: %v", ErrStorageFailure, err)
	}

	env, err := UnmarshalEnvelope(data)
	if err != nil {
		s.logAudit(audit.ActionBackupImport, "", audit.OutcomeFailure, err.Error())
		return nil, err
	}

	result, err := s.RestoreBackup(ctx, env, password, policy)
	if err != nil {
		return nil, err
	}

	s.logAudit(audit.ActionBackupImport, env.BackupID, audit.OutcomeSuccess, path)
	return result, nil
}

// ImportPicked implements BackupService.
func (s *Service) ImportPicked(ctx context.Context, password string, policy RestorePolicy) (*RestoreResult, error) {
	if s.sink == nil {
		return nil, fmt.Errorf("no file sink configured")
	}

	path, err := s.sink.Pick()
	if err != nil {
		return nil, err
	}

	return s.ImportBackup(ctx, path, password, policy)
}

// Close implements BackupService.
func (s *Service) Close() error {
	if s.audit == nil {
		return nil
	}
	return s.audit.Close()
}

// logAudit records an event, never failing the operation over it.
func (s *Service) logAudit(action, backupID, outcome, detail string) {
	if s.audit == nil {
		return
	}
	err := s.audit.Log(audit.Event{
		Timestamp: time.Now().UTC(),
		Action:    action,
		BackupID:  backupID,
		Outcome:   outcome,
		Detail:    detail,
	})
	if err != nil {
		debug.Print("audit log write failed: %v", err)
	}
}
