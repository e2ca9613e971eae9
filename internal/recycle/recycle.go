// Package recycle implements the soft-delete, restore, permanent-delete and
// expiry workflows around the identity provider and the recycle bin.
package recycle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"congregation-admin-go/internal/identity"
	"congregation-admin-go/internal/models"
	"congregation-admin-go/internal/store"
)

// Operation names, also used as the public error text ("<op> failed").
const (
	OpSoftDelete      = "soft delete"
	OpRestore         = "restore"
	OpRestoreBinItem  = "restore bin item"
	OpPermanentDelete = "permanent delete"
	OpPurgeExpired    = "purge expired"
	OpListBin         = "list bin"
	OpListEvents      = "list events"
	OpPurgeReport     = "purge report"
)

// OpError is a failed workflow. Its message never exposes the cause.
type OpError struct {
	Op  string
	Err error
}

func (e *OpError) Error() string { return e.Op + " failed" }

func (e *OpError) Unwrap() error { return e.Err }

// LogValue keeps the cause in structured logs.
func (e *OpError) LogValue() slog.Value {
	return slog.StringValue(e.Op + ": " + e.Err.Error())
}

// NotFound reports whether the workflow failed because its subject does not exist.
func (e *OpError) NotFound() bool {
	return errors.Is(e.Err, identity.ErrNotFound) || errors.Is(e.Err, store.ErrNotFound)
}

func opErr(op string, err error) error {
	return &OpError{Op: op, Err: err}
}

type Options struct {
	// RestoreRemovesBinItem makes Restore delete the user's bin items.
	RestoreRemovesBinItem bool
	SweepPolicy           store.SweepPolicy
}

func DefaultOptions() Options {
	return Options{RestoreRemovesBinItem: true, SweepPolicy: store.SweepContinue}
}

// Repository is the persistence the workflows need.
type Repository interface {
	store.EventLog
	store.BinStore
}

type Service struct {
	users identity.Provider
	repo  Repository
	opts  Options
	now   func() time.Time
}

func NewService(users identity.Provider, repo Repository, opts Options) *Service {
	if opts.SweepPolicy == "" {
		opts.SweepPolicy = store.SweepContinue
	}
	return &Service{users: users, repo: repo, opts: opts, now: time.Now}
}

// SetClock replaces the time source used for markers and sweeps.
func (s *Service) SetClock(now func() time.Time) { s.now = now }

// SoftDelete marks the provider user as deleted and moves a snapshot into the bin.
// If the bin insert fails, the marker is cleared again.
func (s *Service) SoftDelete(ctx context.Context, userID, deletedBy string) (models.BinItem, error) {
	user, err := s.users.GetUser(ctx, userID)
	if err != nil {
		return models.BinItem{}, opErr(OpSoftDelete, err)
	}

	marker := strconv.FormatInt(models.NowMillis(s.now()), 10)
	user, err = s.users.UpdateMetadata(ctx, userID, map[string]any{models.DeletedAtKey: marker})
	if err != nil {
		return models.BinItem{}, opErr(OpSoftDelete, err)
	}

	snapshot, err := json.Marshal(user.Snapshot())
	if err != nil {
		s.clearMarker(ctx, userID)
		return models.BinItem{}, opErr(OpSoftDelete, err)
	}

	item, err := s.repo.Add(ctx, models.BinTypeUser, userID, snapshot, deletedBy)
	if err != nil {
		s.clearMarker(ctx, userID)
		return models.BinItem{}, opErr(OpSoftDelete, err)
	}

	slog.Info("user moved to recycle bin", "user_id", userID, "bin_id", item.ID, "deleted_by", item.DeletedBy)
	return item, nil
}

func (s *Service) clearMarker(ctx context.Context, userID string) {
	if _, err := s.users.UpdateMetadata(ctx, userID, map[string]any{models.DeletedAtKey: nil}); err != nil {
		slog.Error("failed to clear deletion marker after bin insert failure",
			"user_id", userID, "error", err)
	}
}

// Restore clears the deletion marker on the provider user and logs RESTORE_USER.
// Every other metadata key is preserved.
func (s *Service) Restore(ctx context.Context, userID, actor string) error {
	user, err := s.users.GetUser(ctx, userID)
	if err != nil {
		return opErr(OpRestore, err)
	}
	if _, err := s.users.UpdateMetadata(ctx, userID, map[string]any{models.DeletedAtKey: nil}); err != nil {
		return opErr(OpRestore, err)
	}

	removed := 0
	if s.opts.RestoreRemovesBinItem {
		removed, err = s.repo.RemoveByOriginal(ctx, models.BinTypeUser, userID)
		if err != nil {
			return opErr(OpRestore, err)
		}
	}

	if err := s.logRestore(ctx, userID, user.Snapshot().DisplayName(), actor, map[string]any{"binItemsRemoved": removed}); err != nil {
		return opErr(OpRestore, err)
	}
	return nil
}

// RestoreBinItem restores the user held by one bin item and then removes the
// item. If the provider update fails the item stays in the bin.
func (s *Service) RestoreBinItem(ctx context.Context, binID, actor string) error {
	item, err := s.repo.GetBinItem(ctx, binID)
	if err != nil {
		return opErr(OpRestoreBinItem, err)
	}
	snap, err := item.UserSnapshot()
	if err != nil {
		return opErr(OpRestoreBinItem, err)
	}
	if _, err := s.users.UpdateMetadata(ctx, item.OriginalID, map[string]any{models.DeletedAtKey: nil}); err != nil {
		return opErr(OpRestoreBinItem, err)
	}
	if _, err := s.repo.Remove(ctx, item.ID); err != nil {
		return opErr(OpRestoreBinItem, err)
	}

	if err := s.logRestore(ctx, item.OriginalID, snap.DisplayName(), actor, map[string]any{"binId": item.ID}); err != nil {
		return opErr(OpRestoreBinItem, err)
	}
	return nil
}

func (s *Service) logRestore(ctx context.Context, userID, name, actor string, meta map[string]any) error {
	if name == "" {
		name = userID
	}
	_, err := s.repo.Append(ctx, models.AuditLogEntry{
		Action:      models.ActionRestoreUser,
		Actor:       actorOr(actor),
		Target:      models.BinTarget(models.BinTypeUser, userID),
		Description: fmt.Sprintf("Restored user %s", name),
		Metadata:    meta,
	})
	return err
}

// PermanentDelete removes the provider user. A user that does not exist fails
// with a NotFound cause and nothing is logged.
func (s *Service) PermanentDelete(ctx context.Context, userID, actor string) error {
	if err := s.users.DeleteUser(ctx, userID); err != nil {
		return opErr(OpPermanentDelete, err)
	}

	_, err := s.repo.Append(ctx, models.AuditLogEntry{
		Action:      models.ActionPermanentDelete,
		Actor:       actorOr(actor),
		Target:      models.BinTarget(models.BinTypeUser, userID),
		Description: fmt.Sprintf("Permanently deleted user %s", userID),
	})
	if err != nil {
		return opErr(OpPermanentDelete, err)
	}
	slog.Info("user permanently deleted", "user_id", userID, "actor", actorOr(actor))
	return nil
}

// PurgeExpired removes every bin item past its retention window.
// The count is valid even when err is non-nil.
func (s *Service) PurgeExpired(ctx context.Context) (int, error) {
	n, err := s.repo.PurgeExpired(ctx, s.now(), s.opts.SweepPolicy)
	if err != nil {
		return n, opErr(OpPurgeExpired, err)
	}
	return n, nil
}

func (s *Service) ListBin(ctx context.Context) ([]models.BinItem, error) {
	items, err := s.repo.ListBin(ctx)
	if err != nil {
		return nil, opErr(OpListBin, err)
	}
	return items, nil
}

// RecentEvents returns the latest page of the event log.
func (s *Service) RecentEvents(ctx context.Context) ([]models.AuditLogEntry, error) {
	logs, err := s.repo.ListRecent(ctx, models.DefaultEventPageSize)
	if err != nil {
		return nil, opErr(OpListEvents, err)
	}
	return logs, nil
}

// PurgeReport returns every automatic purge, newest first.
func (s *Service) PurgeReport(ctx context.Context) ([]models.AuditLogEntry, error) {
	all, err := s.repo.ListAll(ctx)
	if err != nil {
		return nil, opErr(OpPurgeReport, err)
	}
	purges := make([]models.AuditLogEntry, 0)
	for _, e := range all {
		if e.Action == models.ActionPermanentDeleteAuto {
			purges = append(purges, e)
		}
	}
	return purges, nil
}

func actorOr(actor string) string {
	if actor == "" {
		return models.DefaultDeletedBy
	}
	return actor
}
