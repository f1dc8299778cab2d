package postgres

import (
	"time"

	sq "github.com/Masterminds/squirrel"
)

const objectsTable = "calendar_objects"

var objectColumns = []string{
	"folder_id",
	"object_id",
	"uid",
	"recurrence_id",
	"recurrence_position",
	"kind",
	"filename",
	"delete_exceptions",
	"ical",
	"created_at",
	"last_modified",
}

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// buildChangesQuery selects live objects (or tombstones) modified after since, oldest
// first. A limit <= 0 selects everything.
func buildChangesQuery(folderID string, since time.Time, deleted bool, limit int) (string, []any, error) {
	q := psql.Select(objectColumns...).
		From(objectsTable).
		Where(sq.Eq{"folder_id": folderID, "deleted": deleted}).
		Where(sq.Gt{"last_modified": since}).
		OrderBy("last_modified", "object_id")
	if limit > 0 {
		q = q.Limit(uint64(limit))
	}
	return q.ToSql()
}

func buildAllQuery(folderID string) (string, []any, error) {
	return psql.Select(objectColumns...).
		From(objectsTable).
		Where(sq.Eq{"folder_id": folderID, "deleted": false}).
		OrderBy("object_id").
		ToSql()
}

// buildByIDQuery selects one live object. forUpdate locks the row for the transaction.
func buildByIDQuery(folderID, objectID string, forUpdate bool) (string, []any, error) {
	q := psql.Select(objectColumns...).
		From(objectsTable).
		Where(sq.Eq{"folder_id": folderID, "object_id": objectID, "deleted": false})
	if forUpdate {
		q = q.Suffix("FOR UPDATE")
	}
	return q.ToSql()
}

// buildExceptionQuery selects the live change exception of a master at position.
func buildExceptionQuery(folderID, masterID string, position time.Time) (string, []any, error) {
	return psql.Select(objectColumns...).
		From(objectsTable).
		Where(sq.Eq{
			"folder_id":           folderID,
			"recurrence_id":       masterID,
			"recurrence_position": position.UTC(),
			"deleted":             false,
		}).
		Suffix("FOR UPDATE").
		ToSql()
}

// buildUIDQuery finds the object holding uid: the master or single object for a zero
// position, the change exception at position otherwise.
func buildUIDQuery(folderID, uid string, position time.Time) (string, []any, error) {
	eq := sq.Eq{"folder_id": folderID, "uid": uid, "deleted": false}
	if position.IsZero() {
		eq["recurrence_position"] = nil
	} else {
		eq["recurrence_position"] = position.UTC()
	}
	return psql.Select("object_id").
		From(objectsTable).
		Where(eq).
		Limit(1).
		ToSql()
}

// buildSeriesOfQuery selects the recurrence_id a UID's live objects share.
func buildSeriesOfQuery(folderID, uid string) (string, []any, error) {
	return psql.Select("recurrence_id").
		From(objectsTable).
		Where(sq.Eq{"folder_id": folderID, "uid": uid, "deleted": false}).
		Where(sq.NotEq{"recurrence_id": ""}).
		Limit(1).
		ToSql()
}

// buildFolderLockQuery takes a transaction-scoped advisory lock on a folder.
func buildFolderLockQuery(folderID string) (string, []any, error) {
	return psql.Select().
		Column(sq.Expr("pg_advisory_xact_lock(hashtext(?))", folderID)).
		ToSql()
}

// buildFolderFloorQuery selects the newest modification time of a folder, tombstones
// included.
func buildFolderFloorQuery(folderID string) (string, []any, error) {
	return psql.Select("MAX(last_modified)").
		From(objectsTable).
		Where(sq.Eq{"folder_id": folderID}).
		ToSql()
}

func buildInsertQuery(r objectRow) (string, []any, error) {
	return psql.Insert(objectsTable).
		Columns(
			"folder_id", "object_id", "uid", "recurrence_id", "recurrence_position", "kind", "filename",
			"summary", "location", "description", "categories",
			"delete_exceptions", "ical", "created_at", "last_modified",
		).
		Values(
			r.FolderID, r.ObjectID, r.UID, r.RecurrenceID, r.RecurrencePosition, r.Kind, r.Filename,
			r.Summary, r.Location, r.Description, r.Categories,
			r.DeleteExceptions, r.ICal, r.Created, r.LastModified,
		).
		ToSql()
}

func buildUpdateQuery(r objectRow) (string, []any, error) {
	return psql.Update(objectsTable).
		SetMap(map[string]any{
			"recurrence_id":     r.RecurrenceID,
			"filename":          r.Filename,
			"summary":           r.Summary,
			"location":          r.Location,
			"description":       r.Description,
			"categories":        r.Categories,
			"delete_exceptions": r.DeleteExceptions,
			"ical":              r.ICal,
			"last_modified":     r.LastModified,
		}).
		Where(sq.Eq{"folder_id": r.FolderID, "object_id": r.ObjectID}).
		ToSql()
}

// buildTombstoneQuery turns live objects into tombstones stamped ts.
func buildTombstoneQuery(folderID string, objectIDs []string, ts time.Time) (string, []any, error) {
	return psql.Update(objectsTable).
		Set("deleted", true).
		Set("last_modified", ts).
		Where(sq.Eq{"folder_id": folderID, "object_id": objectIDs, "deleted": false}).
		ToSql()
}

// buildSeriesTombstoneQuery tombstones a master together with its change exceptions;
// they all share the master's recurrence_id.
func buildSeriesTombstoneQuery(folderID, masterID string, ts time.Time) (string, []any, error) {
	return psql.Update(objectsTable).
		Set("deleted", true).
		Set("last_modified", ts).
		Where(sq.Eq{"folder_id": folderID, "recurrence_id": masterID, "deleted": false}).
		ToSql()
}
