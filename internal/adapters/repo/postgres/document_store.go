package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"regexp"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pkg/errors"
	zlog "github.com/rs/zerolog/log"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/phenrril/jeanstore/internal/domain"
)

// document is one row per (collection, id); the payload lives in a JSONB column.
type document struct {
	Collection string `gorm:"primaryKey;size:60"`
	ID         string `gorm:"primaryKey;size:64"`
	Data       []byte `gorm:"type:jsonb;not null"`
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

func (document) TableName() string { return "documents" }

// timeLayout is fixed-width so JSONB string comparison orders timestamps correctly.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

var fieldRe = regexp.MustCompile(`^[A-Za-z0-9_]+$`)

// maxTxAttempts bounds how often a transaction is replayed after a serialization failure.
const maxTxAttempts = 5

type DocumentStore struct {
	db  *gorm.DB
	now func() time.Time
}

func NewDocumentStore(db *gorm.DB) *DocumentStore {
	return &DocumentStore{db: db, now: time.Now}
}

func (s *DocumentStore) Migrate() error {
	if err := s.db.AutoMigrate(&document{}); err != nil {
		return errors.Wrap(err, "migrate documents")
	}
	s.ensureDataIndex()
	return nil
}

// ensureDataIndex is best effort; filters still work without it, only slower.
func (s *DocumentStore) ensureDataIndex() bool {
	if err := s.db.Exec("CREATE INDEX IF NOT EXISTS idx_documents_data_gin ON documents USING gin (data)").Error; err != nil {
		zlog.Warn().Err(err).Msg("postgres: gin index on documents.data not created")
		return false
	}
	return true
}

func (s *DocumentStore) Query(ctx context.Context, q domain.Query) ([]domain.Doc, error) {
	db, err := applyQuery(s.db.WithContext(ctx), q)
	if err != nil {
		return nil, err
	}
	var rows []document
	if err := db.Find(&rows).Error; err != nil {
		return nil, domain.Remote("postgres.query "+q.Collection, err)
	}
	docs := make([]domain.Doc, 0, len(rows))
	for _, r := range rows {
		d, err := decode(r)
		if err != nil {
			return nil, err
		}
		docs = append(docs, d)
	}
	if q.StartAfter != "" {
		docs = startAfter(docs, q.StartAfter, q.Limit)
	}
	return docs, nil
}

func (s *DocumentStore) Get(ctx context.Context, collection, id string) (*domain.Doc, error) {
	return getDoc(s.db.WithContext(ctx), collection, id, false)
}

func (s *DocumentStore) Add(ctx context.Context, collection string, data map[string]any) (string, error) {
	id := uuid.NewString()
	if err := s.Set(ctx, collection, id, data); err != nil {
		return "", err
	}
	return id, nil
}

func (s *DocumentStore) Set(ctx context.Context, collection, id string, data map[string]any) error {
	return setDoc(s.db.WithContext(ctx), collection, id, data, s.now())
}

func (s *DocumentStore) Update(ctx context.Context, collection, id string, data map[string]any) error {
	return updateDoc(s.db.WithContext(ctx), collection, id, data, s.now())
}

func (s *DocumentStore) Delete(ctx context.Context, collection, id string) error {
	err := s.db.WithContext(ctx).Where("collection = ? AND id = ?", collection, id).Delete(&document{}).Error
	if err != nil {
		return domain.Remote("postgres.delete "+collection+"/"+id, err)
	}
	return nil
}

// RunTransaction runs fn at SERIALIZABLE isolation, so reading an absent row
// conflicts with a concurrent insert of it. fn is replayed on serialization
// failures the way Firestore retries contended transactions.
func (s *DocumentStore) RunTransaction(ctx context.Context, fn func(ctx context.Context, tx domain.Tx) error) error {
	err := retrySerializable(ctx, maxTxAttempts, func() error {
		return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			return fn(ctx, &txn{db: tx, now: s.now()})
		}, &sql.TxOptions{Isolation: sql.LevelSerializable})
	})
	if err == nil {
		return nil
	}
	for _, known := range []error{domain.ErrValidation, domain.ErrNotFound, domain.ErrRemoteUnavailable} {
		if errors.Is(err, known) {
			return err
		}
	}
	return domain.Remote("postgres.transaction", err)
}

func retrySerializable(ctx context.Context, attempts int, run func() error) error {
	var err error
	for i := 1; i <= attempts; i++ {
		if err = run(); !isSerializationFailure(err) {
			return err
		}
		if ctx.Err() != nil {
			return err
		}
		zlog.Debug().Int("attempt", i).Err(err).Msg("postgres: transaction conflict, retrying")
	}
	return err
}

// isSerializationFailure reports SQLSTATE 40001 and deadlocks (40P01).
func isSerializationFailure(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == "40001" || pgErr.Code == "40P01"
}

type txn struct {
	db  *gorm.DB
	now time.Time
}

func (t *txn) Get(collection, id string) (*domain.Doc, error) {
	return getDoc(t.db, collection, id, true)
}

func (t *txn) Set(collection, id string, data map[string]any) error {
	return setDoc(t.db, collection, id, data, t.now)
}

func (t *txn) Update(collection, id string, data map[string]any) error {
	return updateDoc(t.db, collection, id, data, t.now)
}

func (t *txn) Delete(collection, id string) error {
	if err := t.db.Where("collection = ? AND id = ?", collection, id).Delete(&document{}).Error; err != nil {
		return domain.Remote("postgres.tx.delete", err)
	}
	return nil
}

func (t *txn) NewID(string) string { return uuid.NewString() }

func applyQuery(db *gorm.DB, q domain.Query) (*gorm.DB, error) {
	db = db.Model(&document{}).Where("collection = ?", q.Collection)
	for _, f := range q.Filters {
		if !fieldRe.MatchString(f.Field) {
			return nil, domain.Invalid("filter", fmt.Sprintf("unsupported field %q", f.Field))
		}
		switch f.Op {
		case domain.OpArrayContains:
			lit, err := jsonLiteral([]any{f.Value})
			if err != nil {
				return nil, err
			}
			db = db.Where("data -> ? @> ?::jsonb", f.Field, lit)
		case domain.OpEqual, domain.OpLess, domain.OpLessEqual, domain.OpGreater, domain.OpGreaterEqual:
			op := string(f.Op)
			if f.Op == domain.OpEqual {
				op = "="
			}
			lit, err := jsonLiteral(f.Value)
			if err != nil {
				return nil, err
			}
			db = db.Where(fmt.Sprintf("data -> ? %s ?::jsonb", op), f.Field, lit)
		default:
			return nil, domain.Invalid("filter", fmt.Sprintf("unsupported operator %q", f.Op))
		}
	}
	for _, o := range q.OrderBy {
		if !fieldRe.MatchString(o.Field) {
			return nil, domain.Invalid("orderBy", fmt.Sprintf("unsupported field %q", o.Field))
		}
		dir := "asc"
		if o.Desc {
			dir = "desc"
		}
		db = db.Order(fmt.Sprintf("data -> '%s' %s", o.Field, dir))
	}
	db = db.Order("id asc")
	if q.Limit > 0 && q.StartAfter == "" {
		db = db.Limit(q.Limit)
	}
	return db, nil
}

// startAfter pages in memory; cursors are rare (admin listings) and catalogs are small.
func startAfter(docs []domain.Doc, id string, limit int) []domain.Doc {
	for i, d := range docs {
		if d.ID == id {
			docs = docs[i+1:]
			if limit > 0 && len(docs) > limit {
				docs = docs[:limit]
			}
			return docs
		}
	}
	return []domain.Doc{}
}

func getDoc(db *gorm.DB, collection, id string, lock bool) (*domain.Doc, error) {
	var row document
	if lock {
		db = db.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	if err := db.First(&row, "collection = ? AND id = ?", collection, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errors.Wrapf(domain.ErrNotFound, "%s/%s", collection, id)
		}
		return nil, domain.Remote("postgres.get "+collection+"/"+id, err)
	}
	d, err := decode(row)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func setDoc(db *gorm.DB, collection, id string, data map[string]any, now time.Time) error {
	payload, err := json.Marshal(normalize(data, now))
	if err != nil {
		return errors.Wrap(err, "encode document")
	}
	row := document{Collection: collection, ID: id, Data: payload, CreatedAt: now, UpdatedAt: now}
	err = db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "collection"}, {Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"data", "updated_at"}),
	}).Create(&row).Error
	if err != nil {
		return domain.Remote("postgres.set "+collection+"/"+id, err)
	}
	return nil
}

func updateDoc(db *gorm.DB, collection, id string, data map[string]any, now time.Time) error {
	payload, err := json.Marshal(normalize(data, now))
	if err != nil {
		return errors.Wrap(err, "encode document")
	}
	res := db.Model(&document{}).
		Where("collection = ? AND id = ?", collection, id).
		Updates(map[string]any{"data": gorm.Expr("data || ?::jsonb", string(payload)), "updated_at": now})
	if res.Error != nil {
		return domain.Remote("postgres.update "+collection+"/"+id, res.Error)
	}
	if res.RowsAffected == 0 {
		return errors.Wrapf(domain.ErrNotFound, "%s/%s", collection, id)
	}
	return nil
}

func decode(row document) (domain.Doc, error) {
	var data map[string]any
	if err := json.Unmarshal(row.Data, &data); err != nil {
		return domain.Doc{}, errors.Wrapf(err, "decode document %s/%s", row.Collection, row.ID)
	}
	return domain.Doc{ID: row.ID, Data: data}, nil
}

func jsonLiteral(v any) (string, error) {
	b, err := json.Marshal(normalizeValue(v, time.Time{}))
	if err != nil {
		return "", errors.Wrap(err, "encode filter value")
	}
	return string(b), nil
}

func normalize(data map[string]any, now time.Time) map[string]any {
	out := make(map[string]any, len(data))
	for k, v := range data {
		out[k] = normalizeValue(v, now)
	}
	return out
}

func normalizeValue(v any, now time.Time) any {
	switch t := v.(type) {
	case time.Time:
		return t.UTC().Format(timeLayout)
	case map[string]any:
		return normalize(t, now)
	case []map[string]any:
		out := make([]any, len(t))
		for i, m := range t {
			out[i] = normalize(m, now)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, x := range t {
			out[i] = normalizeValue(x, now)
		}
		return out
	}
	if domain.IsServerTimestamp(v) {
		return now.UTC().Format(timeLayout)
	}
	return v
}
