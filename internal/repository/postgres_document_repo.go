package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/sketchdev/wrestler/internal/codec"
	"github.com/sketchdev/wrestler/internal/model"
)

// queryer は*sql.DBと*sql.Txの共通メソッド。
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// PostgresDocumentRepo はPostgreSQLのjsonbカラムにドキュメントを保存するストア。
// すべてのリソースを documents テーブル1つに (collection, id) をキーとして格納する。
// IDはUUIDで、DB側で採番される。
type PostgresDocumentRepo struct {
	db   *sql.DB
	q    queryer
	inTx bool
}

// NewPostgresDocumentRepo はPostgresDocumentRepoを生成する。
func NewPostgresDocumentRepo(db *sql.DB) *PostgresDocumentRepo {
	return &PostgresDocumentRepo{db: db, q: db}
}

// Kind はドライバの種類を返す。
func (r *PostgresDocumentRepo) Kind() Kind {
	return KindRelational
}

// FindOne はfilterに一致する最初のドキュメントを返す。見つからない場合はnilを返す。
func (r *PostgresDocumentRepo) FindOne(ctx context.Context, resource string, filter model.Filter, projection []string) (model.Document, error) {
	docs, err := r.Find(ctx, resource, filter, projection, FindOptions{Limit: 1})
	if err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return nil, nil
	}
	return docs[0], nil
}

// Find はfilterに一致するドキュメントをoptsに従って返す。
func (r *PostgresDocumentRepo) Find(ctx context.Context, resource string, filter model.Filter, projection []string, opts FindOptions) ([]model.Document, error) {
	query, args, ok := buildSelectQuery(resource, filter, opts)
	if !ok {
		return []model.Document{}, nil
	}

	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to find documents: %w", err)
	}
	defer rows.Close()

	docs := []model.Document{}
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, codec.Project(doc, projection))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate documents: %w", err)
	}

	return docs, nil
}

// InsertOne はドキュメントを挿入し、IDが採番されたドキュメントを返す。
func (r *PostgresDocumentRepo) InsertOne(ctx context.Context, resource string, doc model.Document) (model.Document, error) {
	data, err := encodeData(doc)
	if err != nil {
		return nil, err
	}

	row := r.q.QueryRowContext(ctx,
		`INSERT INTO documents (collection, data) VALUES ($1, $2::jsonb) RETURNING id, data`,
		resource, data,
	)
	inserted, err := scanDocument(row)
	if err != nil {
		return nil, fmt.Errorf("failed to insert document: %w", err)
	}

	return inserted, nil
}

// FindOneAndReplace は固定スキーマ上では置き換えが定義できないため、更新として扱う。
func (r *PostgresDocumentRepo) FindOneAndReplace(ctx context.Context, resource string, filter model.Filter, doc model.Document) (model.Document, error) {
	return r.FindOneAndUpdate(ctx, resource, filter, doc)
}

// FindOneAndUpdate はfilterに一致する最初のドキュメントにdocのフィールドをマージする。
func (r *PostgresDocumentRepo) FindOneAndUpdate(ctx context.Context, resource string, filter model.Filter, doc model.Document) (model.Document, error) {
	data, err := encodeData(doc)
	if err != nil {
		return nil, err
	}

	query, args, ok := buildUpdateQuery(resource, filter, data)
	if !ok {
		return nil, nil
	}

	updated, err := scanDocument(r.q.QueryRowContext(ctx, query, args...))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update document: %w", err)
	}

	return updated, nil
}

// DeleteOne はfilterに一致する最初のドキュメントを削除する。
func (r *PostgresDocumentRepo) DeleteOne(ctx context.Context, resource string, filter model.Filter) (bool, error) {
	query, args, ok := buildDeleteQuery(resource, filter)
	if !ok {
		return false, nil
	}

	result, err := r.q.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("failed to delete document: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return rows > 0, nil
}

// CountBy はfilterに一致するドキュメント数を返す。
func (r *PostgresDocumentRepo) CountBy(ctx context.Context, resource string, filter model.Filter) (int, error) {
	where, args, ok := buildWhere(resource, filter)
	if !ok {
		return 0, nil
	}

	var count int
	err := r.q.QueryRowContext(ctx, `SELECT count(*) FROM documents WHERE `+where, args...).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count documents: %w", err)
	}

	return count, nil
}

// WithTransaction はfnを単一トランザクションで実行する。
// すでにトランザクション内の場合は外側のトランザクションに合流する。
func (r *PostgresDocumentRepo) WithTransaction(ctx context.Context, fn func(ctx context.Context, tx DocumentStore) error) error {
	if r.inTx {
		return fn(ctx, r)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(ctx, &PostgresDocumentRepo{db: r.db, q: tx, inTx: true}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// DropCollections は指定リソースのドキュメントをすべて削除する。
func (r *PostgresDocumentRepo) DropCollections(ctx context.Context, names ...string) error {
	if len(names) == 0 {
		return nil
	}

	_, err := r.q.ExecContext(ctx, `DELETE FROM documents WHERE collection = ANY($1)`, pq.Array(names))
	if err != nil {
		return fmt.Errorf("failed to drop collections: %w", err)
	}

	return nil
}

// Ping はデータベースへの疎通を確認する。
func (r *PostgresDocumentRepo) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// rowScanner は*sql.Rowと*sql.Rowsの共通メソッド。
type rowScanner interface {
	Scan(dest ...any) error
}

// scanDocument は (id, data) の行をドキュメントに変換する。
func scanDocument(row rowScanner) (model.Document, error) {
	var id string
	var data []byte
	if err := row.Scan(&id, &data); err != nil {
		return nil, err
	}

	doc := model.Document{}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to decode document %s: %w", id, err)
	}
	doc[model.FieldID] = id

	return doc, nil
}

// encodeData はIDを除いたドキュメントをjsonbに渡す文字列に変換する。
func encodeData(doc model.Document) (string, error) {
	b, err := json.Marshal(doc.Without(model.FieldID))
	if err != nil {
		return "", fmt.Errorf("failed to encode document: %w", err)
	}
	return string(b), nil
}

// queryBuilder はプレースホルダ番号を管理しながら引数を積み上げる。
type queryBuilder struct {
	args []any
}

func (b *queryBuilder) arg(v any) string {
	b.args = append(b.args, v)
	return "$" + strconv.Itoa(len(b.args))
}

// where はcollectionとfilterの等値条件をANDで連結したWHERE句の本体を返す。
// idがUUIDとして不正な場合は一致するドキュメントが存在しないためokはfalseになる。
func (b *queryBuilder) where(resource string, filter model.Filter) (string, bool) {
	conds := []string{"collection = " + b.arg(resource)}

	keys := make([]string, 0, len(filter))
	for k := range filter {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		v := filter[k]

		if k == model.FieldID || k == codec.NativeIDField {
			id, err := uuid.Parse(fmt.Sprint(v))
			if err != nil {
				return "", false
			}
			conds = append(conds, "id = "+b.arg(id.String()))
			continue
		}

		switch val := v.(type) {
		case nil:
			conds = append(conds, "data->>"+b.arg(k)+" IS NULL")
		case map[string]any, model.Document, []any:
			encoded, err := json.Marshal(val)
			if err != nil {
				return "", false
			}
			conds = append(conds, "data->"+b.arg(k)+" = "+b.arg(string(encoded))+"::jsonb")
		default:
			conds = append(conds, "data->>"+b.arg(k)+" = "+b.arg(fmt.Sprint(val)))
		}
	}

	return strings.Join(conds, " AND "), true
}

func (b *queryBuilder) orderBy(sortFields []SortField) string {
	if len(sortFields) == 0 {
		return ""
	}
	parts := make([]string, 0, len(sortFields))
	for _, s := range sortFields {
		expr := "id"
		if s.Field != model.FieldID {
			expr = "data->" + b.arg(s.Field)
		}
		if s.Desc {
			expr += " DESC"
		} else {
			expr += " ASC"
		}
		parts = append(parts, expr)
	}
	return " ORDER BY " + strings.Join(parts, ", ")
}

// buildWhere はWHERE句の本体と引数を返す。
func buildWhere(resource string, filter model.Filter) (string, []any, bool) {
	b := &queryBuilder{}
	where, ok := b.where(resource, filter)
	return where, b.args, ok
}

// buildSelectQuery は一覧取得のSELECT文を組み立てる。
func buildSelectQuery(resource string, filter model.Filter, opts FindOptions) (string, []any, bool) {
	b := &queryBuilder{}
	where, ok := b.where(resource, filter)
	if !ok {
		return "", nil, false
	}

	query := "SELECT id, data FROM documents WHERE " + where + b.orderBy(opts.Sort)
	if opts.Limit > 0 {
		query += " LIMIT " + b.arg(opts.Limit)
	}
	if opts.Skip > 0 {
		query += " OFFSET " + b.arg(opts.Skip)
	}

	return query, b.args, true
}

// buildUpdateQuery はfilterに一致する最初の1件にdataをマージするUPDATE文を組み立てる。
func buildUpdateQuery(resource string, filter model.Filter, data string) (string, []any, bool) {
	b := &queryBuilder{}
	where, ok := b.where(resource, filter)
	if !ok {
		return "", nil, false
	}

	query := "UPDATE documents SET data = data || " + b.arg(data) + "::jsonb" +
		" WHERE collection = $1 AND id = (SELECT id FROM documents WHERE " + where + " LIMIT 1)" +
		" RETURNING id, data"

	return query, b.args, true
}

// buildDeleteQuery はfilterに一致する最初の1件を削除するDELETE文を組み立てる。
func buildDeleteQuery(resource string, filter model.Filter) (string, []any, bool) {
	b := &queryBuilder{}
	where, ok := b.where(resource, filter)
	if !ok {
		return "", nil, false
	}

	query := "DELETE FROM documents WHERE collection = $1 AND id = (SELECT id FROM documents WHERE " + where + " LIMIT 1)"

	return query, b.args, true
}

// compile-time interface check
var _ DocumentStore = (*PostgresDocumentRepo)(nil)
