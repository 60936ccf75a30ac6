// Package repository はデータ永続化のインターフェースと実装を提供する。
//
// DocumentStore はリソース名で区切られたドキュメント集合に対する
// 汎用CRUDを提供する。IDのネイティブ表現はドライバだけが知っており、
// コアからは不透明な文字列として扱われる。
package repository

import (
	"context"

	"github.com/sketchdev/wrestler/internal/model"
)

// SortField は1つのソートキーを表す。
type SortField struct {
	Field string
	Desc  bool
}

// FindOptions は一覧取得時のソート・件数・オフセット。
// Limitが0の場合は件数制限なし。
type FindOptions struct {
	Sort  []SortField
	Limit int
	Skip  int
}

// DocumentStore はストレージドライバが満たすべきインターフェース。
type DocumentStore interface {
	// FindOne はfilterに一致する最初のドキュメントを返す。見つからない場合はnilを返す。
	FindOne(ctx context.Context, resource string, filter model.Filter, projection []string) (model.Document, error)

	// Find はfilterに一致するドキュメントをoptsに従って返す。
	Find(ctx context.Context, resource string, filter model.Filter, projection []string, opts FindOptions) ([]model.Document, error)

	// InsertOne はドキュメントを挿入し、IDが採番されたドキュメントを返す。
	InsertOne(ctx context.Context, resource string, doc model.Document) (model.Document, error)

	// FindOneAndReplace はfilterに一致する最初のドキュメントを置き換える。
	// 見つからない場合はnilを返す。リレーショナルドライバでは更新に縮退する。
	FindOneAndReplace(ctx context.Context, resource string, filter model.Filter, doc model.Document) (model.Document, error)

	// FindOneAndUpdate はfilterに一致する最初のドキュメントにdocのフィールドをマージする。
	// 見つからない場合はnilを返す。
	FindOneAndUpdate(ctx context.Context, resource string, filter model.Filter, doc model.Document) (model.Document, error)

	// DeleteOne はfilterに一致する最初のドキュメントを削除する。削除した場合はtrueを返す。
	DeleteOne(ctx context.Context, resource string, filter model.Filter) (bool, error)

	// CountBy はfilterに一致するドキュメント数を返す。
	CountBy(ctx context.Context, resource string, filter model.Filter) (int, error)

	// WithTransaction はfnを単一トランザクションで実行する。
	// fnがエラーを返した場合、fn内の変更はすべて破棄される。
	// fnには必ず引数のtxを使ってアクセスすること。
	WithTransaction(ctx context.Context, fn func(ctx context.Context, tx DocumentStore) error) error

	// DropCollections は指定リソースのドキュメントをすべて削除する。テスト・初期化用。
	DropCollections(ctx context.Context, names ...string) error

	// Ping はストレージへの疎通を確認する。
	Ping(ctx context.Context) error
}

// Kind はドライバの種類を表す。PUTの意味論はドライバの種類で異なる。
type Kind string

const (
	// KindDocument はドキュメントストア。PUTは完全な置き換えになる。
	KindDocument Kind = "document"
	// KindRelational はリレーショナルストア。PUTは更新（マージ）に縮退する。
	KindRelational Kind = "relational"
)
