package repository

import (
	"context"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/sketchdev/wrestler/internal/codec"
	"github.com/sketchdev/wrestler/internal/model"
)

// MemoryDocumentRepo はプロセス内メモリを使用したドキュメントストア。
// IDは "_id" キーで保持し、codec.DocumentMapperで "id" と相互変換する。
// トランザクションはストア全体のコピーに対して実行し、成功時に差し替える。
type MemoryDocumentRepo struct {
	mu   sync.Mutex
	data *memoryData
}

// NewMemoryDocumentRepo はMemoryDocumentRepoを生成する。
func NewMemoryDocumentRepo() *MemoryDocumentRepo {
	return &MemoryDocumentRepo{data: newMemoryData()}
}

// Kind はドライバの種類を返す。
func (r *MemoryDocumentRepo) Kind() Kind {
	return KindDocument
}

// FindOne はfilterに一致する最初のドキュメントを返す。見つからない場合はnilを返す。
func (r *MemoryDocumentRepo) FindOne(ctx context.Context, resource string, filter model.Filter, projection []string) (model.Document, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.data.findOne(resource, filter, projection), nil
}

// Find はfilterに一致するドキュメントをoptsに従って返す。
func (r *MemoryDocumentRepo) Find(ctx context.Context, resource string, filter model.Filter, projection []string, opts FindOptions) ([]model.Document, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.data.find(resource, filter, projection, opts), nil
}

// InsertOne はドキュメントを挿入し、IDが採番されたドキュメントを返す。
func (r *MemoryDocumentRepo) InsertOne(ctx context.Context, resource string, doc model.Document) (model.Document, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.data.insertOne(resource, doc), nil
}

// FindOneAndReplace はfilterに一致する最初のドキュメントを完全に置き換える。
func (r *MemoryDocumentRepo) FindOneAndReplace(ctx context.Context, resource string, filter model.Filter, doc model.Document) (model.Document, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.data.findOneAndModify(resource, filter, doc, true), nil
}

// FindOneAndUpdate はfilterに一致する最初のドキュメントにdocをマージする。
func (r *MemoryDocumentRepo) FindOneAndUpdate(ctx context.Context, resource string, filter model.Filter, doc model.Document) (model.Document, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.data.findOneAndModify(resource, filter, doc, false), nil
}

// DeleteOne はfilterに一致する最初のドキュメントを削除する。
func (r *MemoryDocumentRepo) DeleteOne(ctx context.Context, resource string, filter model.Filter) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.data.deleteOne(resource, filter), nil
}

// CountBy はfilterに一致するドキュメント数を返す。
func (r *MemoryDocumentRepo) CountBy(ctx context.Context, resource string, filter model.Filter) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.data.count(resource, filter), nil
}

// WithTransaction はストアのコピーに対してfnを実行し、成功した場合のみ反映する。
// 実行中はストア全体をロックするため、トランザクションは直列化される。
func (r *MemoryDocumentRepo) WithTransaction(ctx context.Context, fn func(ctx context.Context, tx DocumentStore) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	snapshot := r.data.clone()
	if err := fn(ctx, &memoryTx{data: snapshot}); err != nil {
		return err
	}
	r.data = snapshot
	return nil
}

// DropCollections は指定リソースのドキュメントをすべて削除する。
func (r *MemoryDocumentRepo) DropCollections(ctx context.Context, names ...string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.data.drop(names...)
	return nil
}

// Ping は常に成功する。
func (r *MemoryDocumentRepo) Ping(ctx context.Context) error {
	return nil
}

// memoryTx はトランザクション中のストアのコピー。ロックは外側が保持している。
type memoryTx struct {
	data *memoryData
}

func (t *memoryTx) FindOne(ctx context.Context, resource string, filter model.Filter, projection []string) (model.Document, error) {
	return t.data.findOne(resource, filter, projection), nil
}

func (t *memoryTx) Find(ctx context.Context, resource string, filter model.Filter, projection []string, opts FindOptions) ([]model.Document, error) {
	return t.data.find(resource, filter, projection, opts), nil
}

func (t *memoryTx) InsertOne(ctx context.Context, resource string, doc model.Document) (model.Document, error) {
	return t.data.insertOne(resource, doc), nil
}

func (t *memoryTx) FindOneAndReplace(ctx context.Context, resource string, filter model.Filter, doc model.Document) (model.Document, error) {
	return t.data.findOneAndModify(resource, filter, doc, true), nil
}

func (t *memoryTx) FindOneAndUpdate(ctx context.Context, resource string, filter model.Filter, doc model.Document) (model.Document, error) {
	return t.data.findOneAndModify(resource, filter, doc, false), nil
}

func (t *memoryTx) DeleteOne(ctx context.Context, resource string, filter model.Filter) (bool, error) {
	return t.data.deleteOne(resource, filter), nil
}

func (t *memoryTx) CountBy(ctx context.Context, resource string, filter model.Filter) (int, error) {
	return t.data.count(resource, filter), nil
}

// WithTransaction はネストしたトランザクションを外側のトランザクションに合流させる。
func (t *memoryTx) WithTransaction(ctx context.Context, fn func(ctx context.Context, tx DocumentStore) error) error {
	return fn(ctx, t)
}

func (t *memoryTx) DropCollections(ctx context.Context, names ...string) error {
	t.data.drop(names...)
	return nil
}

func (t *memoryTx) Ping(ctx context.Context) error {
	return nil
}

// memoryCollection は1リソース分のドキュメントを挿入順に保持する。
type memoryCollection struct {
	docs  map[string]model.Document
	order []string
}

// memoryData はロックを持たないストア本体。
type memoryData struct {
	collections map[string]*memoryCollection
}

func newMemoryData() *memoryData {
	return &memoryData{collections: make(map[string]*memoryCollection)}
}

func (d *memoryData) clone() *memoryData {
	out := newMemoryData()
	for name, c := range d.collections {
		cc := &memoryCollection{
			docs:  make(map[string]model.Document, len(c.docs)),
			order: append([]string(nil), c.order...),
		}
		for id, doc := range c.docs {
			cc.docs[id] = doc.Clone()
		}
		out.collections[name] = cc
	}
	return out
}

func (d *memoryData) collection(resource string) *memoryCollection {
	c, ok := d.collections[resource]
	if !ok {
		c = &memoryCollection{docs: make(map[string]model.Document)}
		d.collections[resource] = c
	}
	return c
}

// matching は挿入順にfilterに一致するドキュメントを返す（ストレージ表現のまま）。
func (d *memoryData) matching(resource string, filter model.Filter) []model.Document {
	c, ok := d.collections[resource]
	if !ok {
		return nil
	}
	native := codec.DocumentMapper.FilterIn(filter)
	var out []model.Document
	for _, id := range c.order {
		doc := c.docs[id]
		if matchesFilter(doc, native) {
			out = append(out, doc)
		}
	}
	return out
}

func (d *memoryData) findOne(resource string, filter model.Filter, projection []string) model.Document {
	docs := d.matching(resource, filter)
	if len(docs) == 0 {
		return nil
	}
	return codec.Project(codec.DocumentMapper.DocOut(docs[0]), projection)
}

func (d *memoryData) find(resource string, filter model.Filter, projection []string, opts FindOptions) []model.Document {
	docs := d.matching(resource, filter)

	if len(opts.Sort) > 0 {
		sort.SliceStable(docs, func(i, j int) bool {
			for _, s := range opts.Sort {
				field := codec.DocumentMapper.Field(s.Field)
				c := compareValues(docs[i][field], docs[j][field])
				if c == 0 {
					continue
				}
				if s.Desc {
					return c > 0
				}
				return c < 0
			}
			return false
		})
	}

	if opts.Skip > 0 {
		if opts.Skip >= len(docs) {
			docs = nil
		} else {
			docs = docs[opts.Skip:]
		}
	}
	if opts.Limit > 0 && len(docs) > opts.Limit {
		docs = docs[:opts.Limit]
	}

	out := make([]model.Document, 0, len(docs))
	for _, doc := range docs {
		out = append(out, codec.Project(codec.DocumentMapper.DocOut(doc), projection))
	}
	return out
}

func (d *memoryData) insertOne(resource string, doc model.Document) model.Document {
	c := d.collection(resource)
	stored := codec.DocumentMapper.DocIn(doc)
	id := uuid.NewString()
	stored[codec.NativeIDField] = id
	c.docs[id] = stored
	c.order = append(c.order, id)
	return codec.DocumentMapper.DocOut(stored)
}

func (d *memoryData) findOneAndModify(resource string, filter model.Filter, doc model.Document, replace bool) model.Document {
	docs := d.matching(resource, filter)
	if len(docs) == 0 {
		return nil
	}
	current := docs[0]
	id, _ := current[codec.NativeIDField].(string)

	incoming := codec.DocumentMapper.DocIn(doc)
	delete(incoming, codec.NativeIDField)

	var next model.Document
	if replace {
		next = incoming
	} else {
		next = current.Clone()
		for k, v := range incoming {
			next[k] = v
		}
	}
	next[codec.NativeIDField] = id

	d.collections[resource].docs[id] = next
	return codec.DocumentMapper.DocOut(next)
}

func (d *memoryData) deleteOne(resource string, filter model.Filter) bool {
	docs := d.matching(resource, filter)
	if len(docs) == 0 {
		return false
	}
	id, _ := docs[0][codec.NativeIDField].(string)
	c := d.collections[resource]
	delete(c.docs, id)
	for i, oid := range c.order {
		if oid == id {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
	return true
}

func (d *memoryData) count(resource string, filter model.Filter) int {
	return len(d.matching(resource, filter))
}

func (d *memoryData) drop(names ...string) {
	for _, name := range names {
		delete(d.collections, name)
	}
}

// matchesFilter はドキュメントがすべての等値条件を満たすかを返す。
func matchesFilter(doc model.Document, filter model.Filter) bool {
	for k, want := range filter {
		if !valuesEqual(doc[k], want) {
			return false
		}
	}
	return true
}

// valuesEqual は等値比較を行う。クエリ文字列由来の文字列条件は
// 数値・真偽値のフィールドとも文字列表現で比較する。
func valuesEqual(got, want any) bool {
	if got == nil || want == nil {
		return got == nil && want == nil
	}
	if reflect.DeepEqual(got, want) {
		return true
	}
	_, gotIsString := got.(string)
	_, wantIsString := want.(string)
	if gotIsString || wantIsString {
		return fmt.Sprint(got) == fmt.Sprint(want)
	}
	gf, gok := toFloat(got)
	wf, wok := toFloat(want)
	return gok && wok && gf == wf
}

// compareValues は2値を比較する。nilは常に最小として扱う。
func compareValues(a, b any) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return -1
	case b == nil:
		return 1
	}

	if af, ok := toFloat(a); ok {
		if bf, ok := toFloat(b); ok {
			switch {
			case af < bf:
				return -1
			case af > bf:
				return 1
			default:
				return 0
			}
		}
	}

	if ab, ok := a.(bool); ok {
		if bb, ok := b.(bool); ok {
			switch {
			case ab == bb:
				return 0
			case !ab:
				return -1
			default:
				return 1
			}
		}
	}

	return strings.Compare(fmt.Sprint(a), fmt.Sprint(b))
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	default:
		return 0, false
	}
}

// compile-time interface check
var (
	_ DocumentStore = (*MemoryDocumentRepo)(nil)
	_ DocumentStore = (*memoryTx)(nil)
)
